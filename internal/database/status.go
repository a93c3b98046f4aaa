package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Extension states recorded by the status tracker.
const (
	StateDiscovered = "discovered"
	StateLoaded     = "loaded"
	StateFailed     = "failed"
	StateDisabled   = "disabled"
)

// RecordStatus upserts the status row for (kind, extension id).
func RecordStatus(ctx context.Context, db *gorm.DB, status ExtensionStatus) error {
	if status.Kind == "" || status.ExtensionID == "" {
		return fmt.Errorf("status requires kind and extension id")
	}
	status.UpdatedAt = time.Now()
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kind"}, {Name: "extension_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"origin", "version", "state", "last_error", "updated_at"}),
	}).Create(&status).Error
	if err != nil {
		return fmt.Errorf("failed to record status of %s/%s: %w", status.Kind, status.ExtensionID, err)
	}
	return nil
}

// ListStatuses returns every recorded status, optionally for one kind.
func ListStatuses(ctx context.Context, db *gorm.DB, kind string) ([]ExtensionStatus, error) {
	var statuses []ExtensionStatus
	q := db.WithContext(ctx).Order("kind, extension_id")
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if err := q.Find(&statuses).Error; err != nil {
		return nil, fmt.Errorf("failed to list statuses: %w", err)
	}
	return statuses, nil
}
