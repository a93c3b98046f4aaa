package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/mantonx/vvf/internal/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps entries in the kv_entries table.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open, migrated database.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetString(ctx context.Context, key string) (string, bool, error) {
	var row database.KeyValue
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return row.Value, true, nil
}

func (s *GormStore) PutString(ctx context.Context, key, value string) error {
	row := database.KeyValue{Key: key, Value: value}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

func (s *GormStore) GetBool(ctx context.Context, key string) (bool, bool, error) {
	return getBool(ctx, s, key)
}

func (s *GormStore) PutBool(ctx context.Context, key string, value bool) error {
	return putBool(ctx, s, key, value)
}
