package database

import (
	"time"
)

// KeyValue is one entry of the generic key/value store that backs extension
// priorities, enablement flags and per-extension settings.
type KeyValue struct {
	Key       string    `gorm:"primaryKey;type:varchar(512)" json:"key"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (KeyValue) TableName() string {
	return "kv_entries"
}

// ExtensionStatus records the last observed load state of an extension.
// It is informational only; the runtime never reads it back.
type ExtensionStatus struct {
	ID          uint32    `gorm:"primaryKey" json:"id"`
	Kind        string    `gorm:"type:varchar(32);not null;uniqueIndex:idx_ext_status" json:"kind"`
	ExtensionID string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_ext_status" json:"extension_id"`
	Origin      string    `gorm:"type:varchar(32);not null" json:"origin"`
	Version     string    `json:"version"`
	State       string    `gorm:"type:varchar(16);not null" json:"state"`
	LastError   string    `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Models lists everything AutoMigrate must create.
func Models() []interface{} {
	return []interface{}{&KeyValue{}, &ExtensionStatus{}}
}
