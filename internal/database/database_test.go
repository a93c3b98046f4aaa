package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mantonx/vvf/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestOpenSQLiteMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "vvf.db")
	db, err := Open(config.DatabaseConfig{Type: "sqlite", DatabasePath: path})
	require.NoError(t, err)

	assert.True(t, db.Migrator().HasTable(&KeyValue{}))
	assert.True(t, db.Migrator().HasTable(&ExtensionStatus{}))
	assert.FileExists(t, path)
}

func TestOpenRejectsUnknownType(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Type: "mysql"})
	assert.Error(t, err)
}

func TestInitializeSetsDefault(t *testing.T) {
	require.NoError(t, Initialize(config.DatabaseConfig{Type: "sqlite", DatabasePath: ":memory:"}))
	assert.NotNil(t, GetDB())
}

func createTestDB(t *testing.T) *gorm.DB {
	db, err := Open(config.DatabaseConfig{Type: "sqlite", DatabasePath: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	return db
}

func TestRecordStatusUpserts(t *testing.T) {
	db := createTestDB(t)
	ctx := context.Background()

	require.NoError(t, RecordStatus(ctx, db, ExtensionStatus{Kind: "stream", ExtensionID: "a", Origin: "builtin", State: StateDiscovered}))
	require.NoError(t, RecordStatus(ctx, db, ExtensionStatus{Kind: "stream", ExtensionID: "a", Origin: "builtin", State: StateFailed, LastError: "boom"}))
	require.NoError(t, RecordStatus(ctx, db, ExtensionStatus{Kind: "subtitle", ExtensionID: "b", Origin: "installed", State: StateLoaded}))

	all, err := ListStatuses(ctx, db, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, StateFailed, all[0].State)
	assert.Equal(t, "boom", all[0].LastError)

	streams, err := ListStatuses(ctx, db, "stream")
	require.NoError(t, err)
	assert.Len(t, streams, 1)

	assert.Error(t, RecordStatus(ctx, db, ExtensionStatus{Kind: "stream"}))
}
