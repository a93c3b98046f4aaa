package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/vvf/internal/config"
	"github.com/mantonx/vvf/internal/plugins/localsubs"
	"github.com/mantonx/vvf/internal/plugins/moviestructure"
	plugins "github.com/mantonx/vvf/sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("VVF_DATA_DIR", dir)
	t.Setenv("VVF_UPDATES_ENABLED", "false")
	t.Setenv("VVF_HOT_RELOAD", "false")
	t.Setenv("VVF_SUBTITLE_DIR", filepath.Join(dir, "subs"))

	cm := config.NewConfigManager()
	require.NoError(t, cm.LoadConfig(""))
	return cm.GetConfig()
}

func TestAppDiscoversBuiltinsAndSeedsSettings(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.Plugins.SubtitleSearchDir, 0755))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, err := New(ctx, cfg, hclog.New(&hclog.LoggerOptions{Level: hclog.Error}))
	require.NoError(t, err)
	defer a.Close(ctx)

	require.NoError(t, a.Start(ctx))
	require.NoError(t, a.Manager.Refresh(ctx))

	db, err := a.Manager.Runtime(plugins.KindDatabase)
	require.NoError(t, err)
	_, ok := db.Lookup(moviestructure.ExtensionID)
	assert.True(t, ok)

	subs, err := a.Manager.Runtime(plugins.KindSubtitle)
	require.NoError(t, err)
	e, ok := subs.Lookup(localsubs.ExtensionID)
	require.True(t, ok)

	resolved, err := a.Manager.Settings().Resolve(ctx, plugins.KindSubtitle, e.Metadata)
	require.NoError(t, err)
	assert.Equal(t, cfg.Plugins.SubtitleSearchDir, resolved[localsubs.SettingSearchDir])

	// packages and sideload dirs are created lazily and enumerate as empty
	assert.NotEmpty(t, a.Manager.KnownMetadata(ctx))

	srv, err := a.Server()
	require.NoError(t, err)
	assert.NotNil(t, srv.Handler())
}

func TestAppRejectsUnknownKind(t *testing.T) {
	cfg := testConfig(t)
	cfg.Extensions.Kinds = []string{"teleport"}

	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}
