// Package app wires configuration, storage, origins and the extension
// manager into a runnable application.
package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/vvf/internal/config"
	"github.com/mantonx/vvf/internal/database"
	"github.com/mantonx/vvf/internal/events"
	"github.com/mantonx/vvf/internal/icons"
	"github.com/mantonx/vvf/internal/metrics"
	"github.com/mantonx/vvf/internal/modules/pluginmodule"
	"github.com/mantonx/vvf/internal/origins/builtin"
	"github.com/mantonx/vvf/internal/origins/installed"
	"github.com/mantonx/vvf/internal/origins/remote"
	"github.com/mantonx/vvf/internal/origins/sideload"
	"github.com/mantonx/vvf/internal/plugins/bootstrap"
	"github.com/mantonx/vvf/internal/plugins/localsubs"
	"github.com/mantonx/vvf/internal/server"
	"github.com/mantonx/vvf/internal/store"
	"github.com/mantonx/vvf/internal/updates"
	"github.com/mantonx/vvf/internal/utils"
	plugins "github.com/mantonx/vvf/sdk"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// App holds every long lived component.
type App struct {
	Config   *config.Config
	Logger   hclog.Logger
	DB       *gorm.DB
	Store    store.KeyValueStore
	Metrics  *metrics.Metrics
	Events   *events.Bus[events.Event]
	HTTP     *http.Client
	Launcher *installed.Launcher
	Manager  *pluginmodule.Manager
	Icons    *icons.Cache
	Updates  *updates.Checker

	updateCron *cron.Cron
}

// New builds the application from cfg. Nothing is scanned until Start.
func New(ctx context.Context, cfg *config.Config, logger hclog.Logger) (*App, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	a := &App{Config: cfg, Logger: logger}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	a.DB = db

	kv, err := store.Open(ctx, store.Options{
		Backend:  cfg.Store.Backend,
		RedisURL: cfg.Store.RedisURL,
		Prefix:   cfg.Store.Prefix,
	}, db)
	if err != nil {
		a.closeDB()
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
	}
	a.Store = kv

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
	}
	a.Events = events.NewBus[events.Event]()
	events.SetGlobalEventBus(a.Events)

	a.HTTP = utils.NewHTTPClient(utils.HTTPClientOptions{
		Timeout:   cfg.Plugins.HTTPTimeout,
		RetryMax:  cfg.Plugins.HTTPRetries,
		Logger:    logger,
		UserAgent: "vvf",
	})

	kinds := plugins.AllKinds
	if len(cfg.Extensions.Kinds) > 0 {
		kinds, err = plugins.ParseCapabilityKinds(cfg.Extensions.Kinds)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("invalid extensions.kinds: %w", err)
		}
	}

	bindings, err := a.bindings()
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.Manager, err = pluginmodule.NewManager(pluginmodule.ManagerConfig{
		Kinds:             kinds,
		Origins:           bindings,
		Store:             kv,
		PriorityNamespace: cfg.Extensions.PriorityNamespace,
		SettingsNamespace: cfg.Extensions.SettingsNamespace,
		HTTPClient:        a.HTTP,
		Preload:           cfg.Plugins.Preload,
		Workers:           cfg.Plugins.WorkerCount,
		LoadTimeout:       cfg.Plugins.StartTimeout,
		Logger:            logger,
		Metrics:           a.Metrics,
	})
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.Icons = icons.NewCache(filepath.Join(cfg.Plugins.CacheDir, "icons"), a.HTTP, logger)
	if cfg.Updates.Enabled {
		a.Updates = updates.NewChecker(cfg.Updates.APIBase, a.HTTP, logger)
	}

	if err := a.seedSettings(ctx); err != nil {
		logger.Warn("failed to seed builtin settings", "error", err)
	}
	return a, nil
}

func (a *App) bindings() ([]pluginmodule.OriginBinding, error) {
	cfg := a.Config.Plugins
	var bindings []pluginmodule.OriginBinding

	if !cfg.DisableBuiltins {
		bootstrap.LoadBuiltins()
		bindings = append(bindings, builtin.Binding(nil))
	}

	a.Launcher = installed.NewLauncher(a.Logger, a.Metrics, cfg.StartTimeout)

	packages := installed.NewSource(cfg.PackagesDir, cfg.Debounce, a.Logger)
	bindings = append(bindings, installed.Binding(packages, a.Launcher))

	sideloadSrc, err := sideload.NewSource(cfg.SideloadDir, cfg.SideloadPatterns, cfg.Debounce, a.Logger)
	if err != nil {
		return nil, err
	}
	loader := sideload.NewLoader(filepath.Join(cfg.CacheDir, "bundles"), a.Launcher, cfg.ScriptTimeout, a.Logger)
	bindings = append(bindings, sideload.Binding(sideloadSrc, loader))

	if a.Config.Remote.Enabled {
		remoteSrc, err := remote.NewSource(a.Config.Remote.IndexURL, a.Config.Remote.Schedule, a.HTTP, a.Logger)
		if err != nil {
			return nil, err
		}
		downloader := remote.NewDownloader(cfg.CacheDir, a.HTTP, loader, a.Logger)
		bindings = append(bindings, remote.Binding(remoteSrc, downloader))
	}

	if !cfg.EnableHotReload {
		for i := range bindings {
			bindings[i].Source = staticSource{bindings[i].Source}
		}
	}
	return bindings, nil
}

// seedSettings stores configured defaults for builtin extensions unless the
// user already overrode them.
func (a *App) seedSettings(ctx context.Context) error {
	dir := a.Config.Plugins.SubtitleSearchDir
	if dir == "" || a.Config.Plugins.DisableBuiltins {
		return nil
	}
	settings := a.Manager.Settings()
	_, ok, err := settings.Get(ctx, plugins.KindSubtitle, localsubs.ExtensionID, localsubs.SettingSearchDir)
	if err != nil || ok {
		return err
	}
	return settings.Set(ctx, plugins.KindSubtitle, localsubs.ExtensionID, localsubs.SettingSearchDir, dir)
}

// Start begins discovery and, when enabled, periodic update checks.
func (a *App) Start(ctx context.Context) error {
	a.Manager.Start(ctx)
	if a.Updates == nil {
		return nil
	}
	c, err := a.Updates.Schedule(a.Config.Updates.Schedule, a.Manager.KnownMetadata)
	if err != nil {
		return err
	}
	a.updateCron = c
	return nil
}

// Server builds the HTTP server over the application.
func (a *App) Server() (*server.Server, error) {
	metricsPath := ""
	if a.Config.Metrics.Enabled {
		metricsPath = a.Config.Metrics.Path
	}
	return server.New(server.Options{
		Config:      a.Config.Server,
		MetricsPath: metricsPath,
		Manager:     a.Manager,
		DB:          a.DB,
		Icons:       a.Icons,
		Launcher:    a.Launcher,
		Updates:     a.Updates,
		Metrics:     a.Metrics,
		Logger:      a.Logger,
	})
}

// Close stops everything New and Start created.
func (a *App) Close(ctx context.Context) error {
	var firstErr error
	if a.updateCron != nil {
		<-a.updateCron.Stop().Done()
	}
	if a.Manager != nil {
		if err := a.Manager.Shutdown(ctx); err != nil {
			firstErr = err
		}
	} else if a.Launcher != nil {
		a.Launcher.Close()
	}
	if c, ok := a.Store.(io.Closer); ok {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closeDB()
	if a.Events != nil {
		events.SetGlobalEventBus(nil)
		a.Events.Close()
	}
	return firstErr
}

func (a *App) closeDB() {
	if a.DB == nil {
		return
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		sqlDB.Close()
	}
}

// staticSource disables change notifications of a source.
type staticSource struct {
	pluginmodule.ManifestSource
}

func (staticSource) Subscribe(func()) func() { return func() {} }
