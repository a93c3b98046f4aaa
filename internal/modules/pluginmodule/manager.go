package pluginmodule

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/vvf/internal/metrics"
	"github.com/mantonx/vvf/internal/store"
	"github.com/mantonx/vvf/internal/utils"
	plugins "github.com/mantonx/vvf/sdk"
	"golang.org/x/sync/errgroup"
)

// OriginBinding is the source, parser and instantiator triple of one origin.
type OriginBinding struct {
	Source       ManifestSource
	Parser       ManifestParser
	Instantiator PluginInstantiator
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Kinds   []plugins.CapabilityKind
	Origins []OriginBinding

	Store             store.KeyValueStore
	PriorityNamespace string
	SettingsNamespace string

	HTTPClient  *http.Client
	Preload     bool
	Workers     int
	LoadTimeout time.Duration
	ErrorBuffer int

	Logger  hclog.Logger
	Metrics *metrics.Metrics
}

// Manager owns one Runtime per capability kind, each composed from one
// Repository per origin.
type Manager struct {
	logger     hclog.Logger
	kinds      []plugins.CapabilityKind
	bindings   []OriginBinding
	repos      []*Repository
	composers  []*Composer
	runtimes   map[plugins.CapabilityKind]*Runtime
	priorities *PriorityStore
	enablement *EnablementStore
	settings   *SettingsStore

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewManager builds the repositories, composers and runtimes. Origins are
// merged in rank order whatever order they are given in.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("extension manager requires a key value store")
	}
	if cfg.PriorityNamespace == "" || cfg.SettingsNamespace == "" {
		return nil, fmt.Errorf("extension manager requires priority and settings namespaces")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	kinds := cfg.Kinds
	if len(kinds) == 0 {
		kinds = plugins.AllKinds
	}

	bindings := append([]OriginBinding(nil), cfg.Origins...)
	sort.SliceStable(bindings, func(i, j int) bool {
		return bindings[i].Source.Origin().Rank() < bindings[j].Source.Origin().Rank()
	})

	m := &Manager{
		logger:     logger.Named("extensions"),
		kinds:      kinds,
		bindings:   bindings,
		runtimes:   make(map[plugins.CapabilityKind]*Runtime, len(kinds)),
		priorities: NewPriorityStore(cfg.Store, cfg.PriorityNamespace),
		enablement: NewEnablementStore(cfg.Store, cfg.SettingsNamespace),
		settings:   NewSettingsStore(cfg.Store, cfg.SettingsNamespace),
	}

	var pool *utils.WorkerPool
	if cfg.Preload {
		pool = utils.NewWorkerPool(cfg.Workers)
	}

	for _, kind := range kinds {
		repos := make([]*Repository, 0, len(bindings))
		for _, b := range bindings {
			opts := []RepositoryOption{
				WithLogger(m.logger.Named("repository")),
				WithSettingsStore(m.settings),
				WithMetrics(cfg.Metrics),
			}
			if cfg.HTTPClient != nil {
				opts = append(opts, WithHTTPClient(cfg.HTTPClient))
			}
			if cfg.LoadTimeout > 0 {
				opts = append(opts, WithLoadTimeout(cfg.LoadTimeout))
			}
			if pool != nil {
				opts = append(opts, WithWarmUp(pool))
			}
			repos = append(repos, NewRepository(kind, b.Source, b.Parser, b.Instantiator, opts...))
		}
		m.repos = append(m.repos, repos...)

		composer := NewComposer(kind, m.logger, repos...)
		m.composers = append(m.composers, composer)

		ropts := []RuntimeOption{
			WithRuntimeLogger(m.logger.Named("runtime")),
			WithRuntimeMetrics(cfg.Metrics),
		}
		if cfg.ErrorBuffer > 0 {
			ropts = append(ropts, WithErrorBuffer(cfg.ErrorBuffer))
		}
		m.runtimes[kind] = NewRuntime(composer, m.priorities, m.enablement, ropts...)
	}

	return m, nil
}

// Kinds lists the managed kinds.
func (m *Manager) Kinds() []plugins.CapabilityKind {
	return append([]plugins.CapabilityKind(nil), m.kinds...)
}

// Runtime returns the runtime for kind.
func (m *Manager) Runtime(kind plugins.CapabilityKind) (*Runtime, error) {
	r, ok := m.runtimes[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownKind, kind)
	}
	return r, nil
}

// Settings returns the per extension settings store.
func (m *Manager) Settings() *SettingsStore {
	return m.settings
}

// KnownMetadata collects the metadata of every known extension of every
// kind, including disabled ones.
func (m *Manager) KnownMetadata(ctx context.Context) []*ExtensionMetadata {
	var metas []*ExtensionMetadata
	for _, kind := range m.kinds {
		for _, e := range m.runtimes[kind].Known(ctx) {
			metas = append(metas, e.Metadata)
		}
	}
	return metas
}

// Start begins watching every origin and runs the first scans.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.closed {
		return
	}
	m.started = true
	for _, repo := range m.repos {
		repo.Start(ctx)
	}
	m.logger.Info("extension manager started", "kinds", len(m.kinds), "origins", len(m.bindings))
}

// Refresh rescans every kind and waits for the results.
func (m *Manager) Refresh(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range m.kinds {
		rt := m.runtimes[kind]
		g.Go(func() error { return rt.Refresh(gctx) })
	}
	return g.Wait()
}

// Shutdown stops every repository and closes origins that hold resources,
// such as running extension processes.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, repo := range m.repos {
			repo.Stop()
		}
		for _, kind := range m.kinds {
			m.runtimes[kind].Close()
		}
		for _, c := range m.composers {
			c.Close()
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("extension manager shutdown: %w", ctx.Err())
	}

	var firstErr error
	seen := make(map[interface{}]bool)
	for _, b := range m.bindings {
		for _, part := range []interface{}{b.Source, b.Instantiator} {
			closer, ok := part.(io.Closer)
			if !ok || seen[part] {
				continue
			}
			seen[part] = true
			if err := closer.Close(); err != nil {
				m.logger.Warn("failed to close origin", "origin", b.Source.Name(), "error", err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	m.logger.Info("extension manager stopped")
	return firstErr
}
