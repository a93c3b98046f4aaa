package pluginmodule

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	apperrors "github.com/mantonx/vvf/internal/errors"
	"github.com/mantonx/vvf/internal/events"
	"github.com/mantonx/vvf/internal/metrics"
	"github.com/mantonx/vvf/internal/utils"
	plugins "github.com/mantonx/vvf/sdk"
)

// Snapshot is one published repository state. The handle slice is a copy
// owned by the receiver.
type Snapshot struct {
	Kind       plugins.CapabilityKind
	Origin     Origin
	Source     string
	Handles    []*PluginHandle
	Generation uint64
	// Stale is set when the latest scan failed and Handles are carried over
	// from the last successful one.
	Stale     bool
	Err       error
	ScannedAt time.Time
}

func (s Snapshot) clone() Snapshot {
	s.Handles = append([]*PluginHandle(nil), s.Handles...)
	return s
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

// WithLogger sets the repository logger.
func WithLogger(logger hclog.Logger) RepositoryOption {
	return func(r *Repository) { r.logger = logger }
}

// WithWarmUp instantiates every handle of a new snapshot through pool
// before the snapshot is published.
func WithWarmUp(pool *utils.WorkerPool) RepositoryOption {
	return func(r *Repository) { r.pool = pool }
}

// WithHTTPClient sets the client handed to every extension's Init.
func WithHTTPClient(client *http.Client) RepositoryOption {
	return func(r *Repository) { r.httpClient = client }
}

// WithSettingsStore merges stored settings over descriptor defaults at Init.
func WithSettingsStore(settings *SettingsStore) RepositoryOption {
	return func(r *Repository) { r.settings = settings }
}

// WithLoadTimeout bounds each capability construction.
func WithLoadTimeout(d time.Duration) RepositoryOption {
	return func(r *Repository) { r.loadTimeout = d }
}

// WithMetrics records scans and constructions.
func WithMetrics(m *metrics.Metrics) RepositoryOption {
	return func(r *Repository) { r.metrics = m }
}

// Repository owns one source, parser and instantiator for one capability
// kind and publishes snapshots of fresh handles. Scans are single-flight: a
// trigger that arrives while a scan runs schedules exactly one more.
type Repository struct {
	kind         plugins.CapabilityKind
	source       ManifestSource
	parser       ManifestParser
	instantiator PluginInstantiator

	logger      hclog.Logger
	pool        *utils.WorkerPool
	httpClient  *http.Client
	settings    *SettingsStore
	metrics     *metrics.Metrics
	loadTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu                sync.Mutex
	running           bool
	pending           bool
	stopped           bool
	requested         uint64
	completed         uint64
	generation        uint64
	snapshot          Snapshot
	waiters           []scanWaiter
	listeners         map[int]func(Snapshot)
	errListeners      map[int]func(ErrorEvent)
	loadListeners     map[int]func(*PluginHandle)
	nextListener      int
	unsubscribeSource func()
}

type scanWaiter struct {
	seq uint64
	ch  chan struct{}
}

// NewRepository creates a repository. Nothing is scanned until Trigger,
// Scan or Start is called.
func NewRepository(kind plugins.CapabilityKind, source ManifestSource, parser ManifestParser, instantiator PluginInstantiator, opts ...RepositoryOption) *Repository {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Repository{
		kind:          kind,
		source:        source,
		parser:        parser,
		instantiator:  instantiator,
		logger:        hclog.NewNullLogger(),
		httpClient:    http.DefaultClient,
		loadTimeout:   DefaultLoadTimeout,
		ctx:           ctx,
		cancel:        cancel,
		listeners:     make(map[int]func(Snapshot)),
		errListeners:  make(map[int]func(ErrorEvent)),
		loadListeners: make(map[int]func(*PluginHandle)),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("kind", string(kind), "origin", source.Origin().String(), "source", source.Name())
	r.snapshot = Snapshot{Kind: kind, Origin: source.Origin(), Source: source.Name()}
	return r
}

// Kind returns the capability kind the repository serves.
func (r *Repository) Kind() plugins.CapabilityKind { return r.kind }

// Origin returns the origin of the repository's source.
func (r *Repository) Origin() Origin { return r.source.Origin() }

// Name returns the source name.
func (r *Repository) Name() string { return r.source.Name() }

// Snapshot returns the latest published snapshot.
func (r *Repository) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot.clone()
}

// Subscribe registers fn for every publication. Calls are made in
// publication order from the scanning goroutine; fn must not call Stop.
func (r *Repository) Subscribe(fn func(Snapshot)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextListener
	r.nextListener++
	r.listeners[id] = fn
	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// SubscribeErrors registers fn for every parse, load and scan failure.
func (r *Repository) SubscribeErrors(fn func(ErrorEvent)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextListener
	r.nextListener++
	r.errListeners[id] = fn
	return func() {
		r.mu.Lock()
		delete(r.errListeners, id)
		r.mu.Unlock()
	}
}

// SubscribeLoads registers fn for every handle that finishes construction
// successfully.
func (r *Repository) SubscribeLoads(fn func(*PluginHandle)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextListener
	r.nextListener++
	r.loadListeners[id] = fn
	return func() {
		r.mu.Lock()
		delete(r.loadListeners, id)
		r.mu.Unlock()
	}
}

// Start subscribes to the source and triggers the first scan. The
// repository stops when ctx ends.
func (r *Repository) Start(ctx context.Context) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	if r.unsubscribeSource == nil {
		r.unsubscribeSource = r.source.Subscribe(func() { r.Trigger() })
	}
	r.mu.Unlock()

	r.Trigger()

	go func() {
		select {
		case <-ctx.Done():
			r.Stop()
		case <-r.ctx.Done():
		}
	}()
}

// Stop cancels any running scan and waits for the scanning goroutine.
func (r *Repository) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	unsubscribe := r.unsubscribeSource
	r.unsubscribeSource = nil
	r.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	r.cancel()
	r.wg.Wait()
}

// Trigger requests a scan without waiting. It returns the trigger sequence,
// or 0 once the repository is stopped.
func (r *Repository) Trigger() uint64 {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return 0
	}
	r.requested++
	seq := r.requested
	if r.running {
		r.pending = true
		r.mu.Unlock()
		return seq
	}
	r.running = true
	r.wg.Add(1)
	r.mu.Unlock()

	go r.loop()
	return seq
}

// Scan triggers a scan and waits until a snapshot covering it is published.
func (r *Repository) Scan(ctx context.Context) (Snapshot, error) {
	seq := r.Trigger()
	if seq == 0 {
		return r.Snapshot(), errRepoStopped
	}

	r.mu.Lock()
	if r.completed >= seq {
		snap := r.snapshot.clone()
		r.mu.Unlock()
		return snap, nil
	}
	w := scanWaiter{seq: seq, ch: make(chan struct{})}
	r.waiters = append(r.waiters, w)
	r.mu.Unlock()

	select {
	case <-w.ch:
		return r.Snapshot(), nil
	case <-ctx.Done():
		return r.Snapshot(), ctx.Err()
	case <-r.ctx.Done():
		return r.Snapshot(), errRepoStopped
	}
}

func (r *Repository) loop() {
	defer r.wg.Done()

	for {
		r.mu.Lock()
		r.pending = false
		seq := r.requested
		r.generation++
		gen := r.generation
		r.mu.Unlock()

		snap, published := r.scan(gen)

		var listeners []func(Snapshot)
		r.mu.Lock()
		if published {
			r.snapshot = snap
			for _, fn := range r.listeners {
				listeners = append(listeners, fn)
			}
		}
		r.mu.Unlock()

		for _, fn := range listeners {
			fn(snap.clone())
		}
		if published {
			events.Publish(events.NewScannedEvent(string(r.kind), r.source.Origin().String(), snap.Generation, len(snap.Handles), snap.Stale))
		}

		r.mu.Lock()
		if published {
			r.completed = seq
			r.releaseWaitersLocked()
		}
		if !r.pending || r.stopped {
			r.running = false
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()
	}
}

func (r *Repository) releaseWaitersLocked() {
	kept := r.waiters[:0]
	for _, w := range r.waiters {
		if w.seq <= r.completed {
			close(w.ch)
			continue
		}
		kept = append(kept, w)
	}
	r.waiters = kept
}

func (r *Repository) superseded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending || r.stopped
}

// scan runs one enumerate, parse and wrap cycle. It reports false when the
// cycle was abandoned and must not be published.
func (r *Repository) scan(gen uint64) (Snapshot, bool) {
	started := time.Now()
	ctx := r.ctx
	origin := r.source.Origin()

	descriptors, err := r.enumerate(ctx)
	if err != nil {
		if ctx.Err() != nil {
			r.metrics.RecordScan(string(r.kind), origin.String(), scanAbandoned, time.Since(started), 0)
			return Snapshot{}, false
		}
		r.report(err)
		r.logger.Warn("scan failed, keeping previous snapshot", "generation", gen, "error", err)

		r.mu.Lock()
		snap := r.snapshot.clone()
		r.mu.Unlock()
		snap.Generation = gen
		snap.Stale = true
		snap.Err = err
		snap.ScannedAt = time.Now()
		r.metrics.RecordScan(string(r.kind), origin.String(), scanStale, time.Since(started), len(snap.Handles))
		return snap, true
	}

	handles := make([]*PluginHandle, 0, len(descriptors))
	seen := make(map[string]bool, len(descriptors))
	for _, desc := range descriptors {
		if r.superseded() || ctx.Err() != nil {
			r.logger.Debug("scan superseded", "generation", gen)
			r.metrics.RecordScan(string(r.kind), origin.String(), scanAbandoned, time.Since(started), 0)
			return Snapshot{}, false
		}

		meta, err := r.parse(desc)
		if err != nil {
			r.report(err)
			continue
		}
		if !meta.HasCapability(r.kind) {
			continue
		}
		if seen[meta.ID] {
			r.report(apperrors.NewParseError(meta.ID, desc.Locator, errDuplicateID))
			continue
		}
		seen[meta.ID] = true
		meta.Origin = origin
		handles = append(handles, newHandle(meta, gen, r.construct, r.loadTimeout, r.settled))
	}

	if r.pool != nil && len(handles) > 0 {
		_ = r.pool.Each(ctx, len(handles), func(ctx context.Context, i int) {
			_, _ = handles[i].Instance(ctx)
		})
	}

	r.logger.Debug("scan complete", "generation", gen, "descriptors", len(descriptors), "handles", len(handles), "took", time.Since(started))
	r.metrics.RecordScan(string(r.kind), origin.String(), scanPublished, time.Since(started), len(handles))

	return Snapshot{
		Kind:       r.kind,
		Origin:     origin,
		Source:     r.source.Name(),
		Handles:    handles,
		Generation: gen,
		ScannedAt:  time.Now(),
	}, true
}

func (r *Repository) enumerate(ctx context.Context) (descriptors []RawDescriptor, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			descriptors = nil
			err = fmt.Errorf("source panic: %v", rec)
		}
		if err != nil && !apperrors.IsScan(err) {
			err = apperrors.NewScanError(r.source.Name(), err)
		}
	}()
	return r.source.Enumerate(ctx)
}

func (r *Repository) parse(desc RawDescriptor) (meta *ExtensionMetadata, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			meta = nil
			err = fmt.Errorf("parser panic: %v", rec)
		}
		if err != nil && !apperrors.IsParse(err) {
			id := ""
			if meta != nil {
				id = meta.ID
			}
			meta = nil
			err = apperrors.NewParseError(id, desc.Locator, err)
		}
	}()

	meta, err = r.parser.Parse(desc)
	if err != nil {
		return meta, err
	}
	if meta == nil {
		return nil, fmt.Errorf("parser returned no metadata")
	}
	return meta, meta.Validate()
}

// construct instantiates, initialises and verifies one capability.
func (r *Repository) construct(ctx context.Context, meta *ExtensionMetadata) (plugins.Extension, error) {
	instance, err := r.instantiator.Instantiate(ctx, meta)
	if err != nil {
		return nil, err
	}

	settings, err := r.settings.Resolve(ctx, r.kind, meta)
	if err != nil {
		closeInstance(instance)
		return nil, apperrors.NewLoadError(meta.ID, "settings", err)
	}
	if err := instance.Init(settings, r.httpClient); err != nil {
		closeInstance(instance)
		return nil, apperrors.NewLoadError(meta.ID, "init", err)
	}
	for _, kind := range meta.Capabilities {
		if !plugins.Implements(instance, kind) {
			closeInstance(instance)
			return nil, apperrors.NewLoadError(meta.ID, "verify", fmt.Errorf("%w: %s not implemented", errIncompatible, kind))
		}
	}
	return instance, nil
}

func closeInstance(instance plugins.Extension) {
	if c, ok := instance.(io.Closer); ok {
		_ = c.Close()
	}
}

func (r *Repository) settled(h *PluginHandle, took time.Duration) {
	err := h.Err()
	r.metrics.RecordLoad(string(r.kind), r.source.Origin().String(), err == nil, took)
	if err != nil {
		r.logger.Warn("extension failed to load", "id", h.ID(), "error", err)
		r.report(err)
		return
	}
	r.logger.Debug("extension loaded", "id", h.ID(), "took", took)

	r.mu.Lock()
	listeners := make([]func(*PluginHandle), 0, len(r.loadListeners))
	for _, fn := range r.loadListeners {
		listeners = append(listeners, fn)
	}
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(h)
	}
}

func (r *Repository) report(err error) {
	ev := NewErrorEvent(r.kind, r.source.Origin(), r.source.Name(), err)
	r.metrics.RecordError(string(r.kind), string(ev.ErrorKind))

	r.mu.Lock()
	listeners := make([]func(ErrorEvent), 0, len(r.errListeners))
	for _, fn := range r.errListeners {
		listeners = append(listeners, fn)
	}
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}
