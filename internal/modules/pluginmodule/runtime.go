package pluginmodule

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	apperrors "github.com/mantonx/vvf/internal/errors"
	"github.com/mantonx/vvf/internal/events"
	"github.com/mantonx/vvf/internal/metrics"
	plugins "github.com/mantonx/vvf/sdk"
	"golang.org/x/sync/errgroup"
)

// Entry is one active extension in a published view.
type Entry struct {
	// Metadata is the effective metadata: Enabled reflects the stored flag.
	Metadata *ExtensionMetadata `json:"metadata"`
	// Rank is the index in the priority list, or -1 when unranked.
	Rank   int           `json:"rank"`
	State  HandleState   `json:"state"`
	Handle *PluginHandle `json:"-"`
}

// Instance returns the entry's capability instance.
func (e Entry) Instance(ctx context.Context) (plugins.Extension, error) {
	return e.Handle.Instance(ctx)
}

// View is one published, ordered, enabled-only list for a kind.
type View struct {
	Kind       plugins.CapabilityKind `json:"kind"`
	Entries    []Entry                `json:"entries"`
	Version    uint64                 `json:"version"`
	Stale      bool                   `json:"stale"`
	ComputedAt time.Time              `json:"computed_at"`
}

// Selected returns the first entry.
func (v View) Selected() (Entry, bool) {
	if len(v.Entries) == 0 {
		return Entry{}, false
	}
	return v.Entries[0], true
}

// IDs lists entry ids in view order.
func (v View) IDs() []string {
	ids := make([]string, len(v.Entries))
	for i, e := range v.Entries {
		ids[i] = e.Metadata.ID
	}
	return ids
}

func (v View) clone() View {
	v.Entries = append([]Entry(nil), v.Entries...)
	return v
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeLogger sets the runtime logger.
func WithRuntimeLogger(logger hclog.Logger) RuntimeOption {
	return func(r *Runtime) { r.logger = logger }
}

// WithErrorBuffer sizes each Errors subscription.
func WithErrorBuffer(n int) RuntimeOption {
	return func(r *Runtime) { r.errorBuffer = n }
}

// WithRuntimeMetrics records view sizes.
func WithRuntimeMetrics(m *metrics.Metrics) RuntimeOption {
	return func(r *Runtime) { r.metrics = m }
}

// Runtime publishes the ordered, enabled-only view for one kind. It
// recomputes whenever the composer republishes, a store is changed through
// SetEnabled or SetPriority, or a handle settles.
//
// Listeners are called in version order without any runtime lock held. A
// recompute triggered while another goroutine is delivering views queues its
// view for that goroutine and returns.
type Runtime struct {
	kind        plugins.CapabilityKind
	composer    *Composer
	priorities  *PriorityStore
	enablement  *EnablementStore
	logger      hclog.Logger
	metrics     *metrics.Metrics
	errorBuffer int
	errors      *events.Bus[ErrorEvent]

	recomputeMu sync.Mutex

	notifyMu    sync.Mutex
	notifying   bool
	notifyQueue []View

	mu        sync.RWMutex
	view      View
	listeners map[int]func(View)
	nextID    int
	unsubs    []func()
}

// NewRuntime wires a runtime to a composer and the two stores.
func NewRuntime(composer *Composer, priorities *PriorityStore, enablement *EnablementStore, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		kind:        composer.Kind(),
		composer:    composer,
		priorities:  priorities,
		enablement:  enablement,
		logger:      hclog.NewNullLogger(),
		errorBuffer: DefaultErrorBuffer,
		errors:      events.NewBus[ErrorEvent](),
		listeners:   make(map[int]func(View)),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("kind", string(r.kind))
	r.view = View{Kind: r.kind}

	for _, repo := range composer.Repositories() {
		r.unsubs = append(r.unsubs, repo.SubscribeErrors(r.onError))
		r.unsubs = append(r.unsubs, repo.SubscribeLoads(r.onLoaded))
	}
	r.unsubs = append(r.unsubs, composer.Subscribe(func(ComposedSnapshot) { r.recompute() }))
	r.recompute()
	return r
}

// Kind returns the runtime's capability kind.
func (r *Runtime) Kind() plugins.CapabilityKind { return r.kind }

// View returns the latest published view.
func (r *Runtime) View() View {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.view.clone()
}

// CurrentExtensions returns the active extensions in priority order.
func (r *Runtime) CurrentExtensions() []Entry {
	return r.View().Entries
}

// Selected returns the highest priority active extension.
func (r *Runtime) Selected() (Entry, bool) {
	return r.View().Selected()
}

// Lookup finds an active extension by id.
func (r *Runtime) Lookup(id string) (Entry, bool) {
	for _, e := range r.CurrentExtensions() {
		if e.Metadata.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Known lists every composed extension, including disabled and failed ones,
// with its effective enabled flag.
func (r *Runtime) Known(ctx context.Context) []Entry {
	comp := r.composer.Snapshot()
	order, _ := r.priorities.Get(ctx, r.kind)
	ranks := rankIndex(order)

	entries := make([]Entry, 0, len(comp.Handles))
	for _, h := range comp.Handles {
		meta := h.Metadata()
		enabled, _ := r.enablement.IsEnabled(ctx, r.kind, meta.ID, meta.Enabled)
		meta.Enabled = enabled
		rank, ok := ranks[meta.ID]
		if !ok {
			rank = -1
		}
		entries = append(entries, Entry{Metadata: meta, Rank: rank, State: h.State(), Handle: h})
	}
	return entries
}

// SetEnabled stores the flag and republishes without rescanning.
func (r *Runtime) SetEnabled(ctx context.Context, id string, enabled bool) error {
	if err := r.enablement.Set(ctx, r.kind, id, enabled); err != nil {
		if stderrors.Is(err, errInvalidID) {
			return apperrors.NewValidationError(err.Error(), "id")
		}
		return apperrors.NewDatabaseError("set enablement", err)
	}
	r.logger.Info("extension enablement changed", "id", id, "enabled", enabled)
	events.Publish(events.NewEnablementEvent(string(r.kind), id, enabled))
	r.recompute()
	return nil
}

// SetPriority stores the order and republishes without rescanning.
func (r *Runtime) SetPriority(ctx context.Context, ids []string) error {
	if err := r.priorities.Set(ctx, r.kind, ids); err != nil {
		if stderrors.Is(err, errInvalidID) || stderrors.Is(err, errDuplicateID) {
			return apperrors.NewValidationError(err.Error(), "ids")
		}
		return apperrors.NewDatabaseError("set priority", err)
	}
	r.logger.Info("extension priority changed", "ids", ids)
	events.Publish(events.NewPriorityEvent(string(r.kind), ids))
	r.recompute()
	return nil
}

// Refresh rescans every repository concurrently and returns once each has
// published and the view has been recomputed.
func (r *Runtime) Refresh(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, repo := range r.composer.Repositories() {
		repo := repo
		g.Go(func() error {
			_, err := repo.Scan(gctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("refresh %s: %w", r.kind, err)
	}
	return nil
}

// Errors subscribes to the error stream. Events are dropped for a
// subscriber whose buffer is full.
func (r *Runtime) Errors() (<-chan ErrorEvent, func()) {
	return r.errors.Subscribe(r.errorBuffer)
}

// Subscribe registers fn for every published view.
func (r *Runtime) Subscribe(fn func(View)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// Close detaches the runtime and ends every error subscription.
func (r *Runtime) Close() {
	r.mu.Lock()
	unsubs := r.unsubs
	r.unsubs = nil
	r.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
	r.errors.Close()
}

func (r *Runtime) onError(ev ErrorEvent) {
	r.logger.Debug("extension error", "id", ev.ExtensionID, "error_kind", ev.ErrorKind, "message", ev.Message)
	r.errors.Publish(ev)
	events.Publish(events.NewErrorEvent(string(r.kind), ev.ExtensionID, string(ev.ErrorKind), ev.Message))
	if ev.ErrorKind == ErrorKindLoad {
		r.recompute()
	}
}

func (r *Runtime) onLoaded(*PluginHandle) {
	r.recompute()
}

func rankIndex(order []string) map[string]int {
	ranks := make(map[string]int, len(order))
	for i, id := range order {
		if _, ok := ranks[id]; !ok {
			ranks[id] = i
		}
	}
	return ranks
}

func (r *Runtime) recompute() {
	if r.publish() {
		r.deliver()
	}
}

// publish computes and stores the next view and queues it for listeners. It
// reports whether the caller must deliver the queue.
func (r *Runtime) publish() bool {
	r.recomputeMu.Lock()
	defer r.recomputeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeOperationTimeout)
	defer cancel()

	comp := r.composer.Snapshot()
	order, err := r.priorities.Get(ctx, r.kind)
	if err != nil {
		r.logger.Warn("priority unavailable, using discovery order", "error", err)
	}
	ranks := rankIndex(order)

	entries := make([]Entry, 0, len(comp.Handles))
	for _, h := range comp.Handles {
		state := h.State()
		if state == StateFailed {
			continue
		}
		meta := h.Metadata()
		enabled, err := r.enablement.IsEnabled(ctx, r.kind, meta.ID, meta.Enabled)
		if err != nil {
			r.logger.Warn("enablement unavailable, using default", "id", meta.ID, "error", err)
		}
		if !enabled {
			continue
		}
		meta.Enabled = true
		rank, ok := ranks[meta.ID]
		if !ok {
			rank = -1
		}
		entries = append(entries, Entry{Metadata: meta, Rank: rank, State: state, Handle: h})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		ri, rj := entries[i].Rank, entries[j].Rank
		switch {
		case ri >= 0 && rj >= 0:
			return ri < rj
		case ri >= 0:
			return true
		default:
			return false
		}
	})

	r.mu.Lock()
	view := View{
		Kind:       r.kind,
		Entries:    entries,
		Version:    r.view.Version + 1,
		Stale:      comp.Stale,
		ComputedAt: time.Now(),
	}
	r.view = view
	r.mu.Unlock()

	r.metrics.SetActive(string(r.kind), len(entries))
	selected := ""
	if e, ok := view.Selected(); ok {
		selected = e.Metadata.ID
	}
	events.Publish(events.NewViewEvent(string(r.kind), view.IDs(), selected))

	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	r.notifyQueue = append(r.notifyQueue, view)
	if r.notifying {
		return false
	}
	r.notifying = true
	return true
}

// deliver hands queued views to the listeners until the queue is empty.
func (r *Runtime) deliver() {
	for {
		r.notifyMu.Lock()
		if len(r.notifyQueue) == 0 {
			r.notifying = false
			r.notifyMu.Unlock()
			return
		}
		view := r.notifyQueue[0]
		r.notifyQueue = r.notifyQueue[1:]
		r.notifyMu.Unlock()

		r.mu.RLock()
		listeners := make([]func(View), 0, len(r.listeners))
		for _, fn := range r.listeners {
			listeners = append(listeners, fn)
		}
		r.mu.RUnlock()

		for _, fn := range listeners {
			fn(view.clone())
		}
	}
}
