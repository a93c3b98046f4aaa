package pluginmodule

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/mantonx/vvf/internal/errors"
	plugins "github.com/mantonx/vvf/sdk"
)

// HandleState is the construction state of a PluginHandle.
type HandleState int32

const (
	StateNotLoaded HandleState = iota
	StateLoading
	StateLoaded
	StateFailed
)

func (s HandleState) String() string {
	switch s {
	case StateNotLoaded:
		return "not_loaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// MarshalText encodes the state by name.
func (s HandleState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ConstructFunc builds the capability instance for a handle.
type ConstructFunc func(ctx context.Context, meta *ExtensionMetadata) (plugins.Extension, error)

// PluginHandle pairs metadata with a deferred, memoized, fallible
// construction. The cell moves from NotLoaded to Loaded or Failed exactly
// once; StateLoading is only observable while construction runs.
type PluginHandle struct {
	meta       *ExtensionMetadata
	generation uint64
	construct  ConstructFunc
	timeout    time.Duration
	onSettle   func(*PluginHandle, time.Duration)

	start sync.Once
	done  chan struct{}

	mu       sync.RWMutex
	state    HandleState
	instance plugins.Extension
	err      error
}

// NewPluginHandle wraps meta in a fresh NotLoaded handle.
func NewPluginHandle(meta *ExtensionMetadata, generation uint64, construct ConstructFunc) *PluginHandle {
	return newHandle(meta, generation, construct, DefaultLoadTimeout, nil)
}

func newHandle(meta *ExtensionMetadata, generation uint64, construct ConstructFunc, timeout time.Duration, onSettle func(*PluginHandle, time.Duration)) *PluginHandle {
	return &PluginHandle{
		meta:       meta,
		generation: generation,
		construct:  construct,
		timeout:    timeout,
		onSettle:   onSettle,
		done:       make(chan struct{}),
	}
}

// Metadata returns a copy of the handle's metadata.
func (h *PluginHandle) Metadata() *ExtensionMetadata {
	return h.meta.Clone()
}

// ID is shorthand for Metadata().ID without the copy.
func (h *PluginHandle) ID() string {
	return h.meta.ID
}

// Generation is the scan cycle that produced the handle.
func (h *PluginHandle) Generation() uint64 {
	return h.generation
}

// State returns the current construction state.
func (h *PluginHandle) State() HandleState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Err returns the construction failure, if any.
func (h *PluginHandle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

// Done is closed once construction has settled.
func (h *PluginHandle) Done() <-chan struct{} {
	return h.done
}

// Instance returns the constructed capability, running construction on first
// use. Concurrent callers share one construction. If ctx ends first the call
// returns ctx.Err() but construction keeps going and the cell still settles.
func (h *PluginHandle) Instance(ctx context.Context) (plugins.Extension, error) {
	h.start.Do(func() {
		h.mu.Lock()
		h.state = StateLoading
		h.mu.Unlock()
		go h.run(context.WithoutCancel(ctx))
	})

	select {
	case <-h.done:
		h.mu.RLock()
		defer h.mu.RUnlock()
		return h.instance, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *PluginHandle) run(ctx context.Context) {
	started := time.Now()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	instance, err := h.safeConstruct(ctx)
	if err != nil && apperrors.CodeOf(err) != apperrors.CodeLoad {
		err = apperrors.NewLoadError(h.meta.ID, "instantiate", err)
	}

	h.mu.Lock()
	if err != nil {
		h.state = StateFailed
		h.err = err
	} else {
		h.state = StateLoaded
		h.instance = instance
	}
	h.mu.Unlock()

	// failures are reported before waiters are released
	if h.onSettle != nil {
		h.onSettle(h, time.Since(started))
	}
	close(h.done)
}

func (h *PluginHandle) safeConstruct(ctx context.Context) (instance plugins.Extension, err error) {
	defer func() {
		if r := recover(); r != nil {
			instance = nil
			err = apperrors.FromPanic(h.meta.ID, "instantiate", r)
		}
	}()
	if h.construct == nil {
		return nil, apperrors.NewLoadError(h.meta.ID, "instantiate", errNoConstructor)
	}
	instance, err = h.construct(ctx, h.meta.Clone())
	if err == nil && instance == nil {
		err = errNilInstance
	}
	return instance, err
}
