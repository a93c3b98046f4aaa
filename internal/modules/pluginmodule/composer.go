package pluginmodule

import (
	"sync"

	"github.com/hashicorp/go-hclog"
	plugins "github.com/mantonx/vvf/sdk"
)

// ComposedSnapshot is the deduplicated union of every input repository.
type ComposedSnapshot struct {
	Kind    plugins.CapabilityKind
	Handles []*PluginHandle
	// Generations holds the input snapshot generations, in repository order.
	Generations []uint64
	// Stale is set when any input is serving a stale snapshot.
	Stale bool
}

func (s ComposedSnapshot) clone() ComposedSnapshot {
	s.Handles = append([]*PluginHandle(nil), s.Handles...)
	s.Generations = append([]uint64(nil), s.Generations...)
	return s
}

// Composer merges the repositories of one kind. Handles are grouped by
// entry point and capability set; each group is won by the lowest origin
// rank, ties going to the earlier repository and then the earlier handle.
// The output lists groups in order of first appearance across the inputs
// taken in repository order, so it depends only on the latest snapshot of
// each input.
type Composer struct {
	kind   plugins.CapabilityKind
	repos  []*Repository
	logger hclog.Logger

	recompute sync.Mutex

	mu        sync.RWMutex
	snapshot  ComposedSnapshot
	listeners map[int]func(ComposedSnapshot)
	nextID    int
	unsubs    []func()
}

// NewComposer subscribes to every repository and computes the first merge.
func NewComposer(kind plugins.CapabilityKind, logger hclog.Logger, repos ...*Repository) *Composer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	c := &Composer{
		kind:      kind,
		repos:     repos,
		logger:    logger.Named("composer").With("kind", string(kind)),
		listeners: make(map[int]func(ComposedSnapshot)),
	}
	for _, repo := range repos {
		c.unsubs = append(c.unsubs, repo.Subscribe(func(Snapshot) { c.Recompute() }))
	}
	c.Recompute()
	return c
}

// Kind returns the composed capability kind.
func (c *Composer) Kind() plugins.CapabilityKind { return c.kind }

// Repositories returns the inputs in merge order.
func (c *Composer) Repositories() []*Repository {
	return append([]*Repository(nil), c.repos...)
}

// Snapshot returns the latest merge.
func (c *Composer) Snapshot() ComposedSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot.clone()
}

// Subscribe registers fn for every recomputed merge.
func (c *Composer) Subscribe(fn func(ComposedSnapshot)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Recompute merges the current input snapshots and notifies subscribers.
func (c *Composer) Recompute() {
	c.recompute.Lock()
	defer c.recompute.Unlock()

	inputs := make([]Snapshot, len(c.repos))
	for i, repo := range c.repos {
		inputs[i] = repo.Snapshot()
	}
	merged := ComposedSnapshot{
		Kind:        c.kind,
		Handles:     c.merge(inputs),
		Generations: make([]uint64, len(inputs)),
	}
	for i, in := range inputs {
		merged.Generations[i] = in.Generation
		merged.Stale = merged.Stale || in.Stale
	}

	c.mu.Lock()
	c.snapshot = merged
	listeners := make([]func(ComposedSnapshot), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(merged.clone())
	}
}

// Close unsubscribes from every repository.
func (c *Composer) Close() {
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}

func groupKey(meta *ExtensionMetadata) string {
	return meta.EntryPoint + "|" + meta.CapabilityKey()
}

func (c *Composer) merge(inputs []Snapshot) []*PluginHandle {
	winners := make(map[string]*PluginHandle)
	var order []string

	for _, in := range inputs {
		for _, h := range in.Handles {
			key := groupKey(h.meta)
			current, ok := winners[key]
			if !ok {
				winners[key] = h
				order = append(order, key)
				continue
			}
			// strict comparison keeps the earlier handle on equal rank
			if h.meta.Origin.Rank() < current.meta.Origin.Rank() {
				winners[key] = h
			}
		}
	}

	// Distinct groups can still share an id, for example when two origins
	// disagree on the capability set. Ids must stay unique per kind, so the
	// better ranked group keeps it.
	byID := make(map[string]int)
	out := make([]*PluginHandle, 0, len(order))
	for _, key := range order {
		h := winners[key]
		if idx, ok := byID[h.meta.ID]; ok {
			prev := out[idx]
			if h.meta.Origin.Rank() < prev.meta.Origin.Rank() {
				out[idx] = h
			}
			c.logger.Warn("extension id shared by distinct extensions", "id", h.meta.ID,
				"kept", out[idx].meta.EntryPoint, "kept_origin", out[idx].meta.Origin.String())
			continue
		}
		byID[h.meta.ID] = len(out)
		out = append(out, h)
	}
	return out
}
