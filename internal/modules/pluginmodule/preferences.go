package pluginmodule

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mantonx/vvf/internal/store"
	plugins "github.com/mantonx/vvf/sdk"
)

// PriorityStore persists the user ordering of extension ids per kind under
// "<namespace>/<kind>" as a comma joined list. Values are cached after the
// first read; writers replace the whole list.
type PriorityStore struct {
	kv        store.KeyValueStore
	namespace string

	mu    sync.RWMutex
	cache map[plugins.CapabilityKind][]string
}

// NewPriorityStore creates a priority store.
func NewPriorityStore(kv store.KeyValueStore, namespace string) *PriorityStore {
	return &PriorityStore{
		kv:        kv,
		namespace: namespace,
		cache:     make(map[plugins.CapabilityKind][]string),
	}
}

// Key returns the persisted key for kind.
func (s *PriorityStore) Key(kind plugins.CapabilityKind) string {
	return s.namespace + "/" + string(kind)
}

// Get returns the stored order for kind, empty when nothing was stored.
func (s *PriorityStore) Get(ctx context.Context, kind plugins.CapabilityKind) ([]string, error) {
	s.mu.RLock()
	ids, ok := s.cache[kind]
	s.mu.RUnlock()
	if ok {
		return append([]string(nil), ids...), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ids, ok := s.cache[kind]; ok {
		return append([]string(nil), ids...), nil
	}

	raw, _, err := s.kv.GetString(ctx, s.Key(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to read priority for %s: %w", kind, err)
	}
	ids = splitPriority(raw)
	s.cache[kind] = ids
	return append([]string(nil), ids...), nil
}

// Set replaces the stored order for kind.
func (s *PriorityStore) Set(ctx context.Context, kind plugins.CapabilityKind, ids []string) error {
	clean := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || strings.Contains(id, priorityDelimiter) {
			return fmt.Errorf("%w: %q", errInvalidID, id)
		}
		if seen[id] {
			return fmt.Errorf("%w: %q", errDuplicateID, id)
		}
		seen[id] = true
		clean = append(clean, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.PutString(ctx, s.Key(kind), strings.Join(clean, priorityDelimiter)); err != nil {
		return fmt.Errorf("failed to write priority for %s: %w", kind, err)
	}
	s.cache[kind] = clean
	return nil
}

func splitPriority(raw string) []string {
	var ids []string
	for _, part := range strings.Split(raw, priorityDelimiter) {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, part)
		}
	}
	return ids
}

// EnablementStore persists per extension enabled flags under
// "<namespace>/<kind>/<id>".
type EnablementStore struct {
	kv        store.KeyValueStore
	namespace string

	mu    sync.RWMutex
	cache map[string]*bool
}

// NewEnablementStore creates an enablement store.
func NewEnablementStore(kv store.KeyValueStore, namespace string) *EnablementStore {
	return &EnablementStore{
		kv:        kv,
		namespace: namespace,
		cache:     make(map[string]*bool),
	}
}

// Key returns the persisted key for (kind, id).
func (s *EnablementStore) Key(kind plugins.CapabilityKind, id string) string {
	return s.namespace + "/" + string(kind) + "/" + id
}

// IsEnabled returns the stored flag, or def when none was stored.
func (s *EnablementStore) IsEnabled(ctx context.Context, kind plugins.CapabilityKind, id string, def bool) (bool, error) {
	key := s.Key(kind, id)

	s.mu.RLock()
	v, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		if v == nil {
			return def, nil
		}
		return *v, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.cache[key]; ok {
		if v == nil {
			return def, nil
		}
		return *v, nil
	}

	stored, found, err := s.kv.GetBool(ctx, key)
	if err != nil {
		return def, fmt.Errorf("failed to read enablement for %s: %w", key, err)
	}
	if !found {
		s.cache[key] = nil
		return def, nil
	}
	s.cache[key] = &stored
	return stored, nil
}

// Set stores the flag for (kind, id).
func (s *EnablementStore) Set(ctx context.Context, kind plugins.CapabilityKind, id string, enabled bool) error {
	if id == "" || strings.Contains(id, "/") {
		return fmt.Errorf("%w: %q", errInvalidID, id)
	}
	key := s.Key(kind, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.PutBool(ctx, key, enabled); err != nil {
		return fmt.Errorf("failed to write enablement for %s: %w", key, err)
	}
	v := enabled
	s.cache[key] = &v
	return nil
}

// SettingsStore persists per extension init settings under
// "<namespace>/<kind>/<id>/<key>". Only keys the descriptor declares can be
// overridden.
type SettingsStore struct {
	kv        store.KeyValueStore
	namespace string
}

// NewSettingsStore creates a settings store sharing the enablement namespace.
func NewSettingsStore(kv store.KeyValueStore, namespace string) *SettingsStore {
	return &SettingsStore{kv: kv, namespace: namespace}
}

// Key returns the persisted key for one setting.
func (s *SettingsStore) Key(kind plugins.CapabilityKind, id, key string) string {
	return s.namespace + "/" + string(kind) + "/" + id + "/" + key
}

// Get returns one stored override.
func (s *SettingsStore) Get(ctx context.Context, kind plugins.CapabilityKind, id, key string) (string, bool, error) {
	return s.kv.GetString(ctx, s.Key(kind, id, key))
}

// Set stores one setting value.
func (s *SettingsStore) Set(ctx context.Context, kind plugins.CapabilityKind, id, key, value string) error {
	if key == "" {
		return fmt.Errorf("setting key must not be empty")
	}
	return s.kv.PutString(ctx, s.Key(kind, id, key), value)
}

// Resolve merges stored overrides over the descriptor defaults.
func (s *SettingsStore) Resolve(ctx context.Context, kind plugins.CapabilityKind, meta *ExtensionMetadata) (plugins.Settings, error) {
	settings := make(plugins.Settings, len(meta.Settings))
	for key, def := range meta.Settings {
		settings[key] = def
		if s == nil {
			continue
		}
		v, ok, err := s.kv.GetString(ctx, s.Key(kind, meta.ID, key))
		if err != nil {
			return nil, fmt.Errorf("failed to read setting %s for %s: %w", key, meta.ID, err)
		}
		if ok {
			settings[key] = v
		}
	}
	return settings, nil
}
