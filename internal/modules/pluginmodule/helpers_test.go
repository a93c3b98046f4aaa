package pluginmodule

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/vvf/internal/store"
	plugins "github.com/mantonx/vvf/sdk"
	"github.com/stretchr/testify/require"
)

func createTestLogger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "test",
		Level:  hclog.Error,
		Output: io.Discard,
	})
}

// fakeSource serves a settable descriptor list.
type fakeSource struct {
	name   string
	origin Origin

	mu    sync.Mutex
	descs []RawDescriptor
	err   error
	block chan struct{}
	subs  map[int]func()
	next  int

	calls atomic.Int32
}

func newFakeSource(name string, origin Origin, descs ...RawDescriptor) *fakeSource {
	return &fakeSource{name: name, origin: origin, descs: descs, subs: make(map[int]func())}
}

func (s *fakeSource) Name() string   { return s.name }
func (s *fakeSource) Origin() Origin { return s.origin }

func (s *fakeSource) Enumerate(ctx context.Context) ([]RawDescriptor, error) {
	s.calls.Add(1)
	s.mu.Lock()
	block := s.block
	s.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]RawDescriptor(nil), s.descs...), nil
}

func (s *fakeSource) Subscribe(onChange func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.subs[id] = onChange
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *fakeSource) set(descs ...RawDescriptor) {
	s.mu.Lock()
	s.descs = descs
	s.err = nil
	s.mu.Unlock()
}

func (s *fakeSource) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *fakeSource) hold() chan struct{} {
	ch := make(chan struct{})
	s.mu.Lock()
	s.block = ch
	s.mu.Unlock()
	return ch
}

func (s *fakeSource) release(ch chan struct{}) {
	s.mu.Lock()
	s.block = nil
	s.mu.Unlock()
	close(ch)
}

func (s *fakeSource) signal() {
	s.mu.Lock()
	subs := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

// desc builds a descriptor for attrParser. kinds defaults to stream.
func desc(id, entryPoint string, kinds ...string) RawDescriptor {
	if len(kinds) == 0 {
		kinds = []string{"stream"}
	}
	return RawDescriptor{
		Source:  "fake",
		Locator: "fake://" + id,
		Attributes: map[string]string{
			"id":    id,
			"entry": entryPoint,
			"kinds": strings.Join(kinds, ","),
		},
	}
}

func brokenDesc(locator string) RawDescriptor {
	return RawDescriptor{Source: "fake", Locator: locator, Attributes: map[string]string{"broken": "true"}}
}

func withAttr(d RawDescriptor, key, value string) RawDescriptor {
	attrs := make(map[string]string, len(d.Attributes)+1)
	for k, v := range d.Attributes {
		attrs[k] = v
	}
	attrs[key] = value
	d.Attributes = attrs
	return d
}

// attrParser reads metadata from descriptor attributes.
type attrParser struct{}

func (attrParser) Parse(d RawDescriptor) (*ExtensionMetadata, error) {
	if d.Attributes["broken"] == "true" {
		return nil, errors.New("missing className")
	}
	kinds, err := plugins.ParseCapabilityKinds(strings.Split(d.Attributes["kinds"], ","))
	if err != nil {
		return nil, err
	}
	meta := &ExtensionMetadata{
		ID:           d.Attributes["id"],
		EntryPoint:   d.Attributes["entry"],
		Locator:      d.Locator,
		Capabilities: kinds,
		Name:         d.Attributes["id"],
		Runtime:      RuntimeBuiltin,
		Enabled:      d.Attributes["disabled"] != "true",
	}
	if key := d.Attributes["setting"]; key != "" {
		meta.Settings = map[string]string{key: d.Attributes["setting_default"]}
	}
	return meta, nil
}

// fakeExtension implements every capability and reports the declared ones.
type fakeExtension struct {
	id    string
	kinds []plugins.CapabilityKind

	mu       sync.Mutex
	settings plugins.Settings
	client   *http.Client
	closed   bool
}

func (e *fakeExtension) Init(settings plugins.Settings, client *http.Client) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings = settings
	e.client = client
	return nil
}

func (e *fakeExtension) Capabilities() []plugins.CapabilityKind { return e.kinds }

func (e *fakeExtension) Search(context.Context, string) ([]plugins.MediaItem, error) {
	return nil, nil
}

func (e *fakeExtension) LoadLinks(context.Context, plugins.MediaItem) ([]plugins.StreamLink, error) {
	return []plugins.StreamLink{{Name: e.id}}, nil
}

func (e *fakeExtension) LoadSubtitles(context.Context, plugins.MediaItem) ([]plugins.Subtitle, error) {
	return nil, nil
}

func (e *fakeExtension) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

// fakeInstantiator builds fakeExtensions and fails or panics on request.
type fakeInstantiator struct {
	mu        sync.Mutex
	fail      map[string]error
	panics    map[string]bool
	wrongKind map[string]bool
	gate      chan struct{}
	calls     map[string]int
	built     map[string]*fakeExtension
}

func newFakeInstantiator() *fakeInstantiator {
	return &fakeInstantiator{
		fail:      make(map[string]error),
		panics:    make(map[string]bool),
		wrongKind: make(map[string]bool),
		calls:     make(map[string]int),
		built:     make(map[string]*fakeExtension),
	}
}

func (f *fakeInstantiator) Instantiate(ctx context.Context, meta *ExtensionMetadata) (plugins.Extension, error) {
	f.mu.Lock()
	f.calls[meta.ID]++
	gate := f.gate
	err := f.fail[meta.ID]
	panics := f.panics[meta.ID]
	wrong := f.wrongKind[meta.ID]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if panics {
		panic(fmt.Sprintf("constructor of %s exploded", meta.ID))
	}
	if err != nil {
		return nil, err
	}

	kinds := meta.Capabilities
	if wrong {
		kinds = nil
	}
	ext := &fakeExtension{id: meta.ID, kinds: kinds}
	f.mu.Lock()
	f.built[meta.ID] = ext
	f.mu.Unlock()
	return ext, nil
}

func (f *fakeInstantiator) setFail(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, id)
		return
	}
	f.fail[id] = err
}

func (f *fakeInstantiator) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeInstantiator) extension(id string) *fakeExtension {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built[id]
}

// errorRecorder collects reported errors.
type errorRecorder struct {
	mu     sync.Mutex
	events []ErrorEvent
}

func (r *errorRecorder) record(ev ErrorEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *errorRecorder) all() []ErrorEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ErrorEvent(nil), r.events...)
}

func (r *errorRecorder) ofKind(kind ErrorKind) []ErrorEvent {
	var out []ErrorEvent
	for _, ev := range r.all() {
		if ev.ErrorKind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func newTestRepository(t *testing.T, source *fakeSource, inst PluginInstantiator, opts ...RepositoryOption) *Repository {
	t.Helper()
	opts = append([]RepositoryOption{WithLogger(createTestLogger())}, opts...)
	repo := NewRepository(plugins.KindStream, source, attrParser{}, inst, opts...)
	t.Cleanup(repo.Stop)
	return repo
}

func scan(t *testing.T, repo *Repository) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := repo.Scan(ctx)
	require.NoError(t, err)
	return snap
}

func handleIDs(handles []*PluginHandle) []string {
	ids := make([]string, len(handles))
	for i, h := range handles {
		ids[i] = h.ID()
	}
	return ids
}

func entryIDs(entries []Entry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.Metadata.ID
	}
	return ids
}

func newMemoryStores() (store.KeyValueStore, *PriorityStore, *EnablementStore) {
	kv := store.NewMemoryStore()
	return kv, NewPriorityStore(kv, "priority"), NewEnablementStore(kv, "settings")
}
