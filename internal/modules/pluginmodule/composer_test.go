package pluginmodule

import (
	"fmt"
	"testing"

	plugins "github.com/mantonx/vvf/sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type composed struct {
	ID     string
	Origin Origin
}

func summarize(handles []*PluginHandle) []composed {
	out := make([]composed, len(handles))
	for i, h := range handles {
		m := h.Metadata()
		out[i] = composed{ID: m.ID, Origin: m.Origin}
	}
	return out
}

func TestComposerPrefersBuiltIn(t *testing.T) {
	installed := newTestRepository(t, newFakeSource("installed", OriginInstalledPackage, desc("a", "ext.A")), newFakeInstantiator())
	builtin := newTestRepository(t, newFakeSource("builtin", OriginBuiltIn, desc("a", "ext.A")), newFakeInstantiator())

	// installed listed first on purpose; rank decides, not position
	c := NewComposer(plugins.KindStream, createTestLogger(), installed, builtin)
	defer c.Close()

	scan(t, installed)
	scan(t, builtin)

	assert.Equal(t, []composed{{"a", OriginBuiltIn}}, summarize(c.Snapshot().Handles))
}

func TestComposerDeterministicAcrossArrivalOrder(t *testing.T) {
	build := func(order []int) []composed {
		sources := []*fakeSource{
			newFakeSource("builtin", OriginBuiltIn, desc("a", "ext.A"), desc("c", "ext.C")),
			newFakeSource("installed", OriginInstalledPackage, desc("b", "ext.B"), desc("a", "ext.A"), desc("d", "ext.D")),
			newFakeSource("sideload", OriginSideloadedFile, desc("d", "ext.D"), desc("e", "ext.E")),
		}
		repos := make([]*Repository, len(sources))
		for i, s := range sources {
			repos[i] = newTestRepository(t, s, newFakeInstantiator())
		}
		c := NewComposer(plugins.KindStream, createTestLogger(), repos...)
		defer c.Close()
		for _, i := range order {
			scan(t, repos[i])
		}
		return summarize(c.Snapshot().Handles)
	}

	want := []composed{
		{"a", OriginBuiltIn},
		{"c", OriginBuiltIn},
		{"b", OriginInstalledPackage},
		{"d", OriginInstalledPackage},
		{"e", OriginSideloadedFile},
	}
	for _, order := range [][]int{{0, 1, 2}, {2, 1, 0}, {1, 2, 0}, {2, 0, 1}} {
		t.Run(fmt.Sprint(order), func(t *testing.T) {
			assert.Equal(t, want, build(order))
		})
	}
}

func TestComposerTieBreakKeepsEarlierInput(t *testing.T) {
	first := newTestRepository(t, newFakeSource("one", OriginInstalledPackage, desc("a", "ext.A")), newFakeInstantiator())
	second := newTestRepository(t, newFakeSource("two", OriginInstalledPackage, desc("a", "ext.A")), newFakeInstantiator())
	c := NewComposer(plugins.KindStream, createTestLogger(), first, second)
	defer c.Close()

	s1 := scan(t, first)
	scan(t, second)

	handles := c.Snapshot().Handles
	require.Len(t, handles, 1)
	assert.Same(t, s1.Handles[0], handles[0])
}

func TestComposerKeepsMismatchedCapabilitySetsApart(t *testing.T) {
	c := &Composer{logger: createTestLogger()}
	streamOnly := NewPluginHandle(&ExtensionMetadata{
		ID: "a", EntryPoint: "ext.A", Origin: OriginInstalledPackage,
		Capabilities: []plugins.CapabilityKind{plugins.KindStream},
	}, 1, nil)
	both := NewPluginHandle(&ExtensionMetadata{
		ID: "a2", EntryPoint: "ext.A", Origin: OriginBuiltIn,
		Capabilities: []plugins.CapabilityKind{plugins.KindStream, plugins.KindSubtitle},
	}, 1, nil)

	out := c.merge([]Snapshot{{Handles: []*PluginHandle{streamOnly}}, {Handles: []*PluginHandle{both}}})
	assert.Equal(t, []string{"a", "a2"}, handleIDs(out))
}

func TestComposerResolvesSharedIDByRank(t *testing.T) {
	c := &Composer{logger: createTestLogger()}
	sideloaded := NewPluginHandle(&ExtensionMetadata{
		ID: "a", EntryPoint: "ext.A", Origin: OriginSideloadedFile,
		Capabilities: []plugins.CapabilityKind{plugins.KindStream},
	}, 1, nil)
	builtin := NewPluginHandle(&ExtensionMetadata{
		ID: "a", EntryPoint: "ext.A", Origin: OriginBuiltIn,
		Capabilities: []plugins.CapabilityKind{plugins.KindStream, plugins.KindSubtitle},
	}, 1, nil)

	out := c.merge([]Snapshot{{Handles: []*PluginHandle{sideloaded}}, {Handles: []*PluginHandle{builtin}}})
	require.Len(t, out, 1)
	assert.Same(t, builtin, out[0])
}

func TestComposerRecomputesOnEveryPublish(t *testing.T) {
	source := newFakeSource("installed", OriginInstalledPackage, desc("a", "ext.A"))
	repo := newTestRepository(t, source, newFakeInstantiator())
	c := NewComposer(plugins.KindStream, createTestLogger(), repo)
	defer c.Close()

	var seen []int
	c.Subscribe(func(s ComposedSnapshot) { seen = append(seen, len(s.Handles)) })

	scan(t, repo)
	source.set(desc("a", "ext.A"), desc("b", "ext.B"))
	scan(t, repo)

	assert.Equal(t, []int{1, 2}, seen)
	assert.Equal(t, []uint64{repo.Snapshot().Generation}, c.Snapshot().Generations)
}
