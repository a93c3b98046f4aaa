package builtin

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/mantonx/vvf/internal/modules/pluginmodule"
	plugins "github.com/mantonx/vvf/sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoSubtitles struct {
	settings plugins.Settings
}

func (e *echoSubtitles) Init(settings plugins.Settings, _ *http.Client) error {
	e.settings = settings
	return nil
}

func (e *echoSubtitles) LoadSubtitles(_ context.Context, item plugins.MediaItem) ([]plugins.Subtitle, error) {
	return []plugins.Subtitle{{Name: item.Title, Language: e.settings.Get("lang", "en")}}, nil
}

func testDefinition(id string) Definition {
	return Definition{
		ID:           id,
		Name:         "Echo",
		Capabilities: []plugins.CapabilityKind{plugins.KindSubtitle},
		Settings:     map[string]string{"lang": "de"},
		Factory:      func() plugins.Extension { return &echoSubtitles{} },
	}
}

func TestRegisterValidates(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(Definition{}))
	assert.Error(t, r.Register(Definition{ID: "a/b", Factory: testDefinition("x").Factory}))
	assert.Error(t, r.Register(Definition{ID: "nofactory"}))
	require.NoError(t, r.Register(testDefinition("echo")))

	_, ok := r.Get("echo")
	assert.True(t, ok)
	_, ok = r.ByEntryPoint("echo")
	assert.True(t, ok, "entry point defaults to id")
}

func TestRegisterSignalsSubscribers(t *testing.T) {
	r := NewRegistry()
	signals := 0
	cancel := r.Subscribe(func() { signals++ })

	require.NoError(t, r.Register(testDefinition("a")))
	r.Unregister("a")
	r.Unregister("a")
	cancel()
	require.NoError(t, r.Register(testDefinition("b")))

	assert.Equal(t, 2, signals)
}

func TestParseAndInstantiate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testDefinition("echo")))

	descs, err := NewSource(r).Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, descs, 1)

	meta, err := NewParser(r).Parse(descs[0])
	require.NoError(t, err)
	assert.Equal(t, "echo", meta.ID)
	assert.Equal(t, pluginmodule.RuntimeBuiltin, meta.Runtime)
	assert.Equal(t, pluginmodule.OriginBuiltIn, meta.Origin)

	a, err := NewInstantiator(r).Instantiate(context.Background(), meta)
	require.NoError(t, err)
	b, err := NewInstantiator(r).Instantiate(context.Background(), meta)
	require.NoError(t, err)
	assert.NotSame(t, a, b, "factories build fresh instances")

	_, err = NewParser(r).Parse(pluginmodule.RawDescriptor{Attributes: map[string]string{attrID: "gone"}})
	assert.Error(t, err)
}

func TestDefinitionsEnabledUnlessDisabled(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testDefinition("on")))
	off := testDefinition("off")
	off.Disabled = true
	require.NoError(t, r.Register(off))

	descs, err := NewSource(r).Enumerate(context.Background())
	require.NoError(t, err)
	enabled := map[string]bool{}
	for _, d := range descs {
		meta, err := NewParser(r).Parse(d)
		require.NoError(t, err)
		enabled[meta.ID] = meta.Enabled
	}
	assert.Equal(t, map[string]bool{"on": true, "off": false}, enabled)
}

func TestRepositoryOverRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testDefinition("echo")))

	b := Binding(r)
	repo := pluginmodule.NewRepository(plugins.KindSubtitle, b.Source, b.Parser, b.Instantiator)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	repo.Start(ctx)
	defer repo.Stop()

	snap, err := repo.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Handles, 1)

	instance, err := snap.Handles[0].Instance(ctx)
	require.NoError(t, err)
	subs, err := instance.(plugins.SubtitleClient).LoadSubtitles(ctx, plugins.MediaItem{Title: "Heat"})
	require.NoError(t, err)
	assert.Equal(t, "de", subs[0].Language)

	// registering triggers a rescan through the source signal
	require.NoError(t, r.Register(testDefinition("echo2")))
	assert.Eventually(t, func() bool { return len(repo.Snapshot().Handles) == 2 }, 2*time.Second, 10*time.Millisecond)
}
