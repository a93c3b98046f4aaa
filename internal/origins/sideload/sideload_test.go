package sideload

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/vvf/internal/modules/pluginmodule"
	plugins "github.com/mantonx/vvf/sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const streamScript = `
var SampleStream = {
	base: "",
	init: function(settings) { this.base = settings.base; },
	loadLinks: function(item) {
		return [{name: item.title, url: this.base + "/" + item.id, quality: "1080p"}];
	}
};
`

const classScript = `
class SubsFinder {
	loadSubtitles(item) {
		var res = http.get(item.path);
		return [{name: res.body, url: item.path, language: "en"}];
	}
}
`

func createTestLogger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{Name: "test", Level: hclog.Error, Output: io.Discard})
}

func writeBundle(t *testing.T, path string, files map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func metadataJSON(className, id string, types ...string) string {
	quoted := ""
	for i, tp := range types {
		if i > 0 {
			quoted += ","
		}
		quoted += fmt.Sprintf("%q", tp)
	}
	idField := ""
	if id != "" {
		idField = fmt.Sprintf(`"id": %q,`, id)
	}
	return fmt.Sprintf(`{%s "className": %q, "types": [%s], "version": "2", "author": ["a", "b"], "settings": {"base": "https://cdn"}}`, idField, className, quoted)
}

func TestParseBundleMetadata(t *testing.T) {
	b, err := ParseBundleMetadata([]byte(metadataJSON("SampleStream", "", "STREAM")))
	require.NoError(t, err)
	assert.Equal(t, "SampleStream", b.ExtensionID(), "id defaults to className")
	assert.Equal(t, pluginmodule.RuntimeScript, b.RuntimeName())
	assert.Equal(t, "index.js", b.MainEntry())

	meta, err := b.ToMetadata("/x.vvf", pluginmodule.OriginSideloadedFile)
	require.NoError(t, err)
	assert.Equal(t, []plugins.CapabilityKind{plugins.KindStream}, meta.Capabilities)
	assert.Equal(t, "a, b", meta.Author)
	assert.True(t, meta.Enabled)

	invalid := []string{
		`{"types": ["stream"]}`,
		`{"className": "X", "types": []}`,
		`{"className": "X", "types": ["stream"], "runtime": "wasm"}`,
		`{"className": "X", "id": "a,b", "types": ["stream"]}`,
		`not json`,
	}
	for _, data := range invalid {
		_, err := ParseBundleMetadata([]byte(data))
		assert.Error(t, err, data)
	}
}

func TestSourceEnumeratesMatchingBundles(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, filepath.Join(dir, "stream.vvf"), map[string]string{
		MetadataFile: metadataJSON("SampleStream", "", "stream"),
		"index.js":   streamScript,
	})
	writeBundle(t, filepath.Join(dir, "nested", "subs.vvf"), map[string]string{
		MetadataFile: metadataJSON("SubsFinder", "subs", "subtitle"),
		"index.js":   classScript,
	})
	writeBundle(t, filepath.Join(dir, "nometa.vvf"), map[string]string{"index.js": ""})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fake.vvf"), []byte("plain text"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.zip"), nil, 0644))

	src, err := NewSource(dir, nil, 0, createTestLogger())
	require.NoError(t, err)
	defer src.Close()

	descs, err := src.Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, descs, 4)

	parser := NewParser(pluginmodule.OriginSideloadedFile)
	var ids []string
	failures := 0
	for _, d := range descs {
		meta, err := parser.Parse(d)
		if err != nil {
			failures++
			continue
		}
		ids = append(ids, meta.ID)
	}
	assert.Equal(t, 2, failures)
	assert.ElementsMatch(t, []string{"SampleStream", "subs"}, ids)
}

func TestSourceSignalsNestedBundleChanges(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0755))

	src, err := NewSource(dir, nil, 20*time.Millisecond, createTestLogger())
	require.NoError(t, err)
	defer src.Close()

	changed := make(chan struct{}, 4)
	src.Subscribe(func() { changed <- struct{}{} })

	writeBundle(t, filepath.Join(dir, "nested", "subs.vvf"), map[string]string{
		MetadataFile: metadataJSON("SubsFinder", "subs", "subtitle"),
		"index.js":   classScript,
	})

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("no change signal for nested bundle")
	}
}

func TestInvalidPatternRejected(t *testing.T) {
	_, err := NewSource(t.TempDir(), []string{"[unclosed"}, 0, nil)
	assert.Error(t, err)
}

func TestScriptObjectLiteral(t *testing.T) {
	ext, err := newScriptExtension("s", "SampleStream", "index.js", streamScript, time.Second, createTestLogger())
	require.NoError(t, err)
	require.NoError(t, ext.Init(plugins.Settings{"base": "https://cdn"}, nil))

	assert.True(t, plugins.Implements(ext, plugins.KindStream))
	assert.False(t, plugins.Implements(ext, plugins.KindSubtitle))

	links, err := ext.LoadLinks(context.Background(), plugins.MediaItem{ID: "42", Title: "Heat"})
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "Heat", links[0].Name)
	assert.Equal(t, "https://cdn/42", links[0].URL)
}

func TestScriptClassUsesHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("from server"))
	}))
	defer srv.Close()

	ext, err := newScriptExtension("subs", "SubsFinder", "index.js", classScript, time.Second, createTestLogger())
	require.NoError(t, err)
	require.NoError(t, ext.Init(nil, srv.Client()))

	subs, err := ext.LoadSubtitles(context.Background(), plugins.MediaItem{Path: srv.URL})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "from server", subs[0].Name)
}

func TestScriptTimeoutInterrupts(t *testing.T) {
	src := `var Spin = { search: function(q) { while (true) {} } };`
	ext, err := newScriptExtension("spin", "Spin", "index.js", src, 50*time.Millisecond, createTestLogger())
	require.NoError(t, err)

	_, err = ext.Search(context.Background(), "x")
	assert.ErrorContains(t, err, "interrupted")

	// the runtime stays usable once the interrupt is cleared
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ext.Search(ctx, "x")
	assert.Error(t, err)
}

func TestScriptMissingEntry(t *testing.T) {
	_, err := newScriptExtension("x", "Missing", "index.js", `var Other = {};`, time.Second, nil)
	assert.Error(t, err)
	_, err = newScriptExtension("x", "Broken", "index.js", `var = ;`, time.Second, nil)
	assert.Error(t, err)
}

func TestRepositoryLoadsScriptBundle(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, filepath.Join(dir, "stream.vvf"), map[string]string{
		MetadataFile: metadataJSON("SampleStream", "", "stream"),
		"index.js":   streamScript,
	})

	src, err := NewSource(dir, nil, 0, createTestLogger())
	require.NoError(t, err)
	b := Binding(src, NewLoader(t.TempDir(), nil, time.Second, createTestLogger()))
	repo := pluginmodule.NewRepository(plugins.KindStream, b.Source, b.Parser, b.Instantiator)
	defer repo.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := repo.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Handles, 1)

	instance, err := snap.Handles[0].Instance(ctx)
	require.NoError(t, err)
	links, err := instance.(plugins.StreamClient).LoadLinks(ctx, plugins.MediaItem{ID: "1", Title: "Alien"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/1", links[0].URL, "settings defaults reach init")
}

func TestProcessBundleWithoutLauncher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proc.vvf")
	writeBundle(t, path, map[string]string{
		MetadataFile: `{"className": "Proc", "types": ["stream"], "runtime": "process"}`,
		"Proc":       "#!/bin/sh\n",
	})

	_, err := NewLoader(t.TempDir(), nil, 0, nil).Load(context.Background(), path, &pluginmodule.ExtensionMetadata{ID: "Proc"})
	assert.Error(t, err)
}
