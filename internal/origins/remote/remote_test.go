package remote

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/vvf/internal/modules/pluginmodule"
	"github.com/mantonx/vvf/internal/origins/sideload"
	plugins "github.com/mantonx/vvf/sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dbScript = `
var RemoteDB = {
	search: function(q) { return [{id: "1", type: "movie", title: q.toUpperCase()}]; }
};
`

func createTestLogger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{Name: "test", Level: hclog.Error, Output: io.Discard})
}

func bundleBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range map[string]string{
		sideload.MetadataFile: `{"className": "RemoteDB", "types": ["database"], "version": "1.0.0"}`,
		"index.js":            dbScript,
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type indexServer struct {
	*httptest.Server
	downloads atomic.Int32
	fail      atomic.Bool
}

func newIndexServer(t *testing.T) *indexServer {
	s := &indexServer{}
	bundle := bundleBytes(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/index.json", func(w http.ResponseWriter, r *http.Request) {
		if s.fail.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, `{"extensions": [
			{"className": "RemoteDB", "types": ["database"], "version": "1.0.0", "url": "%[1]s/remote.vvf"},
			{"className": "NoURL", "types": ["database"]},
			{"types": ["database"], "url": "%[1]s/x.vvf"}
		]}`, s.URL)
	})
	mux.HandleFunc("/remote.vvf", func(w http.ResponseWriter, r *http.Request) {
		s.downloads.Add(1)
		_, _ = w.Write(bundle)
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func TestEnumerateAndParseIndex(t *testing.T) {
	srv := newIndexServer(t)
	src, err := NewSource(srv.URL+"/index.json", "", srv.Client(), createTestLogger())
	require.NoError(t, err)
	defer src.Close()

	descs, err := src.Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, descs, 3)

	parser := NewParser()
	meta, err := parser.Parse(descs[0])
	require.NoError(t, err)
	assert.Equal(t, "RemoteDB", meta.ID)
	assert.Equal(t, pluginmodule.OriginRemote, meta.Origin)
	assert.Equal(t, srv.URL+"/remote.vvf", meta.Locator)

	_, err = parser.Parse(descs[1])
	assert.Error(t, err, "entry without url")
	_, err = parser.Parse(descs[2])
	assert.Error(t, err, "entry without className")
}

func TestEnumerateFailsWhenIndexDown(t *testing.T) {
	srv := newIndexServer(t)
	srv.fail.Store(true)
	src, err := NewSource(srv.URL+"/index.json", "", srv.Client(), nil)
	require.NoError(t, err)

	_, err = src.Enumerate(context.Background())
	assert.Error(t, err)
}

func TestNewSourceValidates(t *testing.T) {
	_, err := NewSource("", "", nil, nil)
	assert.Error(t, err)
	_, err = NewSource("http://x", "whenever", nil, nil)
	assert.Error(t, err)
}

func TestDownloaderCachesBundle(t *testing.T) {
	srv := newIndexServer(t)
	loader := sideload.NewLoader(t.TempDir(), nil, time.Second, createTestLogger())
	d := NewDownloader(t.TempDir(), srv.Client(), loader, createTestLogger())

	meta := &pluginmodule.ExtensionMetadata{
		ID:           "RemoteDB",
		EntryPoint:   "RemoteDB",
		Locator:      srv.URL + "/remote.vvf",
		Version:      "1.0.0",
		Capabilities: []plugins.CapabilityKind{plugins.KindDatabase},
		Runtime:      pluginmodule.RuntimeScript,
	}

	for i := 0; i < 2; i++ {
		instance, err := d.Instantiate(context.Background(), meta)
		require.NoError(t, err)
		require.NoError(t, instance.Init(nil, nil))
		items, err := instance.(plugins.DatabaseClient).Search(context.Background(), "heat")
		require.NoError(t, err)
		assert.Equal(t, "HEAT", items[0].Title)
	}
	assert.Equal(t, int32(1), srv.downloads.Load())

	meta.Version = "1.0.1"
	_, err := d.Instantiate(context.Background(), meta)
	require.NoError(t, err)
	assert.Equal(t, int32(2), srv.downloads.Load(), "a new version is downloaded again")
}

func TestScheduleSignals(t *testing.T) {
	src, err := NewSource("http://127.0.0.1:1/index.json", "@every 1s", nil, nil)
	require.NoError(t, err)
	defer src.Close()

	fired := make(chan struct{}, 1)
	src.Subscribe(func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("schedule never fired")
	}
}
