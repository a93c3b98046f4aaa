package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/vvf/internal/config"
	"github.com/mantonx/vvf/internal/database"
	"github.com/mantonx/vvf/internal/metrics"
	"github.com/mantonx/vvf/internal/modules/pluginmodule"
	"github.com/mantonx/vvf/internal/origins/builtin"
	"github.com/mantonx/vvf/internal/server/handlers"
	"github.com/mantonx/vvf/internal/store"
	plugins "github.com/mantonx/vvf/sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type staticStream struct{}

func (staticStream) Init(plugins.Settings, *http.Client) error { return nil }
func (staticStream) LoadLinks(context.Context, plugins.MediaItem) ([]plugins.StreamLink, error) {
	return nil, nil
}

func streamDef(id string) builtin.Definition {
	return builtin.Definition{
		ID:           id,
		Name:         strings.ToUpper(id),
		Capabilities: []plugins.CapabilityKind{plugins.KindStream},
		Settings:     map[string]string{"quality": "1080p"},
		Factory:      func() plugins.Extension { return staticStream{} },
	}
}

type fixture struct {
	server  *Server
	manager *pluginmodule.Manager
	db      *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := builtin.NewRegistry()
	require.NoError(t, reg.Register(streamDef("alpha")))
	require.NoError(t, reg.Register(streamDef("beta")))

	db, err := database.Open(config.DatabaseConfig{Type: "sqlite", DatabasePath: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)

	logger := hclog.New(&hclog.LoggerOptions{Level: hclog.Error})
	m, err := pluginmodule.NewManager(pluginmodule.ManagerConfig{
		Kinds:             []plugins.CapabilityKind{plugins.KindStream},
		Origins:           []pluginmodule.OriginBinding{builtin.Binding(reg)},
		Store:             store.NewGormStore(db),
		PriorityNamespace: "priority",
		SettingsNamespace: "settings",
		Logger:            logger,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.Start(ctx)
	require.NoError(t, m.Refresh(ctx))
	t.Cleanup(func() { m.Shutdown(context.Background()) })

	s, err := New(Options{
		Manager:     m,
		DB:          db,
		Metrics:     metrics.New(),
		MetricsPath: "/metrics",
		Logger:      logger,
	})
	require.NoError(t, err)
	return &fixture{server: s, manager: m, db: db}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func activeIDs(t *testing.T, w *httptest.ResponseRecorder) []string {
	t.Helper()
	var view struct {
		Entries []struct {
			Metadata struct {
				ID string `json:"id"`
			} `json:"metadata"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	ids := make([]string, len(view.Entries))
	for i, e := range view.Entries {
		ids[i] = e.Metadata.ID
	}
	return ids
}

func TestViewAndSelected(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/extensions/stream", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"alpha", "beta"}, activeIDs(t, w))

	w = f.do(t, http.MethodGet, "/api/extensions/stream/selected", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"alpha"`)

	w = f.do(t, http.MethodGet, "/api/extensions/subtitle", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/extensions/bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPriorityAndEnablement(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPut, "/api/extensions/stream/priority", map[string][]string{"ids": {"beta", "alpha"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"beta", "alpha"}, activeIDs(t, f.do(t, http.MethodGet, "/api/extensions/stream", nil)))

	w = f.do(t, http.MethodPut, "/api/extensions/stream/priority", map[string][]string{"ids": {"a,b"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/extensions/stream/beta/disable", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"alpha"}, activeIDs(t, f.do(t, http.MethodGet, "/api/extensions/stream", nil)))

	// disabled extensions remain known
	w = f.do(t, http.MethodGet, "/api/extensions/stream/known", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"beta"`)

	w = f.do(t, http.MethodGet, "/api/extensions/stream/beta", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"active":false`)

	w = f.do(t, http.MethodPost, "/api/extensions/stream/beta/enable", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"beta", "alpha"}, activeIDs(t, f.do(t, http.MethodGet, "/api/extensions/stream", nil)))
}

func TestSettings(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPut, "/api/extensions/stream/alpha/settings", map[string]string{"quality": "720p"})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/extensions/stream/alpha/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"quality":"720p"`)

	w = f.do(t, http.MethodGet, "/api/extensions/stream/missing/settings", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRefreshAndStatus(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/extensions/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code)

	f.server.status.Sync(plugins.KindStream)
	w = f.do(t, http.MethodGet, "/api/status?kind=stream", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"extension_id":"alpha"`)
	assert.Contains(t, w.Body.String(), `"origin":"builtin"`)
}

func TestOptionalDependencies(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/api/processes", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/api/updates", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/api/extensions/stream/alpha/icon", nil).Code)

	w := f.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestErrorStreamSendsViews(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/extensions/stream/errors/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var first handlers.StreamMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "view", first.Type)
	assert.Equal(t, "stream", first.Kind)

	rt, err := f.manager.Runtime(plugins.KindStream)
	require.NoError(t, err)
	require.NoError(t, rt.SetEnabled(context.Background(), "alpha", false))

	var next handlers.StreamMessage
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, "view", next.Type)
}
