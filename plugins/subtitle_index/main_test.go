package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	plugins "github.com/mantonx/vvf/sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSubtitles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Heat", r.URL.Query().Get("title"))
		assert.Equal(t, "1995", r.URL.Query().Get("year"))
		assert.Equal(t, "de", r.URL.Query().Get("lang"))
		w.Write([]byte(`[{"name": "Heat.de.srt", "url": "https://subs/1", "language": "de", "format": "srt"}, {"name": "no url"}]`))
	}))
	defer srv.Close()

	idx := &Index{}
	require.NoError(t, idx.Init(plugins.Settings{"index_url": srv.URL, "language": "de"}, srv.Client()))
	assert.True(t, plugins.Implements(idx, plugins.KindSubtitle))

	subs, err := idx.LoadSubtitles(context.Background(), plugins.MediaItem{Title: "Heat", Year: 1995})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "https://subs/1", subs[0].URL)
}

func TestLoadSubtitlesUnconfigured(t *testing.T) {
	idx := &Index{}
	require.NoError(t, idx.Init(plugins.Settings{}, nil))
	_, err := idx.LoadSubtitles(context.Background(), plugins.MediaItem{Title: "Heat"})
	assert.ErrorIs(t, err, plugins.ErrConfig)
}
