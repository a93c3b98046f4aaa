package icons

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/chai2010/webp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestGetConvertsAndCaches(t *testing.T) {
	var hits atomic.Int32
	data := pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/icon.png":
			_, _ = w.Write(data)
		case "/icon.svg":
			_, _ = w.Write([]byte(`<svg xmlns="http://www.w3.org/2000/svg" width="4" height="4"></svg>`))
		case "/text":
			_, _ = w.Write([]byte("hello"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewCache(t.TempDir(), srv.Client(), nil)

	icon, err := c.Get(context.Background(), srv.URL+"/icon.png")
	require.NoError(t, err)
	assert.Equal(t, "image/webp", icon.ContentType)

	f, err := os.Open(icon.Path)
	require.NoError(t, err)
	cfg, err := webp.DecodeConfig(f)
	f.Close()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Width)

	_, err = c.Get(context.Background(), srv.URL+"/icon.png")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "second lookup is served from disk")

	svg, err := c.Get(context.Background(), srv.URL+"/icon.svg")
	require.NoError(t, err)
	assert.Equal(t, "image/svg+xml", svg.ContentType)

	_, err = c.Get(context.Background(), srv.URL+"/text")
	assert.Error(t, err)
	_, err = c.Get(context.Background(), srv.URL+"/missing")
	assert.Error(t, err)

	require.NoError(t, c.Purge())
	_, err = os.Stat(icon.Path)
	assert.True(t, os.IsNotExist(err))
}
