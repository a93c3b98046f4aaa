// Package icons fetches extension icons and stores them as WebP.
package icons

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chai2010/webp"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/vvf/internal/utils"
)

const maxIconSize = 2 << 20

// Icon is a cached icon file.
type Icon struct {
	Path        string
	ContentType string
}

// Cache keeps icons under dir keyed by source URL.
type Cache struct {
	dir    string
	client *resty.Client
	logger hclog.Logger

	mu       sync.Mutex
	inflight map[string]*sync.Mutex
}

// NewCache creates a cache in dir. httpClient may be nil.
func NewCache(dir string, httpClient *http.Client, logger hclog.Logger) *Cache {
	client := resty.New()
	if httpClient != nil {
		client = resty.NewWithClient(httpClient)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Cache{
		dir:      dir,
		client:   client,
		logger:   logger.Named("icons"),
		inflight: make(map[string]*sync.Mutex),
	}
}

func (c *Cache) lock(key string) func() {
	c.mu.Lock()
	m, ok := c.inflight[key]
	if !ok {
		m = &sync.Mutex{}
		c.inflight[key] = m
	}
	c.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Get returns the cached icon for url, fetching and converting it on first use.
// SVG icons are stored unchanged.
func (c *Cache) Get(ctx context.Context, url string) (Icon, error) {
	if url == "" {
		return Icon{}, fmt.Errorf("no icon url")
	}
	key := utils.ShortHash(url)
	unlock := c.lock(key)
	defer unlock()

	webpPath := filepath.Join(c.dir, key+".webp")
	svgPath := filepath.Join(c.dir, key+".svg")
	if utils.FileExists(webpPath) {
		return Icon{Path: webpPath, ContentType: "image/webp"}, nil
	}
	if utils.FileExists(svgPath) {
		return Icon{Path: svgPath, ContentType: "image/svg+xml"}, nil
	}

	resp, err := c.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return Icon{}, fmt.Errorf("failed to fetch icon: %w", err)
	}
	if resp.IsError() {
		return Icon{}, fmt.Errorf("failed to fetch icon: %s", resp.Status())
	}
	data := resp.Body()
	if len(data) > maxIconSize {
		return Icon{}, fmt.Errorf("icon is larger than %d bytes", maxIconSize)
	}

	mt := mimetype.Detect(data)
	if mt.Is("image/svg+xml") {
		if err := utils.WriteFileAtomic(svgPath, bytes.NewReader(data), 0644); err != nil {
			return Icon{}, err
		}
		return Icon{Path: svgPath, ContentType: "image/svg+xml"}, nil
	}

	converted, err := ConvertToWebP(data, mt.String())
	if err != nil {
		return Icon{}, err
	}
	if err := utils.WriteFileAtomic(webpPath, bytes.NewReader(converted), 0644); err != nil {
		return Icon{}, err
	}
	c.logger.Debug("cached icon", "url", url, "bytes", len(converted))
	return Icon{Path: webpPath, ContentType: "image/webp"}, nil
}

// Purge removes every cached icon.
func (c *Cache) Purge() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// ConvertToWebP converts an image to WebP format at full quality
func ConvertToWebP(data []byte, mimeType string) ([]byte, error) {
	if strings.EqualFold(mimeType, "image/webp") {
		if _, err := webp.DecodeConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("failed to decode image: %w", err)
		}
		return data, nil
	}

	img, err := decodeImage(data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Lossless: true}); err != nil {
		return nil, fmt.Errorf("failed to encode as WebP: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeImage(data []byte, mimeType string) (image.Image, error) {
	reader := bytes.NewReader(data)
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg":
		return jpeg.Decode(reader)
	case "image/png":
		return png.Decode(reader)
	case "image/gif":
		return gif.Decode(reader)
	}
	return nil, fmt.Errorf("unsupported icon type %s", mimeType)
}
