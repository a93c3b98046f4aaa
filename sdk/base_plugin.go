package plugins

import (
	"net/http"
	"sync"
)

// BaseExtension stores what Init hands over. Extensions embed it and only
// implement their capability methods.
type BaseExtension struct {
	mu       sync.RWMutex
	settings Settings
	client   *http.Client
}

// Init records the settings and HTTP client.
func (b *BaseExtension) Init(settings Settings, client *http.Client) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settings = settings
	b.client = client
	return nil
}

// Setting returns one init setting or def.
func (b *BaseExtension) Setting(key, def string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.settings.Get(key, def)
}

// HTTPClient returns the shared client, or http.DefaultClient before Init.
func (b *BaseExtension) HTTPClient() *http.Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.client == nil {
		return http.DefaultClient
	}
	return b.client
}
