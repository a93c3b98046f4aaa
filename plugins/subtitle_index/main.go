// Command subtitle_index is a process extension that looks subtitles up in
// a JSON index served over HTTP.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	plugins "github.com/mantonx/vvf/sdk"
)

// Index is the subtitle index client.
type Index struct {
	plugins.BaseExtension
	client *http.Client
}

// Init validates the settings.
func (i *Index) Init(settings plugins.Settings, client *http.Client) error {
	if err := i.BaseExtension.Init(settings, client); err != nil {
		return err
	}
	if client == nil {
		// Process extensions get no host client over RPC.
		client = &http.Client{Timeout: 15 * time.Second}
	}
	i.client = client
	return nil
}

type indexEntry struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Language string `json:"language"`
	Format   string `json:"format"`
}

// LoadSubtitles queries <index_url>?title=&year=&lang=.
func (i *Index) LoadSubtitles(ctx context.Context, item plugins.MediaItem) ([]plugins.Subtitle, error) {
	base := i.Setting("index_url", "")
	if base == "" {
		return nil, plugins.ErrConfig
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid index_url: %w", err)
	}
	q := u.Query()
	q.Set("title", item.Title)
	if item.Year > 0 {
		q.Set("year", strconv.Itoa(item.Year))
	}
	if lang := i.Setting("language", ""); lang != "" {
		q.Set("lang", lang)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("index request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("index returned %s", resp.Status)
	}

	var entries []indexEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("invalid index response: %w", err)
	}
	subs := make([]plugins.Subtitle, 0, len(entries))
	for _, e := range entries {
		if e.URL == "" {
			continue
		}
		subs = append(subs, plugins.Subtitle{Name: e.Name, URL: e.URL, Language: e.Language, Format: e.Format})
	}
	return subs, nil
}

func main() {
	plugins.Serve(&Index{})
}
