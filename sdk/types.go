package plugins

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// CapabilityKind is a role an extension can fulfil.
type CapabilityKind string

const (
	KindDatabase CapabilityKind = "database"
	KindStream   CapabilityKind = "stream"
	KindSubtitle CapabilityKind = "subtitle"
)

// AllKinds lists every capability kind in a stable order.
var AllKinds = []CapabilityKind{KindDatabase, KindStream, KindSubtitle}

// ParseCapabilityKind accepts the lower case kind names plus the upper case
// names used by older bundle descriptors ("DATABASE", "STREAM", "SUBTITLE").
func ParseCapabilityKind(s string) (CapabilityKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "database", "metadata":
		return KindDatabase, nil
	case "stream":
		return KindStream, nil
	case "subtitle", "subtitles":
		return KindSubtitle, nil
	}
	return "", fmt.Errorf("unrecognized capability kind %q", s)
}

// ParseCapabilityKinds parses a list of kinds and returns them sorted and
// without duplicates. An empty list is an error.
func ParseCapabilityKinds(values []string) ([]CapabilityKind, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("no capability kinds declared")
	}
	seen := make(map[CapabilityKind]bool, len(values))
	kinds := make([]CapabilityKind, 0, len(values))
	for _, v := range values {
		kind, err := ParseCapabilityKind(v)
		if err != nil {
			return nil, err
		}
		if seen[kind] {
			continue
		}
		seen[kind] = true
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds, nil
}

// Settings is the init-time configuration handed to an extension.
type Settings map[string]string

// Get returns the value for key or def when unset.
func (s Settings) Get(key, def string) string {
	if v, ok := s[key]; ok && v != "" {
		return v
	}
	return def
}

// MediaType classifies a media item.
type MediaType string

const (
	MediaTypeMovie   MediaType = "movie"
	MediaTypeShow    MediaType = "show"
	MediaTypeEpisode MediaType = "episode"
)

// MediaItem is the unit extensions search for and resolve.
type MediaItem struct {
	ID          string            `json:"id"`
	Type        MediaType         `json:"type"`
	Title       string            `json:"title"`
	Year        int               `json:"year,omitempty"`
	Season      int               `json:"season,omitempty"`
	Episode     int               `json:"episode,omitempty"`
	Path        string            `json:"path,omitempty"`
	Overview    string            `json:"overview,omitempty"`
	PosterURL   string            `json:"poster_url,omitempty"`
	ExternalIDs map[string]string `json:"external_ids,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at,omitempty"`
}

// StreamLink is a playable source for a media item.
type StreamLink struct {
	Name    string            `json:"name"`
	URL     string            `json:"url"`
	Quality string            `json:"quality,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Subtitle is a subtitle track for a media item.
type Subtitle struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Language string `json:"language"`
	Format   string `json:"format,omitempty"`
}
