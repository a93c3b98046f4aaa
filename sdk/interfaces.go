// Package plugins provides the interfaces and helpers for writing vvf
// extensions. It is imported by extensions and by the host, and has no
// dependency on the host itself.
package plugins

import (
	"context"
	"errors"
	"net/http"
)

// ErrConfig is returned by capabilities that are loaded but cannot work,
// for example because a required credential was never configured.
var ErrConfig = errors.New("extension is not configured")

// Extension is implemented by every capability instance.
type Extension interface {
	// Init hands the extension its settings and the shared HTTP client.
	// It is called once, right after construction.
	Init(settings Settings, client *http.Client) error
}

// DatabaseClient looks up metadata for media items.
type DatabaseClient interface {
	Extension
	Search(ctx context.Context, query string) ([]MediaItem, error)
}

// StreamClient resolves playable links.
type StreamClient interface {
	Extension
	LoadLinks(ctx context.Context, item MediaItem) ([]StreamLink, error)
}

// SubtitleClient finds subtitles.
type SubtitleClient interface {
	Extension
	LoadSubtitles(ctx context.Context, item MediaItem) ([]Subtitle, error)
}

// CapabilityReporter is implemented by adapters whose Go type satisfies every
// capability interface but whose backing implementation may not, such as RPC
// clients and script bridges.
type CapabilityReporter interface {
	Capabilities() []CapabilityKind
}

// Implements reports whether instance can serve kind.
func Implements(instance Extension, kind CapabilityKind) bool {
	if instance == nil {
		return false
	}
	if r, ok := instance.(CapabilityReporter); ok {
		for _, k := range r.Capabilities() {
			if k == kind {
				return true
			}
		}
		return false
	}
	switch kind {
	case KindDatabase:
		_, ok := instance.(DatabaseClient)
		return ok
	case KindStream:
		_, ok := instance.(StreamClient)
		return ok
	case KindSubtitle:
		_, ok := instance.(SubtitleClient)
		return ok
	}
	return false
}

// KindsOf returns every capability kind instance implements.
func KindsOf(instance Extension) []CapabilityKind {
	var kinds []CapabilityKind
	for _, k := range AllKinds {
		if Implements(instance, k) {
			kinds = append(kinds, k)
		}
	}
	return kinds
}
