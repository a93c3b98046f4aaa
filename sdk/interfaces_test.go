package plugins

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type subtitleOnly struct {
	BaseExtension
}

func (s *subtitleOnly) LoadSubtitles(ctx context.Context, item MediaItem) ([]Subtitle, error) {
	return []Subtitle{{Name: item.Title, Language: s.Setting("lang", "en")}}, nil
}

type reporter struct {
	BaseExtension
	kinds []CapabilityKind
}

func (r *reporter) Capabilities() []CapabilityKind { return r.kinds }

func TestImplements(t *testing.T) {
	ext := &subtitleOnly{}
	assert.True(t, Implements(ext, KindSubtitle))
	assert.False(t, Implements(ext, KindDatabase))
	assert.False(t, Implements(ext, KindStream))
	assert.Equal(t, []CapabilityKind{KindSubtitle}, KindsOf(ext))
	assert.False(t, Implements(nil, KindSubtitle))
}

func TestImplementsUsesReporter(t *testing.T) {
	r := &reporter{kinds: []CapabilityKind{KindStream}}
	assert.True(t, Implements(r, KindStream))
	assert.False(t, Implements(r, KindSubtitle))
}

func TestParseCapabilityKinds(t *testing.T) {
	kinds, err := ParseCapabilityKinds([]string{"SUBTITLE", "database", "subtitle"})
	require.NoError(t, err)
	assert.Equal(t, []CapabilityKind{KindDatabase, KindSubtitle}, kinds)

	_, err = ParseCapabilityKinds([]string{"music"})
	assert.Error(t, err)

	_, err = ParseCapabilityKinds(nil)
	assert.Error(t, err)
}

func TestBaseExtension(t *testing.T) {
	ext := &subtitleOnly{}
	assert.Equal(t, http.DefaultClient, ext.HTTPClient())

	client := &http.Client{}
	require.NoError(t, ext.Init(Settings{"lang": "fr"}, client))
	assert.Same(t, client, ext.HTTPClient())

	subs, err := ext.LoadSubtitles(context.Background(), MediaItem{Title: "Heat"})
	require.NoError(t, err)
	assert.Equal(t, "fr", subs[0].Language)
}
