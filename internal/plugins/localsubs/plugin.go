// Package localsubs is a builtin subtitle extension that finds sidecar
// subtitle files next to a media item or in a shared directory.
package localsubs

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mantonx/vvf/internal/origins/builtin"
	plugins "github.com/mantonx/vvf/sdk"
)

// ExtensionID is the id the extension registers under.
const ExtensionID = "local_subtitles"

// Setting keys.
const (
	SettingSearchDir = "search_dir"
	SettingLanguage  = "default_language"
)

var subtitleFormats = map[string]string{
	".srt": "srt",
	".vtt": "vtt",
	".ass": "ass",
	".ssa": "ssa",
}

func init() {
	builtin.Register(builtin.Definition{
		ID:           ExtensionID,
		Name:         "Local Subtitles",
		Version:      "1.0.0",
		Description:  "Sidecar subtitle files from disk",
		Author:       "vvf",
		Capabilities: []plugins.CapabilityKind{plugins.KindSubtitle},
		Settings: map[string]string{
			SettingSearchDir: "",
			SettingLanguage:  "und",
		},
		Factory: func() plugins.Extension { return &Plugin{} },
	})
}

// Plugin implements plugins.SubtitleClient.
type Plugin struct {
	searchDir string
	language  string
}

func (p *Plugin) Init(settings plugins.Settings, _ *http.Client) error {
	p.searchDir = settings.Get(SettingSearchDir, "")
	p.language = settings.Get(SettingLanguage, "und")
	if p.searchDir != "" {
		st, err := os.Stat(p.searchDir)
		if err != nil {
			return fmt.Errorf("subtitle search dir: %w", err)
		}
		if !st.IsDir() {
			return fmt.Errorf("subtitle search dir %s is not a directory", p.searchDir)
		}
	}
	return nil
}

// LoadSubtitles lists subtitle files whose name starts with the media
// file's base name, for example "Heat (1995).en.srt".
func (p *Plugin) LoadSubtitles(ctx context.Context, item plugins.MediaItem) ([]plugins.Subtitle, error) {
	base := subtitleBase(item)
	if base == "" {
		return nil, nil
	}

	dirs := make([]string, 0, 2)
	if item.Path != "" {
		dirs = append(dirs, filepath.Dir(item.Path))
	}
	if p.searchDir != "" {
		dirs = append(dirs, p.searchDir)
	}

	seen := make(map[string]bool)
	var subs []plugins.Subtitle
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			sub, ok := p.match(dir, e.Name(), base)
			if !ok || seen[sub.URL] {
				continue
			}
			seen[sub.URL] = true
			subs = append(subs, sub)
		}
	}

	sort.Slice(subs, func(i, j int) bool { return subs[i].Name < subs[j].Name })
	return subs, nil
}

func (p *Plugin) match(dir, name, base string) (plugins.Subtitle, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	format, ok := subtitleFormats[ext]
	if !ok {
		return plugins.Subtitle{}, false
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if !strings.EqualFold(stem, base) && !strings.HasPrefix(strings.ToLower(stem), strings.ToLower(base)+".") {
		return plugins.Subtitle{}, false
	}

	lang := p.language
	if rest := stem[len(base):]; rest != "" {
		// "Movie.en" or "Movie.en.forced"
		parts := strings.Split(strings.TrimPrefix(rest, "."), ".")
		if len(parts[0]) == 2 || len(parts[0]) == 3 {
			lang = strings.ToLower(parts[0])
		}
	}

	path := filepath.Join(dir, name)
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return plugins.Subtitle{Name: name, URL: u.String(), Language: lang, Format: format}, true
}

func subtitleBase(item plugins.MediaItem) string {
	if item.Path != "" {
		return strings.TrimSuffix(filepath.Base(item.Path), filepath.Ext(item.Path))
	}
	if item.Title == "" {
		return ""
	}
	if item.Year > 0 {
		return fmt.Sprintf("%s (%d)", item.Title, item.Year)
	}
	return item.Title
}
