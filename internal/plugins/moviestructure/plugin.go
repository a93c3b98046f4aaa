// Package moviestructure is a builtin database extension that answers
// searches from the movie files of a local library, using only their names.
package moviestructure

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/mantonx/vvf/internal/origins/builtin"
	"github.com/mantonx/vvf/internal/utils"
	plugins "github.com/mantonx/vvf/sdk"
)

// ExtensionID is the id the extension registers under.
const ExtensionID = "movie_structure"

const (
	settingLibraryDir = "library_dir"
	settingMaxResults = "max_results"
)

// videoPattern matches the video containers commonly used for movies.
const videoPattern = "**/*.{mkv,mp4,avi,mov,wmv,flv,webm,m4v,ts,mts,m2ts,mpg,mpeg,ogv}"

func init() {
	builtin.Register(builtin.Definition{
		ID:           ExtensionID,
		Name:         "Movie Structure",
		Version:      "1.0.0",
		Description:  "Finds movies in a local library by parsing their file names",
		Author:       "vvf",
		Capabilities: []plugins.CapabilityKind{plugins.KindDatabase},
		Settings: map[string]string{
			settingLibraryDir: "",
			settingMaxResults: "50",
		},
		Factory: func() plugins.Extension { return New() },
	})
}

// Plugin implements plugins.DatabaseClient over a directory tree.
type Plugin struct {
	libraryDir string
	maxResults int
}

// New creates an uninitialised plugin.
func New() *Plugin {
	return &Plugin{maxResults: 50}
}

func (p *Plugin) Init(settings plugins.Settings, _ *http.Client) error {
	p.libraryDir = settings.Get(settingLibraryDir, "")
	if v := settings.Get(settingMaxResults, ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid %s %q", settingMaxResults, v)
		}
		p.maxResults = n
	}
	return nil
}

// Search returns the movies whose parsed title contains query.
func (p *Plugin) Search(ctx context.Context, query string) ([]plugins.MediaItem, error) {
	if p.libraryDir == "" {
		return nil, fmt.Errorf("%w: %s is not set", plugins.ErrConfig, settingLibraryDir)
	}

	matches, err := doublestar.Glob(os.DirFS(p.libraryDir), videoPattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to list library: %w", err)
	}

	q := strings.ToLower(strings.TrimSpace(query))
	items := make([]plugins.MediaItem, 0)
	for _, rel := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info := ParseMovieFilename(rel)
		if info == nil || !strings.Contains(strings.ToLower(info.Title), q) {
			continue
		}

		path := filepath.Join(p.libraryDir, filepath.FromSlash(rel))
		item := plugins.MediaItem{
			ID:    utils.ShortHash(path),
			Type:  plugins.MediaTypeMovie,
			Title: info.Title,
			Year:  info.Year,
			Path:  path,
		}
		if info.ImdbID != "" {
			item.ExternalIDs = map[string]string{"imdb": info.ImdbID}
		}
		items = append(items, item)
		if len(items) >= p.maxResults {
			break
		}
	}
	return items, nil
}
