package sideload

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/gabriel-vasile/mimetype"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/vvf/internal/modules/pluginmodule"
	"github.com/mantonx/vvf/internal/origins/watch"
	"github.com/mantonx/vvf/internal/utils"
)

// SourceName is the name the sideload origin reports.
const SourceName = "sideload"

// DefaultPatterns match bundles anywhere under the sideload dir.
var DefaultPatterns = []string{"*.vvf", "**/*.vvf"}

const (
	attrError = "error"
	attrMIME  = "mime"
)

// Source lists bundles matching the include patterns.
type Source struct {
	dir      string
	patterns []string
	logger   hclog.Logger
	notifier *watch.Notifier
}

// NewSource creates a source over dir. Invalid patterns are rejected.
func NewSource(dir string, patterns []string, debounce time.Duration, logger hclog.Logger) (*Source, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid sideload pattern %q", p)
		}
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	s := &Source{
		dir:      dir,
		patterns: append([]string(nil), patterns...),
		logger:   logger.Named(SourceName),
	}
	s.notifier = watch.NewNotifier(dir, debounce, logger, watch.WithRecursive(), watch.WithFilter(s.relevant))
	return s, nil
}

func (s *Source) Name() string                { return SourceName }
func (s *Source) Origin() pluginmodule.Origin { return pluginmodule.OriginSideloadedFile }
func (s *Source) Dir() string                 { return s.dir }

// Subscribe signals when a matching bundle is created, written, removed or renamed.
func (s *Source) Subscribe(fn func()) func() {
	return s.notifier.Subscribe(fn)
}

// Close stops the directory watch.
func (s *Source) Close() error {
	return s.notifier.Close()
}

func (s *Source) relevant(event fsnotify.Event) bool {
	rel, err := filepath.Rel(s.dir, event.Name)
	if err != nil {
		return false
	}
	return s.matches(filepath.ToSlash(rel))
}

func (s *Source) matches(rel string) bool {
	for _, p := range s.patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// Enumerate lists matching files. Files that are not readable zip bundles
// still produce a descriptor so the parser reports them.
func (s *Source) Enumerate(ctx context.Context) ([]pluginmodule.RawDescriptor, error) {
	if _, err := os.Stat(s.dir); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sideload dir: %w", err)
	}

	fsys := os.DirFS(s.dir)
	seen := make(map[string]bool)
	var paths []string
	for _, p := range s.patterns {
		matches, err := doublestar.Glob(fsys, p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("failed to match %q: %w", p, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				paths = append(paths, m)
			}
		}
	}
	sort.Strings(paths)

	out := make([]pluginmodule.RawDescriptor, 0, len(paths))
	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, ReadDescriptor(SourceName, filepath.Join(s.dir, filepath.FromSlash(rel))))
	}
	return out, nil
}

// ReadDescriptor sniffs the file at path and reads its metadata.json.
func ReadDescriptor(source, path string) pluginmodule.RawDescriptor {
	desc := pluginmodule.RawDescriptor{Source: source, Locator: path, Attributes: map[string]string{}}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		desc.Attributes[attrError] = err.Error()
		return desc
	}
	desc.Attributes[attrMIME] = mt.String()
	if !isZip(mt) {
		desc.Attributes[attrError] = fmt.Sprintf("not a zip bundle (%s)", mt.String())
		return desc
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		desc.Attributes[attrError] = err.Error()
		return desc
	}
	defer zr.Close()
	data, err := utils.ReadZipEntry(&zr.Reader, MetadataFile)
	if err != nil {
		desc.Attributes[attrError] = err.Error()
		return desc
	}
	desc.Data = data
	return desc
}

func isZip(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("application/zip") {
			return true
		}
	}
	return false
}

// Parser turns bundle descriptors into metadata for one origin.
type Parser struct {
	origin pluginmodule.Origin
}

// NewParser creates a parser stamping origin.
func NewParser(origin pluginmodule.Origin) *Parser {
	return &Parser{origin: origin}
}

func (p *Parser) Parse(desc pluginmodule.RawDescriptor) (*pluginmodule.ExtensionMetadata, error) {
	if msg := desc.Attributes[attrError]; msg != "" {
		return nil, errors.New(msg)
	}
	b, err := ParseBundleMetadata(desc.Data)
	if err != nil {
		return nil, err
	}
	return b.ToMetadata(desc.Locator, p.origin)
}
