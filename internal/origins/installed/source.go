// Package installed is the origin for extension packages installed under
// the packages directory. Each package is a directory holding a plugin.cue
// or plugin.yaml manifest and an executable served with sdk.Serve.
package installed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/vvf/internal/modules/pluginmodule"
	"github.com/mantonx/vvf/internal/origins/watch"
	plugins "github.com/mantonx/vvf/sdk"
)

// SourceName is the name the installed origin reports.
const SourceName = "installed"

const (
	attrFormat = "format"
	attrDir    = "dir"

	formatCUE  = "cue"
	formatYAML = "yaml"
)

// Source lists package directories.
type Source struct {
	dir      string
	logger   hclog.Logger
	notifier *watch.Notifier
}

// NewSource creates a source over dir. A zero debounce uses the default.
func NewSource(dir string, debounce time.Duration, logger hclog.Logger) *Source {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Source{
		dir:      dir,
		logger:   logger.Named(SourceName),
		notifier: watch.NewNotifier(dir, debounce, logger, watch.WithSubdirs()),
	}
}

func (s *Source) Name() string                { return SourceName }
func (s *Source) Origin() pluginmodule.Origin { return pluginmodule.OriginInstalledPackage }
func (s *Source) Dir() string                 { return s.dir }

// Subscribe signals on install, uninstall and manifest rewrites.
func (s *Source) Subscribe(fn func()) func() {
	return s.notifier.Subscribe(fn)
}

// Close stops the directory watch.
func (s *Source) Close() error {
	return s.notifier.Close()
}

// Enumerate reads every package manifest. A packages directory that does
// not exist yet is empty, not unreachable.
func (s *Source) Enumerate(ctx context.Context) ([]pluginmodule.RawDescriptor, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read packages dir: %w", err)
	}

	var out []pluginmodule.RawDescriptor
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() {
			continue
		}
		pkgDir := filepath.Join(s.dir, e.Name())
		desc, ok := ReadPackage(pkgDir)
		if !ok {
			s.logger.Debug("skipping directory without manifest", "dir", e.Name())
			continue
		}
		out = append(out, desc)
	}
	return out, nil
}

// ReadPackage reads the manifest of the package in pkgDir, preferring
// plugin.cue over the yaml forms.
func ReadPackage(pkgDir string) (pluginmodule.RawDescriptor, bool) {
	for _, candidate := range []struct{ name, format string }{
		{ManifestCUE, formatCUE},
		{ManifestYAML, formatYAML},
		{ManifestYML, formatYAML},
	} {
		path := filepath.Join(pkgDir, candidate.name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		return pluginmodule.RawDescriptor{
			Source:     SourceName,
			Locator:    path,
			Data:       data,
			Attributes: map[string]string{attrFormat: candidate.format, attrDir: pkgDir},
		}, true
	}
	return pluginmodule.RawDescriptor{}, false
}

// Parser turns package manifests into metadata.
type Parser struct {
	cue *CUEParser
}

// NewParser creates a parser.
func NewParser() *Parser {
	return &Parser{cue: NewCUEParser()}
}

func (p *Parser) Parse(desc pluginmodule.RawDescriptor) (*pluginmodule.ExtensionMetadata, error) {
	var (
		m   *Manifest
		err error
	)
	switch desc.Attributes[attrFormat] {
	case formatCUE:
		m, err = p.cue.Parse(desc.Locator, desc.Data)
	case formatYAML:
		m, err = ParseYAML(desc.Data)
	default:
		return nil, fmt.Errorf("unknown manifest format %q", desc.Attributes[attrFormat])
	}
	if err != nil {
		return nil, err
	}
	return ManifestMetadata(m, desc.Attributes[attrDir])
}

// ManifestMetadata converts a manifest of the package in pkgDir.
func ManifestMetadata(m *Manifest, pkgDir string) (*pluginmodule.ExtensionMetadata, error) {
	if m.ID == "" {
		return nil, fmt.Errorf("manifest has no id")
	}
	kinds, err := plugins.ParseCapabilityKinds(m.Types)
	if err != nil {
		return &pluginmodule.ExtensionMetadata{ID: m.ID}, err
	}
	binary, err := m.Binary(pkgDir)
	if err != nil {
		return &pluginmodule.ExtensionMetadata{ID: m.ID}, err
	}

	enabled := true
	if m.Enabled != nil {
		enabled = *m.Enabled
	}
	name := m.Name
	if name == "" {
		name = m.ID
	}
	return &pluginmodule.ExtensionMetadata{
		ID:           m.ID,
		EntryPoint:   m.EntryPoint(),
		Locator:      binary,
		Origin:       pluginmodule.OriginInstalledPackage,
		Capabilities: kinds,
		Name:         name,
		Version:      m.Version,
		Description:  m.Description,
		Author:       m.Author,
		IconURL:      m.IconURL,
		UpdateURL:    m.UpdateURL,
		RepoURL:      m.RepoURL,
		Runtime:      pluginmodule.RuntimeProcess,
		Settings:     m.Settings,
		Enabled:      enabled,
	}, nil
}
