package installed

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// Manifest file names, in lookup order.
const (
	ManifestCUE  = "plugin.cue"
	ManifestYAML = "plugin.yaml"
	ManifestYML  = "plugin.yml"
)

// Manifest is the package descriptor. In plugin.cue the fields live under a
// #Plugin definition, or at the top level when there is none.
type Manifest struct {
	Class       string            `yaml:"class" json:"class"`
	ID          string            `yaml:"id" json:"id"`
	Name        string            `yaml:"name" json:"name"`
	Version     string            `yaml:"version" json:"version"`
	Description string            `yaml:"description" json:"description"`
	Author      string            `yaml:"author" json:"author"`
	AuthorURL   string            `yaml:"author_url" json:"author_url"`
	IconURL     string            `yaml:"icon_url" json:"icon_url"`
	RepoURL     string            `yaml:"repo_url" json:"repo_url"`
	UpdateURL   string            `yaml:"update_url" json:"update_url"`
	Enabled     *bool             `yaml:"enabled" json:"enabled"`
	Types       []string          `yaml:"types" json:"types"`
	Entry       string            `yaml:"entry" json:"entry"`
	Settings    map[string]string `yaml:"settings" json:"settings"`
}

// EntryPoint is the class, falling back to the id.
func (m *Manifest) EntryPoint() string {
	if m.Class != "" {
		return m.Class
	}
	return m.ID
}

// Binary resolves the executable inside pkgDir. It defaults to the id and
// may not leave the package directory.
func (m *Manifest) Binary(pkgDir string) (string, error) {
	entry := m.Entry
	if entry == "" {
		entry = m.ID
	}
	clean := filepath.Clean(filepath.FromSlash(entry))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("entry %q escapes the package directory", m.Entry)
	}
	return filepath.Join(pkgDir, clean), nil
}

// ParseYAML decodes a plugin.yaml manifest.
func ParseYAML(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid yaml manifest: %w", err)
	}
	return &m, nil
}

// CUEParser reads plugin.cue manifests.
type CUEParser struct {
	ctx *cue.Context
}

// NewCUEParser creates a new CUE parser instance
func NewCUEParser() *CUEParser {
	return &CUEParser{ctx: cuecontext.New()}
}

// Parse compiles data and reads the manifest fields. Disjunction defaults
// such as `string | *"en"` are resolved.
func (p *CUEParser) Parse(filename string, data []byte) (*Manifest, error) {
	value := p.ctx.CompileBytes(data, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("error building CUE manifest: %w", err)
	}

	root := value.LookupPath(cue.ParsePath("#Plugin"))
	if !root.Exists() {
		root = value
	}

	m := &Manifest{
		Class:       lookupString(root, "class"),
		ID:          lookupString(root, "id"),
		Name:        lookupString(root, "name"),
		Version:     lookupString(root, "version"),
		Description: lookupString(root, "description"),
		Author:      lookupString(root, "author"),
		AuthorURL:   lookupString(root, "author_url"),
		IconURL:     lookupString(root, "icon_url"),
		RepoURL:     lookupString(root, "repo_url"),
		UpdateURL:   lookupString(root, "update_url"),
		Entry:       lookupString(root, "entry"),
	}

	if v := root.LookupPath(cue.ParsePath("enabled")); v.Exists() {
		b, err := concrete(v).Bool()
		if err != nil {
			return nil, fmt.Errorf("enabled: %w", err)
		}
		m.Enabled = &b
	}

	if v := root.LookupPath(cue.ParsePath("types")); v.Exists() {
		iter, err := concrete(v).List()
		if err != nil {
			return nil, fmt.Errorf("types: %w", err)
		}
		for iter.Next() {
			s, err := iter.Value().String()
			if err != nil {
				return nil, fmt.Errorf("types: %w", err)
			}
			m.Types = append(m.Types, s)
		}
	}

	if v := root.LookupPath(cue.ParsePath("settings")); v.Exists() {
		settings, err := p.extractSettings(v)
		if err != nil {
			return nil, fmt.Errorf("settings: %w", err)
		}
		m.Settings = settings
	}

	return m, nil
}

// extractSettings flattens the settings struct into key/default pairs.
// Nested structs use dotted keys.
func (p *CUEParser) extractSettings(value cue.Value) (map[string]string, error) {
	result := make(map[string]string)
	iter, err := value.Fields()
	if err != nil {
		return nil, fmt.Errorf("error iterating fields: %w", err)
	}
	for iter.Next() {
		name := iter.Label()
		field := iter.Value()

		if field.IncompleteKind() == cue.StructKind {
			nested, err := p.extractSettings(field)
			if err != nil {
				return nil, err
			}
			keys := make([]string, 0, len(nested))
			for k := range nested {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				result[name+"."+k] = nested[k]
			}
			continue
		}

		if def := p.extractDefaultValue(field); def != nil {
			result[name] = fmt.Sprint(def)
		} else {
			result[name] = ""
		}
	}
	return result, nil
}

// extractDefaultValue extracts the default value from a CUE disjunction or concrete value
func (p *CUEParser) extractDefaultValue(value cue.Value) interface{} {
	if def, ok := value.Default(); ok && def.IsConcrete() {
		return cueValueToInterface(def)
	}
	if value.IsConcrete() {
		return cueValueToInterface(value)
	}
	return nil
}

func cueValueToInterface(value cue.Value) interface{} {
	var result interface{}
	if err := value.Decode(&result); err == nil {
		return result
	}
	if s, err := value.String(); err == nil {
		return s
	}
	return nil
}

func concrete(v cue.Value) cue.Value {
	if d, ok := v.Default(); ok {
		return d
	}
	return v
}

func lookupString(v cue.Value, path string) string {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return ""
	}
	s, err := concrete(f).String()
	if err != nil {
		return ""
	}
	return s
}
