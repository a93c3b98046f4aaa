// Package sideload is the origin for extension bundles dropped into the
// sideload directory. A bundle is a zip file, usually named *.vvf, holding
// metadata.json and either a script or an executable payload.
package sideload

import (
	"archive/zip"
	"fmt"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/mantonx/vvf/internal/modules/pluginmodule"
	"github.com/mantonx/vvf/internal/utils"
	plugins "github.com/mantonx/vvf/sdk"
	"github.com/xeipuuv/gojsonschema"
)

// MetadataFile is the descriptor inside every bundle.
const MetadataFile = "metadata.json"

const defaultScriptMain = "index.js"

// BundleMetadata is the content of metadata.json.
type BundleMetadata struct {
	ID          string            `json:"id,omitempty"`
	ClassName   string            `json:"className"`
	Types       []string          `json:"types"`
	Version     string            `json:"version,omitempty"`
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	Author      []string          `json:"author,omitempty"`
	IconURL     string            `json:"iconUrl,omitempty"`
	RepoURL     string            `json:"repoUrl,omitempty"`
	UpdateURL   string            `json:"updateUrl,omitempty"`
	URL         string            `json:"url,omitempty"`
	FileSize    int64             `json:"fileSize,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty"`
	Runtime     string            `json:"runtime,omitempty"`
	Main        string            `json:"main,omitempty"`
	Settings    map[string]string `json:"settings,omitempty"`
}

const metadataSchemaJSON = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["className", "types"],
	"properties": {
		"id":          {"type": "string", "minLength": 1, "pattern": "^[^,/]+$"},
		"className":   {"type": "string", "minLength": 1},
		"types":       {"type": "array", "minItems": 1, "items": {"type": "string"}},
		"version":     {"type": "string"},
		"name":        {"type": "string"},
		"description": {"type": "string"},
		"author":      {"type": "array", "items": {"type": "string"}},
		"iconUrl":     {"type": "string"},
		"repoUrl":     {"type": "string"},
		"updateUrl":   {"type": "string"},
		"url":         {"type": "string"},
		"fileSize":    {"type": "integer", "minimum": 0},
		"enabled":     {"type": "boolean"},
		"runtime":     {"enum": ["script", "process"]},
		"main":        {"type": "string", "minLength": 1},
		"settings":    {"type": "object", "additionalProperties": {"type": "string"}}
	}
}`

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func metadataSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(metadataSchemaJSON))
	})
	return schema, schemaErr
}

// ParseBundleMetadata validates data against the metadata schema and
// decodes it.
func ParseBundleMetadata(data []byte) (*BundleMetadata, error) {
	s, err := metadataSchema()
	if err != nil {
		return nil, fmt.Errorf("metadata schema: %w", err)
	}
	result, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", MetadataFile, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("invalid %s: %s", MetadataFile, strings.Join(msgs, "; "))
	}

	var b BundleMetadata
	if err := sonic.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", MetadataFile, err)
	}
	return &b, nil
}

// ExtensionID is the id, defaulting to the class name.
func (b *BundleMetadata) ExtensionID() string {
	if b.ID != "" {
		return b.ID
	}
	return b.ClassName
}

// RuntimeName is the declared runtime, script when unset.
func (b *BundleMetadata) RuntimeName() string {
	if b.Runtime == "" {
		return pluginmodule.RuntimeScript
	}
	return b.Runtime
}

// MainEntry is the payload file inside the bundle.
func (b *BundleMetadata) MainEntry() string {
	if b.Main != "" {
		return b.Main
	}
	if b.RuntimeName() == pluginmodule.RuntimeProcess {
		return b.ExtensionID()
	}
	return defaultScriptMain
}

// ToMetadata converts the bundle stored at locator.
func (b *BundleMetadata) ToMetadata(locator string, origin pluginmodule.Origin) (*pluginmodule.ExtensionMetadata, error) {
	id := b.ExtensionID()
	kinds, err := plugins.ParseCapabilityKinds(b.Types)
	if err != nil {
		return &pluginmodule.ExtensionMetadata{ID: id}, err
	}
	enabled := true
	if b.Enabled != nil {
		enabled = *b.Enabled
	}
	name := b.Name
	if name == "" {
		name = id
	}
	return &pluginmodule.ExtensionMetadata{
		ID:           id,
		EntryPoint:   b.ClassName,
		Locator:      locator,
		Origin:       origin,
		Capabilities: kinds,
		Name:         name,
		Version:      b.Version,
		Description:  b.Description,
		Author:       strings.Join(b.Author, ", "),
		IconURL:      b.IconURL,
		UpdateURL:    b.UpdateURL,
		RepoURL:      b.RepoURL,
		Runtime:      b.RuntimeName(),
		Settings:     b.Settings,
		Enabled:      enabled,
	}, nil
}

// ReadBundleMetadata opens the bundle at path and parses its metadata.json.
func ReadBundleMetadata(path string) (*BundleMetadata, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bundle: %w", err)
	}
	defer zr.Close()
	data, err := utils.ReadZipEntry(&zr.Reader, MetadataFile)
	if err != nil {
		return nil, err
	}
	return ParseBundleMetadata(data)
}
