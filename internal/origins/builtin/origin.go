package builtin

import (
	"context"
	"fmt"

	"github.com/mantonx/vvf/internal/modules/pluginmodule"
	plugins "github.com/mantonx/vvf/sdk"
)

// SourceName is the name the builtin origin reports.
const SourceName = "builtin"

const attrID = "id"

// Source enumerates a registry.
type Source struct {
	registry *Registry
}

// NewSource creates a source over registry, the global one when nil.
func NewSource(registry *Registry) *Source {
	if registry == nil {
		registry = global
	}
	return &Source{registry: registry}
}

func (s *Source) Name() string                { return SourceName }
func (s *Source) Origin() pluginmodule.Origin { return pluginmodule.OriginBuiltIn }
func (s *Source) Subscribe(fn func()) func()  { return s.registry.Subscribe(fn) }
func (s *Source) Registry() *Registry         { return s.registry }

// Enumerate never fails, the registry is in memory.
func (s *Source) Enumerate(ctx context.Context) ([]pluginmodule.RawDescriptor, error) {
	defs := s.registry.Definitions()
	out := make([]pluginmodule.RawDescriptor, 0, len(defs))
	for _, d := range defs {
		out = append(out, pluginmodule.RawDescriptor{
			Source:     SourceName,
			Locator:    "builtin://" + d.ID,
			Attributes: map[string]string{attrID: d.ID},
		})
	}
	return out, nil
}

// Parser turns registry descriptors back into metadata.
type Parser struct {
	registry *Registry
}

// NewParser creates a parser over registry, the global one when nil.
func NewParser(registry *Registry) *Parser {
	if registry == nil {
		registry = global
	}
	return &Parser{registry: registry}
}

func (p *Parser) Parse(desc pluginmodule.RawDescriptor) (*pluginmodule.ExtensionMetadata, error) {
	id := desc.Attributes[attrID]
	d, ok := p.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("builtin extension %q is no longer registered", id)
	}

	name := d.Name
	if name == "" {
		name = d.ID
	}
	settings := make(map[string]string, len(d.Settings))
	for k, v := range d.Settings {
		settings[k] = v
	}
	return &pluginmodule.ExtensionMetadata{
		ID:           d.ID,
		EntryPoint:   d.entryPoint(),
		Locator:      desc.Locator,
		Origin:       pluginmodule.OriginBuiltIn,
		Capabilities: append([]plugins.CapabilityKind(nil), d.Capabilities...),
		Name:         name,
		Version:      d.Version,
		Description:  d.Description,
		Author:       d.Author,
		Runtime:      pluginmodule.RuntimeBuiltin,
		Settings:     settings,
		Enabled:      !d.Disabled,
	}, nil
}

// Instantiator calls the registered factory for an entry point.
type Instantiator struct {
	registry *Registry
}

// NewInstantiator creates an instantiator over registry, the global one when nil.
func NewInstantiator(registry *Registry) *Instantiator {
	if registry == nil {
		registry = global
	}
	return &Instantiator{registry: registry}
}

func (i *Instantiator) Instantiate(ctx context.Context, meta *pluginmodule.ExtensionMetadata) (plugins.Extension, error) {
	d, ok := i.registry.ByEntryPoint(meta.EntryPoint)
	if !ok {
		return nil, fmt.Errorf("no builtin factory for entry point %q", meta.EntryPoint)
	}
	instance := d.Factory()
	if instance == nil {
		return nil, fmt.Errorf("builtin factory for %q returned nil", meta.EntryPoint)
	}
	return instance, nil
}

// Binding returns the origin binding for registry.
func Binding(registry *Registry) pluginmodule.OriginBinding {
	return pluginmodule.OriginBinding{
		Source:       NewSource(registry),
		Parser:       NewParser(registry),
		Instantiator: NewInstantiator(registry),
	}
}
