package installed

import (
	"context"
	"fmt"

	"github.com/mantonx/vvf/internal/modules/pluginmodule"
	plugins "github.com/mantonx/vvf/sdk"
)

// Instantiator launches package executables.
type Instantiator struct {
	launcher *Launcher
}

// NewInstantiator creates an instantiator backed by launcher.
func NewInstantiator(launcher *Launcher) *Instantiator {
	return &Instantiator{launcher: launcher}
}

func (i *Instantiator) Instantiate(ctx context.Context, meta *pluginmodule.ExtensionMetadata) (plugins.Extension, error) {
	if meta.Runtime != pluginmodule.RuntimeProcess {
		return nil, fmt.Errorf("unsupported runtime %q", meta.Runtime)
	}
	return i.launcher.Launch(ctx, meta.ID, meta.Locator)
}

// Close kills the launched processes.
func (i *Instantiator) Close() error {
	return i.launcher.Close()
}

// Binding returns the origin binding over source.
func Binding(source *Source, launcher *Launcher) pluginmodule.OriginBinding {
	return pluginmodule.OriginBinding{
		Source:       source,
		Parser:       NewParser(),
		Instantiator: NewInstantiator(launcher),
	}
}
