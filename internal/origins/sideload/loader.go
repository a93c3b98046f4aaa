package sideload

import (
	"archive/zip"
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/vvf/internal/modules/pluginmodule"
	"github.com/mantonx/vvf/internal/origins/installed"
	"github.com/mantonx/vvf/internal/utils"
	plugins "github.com/mantonx/vvf/sdk"
)

// Loader opens bundles and builds their capability instance. Script
// payloads run in process, executables are extracted into the cache dir
// and launched.
type Loader struct {
	cacheDir      string
	launcher      *installed.Launcher
	scriptTimeout time.Duration
	logger        hclog.Logger
}

// NewLoader creates a loader. launcher may be nil, in which case bundles
// with the process runtime fail to load.
func NewLoader(cacheDir string, launcher *installed.Launcher, scriptTimeout time.Duration, logger hclog.Logger) *Loader {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Loader{
		cacheDir:      cacheDir,
		launcher:      launcher,
		scriptTimeout: scriptTimeout,
		logger:        logger.Named("loader"),
	}
}

// Instantiate loads the bundle at meta.Locator.
func (l *Loader) Instantiate(ctx context.Context, meta *pluginmodule.ExtensionMetadata) (plugins.Extension, error) {
	return l.Load(ctx, meta.Locator, meta)
}

// Load builds the instance for meta from the bundle at path.
func (l *Loader) Load(ctx context.Context, path string, meta *pluginmodule.ExtensionMetadata) (plugins.Extension, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bundle: %w", err)
	}
	defer zr.Close()

	data, err := utils.ReadZipEntry(&zr.Reader, MetadataFile)
	if err != nil {
		return nil, err
	}
	b, err := ParseBundleMetadata(data)
	if err != nil {
		return nil, err
	}
	if b.ExtensionID() != meta.ID {
		return nil, fmt.Errorf("bundle changed on disk: id %q, expected %q", b.ExtensionID(), meta.ID)
	}

	switch b.RuntimeName() {
	case pluginmodule.RuntimeScript:
		src, err := utils.ReadZipEntry(&zr.Reader, b.MainEntry())
		if err != nil {
			return nil, fmt.Errorf("script %s: %w", b.MainEntry(), err)
		}
		return newScriptExtension(meta.ID, meta.EntryPoint, b.MainEntry(), string(src), l.scriptTimeout, l.logger)

	case pluginmodule.RuntimeProcess:
		if l.launcher == nil {
			return nil, fmt.Errorf("process bundles are not supported here")
		}
		binary, err := l.extract(&zr.Reader, path, meta.ID, b.MainEntry())
		if err != nil {
			return nil, err
		}
		return l.launcher.Launch(ctx, meta.ID, binary)
	}
	return nil, fmt.Errorf("unsupported runtime %q", b.RuntimeName())
}

// extract copies the executable to <cache>/<id>/<bundle hash>/, so a
// changed bundle gets a fresh path.
func (l *Loader) extract(zr *zip.Reader, bundlePath, id, entry string) (string, error) {
	hash, err := utils.FileHash(bundlePath)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(l.cacheDir, id, hash[:16], filepath.Base(entry))
	if utils.FileExists(dest) {
		return dest, nil
	}
	if err := utils.ExtractZipEntry(zr, entry, dest, 0755); err != nil {
		return "", fmt.Errorf("failed to extract %s: %w", entry, err)
	}
	l.logger.Debug("extracted bundle payload", "id", id, "path", dest)
	return dest, nil
}

// Close kills processes started for process bundles.
func (l *Loader) Close() error {
	if l.launcher == nil {
		return nil
	}
	return l.launcher.Close()
}

// Binding returns the origin binding over source.
func Binding(source *Source, loader *Loader) pluginmodule.OriginBinding {
	return pluginmodule.OriginBinding{
		Source:       source,
		Parser:       NewParser(pluginmodule.OriginSideloadedFile),
		Instantiator: loader,
	}
}
