package remote

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/vvf/internal/modules/pluginmodule"
	"github.com/mantonx/vvf/internal/origins/sideload"
	"github.com/mantonx/vvf/internal/utils"
	plugins "github.com/mantonx/vvf/sdk"
)

// Downloader fetches bundles into the cache dir and hands them to the
// sideload loader.
type Downloader struct {
	cacheDir string
	client   *resty.Client
	loader   *sideload.Loader
	logger   hclog.Logger
}

// NewDownloader creates a downloader. httpClient may be nil.
func NewDownloader(cacheDir string, httpClient *http.Client, loader *sideload.Loader, logger hclog.Logger) *Downloader {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Downloader{
		cacheDir: cacheDir,
		client:   newRestyClient(httpClient),
		loader:   loader,
		logger:   logger.Named("download"),
	}
}

// CachePath is where the bundle for meta is stored. Url and version both
// key the file so an index update fetches a fresh copy.
func (d *Downloader) CachePath(meta *pluginmodule.ExtensionMetadata) string {
	return filepath.Join(d.cacheDir, "remote", meta.ID+"-"+utils.ShortHash(meta.Locator+"@"+meta.Version)+".vvf")
}

func (d *Downloader) Instantiate(ctx context.Context, meta *pluginmodule.ExtensionMetadata) (plugins.Extension, error) {
	path := d.CachePath(meta)
	if !utils.FileExists(path) {
		if err := d.download(ctx, meta.Locator, path); err != nil {
			return nil, err
		}
	}
	return d.loader.Load(ctx, path, meta)
}

func (d *Downloader) download(ctx context.Context, url, dest string) error {
	resp, err := d.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return fmt.Errorf("failed to download bundle: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.IsError() {
		return fmt.Errorf("failed to download bundle: %s", resp.Status())
	}
	if err := utils.WriteFileAtomic(dest, body, 0644); err != nil {
		return fmt.Errorf("failed to store bundle: %w", err)
	}
	d.logger.Info("downloaded bundle", "url", url, "path", dest)
	return nil
}

// Binding returns the origin binding over source.
func Binding(source *Source, downloader *Downloader) pluginmodule.OriginBinding {
	return pluginmodule.OriginBinding{
		Source:       source,
		Parser:       NewParser(),
		Instantiator: downloader,
	}
}
