// Package updates checks extensions hosted on GitHub for newer releases.
package updates

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/vvf/internal/events"
	"github.com/mantonx/vvf/internal/modules/pluginmodule"
	"github.com/robfig/cron/v3"
	"github.com/tidwall/gjson"
	"golang.org/x/mod/semver"
)

// DefaultAPIBase is the public GitHub API.
const DefaultAPIBase = "https://api.github.com"

// Update is an available newer release.
type Update struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Current     string    `json:"current"`
	Latest      string    `json:"latest"`
	DownloadURL string    `json:"download_url"`
	ReleaseURL  string    `json:"release_url,omitempty"`
	CheckedAt   time.Time `json:"checked_at"`
}

// Checker queries the latest release of each extension's repository.
type Checker struct {
	apiBase string
	client  *resty.Client
	logger  hclog.Logger

	mu     sync.RWMutex
	latest []Update
}

// NewChecker creates a checker. An empty apiBase uses GitHub.
func NewChecker(apiBase string, httpClient *http.Client, logger hclog.Logger) *Checker {
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	client := resty.New()
	if httpClient != nil {
		client = resty.NewWithClient(httpClient)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Checker{
		apiBase: strings.TrimRight(apiBase, "/"),
		client:  client,
		logger:  logger.Named("updates"),
	}
}

// GitHubRepo extracts owner and repository from a github.com URL.
func GitHubRepo(raw string) (owner, repo string, ok bool) {
	u, err := url.Parse(raw)
	if err != nil || !strings.EqualFold(u.Host, "github.com") {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), true
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return semver.Canonical(v)
}

// CheckOne looks up the latest release for meta. It returns nil when the
// extension has no GitHub update url or is already current.
func (c *Checker) CheckOne(ctx context.Context, meta *pluginmodule.ExtensionMetadata) (*Update, error) {
	source := meta.UpdateURL
	if source == "" {
		source = meta.RepoURL
	}
	owner, repo, ok := GitHubRepo(source)
	if !ok {
		return nil, nil
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/vnd.github+json").
		Get(fmt.Sprintf("%s/repos/%s/%s/releases/latest", c.apiBase, owner, repo))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch release: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf("failed to fetch release: %s", resp.Status())
	}

	release := gjson.ParseBytes(resp.Body())
	tag := release.Get("tag_name").String()
	latest, current := canonical(tag), canonical(meta.Version)
	if latest == "" || current == "" || semver.Compare(latest, current) <= 0 {
		return nil, nil
	}

	download := ""
	release.Get("assets").ForEach(func(_, asset gjson.Result) bool {
		if strings.HasSuffix(asset.Get("name").String(), ".vvf") {
			download = asset.Get("browser_download_url").String()
			return false
		}
		return true
	})
	if download == "" {
		return nil, nil
	}

	return &Update{
		ID:          meta.ID,
		Name:        meta.Name,
		Current:     meta.Version,
		Latest:      tag,
		DownloadURL: download,
		ReleaseURL:  release.Get("html_url").String(),
		CheckedAt:   time.Now(),
	}, nil
}

// Check runs CheckOne for every distinct extension id and remembers the
// result. Failures are logged and skipped.
func (c *Checker) Check(ctx context.Context, metas []*pluginmodule.ExtensionMetadata) []Update {
	seen := make(map[string]bool, len(metas))
	var found []Update
	for _, meta := range metas {
		if seen[meta.ID] {
			continue
		}
		seen[meta.ID] = true

		u, err := c.CheckOne(ctx, meta)
		if err != nil {
			c.logger.Warn("update check failed", "id", meta.ID, "error", err)
			continue
		}
		if u == nil {
			continue
		}
		found = append(found, *u)
		events.Publish(events.NewEvent(events.EventUpdateAvailable, "updates",
			fmt.Sprintf("%s %s is available", u.ID, u.Latest),
			map[string]interface{}{"id": u.ID, "current": u.Current, "latest": u.Latest, "url": u.DownloadURL}))
	}
	sort.Slice(found, func(i, j int) bool { return found[i].ID < found[j].ID })

	c.mu.Lock()
	c.latest = found
	c.mu.Unlock()
	c.logger.Info("update check complete", "checked", len(seen), "available", len(found))
	return found
}

// Latest returns the result of the last Check.
func (c *Checker) Latest() []Update {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Update(nil), c.latest...)
}

// Schedule runs Check on a cron schedule against the metadata list returns.
// Stop the returned cron to end it.
func (c *Checker) Schedule(schedule string, list func(ctx context.Context) []*pluginmodule.ExtensionMetadata) (*cron.Cron, error) {
	cr := cron.New()
	_, err := cr.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		c.Check(ctx, list(ctx))
	})
	if err != nil {
		return nil, fmt.Errorf("invalid updates schedule %q: %w", schedule, err)
	}
	cr.Start()
	return cr, nil
}
