// Package remote is the origin for extensions listed in a remote index.
// The index is a JSON array of bundle descriptors, or an object holding
// one under "extensions". Bundles are downloaded on first use.
package remote

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/vvf/internal/events"
	"github.com/mantonx/vvf/internal/modules/pluginmodule"
	"github.com/mantonx/vvf/internal/origins/sideload"
	"github.com/robfig/cron/v3"
	"github.com/tidwall/gjson"
)

// SourceName is the name the remote origin reports.
const SourceName = "remote"

// DefaultSchedule refreshes the index hourly.
const DefaultSchedule = "@every 1h"

// Source fetches the index.
type Source struct {
	indexURL string
	schedule string
	client   *resty.Client
	logger   hclog.Logger

	mu        sync.Mutex
	cron      *cron.Cron
	listeners map[int]func()
	nextID    int
	closed    bool
}

// NewSource creates a source for indexURL. httpClient may be nil.
func NewSource(indexURL, schedule string, httpClient *http.Client, logger hclog.Logger) (*Source, error) {
	if indexURL == "" {
		return nil, fmt.Errorf("remote index url is required")
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid remote schedule %q: %w", schedule, err)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Source{
		indexURL:  indexURL,
		schedule:  schedule,
		client:    newRestyClient(httpClient),
		logger:    logger.Named(SourceName),
		listeners: make(map[int]func()),
	}, nil
}

func newRestyClient(httpClient *http.Client) *resty.Client {
	if httpClient == nil {
		return resty.New()
	}
	return resty.NewWithClient(httpClient)
}

func (s *Source) Name() string                { return SourceName }
func (s *Source) Origin() pluginmodule.Origin { return pluginmodule.OriginRemote }

// Subscribe registers fn and starts the refresh schedule on first use.
func (s *Source) Subscribe(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	if s.cron == nil && !s.closed {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc(s.schedule, s.fire); err != nil {
			s.logger.Warn("remote refresh schedule unavailable", "error", err)
		}
		s.cron.Start()
	}

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Source) fire() {
	s.mu.Lock()
	listeners := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	s.logger.Debug("scheduled index refresh", "listeners", len(listeners))
	for _, fn := range listeners {
		fn()
	}
}

// Close stops the schedule.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	c := s.cron
	s.mu.Unlock()

	// a running refresh takes s.mu, so wait outside it
	if c != nil {
		<-c.Stop().Done()
	}
	return nil
}

// Enumerate fetches the index and splits it into one descriptor per entry.
func (s *Source) Enumerate(ctx context.Context) ([]pluginmodule.RawDescriptor, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		Get(s.indexURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch index: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("failed to fetch index: %s", resp.Status())
	}

	body := resp.Body()
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("index is not valid JSON")
	}
	root := gjson.ParseBytes(body)
	if root.IsObject() {
		root = root.Get("extensions")
	}
	if !root.IsArray() {
		return nil, fmt.Errorf("index does not hold a list of extensions")
	}

	var out []pluginmodule.RawDescriptor
	root.ForEach(func(key, value gjson.Result) bool {
		locator := value.Get("url").String()
		if locator == "" {
			locator = fmt.Sprintf("%s#%d", s.indexURL, key.Int())
		}
		out = append(out, pluginmodule.RawDescriptor{
			Source:  SourceName,
			Locator: locator,
			Data:    []byte(value.Raw),
		})
		return true
	})
	events.Publish(events.NewEvent(events.EventRemoteIndexRefreshed, SourceName,
		fmt.Sprintf("remote index listed %d extensions", len(out)),
		map[string]interface{}{"url": s.indexURL, "count": len(out)}))
	return out, nil
}

// Parser reads index entries. Every entry needs a download url.
type Parser struct {
	bundles *sideload.Parser
}

// NewParser creates a parser.
func NewParser() *Parser {
	return &Parser{bundles: sideload.NewParser(pluginmodule.OriginRemote)}
}

func (p *Parser) Parse(desc pluginmodule.RawDescriptor) (*pluginmodule.ExtensionMetadata, error) {
	b, err := sideload.ParseBundleMetadata(desc.Data)
	if err != nil {
		return nil, err
	}
	if b.URL == "" {
		return &pluginmodule.ExtensionMetadata{ID: b.ExtensionID()}, fmt.Errorf("index entry has no url")
	}
	return b.ToMetadata(b.URL, pluginmodule.OriginRemote)
}
