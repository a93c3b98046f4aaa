package utils

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"
)

// HTTPClientOptions configures the shared HTTP client.
type HTTPClientOptions struct {
	Timeout    time.Duration
	RetryMax   int
	Logger     hclog.Logger
	UserAgent  string
	RetryWait  time.Duration
	MaxBackoff time.Duration
}

// NewHTTPClient builds the retrying client shared by every extension and by
// the remote index source.
func NewHTTPClient(opts HTTPClientOptions) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryMax
	if opts.RetryWait > 0 {
		rc.RetryWaitMin = opts.RetryWait
	}
	if opts.MaxBackoff > 0 {
		rc.RetryWaitMax = opts.MaxBackoff
	}
	if opts.Logger != nil {
		rc.Logger = opts.Logger.Named("http")
	} else {
		rc.Logger = nil
	}

	client := rc.StandardClient()
	client.Timeout = opts.Timeout

	if opts.UserAgent != "" {
		client.Transport = &userAgentTransport{next: client.Transport, agent: opts.UserAgent}
	}
	return client
}

type userAgentTransport struct {
	next  http.RoundTripper
	agent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.agent)
	}
	return t.next.RoundTrip(req)
}
