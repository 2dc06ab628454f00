// Package httpclient configures the resty client used for feed and page
// downloads.
package httpclient

import (
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/TobiSchelling/AgriNews/internal/config"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultUserAgent = "AgriNews/1.0 (news aggregator)"
	maxRedirects     = 10
)

// New creates a resty client from the HTTP settings.
func New(cfg config.HTTP) *resty.Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	return resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", ua).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,application/rss+xml,*/*;q=0.8").
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(maxRedirects))
}
