// Package throttle paces outbound requests so origin servers see at most one
// request per interval from us, tracked independently per key (usually a host).
package throttle

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter enforces a minimum interval between calls sharing a key.
type Limiter struct {
	interval time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Limiter. An interval of zero or less disables pacing.
func New(interval time.Duration) *Limiter {
	return &Limiter{
		interval: interval,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Interval returns the configured minimum interval.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// Wait blocks until a request for key may be issued. The first call for a
// key returns immediately.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if l == nil || l.interval <= 0 {
		return ctx.Err()
	}
	return l.limiter(key).Wait(ctx)
}

func (l *Limiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.interval), 1)
		l.limiters[key] = lim
	}
	return lim
}

// HostKey returns the lowercase host of rawURL, or rawURL itself when it
// cannot be parsed.
func HostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return strings.ToLower(u.Host)
}
