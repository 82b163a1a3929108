package transport

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// HostLimiter paces requests per host with a token bucket each.
// A zero rate leaves hosts unlimited until a crawl delay is set for them.
type HostLimiter struct {
	rate  rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHostLimiter creates a limiter allowing requestsPerSecond requests to each host.
func NewHostLimiter(requestsPerSecond int) *HostLimiter {
	l := &HostLimiter{
		rate:     rate.Inf,
		burst:    1,
		limiters: make(map[string]*rate.Limiter),
	}
	if requestsPerSecond > 0 {
		l.rate = rate.Limit(requestsPerSecond)
		l.burst = requestsPerSecond
	}
	return l
}

// Wait blocks until a request to host is allowed or ctx is done.
func (l *HostLimiter) Wait(ctx context.Context, host string) error {
	if l == nil || host == "" {
		return nil
	}
	return l.limiterFor(host).Wait(ctx)
}

// SetCrawlDelay slows host down to one request per delay when that is
// stricter than the configured rate.
func (l *HostLimiter) SetCrawlDelay(host string, delay time.Duration) {
	if l == nil || host == "" || delay <= 0 {
		return
	}

	limit := rate.Every(delay)
	limiter := l.limiterFor(host)
	if limiter.Limit() <= limit {
		return
	}

	limiter.SetLimit(limit)
	limiter.SetBurst(1)

	log.Debug().
		Str("host", host).
		Dur("crawl_delay", delay).
		Msg("Applied robots.txt crawl delay")
}

// Limit returns the current rate for host.
func (l *HostLimiter) Limit(host string) rate.Limit {
	return l.limiterFor(host).Limit()
}

func (l *HostLimiter) limiterFor(host string) *rate.Limiter {
	host = strings.ToLower(host)

	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[host] = limiter
	}
	return limiter
}
