package transport

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptrace"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrTooManyRedirects is returned (wrapped in a *url.Error) when a response
// chain exceeds the configured redirect cap.
var ErrTooManyRedirects = errors.New("too many redirects")

// Options configures the HTTP client.
type Options struct {
	MaxRedirects int               // Redirect hop cap when following
	NoFollow     bool              // Return 3xx responses as-is
	UserAgent    string            // User agent string for requests
	Limiter      *HostLimiter      // Optional per-host pacing
	Transport    http.RoundTripper // Base transport, a tuned *http.Transport when nil
}

// DefaultOptions returns options matching the CLI defaults.
func DefaultOptions() Options {
	return Options{
		MaxRedirects: 10,
		UserAgent:    "beefetch/1.0",
	}
}

// NewClient creates an HTTP client with the redirect policy and transport stack
// described by opts. No client-wide timeout is set; callers bound each transfer
// with a context deadline instead.
func NewClient(opts Options) *http.Client {
	baseTransport := opts.Transport
	if baseTransport == nil {
		baseTransport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 25,
			MaxConnsPerHost:     50,
			IdleConnTimeout:     120 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			DisableCompression:  true, // raw bytes so Content-Length and Range offsets agree
			ForceAttemptHTTP2:   true,
		}
	}

	var rt http.RoundTripper = &tracingRoundTripper{transport: baseTransport}
	if opts.Limiter != nil {
		rt = &limitedRoundTripper{transport: rt, limiter: opts.Limiter}
	}
	if opts.UserAgent != "" {
		rt = &userAgentRoundTripper{transport: rt, userAgent: opts.UserAgent}
	}

	return &http.Client{
		Transport:     rt,
		CheckRedirect: RedirectPolicy(opts.NoFollow, opts.MaxRedirects),
	}
}

// RedirectPolicy returns a CheckRedirect function. With noFollow the first
// 3xx response is handed back to the caller unchanged; otherwise at most
// maxRedirects hops are followed.
func RedirectPolicy(noFollow bool, maxRedirects int) func(req *http.Request, via []*http.Request) error {
	if noFollow {
		return func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return func(req *http.Request, via []*http.Request) error {
		if len(via) > maxRedirects {
			return fmt.Errorf("%w: stopped after %d redirects", ErrTooManyRedirects, maxRedirects)
		}
		log.Debug().
			Str("from", via[len(via)-1].URL.String()).
			Str("to", req.URL.String()).
			Int("hop", len(via)).
			Msg("Following redirect")
		return nil
	}
}

// userAgentRoundTripper sets the User-Agent header when the caller left it empty
type userAgentRoundTripper struct {
	transport http.RoundTripper
	userAgent string
}

func (t *userAgentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.transport.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.transport.RoundTrip(req)
}

// limitedRoundTripper waits on the host limiter before every request, redirects included
type limitedRoundTripper struct {
	transport http.RoundTripper
	limiter   *HostLimiter
}

func (t *limitedRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context(), req.URL.Hostname()); err != nil {
		return nil, err
	}
	return t.transport.RoundTrip(req)
}

// requestTiming holds the httptrace measurements for one round trip
type requestTiming struct {
	DNSLookup     time.Duration
	TCPConnection time.Duration
	TLSHandshake  time.Duration
	TTFB          time.Duration
}

// tracingRoundTripper captures HTTP trace timings for each request and logs them
type tracingRoundTripper struct {
	transport http.RoundTripper
}

// RoundTrip implements the http.RoundTripper interface with httptrace instrumentation
func (t *tracingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	timing := &requestTiming{}

	var dnsStart, connectStart, tlsStart time.Time
	requestStart := time.Now()

	trace := &httptrace.ClientTrace{
		DNSStart: func(info httptrace.DNSStartInfo) {
			dnsStart = time.Now()
		},
		DNSDone: func(info httptrace.DNSDoneInfo) {
			if !dnsStart.IsZero() {
				timing.DNSLookup = time.Since(dnsStart)
			}
		},
		ConnectStart: func(network, addr string) {
			connectStart = time.Now()
		},
		ConnectDone: func(network, addr string, err error) {
			if err == nil && !connectStart.IsZero() {
				timing.TCPConnection = time.Since(connectStart)
			}
		},
		TLSHandshakeStart: func() {
			tlsStart = time.Now()
		},
		TLSHandshakeDone: func(state tls.ConnectionState, err error) {
			if err == nil && !tlsStart.IsZero() {
				timing.TLSHandshake = time.Since(tlsStart)
			}
		},
		GotFirstResponseByte: func() {
			timing.TTFB = time.Since(requestStart)
		},
	}

	ctx := httptrace.WithClientTrace(req.Context(), trace)
	resp, err := t.transport.RoundTrip(req.WithContext(ctx))

	event := log.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Dur("dns_ms", timing.DNSLookup).
		Dur("connect_ms", timing.TCPConnection).
		Dur("tls_ms", timing.TLSHandshake).
		Dur("ttfb_ms", timing.TTFB)
	if err != nil {
		event.Err(err).Msg("Request failed")
		return nil, err
	}
	event.Int("status", resp.StatusCode).Msg("Response headers received")
	return resp, nil
}
