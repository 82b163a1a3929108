package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// redirectChain serves /hop/N which redirects to /hop/N-1 until /hop/0 answers 200
func redirectChain(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/hop/"))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		if n == 0 {
			_, _ = w.Write([]byte("arrived"))
			return
		}
		http.Redirect(w, r, "/hop/"+strconv.Itoa(n-1), http.StatusFound)
	}))
}

func TestNewClientFollowsRedirectsWithinLimit(t *testing.T) {
	ts := redirectChain(t)
	defer ts.Close()

	opts := DefaultOptions()
	opts.MaxRedirects = 3
	client := NewClient(opts)

	resp, err := client.Get(ts.URL + "/hop/3")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/hop/0", resp.Request.URL.Path)
}

func TestNewClientRedirectLimitExceeded(t *testing.T) {
	ts := redirectChain(t)
	defer ts.Close()

	opts := DefaultOptions()
	opts.MaxRedirects = 2
	client := NewClient(opts)

	resp, err := client.Get(ts.URL + "/hop/3")
	if resp != nil {
		resp.Body.Close()
	}
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooManyRedirects), "expected ErrTooManyRedirects, got %v", err)
}

func TestNewClientZeroRedirectsRejectsFirstHop(t *testing.T) {
	ts := redirectChain(t)
	defer ts.Close()

	opts := DefaultOptions()
	opts.MaxRedirects = 0
	client := NewClient(opts)

	resp, err := client.Get(ts.URL + "/hop/1")
	if resp != nil {
		resp.Body.Close()
	}
	assert.ErrorIs(t, err, ErrTooManyRedirects)
}

func TestNewClientNoFollowReturnsRedirect(t *testing.T) {
	ts := redirectChain(t)
	defer ts.Close()

	opts := DefaultOptions()
	opts.NoFollow = true
	client := NewClient(opts)

	resp, err := client.Get(ts.URL + "/hop/2")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/hop/1", resp.Header.Get("Location"))
}

func TestNewClientSetsUserAgent(t *testing.T) {
	var got string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.UserAgent()
	}))
	defer ts.Close()

	opts := DefaultOptions()
	opts.UserAgent = "beefetch-test/0.1"
	client := NewClient(opts)

	resp, err := client.Get(ts.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "beefetch-test/0.1", got)

	// An explicit header wins
	req, err := http.NewRequest(http.MethodGet, ts.URL, nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "custom")
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "custom", got)
}

func TestNewClientDoesNotRequestCompression(t *testing.T) {
	var acceptEncoding string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acceptEncoding = r.Header.Get("Accept-Encoding")
	}))
	defer ts.Close()

	resp, err := NewClient(DefaultOptions()).Get(ts.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Empty(t, acceptEncoding, "compression must stay off so byte ranges match the stored file")
}

func TestNewClientWaitsOnLimiter(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ts.Close()

	limiter := NewHostLimiter(0)
	req, err := http.NewRequest(http.MethodGet, ts.URL, nil)
	require.NoError(t, err)
	limiter.SetCrawlDelay(req.URL.Hostname(), time.Hour)

	opts := DefaultOptions()
	opts.Limiter = limiter
	client := NewClient(opts)

	// First request consumes the single burst token
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req2, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
	require.NoError(t, err)

	_, err = client.Do(req2)
	assert.Error(t, err, "second request should be held back by the hour-long crawl delay")
}

func TestHostLimiterCrawlDelay(t *testing.T) {
	limiter := NewHostLimiter(5)
	assert.Equal(t, rate.Limit(5), limiter.Limit("example.com"))

	// Looser than the configured rate: ignored
	limiter.SetCrawlDelay("example.com", 10*time.Millisecond)
	assert.Equal(t, rate.Limit(5), limiter.Limit("example.com"))

	// Stricter: applied
	limiter.SetCrawlDelay("example.com", 2*time.Second)
	assert.Equal(t, rate.Every(2*time.Second), limiter.Limit("example.com"))

	// Other hosts untouched, host matching is case-insensitive
	assert.Equal(t, rate.Limit(5), limiter.Limit("other.com"))
	assert.Equal(t, rate.Every(2*time.Second), limiter.Limit("EXAMPLE.com"))
}

func TestHostLimiterUnlimitedByDefault(t *testing.T) {
	limiter := NewHostLimiter(0)
	assert.Equal(t, rate.Inf, limiter.Limit("example.com"))

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		require.NoError(t, limiter.Wait(ctx, "example.com"))
	}
}

func TestHostLimiterNilAndEmptyHost(t *testing.T) {
	var limiter *HostLimiter
	assert.NoError(t, limiter.Wait(context.Background(), "example.com"))
	limiter.SetCrawlDelay("example.com", time.Second)

	assert.NoError(t, NewHostLimiter(1).Wait(context.Background(), ""))
}

func TestHostLimiterRespectsContext(t *testing.T) {
	limiter := NewHostLimiter(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, limiter.Wait(ctx, "example.com"))
}
