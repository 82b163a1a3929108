// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/joho/godotenv"
)

// OriginPlaceholder in a page body is replaced with the server's origin
const OriginPlaceholder = "{{origin}}"

// Site serves static pages keyed by path and counts requests per path.
// Unknown paths get a 404.
type Site struct {
	*httptest.Server

	mu   sync.Mutex
	hits map[string]int
}

// NewSite starts a Site that is closed when the test ends. Content types are
// chosen from the path extension, defaulting to HTML.
func NewSite(t testing.TB, pages map[string]string) *Site {
	t.Helper()

	site := &Site{hits: make(map[string]int)}
	site.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		site.mu.Lock()
		site.hits[r.URL.Path]++
		site.mu.Unlock()

		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		body = strings.ReplaceAll(body, OriginPlaceholder, "http://"+r.Host)

		w.Header().Set("Content-Type", contentTypeFor(r.URL.Path))
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(site.Close)
	return site
}

// Hits returns how many requests path has received.
func (s *Site) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		return "application/xml"
	case ".txt":
		return "text/plain"
	case ".bin", ".zip", ".pdf":
		return "application/octet-stream"
	default:
		return "text/html; charset=utf-8"
	}
}

// Page returns a minimal HTML document linking to each of links.
func Page(links ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, l := range links {
		fmt.Fprintf(&b, `<a href="%s">%s</a>`, l, l)
	}
	b.WriteString("</body></html>")
	return b.String()
}

// testEnvDefaults keep CLI tests quiet and offline
var testEnvDefaults = map[string]string{
	"APP_ENV":               "production",
	"LOG_LEVEL":             "error",
	"SENTRY_DSN":            "",
	"OBSERVABILITY_ENABLED": "false",
	"METRICS_ADDR":          "",
}

// LoadTestEnv isolates a test from the developer's environment, then applies
// overrides from a .env.test file when one exists.
func LoadTestEnv(t *testing.T) {
	t.Helper()

	for key, value := range testEnvDefaults {
		t.Setenv(key, value)
	}

	envPath := findEnvTestFile()
	if envPath == "" {
		return
	}

	envMap, err := godotenv.Read(envPath)
	if err != nil {
		t.Logf("Warning: Failed to read %s: %v", envPath, err)
		return
	}
	for key, value := range envMap {
		t.Setenv(key, value)
	}
	t.Logf("Loaded %d settings from %s", len(envMap), envPath)
}

// findEnvTestFile searches for .env.test in current and parent directories
func findEnvTestFile() string {
	dir, _ := os.Getwd()

	// Search up to 5 levels up
	for range 5 {
		envPath := filepath.Join(dir, ".env.test")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
