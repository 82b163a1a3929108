package main

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Harvey-AU/beefetch/internal/fetch"
	"github.com/Harvey-AU/beefetch/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, cfg *fetch.Config)
	}{
		{
			name: "defaults",
			args: []string{"https://example.com/file.zip"},
			check: func(t *testing.T, cfg *fetch.Config) {
				assert.Equal(t, "https://example.com/file.zip", cfg.URL)
				assert.Equal(t, 10, cfg.MaxRedirects)
				assert.Equal(t, 5, cfg.MaxDepth)
				assert.Equal(t, 5, cfg.MaxConcurrent)
				assert.False(t, cfg.Recursive)
				assert.Empty(t, cfg.Output)
			},
		},
		{
			name: "short_flags",
			args: []string{"-o", "out.bin", "-v", "-r", "3", "-c", "-f", "-R", "-l", "2", "-j", "7", "-d", "https://example.com"},
			check: func(t *testing.T, cfg *fetch.Config) {
				assert.Equal(t, "out.bin", cfg.Output)
				assert.True(t, cfg.Verbose)
				assert.Equal(t, 3, cfg.MaxRedirects)
				assert.True(t, cfg.Resume)
				assert.True(t, cfg.Force)
				assert.True(t, cfg.Recursive)
				assert.Equal(t, 2, cfg.MaxDepth)
				assert.Equal(t, 7, cfg.MaxConcurrent)
				assert.True(t, cfg.SameDomain)
			},
		},
		{
			name: "long_flags",
			args: []string{"--output", "x", "--verbose", "--max-redirects", "0", "--no-follow", "--continue-download",
				"--force", "--recursive", "--max-depth", "1", "--max-concurrent", "2", "--same-domain", "https://example.com"},
			check: func(t *testing.T, cfg *fetch.Config) {
				assert.Equal(t, "x", cfg.Output)
				assert.True(t, cfg.Verbose)
				assert.Equal(t, 0, cfg.MaxRedirects)
				assert.True(t, cfg.NoFollow)
				assert.True(t, cfg.Resume)
				assert.True(t, cfg.Force)
				assert.True(t, cfg.Recursive)
				assert.Equal(t, 1, cfg.MaxDepth)
				assert.Equal(t, 2, cfg.MaxConcurrent)
				assert.True(t, cfg.SameDomain)
			},
		},
		{
			name: "flags_after_url",
			args: []string{"https://example.com", "-R", "--max-depth", "3"},
			check: func(t *testing.T, cfg *fetch.Config) {
				assert.Equal(t, "https://example.com", cfg.URL)
				assert.True(t, cfg.Recursive)
				assert.Equal(t, 3, cfg.MaxDepth)
			},
		},
		{
			name: "extended_flags",
			args: []string{"--timeout", "30s", "--user-agent", "mirror/2.0", "--rate-limit", "4", "--respect-robots",
				"--sitemap", "--include", "/docs/", "--include", "/blog/", "--exclude", "/drafts/", "--no-progress", "https://example.com"},
			check: func(t *testing.T, cfg *fetch.Config) {
				assert.Equal(t, 30*time.Second, cfg.Timeout)
				assert.Equal(t, "mirror/2.0", cfg.UserAgent)
				assert.Equal(t, 4, cfg.RateLimit)
				assert.True(t, cfg.RespectRobots)
				assert.True(t, cfg.Sitemap)
				assert.Equal(t, []string{"/docs/", "/blog/"}, cfg.Include)
				assert.Equal(t, []string{"/drafts/"}, cfg.Exclude)
				assert.True(t, cfg.NoProgress)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parseFlags(tt.args, io.Discard)
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestParseFlagsErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "missing_url", args: []string{"-v"}, wantErr: "a URL is required"},
		{name: "two_urls", args: []string{"https://a.example", "https://b.example"}, wantErr: "exactly one URL"},
		{name: "unknown_flag", args: []string{"--bogus", "https://example.com"}, wantErr: "bogus"},
		{name: "zero_concurrency", args: []string{"-j", "0", "https://example.com"}, wantErr: "max-concurrent"},
		{name: "negative_depth", args: []string{"-l", "-1", "https://example.com"}, wantErr: "max-depth"},
		{name: "bad_number", args: []string{"-r", "many", "https://example.com"}, wantErr: "invalid value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args, io.Discard)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestParseFlagsHelpAndVersion(t *testing.T) {
	var stderr bytes.Buffer
	_, err := parseFlags([]string{"-h"}, &stderr)
	assert.True(t, errors.Is(err, errHelp))
	assert.Contains(t, stderr.String(), "Usage: beefetch")

	_, err = parseFlags([]string{"--version"}, io.Discard)
	assert.ErrorIs(t, err, errShowVersion)
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		raw   string
		valid bool
	}{
		{"https://example.com/file", true},
		{"http://127.0.0.1:8080/", true},
		{"  https://example.com  ", true},
		{"ftp://example.com/file", false},
		{"example.com/file", false},
		{"https://", false},
		{"http://[::1", false},
	}

	for _, tt := range tests {
		u, err := parseTarget(tt.raw)
		if tt.valid {
			assert.NoError(t, err, tt.raw)
			assert.NotNil(t, u)
			continue
		}
		assert.ErrorIs(t, err, fetch.ErrURLParse, tt.raw)
	}
}

func TestParseOTLPHeaders(t *testing.T) {
	assert.Empty(t, parseOTLPHeaders(""))
	assert.Equal(t, map[string]string{
		"Authorization": "Bearer abc=",
		"x-team":        "fetch",
	}, parseOTLPHeaders(" Authorization=Bearer abc= , x-team=fetch, broken, =nokey"))
}

func TestSetupLogging(t *testing.T) {
	original := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(original) })

	tests := []struct {
		name     string
		level    string
		verbose  bool
		expected zerolog.Level
	}{
		{name: "default_warn", level: "", expected: zerolog.WarnLevel},
		{name: "from_env", level: "info", expected: zerolog.InfoLevel},
		{name: "invalid_falls_back", level: "loud", expected: zerolog.WarnLevel},
		{name: "verbose_wins", level: "error", verbose: true, expected: zerolog.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupLogging(&Config{Env: "production", LogLevel: tt.level}, tt.verbose, "run-1", io.Discard)
			assert.Equal(t, tt.expected, zerolog.GlobalLevel())
		})
	}
}

func TestSetupLoggingProductionFields(t *testing.T) {
	original := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(original) })

	var buf bytes.Buffer
	setupLogging(&Config{Env: "production", LogLevel: "info"}, false, "run-42", &buf)
	log.Info().Msg("hello")

	assert.Contains(t, buf.String(), `"service":"beefetch"`)
	assert.Contains(t, buf.String(), `"run_id":"run-42"`)
}

func TestRunSingleDownload(t *testing.T) {
	testutil.LoadTestEnv(t)
	body := bytes.Repeat([]byte("0123456789"), 100)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	defer ts.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	var stdout, stderr bytes.Buffer

	code := run([]string{"--no-progress", "-o", dest, ts.URL + "/file.bin"}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestRunSkipsExistingFile(t *testing.T) {
	testutil.LoadTestEnv(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an existing file")
	}))
	defer ts.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, os.WriteFile(dest, []byte("existing"), 0o644))

	var stdout, stderr bytes.Buffer
	code := run([]string{"--no-progress", "-o", dest, ts.URL + "/file.bin"}, &stdout, &stderr)

	assert.Equal(t, exitOK, code)
	assert.Contains(t, stderr.String(), "Skipping existing file")
}

func TestRunServerErrorExitsNonZero(t *testing.T) {
	testutil.LoadTestEnv(t)
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	dest := filepath.Join(t.TempDir(), "missing.bin")
	var stdout, stderr bytes.Buffer

	code := run([]string{"--no-progress", "-o", dest, ts.URL + "/missing.bin"}, &stdout, &stderr)
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr.String(), "404")

	_, err := os.Stat(dest)
	assert.True(t, os.IsNotExist(err))
}

func TestRunInvalidArguments(t *testing.T) {
	testutil.LoadTestEnv(t)

	tests := [][]string{
		{},
		{"ftp://example.com/file"},
		{"not a url"},
		{"-j", "0", "https://example.com"},
	}

	for _, args := range tests {
		var stdout, stderr bytes.Buffer
		assert.Equal(t, exitInvalidArgs, run(args, &stdout, &stderr), "args %v", args)
		assert.Contains(t, stderr.String(), "Error:")
	}
}

func TestRunVersion(t *testing.T) {
	var stdout bytes.Buffer
	assert.Equal(t, exitOK, run([]string{"--version"}, &stdout, io.Discard))
	assert.Contains(t, stdout.String(), "beefetch dev")
}

func TestRunRecursive(t *testing.T) {
	testutil.LoadTestEnv(t)
	site := testutil.NewSite(t, map[string]string{
		"/":                testutil.Page("/docs/guide.html", "/gone.html"),
		"/docs/guide.html": testutil.Page(),
	})

	dir := t.TempDir()
	t.Chdir(dir)

	var stdout, stderr bytes.Buffer
	code := run([]string{"-R", "--no-progress", "-d", site.URL + "/"}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())

	assert.Contains(t, stdout.String(), "Recursive download complete! Downloaded 2 files.")
	assert.Contains(t, stdout.String(), "1 resources could not be downloaded.")
	assert.Equal(t, 1, site.Hits("/gone.html"))

	_, err := os.Stat(filepath.Join(dir, "127.0.0.1", "index.html"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "127.0.0.1", "docs", "guide.html"))
	assert.NoError(t, err)
}

func TestRunRecursiveRootFailure(t *testing.T) {
	testutil.LoadTestEnv(t)
	site := testutil.NewSite(t, map[string]string{
		"/other.html": testutil.Page(),
	})
	t.Chdir(t.TempDir())

	var stdout, stderr bytes.Buffer
	code := run([]string{"-R", "--no-progress", site.URL + "/"}, &stdout, &stderr)

	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr.String(), "root resource could not be downloaded")
	assert.Contains(t, stderr.String(), "404")
	assert.NotContains(t, stdout.String(), "Recursive download complete!")
}
