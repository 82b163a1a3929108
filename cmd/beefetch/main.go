package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Harvey-AU/beefetch/internal/crawler"
	"github.com/Harvey-AU/beefetch/internal/fetch"
	"github.com/Harvey-AU/beefetch/internal/observability"
	"github.com/Harvey-AU/beefetch/internal/progress"
	"github.com/Harvey-AU/beefetch/internal/transport"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Exit codes
const (
	exitOK          = 0
	exitFailure     = 1
	exitInvalidArgs = 2
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

// Config holds the environment-driven settings around a fetch
type Config struct {
	Env                  string // Environment (development/production)
	LogLevel             string // Log level used when --verbose is not given
	SentryDSN            string // Sentry DSN for error tracking
	ObservabilityEnabled bool   // Enable OTEL tracing and metrics
	MetricsAddr          string // Address for Prometheus metrics endpoint, empty disables it
	OTLPEndpoint         string // OTLP HTTP endpoint for traces
	OTLPHeaders          string // Comma-separated headers for OTLP exporter
	OTLPInsecure         bool   // Disable TLS verification for OTLP exporter
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one invocation and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	// Load .env files - .env.local takes priority
	_ = godotenv.Load(".env.local", ".env")

	cfg, err := parseFlags(args, stderr)
	if errors.Is(err, errShowVersion) {
		fmt.Fprintf(stdout, "beefetch %s\n", version)
		return exitOK
	}
	if errors.Is(err, errHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitInvalidArgs
	}

	env := loadConfig()
	runID := uuid.NewString()
	setupLogging(env, cfg.Verbose, runID, stderr)

	target, err := parseTarget(cfg.URL)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitInvalidArgs
	}

	if cfg.Recursive && cfg.Output != "" {
		log.Warn().
			Str("output", cfg.Output).
			Msg("--output is ignored in recursive mode")
	}

	if env.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              env.SentryDSN,
			Environment:      env.Env,
			Release:          "beefetch@" + version,
			AttachStacktrace: true,
			Debug:            cfg.Verbose,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise Sentry")
		} else {
			sentry.ConfigureScope(func(scope *sentry.Scope) {
				scope.SetTag("run_id", runID)
			})
			defer sentry.Flush(2 * time.Second)
		}
	}

	providers, shutdown := setupObservability(env, runID)
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, cfg, target, providers, ".", stdout, stderr); err != nil {
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("url", target.String())
			sentry.CaptureException(err)
		})
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if errors.Is(err, fetch.ErrURLParse) {
			return exitInvalidArgs
		}
		return exitFailure
	}
	return exitOK
}

// execute runs a single download or a recursive traversal rooted at baseDir.
func execute(ctx context.Context, cfg *fetch.Config, target *url.URL, providers *observability.Providers, baseDir string, stdout, stderr io.Writer) error {
	limiter := transport.NewHostLimiter(cfg.RateLimit)
	client := transport.NewClient(transport.Options{
		MaxRedirects: cfg.MaxRedirects,
		NoFollow:     cfg.NoFollow,
		UserAgent:    cfg.UserAgent,
		Limiter:      limiter,
	})
	client.Transport = observability.WrapTransport(client.Transport, providers)

	reporter := progress.NewReporter(progress.Options{
		Output:  stderr,
		Enabled: !cfg.NoProgress,
	})
	executor := fetch.NewExecutor(client, cfg, reporter)

	if cfg.Recursive {
		ctrl := crawler.New(executor, client, cfg)
		ctrl.SetHostLimiter(limiter)

		outcome, err := ctrl.Run(ctx, target, baseDir)
		if crawler.IsCanceled(err) {
			return fmt.Errorf("recursive download interrupted: %w", err)
		}
		if err != nil {
			return fmt.Errorf("recursive download failed: %w", err)
		}

		fmt.Fprintf(stdout, "Recursive download complete! Downloaded %d files.\n", outcome.Fetched)
		if outcome.Failed > 0 {
			fmt.Fprintf(stdout, "%d resources could not be downloaded.\n", outcome.Failed)
		}
		return nil
	}

	localPath, err := fetch.Locate(target, baseDir, cfg)
	if err != nil {
		return err
	}

	log.Debug().
		Str("url", target.String()).
		Str("path", localPath).
		Msg("Downloading")

	res, err := executor.Fetch(ctx, target, localPath)
	if err != nil {
		return err
	}

	if res.Status == fetch.StatusSkipped {
		fmt.Fprintf(stderr, "Skipping existing file: %s (use -c to resume or -f to overwrite)\n", localPath)
	}
	return nil
}

// parseTarget accepts absolute http(s) URLs only
func parseTarget(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fetch.ParseError(raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fetch.ParseError(raw, fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return nil, fetch.ParseError(raw, errors.New("missing host"))
	}
	return u, nil
}

func loadConfig() *Config {
	return &Config{
		Env:                  getEnvWithDefault("APP_ENV", "development"),
		LogLevel:             getEnvWithDefault("LOG_LEVEL", "warn"),
		SentryDSN:            os.Getenv("SENTRY_DSN"),
		ObservabilityEnabled: getEnvWithDefault("OBSERVABILITY_ENABLED", "false") == "true",
		MetricsAddr:          os.Getenv("METRICS_ADDR"),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPHeaders:          os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"),
		OTLPInsecure:         getEnvWithDefault("OTEL_EXPORTER_OTLP_INSECURE", "false") == "true",
	}
}

// setupLogging configures the global logger. Verbose forces debug level.
func setupLogging(config *Config, verbose bool, runID string, out io.Writer) {
	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil || config.LogLevel == "" {
		level = zerolog.WarnLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if config.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen})
		return
	}

	log.Logger = zerolog.New(out).
		With().
		Timestamp().
		Str("service", "beefetch").
		Str("run_id", runID).
		Logger()
}

// setupObservability starts telemetry when enabled. The returned func flushes
// and stops everything it started.
func setupObservability(config *Config, runID string) (*observability.Providers, func()) {
	noop := func() {}
	if !config.ObservabilityEnabled {
		return nil, noop
	}

	providers, err := observability.Init(context.Background(), observability.Config{
		Enabled:        true,
		ServiceName:    "beefetch",
		Environment:    config.Env,
		RunID:          runID,
		OTLPEndpoint:   strings.TrimSpace(config.OTLPEndpoint),
		OTLPHeaders:    parseOTLPHeaders(config.OTLPHeaders),
		OTLPInsecure:   config.OTLPInsecure,
		MetricsAddress: config.MetricsAddr,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialise observability providers")
		return nil, noop
	}

	var metricsSrv *http.Server
	if providers.MetricsHandler != nil && config.MetricsAddr != "" {
		metricsSrv = &http.Server{
			Addr:              config.MetricsAddr,
			Handler:           providers.MetricsHandler,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", config.MetricsAddr).Msg("Metrics server listening")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				sentry.CaptureException(err)
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	return providers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn().Err(err).Msg("Graceful shutdown of metrics server failed")
			}
		}
		if err := providers.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to flush telemetry providers cleanly")
		}
	}
}

// getEnvWithDefault retrieves an environment variable or returns a default value if not set
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func parseOTLPHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return headers
	}

	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(value)
	}

	return headers
}
