// Package crawler drives recursive traversal: it deduplicates URLs, bounds
// depth, admits transfers through a fixed-capacity gate and discovers child
// links in fetched HTML.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/Harvey-AU/beefetch/internal/cache"
	"github.com/Harvey-AU/beefetch/internal/fetch"
	"github.com/Harvey-AU/beefetch/internal/observability"
	"github.com/Harvey-AU/beefetch/internal/transport"
	"github.com/Harvey-AU/beefetch/internal/util"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// maxLocalPageSize caps how much of an already-downloaded page is re-read
// for links when its transfer was skipped
const maxLocalPageSize = 5 * 1024 * 1024

// Visit results recorded per URL
const (
	visitFetched       = "fetched"
	visitSkipped       = "skipped"
	visitFailed        = "failed"
	visitDepthExceeded = "depth_exceeded"
	visitBlocked       = "robots_blocked"
	visitProbeFailed   = "probe_failed"
	visitPathClaimed   = "path_claimed"
)

// ErrRootFailed is returned by Run when the root resource itself could not be
// downloaded. Failures below the root are only counted.
var ErrRootFailed = errors.New("root resource could not be downloaded")

// Fetcher performs one transfer. *fetch.Executor satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, target *url.URL, localPath string) (*fetch.Result, error)
}

// Outcome summarises one traversal
type Outcome struct {
	Fetched int
	Skipped int
	Failed  int
	Blocked int
	Visited []string
}

// Controller owns the traversal state for one top-level invocation.
type Controller struct {
	fetcher Fetcher
	client  fetch.Doer
	config  *fetch.Config
	gate    *Gate
	visited *cache.VisitedSet
	paths   *cache.VisitedSet
	robots  *robotsCache
	limiter *transport.HostLimiter
	root    *url.URL
	rootErr error // set by the depth 0 visit only

	fetched atomic.Int64
	skipped atomic.Int64
	failed  atomic.Int64
	blocked atomic.Int64
}

// New creates a Controller. client is used for the post-fetch probe,
// robots.txt and sitemaps; fetcher performs the transfers.
func New(fetcher Fetcher, client fetch.Doer, config *fetch.Config) *Controller {
	if config == nil {
		config = fetch.DefaultConfig()
	}
	c := &Controller{
		fetcher: fetcher,
		client:  client,
		config:  config,
		gate:    NewGate(config.MaxConcurrent),
		visited: cache.NewVisitedSet(),
		paths:   cache.NewVisitedSet(),
	}
	c.robots = newRobotsCache(client, config.UserAgent, c.applyCrawlDelay)
	return c
}

// SetHostLimiter makes robots.txt crawl delays slow down the given limiter.
// It must be called before Run.
func (c *Controller) SetHostLimiter(l *transport.HostLimiter) {
	c.limiter = l
}

func (c *Controller) applyCrawlDelay(u *url.URL, rules *RobotsRules) {
	if !c.config.RespectRobots || rules.CrawlDelay <= 0 {
		return
	}
	c.limiter.SetCrawlDelay(u.Hostname(), rules.CrawlDelay)
}

// Run traverses from root at depth 0, then from the root host's sitemap
// entries at depth 1 when enabled. Cancellation and a failed root transfer
// (ErrRootFailed) are returned as errors; failures below the root are
// counted in the Outcome.
func (c *Controller) Run(ctx context.Context, root *url.URL, baseDir string) (*Outcome, error) {
	c.root = root

	log.Info().
		Str("url", root.String()).
		Int("max_depth", c.config.MaxDepth).
		Int("max_concurrent", c.gate.Capacity()).
		Bool("same_domain", c.config.SameDomain).
		Msg("Starting recursive download")

	err := c.Traverse(ctx, root, baseDir, 0)
	if err == nil && c.rootErr != nil {
		err = fmt.Errorf("%w: %w", ErrRootFailed, c.rootErr)
	}
	if err == nil && c.config.Sitemap {
		err = c.traverseSitemaps(ctx, root, baseDir)
	}

	outcome := c.Outcome()

	log.Info().
		Int("fetched", outcome.Fetched).
		Int("skipped", outcome.Skipped).
		Int("failed", outcome.Failed).
		Int("blocked", outcome.Blocked).
		Int("visited", len(outcome.Visited)).
		Msg("Recursive download finished")

	return outcome, err
}

// Outcome returns the counters so far and a snapshot of the visited set.
func (c *Controller) Outcome() *Outcome {
	return &Outcome{
		Fetched: int(c.fetched.Load()),
		Skipped: int(c.skipped.Load()),
		Failed:  int(c.failed.Load()),
		Blocked: int(c.blocked.Load()),
		Visited: c.visited.Keys(),
	}
}

// Traverse visits target at depth and recurses into the links it contains.
// A URL is claimed in the visited set before anything else happens to it, so
// it is attempted at most once however many pages reference it.
func (c *Controller) Traverse(ctx context.Context, target *url.URL, baseDir string, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !c.visited.Add(util.CanonicalURL(target)) {
		return nil
	}

	if depth > c.config.MaxDepth {
		c.recordVisit(ctx, target, depth, visitDepthExceeded)
		return nil
	}

	if c.config.RespectRobots {
		rules := c.robots.rulesFor(ctx, target)
		if !IsPathAllowed(rules, robotsPath(target)) {
			c.blocked.Add(1)
			c.recordVisit(ctx, target, depth, visitBlocked)
			return nil
		}
	}

	res, err := c.admitAndFetch(ctx, target, baseDir)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.failed.Add(1)
		c.recordVisit(ctx, target, depth, visitFailed)
		log.Info().
			Err(err).
			Str("url", target.String()).
			Int("depth", depth).
			Msg("Transfer failed")
		if depth == 0 {
			c.rootErr = err
		}
		return nil
	}

	if res.SkipReason == fetch.SkipPathClaimed {
		c.skipped.Add(1)
		c.recordVisit(ctx, target, depth, visitPathClaimed)
		return nil
	}

	if res.Status == fetch.StatusSkipped {
		c.skipped.Add(1)
		c.recordVisit(ctx, target, depth, visitSkipped)
	} else {
		c.fetched.Add(1)
		c.recordVisit(ctx, target, depth, visitFetched)
	}

	if err := c.probe(ctx, target); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		observability.RecordVisit(ctx, visitProbeFailed, depth)
		log.Info().
			Err(err).
			Str("url", target.String()).
			Msg("Post-fetch check failed, not following links")
		return nil
	}

	if !c.claimFinalURL(target, res) {
		return nil
	}

	return c.traverseChildren(ctx, c.discover(target, res), baseDir, depth+1)
}

// claimFinalURL marks the post-redirect URL as visited so it is not fetched
// again under its own path. It reports false when another visit already owns
// that URL, in which case its links are that visit's to discover.
func (c *Controller) claimFinalURL(target *url.URL, res *fetch.Result) bool {
	if res.FinalURL == "" {
		return true
	}
	final, err := url.Parse(res.FinalURL)
	if err != nil {
		return true
	}

	key := util.CanonicalURL(final)
	if key == util.CanonicalURL(target) || c.visited.Add(key) {
		return true
	}

	log.Debug().
		Str("url", target.String()).
		Str("final_url", res.FinalURL).
		Msg("Redirect target already visited, not following links")
	return false
}

// admitAndFetch holds a gate slot for the duration of one transfer. Distinct
// URLs can share a destination (query strings are not part of the path), so
// each destination is claimed once and later claimants are skipped.
func (c *Controller) admitAndFetch(ctx context.Context, target *url.URL, baseDir string) (*fetch.Result, error) {
	release, err := c.gate.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	localPath, err := fetch.Locate(target, baseDir, c.config)
	if err != nil {
		return nil, err
	}

	if !c.paths.Add(filepath.Clean(localPath)) {
		log.Debug().
			Str("url", target.String()).
			Str("path", localPath).
			Msg("Destination already claimed by another URL, skipping")
		return &fetch.Result{
			URL:        target.String(),
			Path:       localPath,
			Status:     fetch.StatusSkipped,
			SkipReason: fetch.SkipPathClaimed,
		}, nil
	}

	return c.fetcher.Fetch(ctx, target, localPath)
}

// probe re-checks the status of target; anything but 2xx stops the branch
func (c *Controller) probe(ctx context.Context, target *url.URL) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &fetch.FetchError{Kind: fetch.ErrServer, URL: target.String(), Status: resp.StatusCode}
	}
	return nil
}

// discover returns the child URLs of a visited resource that pass the
// same-domain and include/exclude filters.
func (c *Controller) discover(target *url.URL, res *fetch.Result) []*url.URL {
	content := res.Content
	if content == nil && res.Status == fetch.StatusSkipped {
		content = readLocalPage(res.Path)
	}
	if len(content) == 0 {
		return nil
	}

	base := target
	if res.FinalURL != "" {
		if u, err := url.Parse(res.FinalURL); err == nil {
			base = u
		}
	}

	links := FilterLinks(ExtractLinks(base, content), c.config.Include, c.config.Exclude)
	return c.admissible(links)
}

// admissible parses links and drops off-host ones in same-domain mode
func (c *Controller) admissible(links []string) []*url.URL {
	var children []*url.URL
	for _, link := range links {
		u, err := url.Parse(link)
		if err != nil {
			continue
		}
		if c.config.SameDomain && c.root != nil && !util.SameHost(c.root, u) {
			log.Debug().
				Str("url", link).
				Msg("Skipping off-domain link")
			continue
		}
		children = append(children, u)
	}
	return children
}

func (c *Controller) traverseChildren(ctx context.Context, children []*url.URL, baseDir string, depth int) error {
	if len(children) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, child := range children {
		g.Go(func() error {
			return c.Traverse(gctx, child, baseDir, depth)
		})
	}
	return g.Wait()
}

func (c *Controller) traverseSitemaps(ctx context.Context, root *url.URL, baseDir string) error {
	var links []string
	for _, sitemapURL := range SitemapCandidates(root, c.robots.rulesFor(ctx, root)) {
		urls, err := ParseSitemap(ctx, c.client, sitemapURL)
		if err != nil {
			log.Info().Err(err).Str("sitemap", sitemapURL).Msg("Sitemap unavailable")
			continue
		}
		links = append(links, urls...)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	children := c.admissible(FilterLinks(links, c.config.Include, c.config.Exclude))
	log.Debug().
		Int("urls", len(children)).
		Msg("Seeding traversal from sitemaps")
	return c.traverseChildren(ctx, children, baseDir, 1)
}

func (c *Controller) recordVisit(ctx context.Context, target *url.URL, depth int, result string) {
	observability.RecordVisit(ctx, result, depth)
	log.Debug().
		Str("url", target.String()).
		Int("depth", depth).
		Str("result", result).
		Msg("Visited")
}

// readLocalPage returns the contents of an existing .html/.htm file, or nil
func readLocalPage(path string) []byte {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".html" && ext != ".htm" {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, maxLocalPageSize))
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("Failed to read existing page")
		return nil
	}
	return content
}

// IsCanceled reports whether err stems from cancellation of the traversal.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, fetch.ErrCanceled)
}
