package crawler

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Harvey-AU/beefetch/internal/fetch"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// maxRobotsSize caps how much of a robots.txt body is read
const maxRobotsSize = 512 * 1024

// RobotsRules contains the robots.txt rules that apply to our user agent
type RobotsRules struct {
	CrawlDelay       time.Duration
	Sitemaps         []string
	DisallowPatterns []string
	AllowPatterns    []string
}

// FetchRobots retrieves and parses robots.txt for the origin of u. A missing
// file (any 4xx) yields empty rules.
func FetchRobots(ctx context.Context, client fetch.Doer, u *url.URL, userAgent string) (*RobotsRules, error) {
	robotsURL := (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}).String()

	log.Debug().
		Str("robots_url", robotsURL).
		Msg("Fetching robots.txt")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		log.Debug().
			Str("robots_url", robotsURL).
			Int("status", resp.StatusCode).
			Msg("No robots.txt found, no restrictions apply")
		return &RobotsRules{}, nil
	default:
		return nil, fmt.Errorf("robots.txt returned status %d", resp.StatusCode)
	}

	return parseRobotsTxtContent(io.LimitReader(resp.Body, maxRobotsSize), userAgent)
}

// parseRobotsTxtContent selects the group addressed to our bot name, falling
// back to the wildcard group. Consecutive User-agent lines share one group.
func parseRobotsTxtContent(r io.Reader, userAgent string) (*RobotsRules, error) {
	botName := strings.ToLower(strings.TrimSpace(strings.Split(userAgent, "/")[0]))

	var (
		specific, wildcard RobotsRules
		sitemaps           []string
		foundSpecific      bool
		inSpecific         bool
		inWildcard         bool
		lastWasAgent       bool
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		if key == "user-agent" {
			if !lastWasAgent {
				inSpecific, inWildcard = false, false
			}
			agent := strings.ToLower(value)
			switch {
			case agent == "*":
				inWildcard = true
			case botName != "" && strings.Contains(agent, botName):
				inSpecific = true
				foundSpecific = true
			}
			lastWasAgent = true
			continue
		}
		lastWasAgent = false

		if key == "sitemap" {
			if value != "" {
				sitemaps = append(sitemaps, value)
			}
			continue
		}

		var targets []*RobotsRules
		if inSpecific {
			targets = append(targets, &specific)
		}
		if inWildcard {
			targets = append(targets, &wildcard)
		}

		for _, rules := range targets {
			switch key {
			case "crawl-delay":
				if secs, err := strconv.ParseFloat(value, 64); err == nil && secs > 0 {
					rules.CrawlDelay = time.Duration(secs * float64(time.Second))
				}
			case "disallow":
				if value != "" {
					rules.DisallowPatterns = append(rules.DisallowPatterns, value)
				}
			case "allow":
				if value != "" {
					rules.AllowPatterns = append(rules.AllowPatterns, value)
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading robots.txt: %w", err)
	}

	rules := wildcard
	if foundSpecific {
		rules = specific
	}
	rules.Sitemaps = sitemaps

	log.Debug().
		Bool("specific_group", foundSpecific).
		Dur("crawl_delay", rules.CrawlDelay).
		Int("sitemaps", len(rules.Sitemaps)).
		Int("disallow_patterns", len(rules.DisallowPatterns)).
		Int("allow_patterns", len(rules.AllowPatterns)).
		Msg("Parsed robots.txt rules")

	return &rules, nil
}

// IsPathAllowed checks path against the rules. The longest matching pattern
// decides; on a tie Allow wins.
func IsPathAllowed(rules *RobotsRules, path string) bool {
	if rules == nil || len(rules.DisallowPatterns) == 0 {
		return true
	}

	longestDisallow := -1
	for _, pattern := range rules.DisallowPatterns {
		if len(pattern) > longestDisallow && matchesRobotsPattern(path, pattern) {
			longestDisallow = len(pattern)
		}
	}
	if longestDisallow < 0 {
		return true
	}

	for _, pattern := range rules.AllowPatterns {
		if len(pattern) >= longestDisallow && matchesRobotsPattern(path, pattern) {
			return true
		}
	}
	return false
}

// matchesRobotsPattern matches path against a robots.txt pattern anchored at
// the start. * matches any run of characters and a trailing $ anchors the end.
func matchesRobotsPattern(path, pattern string) bool {
	anchored := strings.HasSuffix(pattern, "$")
	if anchored {
		pattern = strings.TrimSuffix(pattern, "$")
	}

	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(path, parts[0]) {
		return false
	}
	pos := len(parts[0])

	for i, part := range parts[1:] {
		if anchored && i == len(parts)-2 {
			return len(path)-len(part) >= pos && strings.HasSuffix(path, part)
		}
		idx := strings.Index(path[pos:], part)
		if idx < 0 {
			return false
		}
		pos += idx + len(part)
	}

	if anchored {
		return pos == len(path)
	}
	return true
}

// robotsPath is the part of u that robots.txt patterns are matched against
func robotsPath(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}

// robotsCache fetches robots.txt at most once per origin, including under
// concurrent lookups.
type robotsCache struct {
	client    fetch.Doer
	userAgent string
	onFetch   func(u *url.URL, rules *RobotsRules)
	group     singleflight.Group

	mu    sync.RWMutex
	rules map[string]*RobotsRules
}

func newRobotsCache(client fetch.Doer, userAgent string, onFetch func(*url.URL, *RobotsRules)) *robotsCache {
	return &robotsCache{
		client:    client,
		userAgent: userAgent,
		onFetch:   onFetch,
		rules:     make(map[string]*RobotsRules),
	}
}

func (rc *robotsCache) lookup(origin string) (*RobotsRules, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	rules, ok := rc.rules[origin]
	return rules, ok
}

// rulesFor returns the rules for u's origin. Fetch failures are logged and
// treated as no restrictions.
func (rc *robotsCache) rulesFor(ctx context.Context, u *url.URL) *RobotsRules {
	origin := strings.ToLower(u.Scheme + "://" + u.Host)
	if rules, ok := rc.lookup(origin); ok {
		return rules
	}

	v, _, _ := rc.group.Do(origin, func() (interface{}, error) {
		if rules, ok := rc.lookup(origin); ok {
			return rules, nil
		}

		rules, err := FetchRobots(ctx, rc.client, u, rc.userAgent)
		if err != nil {
			log.Warn().
				Err(err).
				Str("origin", origin).
				Msg("Failed to fetch robots.txt, proceeding with no restrictions")
			rules = &RobotsRules{}
		}

		rc.mu.Lock()
		rc.rules[origin] = rules
		rc.mu.Unlock()

		if rc.onFetch != nil {
			rc.onFetch(u, rules)
		}
		return rules, nil
	})
	return v.(*RobotsRules)
}
