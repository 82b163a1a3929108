package crawler

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Harvey-AU/beefetch/internal/fetch"
	"github.com/rs/zerolog/log"
)

const (
	// maxSitemapSize caps how much of one sitemap document is read
	maxSitemapSize = 10 * 1024 * 1024
	// maxSitemapNesting bounds sitemap index recursion
	maxSitemapNesting = 2
)

// sitemapDocument decodes both <urlset> and <sitemapindex> documents
type sitemapDocument struct {
	XMLName  xml.Name
	Sitemaps []sitemapLoc `xml:"sitemap"`
	URLs     []sitemapLoc `xml:"url"`
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// SitemapCandidates returns the sitemaps to consult for root: those listed in
// robots.txt, or /sitemap.xml on the root's origin when there are none.
func SitemapCandidates(root *url.URL, rules *RobotsRules) []string {
	if rules != nil && len(rules.Sitemaps) > 0 {
		return dedupe(rules.Sitemaps)
	}
	return []string{(&url.URL{Scheme: root.Scheme, Host: root.Host, Path: "/sitemap.xml"}).String()}
}

// ParseSitemap fetches sitemapURL and returns the page URLs it lists,
// following sitemap indexes up to a fixed nesting depth. Child sitemaps that
// fail are logged and skipped.
func ParseSitemap(ctx context.Context, client fetch.Doer, sitemapURL string) ([]string, error) {
	urls, err := parseSitemap(ctx, client, sitemapURL, 0)
	if err != nil {
		return nil, err
	}
	return dedupe(urls), nil
}

func parseSitemap(ctx context.Context, client fetch.Doer, sitemapURL string, nesting int) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sitemap: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch sitemap: status %d", resp.StatusCode)
	}

	var doc sitemapDocument
	if err := xml.NewDecoder(io.LimitReader(resp.Body, maxSitemapSize)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode sitemap %s: %w", sitemapURL, err)
	}

	base := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		base = resp.Request.URL
	}
	var urls []string

	switch doc.XMLName.Local {
	case "sitemapindex":
		if nesting >= maxSitemapNesting {
			log.Warn().
				Str("url", sitemapURL).
				Msg("Sitemap index nested too deeply, skipping children")
			return nil, nil
		}
		for _, child := range doc.Sitemaps {
			childURL, ok := absoluteLoc(base, child.Loc)
			if !ok {
				log.Debug().Str("loc", child.Loc).Msg("Invalid child sitemap URL, skipping")
				continue
			}
			childURLs, err := parseSitemap(ctx, client, childURL, nesting+1)
			if err != nil {
				log.Warn().Err(err).Str("url", childURL).Msg("Failed to parse child sitemap")
				continue
			}
			urls = append(urls, childURLs...)
		}

	case "urlset":
		for _, entry := range doc.URLs {
			pageURL, ok := absoluteLoc(base, entry.Loc)
			if !ok {
				log.Debug().Str("loc", entry.Loc).Msg("Skipping invalid URL from sitemap")
				continue
			}
			urls = append(urls, pageURL)
		}

	default:
		return nil, fmt.Errorf("unexpected sitemap root element %q", doc.XMLName.Local)
	}

	log.Debug().
		Str("sitemap_url", sitemapURL).
		Int("url_count", len(urls)).
		Msg("Finished parsing sitemap")

	return urls, nil
}

// absoluteLoc resolves a <loc> value and keeps only http(s) URLs
func absoluteLoc(base *url.URL, loc string) (string, bool) {
	loc = strings.TrimSpace(loc)
	if loc == "" {
		return "", false
	}
	u, err := base.Parse(loc)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}
	u.Fragment = ""
	return u.String(), true
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
