package crawler

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
)

// linkSelectors maps element selectors to the attribute holding the reference
var linkSelectors = []struct {
	selector string
	attr     string
}{
	{"a[href]", "href"},
	{"link[href]", "href"},
	{"img[src]", "src"},
	{"script[src]", "src"},
	{"source[src]", "src"},
}

// ExtractLinks parses an HTML document and returns the absolute http(s)
// references it contains, resolved against base (or the document's
// <base href> when present). Fragments are dropped and duplicates removed;
// order follows first appearance.
func ExtractLinks(base *url.URL, content []byte) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		log.Debug().Err(err).Str("url", base.String()).Msg("Failed to parse HTML for links")
		return nil
	}

	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b, err := base.Parse(strings.TrimSpace(href)); err == nil {
			base = b
		}
	}

	seen := make(map[string]struct{})
	var links []string

	for _, ls := range linkSelectors {
		doc.Find(ls.selector).Each(func(i int, s *goquery.Selection) {
			ref := strings.TrimSpace(s.AttrOr(ls.attr, ""))
			if ref == "" || strings.HasPrefix(ref, "#") {
				return
			}
			if ls.attr == "href" && isElementHidden(s) {
				return
			}

			u, err := base.Parse(ref)
			if err != nil {
				return
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return
			}
			u.Fragment = ""
			u.RawFragment = ""

			abs := u.String()
			if _, dup := seen[abs]; dup {
				return
			}
			seen[abs] = struct{}{}
			links = append(links, abs)
		})
	}

	log.Debug().
		Str("url", base.String()).
		Int("links", len(links)).
		Msg("Extracted links from page")

	return links
}

// FilterLinks keeps links containing at least one include pattern (when any
// are given) and none of the exclude patterns.
func FilterLinks(links []string, include, exclude []string) []string {
	if len(include) == 0 && len(exclude) == 0 {
		return links
	}

	var filtered []string
	for _, link := range links {
		if len(include) > 0 && !containsAny(link, include) {
			continue
		}
		if containsAny(link, exclude) {
			continue
		}
		filtered = append(filtered, link)
	}
	return filtered
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// hidingClasses are conventional CSS utility classes that hide an element
var hidingClasses = []string{
	"hide",
	"hidden",
	"display-none",
	"d-none",
	"invisible",
	"is-hidden",
	"sr-only",
	"visually-hidden",
}

// isElementHidden reports whether s or one of its ancestors is hidden by an
// inline style, an accessibility attribute or a conventional class. Linked
// stylesheets are not evaluated.
func isElementHidden(s *goquery.Selection) bool {
	for n := s; n.Length() > 0 && !n.Is("body"); n = n.Parent() {
		if _, exists := n.Attr("data-hidden"); exists {
			return true
		}
		if val, exists := n.Attr("data-visible"); exists && val == "false" {
			return true
		}
		if val, exists := n.Attr("aria-hidden"); exists && val == "true" {
			return true
		}
		if style, exists := n.Attr("style"); exists {
			compact := strings.ReplaceAll(strings.ToLower(style), " ", "")
			if strings.Contains(compact, "display:none") || strings.Contains(compact, "visibility:hidden") {
				return true
			}
		}
		for _, class := range hidingClasses {
			if n.HasClass(class) {
				return true
			}
		}
	}
	return false
}
