package util

import (
	"net/url"
	"strings"
)

// NormaliseDomain removes http/https prefix, www. and any trailing slash from domain
func NormaliseDomain(domain string) string {
	domain = strings.TrimPrefix(domain, "http://")
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "www.")
	domain = strings.TrimSuffix(domain, "/")
	return domain
}

// normaliseHostPort removes default ports (80 for HTTP, 443 for HTTPS) from host.
func normaliseHostPort(host, scheme string) string {
	if scheme == "http" && strings.HasSuffix(host, ":80") {
		return strings.TrimSuffix(host, ":80")
	}
	if scheme == "https" && strings.HasSuffix(host, ":443") {
		return strings.TrimSuffix(host, ":443")
	}
	return host
}

// CanonicalURL returns the key used to deduplicate URLs during a traversal.
// Scheme and host are lowercased, default ports and the fragment are dropped
// and an empty path becomes "/". Query strings are kept as-is.
func CanonicalURL(u *url.URL) string {
	if u == nil {
		return ""
	}

	c := *u
	c.Scheme = strings.ToLower(c.Scheme)
	c.Host = normaliseHostPort(strings.ToLower(c.Host), c.Scheme)
	c.Fragment = ""
	c.RawFragment = ""
	if c.Path == "" && c.Opaque == "" {
		c.Path = "/"
		c.RawPath = ""
	}
	return c.String()
}

// HostKey returns the comparable form of a URL host: lowercased, without
// default port and without a leading www.
func HostKey(u *url.URL) string {
	if u == nil {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	return NormaliseDomain(normaliseHostPort(strings.ToLower(u.Host), scheme))
}

// SameHost reports whether a and b point at the same site.
func SameHost(a, b *url.URL) bool {
	return HostKey(a) != "" && HostKey(a) == HostKey(b)
}

// IsSignificantRedirect checks if a redirect URL is meaningfully different from the original.
// Only the host and path are compared; query parameters and fragments are ignored.
// Returns false for trivial redirects like:
//   - HTTP to HTTPS on same domain/path
//   - www to non-www (or vice versa) on same path
//   - Trailing slash differences
//   - Default port differences (e.g., :443 for HTTPS, :80 for HTTP)
//
// Returns true for redirects to different domains or different paths.
func IsSignificantRedirect(originalURL, redirectURL string) bool {
	if redirectURL == "" {
		return false
	}

	origParsed, origErr := url.Parse(originalURL)
	redirParsed, redirErr := url.Parse(redirectURL)
	if origErr != nil || redirErr != nil {
		return true
	}

	if HostKey(origParsed) != HostKey(redirParsed) {
		return true
	}

	origPath := trimPath(origParsed.Path)
	redirPath := trimPath(redirParsed.Path)

	return origPath != redirPath
}

// trimPath maps "" to "/" and drops a trailing slash from longer paths.
func trimPath(p string) string {
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		return strings.TrimSuffix(p, "/")
	}
	return p
}
