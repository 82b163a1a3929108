package fetch

import (
	"fmt"
	"time"
)

// Config holds the settings for one invocation. It is built once from the
// command line and never modified afterwards.
type Config struct {
	URL           string        // Target URL
	Output        string        // Explicit destination (non-recursive only)
	Verbose       bool          // Print progress/skip/redirect diagnostics
	MaxRedirects  int           // Redirect hop cap when following
	NoFollow      bool          // Never follow redirects
	Resume        bool          // Attempt resume via range request
	Force         bool          // Always overwrite; wins over Resume
	Recursive     bool          // Crawl mode with host-rooted output
	MaxDepth      int           // Crawl depth cap
	MaxConcurrent int           // Admission gate capacity
	SameDomain    bool          // Restrict traversal to the root host
	Timeout       time.Duration // Per-transfer deadline, 0 means none
	UserAgent     string        // User agent string for requests
	RateLimit     int           // Requests per second per host, 0 means unlimited
	RespectRobots bool          // Honour robots.txt in crawl mode
	NoProgress    bool          // Disable progress bars
	Sitemap       bool          // Seed the crawl from the root host's sitemaps
	Include       []string      // Only traverse links containing one of these
	Exclude       []string      // Never traverse links containing any of these
}

// DefaultConfig returns a Config instance with default values
func DefaultConfig() *Config {
	return &Config{
		MaxRedirects:  10,
		MaxDepth:      5,
		MaxConcurrent: 5,
		UserAgent:     "beefetch/1.0",
	}
}

// Validate checks the numeric bounds of the configuration.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("a URL is required")
	}
	if c.MaxRedirects < 0 {
		return fmt.Errorf("max-redirects must be >= 0, got %d", c.MaxRedirects)
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("max-depth must be >= 0, got %d", c.MaxDepth)
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max-concurrent must be >= 1, got %d", c.MaxConcurrent)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate-limit must be >= 0, got %d", c.RateLimit)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0, got %s", c.Timeout)
	}
	return nil
}
