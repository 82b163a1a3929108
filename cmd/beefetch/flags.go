package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/Harvey-AU/beefetch/internal/fetch"
)

var (
	errHelp        = flag.ErrHelp
	errShowVersion = errors.New("version requested")
)

// stringList collects a repeatable flag
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

const usageHeader = `Usage: beefetch [options] URL

Downloads URL to the current directory. With -R, follows links in HTML pages
and mirrors them under a directory named after each host.

Options:
`

// parseFlags builds the immutable fetch configuration from the command line.
// Flags may appear before or after the URL.
func parseFlags(args []string, stderr io.Writer) (*fetch.Config, error) {
	cfg := fetch.DefaultConfig()
	var include, exclude stringList
	var showVersion bool

	fs := flag.NewFlagSet("beefetch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usageHeader)
		fs.PrintDefaults()
	}

	fs.StringVar(&cfg.Output, "o", "", "write to `PATH` (single downloads only)")
	fs.StringVar(&cfg.Output, "output", "", "alias for -o")
	fs.BoolVar(&cfg.Verbose, "v", false, "print progress, skip and redirect diagnostics")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "alias for -v")
	fs.IntVar(&cfg.MaxRedirects, "r", cfg.MaxRedirects, "follow at most `N` redirects")
	fs.IntVar(&cfg.MaxRedirects, "max-redirects", cfg.MaxRedirects, "alias for -r")
	fs.BoolVar(&cfg.NoFollow, "no-follow", false, "never follow redirects")
	fs.BoolVar(&cfg.Resume, "c", false, "resume a partial download with a range request")
	fs.BoolVar(&cfg.Resume, "continue-download", false, "alias for -c")
	fs.BoolVar(&cfg.Force, "f", false, "overwrite existing files (wins over -c)")
	fs.BoolVar(&cfg.Force, "force", false, "alias for -f")
	fs.BoolVar(&cfg.Recursive, "R", false, "follow links and mirror into per-host directories")
	fs.BoolVar(&cfg.Recursive, "recursive", false, "alias for -R")
	fs.IntVar(&cfg.MaxDepth, "l", cfg.MaxDepth, "recursion depth limit `N`")
	fs.IntVar(&cfg.MaxDepth, "max-depth", cfg.MaxDepth, "alias for -l")
	fs.IntVar(&cfg.MaxConcurrent, "j", cfg.MaxConcurrent, "at most `N` transfers in flight")
	fs.IntVar(&cfg.MaxConcurrent, "max-concurrent", cfg.MaxConcurrent, "alias for -j")
	fs.BoolVar(&cfg.SameDomain, "d", false, "only follow links on the starting host")
	fs.BoolVar(&cfg.SameDomain, "same-domain", false, "alias for -d")
	fs.DurationVar(&cfg.Timeout, "timeout", 0, "per-transfer deadline, 0 for none")
	fs.StringVar(&cfg.UserAgent, "user-agent", cfg.UserAgent, "User-Agent header `value`")
	fs.IntVar(&cfg.RateLimit, "rate-limit", 0, "at most `N` requests per second per host, 0 for unlimited")
	fs.BoolVar(&cfg.RespectRobots, "respect-robots", false, "obey robots.txt rules and crawl delays in recursive mode")
	fs.BoolVar(&cfg.Sitemap, "sitemap", false, "also start from the URLs in the host's sitemaps in recursive mode")
	fs.Var(&include, "include", "only follow links containing `TEXT` (repeatable)")
	fs.Var(&exclude, "exclude", "never follow links containing `TEXT` (repeatable)")
	fs.BoolVar(&cfg.NoProgress, "no-progress", false, "disable progress bars")
	fs.BoolVar(&showVersion, "version", false, "print the version and exit")

	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if showVersion {
			return nil, errShowVersion
		}
		rest := fs.Args()
		if len(rest) == 0 {
			break
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}

	switch len(positional) {
	case 0:
		fs.Usage()
		return nil, errors.New("a URL is required")
	case 1:
		cfg.URL = positional[0]
	default:
		return nil, fmt.Errorf("expected exactly one URL, got %d: %s", len(positional), strings.Join(positional, " "))
	}

	cfg.Include = include
	cfg.Exclude = exclude

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
