package fetch

import (
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const (
	// DefaultFilename is used when a URL path is empty or names a directory
	DefaultFilename = "index.html"
	// DefaultHostDir roots crawl output when the URL has no host
	DefaultHostDir = "download"
)

// Locate computes the destination for u under baseDir and makes sure its
// parent directories exist.
func Locate(u *url.URL, baseDir string, cfg *Config) (string, error) {
	target := TargetPath(u, baseDir, cfg)

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", ioError(u.String(), target, err)
	}
	return target, nil
}

// TargetPath computes the destination for u without touching the file system.
//
//   - explicit output (non-recursive only): used verbatim
//   - recursive: <baseDir>/<host>/<url path>, index.html for directory paths
//   - otherwise: <baseDir>/<last path segment>, index.html when empty
func TargetPath(u *url.URL, baseDir string, cfg *Config) string {
	if !cfg.Recursive && cfg.Output != "" {
		return cfg.Output
	}

	if cfg.Recursive {
		host := u.Hostname()
		if host == "" {
			host = DefaultHostDir
		}
		return filepath.Join(baseDir, host, filepath.FromSlash(relativePath(u.Path)))
	}

	return filepath.Join(baseDir, lastSegment(u.Path))
}

// relativePath strips the leading separator from p. Dot segments are resolved
// first so a URL cannot climb out of the host directory.
func relativePath(p string) string {
	if p == "" || strings.HasSuffix(p, "/") {
		dir := strings.TrimPrefix(path.Clean("/"+p), "/")
		return path.Join(dir, DefaultFilename)
	}

	rel := strings.TrimPrefix(path.Clean("/"+p), "/")
	if rel == "" {
		return DefaultFilename
	}
	return rel
}

func lastSegment(p string) string {
	if p == "" || strings.HasSuffix(p, "/") {
		return DefaultFilename
	}

	name := path.Base(path.Clean("/" + p))
	if name == "/" || name == "." || name == ".." {
		return DefaultFilename
	}
	return name
}
