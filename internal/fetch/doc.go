// Package fetch retrieves one resource over HTTP into one local file.
//
// The Executor decides, per destination, whether to skip, overwrite or resume:
//
//	exists + Force   -> overwrite from byte 0
//	exists + Resume  -> Range: bytes=<size>- ; append on 206, restart on any other 2xx
//	exists           -> Skipped without touching the network
//
// Bodies are streamed to disk in fixed-size chunks. Each chunk is reported to
// an Observer as a ProgressEvent, so rendering lives outside this package.
// HTML bodies are also captured in memory when Config.Recursive is set, for
// link discovery by the crawler.
//
// # Usage
//
//	cfg := fetch.DefaultConfig()
//	cfg.Resume = true
//	exec := fetch.NewExecutor(client, cfg, reporter)
//	path, err := fetch.Locate(u, ".", cfg)
//	res, err := exec.Fetch(ctx, u, path)
package fetch
