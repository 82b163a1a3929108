// Package transport builds the HTTP client used for every transfer.
//
// It covers:
//   - Redirect policy (follow up to N hops, or never follow)
//   - Connection pooling with compression disabled so byte ranges line up
//   - Per-host request pacing via golang.org/x/time/rate
//   - httptrace timing logged at debug level
package transport
