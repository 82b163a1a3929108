// Package progress renders transfer progress events as terminal bars.
package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Harvey-AU/beefetch/internal/fetch"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
)

const (
	barWidth       = 40
	renderInterval = 65 * time.Millisecond
)

// Options configures a Reporter
type Options struct {
	Output  io.Writer // Defaults to os.Stderr
	Enabled bool      // When false every event is discarded
}

// Reporter is a fetch.Observer that draws one bar per in-flight resource.
// Resources with an unknown size get no bar.
type Reporter struct {
	mu      sync.Mutex
	out     io.Writer
	enabled bool
	bars    map[string]*progressbar.ProgressBar
}

// NewReporter creates a Reporter
func NewReporter(opts Options) *Reporter {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	return &Reporter{
		out:     out,
		enabled: opts.Enabled,
		bars:    make(map[string]*progressbar.ProgressBar),
	}
}

// Observe implements fetch.Observer.
func (r *Reporter) Observe(ev fetch.ProgressEvent) {
	if !r.enabled {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Kind {
	case fetch.EventStart:
		if ev.Total <= 0 {
			log.Debug().Str("resource", ev.Resource).Msg("Size unknown, no progress bar")
			return
		}
		bar := r.newBar(ev.Resource, ev.Total)
		if ev.Offset > 0 {
			_ = bar.Set64(ev.Offset)
		}
		r.bars[ev.Resource] = bar

	case fetch.EventProgress:
		if bar, ok := r.bars[ev.Resource]; ok {
			_ = bar.Add64(ev.Delta)
		}

	case fetch.EventDone:
		bar, ok := r.bars[ev.Resource]
		if !ok {
			return
		}
		delete(r.bars, ev.Resource)
		if ev.Failed {
			_ = bar.Clear()
			fmt.Fprintf(r.out, "%s: failed\n", filepath.Base(ev.Resource))
			return
		}
		_ = bar.Finish()
	}
}

// Active returns the number of bars currently drawn.
func (r *Reporter) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bars)
}

func (r *Reporter) newBar(resource string, total int64) *progressbar.ProgressBar {
	out := r.out
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription(filepath.Base(resource)),
		progressbar.OptionShowBytes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(barWidth),
		progressbar.OptionThrottle(renderInterval),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(out, "\n")
		}),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "#",
			SaucerHead:    ">",
			SaucerPadding: "-",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
