package fetch

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Harvey-AU/beefetch/internal/observability"
	"github.com/Harvey-AU/beefetch/internal/util"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/codes"
)

const copyBufferSize = 32 * 1024

// Skip reasons reported in Result.SkipReason
const (
	// SkipAlreadyExists: the destination exists and neither Force nor Resume is set
	SkipAlreadyExists = "already-exists"
	// SkipPathClaimed: another URL of the same traversal already writes to the destination
	SkipPathClaimed = "path-claimed"
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Status is the outcome of one Fetch call.
type Status int

const (
	StatusCompleted Status = iota
	StatusSkipped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result represents the result of a single transfer
type Result struct {
	URL          string
	FinalURL     string // URL after redirects
	Path         string
	Status       Status
	StatusCode   int
	BytesWritten int64 // Bytes written by this invocation
	ResumedFrom  int64 // Offset the write started at, 0 unless a 206 was honoured
	TotalSize    int64 // Expected final size, 0 when unknown
	ContentType  string
	IsHTML       bool
	SkipReason   string
	Content      []byte // Captured HTML body, only in recursive mode
	Error        string
}

// Executor performs single-resource transfers.
type Executor struct {
	client   Doer
	config   *Config
	observer Observer
}

// NewExecutor creates an Executor. A nil observer discards progress events.
func NewExecutor(client Doer, config *Config, observer Observer) *Executor {
	if config == nil {
		config = DefaultConfig()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Executor{
		client:   client,
		config:   config,
		observer: observer,
	}
}

// transferState is the per-call bookkeeping; it never outlives Fetch
type transferState struct {
	url      string
	path     string
	offset   int64
	received int64
	total    int64
	html     bool
}

// Fetch retrieves target into localPath following the skip/overwrite/resume
// policy of the executor's Config. A failed transfer returns a Result with
// StatusFailed alongside a *FetchError. Partially written files are left in
// place so a later run can resume them.
func (e *Executor) Fetch(ctx context.Context, target *url.URL, localPath string) (*Result, error) {
	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	ctx, span := observability.StartTransferSpan(ctx, observability.TransferSpanInfo{
		URL:    target.String(),
		Path:   localPath,
		Resume: e.config.Resume,
		Force:  e.config.Force,
	})
	defer span.End()

	start := time.Now()
	res, err := e.fetch(ctx, target, localPath)
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	observability.RecordTransfer(ctx, observability.TransferMetrics{
		Outcome:  res.Status.String(),
		Bytes:    res.BytesWritten,
		Duration: time.Since(start),
	})

	return res, err
}

func (e *Executor) fetch(ctx context.Context, target *url.URL, localPath string) (*Result, error) {
	state := &transferState{url: target.String(), path: localPath}
	res := &Result{URL: state.url, Path: localPath}

	// Existence check
	info, err := os.Stat(localPath)
	switch {
	case err == nil:
		if info.IsDir() {
			return res, ioError(state.url, localPath, errors.New("destination is a directory"))
		}
		if e.config.Force {
			log.Debug().
				Str("path", localPath).
				Msg("File exists, overwriting due to --force")
		} else if e.config.Resume {
			state.offset = info.Size()
			log.Debug().
				Str("path", localPath).
				Int64("offset", state.offset).
				Msg("Resuming download")
		} else {
			log.Debug().
				Str("path", localPath).
				Msg("Skipping existing file")
			res.Status = StatusSkipped
			res.SkipReason = SkipAlreadyExists
			return res, nil
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return res, ioError(state.url, localPath, err)
	}

	// Request construction
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, state.url, nil)
	if err != nil {
		return res, ParseError(state.url, err)
	}
	if state.offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", state.offset))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return res, networkError(state.url, err)
	}
	defer resp.Body.Close()

	// Response classification
	res.StatusCode = resp.StatusCode
	res.FinalURL = state.url
	if resp.Request != nil && resp.Request.URL != nil {
		res.FinalURL = resp.Request.URL.String()
	}
	if res.FinalURL != state.url {
		log.Debug().
			Str("url", state.url).
			Str("final_url", res.FinalURL).
			Bool("significant", util.IsSignificantRedirect(state.url, res.FinalURL)).
			Msg("Request was redirected")
	}

	partial := resp.StatusCode == http.StatusPartialContent
	if !partial && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		return res, serverError(state.url, resp.StatusCode)
	}

	if state.offset > 0 && !partial {
		log.Debug().
			Str("url", state.url).
			Int("status", resp.StatusCode).
			Msg("Server does not support resume, downloading from the beginning")
		state.offset = 0
	}

	// Size accounting
	length := resp.ContentLength
	if length < 0 {
		length = 0
	}
	state.total = length
	if partial {
		state.total = state.offset + length
	}
	res.ContentType = resp.Header.Get("Content-Type")
	state.html = IsHTML(res.ContentType)
	res.IsHTML = state.html
	res.ResumedFrom = state.offset
	res.TotalSize = state.total

	// Sink preparation
	sink, err := openSink(localPath, state.offset)
	if err != nil {
		return res, ioError(state.url, localPath, err)
	}

	e.observer.Observe(ProgressEvent{
		Kind:     EventStart,
		Resource: localPath,
		Total:    state.total,
		Offset:   state.offset,
	})

	var content *bytes.Buffer
	if state.html && e.config.Recursive {
		content = &bytes.Buffer{}
	}

	copyErr := e.stream(resp.Body, sink, state, content)
	res.BytesWritten = state.received

	closeErr := sink.Close()
	if copyErr == nil && closeErr != nil {
		copyErr = ioError(state.url, localPath, closeErr)
	}

	e.observer.Observe(ProgressEvent{
		Kind:     EventDone,
		Resource: localPath,
		Total:    state.total,
		Failed:   copyErr != nil,
	})

	if copyErr != nil {
		return res, copyErr
	}

	if content != nil {
		res.Content = content.Bytes()
	}
	res.Status = StatusCompleted

	log.Debug().
		Str("url", state.url).
		Str("path", localPath).
		Int64("bytes", state.received).
		Int64("resumed_from", state.offset).
		Msg("Download complete")

	return res, nil
}

// stream copies body into sink chunk by chunk, emitting a progress event per
// chunk. The buffered writer is flushed on every exit path so bytes already
// received survive a failure.
func (e *Executor) stream(body io.Reader, sink *fileSink, state *transferState, content *bytes.Buffer) error {
	buf := make([]byte, copyBufferSize)

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := sink.Write(buf[:n]); err != nil {
				return ioError(state.url, state.path, err)
			}
			state.received += int64(n)

			if content != nil {
				content.Write(buf[:n])
			}

			e.observer.Observe(ProgressEvent{
				Kind:     EventProgress,
				Resource: state.path,
				Delta:    int64(n),
				Total:    state.total,
			})
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return networkError(state.url, readErr)
		}
	}
}

// fileSink is a buffered destination file
type fileSink struct {
	file *os.File
	*bufio.Writer
}

// Close flushes buffered bytes and closes the file.
func (s *fileSink) Close() error {
	flushErr := s.Flush()
	closeErr := s.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// openSink opens localPath for append when offset > 0, otherwise creates or
// truncates it (creating parent directories as needed).
func openSink(localPath string, offset int64) (*fileSink, error) {
	var (
		f   *os.File
		err error
	)
	if offset > 0 {
		f, err = os.OpenFile(localPath, os.O_WRONLY|os.O_APPEND, 0o644)
	} else {
		if err = os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
			return nil, err
		}
		f, err = os.Create(localPath)
	}
	if err != nil {
		return nil, err
	}
	return &fileSink{file: f, Writer: bufio.NewWriterSize(f, copyBufferSize)}, nil
}

// IsHTML reports whether a Content-Type header value denotes an HTML document.
func IsHTML(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "text/html")
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
