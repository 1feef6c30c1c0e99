package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oshokin/distroget/internal/version"
)

// Fetcher streams the body of a URL into w.
// onStart is called once with the expected size (-1 when unknown) before any byte is written.
type Fetcher interface {
	Fetch(ctx context.Context, url string, w io.Writer, onStart func(total int64)) error
}

// Uploader hands a completed file to a remote target.
// It is satisfied by deployment targets.
type Uploader interface {
	Upload(ctx context.Context, path, hint string) (bool, string)
}

const (
	// defaultHeaderTimeout bounds the wait for response headers.
	defaultHeaderTimeout = 30 * time.Second
	// defaultIdleTimeout bounds the gap between two reads of the body.
	defaultIdleTimeout = 60 * time.Second
)

// ErrIdleTimeout is the cause of a transfer aborted because the body stalled.
var ErrIdleTimeout = errors.New("no data received within the idle timeout")

// HTTPFetcher fetches over HTTP(S).
type HTTPFetcher struct {
	client      *http.Client
	idleTimeout time.Duration
}

// FetcherOption configures an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithIdleTimeout aborts a transfer when no body bytes arrive for d.
// Non-positive values keep the default.
func WithIdleTimeout(d time.Duration) FetcherOption {
	return func(f *HTTPFetcher) {
		if d > 0 {
			f.idleTimeout = d
		}
	}
}

// NewHTTPFetcher returns a fetcher using client, or a client with sane
// transport timeouts when client is nil. The overall request is not time
// limited because release images are large; a stalled body is cut off by
// the idle timeout instead.
func NewHTTPFetcher(client *http.Client, opts ...FetcherOption) *HTTPFetcher {
	if client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert // Standard library type.
		transport.ResponseHeaderTimeout = defaultHeaderTimeout

		client = &http.Client{Transport: transport}
	}

	f := &HTTPFetcher{
		client:      client,
		idleTimeout: defaultIdleTimeout,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fetch implements Fetcher. Errors coming from w are permanent; errors
// reading the body are transient; status errors are classified by code.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string, w io.Writer, onStart func(total int64)) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Permanent(fmt.Errorf("build request: %w", err))
	}

	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &StatusError{Code: resp.StatusCode, URL: url}
	}

	if onStart != nil {
		onStart(resp.ContentLength)
	}

	guard := &writeGuard{w: w}
	body := newIdleReader(resp.Body, f.idleTimeout, cancel)

	defer body.stop()

	n, err := io.Copy(guard, body)
	if err != nil {
		if guard.err != nil {
			return Permanent(fmt.Errorf("write %s: %w", url, guard.err))
		}

		if cause := context.Cause(ctx); errors.Is(cause, ErrIdleTimeout) {
			return Transient(fmt.Errorf("read %s after %d bytes: %w", url, n, cause))
		}

		return Transient(fmt.Errorf("read %s: %w", url, err))
	}

	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return Transient(fmt.Errorf("read %s: got %d of %d bytes: %w", url, n, resp.ContentLength, io.ErrUnexpectedEOF))
	}

	return nil
}

// idleReader cancels the request when no bytes were read for timeout.
type idleReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
}

func newIdleReader(r io.Reader, timeout time.Duration, cancel context.CancelCauseFunc) *idleReader {
	return &idleReader{
		r:       r,
		timeout: timeout,
		timer: time.AfterFunc(timeout, func() {
			cancel(ErrIdleTimeout)
		}),
	}
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.timer.Reset(r.timeout)
	}

	return n, err
}

func (r *idleReader) stop() {
	r.timer.Stop()
}

// writeGuard remembers the first write error so that io.Copy failures can be
// attributed to the reader or the writer.
type writeGuard struct {
	w   io.Writer
	err error
}

func (g *writeGuard) Write(p []byte) (int, error) {
	n, err := g.w.Write(p)
	if err != nil && g.err == nil {
		g.err = err
	}

	return n, err
}

// progressWriter forwards writes to a file and reports the running total.
type progressWriter struct {
	w          io.Writer
	downloaded int64
	report     func(downloaded int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	if n > 0 {
		p.downloaded += int64(n)
		if p.report != nil {
			p.report(p.downloaded)
		}
	}

	return n, err
}
