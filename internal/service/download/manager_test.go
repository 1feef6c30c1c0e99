package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fetchFunc adapts a function to the Fetcher interface.
type fetchFunc func(ctx context.Context, url string, w io.Writer, onStart func(int64)) error

func (f fetchFunc) Fetch(ctx context.Context, url string, w io.Writer, onStart func(int64)) error {
	return f(ctx, url, w, onStart)
}

// writeBody is a fetchFunc that succeeds with a fixed body.
func writeBody(body string) fetchFunc {
	return func(_ context.Context, _ string, w io.Writer, onStart func(int64)) error {
		onStart(int64(len(body)))
		_, err := io.WriteString(w, body)

		return err
	}
}

type uploaderFunc func(ctx context.Context, path, hint string) (bool, string)

func (f uploaderFunc) Upload(ctx context.Context, path, hint string) (bool, string) {
	return f(ctx, path, hint)
}

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()

	opts = append([]Option{WithRetryBackoff(time.Millisecond)}, opts...)

	m, err := New(context.Background(), t.TempDir(), opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = m.Stop(time.Second)
	})

	return m
}

func waitDrained(t *testing.T, m *Manager) Status {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, m.Wait(ctx, 5*time.Millisecond))

	return m.Status()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// TestStatusKeySet verifies the snapshot exposes exactly the same keys in every state.
func TestStatusKeySet(t *testing.T) {
	t.Parallel()

	expected := StatusKeys()
	sort.Strings(expected)

	m := newTestManager(t, WithFetcher(writeBody("iso")))
	require.Equal(t, expected, sortedKeys(m.Status().Fields()))
	require.False(t, m.Status().IsRemote)

	require.NoError(t, m.Enqueue("https://example.org/a.iso", "a.iso"))
	require.Equal(t, expected, sortedKeys(m.Status().Fields()))

	m.Start()

	status := waitDrained(t, m)
	require.Equal(t, expected, sortedKeys(status.Fields()))
	require.Equal(t, 1, status.Completed)

	remote := newTestManager(t, WithRemote(uploaderFunc(func(context.Context, string, string) (bool, string) {
		return true, "ok"
	})))
	require.Equal(t, expected, sortedKeys(remote.Status().Fields()))
	require.True(t, remote.Status().IsRemote)
	require.Equal(t, expected, sortedKeys(EmptyStatus(true).Fields()))
}

// TestEnqueueDeduplicates ensures the same URL is queued once and not re-run after completion.
func TestEnqueueDeduplicates(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	m := newTestManager(t, WithFetcher(fetchFunc(func(ctx context.Context, url string, w io.Writer, onStart func(int64)) error {
		calls.Add(1)

		return writeBody("data")(ctx, url, w, onStart)
	})))

	const url = "https://example.org/fedora.iso"

	require.NoError(t, m.Enqueue(url, "fedora.iso"))
	require.NoError(t, m.Enqueue(url, "fedora.iso"))
	require.Equal(t, 1, m.Status().Queued)

	m.Start()
	waitDrained(t, m)

	require.NoError(t, m.Enqueue(url, "fedora.iso"))

	status := waitDrained(t, m)
	require.Equal(t, 1, status.Completed)
	require.Equal(t, 0, status.Queued)
	require.Equal(t, int32(1), calls.Load())
}

// TestEnqueueDeduplicatesInFlight ensures a URL being transferred is not queued again.
func TestEnqueueDeduplicatesInFlight(t *testing.T) {
	t.Parallel()

	var (
		calls   atomic.Int32
		started = make(chan struct{})
		release = make(chan struct{})
	)

	m := newTestManager(t, WithWorkers(2), WithFetcher(fetchFunc(func(ctx context.Context, url string, w io.Writer, onStart func(int64)) error {
		if calls.Add(1) == 1 {
			close(started)
		}

		<-release

		return writeBody("data")(ctx, url, w, onStart)
	})))

	const url = "https://example.org/debian.iso"

	require.NoError(t, m.Enqueue(url, "debian.iso"))
	m.Start()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("transfer did not start")
	}

	require.NoError(t, m.Enqueue(url, "debian.iso"))

	status := m.Status()
	require.Equal(t, 0, status.Queued)
	require.Len(t, status.Active, 1)

	close(release)

	status = waitDrained(t, m)
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, 1, status.Completed)
	require.Len(t, status.DownloadedFiles, 1)
}

// TestEnqueueRejectsInvalidDestination checks path containment.
func TestEnqueueRejectsInvalidDestination(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)

	for _, dest := range []string{"", "../escape.iso", "/etc/passwd", "."} {
		err := m.Enqueue("https://example.org/x.iso", dest)
		require.ErrorIs(t, err, ErrInvalidDestination, dest)
	}

	require.ErrorIs(t, m.Enqueue("", "x.iso"), ErrEmptyURL)
	require.NoError(t, m.Enqueue("https://example.org/x.iso", filepath.Join(m.TargetDir(), "sub", "x.iso")))
	require.Equal(t, 1, m.Status().Queued)
}

// TestEnqueueAfterStop ensures a stopped manager refuses new work.
func TestEnqueueAfterStop(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	require.NoError(t, m.Stop(time.Second))
	require.ErrorIs(t, m.Enqueue("https://example.org/x.iso", "x.iso"), ErrShuttingDown)
}

// TestRetryThenSuccess fails twice with a transient error and then succeeds.
func TestRetryThenSuccess(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32

	m := newTestManager(t, WithFetcher(fetchFunc(func(ctx context.Context, url string, w io.Writer, onStart func(int64)) error {
		if attempts.Add(1) <= 2 {
			return Transient(errors.New("connection reset"))
		}

		return writeBody("ok")(ctx, url, w, onStart)
	})))

	const url = "https://example.org/debian.iso"

	require.NoError(t, m.EnqueueFor("debian", url, "debian.iso"))
	m.Start()

	status := waitDrained(t, m)
	require.Equal(t, 1, status.Completed)
	require.Equal(t, 0, status.Failed)
	require.Equal(t, 2, status.RetryCounts[url])
	require.True(t, status.HasCompleted(url))
	require.Equal(t, []string{filepath.Join(m.TargetDir(), "debian.iso")}, status.DownloadedFiles)
}

// TestRetriesExhausted counts a URL as failed once its retry budget is spent.
func TestRetriesExhausted(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32

	m := newTestManager(t, WithMaxRetries(3), WithFetcher(fetchFunc(func(context.Context, string, io.Writer, func(int64)) error {
		attempts.Add(1)

		return &StatusError{Code: http.StatusServiceUnavailable, URL: "u"}
	})))

	const url = "https://example.org/ubuntu.iso"

	require.NoError(t, m.Enqueue(url, "ubuntu.iso"))
	m.Start()

	status := waitDrained(t, m)
	require.Equal(t, 0, status.Completed)
	require.Equal(t, 1, status.Failed)
	require.Equal(t, 3, status.RetryCounts[url])
	require.False(t, status.HasCompleted(url))
	require.Equal(t, int32(4), attempts.Load())
	require.Empty(t, status.DownloadedFiles)

	// A failed URL is not retried by a second enqueue.
	require.NoError(t, m.Enqueue(url, "ubuntu.iso"))
	require.Equal(t, 0, m.Status().Queued)
}

// TestPermanentErrorDoesNotRetry ensures non-retryable failures consume no retries.
func TestPermanentErrorDoesNotRetry(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32

	m := newTestManager(t, WithFetcher(fetchFunc(func(context.Context, string, io.Writer, func(int64)) error {
		attempts.Add(1)

		return &StatusError{Code: http.StatusNotFound, URL: "u"}
	})))

	const url = "https://example.org/missing.iso"

	require.NoError(t, m.Enqueue(url, "missing.iso"))
	m.Start()

	status := waitDrained(t, m)
	require.Equal(t, 1, status.Failed)
	require.Zero(t, status.RetryCounts[url])
	require.Equal(t, int32(1), attempts.Load())

	_, err := os.Stat(filepath.Join(m.TargetDir(), "missing.iso"+partSuffix))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestDrainWithHTTPServer downloads five URLs with two workers from a real HTTP server.
func TestDrainWithHTTPServer(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		current int
		peak    int
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		current++
		peak = max(peak, current)
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		current--
		mu.Unlock()

		_, _ = io.WriteString(w, "payload"+r.URL.Path)
	}))
	t.Cleanup(server.Close)

	m := newTestManager(t, WithWorkers(2), WithFetcher(NewHTTPFetcher(server.Client())))

	urls := make([]string, 0, 5)
	for i := range 5 {
		url := fmt.Sprintf("%s/file-%d.iso", server.URL, i)
		urls = append(urls, url)
		require.NoError(t, m.Enqueue(url, fmt.Sprintf("release/file-%d.iso", i)))
	}

	require.Equal(t, 5, m.Status().Queued)

	m.Start()

	status := waitDrained(t, m)
	require.Equal(t, 5, status.Completed)
	require.Equal(t, 0, status.Failed)
	require.Equal(t, 0, status.Queued)
	require.Empty(t, status.Active)
	require.Len(t, status.DownloadedFiles, 5)

	mu.Lock()
	require.LessOrEqual(t, peak, 2)
	mu.Unlock()

	for i, url := range urls {
		require.True(t, status.HasCompleted(url))

		contents, err := os.ReadFile(filepath.Join(m.TargetDir(), "release", fmt.Sprintf("file-%d.iso", i)))
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("payload/file-%d.iso", i), string(contents))
	}
}

// TestHTTPFetcherClassifiesStatus checks how server answers map to retry decisions.
func TestHTTPFetcherClassifiesStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/busy":
			w.WriteHeader(http.StatusTooManyRequests)
		case "/gone":
			w.WriteHeader(http.StatusGone)
		case "/short":
			w.Header().Set("Content-Length", "100")
			_, _ = io.WriteString(w, "truncated")
		default:
			_, _ = io.WriteString(w, "ok")
		}
	}))
	t.Cleanup(server.Close)

	fetcher := NewHTTPFetcher(server.Client())
	ctx := context.Background()

	err := fetcher.Fetch(ctx, server.URL+"/busy", io.Discard, nil)
	require.True(t, IsRetryable(err))

	err = fetcher.Fetch(ctx, server.URL+"/gone", io.Discard, nil)
	require.False(t, IsRetryable(err))

	err = fetcher.Fetch(ctx, server.URL+"/short", io.Discard, nil)
	require.True(t, IsRetryable(err))

	var total int64

	err = fetcher.Fetch(ctx, server.URL+"/ok", io.Discard, func(n int64) { total = n })
	require.NoError(t, err)
	require.Equal(t, int64(2), total)

	// Write failures are permanent even though the server is healthy.
	err = fetcher.Fetch(ctx, server.URL+"/ok", failingWriter{}, nil)
	require.ErrorIs(t, err, ErrPermanent)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("no space left on device")
}

// TestHTTPFetcherIdleTimeout ensures a body that stalls after the headers is cut off as retryable.
func TestHTTPFetcherIdleTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		_, _ = io.WriteString(w, "iso")
		w.(http.Flusher).Flush()

		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	fetcher := NewHTTPFetcher(server.Client(), WithIdleTimeout(100*time.Millisecond))

	var (
		buf     strings.Builder
		started = time.Now()
	)

	err := fetcher.Fetch(context.Background(), server.URL+"/stalled.iso", &buf, nil)
	require.ErrorIs(t, err, ErrIdleTimeout)
	require.ErrorIs(t, err, ErrTransient)
	require.True(t, IsRetryable(err))
	require.Equal(t, "iso", buf.String())
	require.Less(t, time.Since(started), 5*time.Second)
}

// TestStopIsIdempotent checks repeated and early Stop calls.
func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()

	idle := newTestManager(t)
	require.NoError(t, idle.Stop(time.Second))
	require.NoError(t, idle.Stop(time.Second))

	m := newTestManager(t, WithFetcher(writeBody("x")))
	m.Start()
	m.Start()

	require.NoError(t, m.Stop(time.Second))
	require.NoError(t, m.Stop(time.Second))

	// Starting after Stop does nothing.
	m.Start()
	require.NoError(t, m.Stop(time.Second))
}

// TestStopTimeout reports a timeout without interrupting the transfer in progress.
func TestStopTimeout(t *testing.T) {
	t.Parallel()

	var (
		started = make(chan struct{})
		release = make(chan struct{})
	)

	m := newTestManager(t, WithWorkers(1), WithFetcher(fetchFunc(func(ctx context.Context, url string, w io.Writer, onStart func(int64)) error {
		close(started)
		<-release

		return writeBody("late")(ctx, url, w, onStart)
	})))

	require.NoError(t, m.Enqueue("https://example.org/slow.iso", "slow.iso"))
	m.Start()

	<-started

	require.ErrorIs(t, m.Stop(20*time.Millisecond), ErrStopTimeout)

	close(release)

	require.NoError(t, m.Stop(5*time.Second))
	require.Equal(t, 1, m.Status().Completed)
	require.Equal(t, 0, m.Status().Failed)
}

// TestStopLeavesQueuedTasks ensures workers do not dequeue after Stop.
func TestStopLeavesQueuedTasks(t *testing.T) {
	t.Parallel()

	var (
		release = make(chan struct{})
		started = make(chan struct{}, 1)
	)

	m := newTestManager(t, WithWorkers(1), WithFetcher(fetchFunc(func(ctx context.Context, url string, w io.Writer, onStart func(int64)) error {
		started <- struct{}{}
		<-release

		return writeBody("x")(ctx, url, w, onStart)
	})))

	require.NoError(t, m.Enqueue("https://example.org/1.iso", "1.iso"))
	require.NoError(t, m.Enqueue("https://example.org/2.iso", "2.iso"))
	m.Start()

	<-started

	stopped := make(chan error, 1)

	go func() {
		stopped <- m.Stop(5 * time.Second)
	}()

	// Give Stop a moment to flag the pool before the transfer finishes.
	time.Sleep(20 * time.Millisecond)
	close(release)

	require.NoError(t, <-stopped)

	status := m.Status()
	require.Equal(t, 1, status.Completed)
	require.Equal(t, 1, status.Queued)
}

// TestSkipExistingFile counts an already present file as completed without a transfer.
func TestSkipExistingFile(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, WithFetcher(fetchFunc(func(context.Context, string, io.Writer, func(int64)) error {
		return errors.New("fetcher must not be called")
	})))

	dest := filepath.Join(m.TargetDir(), "present.iso")
	require.NoError(t, os.WriteFile(dest, []byte("already here"), 0o600))

	require.NoError(t, m.Enqueue("https://example.org/present.iso", "present.iso"))
	m.Start()

	status := waitDrained(t, m)
	require.Equal(t, 1, status.Completed)
	require.Equal(t, []string{dest}, status.DownloadedFiles)
}

// TestRemoteManager hands files to an uploader and removes the staged copies.
func TestRemoteManager(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		hints []string
	)

	uploader := uploaderFunc(func(_ context.Context, path, hint string) (bool, string) {
		mu.Lock()
		hints = append(hints, hint)
		mu.Unlock()

		if filepath.Base(path) == "broken.iso" {
			return false, "storage rejected the file"
		}

		return true, "remote:" + filepath.Base(path)
	})

	m := newTestManager(t, WithWorkers(1), WithRemote(uploader), WithFetcher(writeBody("img")))
	require.True(t, m.IsRemote())

	require.NoError(t, m.EnqueueFor("fedora", "https://example.org/good.iso", "good.iso"))
	require.NoError(t, m.EnqueueFor("fedora", "https://example.org/broken.iso", "broken.iso"))
	m.Start()

	status := waitDrained(t, m)
	require.True(t, status.IsRemote)
	require.Equal(t, 1, status.Completed)
	require.Equal(t, 1, status.Failed)
	require.Equal(t, []string{"remote:good.iso"}, status.DownloadedFiles)
	require.Equal(t, []string{"fedora", "fedora"}, hints)

	entries, err := os.ReadDir(m.TargetDir())
	require.NoError(t, err)
	require.Empty(t, entries)
}

// TestStatusIsACopy ensures callers cannot mutate manager state through a snapshot.
func TestStatusIsACopy(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, WithFetcher(writeBody("x")))
	require.NoError(t, m.Enqueue("https://example.org/a.iso", "a.iso"))
	m.Start()

	status := waitDrained(t, m)
	status.DownloadedFiles[0] = "tampered"
	status.RetryCounts["x"] = 9
	delete(status.CompletedURLs, "https://example.org/a.iso")

	fresh := m.Status()
	require.NotEqual(t, "tampered", fresh.DownloadedFiles[0])
	require.NotContains(t, fresh.RetryCounts, "x")
	require.True(t, fresh.HasCompleted("https://example.org/a.iso"))
}
