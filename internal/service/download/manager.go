package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/distroget/internal/logger"
	"github.com/oshokin/distroget/internal/metrics"
)

const (
	// partSuffix marks files still being written.
	partSuffix = ".part"
	// dirPermissions is used for destination directories.
	dirPermissions = 0o750
	// filePermissions is used for downloaded files.
	filePermissions = 0o640
)

// Manager is a bounded pool of download workers fed by a FIFO queue.
//
// All mutable state lives behind mu. Workers block on cond while the queue is
// empty, so dequeuing and marking a task active happen atomically.
type Manager struct {
	// ctx carries the logger and is detached from the caller's cancellation:
	// a transfer in progress is never aborted.
	ctx context.Context

	targetDir    string
	workers      int
	maxRetries   int
	backoff      time.Duration
	fetcher      Fetcher
	uploader     Uploader
	skipExisting bool

	mu   sync.Mutex
	cond *sync.Cond

	pending []*Task
	// tracked holds URLs that are queued, in flight or waiting for a retry.
	tracked         map[string]struct{}
	active          map[string]Progress
	completedURLs   map[string]struct{}
	failedURLs      map[string]struct{}
	retryCounts     map[string]int
	completed       int
	failed          int
	downloadedFiles []string

	started  bool
	stopping bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a manager writing under targetDir. The directory is created if needed.
// Workers are not running until Start is called.
func New(ctx context.Context, targetDir string, opts ...Option) (*Manager, error) {
	if strings.TrimSpace(targetDir) == "" {
		return nil, fmt.Errorf("%w: target directory is empty", ErrInvalidDestination)
	}

	absDir, err := filepath.Abs(targetDir)
	if err != nil {
		return nil, fmt.Errorf("resolve target directory: %w", err)
	}

	if err = os.MkdirAll(absDir, dirPermissions); err != nil {
		return nil, fmt.Errorf("create target directory: %w", err)
	}

	m := &Manager{
		ctx:             logger.WithName(context.WithoutCancel(ctx), "download"),
		targetDir:       absDir,
		workers:         DefaultWorkers,
		maxRetries:      DefaultMaxRetries,
		backoff:         DefaultRetryBackoff,
		skipExisting:    true,
		tracked:         make(map[string]struct{}),
		active:          make(map[string]Progress),
		completedURLs:   make(map[string]struct{}),
		failedURLs:      make(map[string]struct{}),
		retryCounts:     make(map[string]int),
		downloadedFiles: []string{},
		stopCh:          make(chan struct{}),
	}

	m.cond = sync.NewCond(&m.mu)

	for _, opt := range opts {
		opt(m)
	}

	if m.fetcher == nil {
		m.fetcher = NewHTTPFetcher(nil)
	}

	return m, nil
}

// TargetDir returns the absolute directory downloads are written under.
func (m *Manager) TargetDir() string {
	return m.targetDir
}

// IsRemote reports whether completed files are handed to a remote target.
func (m *Manager) IsRemote() bool {
	return m.uploader != nil
}

// Enqueue schedules url to be written at destination.
// It is a no-op when the URL is already queued, in flight, completed or failed.
func (m *Manager) Enqueue(url, destination string) error {
	return m.EnqueueFor("", url, destination)
}

// EnqueueFor is Enqueue with the distribution the task belongs to.
// A relative destination is resolved against the target directory.
func (m *Manager) EnqueueFor(distribution, url, destination string) error {
	if strings.TrimSpace(url) == "" {
		return ErrEmptyURL
	}

	dest, err := m.resolve(destination)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopping {
		return ErrShuttingDown
	}

	if m.knownLocked(url) {
		logger.DebugKV(m.ctx, "Skipping duplicate URL", "url", url)

		return nil
	}

	m.tracked[url] = struct{}{}
	m.pending = append(m.pending, &Task{
		ID:           uuid.NewString(),
		URL:          url,
		Destination:  dest,
		Distribution: distribution,
		Attempt:      1,
	})

	m.cond.Signal()

	return nil
}

// Start launches the workers. Calling it again, or after Stop, does nothing.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started || m.stopping {
		return
	}

	m.started = true

	logger.InfoKV(m.ctx, "Starting download workers",
		"workers", m.workers,
		"max_retries", m.maxRetries,
		"target_dir", m.targetDir,
		"remote", m.IsRemote())

	m.wg.Add(m.workers)

	for i := range m.workers {
		go m.worker(i + 1)
	}
}

// Status returns a deep copy of the current state. It never blocks on I/O.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := EmptyStatus(m.IsRemote())
	status.Completed = m.completed
	status.Failed = m.failed
	status.Queued = len(m.pending)
	status.DownloadedFiles = append(status.DownloadedFiles, m.downloadedFiles...)

	for id, p := range m.active {
		status.Active[id] = p
	}

	for url := range m.completedURLs {
		status.CompletedURLs[url] = struct{}{}
	}

	for url, n := range m.retryCounts {
		status.RetryCounts[url] = n
	}

	return status
}

// Wait polls Status every interval until the queue is drained or ctx is done.
func (m *Manager) Wait(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if m.Status().Drained() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop asks workers to exit once their current transfer is done and waits at
// most timeout for them. Transfers in progress are not interrupted; when they
// outlive timeout ErrStopTimeout is returned and the workers exit on their own
// later. Stop is safe to call more than once.
func (m *Manager) Stop(timeout time.Duration) error {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopping = true
		m.cond.Broadcast()
		m.mu.Unlock()

		close(m.stopCh)
	})

	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}

	done := make(chan struct{})

	go func() {
		m.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		logger.WarnKV(m.ctx, "Download workers did not stop in time", "timeout", timeout)

		return ErrStopTimeout
	}
}

// resolve turns destination into an absolute path inside the target directory.
func (m *Manager) resolve(destination string) (string, error) {
	if strings.TrimSpace(destination) == "" {
		return "", ErrInvalidDestination
	}

	dest := destination
	if !filepath.IsAbs(dest) {
		dest = filepath.Join(m.targetDir, dest)
	}

	dest = filepath.Clean(dest)

	rel, err := filepath.Rel(m.targetDir, dest)
	if err != nil ||
		rel == "." ||
		rel == ".." ||
		strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidDestination, destination)
	}

	return dest, nil
}

func (m *Manager) knownLocked(url string) bool {
	if _, ok := m.tracked[url]; ok {
		return true
	}

	if _, ok := m.completedURLs[url]; ok {
		return true
	}

	_, ok := m.failedURLs[url]

	return ok
}

func (m *Manager) worker(id int) {
	defer m.wg.Done()

	ctx := logger.WithKV(m.ctx, "worker", id)

	for {
		task, ok := m.next()
		if !ok {
			logger.Debug(ctx, "Worker exiting")

			return
		}

		m.process(ctx, task)
	}
}

// next blocks until a task is available or the manager is stopping.
// The dequeued task is visible in Active before the lock is released.
func (m *Manager) next() (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.pending) == 0 && !m.stopping {
		m.cond.Wait()
	}

	if m.stopping {
		return nil, false
	}

	task := m.pending[0]
	m.pending[0] = nil
	m.pending = m.pending[1:]

	m.active[task.ID] = Progress{
		URL:          task.URL,
		Filename:     filepath.Base(task.Destination),
		Distribution: task.Distribution,
		Total:        -1,
		Attempt:      task.Attempt,
		StartedAt:    time.Now(),
	}

	return task, true
}

func (m *Manager) process(ctx context.Context, task *Task) {
	ctx = logger.WithFields(ctx, "url", task.URL, "attempt", task.Attempt)

	started := time.Now()

	entry, skipped, err := m.transfer(ctx, task)
	if err == nil {
		m.mu.Lock()
		delete(m.active, task.ID)
		delete(m.tracked, task.URL)
		m.completedURLs[task.URL] = struct{}{}
		m.completed++
		m.downloadedFiles = append(m.downloadedFiles, entry)
		m.mu.Unlock()

		if skipped {
			metrics.DownloadsSkipped.Inc()
			logger.InfoKV(ctx, "File already present, skipping download", "path", entry)
		} else {
			metrics.DownloadDuration.Observe(time.Since(started).Seconds())
			logger.InfoKV(ctx, "Download completed", "file", entry, "elapsed", time.Since(started))
		}

		metrics.DownloadsCompleted.Inc()

		return
	}

	m.mu.Lock()

	if !IsRetryable(err) || m.retryCounts[task.URL] >= m.maxRetries {
		m.failLocked(task)
		m.mu.Unlock()

		metrics.DownloadsFailed.Inc()
		logger.ErrorKV(ctx, "Download failed", "error", err, "retryable", IsRetryable(err))

		return
	}

	m.retryCounts[task.URL]++
	retry := m.retryCounts[task.URL]

	progress := m.active[task.ID]
	progress.Waiting = true
	m.active[task.ID] = progress

	m.mu.Unlock()

	delay := m.retryDelay(retry)

	metrics.DownloadRetries.Inc()
	logger.WarnKV(ctx, "Download failed, retrying", "error", err, "retry", retry, "delay", delay)

	// The task stays in Active while waiting so the pool never looks drained.
	timer := time.NewTimer(delay)
	select {
	case <-timer.C:
	case <-m.stopCh:
		timer.Stop()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.active, task.ID)

	next := *task
	next.Attempt++
	m.pending = append(m.pending, &next)

	m.cond.Signal()
}

func (m *Manager) failLocked(task *Task) {
	delete(m.active, task.ID)
	delete(m.tracked, task.URL)
	m.failedURLs[task.URL] = struct{}{}
	m.failed++
}

// retryDelay is backoff * 2^(retry-1), capped.
func (m *Manager) retryDelay(retry int) time.Duration {
	delay := m.backoff

	for i := 1; i < retry; i++ {
		delay *= 2
		if delay >= maxRetryBackoff {
			return maxRetryBackoff
		}
	}

	return delay
}

// transfer fetches one task. It returns the entry for DownloadedFiles and
// whether the transfer was skipped because the file already existed.
func (m *Manager) transfer(ctx context.Context, task *Task) (string, bool, error) {
	metrics.DownloadAttempts.Inc()

	if m.skipExisting && !m.IsRemote() {
		if info, err := os.Stat(task.Destination); err == nil && info.Mode().IsRegular() {
			return task.Destination, true, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(task.Destination), dirPermissions); err != nil {
		return "", false, Permanent(fmt.Errorf("create destination directory: %w", err))
	}

	part := task.Destination + partSuffix

	file, err := os.OpenFile(part, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePermissions)
	if err != nil {
		return "", false, Permanent(fmt.Errorf("create %s: %w", part, err))
	}

	writer := &progressWriter{
		w: file,
		report: func(downloaded int64) {
			m.updateProgress(task.ID, func(p *Progress) {
				p.Downloaded = downloaded
			})
		},
	}

	logger.DebugKV(ctx, "Starting transfer", "destination", task.Destination)

	err = m.fetcher.Fetch(ctx, task.URL, writer, func(total int64) {
		m.updateProgress(task.ID, func(p *Progress) {
			p.Total = total
		})
	})

	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = Permanent(fmt.Errorf("close %s: %w", part, closeErr))
	}

	metrics.DownloadBytes.Add(float64(writer.downloaded))

	if err != nil {
		_ = os.Remove(part)

		return "", false, err
	}

	if err = os.Rename(part, task.Destination); err != nil {
		_ = os.Remove(part)

		return "", false, Permanent(fmt.Errorf("finalize %s: %w", task.Destination, err))
	}

	if !m.IsRemote() {
		return task.Destination, false, nil
	}

	ok, message := m.uploader.Upload(ctx, task.Destination, task.Distribution)

	if rmErr := os.Remove(task.Destination); rmErr != nil {
		logger.WarnKV(ctx, "Failed to remove staged file", "path", task.Destination, "error", rmErr)
	}

	if !ok {
		return "", false, Permanent(fmt.Errorf("upload %s: %s", filepath.Base(task.Destination), message))
	}

	return message, false, nil
}

func (m *Manager) updateProgress(id string, update func(p *Progress)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.active[id]
	if !ok {
		return
	}

	update(&p)
	m.active[id] = p
}
