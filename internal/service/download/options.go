package download

import "time"

const (
	// DefaultWorkers is the number of workers when none is configured.
	DefaultWorkers = 3
	// DefaultMaxRetries is the per-URL retry budget when none is configured.
	DefaultMaxRetries = 3
	// DefaultRetryBackoff is the delay before the first retry.
	DefaultRetryBackoff = time.Second
	// DefaultStopTimeout bounds Stop when no timeout is given.
	DefaultStopTimeout = 5 * time.Second
	// maxRetryBackoff caps the exponential backoff.
	maxRetryBackoff = 5 * time.Minute
)

// Option configures a Manager.
type Option func(*Manager)

// WithWorkers sets the number of concurrent transfers. Non-positive values keep the default.
func WithWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithMaxRetries sets the per-URL retry budget. Negative values keep the default.
func WithMaxRetries(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.maxRetries = n
		}
	}
}

// WithRetryBackoff sets the delay before the first retry; it doubles on every further retry.
func WithRetryBackoff(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.backoff = d
		}
	}
}

// WithFetcher replaces the HTTP transport.
func WithFetcher(f Fetcher) Option {
	return func(m *Manager) {
		if f != nil {
			m.fetcher = f
		}
	}
}

// WithRemote makes the manager hand every completed file to u and remove the
// local copy afterwards. The target directory becomes a staging area.
func WithRemote(u Uploader) Option {
	return func(m *Manager) {
		m.uploader = u
	}
}

// WithSkipExisting controls whether files already present locally are
// counted as completed without a transfer. Enabled by default.
func WithSkipExisting(skip bool) Option {
	return func(m *Manager) {
		m.skipExisting = skip
	}
}
