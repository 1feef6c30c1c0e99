package integration

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/distroget/internal/config"
)

const (
	desktopISO = "ubuntu-24.04.1-desktop-amd64.iso"
	serverISO  = "ubuntu-24.04.1-live-server-amd64.iso"
)

// mirror is an httptest server imitating the Ubuntu releases tree.
type mirror struct {
	*httptest.Server

	// flaky is the number of 503 answers served before the server image succeeds.
	flaky atomic.Int32

	mu   sync.Mutex
	hits map[string]int
}

func newMirror(t *testing.T) *mirror {
	t.Helper()

	m := &mirror{hits: make(map[string]int)}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		m.hit(r.URL.Path)

		if r.URL.Path != "/" {
			http.NotFound(w, r)

			return
		}

		_, _ = w.Write([]byte(`<a href="22.04/">22.04</a> <a href="24.04/">24.04</a> <a href="24.10/">24.10</a>`))
	})
	mux.HandleFunc("/24.04/", func(w http.ResponseWriter, r *http.Request) {
		m.hit(r.URL.Path)

		switch r.URL.Path {
		case "/24.04/":
			_, _ = w.Write([]byte(`<a href="` + serverISO + `">s</a> <a href="` + desktopISO + `">d</a>`))
		case "/24.04/" + desktopISO:
			_, _ = w.Write([]byte("desktop image"))
		case "/24.04/" + serverISO:
			if m.flaky.Add(-1) >= 0 {
				w.WriteHeader(http.StatusServiceUnavailable)

				return
			}

			_, _ = w.Write([]byte("server image"))
		default:
			http.NotFound(w, r)
		}
	})

	m.Server = httptest.NewServer(mux)
	t.Cleanup(m.Close)

	return m
}

func (m *mirror) hit(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hits[path]++
}

func (m *mirror) hitsOf(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.hits[path]
}

// environment is a configuration file with its directories.
type environment struct {
	configPath  string
	downloadDir string
	storageDir  string
}

// newEnvironment writes a configuration that checks Ubuntu on m and deploys
// the desktop image into a local storage directory.
func newEnvironment(t *testing.T, m *mirror) environment {
	t.Helper()

	dir := t.TempDir()

	env := environment{
		configPath:  filepath.Join(dir, config.DefaultConfigFilename),
		downloadDir: filepath.Join(dir, "downloads"),
		storageDir:  filepath.Join(dir, "storage"),
	}

	require.NoError(t, os.MkdirAll(env.storageDir, 0o750))

	require.NoError(t, config.Save(env.configPath, &config.Config{
		DownloadDir: env.downloadDir,
		AutoUpdate: config.AutoUpdate{
			Enabled:       true,
			Distributions: []string{"ubuntu"},
		},
		AutoDeployItems: []config.DeployItem{
			{Path: "Ubuntu/24.04", Filename: desktopISO},
		},
		Downloads: config.Downloads{
			Workers:      2,
			MaxRetries:   3,
			RetryBackoff: time.Millisecond,
			PollInterval: 5 * time.Millisecond,
			DrainTimeout: 30 * time.Second,
		},
		Deploy: config.Deploy{
			Type:       config.DeployLocal,
			StorageDir: env.storageDir,
		},
		SourceURLs: map[string]string{
			"ubuntu": m.URL + "/",
		},
		Watch: config.Watch{
			Interval: time.Hour,
		},
	}))

	return env
}
