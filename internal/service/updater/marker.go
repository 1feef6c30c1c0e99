package updater

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/distroget/internal/logger"
)

const (
	// MarkerFilename marks that an update run is in progress to avoid parallel runs
	// against the same configuration.
	MarkerFilename = "distroget-run.marker"

	// markerLifetime is the age after which a marker is ignored even if its
	// process is still alive. It exceeds the default drain timeout.
	markerLifetime = 12 * time.Hour

	markerPermissions = 0o600
)

// ErrAlreadyRunning is returned when another run holds the marker.
var ErrAlreadyRunning = errors.New("another update run is in progress")

// runMarker is the lock file of a run.
type runMarker struct {
	path string
}

// acquireMarker creates the marker in dir, removing a stale one first.
func acquireMarker(ctx context.Context, dir string) (*runMarker, error) {
	path := filepath.Join(dir, MarkerFilename)

	if IsRunInProgress(ctx, path) {
		return nil, ErrAlreadyRunning
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, markerPermissions)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, ErrAlreadyRunning
		}

		return nil, fmt.Errorf("create run marker: %w", err)
	}

	_, err = file.WriteString(strconv.Itoa(os.Getpid()))
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(path)

		return nil, fmt.Errorf("write run marker: %w", err)
	}

	return &runMarker{path: path}, nil
}

// release removes the marker.
func (m *runMarker) release(ctx context.Context) {
	if m == nil {
		return
	}

	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WarnKV(ctx, "Unable to remove run marker", "path", m.path, "error", err)
	}
}

// IsRunInProgress checks the marker at path and removes it when it looks stale:
// its process is gone or it is older than the marker lifetime.
func IsRunInProgress(ctx context.Context, path string) bool {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false
	}

	if err != nil {
		logger.Infof(ctx, "Unable to read run marker: %v", err)

		return false
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		logger.Infof(ctx, "Unable to read run marker: %v", err)

		return false
	}

	pid, _ := strconv.Atoi(strings.TrimSpace(string(contents)))

	if processAlive(pid) && time.Since(info.ModTime()) <= markerLifetime {
		return true
	}

	logger.InfoKV(ctx, "The run marker is stale, removing it", "pid", pid, "modified", info.ModTime())

	if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return true
	}

	return false
}

// processAlive reports whether a process with pid exists.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	process, err := ps.FindProcess(pid)

	return err == nil && process != nil
}
