package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
)

// errEmptyDistribution is returned when a version is recorded without a distribution key.
var errEmptyDistribution = errors.New("distribution key is empty")

// Store is the file-backed configuration store consumed by the update orchestrator.
// Reads are served from memory; SetLastVersion persists the whole document.
type Store struct {
	// path is the YAML file backing the store.
	path string
	// cfg is the in-memory document.
	cfg *Config
	// mu protects cfg and serialises writes to path.
	mu sync.RWMutex
}

// OpenStore loads the document at path.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	return NewStore(path, cfg), nil
}

// NewStore wraps an already loaded document. Writes go to path.
func NewStore(path string, cfg *Config) *Store {
	if cfg.LastVersions == nil {
		cfg.LastVersions = make(map[string]string)
	}

	return &Store{
		path: filepath.Clean(path),
		cfg:  cfg,
	}
}

// Path returns the file backing the store.
func (s *Store) Path() string {
	return s.path
}

// Config returns a copy of the current document.
func (s *Store) Config() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cfg.Clone()
}

// Distributions returns the configured auto-update distribution keys.
func (s *Store) Distributions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.cfg.AutoUpdate.Distributions)
}

// DownloadDir returns the configured download directory.
func (s *Store) DownloadDir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cfg.DownloadDir
}

// AutoUpdateEnabled reports whether unattended runs are allowed.
func (s *Store) AutoUpdateEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cfg.AutoUpdate.Enabled
}

// LastVersion returns the last recorded version of distribution.
func (s *Store) LastVersion(distribution string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	version, ok := s.cfg.LastVersions[NormalizeKey(distribution)]

	return version, ok
}

// SetLastVersion records version for distribution and saves the document.
// The in-memory value is rolled back when the write fails.
func (s *Store) SetLastVersion(distribution, version string) error {
	key := NormalizeKey(distribution)
	if key == "" {
		return errEmptyDistribution
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, existed := s.cfg.LastVersions[key]
	s.cfg.LastVersions[key] = version

	if err := Save(s.path, s.cfg); err != nil {
		if existed {
			s.cfg.LastVersions[key] = previous
		} else {
			delete(s.cfg.LastVersions, key)
		}

		return fmt.Errorf("record version of %s: %w", key, err)
	}

	return nil
}

// AutoDeployItems returns the configured auto-deploy items.
func (s *Store) AutoDeployItems() []DeployItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.cfg.AutoDeployItems)
}
