package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the persisted distroget document.
type Config struct {
	// DownloadDir is where downloaded artifacts are stored.
	DownloadDir string `yaml:"download_dir" validate:"required"`
	// LogLevel is the minimum level for log output (debug, info, warn, error).
	LogLevel string `yaml:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	// ReportFile is where the last run report is persisted as JSON.
	ReportFile string `yaml:"report_file,omitempty"`
	// AutoUpdate selects which distributions are checked.
	AutoUpdate AutoUpdate `yaml:"auto_update"`
	// LastVersions maps a distribution key to the last version fully downloaded.
	LastVersions map[string]string `yaml:"last_versions,omitempty"`
	// AutoDeployItems lists files handed to the deployment target after a run.
	AutoDeployItems []DeployItem `yaml:"auto_deploy_items,omitempty" validate:"dive"`
	// Downloads tunes the download worker pool.
	Downloads Downloads `yaml:"downloads"`
	// Deploy selects the deployment target.
	Deploy Deploy `yaml:"deploy"`
	// SourceURLs overrides the listing base URL per distribution key (mirrors).
	SourceURLs map[string]string `yaml:"source_urls,omitempty" validate:"dive,http_url"`
	// Watch configures the long-running daemon.
	Watch Watch `yaml:"watch"`
}

// AutoUpdate holds the distribution selection.
type AutoUpdate struct {
	// Enabled allows unattended runs.
	Enabled bool `yaml:"enabled"`
	// Distributions are the registry keys to check, in order.
	Distributions []string `yaml:"distributions" validate:"dive,required"`
}

// DeployItem identifies a file to hand to the deployment target.
type DeployItem struct {
	// Path is the catalogue path of the item, e.g. "Ubuntu/24.04".
	Path string `yaml:"path" validate:"required"`
	// Filename is the artifact file name to look for among the run's downloads.
	Filename string `yaml:"filename" validate:"required"`
}

// Downloads tunes the worker pool and the orchestration loop.
type Downloads struct {
	// Workers is the number of concurrent transfers.
	Workers int `yaml:"workers,omitempty" validate:"gte=0,lte=64"`
	// MaxRetries bounds retries of transient failures per URL.
	MaxRetries int `yaml:"max_retries,omitempty" validate:"gte=0"`
	// RetryBackoff is the base delay before the first retry; it doubles per retry.
	RetryBackoff time.Duration `yaml:"retry_backoff,omitempty"`
	// MaxLinksPerDistribution caps how many links of a release are fetched.
	MaxLinksPerDistribution int `yaml:"max_links_per_distribution,omitempty" validate:"gte=0"`
	// LinkLimits overrides MaxLinksPerDistribution per distribution key.
	LinkLimits map[string]int `yaml:"link_limits,omitempty" validate:"dive,gt=0"`
	// PollInterval is how often the orchestrator checks for drain.
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
	// DrainTimeout bounds how long a run waits for its downloads.
	DrainTimeout time.Duration `yaml:"drain_timeout,omitempty"`
	// StopTimeout bounds how long the pool waits for workers on stop.
	StopTimeout time.Duration `yaml:"stop_timeout,omitempty"`
}

// Deploy selects where completed files are handed off.
type Deploy struct {
	// Type is "none" or "local".
	Type string `yaml:"type,omitempty" validate:"omitempty,oneof=none local"`
	// StorageDir is the storage root for the local target.
	StorageDir string `yaml:"storage_dir,omitempty" validate:"required_if=Type local"`
}

// Watch configures the daemon mode.
type Watch struct {
	// Interval between two runs.
	Interval time.Duration `yaml:"interval,omitempty"`
	// GRPCAddress is the listen address of the status service.
	GRPCAddress string `yaml:"grpc_address,omitempty" validate:"omitempty,hostname_port"`
	// HTTPAddress is the listen address of the HTTP endpoints.
	HTTPAddress string `yaml:"http_address,omitempty" validate:"omitempty,hostname_port"`
}

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "distroget.yaml"

	// DefaultReportFilename is the default filename for the last run report.
	DefaultReportFilename = "distroget-report.json"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	// DefaultWorkers is the default number of concurrent transfers.
	DefaultWorkers = 3

	// DefaultMaxRetries is the default retry budget per URL.
	DefaultMaxRetries = 3

	// DefaultRetryBackoff is the default base delay between retries.
	DefaultRetryBackoff = time.Second

	// DefaultMaxLinks is the default cap of links fetched per distribution.
	DefaultMaxLinks = 2

	// DefaultPollInterval is the default drain polling interval.
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultDrainTimeout is the default bound on a run's download phase.
	DefaultDrainTimeout = 6 * time.Hour

	// DefaultStopTimeout is the default bound on worker shutdown.
	DefaultStopTimeout = 5 * time.Second

	// DefaultWatchInterval is the default period of the daemon.
	DefaultWatchInterval = 24 * time.Hour

	// DefaultGRPCAddress is the default listen address of the status service.
	DefaultGRPCAddress = "127.0.0.1:50061"

	// DefaultHTTPAddress is the default listen address of the HTTP endpoints.
	DefaultHTTPAddress = "127.0.0.1:8061"

	// DeployNone disables deployment.
	DeployNone = "none"

	// DeployLocal installs files into a local storage directory.
	DeployLocal = "local"
)

// errConfigIsNotSet is returned when a nil configuration is provided.
var errConfigIsNotSet = errors.New("configuration is not set")

//nolint:gochecknoglobals // The validator caches struct metadata and is safe for concurrent use.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads configuration from the provided path and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err = yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err = Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes cfg to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err = os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create settings directory: %w", err)
		}
	}

	// Write to a sibling file first so a crash never leaves half a document behind.
	tmp := filepath.Clean(path) + ".tmp"
	if err = os.WriteFile(tmp, data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	if err = os.Rename(tmp, filepath.Clean(path)); err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("replace settings: %w", err)
	}

	return nil
}

// Validate checks cfg and fills defaults for omitted tuning values.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	normalize(cfg)

	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	return nil
}

// normalize trims keys, drops repeated distributions keeping the first
// occurrence and applies defaults.
func normalize(cfg *Config) {
	cfg.DownloadDir = strings.TrimSpace(cfg.DownloadDir)

	var (
		distributions = make([]string, 0, len(cfg.AutoUpdate.Distributions))
		seen          = make(map[string]struct{}, len(cfg.AutoUpdate.Distributions))
	)

	for _, d := range cfg.AutoUpdate.Distributions {
		key := NormalizeKey(d)
		if _, ok := seen[key]; ok {
			continue
		}

		seen[key] = struct{}{}
		distributions = append(distributions, key)
	}

	cfg.AutoUpdate.Distributions = distributions

	d := &cfg.Downloads
	if d.Workers <= 0 {
		d.Workers = DefaultWorkers
	}

	if d.MaxRetries <= 0 {
		d.MaxRetries = DefaultMaxRetries
	}

	if d.RetryBackoff <= 0 {
		d.RetryBackoff = DefaultRetryBackoff
	}

	if d.MaxLinksPerDistribution <= 0 {
		d.MaxLinksPerDistribution = DefaultMaxLinks
	}

	if d.PollInterval <= 0 {
		d.PollInterval = DefaultPollInterval
	}

	if d.DrainTimeout <= 0 {
		d.DrainTimeout = DefaultDrainTimeout
	}

	if d.StopTimeout <= 0 {
		d.StopTimeout = DefaultStopTimeout
	}

	if cfg.Deploy.Type == "" {
		cfg.Deploy.Type = DeployNone
	}

	if cfg.Watch.Interval <= 0 {
		cfg.Watch.Interval = DefaultWatchInterval
	}

	if cfg.Watch.GRPCAddress == "" {
		cfg.Watch.GRPCAddress = DefaultGRPCAddress
	}

	if cfg.Watch.HTTPAddress == "" {
		cfg.Watch.HTTPAddress = DefaultHTTPAddress
	}

	if cfg.ReportFile == "" {
		cfg.ReportFile = DefaultReportFilename
	}
}

// NormalizeKey turns a distribution name into its registry key.
func NormalizeKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// LinkLimit returns the link cap for distribution.
func (d *Downloads) LinkLimit(distribution string) int {
	if limit, ok := d.LinkLimits[NormalizeKey(distribution)]; ok && limit > 0 {
		return limit
	}

	if d.MaxLinksPerDistribution > 0 {
		return d.MaxLinksPerDistribution
	}

	return DefaultMaxLinks
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}

	cloned := *c
	cloned.AutoUpdate.Distributions = slices.Clone(c.AutoUpdate.Distributions)
	cloned.LastVersions = maps.Clone(c.LastVersions)
	cloned.AutoDeployItems = slices.Clone(c.AutoDeployItems)
	cloned.Downloads.LinkLimits = maps.Clone(c.Downloads.LinkLimits)
	cloned.SourceURLs = maps.Clone(c.SourceURLs)

	return &cloned
}
