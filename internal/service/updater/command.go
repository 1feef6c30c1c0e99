package updater

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/oshokin/distroget/internal/config"
	"github.com/oshokin/distroget/internal/deploy"
	"github.com/oshokin/distroget/internal/domain/release"
	"github.com/oshokin/distroget/internal/logger"
	"github.com/oshokin/distroget/internal/repository/report"
	"github.com/oshokin/distroget/internal/service/common"
	"github.com/oshokin/distroget/internal/service/download"
	"github.com/oshokin/distroget/internal/source"
)

// ErrAutoUpdateDisabled is returned when neither the caller nor the
// configuration enables auto-update. Callers should treat it as a skip.
var ErrAutoUpdateDisabled = errors.New("auto-update is disabled")

// Options are inputs accepted by the updater entry point.
type Options struct {
	// ConfigPath is the optional path to settings YAML file.
	ConfigPath string
	// Enabled forces a run even if the configuration does not enable auto-update.
	Enabled bool
	// DownloadDir overrides the configured download directory.
	DownloadDir string
	// Monitor receives run progress; may be nil.
	Monitor *Monitor
	// Sources overrides the built-in source registry.
	Sources SourceLookup
	// Target overrides the configured deployment target.
	Target deploy.Target
	// ManagerOptions are passed to the worker pool.
	ManagerOptions []download.Option
	// Trigger is recorded in the report; defaults to common.TriggerCLI.
	Trigger string
}

// downloadDirOverride replaces the download directory of a store.
type downloadDirOverride struct {
	*config.Store

	dir string
}

// DownloadDir implements Store.
func (d *downloadDirOverride) DownloadDir() string {
	return d.dir
}

// Run executes one update run and is the public entry point for the CLI.
// The report is also saved next to the configuration.
func Run(ctx context.Context, opts *Options) (*release.Report, error) {
	ctx = logger.WithName(ctx, "updater")

	if opts == nil {
		opts = new(Options)
	}

	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = config.DefaultConfigFilename
	}

	store, err := config.OpenStore(configPath)
	if err != nil {
		return nil, err
	}

	settings := store.Config()

	if !opts.Enabled && !settings.AutoUpdate.Enabled {
		logger.Info(ctx, "Auto-update is disabled, skipping the run")

		return nil, ErrAutoUpdateDisabled
	}

	marker, err := acquireMarker(ctx, filepath.Dir(store.Path()))
	if err != nil {
		return nil, err
	}

	defer marker.release(ctx)

	var st Store = store
	if dir := strings.TrimSpace(opts.DownloadDir); dir != "" {
		st = &downloadDirOverride{Store: store, dir: dir}
	}

	sources := opts.Sources
	if sources == nil {
		sources = source.NewDefaultRegistry(nil, settings.SourceURLs)
	}

	target := opts.Target
	if target == nil {
		if target, err = deploy.NewTarget(settings.Deploy); err != nil {
			return nil, err
		}
	}

	trigger := opts.Trigger
	if trigger == "" {
		trigger = common.TriggerCLI
	}

	actor, err := common.DetectActor(trigger)
	if err != nil {
		logger.WarnKV(ctx, "Unable to detect the current user", "error", err)
	}

	orchestrator, err := NewOrchestrator(st, sources,
		WithDownloads(settings.Downloads),
		WithTarget(target),
		WithMonitor(opts.Monitor),
		WithActor(actor),
		WithManagerOptions(opts.ManagerOptions...),
	)
	if err != nil {
		return nil, err
	}

	result, err := orchestrator.Run(ctx)
	if err != nil {
		logger.ErrorKV(ctx, "Update run failed", "error", err)

		return nil, err
	}

	repo := report.NewFileRepository(ReportPath(store.Path(), settings.ReportFile))
	if err = repo.Save(ctx, result); err != nil {
		logger.WarnKV(ctx, "Unable to save the run report", "path", repo.Path(), "error", err)
	}

	return result, nil
}

// ReportPath resolves the report file against the configuration directory.
func ReportPath(configPath, reportFile string) string {
	if reportFile == "" {
		reportFile = config.DefaultReportFilename
	}

	if filepath.IsAbs(reportFile) {
		return reportFile
	}

	return filepath.Join(filepath.Dir(configPath), reportFile)
}

// Describe renders a one-line summary of a report for humans.
func Describe(r *release.Report) string {
	if r == nil {
		return "no report"
	}

	return fmt.Sprintf("status=%s updated=%d up_to_date=%d errors=%d deployments=%d",
		r.Status,
		r.Count(release.OutcomeUpdated),
		r.Count(release.OutcomeUpToDate),
		r.Count(release.OutcomeError),
		len(r.Deployments))
}
