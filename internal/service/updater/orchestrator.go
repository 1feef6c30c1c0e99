package updater

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/oshokin/distroget/internal/config"
	"github.com/oshokin/distroget/internal/deploy"
	"github.com/oshokin/distroget/internal/domain/release"
	"github.com/oshokin/distroget/internal/logger"
	"github.com/oshokin/distroget/internal/metrics"
	"github.com/oshokin/distroget/internal/service/download"
	"github.com/oshokin/distroget/internal/source"
)

var (
	errSourcePanicked    = errors.New("version source panicked")
	errEmptyVersion      = errors.New("version source returned no version")
	errNoValidLinks      = errors.New("no valid download links")
	errDownloadsFailed   = errors.New("downloads failed")
	errDownloadsTimedOut = errors.New("downloads did not finish in time")
	errTargetUnavailable = errors.New("deployment target is unavailable")
	errStoreNotSet       = errors.New("configuration store is not set")
	errSourcesNotSet     = errors.New("source registry is not set")
	errUploadPanicked    = errors.New("deployment target panicked")
	errRecordVersion     = errors.New("record version")
)

// Store is the configuration the orchestrator reads and records versions into.
type Store interface {
	Distributions() []string
	DownloadDir() string
	LastVersion(distribution string) (string, bool)
	SetLastVersion(distribution, version string) error
	AutoDeployItems() []config.DeployItem
}

// SourceLookup resolves a distribution key to its version source.
type SourceLookup interface {
	Lookup(key string) (source.VersionSource, error)
}

// Orchestrator executes update runs. Runs must not overlap; the run marker
// enforces that across processes.
type Orchestrator struct {
	store       Store
	sources     SourceLookup
	target      deploy.Target
	monitor     *Monitor
	actor       *release.Actor
	downloads   config.Downloads
	managerOpts []download.Option
	validate    *validator.Validate
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithDownloads sets pool sizing, retry policy, link caps and timeouts.
func WithDownloads(d config.Downloads) OrchestratorOption {
	return func(o *Orchestrator) {
		o.downloads = d
	}
}

// WithTarget sets the deployment target. A nil target disables deployment.
func WithTarget(t deploy.Target) OrchestratorOption {
	return func(o *Orchestrator) {
		o.target = t
	}
}

// WithMonitor publishes run progress to m.
func WithMonitor(m *Monitor) OrchestratorOption {
	return func(o *Orchestrator) {
		if m != nil {
			o.monitor = m
		}
	}
}

// WithActor records who started the runs.
func WithActor(a *release.Actor) OrchestratorOption {
	return func(o *Orchestrator) {
		o.actor = a.Clone()
	}
}

// WithManagerOptions passes extra options to every worker pool, e.g. a custom fetcher.
func WithManagerOptions(opts ...download.Option) OrchestratorOption {
	return func(o *Orchestrator) {
		o.managerOpts = append(o.managerOpts, opts...)
	}
}

// NewOrchestrator builds an orchestrator over store and sources.
func NewOrchestrator(store Store, sources SourceLookup, opts ...OrchestratorOption) (*Orchestrator, error) {
	if store == nil {
		return nil, errStoreNotSet
	}

	if sources == nil {
		return nil, errSourcesNotSet
	}

	o := &Orchestrator{
		store:    store,
		sources:  sources,
		monitor:  NewMonitor(),
		validate: validator.New(),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o, nil
}

// Monitor returns the monitor the orchestrator reports to.
func (o *Orchestrator) Monitor() *Monitor {
	return o.monitor
}

// pendingDistribution is a distribution whose links were handed to the pool.
type pendingDistribution struct {
	index   int
	version string
	urls    []string
}

// Run performs one update run. The returned error is non-nil only when the
// configuration store fails; every other failure is recorded in the report.
//
// The run is ok when at least one distribution was updated or none failed,
// and partial otherwise. Failed uploads are reported per file and do not
// change the run status. A pool handing files to a remote target skips the
// deployment step since nothing is left in the download directory.
func (o *Orchestrator) Run(ctx context.Context) (*release.Report, error) {
	ctx = logger.WithName(ctx, "orchestrator")

	report := &release.Report{
		StartedAt: time.Now().UTC(),
		Actor:     o.actor.Clone(),
	}

	distributions := o.store.Distributions()
	if len(distributions) == 0 {
		logger.Info(ctx, "No distributions configured for auto-update")

		return o.finish(ctx, report, release.RunNoDistros), nil
	}

	o.monitor.begin()

	var (
		manager *download.Manager
		pending []pendingDistribution
		results = make([]release.DistributionResult, len(distributions))
	)

	for i, distribution := range distributions {
		dctx := logger.WithKV(ctx, "distribution", distribution)

		results[i] = release.DistributionResult{Distribution: distribution}

		latest, links, skip, err := o.check(dctx, distribution)
		if err != nil {
			o.recordError(dctx, &results[i], err)

			continue
		}

		if skip {
			results[i].Outcome = release.OutcomeUpToDate
			logger.InfoKV(dctx, "Distribution is up to date", "version", latest)

			continue
		}

		if manager == nil {
			manager, err = o.newManager(ctx)
			if err != nil {
				o.recordError(dctx, &results[i], err)

				continue
			}
		}

		urls, err := o.enqueue(dctx, manager, distribution, links)
		if err != nil {
			o.recordError(dctx, &results[i], err)

			continue
		}

		logger.InfoKV(dctx, "New version found", "version", latest, "links", len(urls))

		pending = append(pending, pendingDistribution{index: i, version: latest, urls: urls})
	}

	var status download.Status

	if manager != nil {
		o.monitor.setPhase(release.PhaseDownloading)

		drainErr := o.drain(ctx, manager)
		status = manager.Status()

		for _, p := range pending {
			result := &results[p.index]
			dctx := logger.WithKV(ctx, "distribution", result.Distribution)

			if err := downloadError(status, p.urls, drainErr); err != nil {
				o.recordError(dctx, result, err)

				continue
			}

			if err := o.store.SetLastVersion(result.Distribution, p.version); err != nil {
				o.monitor.setPhase(release.PhaseDone)

				return nil, fmt.Errorf("%w of %s: %w", errRecordVersion, result.Distribution, err)
			}

			result.Outcome = release.OutcomeUpdated
			result.NewVersion = p.version

			metrics.DistributionOutcomes.WithLabelValues(result.Distribution, string(release.OutcomeUpdated)).Inc()
			logger.InfoKV(dctx, "Distribution updated", "version", p.version)
		}
	}

	for _, result := range results {
		if result.Outcome == release.OutcomeUpToDate {
			metrics.DistributionOutcomes.WithLabelValues(result.Distribution, string(result.Outcome)).Inc()
		}
	}

	report.Distributions = results

	if !status.IsRemote {
		report.Deployments = o.deploy(ctx, status.DownloadedFiles)
	}

	return o.finish(ctx, report, runStatus(results)), nil
}

// runStatus is ok when a distribution was updated or none errored.
func runStatus(results []release.DistributionResult) release.RunStatus {
	failed := false

	for _, result := range results {
		switch result.Outcome {
		case release.OutcomeUpdated:
			return release.RunOK
		case release.OutcomeError:
			failed = true
		}
	}

	if failed {
		return release.RunPartial
	}

	return release.RunOK
}

// check resolves the source, compares versions and fetches the links of a
// new release. Panics of the source are turned into errors.
func (o *Orchestrator) check(
	ctx context.Context,
	distribution string,
) (latest string, links []source.Link, upToDate bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errSourcePanicked, r)
		}
	}()

	src, err := o.sources.Lookup(distribution)
	if err != nil {
		return "", nil, false, err
	}

	latest, err = src.LatestVersion(ctx)
	if err != nil {
		return "", nil, false, fmt.Errorf("latest version: %w", err)
	}

	latest = strings.TrimSpace(latest)
	if latest == "" {
		return "", nil, false, errEmptyVersion
	}

	if last, ok := o.store.LastVersion(distribution); ok && last == latest {
		return latest, nil, true, nil
	}

	links, err = src.DownloadLinks(ctx, latest)
	if err != nil {
		return "", nil, false, fmt.Errorf("download links of %s: %w", latest, err)
	}

	return latest, links, false, nil
}

// newManager creates and starts the worker pool of the run.
func (o *Orchestrator) newManager(ctx context.Context) (*download.Manager, error) {
	opts := []download.Option{
		download.WithWorkers(o.downloads.Workers),
		download.WithMaxRetries(o.downloads.MaxRetries),
		download.WithRetryBackoff(o.downloads.RetryBackoff),
	}

	opts = append(opts, o.managerOpts...)

	manager, err := download.New(ctx, o.store.DownloadDir(), opts...)
	if err != nil {
		return nil, fmt.Errorf("create download pool: %w", err)
	}

	manager.Start()
	o.monitor.attach(manager)

	return manager, nil
}

// enqueue validates and caps links and hands them to the pool.
// It returns the URLs that were accepted.
func (o *Orchestrator) enqueue(
	ctx context.Context,
	manager *download.Manager,
	distribution string,
	links []source.Link,
) ([]string, error) {
	limit := o.downloads.LinkLimit(distribution)

	urls := make([]string, 0, min(limit, len(links)))

	for _, link := range links {
		if len(urls) == limit {
			logger.DebugKV(ctx, "Link cap reached", "limit", limit, "available", len(links))

			break
		}

		if err := o.validate.Var(link.URL, "required,http_url"); err != nil {
			logger.WarnKV(ctx, "Dropping invalid download link", "url", link.URL, "error", err)

			continue
		}

		filename := filepath.Base(link.Filename)
		if filename == "." || filename == string(filepath.Separator) || filename == "" {
			filename = source.NewLink(link.URL).Filename
		}

		destination := filepath.Join(distribution, filename)
		if err := manager.EnqueueFor(distribution, link.URL, destination); err != nil {
			logger.WarnKV(ctx, "Unable to enqueue download", "url", link.URL, "error", err)

			continue
		}

		urls = append(urls, link.URL)
	}

	if len(urls) == 0 {
		return nil, errNoValidLinks
	}

	return urls, nil
}

// drain waits for the pool to go idle within the drain timeout, then stops it.
func (o *Orchestrator) drain(ctx context.Context, manager *download.Manager) error {
	timeout := o.downloads.DrainTimeout
	if timeout <= 0 {
		timeout = config.DefaultDrainTimeout
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := manager.Wait(waitCtx, o.downloads.PollInterval)
	if err != nil {
		logger.WarnKV(ctx, "Downloads did not drain", "error", err, "timeout", timeout)
	}

	if stopErr := manager.Stop(o.downloads.StopTimeout); stopErr != nil {
		logger.WarnKV(ctx, "Download pool did not stop cleanly", "error", stopErr)
	}

	return err
}

// downloadError explains why some of urls did not complete, or returns nil.
func downloadError(status download.Status, urls []string, drainErr error) error {
	missing := 0

	for _, url := range urls {
		if !status.HasCompleted(url) {
			missing++
		}
	}

	switch {
	case missing == 0:
		return nil
	case drainErr != nil:
		return fmt.Errorf("%w: %d of %d incomplete: %w", errDownloadsTimedOut, missing, len(urls), drainErr)
	default:
		return fmt.Errorf("%w: %d of %d", errDownloadsFailed, missing, len(urls))
	}
}

// deploy uploads the configured items that were downloaded in this run.
func (o *Orchestrator) deploy(ctx context.Context, downloadedFiles []string) []release.DeploymentResult {
	items := o.store.AutoDeployItems()
	if o.target == nil || len(items) == 0 || len(downloadedFiles) == 0 {
		return nil
	}

	byName := make(map[string]string, len(downloadedFiles))
	for _, file := range downloadedFiles {
		byName[filepath.Base(file)] = file
	}

	type match struct {
		item config.DeployItem
		path string
	}

	var matches []match

	for _, item := range items {
		if path, ok := byName[filepath.Base(item.Filename)]; ok {
			matches = append(matches, match{item: item, path: path})
		}
	}

	if len(matches) == 0 {
		return nil
	}

	ctx = logger.WithName(ctx, "deploy")
	o.monitor.setPhase(release.PhaseDeploying)

	results := make([]release.DeploymentResult, 0, len(matches))

	if !o.target.IsAvailable(ctx) {
		logger.Warn(ctx, "Deployment target is unavailable, skipping uploads")

		for _, m := range matches {
			results = append(results, release.DeploymentResult{
				File:    m.path,
				Success: false,
				Message: errTargetUnavailable.Error(),
			})

			metrics.Deployments.WithLabelValues("failure").Inc()
		}

		return results
	}

	for _, m := range matches {
		ok, message := o.upload(ctx, m.path, m.item.Path)

		results = append(results, release.DeploymentResult{
			File:    m.path,
			Success: ok,
			Message: message,
		})

		if ok {
			metrics.Deployments.WithLabelValues("success").Inc()
		} else {
			metrics.Deployments.WithLabelValues("failure").Inc()
			logger.WarnKV(ctx, "Upload failed", "file", m.path, "message", message)
		}
	}

	return results
}

// upload calls the target and turns a panic into a failed result.
func (o *Orchestrator) upload(ctx context.Context, path, hint string) (ok bool, message string) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			message = fmt.Sprintf("%v: %v", errUploadPanicked, r)
		}
	}()

	return o.target.Upload(ctx, path, hint)
}

func (o *Orchestrator) recordError(ctx context.Context, result *release.DistributionResult, err error) {
	result.Outcome = release.OutcomeError
	result.Error = err.Error()

	metrics.DistributionOutcomes.WithLabelValues(result.Distribution, string(release.OutcomeError)).Inc()
	logger.ErrorKV(ctx, "Distribution check failed", "error", err)
}

func (o *Orchestrator) finish(ctx context.Context, report *release.Report, status release.RunStatus) *release.Report {
	report.Status = status
	report.FinishedAt = time.Now().UTC()

	metrics.Runs.WithLabelValues(string(status)).Inc()
	o.monitor.finish(report)

	log := logger.InfoKV
	if report.Failed() {
		log = logger.WarnKV
	}

	log(ctx, "Update run finished",
		"status", status,
		"updated", report.Count(release.OutcomeUpdated),
		"up_to_date", report.Count(release.OutcomeUpToDate),
		"errors", report.Count(release.OutcomeError),
		"deployments", len(report.Deployments),
		"elapsed", report.FinishedAt.Sub(report.StartedAt))

	return report
}
