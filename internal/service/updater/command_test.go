package updater

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/distroget/internal/config"
	"github.com/oshokin/distroget/internal/domain/release"
	"github.com/oshokin/distroget/internal/repository/report"
	"github.com/oshokin/distroget/internal/service/download"
	"github.com/oshokin/distroget/internal/source"
)

func writeConfig(t *testing.T, enabled bool, distributions ...string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, config.DefaultConfigFilename)

	cfg := &config.Config{
		DownloadDir: filepath.Join(dir, "downloads"),
		AutoUpdate: config.AutoUpdate{
			Enabled:       enabled,
			Distributions: distributions,
		},
		Downloads: fastDownloads(),
	}

	require.NoError(t, config.Save(path, cfg))

	return path
}

// TestRunCommand_Disabled skips the run when auto-update is off.
func TestRunCommand_Disabled(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, false, "ubuntu")

	result, err := Run(context.Background(), &Options{ConfigPath: path})
	require.ErrorIs(t, err, ErrAutoUpdateDisabled)
	require.Nil(t, result)
}

// TestRunCommand_UpdatesAndPersists records the version and saves the report.
func TestRunCommand_UpdatesAndPersists(t *testing.T) {
	t.Parallel()

	var (
		ctx     = context.Background()
		path    = writeConfig(t, false, "ubuntu")
		monitor = NewMonitor()
		sources = registryOf(map[string]source.VersionSource{
			"ubuntu": &fakeSource{latest: "24.04.1", links: links("u", "ubuntu-24.04.1-desktop-amd64.iso")},
		})
	)

	result, err := Run(ctx, &Options{
		ConfigPath:     path,
		Enabled:        true,
		Monitor:        monitor,
		Sources:        sources,
		ManagerOptions: []download.Option{download.WithFetcher(new(fakeFetcher))},
	})
	require.NoError(t, err)
	require.Equal(t, release.RunOK, result.Status)
	require.Equal(t, release.PhaseDone, monitor.Phase())

	store, err := config.OpenStore(path)
	require.NoError(t, err)

	version, ok := store.LastVersion("ubuntu")
	require.True(t, ok)
	require.Equal(t, "24.04.1", version)

	require.FileExists(t, filepath.Join(store.DownloadDir(), "ubuntu", "ubuntu-24.04.1-desktop-amd64.iso"))
	require.NoFileExists(t, filepath.Join(filepath.Dir(path), MarkerFilename))

	saved, err := report.NewFileRepository(ReportPath(path, "")).Load(ctx)
	require.NoError(t, err)
	require.Equal(t, release.RunOK, saved.Status)
	require.Len(t, saved.Distributions, 1)
}

// TestRunCommand_DownloadDirOverride stores files in the override directory.
func TestRunCommand_DownloadDirOverride(t *testing.T) {
	t.Parallel()

	var (
		path     = writeConfig(t, true, "debian")
		override = t.TempDir()
		sources  = registryOf(map[string]source.VersionSource{
			"debian": &fakeSource{latest: "12.7.0", links: links("d", "debian-12.7.0-amd64-netinst.iso")},
		})
	)

	_, err := Run(context.Background(), &Options{
		ConfigPath:     path,
		DownloadDir:    override,
		Sources:        sources,
		ManagerOptions: []download.Option{download.WithFetcher(new(fakeFetcher))},
	})
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(override, "debian", "debian-12.7.0-amd64-netinst.iso"))
}

// TestRunCommand_NoDistributions is not an error.
func TestRunCommand_NoDistributions(t *testing.T) {
	t.Parallel()

	result, err := Run(context.Background(), &Options{ConfigPath: writeConfig(t, true)})
	require.NoError(t, err)
	require.Equal(t, release.RunNoDistros, result.Status)
}

// TestRunCommand_MissingConfig propagates the load failure.
func TestRunCommand_MissingConfig(t *testing.T) {
	t.Parallel()

	_, err := Run(context.Background(), &Options{
		ConfigPath: filepath.Join(t.TempDir(), "absent.yaml"),
		Enabled:    true,
	})
	require.Error(t, err)
}

// TestReportPath resolves relative report files next to the configuration.
func TestReportPath(t *testing.T) {
	t.Parallel()

	require.Equal(t, filepath.Join("etc", "distroget", config.DefaultReportFilename),
		ReportPath(filepath.Join("etc", "distroget", "distroget.yaml"), ""))
	require.Equal(t, "/var/lib/distroget/report.json",
		ReportPath("distroget.yaml", "/var/lib/distroget/report.json"))
}

// TestDescribe summarises a report on one line.
func TestDescribe(t *testing.T) {
	t.Parallel()

	require.Equal(t, "no report", Describe(nil))

	r := &release.Report{
		Status: release.RunPartial,
		Distributions: []release.DistributionResult{
			{Distribution: "a", Outcome: release.OutcomeError},
			{Distribution: "b", Outcome: release.OutcomeUpdated},
		},
	}

	require.Equal(t, "status=partial updated=1 up_to_date=0 errors=1 deployments=0", Describe(r))
}
