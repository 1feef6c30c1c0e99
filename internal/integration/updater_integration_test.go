package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/distroget/internal/config"
	"github.com/oshokin/distroget/internal/domain/release"
	"github.com/oshokin/distroget/internal/repository/report"
	"github.com/oshokin/distroget/internal/service/common"
	"github.com/oshokin/distroget/internal/service/updater"
)

// TestUpdater_Run_DownloadsDeploysAndRecords runs the real stack against a fake mirror twice.
func TestUpdater_Run_DownloadsDeploysAndRecords(t *testing.T) {
	t.Parallel()

	var (
		ctx    = context.Background()
		mirror = newMirror(t)
		env    = newEnvironment(t, mirror)
	)

	mirror.flaky.Store(1)

	result, err := updater.Run(ctx, &updater.Options{ConfigPath: env.configPath})
	require.NoError(t, err)
	require.Equal(t, release.RunOK, result.Status)
	require.Len(t, result.Distributions, 1)
	require.Equal(t, release.OutcomeUpdated, result.Distributions[0].Outcome)
	require.Equal(t, "24.04", result.Distributions[0].NewVersion)
	require.Equal(t, common.TriggerCLI, result.Actor.Trigger)

	// The server image needed one retry.
	contents, err := os.ReadFile(filepath.Join(env.downloadDir, "ubuntu", desktopISO))
	require.NoError(t, err)
	require.Equal(t, "desktop image", string(contents))

	contents, err = os.ReadFile(filepath.Join(env.downloadDir, "ubuntu", serverISO))
	require.NoError(t, err)
	require.Equal(t, "server image", string(contents))
	require.Equal(t, 2, mirror.hitsOf("/24.04/"+serverISO))

	require.Len(t, result.Deployments, 1)
	require.True(t, result.Deployments[0].Success, result.Deployments[0].Message)
	require.FileExists(t, filepath.Join(env.storageDir, "template", "iso", desktopISO))

	store, err := config.OpenStore(env.configPath)
	require.NoError(t, err)

	version, ok := store.LastVersion("ubuntu")
	require.True(t, ok)
	require.Equal(t, "24.04", version)

	saved, err := report.NewFileRepository(updater.ReportPath(env.configPath, "")).Load(ctx)
	require.NoError(t, err)
	require.Equal(t, release.RunOK, saved.Status)

	// The second run finds nothing new and downloads nothing.
	result, err = updater.Run(ctx, &updater.Options{ConfigPath: env.configPath})
	require.NoError(t, err)
	require.Equal(t, release.RunOK, result.Status)
	require.Equal(t, release.OutcomeUpToDate, result.Distributions[0].Outcome)
	require.Empty(t, result.Deployments)
	require.Equal(t, 1, mirror.hitsOf("/24.04/"+desktopISO))
}

// TestUpdater_Run_PermanentFailureKeepsVersion leaves the version unrecorded when an image fails.
func TestUpdater_Run_PermanentFailureKeepsVersion(t *testing.T) {
	t.Parallel()

	var (
		ctx    = context.Background()
		mirror = newMirror(t)
		env    = newEnvironment(t, mirror)
	)

	// More 503 answers than the retry budget.
	mirror.flaky.Store(10)

	result, err := updater.Run(ctx, &updater.Options{ConfigPath: env.configPath})
	require.NoError(t, err)
	require.Equal(t, release.RunPartial, result.Status)
	require.Equal(t, release.OutcomeError, result.Distributions[0].Outcome)
	require.Contains(t, result.Distributions[0].Error, "1 of 2")

	// One attempt plus three retries.
	require.Equal(t, 4, mirror.hitsOf("/24.04/"+serverISO))

	store, err := config.OpenStore(env.configPath)
	require.NoError(t, err)

	_, ok := store.LastVersion("ubuntu")
	require.False(t, ok)

	// The desktop image was still downloaded and deployed.
	require.FileExists(t, filepath.Join(env.storageDir, "template", "iso", desktopISO))
}
