package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/distroget/internal/service/updater"
)

var (
	// enable forces the run even if auto-update is disabled in configuration.
	enable bool
	// downloadDir overrides the configured download directory.
	downloadDir string

	// updateCmd performs a single update run.
	updateCmd = &cobra.Command{
		Use:   "update",
		Short: "Check every configured distribution once and download new releases.",
		Long: `Performs one update run: checks the configured distributions for new versions,
downloads the artifacts of each new release, records the new versions and hands
configured files to the deployment target.

The run is skipped unless auto_update.enabled is set or --enable is given.
Only one run may use a configuration file at a time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &updater.Options{
				ConfigPath:  configPath,
				Enabled:     enable,
				DownloadDir: downloadDir,
			}

			result, err := updater.Run(ctx, options)
			if errors.Is(err, updater.ErrAutoUpdateDisabled) {
				return nil
			}

			if err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), updater.Describe(result))

			return nil
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	updateCmd.Flags().BoolVarP(&enable, "enable", "e", false, "run even if auto-update is disabled in configuration")
	updateCmd.Flags().StringVarP(&downloadDir, "download-dir", "d", "", "override the download directory")

	rootCmd.AddCommand(updateCmd)
}
