package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/distroget/internal/service/watcher"
)

var (
	// watchOptions collects the flags of the watch command.
	watchOptions watcher.Options

	// watchCmd runs the daemon.
	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Run update checks periodically and serve their status.",
		Long: `Runs the updater every watch.interval and serves the gRPC status service
and the HTTP endpoints (/healthz, /status, /report, /metrics, POST /run)
until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := watchOptions
			options.ConfigPath = configPath

			return watcher.Run(ctx, &options)
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := watchCmd.Flags()
	flags.BoolVarP(&watchOptions.Enabled, "enable", "e", false, "run even if auto-update is disabled in configuration")
	flags.StringVar(&watchOptions.GRPCAddress, "grpc-address", "", "override the status service listen address")
	flags.StringVar(&watchOptions.HTTPAddress, "http-address", "", "override the HTTP listen address")
	flags.DurationVarP(&watchOptions.Interval, "interval", "i", 0, "override the period between runs")
	flags.BoolVar(&watchOptions.RunOnStart, "run-on-start", true, "perform a run as soon as the daemon starts")

	rootCmd.AddCommand(watchCmd)
}
