package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/distroget/internal/config"
	"github.com/oshokin/distroget/internal/service/common"
	"github.com/oshokin/distroget/internal/service/updater"
)

var (
	// statusTimeout bounds every call to the daemon.
	statusTimeout time.Duration
	// showReport prints the last run report instead of the download snapshot.
	showReport bool

	// statusCmd queries a running daemon.
	statusCmd = &cobra.Command{
		Use:   "status [address]",
		Short: "Show the download status or the last report of a running daemon.",
		Long: `Connects to the gRPC status service of "distroget watch" and prints the
download snapshot of the current or last run as JSON. With --report it prints
a summary of the last finished run instead.

The address defaults to watch.grpc_address from the configuration file.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			address, err := statusAddress(args)
			if err != nil {
				return err
			}

			client, err := common.Dial(ctx, address, common.WithCallTimeout(statusTimeout))
			if err != nil {
				return err
			}

			defer func() {
				_ = client.Close()
			}()

			if showReport {
				report, err := client.GetLastReport(ctx)
				if err != nil {
					return err
				}

				_, _ = fmt.Fprintln(cmd.OutOrStdout(), updater.Describe(report))

				for _, d := range report.Distributions {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s %s%s\n", d.Distribution, d.Outcome, d.NewVersion, d.Error)
				}

				return nil
			}

			fields, err := client.GetStatus(ctx)
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")

			return encoder.Encode(fields)
		},
	}
)

// statusAddress picks the argument or the configured daemon address.
func statusAddress(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}

	settings, err := config.Load(configPath)
	if err != nil {
		return "", fmt.Errorf("load settings: %w", err)
	}

	return settings.Watch.GRPCAddress, nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	statusCmd.Flags().DurationVarP(&statusTimeout, "timeout", "t", common.DefaultCallTimeout, "timeout of each call")
	statusCmd.Flags().BoolVarP(&showReport, "report", "r", false, "print the last run report")

	rootCmd.AddCommand(statusCmd)
}
