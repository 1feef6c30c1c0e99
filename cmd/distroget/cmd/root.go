package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/oshokin/distroget/internal/config"
	"github.com/oshokin/distroget/internal/logger"
	"github.com/oshokin/distroget/internal/version"
)

// configEnv selects the configuration file when --config is not given.
const configEnv = "DISTROGET_CONFIG"

var (
	// configPath to the configuration YAML file.
	configPath string
	// logLevel overrides the level from the configuration file.
	logLevel string

	// rootCmd represents the base command.
	rootCmd = &cobra.Command{
		Use:   "distroget",
		Short: "Keep local copies of Linux distribution images up to date.",
		Long: `Checks the configured distributions for new releases, downloads the
artifacts of every new release with a bounded worker pool and optionally
installs them into a storage directory.

Environment variables may be provided in a .env file in the working directory.
DISTROGET_CONFIG selects the configuration file when --config is omitted.`,
		SilenceUsage:      true,
		PersistentPreRunE: prepare,
	}
)

// Execute runs the distroget CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// prepare loads .env, resolves the configuration path and sets the log level.
func prepare(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	if !cmd.Flags().Changed("config") {
		if fromEnv := os.Getenv(configEnv); fromEnv != "" {
			configPath = fromEnv
		}
	}

	level := logLevel
	if level == "" {
		// The subcommand reports a broken configuration itself.
		if settings, err := config.Load(configPath); err == nil {
			level = settings.LogLevel
		}
	}

	if level != "" && !logger.SetLevelFromString(level) {
		logger.WarnKV(context.Background(), "Unknown log level, keeping the default", "level", level)
	}

	return nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().
		StringVarP(&logLevel, "log-level", "l", "", "log level: debug, info, warn or error")
}
