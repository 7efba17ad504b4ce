// Package cmd implements the CLI commands for ffpeaks.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/ffpeaks/internal/config"
	"github.com/jmylchreest/ffpeaks/internal/observability"
	"github.com/jmylchreest/ffpeaks/internal/version"
)

var (
	// cfgFile holds the config file path from the CLI flag.
	cfgFile string

	// cfg and logger are set before any subcommand runs.
	cfg    *config.Config
	logger *slog.Logger
)

// skipConfigAnnotation marks commands that run without loading configuration.
const skipConfigAnnotation = "ffpeaks.skip-config"

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "ffpeaks",
	Short:   "FFmpeg transcoding with waveform peaks extraction",
	Version: version.Short(),
	Long: `ffpeaks runs FFmpeg transcodes and extracts min/max waveform peaks from
the audio in the same pass.

Outputs go to a local directory or, when an upload endpoint is configured,
are streamed from FFmpeg and uploaded. Peaks are written as JSON files
suitable for browser waveform players.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	// Set here to avoid an initialization cycle through rootCmd.PersistentFlags.
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if cmd.Annotations[skipConfigAnnotation] != "" {
			return nil
		}
		return initConfig()
	}

	// The log flags are not bound to viper; they override config and env
	// only when set explicitly.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./config.yaml, /etc/ffpeaks, $HOME/.ffpeaks)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// initConfig loads configuration and installs the default logger.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-format), only if explicitly provided
//  2. Environment variables (FFPEAKS_LOGGING_LEVEL, ...)
//  3. Config file values
//  4. Built-in defaults
func initConfig() error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	flags := rootCmd.PersistentFlags()
	if flags.Changed("log-level") {
		level, _ := flags.GetString("log-level")
		loaded.Logging.Level = normalizeLevel(level)
	}
	if flags.Changed("log-format") {
		format, _ := flags.GetString("log-format")
		loaded.Logging.Format = strings.ToLower(format)
	}

	cfg = loaded
	logger = observability.NewLoggerWithWriter(cfg.Logging, os.Stderr).
		With(slog.String("app", version.ApplicationName))
	slog.SetDefault(logger)
	return nil
}

func normalizeLevel(level string) string {
	level = strings.ToLower(level)
	if level == "warning" {
		return "warn"
	}
	return level
}
