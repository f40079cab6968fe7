// Command reposync mirrors APT and RPM repositories to local disk or an
// S3-compatible bucket, using the crash-consistent publication protocol of
// internal/sync. Structured as a small cobra tree: a root command owns
// global flags and config loading, one file per subcommand.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zextras/reposync/internal/config"
)

var (
	cfgPath   string
	logLevel  string
	logFormat string

	globalCfg *config.Config
	logger    *slog.Logger
)

// NewRootCmd builds the reposync command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reposync <config-file> <action>",
		Short: "Mirror APT and RPM repositories to local disk or S3",
		Long: `reposync mirrors upstream APT and RPM repositories to a local path or an
S3-compatible bucket, optionally fronted by CloudFront. Each run compares
the freshly parsed upstream manifest against the last successfully
published one, publishes only what changed, and never leaves a
destination in an inconsistent state even if interrupted mid-run.`,
		Example: `  reposync config.yaml check
  reposync config.yaml sync
  reposync --repo debian-bookworm config.yaml sync
  reposync config.yaml server`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")

	cmd.AddCommand(
		newCheckCmd(),
		newSyncCmd(),
		newServerCmd(),
	)

	return cmd
}

func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// loadConfig loads and validates the config file named by args[0], the
// first positional argument shared by every subcommand.
func loadConfig(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("missing required argument: config file")
	}
	cfg, err := config.Load(args[0])
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	globalCfg = cfg
	return nil
}

func main() {
	// Accept the "<config-file> <action>" order shown in Use: cobra looks
	// for the subcommand first, so a trailing action is moved to the front.
	actions := map[string]bool{"check": true, "sync": true, "server": true}
	args := os.Args[1:]
	if n := len(args); n >= 2 && actions[args[n-1]] && !actions[args[0]] && args[0] != "help" {
		args = append([]string{args[n-1]}, args[:n-1]...)
	}
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
