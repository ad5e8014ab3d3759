package main

import (
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/feisync/feisync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagDataDir    string
	flagAPIKey     string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by
// PersistentPreRunE and is available to every subcommand.
var resolvedCfg *config.Resolved

// newRootCmd builds the fully-assembled root command. Called once from
// main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "feisync",
		Short:   "Lark/Feishu drive sync client",
		Long:    "Multi-tenant Lark/Feishu cloud-drive transfer and sync client with a loopback HTTP API.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			resolved, err := config.Resolve(config.CLIOverrides{
				ConfigPath: flagConfigPath,
				DataDir:    flagDataDir,
			})
			if err != nil {
				return err
			}

			resolvedCfg = resolved

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "state directory (overrides config)")
	cmd.PersistentFlags().StringVar(&flagAPIKey, "api-key", "", "API key to run commands as (default: stored admin key)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newTenantCmd())
	cmd.AddCommand(newGroupCmd())
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newFilesCmd())
	cmd.AddCommand(newTransferCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newLogsCmd())

	return cmd
}

// buildLogger creates the process logger. The config file sets the
// baseline level; --verbose and --quiet win over it.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if resolvedCfg != nil {
		switch resolvedCfg.Logging.Level {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelWarn
	}

	out := os.Stderr

	if resolvedCfg != nil && resolvedCfg.Logging.File != "" {
		if f, err := os.OpenFile(resolvedCfg.Logging.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			out = f
		}
	}

	format := "auto"
	if resolvedCfg != nil && resolvedCfg.Logging.Format != "" {
		format = resolvedCfg.Logging.Format
	}

	useText := format == "text"
	if format == "auto" {
		useText = out == os.Stderr && isatty.IsTerminal(out.Fd())
	}

	opts := &slog.HandlerOptions{Level: level}

	if useText {
		return slog.New(slog.NewTextHandler(out, opts))
	}

	return slog.New(slog.NewJSONHandler(out, opts))
}
