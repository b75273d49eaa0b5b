package cli

import (
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sidekick-chat/sidekick/internal/config"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/sidekick-chat/sidekick/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"  ___ _    _     _   _    _\n" +
		" / __(_)__| |___| |_(_)__| |__\n" +
		" \\__ \\ / _` / -_) / / / _| / /\n" +
		" |___/_\\__,_\\___|_\\_\\_\\__|_\\_\\\n"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "sidekick",
	Short: "Sidekick - chat agent task orchestration",
	Long:  color.CyanString(logo) + "\nSummaries, action items and supervised auto-replies for team chat.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, format := "info", "text"
		if cfg, err := config.Load(); err == nil {
			level, format = cfg.Log.Level, cfg.Log.Format
		}
		if strings.TrimSpace(logLevel) != "" {
			level = logLevel
		}
		setupLogging(level, format)
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// setupLogging installs the default slog handler on stderr so command
// output on stdout stays machine-readable.
func setupLogging(level, format string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
}
