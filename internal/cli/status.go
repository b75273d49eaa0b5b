package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sidekick-chat/sidekick/internal/config"
	"github.com/sidekick-chat/sidekick/internal/task"
	"github.com/sidekick-chat/sidekick/internal/timeline"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader(cmd.OutOrStdout(), "🏷️ Sidekick Version")
		fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status",
	Run: func(cmd *cobra.Command, args []string) {
		w := cmd.OutOrStdout()
		printHeader(w, "📊 Sidekick Status")
		fmt.Fprintf(w, "Version:  %s\n", version)

		if path, err := config.ConfigPath(); err == nil {
			if _, err := os.Stat(path); err == nil {
				fmt.Fprintf(w, "Config:   %s Found (%s)\n", ok(), path)
			} else {
				fmt.Fprintf(w, "Config:   %s Not found (defaults in use, see 'sidekick config set')\n", no())
			}
		}

		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(w, "Config:   %s Unable to load: %v\n", no(), err)
			return
		}
		if strings.TrimSpace(cfg.Providers.OpenAI.APIKey) != "" {
			fmt.Fprintf(w, "API Key:  %s Found (model %s)\n", ok(), cfg.Model.Name)
		} else {
			fmt.Fprintf(w, "API Key:  %s Not found\n", no())
		}
		fmt.Fprintf(w, "Limits:   %s backend\n", cfg.RateLimit.Backend)
		fmt.Fprintf(w, "Slack:    %s\n", enabled(cfg.Slack.Enabled))
		fmt.Fprintf(w, "Kafka:    %s\n", enabled(cfg.Kafka.Enabled))

		if _, err := os.Stat(cfg.Paths.Database); err != nil {
			fmt.Fprintf(w, "Database: %s Not created yet (%s)\n", no(), cfg.Paths.Database)
			return
		}
		tl, err := timeline.NewTimelineService(cfg.Paths.Database)
		if err != nil {
			fmt.Fprintf(w, "Database: %s %v\n", no(), err)
			return
		}
		defer tl.Close()
		counts, err := tl.TaskCounts(cmd.Context())
		if err != nil {
			fmt.Fprintf(w, "Database: %s %v\n", no(), err)
			return
		}
		fmt.Fprintf(w, "Database: %s %s\n", ok(), cfg.Paths.Database)
		fmt.Fprintf(w, "Tasks:    queued=%d running=%d completed=%d failed=%d rejected=%d\n",
			counts[task.StateQueued], counts[task.StateRunning], counts[task.StateCompleted],
			counts[task.StateFailed], counts[task.StateRejected])
	},
}

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w, color.CyanString(logo))
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, strings.Repeat("─", 40))
}

func ok() string { return color.GreenString("✓") }
func no() string { return color.RedString("✗") }

func enabled(on bool) string {
	if on {
		return ok() + " Enabled"
	}
	return no() + " Disabled"
}
