package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sidekick-chat/sidekick/internal/audit"
	"github.com/sidekick-chat/sidekick/internal/timeline"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List audit log entries",
	RunE:  runAudit,
}

var draftsCmd = &cobra.Command{
	Use:   "drafts",
	Short: "List auto-reply drafts waiting for a user",
	RunE:  runDrafts,
}

func init() {
	auditCmd.Flags().String("actor", "", "Filter by actor ID")
	auditCmd.Flags().String("channel", "", "Filter by channel ID")
	auditCmd.Flags().String("action", "", "Filter by action (e.g. admitted, completed, ai_error)")
	auditCmd.Flags().Duration("since", 0, "Only entries newer than this duration (e.g. 24h)")
	auditCmd.Flags().Int("limit", 50, "Maximum entries to list")
	auditCmd.Flags().Bool("json", false, "Output machine-readable JSON")
	draftsCmd.Flags().String("user", "", "User ID whose drafts to list")
	draftsCmd.Flags().Int("limit", 20, "Maximum drafts to list")
	draftsCmd.Flags().Bool("json", false, "Output machine-readable JSON")
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(draftsCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	actorID, _ := cmd.Flags().GetString("actor")
	channelID, _ := cmd.Flags().GetString("channel")
	action, _ := cmd.Flags().GetString("action")
	since, _ := cmd.Flags().GetDuration("since")
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	a, err := loadApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	f := audit.Filter{
		ActorID:   strings.TrimSpace(actorID),
		ChannelID: strings.TrimSpace(channelID),
		Action:    audit.Action(strings.TrimSpace(action)),
		Limit:     limit,
	}
	if since > 0 {
		f.Since = time.Now().Add(-since)
	}
	entries, err := a.tl.ListAudit(cmd.Context(), f)
	if err != nil {
		return err
	}
	if asJSON {
		if entries == nil {
			entries = []audit.Entry{}
		}
		return writeJSON(cmd.OutOrStdout(), map[string]any{"entries": entries})
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No audit entries.")
		return nil
	}
	for _, e := range entries {
		line := fmt.Sprintf("%s  %-22s %-10s %-10s %s",
			e.At.Local().Format("2006-01-02 15:04:05"), e.Action, e.ActorID, e.ChannelID, e.Trigger)
		if e.Confidence != nil {
			line += fmt.Sprintf(" confidence=%.2f", *e.Confidence)
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return nil
}

func runDrafts(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetString("user")
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("--user is required")
	}

	a, err := loadApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	drafts, err := a.tl.ListDrafts(cmd.Context(), userID, limit)
	if err != nil {
		return err
	}
	if asJSON {
		if drafts == nil {
			drafts = []timeline.Draft{}
		}
		return writeJSON(cmd.OutOrStdout(), map[string]any{"drafts": drafts})
	}
	if len(drafts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No drafts.")
		return nil
	}
	for _, d := range drafts {
		fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s re %s (%.2f)\n  %s\n",
			d.CreatedAt.Local().Format("2006-01-02 15:04"), d.ChannelID, d.SourceMessageID, d.Confidence, d.Content)
	}
	return nil
}
