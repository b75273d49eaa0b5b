package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sidekick-chat/sidekick/internal/agentmode"
	"github.com/sidekick-chat/sidekick/internal/transcript"
)

var seedCmd = &cobra.Command{
	Use:   "seed <fixture.json>",
	Short: "Load profiles, channels, messages and agent settings from a JSON fixture",
	Args:  cobra.ExactArgs(1),
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

// seedFixture is the on-disk layout read by seed. Message times are given
// relative to now so fixtures stay inside the trigger freshness window.
type seedFixture struct {
	Profiles []struct {
		UserID      string `json:"user_id"`
		DisplayName string `json:"display_name"`
	} `json:"profiles"`
	Channels []struct {
		transcript.Channel
		Members []string `json:"members"`
	} `json:"channels"`
	Messages []struct {
		transcript.Message
		MinutesAgo int `json:"minutes_ago"`
	} `json:"messages"`
	AgentSettings []agentmode.Setting `json:"agent_settings"`
}

func runSeed(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read fixture: %w", err)
	}
	var fx seedFixture
	if err := json.Unmarshal(data, &fx); err != nil {
		return fmt.Errorf("parse fixture: %w", err)
	}

	a, err := loadApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	for _, p := range fx.Profiles {
		if err := a.tl.UpsertProfile(ctx, p.UserID, p.DisplayName); err != nil {
			return err
		}
	}
	for _, ch := range fx.Channels {
		if err := a.tl.UpsertChannel(ctx, ch.Channel); err != nil {
			return err
		}
		members := append(ch.Participants(), ch.Members...)
		for _, userID := range members {
			if err := a.tl.AddMember(ctx, ch.ID, userID); err != nil {
				return err
			}
		}
	}
	now := time.Now().UTC()
	for i := range fx.Messages {
		m := fx.Messages[i].Message
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now.Add(-time.Duration(fx.Messages[i].MinutesAgo) * time.Minute)
		}
		if err := a.tl.InsertMessage(ctx, &m); err != nil {
			return err
		}
	}
	for _, st := range fx.AgentSettings {
		if err := a.tl.UpsertAgentSetting(ctx, st); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Seeded %d profile(s), %d channel(s), %d message(s), %d agent setting(s)\n",
		ok(), len(fx.Profiles), len(fx.Channels), len(fx.Messages), len(fx.AgentSettings))
	return nil
}
