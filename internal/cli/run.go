package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sidekick-chat/sidekick/internal/agent"
	"github.com/sidekick-chat/sidekick/internal/task"
)

var (
	runCmd = &cobra.Command{
		Use:   "run <summary|tasks|help>",
		Short: "Invoke an on-demand command in a channel",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}

	monitorCmd = &cobra.Command{
		Use:   "monitor <message-id>",
		Short: "Evaluate agent-mode auto replies for a message",
		Args:  cobra.ExactArgs(1),
		RunE:  runMonitor,
	}

	processCmd = &cobra.Command{
		Use:   "process <task-id>",
		Short: "Process a queued task now",
		Args:  cobra.ExactArgs(1),
		RunE:  runProcess,
	}
)

func init() {
	runCmd.Flags().String("channel", "", "Channel ID")
	runCmd.Flags().String("actor", "", "Invoking user ID")
	runCmd.Flags().Int("last", 0, "Number of recent messages (10-200, default 50)")
	runCmd.Flags().Bool("wait", false, "Process the task in this process instead of leaving it for serve")
	runCmd.Flags().Bool("json", false, "Output machine-readable JSON")
	monitorCmd.Flags().Bool("json", false, "Output machine-readable JSON")
	processCmd.Flags().Bool("json", false, "Output machine-readable JSON")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(processCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	channelID, _ := cmd.Flags().GetString("channel")
	actorID, _ := cmd.Flags().GetString("actor")
	last, _ := cmd.Flags().GetInt("last")
	wait, _ := cmd.Flags().GetBool("wait")
	asJSON, _ := cmd.Flags().GetBool("json")
	if strings.TrimSpace(channelID) == "" || strings.TrimSpace(actorID) == "" {
		return fmt.Errorf("--channel and --actor are required")
	}

	a, err := loadApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	resp, err := a.engine.RunCommand(ctx, agent.CommandRequest{
		ChannelID: channelID,
		ActorID:   actorID,
		Command:   args[0],
		Args:      task.Args{Last: last}.Normalized(),
	})
	if errors.Is(err, agent.ErrRateLimited) || errors.Is(err, agent.ErrDenied) {
		if asJSON {
			_ = writeJSON(cmd.OutOrStdout(), resp)
		} else if resp != nil && resp.Cooldown != "" {
			fmt.Fprintln(cmd.OutOrStdout(), color.YellowString(resp.Cooldown))
		} else if resp != nil && resp.Reason != "" {
			fmt.Fprintln(cmd.OutOrStdout(), color.RedString("Not allowed here: "+resp.Reason))
		}
		return err
	}
	if err != nil {
		return err
	}

	if wait && resp.TaskID != "" && resp.State == task.StateQueued {
		if err := a.engine.ProcessTask(ctx, resp.TaskID); err != nil {
			return err
		}
		t, err := a.tasks.Get(ctx, resp.TaskID)
		if err != nil {
			return err
		}
		if asJSON {
			return writeJSON(cmd.OutOrStdout(), t)
		}
		printTask(cmd.OutOrStdout(), t)
		return nil
	}

	if asJSON {
		return writeJSON(cmd.OutOrStdout(), resp)
	}
	if resp.Result != nil {
		fmt.Fprintln(cmd.OutOrStdout(), resp.Result.Markdown)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Task %s %s\n", color.CyanString(resp.TaskID), stateLabel(resp.State))
	return nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	a, err := loadApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := a.engine.HandleMessage(cmd.Context(), agent.MessageEvent{MessageID: args[0]})
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(cmd.OutOrStdout(), map[string]any{"outcomes": out})
	}
	if len(out) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No outcomes.")
		return nil
	}
	for _, o := range out {
		line := fmt.Sprintf("%-18s", o.Action)
		if o.UserID != "" {
			line += " user=" + o.UserID
		}
		if o.Confidence != nil {
			line += fmt.Sprintf(" confidence=%.2f", *o.Confidence)
		}
		if o.Reason != "" {
			line += " reason=" + o.Reason
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return nil
}

func runProcess(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	a, err := loadApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.engine.ProcessTask(ctx, args[0]); err != nil {
		return err
	}
	t, err := a.tasks.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(cmd.OutOrStdout(), t)
	}
	printTask(cmd.OutOrStdout(), t)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func stateLabel(s task.State) string {
	switch s {
	case task.StateCompleted:
		return color.GreenString(string(s))
	case task.StateFailed, task.StateRejected:
		return color.RedString(string(s))
	case task.StateRunning:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}

func printTask(w io.Writer, t *task.Task) {
	fmt.Fprintf(w, "Task:     %s\n", color.CyanString(t.TaskID))
	fmt.Fprintf(w, "Command:  %s (last=%d)\n", t.Command, t.Args.Last)
	fmt.Fprintf(w, "Channel:  %s\n", t.ChannelID)
	fmt.Fprintf(w, "Actor:    %s\n", t.ActorID)
	fmt.Fprintf(w, "State:    %s\n", stateLabel(t.State))
	if t.State == task.StateCompleted || t.State == task.StateRejected {
		fmt.Fprintf(w, "Delivery: %s\n", t.Delivery)
	}
	if t.Failure != "" {
		fmt.Fprintf(w, "Failure:  %s\n", t.Failure)
	}
	if t.Result != nil {
		fmt.Fprintln(w, "─────────────────────")
		fmt.Fprintln(w, t.Result.Markdown)
		if len(t.Result.Citations) > 0 {
			ids := make([]string, 0, len(t.Result.Citations))
			for _, c := range t.Result.Citations {
				ids = append(ids, c.MessageID)
			}
			fmt.Fprintf(w, "Refs: %s\n", strings.Join(ids, ", "))
		}
	}
}
