package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sidekick-chat/sidekick/internal/task"
)

var (
	taskCmd = &cobra.Command{
		Use:   "task",
		Short: "Inspect and review tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	taskListCmd = &cobra.Command{
		Use:   "list",
		Short: "List recent tasks",
		RunE:  runTaskList,
	}

	taskShowCmd = &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task with its result",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskShow,
	}

	taskAcceptCmd = &cobra.Command{
		Use:   "accept <task-id>",
		Short: "Accept a reviewable result and post it to the channel",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskAccept,
	}

	taskRejectCmd = &cobra.Command{
		Use:   "reject <task-id>",
		Short: "Reject a reviewable result",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskReject,
	}
)

func init() {
	taskListCmd.Flags().String("channel", "", "Filter by channel ID")
	taskListCmd.Flags().String("actor", "", "Filter by actor ID")
	taskListCmd.Flags().String("state", "", "Filter by state (queued, running, completed, failed, rejected)")
	taskListCmd.Flags().Int("limit", 20, "Maximum tasks to list")
	taskListCmd.Flags().Bool("json", false, "Output machine-readable JSON")
	taskShowCmd.Flags().Bool("json", false, "Output machine-readable JSON")
	taskAcceptCmd.Flags().String("reviewer", "", "Reviewer user ID (must be the task actor)")
	taskAcceptCmd.Flags().String("markdown", "", "Edited markdown to post instead of the draft")
	taskRejectCmd.Flags().String("reviewer", "", "Reviewer user ID (must be the task actor)")

	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskAcceptCmd)
	taskCmd.AddCommand(taskRejectCmd)
	rootCmd.AddCommand(taskCmd)
}

func runTaskList(cmd *cobra.Command, args []string) error {
	channelID, _ := cmd.Flags().GetString("channel")
	actorID, _ := cmd.Flags().GetString("actor")
	state, _ := cmd.Flags().GetString("state")
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	a, err := loadApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	tasks, err := a.tl.ListTasks(cmd.Context(), task.ListFilter{
		ChannelID: strings.TrimSpace(channelID),
		ActorID:   strings.TrimSpace(actorID),
		State:     task.State(strings.TrimSpace(state)),
		Limit:     limit,
	})
	if err != nil {
		return err
	}
	return printTaskOutput(cmd.OutOrStdout(), tasks, asJSON)
}

func printTaskOutput(w io.Writer, tasks []task.Task, asJSON bool) error {
	if asJSON {
		if tasks == nil {
			tasks = []task.Task{}
		}
		return writeJSON(w, map[string]any{"tasks": tasks})
	}
	if len(tasks) == 0 {
		_, err := fmt.Fprintln(w, "No tasks recorded.")
		return err
	}
	for _, t := range tasks {
		_, _ = fmt.Fprintf(w, "%s  %-8s %-10s %-10s %-12s %s\n",
			color.CyanString(t.TaskID), t.Command, t.ChannelID, t.ActorID,
			stateLabel(t.State), t.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	a, err := loadApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.tasks.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(cmd.OutOrStdout(), t)
	}
	printTask(cmd.OutOrStdout(), t)
	return nil
}

func runTaskAccept(cmd *cobra.Command, args []string) error {
	reviewer, _ := cmd.Flags().GetString("reviewer")
	markdown, _ := cmd.Flags().GetString("markdown")
	if strings.TrimSpace(reviewer) == "" {
		return fmt.Errorf("--reviewer is required")
	}
	a, err := loadApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.review.Accept(cmd.Context(), args[0], reviewer, markdown)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Task %s delivery=%s\n", ok(), t.TaskID, t.Delivery)
	return nil
}

func runTaskReject(cmd *cobra.Command, args []string) error {
	reviewer, _ := cmd.Flags().GetString("reviewer")
	if strings.TrimSpace(reviewer) == "" {
		return fmt.Errorf("--reviewer is required")
	}
	a, err := loadApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.review.Reject(cmd.Context(), args[0], reviewer)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Task %s %s\n", ok(), t.TaskID, t.State)
	return nil
}
