package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sidekick-chat/sidekick/internal/audit"
	"github.com/sidekick-chat/sidekick/internal/citation"
	"github.com/sidekick-chat/sidekick/internal/completion"
	"github.com/sidekick-chat/sidekick/internal/task"
	"github.com/sidekick-chat/sidekick/internal/transcript"
)

// failureMessage maps a completion error to user-facing text.
func failureMessage(err error) string {
	switch completion.KindOf(err) {
	case completion.KindFormat:
		return task.MsgFormatError
	case completion.KindTimeout:
		return task.MsgServiceUnavailable
	default:
		return task.MsgProcessingFailed
	}
}

// ProcessTask claims a queued task and runs it to a terminal state. A task
// that another worker already claimed is abandoned silently.
func (e *Engine) ProcessTask(ctx context.Context, taskID string) error {
	t, err := e.tasks.Claim(ctx, taskID)
	if errors.Is(err, task.ErrNotClaimable) {
		slog.Debug("Engine: task not claimable, skipping", "task_id", taskID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("process %s: %w", taskID, err)
	}
	slog.Info("Engine: task claimed", "task_id", t.TaskID, "command", t.Command, "channel", t.ChannelID)
	e.publish(t, task.StateRunning, "")

	mode, ok := completion.ModeForCommand(t.Command)
	if !ok {
		return e.failTask(ctx, t, task.MsgProcessingFailed, audit.ActionFailed,
			map[string]any{"reason": "unsupported_command"})
	}

	tr, err := e.assembler.Build(ctx, t.ChannelID, task.ClampLast(t.Args.Last), t.Command == task.CommandTasks)
	if errors.Is(err, transcript.ErrInsufficientContext) {
		return e.failTask(ctx, t, task.MsgInsufficientContext, audit.ActionFailed,
			map[string]any{"reason": "insufficient_context", "last": t.Args.Last})
	}
	if err != nil {
		return e.failTask(ctx, t, task.MsgProcessingFailed, audit.ActionFailed,
			map[string]any{"reason": "context_error", "error": err.Error()})
	}

	start := e.now()
	res, err := e.completer.Complete(ctx, completion.Request{Mode: mode, Transcript: tr})
	e.metrics.CompletionLatency(ctx, string(mode), e.now().Sub(start), err == nil)
	if err != nil {
		return e.failTask(ctx, t, failureMessage(err), audit.ActionAIError,
			map[string]any{"kind": string(completion.KindOf(err)), "error": err.Error()})
	}

	kept := citation.Filter(res.Citations, tr.IDs())
	result := &task.Result{
		Markdown:  res.Markdown,
		Citations: kept,
		Scope:     task.ScopeFor(tr.Channel.IsDM),
	}
	if err := e.tasks.Complete(ctx, t.TaskID, result); err != nil {
		if errors.Is(err, task.ErrInvalidTransition) {
			// The stale sweep failed and audited the task while the model ran.
			slog.Warn("Engine: task left running before completion", "task_id", t.TaskID, "error", err)
			return nil
		}
		return e.failTask(ctx, t, task.MsgProcessingFailed, audit.ActionAIError,
			map[string]any{"reason": "persistence", "error": err.Error()})
	}

	e.record(ctx, audit.Entry{
		ActorID:   t.ActorID,
		ChannelID: t.ChannelID,
		Trigger:   audit.TriggerOnDemand,
		Action:    audit.ActionCompleted,
		Metadata: map[string]any{
			"task_id":           t.TaskID,
			"command":           string(t.Command),
			"messages":          len(tr.Lines),
			"citations":         len(kept),
			"citations_dropped": len(res.Citations) - len(kept),
			"model":             res.Model,
		},
	})
	e.metrics.TaskFinished(ctx, string(t.Command), string(task.StateCompleted))
	t.Result = result
	e.publish(t, task.StateCompleted, "")
	slog.Info("Engine: task completed", "task_id", t.TaskID, "citations", len(kept), "dropped", len(res.Citations)-len(kept))
	return nil
}

func (e *Engine) failTask(ctx context.Context, t *task.Task, message string, action audit.Action, meta map[string]any) error {
	meta["task_id"] = t.TaskID
	meta["command"] = string(t.Command)
	if err := e.tasks.Fail(ctx, t.TaskID, message); err != nil {
		if errors.Is(err, task.ErrInvalidTransition) {
			slog.Warn("Engine: task left running before failure", "task_id", t.TaskID, "error", err)
			return nil
		}
		if action != audit.ActionAIError {
			meta["cause"] = string(action)
		}
		meta["reason"] = "persistence"
		meta["fail_error"] = err.Error()
		e.record(ctx, audit.Entry{
			ActorID:   t.ActorID,
			ChannelID: t.ChannelID,
			Trigger:   audit.TriggerOnDemand,
			Action:    audit.ActionAIError,
			Metadata:  meta,
		})
		return fmt.Errorf("fail %s: %w", t.TaskID, err)
	}
	e.record(ctx, audit.Entry{
		ActorID:   t.ActorID,
		ChannelID: t.ChannelID,
		Trigger:   audit.TriggerOnDemand,
		Action:    action,
		Metadata:  meta,
	})
	e.metrics.TaskFinished(ctx, string(t.Command), string(task.StateFailed))
	e.publish(t, task.StateFailed, message)
	slog.Warn("Engine: task failed", "task_id", t.TaskID, "action", action, "message", message)
	return nil
}

// interrupted audits a task the stale sweep failed.
func (e *Engine) interrupted(ctx context.Context, t *task.Task) {
	e.record(ctx, audit.Entry{
		ActorID:   t.ActorID,
		ChannelID: t.ChannelID,
		Trigger:   audit.TriggerOnDemand,
		Action:    audit.ActionFailed,
		Metadata: map[string]any{
			"task_id": t.TaskID,
			"command": string(t.Command),
			"reason":  "interrupted",
		},
	})
	e.metrics.TaskFinished(ctx, string(t.Command), string(task.StateFailed))
	e.publish(t, task.StateFailed, task.MsgInterrupted)
}
