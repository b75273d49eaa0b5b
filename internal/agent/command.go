package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sidekick-chat/sidekick/internal/audit"
	"github.com/sidekick-chat/sidekick/internal/citation"
	"github.com/sidekick-chat/sidekick/internal/policy"
	"github.com/sidekick-chat/sidekick/internal/ratelimit"
	"github.com/sidekick-chat/sidekick/internal/task"
)

const helpText = "**Sidekick commands**\n\n" +
	"- `/summary [last=N]` summarizes the recent conversation.\n" +
	"- `/tasks [last=N]` extracts action items with owners.\n" +
	"- `/help` shows this message.\n\n" +
	"`last`: 10-200, default 50."

// CommandRequest is an explicit on-demand invocation.
type CommandRequest struct {
	ChannelID string    `json:"channelId"`
	ActorID   string    `json:"actorId"`
	Command   string    `json:"command"`
	Args      task.Args `json:"args"`
}

// CommandResponse is what the requester sees right away.
type CommandResponse struct {
	TaskID string       `json:"task_id,omitempty"`
	State  task.State   `json:"state,omitempty"`
	Result *task.Result `json:"result,omitempty"`
	// Cooldown is the user-facing text for a rate-limited request.
	Cooldown   string        `json:"cooldown,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Reason     string        `json:"reason,omitempty"`
}

// RunCommand admits an on-demand command and queues it for the worker pool.
// Help resolves inline and is never rate limited.
func (e *Engine) RunCommand(ctx context.Context, req CommandRequest) (*CommandResponse, error) {
	cmd, err := task.ParseCommand(req.Command)
	if err != nil {
		return nil, err
	}
	ch, err := e.dir.Channel(ctx, req.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", cmd, err)
	}
	member, err := e.dir.IsMember(ctx, ch.ID, req.ActorID)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", cmd, err)
	}

	decision := e.policy.Evaluate(policy.Context{
		ActorID:      req.ActorID,
		ChannelID:    ch.ID,
		Command:      string(cmd),
		IsMember:     member,
		IsDM:         ch.IsDM,
		AgentEnabled: ch.AgentEnabled,
	})
	if !decision.Allow {
		slog.Info("Engine: command denied", "command", cmd, "actor", req.ActorID, "channel", ch.ID, "reason", decision.Reason)
		e.record(ctx, audit.Entry{
			ActorID:   req.ActorID,
			ChannelID: ch.ID,
			Trigger:   audit.TriggerOnDemand,
			Action:    audit.ActionDenied,
			Metadata:  map[string]any{"command": string(cmd), "reason": decision.Reason},
		})
		return &CommandResponse{Reason: decision.Reason}, fmt.Errorf("%w: %s", ErrDenied, decision.Reason)
	}

	if cmd == task.CommandHelp {
		return e.help(ctx, req.ActorID, ch.ID, ch.IsDM)
	}

	now := e.now()
	mode := ratelimit.ModeFor(true, ch.IsDM)
	d, err := e.limiter.Admit(ctx, req.ActorID, ch.ID, mode, now)
	e.metrics.Admission(ctx, string(mode), err == nil && d.Admitted)
	if err != nil || !d.Admitted {
		meta := map[string]any{"command": string(cmd), "mode": string(mode), "count": d.Count, "limit": d.Limit}
		if err != nil {
			slog.Warn("Engine: rate limit check failed, denying", "actor", req.ActorID, "channel", ch.ID, "error", err)
			meta["error"] = err.Error()
		}
		if d.RetryAfter > 0 {
			meta["retry_after_seconds"] = int(d.RetryAfter.Round(time.Second).Seconds())
		}
		e.record(ctx, audit.Entry{
			ActorID:   req.ActorID,
			ChannelID: ch.ID,
			Trigger:   audit.TriggerOnDemand,
			Action:    audit.ActionRateLimited,
			Metadata:  meta,
		})
		resp := &CommandResponse{Cooldown: task.MsgCooldown, RetryAfter: d.RetryAfter}
		if err != nil {
			return resp, fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
		return resp, ErrRateLimited
	}

	t, err := e.tasks.Enqueue(ctx, ch.ID, req.ActorID, cmd, req.Args)
	if err != nil {
		e.record(ctx, audit.Entry{
			ActorID:   req.ActorID,
			ChannelID: ch.ID,
			Trigger:   audit.TriggerOnDemand,
			Action:    audit.ActionAIError,
			Metadata: map[string]any{
				"command": string(cmd),
				"mode":    string(mode),
				"reason":  "persistence",
				"error":   err.Error(),
			},
		})
		return nil, fmt.Errorf("run %s: %w", cmd, err)
	}
	e.record(ctx, audit.Entry{
		ActorID:   req.ActorID,
		ChannelID: ch.ID,
		Trigger:   audit.TriggerOnDemand,
		Action:    audit.ActionAdmitted,
		Metadata: map[string]any{
			"task_id": t.TaskID,
			"command": string(cmd),
			"last":    t.Args.Last,
			"mode":    string(mode),
		},
	})
	slog.Info("Engine: task queued", "task_id", t.TaskID, "command", cmd, "channel", ch.ID, "last", t.Args.Last)
	e.publish(t, task.StateQueued, "")
	e.kick(t)
	return &CommandResponse{TaskID: t.TaskID, State: task.StateQueued}, nil
}

func (e *Engine) help(ctx context.Context, actorID, channelID string, isDM bool) (*CommandResponse, error) {
	result := &task.Result{
		Markdown:  helpText,
		Citations: []citation.Citation{},
		Scope:     task.ScopeFor(isDM),
	}
	resp := &CommandResponse{State: task.StateCompleted, Result: result}
	if !e.persistHelp {
		return resp, nil
	}
	t, err := e.tasks.Resolve(ctx, channelID, actorID, task.CommandHelp, result)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		slog.Warn("Engine: help task not stored", "channel", channelID, "error", err)
		return resp, nil
	}
	resp.TaskID = t.TaskID
	return resp, nil
}
