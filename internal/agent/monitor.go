package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sidekick-chat/sidekick/internal/agentmode"
	"github.com/sidekick-chat/sidekick/internal/audit"
	"github.com/sidekick-chat/sidekick/internal/channels"
	"github.com/sidekick-chat/sidekick/internal/citation"
	"github.com/sidekick-chat/sidekick/internal/completion"
	"github.com/sidekick-chat/sidekick/internal/policy"
	"github.com/sidekick-chat/sidekick/internal/ratelimit"
	"github.com/sidekick-chat/sidekick/internal/transcript"
)

// MessageEvent announces a newly arrived chat message.
type MessageEvent struct {
	MessageID string `json:"messageId"`
}

// ReplyOutcome is what happened for one would-be responder.
type ReplyOutcome struct {
	UserID     string       `json:"user_id,omitempty"`
	Action     audit.Action `json:"action"`
	Confidence *float64     `json:"confidence,omitempty"`
	PostedID   string       `json:"posted_id,omitempty"`
	Reason     string       `json:"reason,omitempty"`
}

// Reasons recorded in outcome metadata.
const (
	reasonChannelCap = "channel_cap"
	reasonLowConf    = "below_threshold"
)

type responder struct {
	userID  string
	setting agentmode.Setting
}

// HandleMessage evaluates a message for autonomous replies and produces
// exactly one audit entry per eligible user, or a single no_eligible_users
// entry when nobody qualifies.
func (e *Engine) HandleMessage(ctx context.Context, ev MessageEvent) ([]ReplyOutcome, error) {
	msg, err := e.dir.GetMessage(ctx, ev.MessageID)
	if err != nil {
		return nil, fmt.Errorf("handle message: %w", err)
	}
	ch, err := e.dir.Channel(ctx, msg.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("handle message %s: %w", msg.ID, err)
	}

	now := e.now()
	if reason := agentmode.SkipReason(msg.Text, msg.CreatedAt, now); reason != "" {
		slog.Debug("Engine: message skipped", "message_id", msg.ID, "reason", reason)
		return []ReplyOutcome{{Action: audit.ActionSkipped, Reason: reason}}, nil
	}

	trigger := audit.TriggerMention
	if ch.IsDM {
		trigger = audit.TriggerDM
	}

	candidates, err := e.candidates(ctx, ch, msg)
	if err != nil {
		return nil, fmt.Errorf("handle message %s: %w", msg.ID, err)
	}
	eligible := e.eligible(ctx, ch, msg, trigger, candidates, now)
	if len(eligible) == 0 {
		e.record(ctx, audit.Entry{
			ActorID:   msg.AuthorID,
			ChannelID: ch.ID,
			Trigger:   trigger,
			Action:    audit.ActionNoEligibleUsers,
			Metadata:  map[string]any{"message_id": msg.ID, "candidates": len(candidates)},
		})
		return []ReplyOutcome{{Action: audit.ActionNoEligibleUsers}}, nil
	}

	out := make([]ReplyOutcome, 0, len(eligible))
	for _, r := range eligible {
		o := e.reply(ctx, ch, msg, trigger, r, now)
		e.metrics.AutoReply(ctx, string(trigger), string(o.Action))
		out = append(out, o)
	}
	return out, nil
}

// candidates returns the users a message could be answered for: the other
// participant of a DM, or the members mentioned by display name.
func (e *Engine) candidates(ctx context.Context, ch *transcript.Channel, msg *transcript.Message) ([]string, error) {
	if ch.IsDM {
		if other := ch.Counterpart(msg.AuthorID); other != "" {
			return []string{other}, nil
		}
		return nil, nil
	}
	names := agentmode.Mentions(msg.Text)
	if len(names) == 0 {
		return nil, nil
	}
	members, err := e.dir.MembersByDisplayName(ctx, ch.ID, names)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, m := range members {
		if m.UserID != msg.AuthorID {
			ids = append(ids, m.UserID)
		}
	}
	return ids, nil
}

// eligible re-reads each candidate's setting at the moment of use.
func (e *Engine) eligible(ctx context.Context, ch *transcript.Channel, msg *transcript.Message, trigger audit.TriggerType, candidates []string, now time.Time) []responder {
	var out []responder
	for _, uid := range candidates {
		st, err := e.dir.AgentSetting(ctx, uid)
		if err != nil {
			slog.Warn("Engine: agent setting unavailable", "user", uid, "error", err)
			continue
		}
		if !st.EligibleAt(trigger, now) {
			continue
		}
		if topic, blocked := st.Blocks(msg.Text); blocked {
			slog.Debug("Engine: blocked topic", "user", uid, "topic", topic, "message_id", msg.ID)
			continue
		}
		d := e.policy.Evaluate(policy.Context{
			ActorID:      uid,
			ChannelID:    ch.ID,
			IsMember:     true,
			IsDM:         ch.IsDM,
			AgentEnabled: ch.AgentEnabled,
			Autonomous:   true,
		})
		if !d.Allow {
			slog.Debug("Engine: autonomous reply not allowed", "user", uid, "reason", d.Reason)
			continue
		}
		out = append(out, responder{userID: uid, setting: st})
	}
	return out
}

func (e *Engine) reply(ctx context.Context, ch *transcript.Channel, msg *transcript.Message, trigger audit.TriggerType, r responder, now time.Time) ReplyOutcome {
	entry := audit.Entry{
		ActorID:   r.userID,
		ChannelID: ch.ID,
		Trigger:   trigger,
		Metadata:  map[string]any{"message_id": msg.ID},
	}
	finish := func(o ReplyOutcome) ReplyOutcome {
		o.UserID = r.userID
		entry.Action = o.Action
		entry.Confidence = o.Confidence
		if o.Reason != "" {
			entry.Metadata["reason"] = o.Reason
		}
		e.record(ctx, entry)
		return o
	}

	mode := ratelimit.ModeFor(false, ch.IsDM)
	d, err := e.limiter.Admit(ctx, r.userID, ch.ID, mode, now)
	e.metrics.Admission(ctx, string(mode), err == nil && d.Admitted)
	if err != nil || !d.Admitted {
		entry.Metadata["mode"] = string(mode)
		if err != nil {
			entry.Metadata["error"] = err.Error()
		}
		return finish(ReplyOutcome{Action: audit.ActionRateLimited})
	}

	tr, err := e.assembler.BuildReplyContext(ctx, ch.ID)
	if err != nil {
		entry.Metadata["error"] = err.Error()
		return finish(ReplyOutcome{Action: audit.ActionAIError, Reason: "context_error"})
	}

	name, err := e.dir.DisplayName(ctx, r.userID)
	if err != nil || name == "" {
		name = r.userID
	}

	start := e.now()
	res, err := e.completer.Complete(ctx, completion.Request{
		Mode:       completion.ModeAutonomousReply,
		Transcript: tr,
		Responder:  name,
		Trigger:    msg.Text,
	})
	e.metrics.CompletionLatency(ctx, string(completion.ModeAutonomousReply), e.now().Sub(start), err == nil)
	if err != nil {
		entry.Metadata["kind"] = string(completion.KindOf(err))
		entry.Metadata["error"] = err.Error()
		return finish(ReplyOutcome{Action: audit.ActionAIError})
	}

	conf := 0.0
	if res.Confidence != nil {
		conf = *res.Confidence
	}
	kept := citation.Filter(res.Citations, tr.IDs())
	entry.Metadata["citations"] = len(kept)
	entry.Metadata["threshold"] = string(r.setting.Confidence)

	outcome := agentmode.Gate(conf, r.setting.Confidence)
	reason := ""
	if outcome == agentmode.OutcomeDraft {
		reason = reasonLowConf
	} else if capped, err := e.channelCapReached(ctx, ch, now); err != nil {
		slog.Warn("Engine: channel cap check failed", "channel", ch.ID, "error", err)
	} else if capped {
		outcome = agentmode.OutcomeDraft
		reason = reasonChannelCap
	}

	if outcome == agentmode.OutcomeDraft {
		if e.drafts != nil {
			err := e.drafts.Draft(ctx, channels.Draft{
				UserID:          r.userID,
				ChannelID:       ch.ID,
				SourceMessageID: msg.ID,
				Text:            agentmode.FormatDraft(res.Markdown, conf),
				Confidence:      conf,
			})
			if err != nil {
				entry.Metadata["error"] = err.Error()
				return finish(ReplyOutcome{Action: audit.ActionPostError, Confidence: &conf, Reason: reason})
			}
		}
		return finish(ReplyOutcome{Action: audit.ActionDraftCreated, Confidence: &conf, Reason: reason})
	}

	post := channels.Post{
		ChannelID: ch.ID,
		ActorID:   r.userID,
		Text:      agentmode.FormatPublicReply(res.Markdown, name, ch.IsDM, citation.Refs(kept)),
	}
	if !ch.IsDM {
		post.ThreadID = threadFor(msg)
	}
	id, err := e.poster.Post(ctx, post)
	if err != nil {
		slog.Warn("Engine: auto reply post failed", "user", r.userID, "channel", ch.ID, "error", err)
		entry.Metadata["error"] = err.Error()
		return finish(ReplyOutcome{Action: audit.ActionPostError, Confidence: &conf})
	}
	entry.Metadata["posted_id"] = id
	slog.Info("Engine: auto reply posted", "user", r.userID, "channel", ch.ID, "confidence", conf)
	return finish(ReplyOutcome{Action: audit.ActionAutoReply, Confidence: &conf, PostedID: id})
}

// threadFor keeps replies inside an existing thread.
func threadFor(msg *transcript.Message) string {
	if strings.TrimSpace(msg.ParentID) != "" {
		return msg.ParentID
	}
	return msg.ID
}

func (e *Engine) channelCapReached(ctx context.Context, ch *transcript.Channel, now time.Time) (bool, error) {
	if ch.IsDM || ch.MaxPostsPerHour <= 0 {
		return false, nil
	}
	n, err := e.dir.CountAuditActions(ctx, ch.ID, audit.ActionAutoReply, now.Add(-time.Hour))
	if err != nil {
		return false, err
	}
	return n >= ch.MaxPostsPerHour, nil
}
