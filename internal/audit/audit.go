// Package audit records every agent decision in an append-only log.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// TriggerType is what caused the agent to act.
type TriggerType string

const (
	TriggerDM       TriggerType = "dm"
	TriggerMention  TriggerType = "mention"
	TriggerOnDemand TriggerType = "on_demand"
)

// Action is the decision that was taken.
type Action string

const (
	ActionAdmitted        Action = "admitted"
	ActionCompleted       Action = "completed"
	ActionFailed          Action = "failed"
	ActionRateLimited     Action = "rate_limited"
	ActionAIError         Action = "ai_error"
	ActionDraftCreated    Action = "draft_created"
	ActionAutoReply       Action = "auto_reply"
	ActionPostError       Action = "post_error"
	ActionDenied          Action = "denied"
	ActionNoEligibleUsers Action = "no_eligible_users"
	ActionSkipped         Action = "skipped"
)

var ErrInvalidEntry = errors.New("invalid audit entry")

// Entry is one immutable audit record.
type Entry struct {
	ID         int64          `json:"id,omitempty"`
	ActorID    string         `json:"actor_id"`
	ChannelID  string         `json:"channel_id"`
	Trigger    TriggerType    `json:"trigger_type"`
	Confidence *float64       `json:"confidence,omitempty"`
	Action     Action         `json:"action"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	At         time.Time      `json:"created_at"`
}

// Store appends entries. Implementations never update or delete.
type Store interface {
	AppendAudit(ctx context.Context, e *Entry) error
}

// Sink receives a copy of every stored entry.
type Sink interface {
	Publish(ctx context.Context, e Entry) error
}

// Filter narrows audit listings.
type Filter struct {
	ActorID   string
	ChannelID string
	Action    Action
	Since     time.Time
	Limit     int
}

// Log writes entries to the store and mirrors them to slog and any sinks.
type Log struct {
	store Store
	sinks []Sink
	now   func() time.Time
}

// NewLog creates an audit log. Sinks are best-effort.
func NewLog(store Store, sinks ...Sink) *Log {
	return &Log{store: store, sinks: sinks, now: time.Now}
}

// Record appends one entry. The store write is the durable step; a sink
// failure is logged and otherwise ignored.
func (l *Log) Record(ctx context.Context, e Entry) error {
	if e.Action == "" || e.Trigger == "" {
		return fmt.Errorf("%w: action and trigger are required", ErrInvalidEntry)
	}
	if e.Confidence != nil && (*e.Confidence < 0 || *e.Confidence > 1) {
		return fmt.Errorf("%w: confidence %v out of range", ErrInvalidEntry, *e.Confidence)
	}
	if e.At.IsZero() {
		e.At = l.now().UTC()
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	if _, ok := e.Metadata["timestamp"]; !ok {
		e.Metadata["timestamp"] = e.At.Format(time.RFC3339Nano)
	}

	if err := l.store.AppendAudit(ctx, &e); err != nil {
		slog.Error("Audit append failed", "action", e.Action, "actor", e.ActorID, "channel", e.ChannelID, "error", err)
		return fmt.Errorf("append audit: %w", err)
	}

	attrs := []any{"id", e.ID, "action", e.Action, "trigger", e.Trigger, "actor", e.ActorID, "channel", e.ChannelID}
	if e.Confidence != nil {
		attrs = append(attrs, "confidence", *e.Confidence)
	}
	slog.Info("Audit", attrs...)

	for _, s := range l.sinks {
		if err := s.Publish(ctx, e); err != nil {
			slog.Warn("Audit sink publish failed", "action", e.Action, "error", err)
		}
	}
	return nil
}

// Confidence is a helper for building entries with an optional score.
func Confidence(v float64) *float64 { return &v }
