// Package task defines agent task records and the lifecycle they move through.
package task

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sidekick-chat/sidekick/internal/citation"
)

// State is the lifecycle position of a task.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateRejected  State = "rejected"
)

// Command is the on-demand action a user asked for.
type Command string

const (
	CommandSummary Command = "summary"
	CommandTasks   Command = "tasks"
	CommandHelp    Command = "help"
)

// Scope records whether a result was produced for a DM or a channel.
type Scope string

const (
	ScopeDM      Scope = "dm"
	ScopeChannel Scope = "channel"
)

// ScopeFor maps a channel kind to its result scope.
func ScopeFor(isDM bool) Scope {
	if isDM {
		return ScopeDM
	}
	return ScopeChannel
}

// Delivery tracks what happened to a completed result after review.
type Delivery string

const (
	DeliveryPending   Delivery = "pending"
	DeliveryPosting   Delivery = "posting"
	DeliveryPosted    Delivery = "posted"
	DeliveryDismissed Delivery = "dismissed"
)

// Window bounds for the `last` argument.
const (
	DefaultLast = 50
	MinLast     = 10
	MaxLast     = 200
)

// User-facing failure messages. A failed task carries exactly one of these.
const (
	MsgInsufficientContext = "Not enough recent messages. Try a larger `last`."
	MsgProcessingFailed    = "AI processing failed. Please try again later."
	MsgFormatError         = "AI response format error. Please try again."
	MsgServiceUnavailable  = "AI service unavailable. Please try again later."
	MsgInterrupted         = "Processing was interrupted. Please run the command again."
	MsgCooldown            = "Agent cooldown reached. Try later."
)

var (
	ErrNotFound          = errors.New("task not found")
	ErrNotClaimable      = errors.New("task is not claimable")
	ErrInvalidTransition = errors.New("invalid task transition")
	ErrUnknownCommand    = errors.New("unknown command")
)

// Args are the validated command arguments.
type Args struct {
	Last int `json:"last,omitempty"`
}

// ClampLast applies the default and the [MinLast, MaxLast] bounds.
func ClampLast(n int) int {
	if n <= 0 {
		return DefaultLast
	}
	if n < MinLast {
		return MinLast
	}
	if n > MaxLast {
		return MaxLast
	}
	return n
}

// Normalized returns a copy with Last clamped.
func (a Args) Normalized() Args {
	a.Last = ClampLast(a.Last)
	return a
}

// ParseCommand accepts "summary", "/summary", "Summary" and the like.
func ParseCommand(s string) (Command, error) {
	c := Command(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "/")))
	switch c {
	case CommandSummary, CommandTasks, CommandHelp:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
}

// Result is what a completed task produced.
type Result struct {
	Markdown  string              `json:"markdown"`
	Citations []citation.Citation `json:"citations"`
	Scope     Scope               `json:"scope"`
}

// Task is one on-demand request and its outcome.
type Task struct {
	ID          int64     `json:"id"`
	TaskID      string    `json:"task_id"`
	ChannelID   string    `json:"channel_id"`
	ActorID     string    `json:"actor_id"`
	Command     Command   `json:"command"`
	Args        Args      `json:"args"`
	State       State     `json:"state"`
	Result      *Result   `json:"result,omitempty"`
	Failure     string    `json:"failure,omitempty"`
	Delivery    Delivery  `json:"delivery"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	ClaimedAt   time.Time `json:"claimed_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the task can no longer be processed.
func (t *Task) Terminal() bool {
	switch t.State {
	case StateCompleted, StateFailed, StateRejected:
		return true
	}
	return false
}

// Reviewable reports whether the result is still waiting for accept or reject.
func (t *Task) Reviewable() bool {
	return t.State == StateCompleted && t.Delivery == DeliveryPending
}

// ListFilter narrows ListTasks.
type ListFilter struct {
	ChannelID string
	ActorID   string
	State     State
	Limit     int
}
