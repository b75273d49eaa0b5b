package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store persists tasks. Every state-changing method is a conditional update
// on the current state, so concurrent callers cannot both win.
type Store interface {
	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, taskID string) (*Task, error)
	// ClaimTask moves queued to running. Returns ErrNotClaimable when the
	// task exists but is no longer queued.
	ClaimTask(ctx context.Context, taskID string, now time.Time) (*Task, error)
	// FinishTask moves running to completed or failed.
	FinishTask(ctx context.Context, taskID string, to State, result *Result, failure string, now time.Time) error
	// RejectTask moves completed to rejected while delivery is pending.
	RejectTask(ctx context.Context, taskID string, now time.Time) error
	// SetDelivery moves delivery from one value to another on a completed task.
	SetDelivery(ctx context.Context, taskID string, from, to Delivery, result *Result, now time.Time) error
	ListTasks(ctx context.Context, f ListFilter) ([]Task, error)
	ListQueuedTasks(ctx context.Context, limit int) ([]Task, error)
	// FailStaleTasks fails running tasks claimed before cutoff and returns them.
	FailStaleTasks(ctx context.Context, cutoff time.Time, failure string, now time.Time) ([]Task, error)
}

// Machine owns task lifecycle rules on top of a Store.
type Machine struct {
	store Store
	now   func() time.Time
}

// NewMachine creates a task state machine.
func NewMachine(store Store) *Machine {
	return &Machine{store: store, now: time.Now}
}

// Store exposes the underlying store for read paths.
func (m *Machine) Store() Store { return m.store }

// Enqueue creates a queued task for a summary or tasks command.
func (m *Machine) Enqueue(ctx context.Context, channelID, actorID string, cmd Command, args Args) (*Task, error) {
	if cmd == CommandHelp {
		return nil, fmt.Errorf("enqueue: %w: help is resolved inline", ErrInvalidTransition)
	}
	return m.create(ctx, channelID, actorID, cmd, args, StateQueued, nil)
}

// Resolve creates a task that is already completed. Used for help.
func (m *Machine) Resolve(ctx context.Context, channelID, actorID string, cmd Command, result *Result) (*Task, error) {
	return m.create(ctx, channelID, actorID, cmd, Args{}, StateCompleted, result)
}

func (m *Machine) create(ctx context.Context, channelID, actorID string, cmd Command, args Args, state State, result *Result) (*Task, error) {
	if strings.TrimSpace(channelID) == "" || strings.TrimSpace(actorID) == "" {
		return nil, fmt.Errorf("create task: channel and actor are required")
	}
	now := m.now().UTC()
	t := &Task{
		TaskID:    uuid.NewString(),
		ChannelID: channelID,
		ActorID:   actorID,
		Command:   cmd,
		Args:      args,
		State:     state,
		Result:    result,
		Delivery:  DeliveryPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if state == StateCompleted {
		t.CompletedAt = now
	}
	if cmd != CommandHelp {
		t.Args = args.Normalized()
	}
	if err := m.store.CreateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

// Claim moves a queued task to running. Exactly one concurrent caller wins;
// the others get ErrNotClaimable.
func (m *Machine) Claim(ctx context.Context, taskID string) (*Task, error) {
	return m.store.ClaimTask(ctx, taskID, m.now().UTC())
}

// Complete records a result on a running task.
func (m *Machine) Complete(ctx context.Context, taskID string, result *Result) error {
	if result == nil {
		return fmt.Errorf("complete %s: result is required", taskID)
	}
	return m.store.FinishTask(ctx, taskID, StateCompleted, result, "", m.now().UTC())
}

// Fail records a user-facing failure message on a running task.
func (m *Machine) Fail(ctx context.Context, taskID, message string) error {
	if strings.TrimSpace(message) == "" {
		message = MsgProcessingFailed
	}
	return m.store.FinishTask(ctx, taskID, StateFailed, nil, message, m.now().UTC())
}

// Reject dismisses a completed result that has not been posted.
func (m *Machine) Reject(ctx context.Context, taskID string) error {
	return m.store.RejectTask(ctx, taskID, m.now().UTC())
}

// BeginPosting reserves a pending result for delivery so that a concurrent
// reject cannot race the post.
func (m *Machine) BeginPosting(ctx context.Context, taskID string) error {
	return m.store.SetDelivery(ctx, taskID, DeliveryPending, DeliveryPosting, nil, m.now().UTC())
}

// FinishPosting marks the result as posted, optionally replacing the markdown
// with the edited text that was actually sent.
func (m *Machine) FinishPosting(ctx context.Context, taskID string, result *Result) error {
	return m.store.SetDelivery(ctx, taskID, DeliveryPosting, DeliveryPosted, result, m.now().UTC())
}

// AbortPosting returns a reserved result to pending after a failed post.
func (m *Machine) AbortPosting(ctx context.Context, taskID string) error {
	return m.store.SetDelivery(ctx, taskID, DeliveryPosting, DeliveryPending, nil, m.now().UTC())
}

// Get loads one task.
func (m *Machine) Get(ctx context.Context, taskID string) (*Task, error) {
	return m.store.GetTask(ctx, taskID)
}

// SweepStale fails tasks that have been running longer than maxAge and
// returns the tasks it failed.
func (m *Machine) SweepStale(ctx context.Context, maxAge time.Duration) ([]Task, error) {
	now := m.now().UTC()
	return m.store.FailStaleTasks(ctx, now.Add(-maxAge), MsgInterrupted, now)
}
