// Package approval lets the requesting user accept or reject a completed
// agent result before anything is posted to the conversation.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sidekick-chat/sidekick/internal/bus"
	"github.com/sidekick-chat/sidekick/internal/channels"
	"github.com/sidekick-chat/sidekick/internal/task"
)

var (
	ErrNotReviewer   = errors.New("only the requesting user can review this result")
	ErrNotReviewable = errors.New("result is no longer awaiting review")
)

// StuckDeliveryResetter returns reservations abandoned by a crashed process
// to pending.
type StuckDeliveryResetter interface {
	ResetStuckDeliveries(ctx context.Context, cutoff time.Time) (int64, error)
}

// Manager handles review: accept posts the result, reject dismisses it.
type Manager struct {
	tasks  *task.Machine
	poster channels.Poster
	bus    *bus.MessageBus
}

// NewManager creates a review manager. Bus may be nil.
func NewManager(tasks *task.Machine, poster channels.Poster, b *bus.MessageBus) *Manager {
	return &Manager{tasks: tasks, poster: poster, bus: b}
}

// RecoverStuck resets deliveries left in posting for longer than maxAge.
// These are leftovers from a process that died between reserving and posting.
func (m *Manager) RecoverStuck(ctx context.Context, r StuckDeliveryResetter, maxAge time.Duration) {
	n, err := r.ResetStuckDeliveries(ctx, time.Now().Add(-maxAge))
	if err != nil {
		slog.Warn("Reset stuck deliveries failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("Reset stuck deliveries", "count", n)
	}
}

func (m *Manager) load(ctx context.Context, taskID, reviewerID string) (*task.Task, error) {
	t, err := m.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.ActorID != reviewerID {
		return nil, ErrNotReviewer
	}
	if !t.Reviewable() {
		return nil, fmt.Errorf("%w: state=%s delivery=%s", ErrNotReviewable, t.State, t.Delivery)
	}
	return t, nil
}

// Accept posts the result, optionally replaced by edited markdown, into the
// task's conversation and marks it posted.
func (m *Manager) Accept(ctx context.Context, taskID, reviewerID, edited string) (*task.Task, error) {
	t, err := m.load(ctx, taskID, reviewerID)
	if err != nil {
		return nil, err
	}
	if t.Result == nil {
		return nil, fmt.Errorf("%w: task has no result", ErrNotReviewable)
	}
	if err := m.tasks.BeginPosting(ctx, taskID); err != nil {
		if errors.Is(err, task.ErrInvalidTransition) {
			return nil, fmt.Errorf("%w: %v", ErrNotReviewable, err)
		}
		return nil, err
	}

	result := *t.Result
	if text := strings.TrimSpace(edited); text != "" {
		result.Markdown = text
	}
	msgID, err := m.poster.Post(ctx, channels.Post{
		ChannelID: t.ChannelID,
		ActorID:   reviewerID,
		Text:      result.Markdown,
		TaskID:    taskID,
	})
	if err != nil {
		if aerr := m.tasks.AbortPosting(ctx, taskID); aerr != nil {
			slog.Error("Release delivery reservation failed", "task_id", taskID, "error", aerr)
		}
		return nil, fmt.Errorf("post result: %w", err)
	}
	if err := m.tasks.FinishPosting(ctx, taskID, &result); err != nil {
		return nil, fmt.Errorf("mark posted: %w", err)
	}
	slog.Info("Result posted", "task_id", taskID, "channel", t.ChannelID, "message_id", msgID, "edited", result.Markdown != t.Result.Markdown)

	t.Result = &result
	t.Delivery = task.DeliveryPosted
	m.publish(t)
	return t, nil
}

// Reject dismisses the result without posting.
func (m *Manager) Reject(ctx context.Context, taskID, reviewerID string) (*task.Task, error) {
	t, err := m.load(ctx, taskID, reviewerID)
	if err != nil {
		return nil, err
	}
	if err := m.tasks.Reject(ctx, taskID); err != nil {
		if errors.Is(err, task.ErrInvalidTransition) {
			return nil, fmt.Errorf("%w: %v", ErrNotReviewable, err)
		}
		return nil, err
	}
	slog.Info("Result rejected", "task_id", taskID, "channel", t.ChannelID)
	t.State = task.StateRejected
	t.Delivery = task.DeliveryDismissed
	m.publish(t)
	return t, nil
}

func (m *Manager) publish(t *task.Task) {
	if m.bus == nil {
		return
	}
	m.bus.PublishEvent(&bus.TaskEvent{
		TaskID:    t.TaskID,
		ChannelID: t.ChannelID,
		ActorID:   t.ActorID,
		State:     string(t.State),
		Delivery:  string(t.Delivery),
	})
}
