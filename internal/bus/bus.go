// Package bus connects task producers to the worker pool and broadcasts task
// state changes to interested listeners.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// AllChannels subscribes a callback to events from every channel.
const AllChannels = "*"

// TaskKick asks the worker pool to process a queued task.
type TaskKick struct {
	TaskID     string    `json:"task_id"`
	ChannelID  string    `json:"channel_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// TaskEvent reports a task state change.
type TaskEvent struct {
	TaskID    string    `json:"task_id"`
	ChannelID string    `json:"channel_id"`
	ActorID   string    `json:"actor_id"`
	State     string    `json:"state"`
	Delivery  string    `json:"delivery,omitempty"`
	Failure   string    `json:"failure,omitempty"`
	At        time.Time `json:"at"`
}

// MessageBus decouples intake from processing.
type MessageBus struct {
	kicks   chan *TaskKick
	events  chan *TaskEvent
	subs    map[string][]func(*TaskEvent)
	running bool
	mu      sync.RWMutex
}

// NewMessageBus creates a new message bus.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		kicks:  make(chan *TaskKick, 100),
		events: make(chan *TaskEvent, 100),
		subs:   make(map[string][]func(*TaskEvent)),
	}
}

// PublishKick queues a task for the worker pool. It never blocks: when the
// buffer is full the kick is dropped and the worker's poll picks the task up.
func (b *MessageBus) PublishKick(k *TaskKick) bool {
	if k.EnqueuedAt.IsZero() {
		k.EnqueuedAt = time.Now()
	}
	select {
	case b.kicks <- k:
		return true
	default:
		slog.Warn("Task kick dropped, queue full", "task_id", k.TaskID)
		return false
	}
}

// ConsumeKick blocks until a kick is available or context is cancelled.
func (b *MessageBus) ConsumeKick(ctx context.Context) (*TaskKick, error) {
	select {
	case k := <-b.kicks:
		return k, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PublishEvent broadcasts a task state change. Events are informational and
// are dropped when nobody drains the queue.
func (b *MessageBus) PublishEvent(e *TaskEvent) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	select {
	case b.events <- e:
	default:
		slog.Debug("Task event dropped", "task_id", e.TaskID, "state", e.State)
	}
}

// Subscribe registers a callback for events of one channel, or AllChannels.
func (b *MessageBus) Subscribe(channelID string, callback func(*TaskEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[channelID] = append(b.subs[channelID], callback)
}

// DispatchEvents runs the event dispatcher.
// This should be run as a goroutine.
func (b *MessageBus) DispatchEvents(ctx context.Context) error {
	b.mu.Lock()
	b.running = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-b.events:
			b.mu.RLock()
			callbacks := append([]func(*TaskEvent){}, b.subs[e.ChannelID]...)
			callbacks = append(callbacks, b.subs[AllChannels]...)
			b.mu.RUnlock()

			for _, cb := range callbacks {
				cb(e)
			}
		}
	}
}

// Running reports whether the dispatcher is active.
func (b *MessageBus) Running() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// KickQueueSize returns the number of pending kicks.
func (b *MessageBus) KickQueueSize() int {
	return len(b.kicks)
}

// EventQueueSize returns the number of pending events.
func (b *MessageBus) EventQueueSize() int {
	return len(b.events)
}
