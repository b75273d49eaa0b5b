package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestKickRoundTrip(t *testing.T) {
	b := NewMessageBus()
	if !b.PublishKick(&TaskKick{TaskID: "t1"}) {
		t.Fatal("kick should be accepted")
	}
	if b.KickQueueSize() != 1 {
		t.Fatalf("expected 1 queued kick, got %d", b.KickQueueSize())
	}
	k, err := b.ConsumeKick(context.Background())
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if k.TaskID != "t1" || k.EnqueuedAt.IsZero() {
		t.Fatalf("unexpected kick: %+v", k)
	}
}

func TestKickDropsWhenFull(t *testing.T) {
	b := NewMessageBus()
	for i := 0; i < cap(b.kicks); i++ {
		if !b.PublishKick(&TaskKick{TaskID: "x"}) {
			t.Fatalf("kick %d should fit", i)
		}
	}
	if b.PublishKick(&TaskKick{TaskID: "overflow"}) {
		t.Fatal("kick beyond capacity should be dropped")
	}
}

func TestConsumeKickCancelled(t *testing.T) {
	b := NewMessageBus()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.ConsumeKick(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDispatchEventsRoutesByChannel(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := NewMessageBus()
	var mu sync.Mutex
	var c1, all []string
	done := make(chan struct{}, 3)
	b.Subscribe("c1", func(e *TaskEvent) {
		mu.Lock()
		c1 = append(c1, e.TaskID)
		mu.Unlock()
		done <- struct{}{}
	})
	b.Subscribe(AllChannels, func(e *TaskEvent) {
		mu.Lock()
		all = append(all, e.TaskID)
		mu.Unlock()
		done <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = b.DispatchEvents(ctx)
		close(stopped)
	}()

	b.PublishEvent(&TaskEvent{TaskID: "t1", ChannelID: "c1", State: "completed"})
	b.PublishEvent(&TaskEvent{TaskID: "t2", ChannelID: "c2", State: "failed"})

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	cancel()
	<-stopped

	mu.Lock()
	defer mu.Unlock()
	if len(c1) != 1 || c1[0] != "t1" {
		t.Fatalf("c1 subscriber got %v", c1)
	}
	if len(all) != 2 {
		t.Fatalf("wildcard subscriber should see both events, got %v", all)
	}
	if b.Running() {
		t.Fatal("dispatcher should report stopped")
	}
}
