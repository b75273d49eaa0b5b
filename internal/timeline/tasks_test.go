package timeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sidekick-chat/sidekick/internal/citation"
	"github.com/sidekick-chat/sidekick/internal/task"
)

func TestTaskLifecycle(t *testing.T) {
	svc := newTestTimeline(t)
	m := task.NewMachine(svc)
	ctx := context.Background()

	tk, err := m.Enqueue(ctx, "c1", "u1", task.CommandSummary, task.Args{Last: 5})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if tk.State != task.StateQueued || tk.Args.Last != task.MinLast {
		t.Fatalf("unexpected new task: %+v", tk)
	}

	claimed, err := m.Claim(ctx, tk.TaskID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.State != task.StateRunning || claimed.ClaimedAt.IsZero() {
		t.Fatalf("expected running with claim time, got %+v", claimed)
	}

	result := &task.Result{Markdown: "done", Citations: []citation.Citation{{MessageID: "m1"}}, Scope: task.ScopeChannel}
	if err := m.Complete(ctx, tk.TaskID, result); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, err := m.Get(ctx, tk.TaskID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != task.StateCompleted || got.Result == nil || got.Result.Markdown != "done" {
		t.Fatalf("unexpected completed task: %+v", got)
	}
	if len(got.Result.Citations) != 1 || got.Result.Scope != task.ScopeChannel {
		t.Fatalf("result not persisted: %+v", got.Result)
	}

	if err := m.Fail(ctx, tk.TaskID, "late"); !errors.Is(err, task.ErrInvalidTransition) {
		t.Fatalf("completed task must not fail, got %v", err)
	}
}

func TestClaimIsExclusive(t *testing.T) {
	svc := newTestTimeline(t)
	m := task.NewMachine(svc)
	ctx := context.Background()

	tk, err := m.Enqueue(ctx, "c1", "u1", task.CommandTasks, task.Args{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	const workers = 12
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, losses := 0, 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Claim(ctx, tk.TaskID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, task.ErrNotClaimable):
				losses++
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 || losses != workers-1 {
		t.Fatalf("expected exactly one winner, got wins=%d losses=%d", wins, losses)
	}
}

func TestClaimUnknownTask(t *testing.T) {
	svc := newTestTimeline(t)
	_, err := task.NewMachine(svc).Claim(context.Background(), "nope")
	if !errors.Is(err, task.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveHelpIsCompleted(t *testing.T) {
	svc := newTestTimeline(t)
	m := task.NewMachine(svc)
	tk, err := m.Resolve(context.Background(), "c1", "u1", task.CommandHelp, &task.Result{Markdown: "help", Scope: task.ScopeDM})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	got, err := m.Get(context.Background(), tk.TaskID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != task.StateCompleted || got.CompletedAt.IsZero() || got.Result.Scope != task.ScopeDM {
		t.Fatalf("help should be stored completed: %+v", got)
	}
	if _, err := m.Claim(context.Background(), tk.TaskID); !errors.Is(err, task.ErrNotClaimable) {
		t.Fatalf("completed help must not be claimable, got %v", err)
	}
}

func TestRejectOnlyWhilePending(t *testing.T) {
	svc := newTestTimeline(t)
	m := task.NewMachine(svc)
	ctx := context.Background()

	newCompleted := func() string {
		tk, err := m.Enqueue(ctx, "c1", "u1", task.CommandSummary, task.Args{})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if _, err := m.Claim(ctx, tk.TaskID); err != nil {
			t.Fatalf("claim: %v", err)
		}
		if err := m.Complete(ctx, tk.TaskID, &task.Result{Markdown: "x"}); err != nil {
			t.Fatalf("complete: %v", err)
		}
		return tk.TaskID
	}

	a := newCompleted()
	if err := m.Reject(ctx, a); err != nil {
		t.Fatalf("reject: %v", err)
	}
	got, _ := m.Get(ctx, a)
	if got.State != task.StateRejected || got.Delivery != task.DeliveryDismissed {
		t.Fatalf("unexpected rejected task: %+v", got)
	}

	b := newCompleted()
	if err := m.BeginPosting(ctx, b); err != nil {
		t.Fatalf("begin posting: %v", err)
	}
	if err := m.Reject(ctx, b); !errors.Is(err, task.ErrInvalidTransition) {
		t.Fatalf("reject during posting should fail, got %v", err)
	}
	if err := m.FinishPosting(ctx, b, &task.Result{Markdown: "edited"}); err != nil {
		t.Fatalf("finish posting: %v", err)
	}
	got, _ = m.Get(ctx, b)
	if got.Delivery != task.DeliveryPosted || got.Result.Markdown != "edited" {
		t.Fatalf("unexpected posted task: %+v", got)
	}
	if err := m.Reject(ctx, b); !errors.Is(err, task.ErrInvalidTransition) {
		t.Fatalf("posted task must not be rejectable, got %v", err)
	}
}

func TestSweepStaleFailsOldRunningTasks(t *testing.T) {
	svc := newTestTimeline(t)
	m := task.NewMachine(svc)
	ctx := context.Background()

	tk, _ := m.Enqueue(ctx, "c1", "u1", task.CommandSummary, task.Args{})
	if _, err := svc.ClaimTask(ctx, tk.TaskID, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("claim: %v", err)
	}
	fresh, _ := m.Enqueue(ctx, "c1", "u1", task.CommandSummary, task.Args{})
	if _, err := m.Claim(ctx, fresh.TaskID); err != nil {
		t.Fatalf("claim fresh: %v", err)
	}

	swept, err := m.SweepStale(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(swept) != 1 || swept[0].TaskID != tk.TaskID {
		t.Fatalf("expected only %s swept, got %+v", tk.TaskID, swept)
	}
	if swept[0].ActorID != "u1" || swept[0].ChannelID != "c1" || swept[0].State != task.StateFailed {
		t.Fatalf("swept task should carry actor, channel and failed state: %+v", swept[0])
	}
	got, _ := m.Get(ctx, tk.TaskID)
	if got.State != task.StateFailed || got.Failure != task.MsgInterrupted {
		t.Fatalf("stale task should fail with interrupted message: %+v", got)
	}
	got, _ = m.Get(ctx, fresh.TaskID)
	if got.State != task.StateRunning {
		t.Fatalf("fresh task should keep running, got %s", got.State)
	}
}

func TestListTasksFilters(t *testing.T) {
	svc := newTestTimeline(t)
	m := task.NewMachine(svc)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := m.Enqueue(ctx, "c1", "u1", task.CommandSummary, task.Args{}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if _, err := m.Enqueue(ctx, "c2", "u2", task.CommandTasks, task.Args{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, err := svc.ListTasks(ctx, task.ListFilter{ChannelID: "c1"})
	if err != nil || len(got) != 3 {
		t.Fatalf("expected 3 tasks in c1, got %d err=%v", len(got), err)
	}
	queued, err := svc.ListQueuedTasks(ctx, 2)
	if err != nil || len(queued) != 2 {
		t.Fatalf("expected 2 queued, got %d err=%v", len(queued), err)
	}
	counts, err := svc.TaskCounts(ctx)
	if err != nil || counts[task.StateQueued] != 4 {
		t.Fatalf("expected 4 queued in counts, got %v err=%v", counts, err)
	}
}
