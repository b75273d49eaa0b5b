package timeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sidekick-chat/sidekick/internal/ratelimit"
)

func TestAdmitDMSummaryWindow(t *testing.T) {
	svc := newTestTimeline(t)
	l := ratelimit.NewLimiter(svc, nil)
	ctx := context.Background()
	t0 := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		d, err := l.Admit(ctx, "u1", "dm1", ratelimit.ModeOnDemandDM, t0.Add(time.Duration(i)*time.Minute))
		if err != nil || !d.Admitted {
			t.Fatalf("request %d should be admitted: %+v err=%v", i, d, err)
		}
	}
	d, err := l.Admit(ctx, "u1", "dm1", ratelimit.ModeOnDemandDM, t0.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if d.Admitted {
		t.Fatal("third request within 10 minutes should be denied")
	}
	if d.Count != 2 || d.RetryAfter != 5*time.Minute {
		t.Fatalf("unexpected denial: %+v", d)
	}

	c, err := svc.RateCounter(ctx, ratelimit.Key{ActorID: "u1", ChannelID: "dm1", Mode: ratelimit.ModeOnDemandDM})
	if err != nil || c.Count != 2 {
		t.Fatalf("denied request must not change stored count: %+v err=%v", c, err)
	}

	d, err = l.Admit(ctx, "u1", "dm1", ratelimit.ModeOnDemandDM, t0.Add(10*time.Minute))
	if err != nil || !d.Admitted || d.Count != 1 {
		t.Fatalf("window should restart at expiry: %+v err=%v", d, err)
	}
	if !d.WindowExpiry.Equal(t0.Add(20 * time.Minute)) {
		t.Fatalf("unexpected new expiry %s", d.WindowExpiry)
	}
}

func TestAdmitConcurrentNeverOverruns(t *testing.T) {
	svc := newTestTimeline(t)
	l := ratelimit.NewLimiter(svc, nil)
	now := time.Now().UTC()

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Admit(context.Background(), "u1", "c1", ratelimit.ModeOnDemandChannel, now)
			if err != nil {
				t.Errorf("admit: %v", err)
				return
			}
			if d.Admitted {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := admitted.Load(); got != 3 {
		t.Fatalf("expected exactly 3 admissions, got %d", got)
	}
}

func TestPruneRateLimits(t *testing.T) {
	svc := newTestTimeline(t)
	l := ratelimit.NewLimiter(svc, nil)
	ctx := context.Background()
	old := time.Now().Add(-2 * time.Hour)
	if _, err := l.Admit(ctx, "u1", "c1", ratelimit.ModeAutoDM, old); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if _, err := l.Admit(ctx, "u2", "c1", ratelimit.ModeAutoDM, time.Now()); err != nil {
		t.Fatalf("admit: %v", err)
	}
	n, err := svc.PruneRateLimits(ctx, time.Now().Add(-time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("expected 1 pruned window, got %d err=%v", n, err)
	}
}
