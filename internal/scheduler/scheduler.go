// Package scheduler runs periodic housekeeping jobs. A host-wide file lock
// ensures only one process on the machine runs a given tick.
package scheduler

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Job is a named periodic task.
type Job struct {
	Name string
	// Every is the minimum interval between runs.
	Every time.Duration
	Run   func(ctx context.Context, now time.Time) error

	lastRun time.Time
	runs    int
	lastErr error
}

// JobStatus is a snapshot of one job for status output.
type JobStatus struct {
	Name      string        `json:"name"`
	Every     time.Duration `json:"every"`
	LastRun   time.Time     `json:"last_run,omitempty"`
	Runs      int           `json:"runs"`
	LastError string        `json:"last_error,omitempty"`
}

// Config holds scheduler settings.
type Config struct {
	Enabled      bool
	TickInterval time.Duration
	LockPath     string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Enabled:      true,
		TickInterval: 30 * time.Second,
		LockPath:     filepath.Join(home, ".sidekick", "housekeeping.lock"),
	}
}

// Scheduler evaluates registered jobs on every tick.
type Scheduler struct {
	cfg  Config
	jobs map[string]*Job
	mu   sync.Mutex
	lock *FileLock
}

// New creates a Scheduler.
func New(cfg Config) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	if cfg.LockPath == "" {
		cfg.LockPath = DefaultConfig().LockPath
	}
	return &Scheduler{
		cfg:  cfg,
		jobs: make(map[string]*Job),
		lock: NewFileLock(cfg.LockPath),
	}
}

// Register adds a job. A job with the same name replaces the old one.
func (s *Scheduler) Register(job *Job) {
	if job.Every <= 0 {
		job.Every = s.cfg.TickInterval
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Name] = job
	slog.Info("Scheduler job registered", "name", job.Name, "every", job.Every)
}

// Jobs returns a snapshot sorted by name.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		st := JobStatus{Name: j.Name, Every: j.Every, LastRun: j.lastRun, Runs: j.runs}
		if j.lastErr != nil {
			st.LastError = j.lastErr.Error()
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Run starts the tick loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.cfg.Enabled {
		slog.Info("Scheduler disabled")
		<-ctx.Done()
		return ctx.Err()
	}
	if err := os.MkdirAll(filepath.Dir(s.cfg.LockPath), 0o700); err != nil {
		slog.Warn("Scheduler lock directory unavailable", "path", s.cfg.LockPath, "error", err)
	}
	slog.Info("Scheduler started", "tick", s.cfg.TickInterval, "jobs", len(s.Jobs()))
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopped")
			return ctx.Err()
		case t := <-ticker.C:
			s.tick(ctx, t)
		}
	}
}

// tick runs every due job while holding the host lock. Returns the number of
// jobs that ran.
func (s *Scheduler) tick(ctx context.Context, now time.Time) int {
	acquired, err := s.lock.TryLock()
	if err != nil {
		slog.Warn("Scheduler lock error", "error", err)
		return 0
	}
	if !acquired {
		slog.Debug("Scheduler tick skipped: lock held by another process")
		return 0
	}
	defer s.lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	ran := 0
	for _, job := range s.jobs {
		if !job.lastRun.IsZero() && now.Sub(job.lastRun) < job.Every {
			continue
		}
		if ctx.Err() != nil {
			return ran
		}
		start := time.Now()
		err := job.Run(ctx, now)
		job.lastRun = now
		job.runs++
		job.lastErr = err
		ran++
		if err != nil {
			slog.Warn("Scheduler job failed", "job", job.Name, "error", err)
			continue
		}
		slog.Debug("Scheduler job finished", "job", job.Name, "elapsed", time.Since(start))
	}
	return ran
}
