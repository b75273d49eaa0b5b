package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sidekick-chat/sidekick/internal/agent"
	"github.com/sidekick-chat/sidekick/internal/bus"
	"github.com/sidekick-chat/sidekick/internal/config"
	"github.com/sidekick-chat/sidekick/internal/intake"
	"github.com/sidekick-chat/sidekick/internal/scheduler"
	"github.com/sidekick-chat/sidekick/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the intake API, task workers and housekeeping",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	printHeader(cmd.OutOrStdout(), "🛰️ Sidekick Serve")
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metrics *telemetry.Metrics
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Setup(ctx, os.Stderr, cfg.Telemetry.Interval)
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
		if metrics, err = telemetry.New(nil); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}

	a, err := openApp(cfg, appOptions{Bus: true, Metrics: metrics})
	if err != nil {
		return err
	}
	defer a.Close()

	a.bus.Subscribe(bus.AllChannels, func(e *bus.TaskEvent) {
		slog.Debug("Task event", "task_id", e.TaskID, "channel", e.ChannelID, "state", e.State, "delivery", e.Delivery)
	})

	worker := agent.NewWorker(a.engine, a.bus, agent.WorkerConfig{
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
		StaleAfter:   cfg.Worker.StaleAfter,
	})

	sched := scheduler.New(scheduler.Config{
		Enabled:      cfg.Scheduler.Enabled,
		TickInterval: cfg.Scheduler.TickInterval,
		LockPath:     cfg.Scheduler.LockPath,
	})
	for _, job := range housekeepingJobs(a) {
		sched.Register(job)
	}

	server := intake.NewServer(intake.Options{
		Engine:             a.engine,
		Review:             a.review,
		Store:              a.tl,
		Bus:                a.bus,
		AuthToken:          cfg.Gateway.AuthToken,
		SlackSigningSecret: slackSecret(cfg),
		SlackChannels:      invert(cfg.Slack.ChannelMap),
		Version:            version,
	})
	addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.bus.DispatchEvents(gctx) })
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return server.ListenAndServe(gctx, addr) })
	if cfg.Kafka.Enabled {
		consumer := intake.NewKafkaConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.TriggerTopic, intake.NewDispatcher(a.engine))
		g.Go(func() error { return consumer.Run(gctx) })
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Listening on http://%s (workers=%d, kafka=%v, slack=%v)\n",
		addr, cfg.Worker.Concurrency, cfg.Kafka.Enabled, cfg.Slack.Enabled)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("Serve: shut down cleanly")
	return nil
}

// housekeepingJobs returns the periodic maintenance jobs run by the scheduler.
func housekeepingJobs(a *app) []*scheduler.Job {
	return []*scheduler.Job{
		{
			Name:  "ratelimit-prune",
			Every: a.cfg.Scheduler.PruneEvery,
			Run: func(ctx context.Context, now time.Time) error {
				n, err := a.limits.PruneRateLimits(ctx, now)
				if err != nil {
					return err
				}
				if n > 0 {
					slog.Info("Housekeeping: pruned expired rate limit windows", "count", n)
				}
				return nil
			},
		},
		{
			Name:  "stuck-deliveries",
			Every: a.cfg.Scheduler.TickInterval,
			Run: func(ctx context.Context, now time.Time) error {
				a.review.RecoverStuck(ctx, a.tl, a.cfg.Scheduler.StuckDeliveryAfter)
				return nil
			},
		},
	}
}

func slackSecret(cfg *config.Config) string {
	if !cfg.Slack.Enabled {
		return ""
	}
	return strings.TrimSpace(cfg.Slack.SigningSecret)
}

func invert(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}
