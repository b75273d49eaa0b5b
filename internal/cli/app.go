package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sidekick-chat/sidekick/internal/agent"
	"github.com/sidekick-chat/sidekick/internal/approval"
	"github.com/sidekick-chat/sidekick/internal/audit"
	"github.com/sidekick-chat/sidekick/internal/bus"
	"github.com/sidekick-chat/sidekick/internal/channels"
	"github.com/sidekick-chat/sidekick/internal/completion"
	"github.com/sidekick-chat/sidekick/internal/config"
	"github.com/sidekick-chat/sidekick/internal/policy"
	"github.com/sidekick-chat/sidekick/internal/provider"
	"github.com/sidekick-chat/sidekick/internal/ratelimit"
	"github.com/sidekick-chat/sidekick/internal/task"
	"github.com/sidekick-chat/sidekick/internal/telemetry"
	"github.com/sidekick-chat/sidekick/internal/timeline"
)

// app holds the wired services shared by every command.
type app struct {
	cfg     *config.Config
	tl      *timeline.TimelineService
	bus     *bus.MessageBus
	tasks   *task.Machine
	engine  *agent.Engine
	review  *approval.Manager
	limits  ratelimit.Pruner
	closers []func() error
}

type appOptions struct {
	// Bus enables kicks and task events. Only serve consumes them.
	Bus     bool
	Metrics *telemetry.Metrics
}

func loadApp(opts appOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return openApp(cfg, opts)
}

func openApp(cfg *config.Config, opts appOptions) (*app, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Paths.Database), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	tl, err := timeline.NewTimelineService(cfg.Paths.Database)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, tl: tl, closers: []func() error{tl.Close}}
	if opts.Bus {
		a.bus = bus.NewMessageBus()
	}

	var rateStore ratelimit.Store = tl
	a.limits = tl
	if cfg.RateLimit.Backend == config.RateLimitBackendMemory {
		mem := ratelimit.NewMemoryStore()
		rateStore, a.limits = mem, mem
	}

	var sinks []audit.Sink
	if cfg.Kafka.Enabled && strings.TrimSpace(cfg.Kafka.AuditTopic) != "" {
		sink, err := audit.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("audit sink: %w", err)
		}
		a.closers = append(a.closers, sink.Close)
		sinks = append(sinks, sink)
	}

	store := channels.NewStoreChannel(tl)
	poster := &channels.Fanout{Primary: store}
	drafts := channels.DraftFanout{store}
	if cfg.Slack.Enabled {
		sc, err := channels.NewSlackChannel(channels.SlackConfig{
			BotToken:   cfg.Slack.BotToken,
			APIBase:    cfg.Slack.APIBase,
			ChannelMap: cfg.Slack.ChannelMap,
		}, nil)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("slack: %w", err)
		}
		poster.Mirrors = append(poster.Mirrors, sc)
		if cfg.Slack.Drafts {
			drafts = append(drafts, sc)
		}
	}

	llm := provider.NewOpenAIProvider(cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.APIBase, cfg.Model.Name)
	a.tasks = task.NewMachine(tl)
	a.engine = agent.NewEngine(agent.Options{
		Directory:   tl,
		Tasks:       a.tasks,
		Limiter:     ratelimit.NewLimiter(rateStore, ratePolicies(cfg)),
		Completer:   completion.NewGateway(llm, cfg.Model.Name, cfg.Completion.Timeout),
		Audit:       audit.NewLog(tl, sinks...),
		Policy:      policyEngine(cfg),
		Poster:      poster,
		Drafts:      drafts,
		Bus:         a.bus,
		Metrics:     opts.Metrics,
		PersistHelp: cfg.Help.Persist,
	})
	a.review = approval.NewManager(a.tasks, poster, a.bus)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

func ratePolicies(cfg *config.Config) map[ratelimit.Mode]ratelimit.Policy {
	if len(cfg.RateLimit.Policies) == 0 {
		return nil
	}
	out := make(map[ratelimit.Mode]ratelimit.Policy, len(cfg.RateLimit.Policies))
	for mode, p := range cfg.RateLimit.Policies {
		out[ratelimit.Mode(mode)] = ratelimit.Policy{
			Limit:  p.Limit,
			Window: time.Duration(p.WindowMinutes) * time.Minute,
		}
	}
	return out
}

func policyEngine(cfg *config.Config) *policy.DefaultEngine {
	return &policy.DefaultEngine{
		AllowDM:          cfg.Policy.AllowDM,
		AllowedActors:    toSet(cfg.Policy.AllowedActors),
		DisabledCommands: toSet(cfg.Policy.DisabledCommands),
	}
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]bool, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out[v] = true
		}
	}
	return out
}
