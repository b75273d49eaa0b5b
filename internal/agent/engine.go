// Package agent orchestrates on-demand commands, autonomous replies and the
// processing of queued tasks.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sidekick-chat/sidekick/internal/agentmode"
	"github.com/sidekick-chat/sidekick/internal/audit"
	"github.com/sidekick-chat/sidekick/internal/bus"
	"github.com/sidekick-chat/sidekick/internal/channels"
	"github.com/sidekick-chat/sidekick/internal/completion"
	"github.com/sidekick-chat/sidekick/internal/policy"
	"github.com/sidekick-chat/sidekick/internal/ratelimit"
	"github.com/sidekick-chat/sidekick/internal/task"
	"github.com/sidekick-chat/sidekick/internal/telemetry"
	"github.com/sidekick-chat/sidekick/internal/transcript"
)

var (
	// ErrDenied is returned when policy refuses a command.
	ErrDenied = errors.New("agent request denied")
	// ErrRateLimited is returned when the actor's window is exhausted.
	ErrRateLimited = errors.New("agent rate limited")
)

// Directory is the chat store as the engine sees it.
type Directory interface {
	transcript.Source
	IsMember(ctx context.Context, channelID, userID string) (bool, error)
	GetMessage(ctx context.Context, messageID string) (*transcript.Message, error)
	MembersByDisplayName(ctx context.Context, channelID string, names []string) ([]transcript.Member, error)
	AgentSetting(ctx context.Context, userID string) (agentmode.Setting, error)
	DisplayName(ctx context.Context, userID string) (string, error)
	CountAuditActions(ctx context.Context, channelID string, action audit.Action, since time.Time) (int, error)
}

// Completer produces validated model replies. *completion.Gateway implements it.
type Completer interface {
	Complete(ctx context.Context, req completion.Request) (*completion.Result, error)
}

// Options wires an Engine.
type Options struct {
	Directory Directory
	Tasks     *task.Machine
	Limiter   *ratelimit.Limiter
	Completer Completer
	Audit     *audit.Log
	Policy    policy.Engine
	Poster    channels.Poster
	// Drafts receives low-confidence replies. Optional.
	Drafts  channels.DraftSink
	Bus     *bus.MessageBus
	Metrics *telemetry.Metrics
	// PersistHelp stores help responses as completed tasks.
	PersistHelp bool
	Now         func() time.Time
}

// Engine is the orchestration core.
type Engine struct {
	dir         Directory
	tasks       *task.Machine
	limiter     *ratelimit.Limiter
	assembler   *transcript.Assembler
	completer   Completer
	audit       *audit.Log
	policy      policy.Engine
	poster      channels.Poster
	drafts      channels.DraftSink
	bus         *bus.MessageBus
	metrics     *telemetry.Metrics
	persistHelp bool
	now         func() time.Time
}

// NewEngine creates an engine. Policy defaults to policy.NewDefaultEngine.
func NewEngine(opts Options) *Engine {
	if opts.Policy == nil {
		opts.Policy = policy.NewDefaultEngine()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		dir:         opts.Directory,
		tasks:       opts.Tasks,
		limiter:     opts.Limiter,
		assembler:   transcript.NewAssembler(opts.Directory),
		completer:   opts.Completer,
		audit:       opts.Audit,
		policy:      opts.Policy,
		poster:      opts.Poster,
		drafts:      opts.Drafts,
		bus:         opts.Bus,
		metrics:     opts.Metrics,
		persistHelp: opts.PersistHelp,
		now:         opts.Now,
	}
}

// Tasks exposes the task state machine.
func (e *Engine) Tasks() *task.Machine { return e.tasks }

// record appends an audit entry. Failures are logged by the audit log and
// never change the outcome of the operation being audited.
func (e *Engine) record(ctx context.Context, entry audit.Entry) {
	if e.audit == nil {
		return
	}
	_ = e.audit.Record(ctx, entry)
}

func (e *Engine) publish(t *task.Task, state task.State, failure string) {
	if e.bus == nil || t == nil {
		return
	}
	e.bus.PublishEvent(&bus.TaskEvent{
		TaskID:    t.TaskID,
		ChannelID: t.ChannelID,
		ActorID:   t.ActorID,
		State:     string(state),
		Delivery:  string(t.Delivery),
		Failure:   failure,
		At:        e.now().UTC(),
	})
}

func (e *Engine) kick(t *task.Task) {
	if e.bus == nil {
		return
	}
	if !e.bus.PublishKick(&bus.TaskKick{TaskID: t.TaskID, ChannelID: t.ChannelID, EnqueuedAt: t.CreatedAt}) {
		slog.Debug("Engine: kick dropped, worker poll will pick it up", "task_id", t.TaskID)
	}
}
