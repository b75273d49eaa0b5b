package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sidekick-chat/sidekick/internal/agentmode"
	"github.com/sidekick-chat/sidekick/internal/audit"
	"github.com/sidekick-chat/sidekick/internal/bus"
	"github.com/sidekick-chat/sidekick/internal/channels"
	"github.com/sidekick-chat/sidekick/internal/citation"
	"github.com/sidekick-chat/sidekick/internal/completion"
	"github.com/sidekick-chat/sidekick/internal/ratelimit"
	"github.com/sidekick-chat/sidekick/internal/task"
	"github.com/sidekick-chat/sidekick/internal/timeline"
	"github.com/sidekick-chat/sidekick/internal/transcript"
)

type stubCompleter struct {
	mu    sync.Mutex
	calls int
	reply func(req completion.Request) (*completion.Result, error)
}

func (s *stubCompleter) Complete(_ context.Context, req completion.Request) (*completion.Result, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.reply != nil {
		return s.reply(req)
	}
	return &completion.Result{Markdown: "ok", Citations: []citation.Citation{}}, nil
}

func (s *stubCompleter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingPoster struct {
	mu    sync.Mutex
	posts []channels.Post
	err   error
}

func (p *recordingPoster) Name() string { return "recording" }

func (p *recordingPoster) Post(_ context.Context, post channels.Post) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.posts = append(p.posts, post)
	return fmt.Sprintf("posted-%d", len(p.posts)), nil
}

type recordingDrafts struct {
	mu     sync.Mutex
	drafts []channels.Draft
}

func (d *recordingDrafts) Name() string { return "recording" }

func (d *recordingDrafts) Draft(_ context.Context, draft channels.Draft) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drafts = append(d.drafts, draft)
	return nil
}

type fixture struct {
	tl        *timeline.TimelineService
	engine    *Engine
	bus       *bus.MessageBus
	completer *stubCompleter
	poster    *recordingPoster
	drafts    *recordingDrafts
}

func newTestTimeline(t *testing.T) *timeline.TimelineService {
	t.Helper()
	dir := t.TempDir()
	svc, err := timeline.NewTimelineService(filepath.Join(dir, "timeline.db"))
	if err != nil {
		t.Fatalf("failed to create timeline service: %v", err)
	}
	t.Cleanup(func() {
		_ = svc.Close()
		_ = os.RemoveAll(dir)
	})
	return svc
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tl := newTestTimeline(t)
	f := &fixture{
		tl:        tl,
		bus:       bus.NewMessageBus(),
		completer: &stubCompleter{},
		poster:    &recordingPoster{},
		drafts:    &recordingDrafts{},
	}
	f.useStore(tl)
	return f
}

// useStore rebuilds the engine with store behind the task machine.
func (f *fixture) useStore(store task.Store) {
	f.engine = NewEngine(Options{
		Directory: f.tl,
		Tasks:     task.NewMachine(store),
		Limiter:   ratelimit.NewLimiter(f.tl, nil),
		Completer: f.completer,
		Audit:     audit.NewLog(f.tl),
		Poster:    f.poster,
		Drafts:    f.drafts,
		Bus:       f.bus,
	})
}

// brokenStore fails task writes chosen by the test and passes the rest
// through to the timeline.
type brokenStore struct {
	*timeline.TimelineService
	create bool
	finish map[task.State]bool
}

var errDiskFull = errors.New("database or disk is full")

func (s *brokenStore) CreateTask(ctx context.Context, t *task.Task) error {
	if s.create {
		return errDiskFull
	}
	return s.TimelineService.CreateTask(ctx, t)
}

func (s *brokenStore) FinishTask(ctx context.Context, taskID string, to task.State, result *task.Result, failure string, now time.Time) error {
	if s.finish[to] {
		return errDiskFull
	}
	return s.TimelineService.FinishTask(ctx, taskID, to, result, failure, now)
}

// seed creates a channel with members ann, bob and cy and n messages
// alternating between ann and bob, newest one minute ago.
func (f *fixture) seed(t *testing.T, channelID string, isDM bool, n int) {
	t.Helper()
	ctx := context.Background()
	for id, name := range map[string]string{"u-ann": "ann", "u-bob": "bob", "u-cy": "cy"} {
		if err := f.tl.UpsertProfile(ctx, id, name); err != nil {
			t.Fatalf("profile: %v", err)
		}
	}
	ch := transcript.Channel{ID: channelID, Name: channelID, IsDM: isDM, AgentEnabled: true}
	if isDM {
		ch.DMUserA, ch.DMUserB = "u-ann", "u-bob"
	}
	if err := f.tl.UpsertChannel(ctx, ch); err != nil {
		t.Fatalf("channel: %v", err)
	}
	if !isDM {
		for _, u := range []string{"u-ann", "u-bob", "u-cy"} {
			if err := f.tl.AddMember(ctx, channelID, u); err != nil {
				t.Fatalf("member: %v", err)
			}
		}
	}
	base := time.Now().UTC().Add(-time.Duration(n+1) * time.Minute)
	authors := []string{"u-ann", "u-bob"}
	for i := 0; i < n; i++ {
		m := transcript.Message{
			ID:        fmt.Sprintf("%s-m%03d", channelID, i),
			ChannelID: channelID,
			AuthorID:  authors[i%2],
			Text:      fmt.Sprintf("message %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := f.tl.InsertMessage(ctx, &m); err != nil {
			t.Fatalf("message: %v", err)
		}
	}
}

func (f *fixture) auditActions(t *testing.T, channelID string) []audit.Action {
	t.Helper()
	entries, err := f.tl.ListAudit(context.Background(), audit.Filter{ChannelID: channelID})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	out := make([]audit.Action, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i].Action)
	}
	return out
}

func (f *fixture) getTask(t *testing.T, id string) *task.Task {
	t.Helper()
	tk, err := f.engine.Tasks().Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	return tk
}

func TestSummaryRunsToCompletion(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "c1", false, 12)
	f.completer.reply = func(req completion.Request) (*completion.Result, error) {
		if req.Mode != completion.ModeSummarize {
			t.Errorf("mode = %s, want summarize", req.Mode)
		}
		if len(req.Transcript.Lines) != 12 {
			t.Errorf("transcript has %d lines, want 12", len(req.Transcript.Lines))
		}
		return &completion.Result{
			Markdown:  "- decided things",
			Citations: []citation.Citation{{MessageID: "c1-m003"}, {MessageID: "made-up"}, {MessageID: "c1-m003"}},
		}, nil
	}
	ctx := context.Background()

	resp, err := f.engine.RunCommand(ctx, CommandRequest{ChannelID: "c1", ActorID: "u-ann", Command: "/summary"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resp.State != task.StateQueued || resp.TaskID == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if f.bus.KickQueueSize() != 1 {
		t.Fatalf("expected a kick on the bus, got %d", f.bus.KickQueueSize())
	}

	if err := f.engine.ProcessTask(ctx, resp.TaskID); err != nil {
		t.Fatalf("process: %v", err)
	}
	got := f.getTask(t, resp.TaskID)
	if got.State != task.StateCompleted {
		t.Fatalf("state = %s, want completed", got.State)
	}
	if got.Args.Last != task.DefaultLast {
		t.Fatalf("last = %d, want default %d", got.Args.Last, task.DefaultLast)
	}
	if len(got.Result.Citations) != 1 || got.Result.Citations[0].MessageID != "c1-m003" {
		t.Fatalf("citations not filtered: %+v", got.Result.Citations)
	}
	if got.Result.Scope != task.ScopeChannel {
		t.Fatalf("scope = %s", got.Result.Scope)
	}
	actions := f.auditActions(t, "c1")
	if len(actions) != 2 || actions[0] != audit.ActionAdmitted || actions[1] != audit.ActionCompleted {
		t.Fatalf("audit = %v, want [admitted completed]", actions)
	}
}

func TestCompleteWriteFailureFailsTaskWithAIError(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "c1", false, 10)
	f.useStore(&brokenStore{TimelineService: f.tl, finish: map[task.State]bool{task.StateCompleted: true}})
	ctx := context.Background()

	resp, err := f.engine.RunCommand(ctx, CommandRequest{ChannelID: "c1", ActorID: "u-ann", Command: "summary"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := f.engine.ProcessTask(ctx, resp.TaskID); err != nil {
		t.Fatalf("process: %v", err)
	}

	got := f.getTask(t, resp.TaskID)
	if got.State != task.StateFailed || got.Failure != task.MsgProcessingFailed {
		t.Fatalf("state=%s failure=%q, want failed/processing", got.State, got.Failure)
	}
	entries, err := f.tl.ListAudit(ctx, audit.Filter{ChannelID: "c1", Action: audit.ActionAIError})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one ai_error entry, got %d", len(entries))
	}
	meta := entries[0].Metadata
	if meta["reason"] != "persistence" || meta["error"] != errDiskFull.Error() || meta["task_id"] != resp.TaskID {
		t.Fatalf("unexpected ai_error metadata: %+v", meta)
	}
	actions := f.auditActions(t, "c1")
	if len(actions) != 2 || actions[0] != audit.ActionAdmitted || actions[1] != audit.ActionAIError {
		t.Fatalf("audit = %v, want [admitted ai_error]", actions)
	}
}

func TestFinishWriteFailureStillAudits(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "c1", false, 10)
	f.useStore(&brokenStore{TimelineService: f.tl, finish: map[task.State]bool{
		task.StateCompleted: true,
		task.StateFailed:    true,
	}})
	ctx := context.Background()

	resp, err := f.engine.RunCommand(ctx, CommandRequest{ChannelID: "c1", ActorID: "u-ann", Command: "summary"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := f.engine.ProcessTask(ctx, resp.TaskID); !errors.Is(err, errDiskFull) {
		t.Fatalf("process error = %v, want disk full", err)
	}
	entries, err := f.tl.ListAudit(ctx, audit.Filter{ChannelID: "c1", Action: audit.ActionAIError})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 1 || entries[0].Metadata["fail_error"] != errDiskFull.Error() {
		t.Fatalf("expected one ai_error entry with fail_error, got %+v", entries)
	}
}

func TestCompleteAfterSweepDoesNotAuditTwice(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "c1", false, 10)
	ctx := context.Background()

	resp, err := f.engine.RunCommand(ctx, CommandRequest{ChannelID: "c1", ActorID: "u-ann", Command: "summary"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// The sweep fails the task while the model call is in flight.
	f.completer.reply = func(completion.Request) (*completion.Result, error) {
		swept, err := f.engine.Tasks().SweepStale(ctx, -time.Minute)
		if err != nil || len(swept) != 1 {
			t.Errorf("sweep = %v, %v", swept, err)
		}
		for i := range swept {
			f.engine.interrupted(ctx, &swept[i])
		}
		return &completion.Result{Markdown: "late", Citations: []citation.Citation{}}, nil
	}
	if err := f.engine.ProcessTask(ctx, resp.TaskID); err != nil {
		t.Fatalf("process: %v", err)
	}

	got := f.getTask(t, resp.TaskID)
	if got.State != task.StateFailed || got.Failure != task.MsgInterrupted {
		t.Fatalf("state=%s failure=%q, want failed/interrupted", got.State, got.Failure)
	}
	actions := f.auditActions(t, "c1")
	if len(actions) != 2 || actions[0] != audit.ActionAdmitted || actions[1] != audit.ActionFailed {
		t.Fatalf("audit = %v, want [admitted failed]", actions)
	}
}

func TestEnqueueFailureAuditsAIError(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "c1", false, 10)
	f.useStore(&brokenStore{TimelineService: f.tl, create: true})
	ctx := context.Background()

	if _, err := f.engine.RunCommand(ctx, CommandRequest{ChannelID: "c1", ActorID: "u-ann", Command: "summary"}); !errors.Is(err, errDiskFull) {
		t.Fatalf("run error = %v, want disk full", err)
	}
	entries, err := f.tl.ListAudit(ctx, audit.Filter{ChannelID: "c1"})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != audit.ActionAIError || entries[0].Metadata["reason"] != "persistence" {
		t.Fatalf("expected a single persistence ai_error entry, got %+v", entries)
	}
}

func TestOnlyFabricatedCitationsStillCompletes(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "c1", false, 8)
	f.completer.reply = func(completion.Request) (*completion.Result, error) {
		return &completion.Result{Markdown: "x", Citations: []citation.Citation{{MessageID: "nope"}}}, nil
	}
	ctx := context.Background()
	resp, err := f.engine.RunCommand(ctx, CommandRequest{ChannelID: "c1", ActorID: "u-ann", Command: "tasks"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := f.engine.ProcessTask(ctx, resp.TaskID); err != nil {
		t.Fatalf("process: %v", err)
	}
	got := f.getTask(t, resp.TaskID)
	if got.State != task.StateCompleted || got.Result == nil || len(got.Result.Citations) != 0 {
		t.Fatalf("expected completed with no citations, got %+v", got)
	}
}

func TestTasksCommandSendsOwners(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "c1", false, 8)
	f.completer.reply = func(req completion.Request) (*completion.Result, error) {
		if req.Mode != completion.ModeExtractTasks {
			t.Errorf("mode = %s", req.Mode)
		}
		if len(req.Transcript.Owners) != 3 {
			t.Errorf("owners = %v, want all three members", req.Transcript.Owners)
		}
		return &completion.Result{Markdown: "- [ ] ship", Citations: []citation.Citation{}}, nil
	}
	ctx := context.Background()
	resp, err := f.engine.RunCommand(ctx, CommandRequest{ChannelID: "c1", ActorID: "u-bob", Command: "tasks", Args: task.Args{Last: 20}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := f.engine.ProcessTask(ctx, resp.TaskID); err != nil {
		t.Fatalf("process: %v", err)
	}
	if f.completer.Calls() != 1 {
		t.Fatalf("expected one completion call, got %d", f.completer.Calls())
	}
}

func TestInsufficientContextFailsTask(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "c1", false, 4)
	ctx := context.Background()

	resp, err := f.engine.RunCommand(ctx, CommandRequest{ChannelID: "c1", ActorID: "u-ann", Command: "summary", Args: task.Args{Last: 5}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := f.engine.ProcessTask(ctx, resp.TaskID); err != nil {
		t.Fatalf("process: %v", err)
	}
	got := f.getTask(t, resp.TaskID)
	if got.State != task.StateFailed || got.Failure != task.MsgInsufficientContext {
		t.Fatalf("expected insufficient context failure, got state=%s failure=%q", got.State, got.Failure)
	}
	if f.completer.Calls() != 0 {
		t.Fatal("completion must not be called without enough context")
	}
	actions := f.auditActions(t, "c1")
	if actions[len(actions)-1] != audit.ActionFailed {
		t.Fatalf("audit = %v, want trailing failed", actions)
	}
}

func TestCompletionErrorFailsWithCatalogueMessage(t *testing.T) {
	cases := map[completion.Kind]string{
		completion.KindFormat:  task.MsgFormatError,
		completion.KindTimeout: task.MsgServiceUnavailable,
		completion.KindService: task.MsgProcessingFailed,
	}
	for kind, want := range cases {
		t.Run(string(kind), func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, "c1", false, 10)
			f.completer.reply = func(completion.Request) (*completion.Result, error) {
				return nil, &completion.Error{Kind: kind, Err: errors.New("upstream said 500: secret detail")}
			}
			ctx := context.Background()
			resp, err := f.engine.RunCommand(ctx, CommandRequest{ChannelID: "c1", ActorID: "u-ann", Command: "summary"})
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if err := f.engine.ProcessTask(ctx, resp.TaskID); err != nil {
				t.Fatalf("process: %v", err)
			}
			got := f.getTask(t, resp.TaskID)
			if got.State != task.StateFailed || got.Failure != want {
				t.Fatalf("got state=%s failure=%q, want %q", got.State, got.Failure, want)
			}
			actions := f.auditActions(t, "c1")
			if actions[len(actions)-1] != audit.ActionAIError {
				t.Fatalf("audit = %v, want trailing ai_error", actions)
			}
		})
	}
}

func TestDMOnDemandRateLimit(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "dm1", true, 10)
	ctx := context.Background()
	req := CommandRequest{ChannelID: "dm1", ActorID: "u-ann", Command: "summary"}

	for i := 0; i < 2; i++ {
		if _, err := f.engine.RunCommand(ctx, req); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
	resp, err := f.engine.RunCommand(ctx, req)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("third request err = %v, want ErrRateLimited", err)
	}
	if resp.Cooldown != task.MsgCooldown || resp.RetryAfter <= 0 {
		t.Fatalf("unexpected cooldown response: %+v", resp)
	}
	actions := f.auditActions(t, "dm1")
	want := []audit.Action{audit.ActionAdmitted, audit.ActionAdmitted, audit.ActionRateLimited}
	if fmt.Sprint(actions) != fmt.Sprint(want) {
		t.Fatalf("audit = %v, want %v", actions, want)
	}

	queued, err := f.tl.ListQueuedTasks(ctx, 10)
	if err != nil || len(queued) != 2 {
		t.Fatalf("expected 2 queued tasks, got %d err=%v", len(queued), err)
	}
}

func TestHelpIgnoresRateLimit(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "dm1", true, 10)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = f.engine.RunCommand(ctx, CommandRequest{ChannelID: "dm1", ActorID: "u-ann", Command: "summary"})
	}

	resp, err := f.engine.RunCommand(ctx, CommandRequest{ChannelID: "dm1", ActorID: "u-ann", Command: "/help"})
	if err != nil {
		t.Fatalf("help: %v", err)
	}
	if resp.State != task.StateCompleted || resp.Result == nil || resp.Result.Scope != task.ScopeDM {
		t.Fatalf("unexpected help response: %+v", resp)
	}
	if resp.TaskID != "" {
		t.Fatal("help should not create a task unless persistence is enabled")
	}
}

func TestHelpPersisted(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "c1", false, 1)
	f.engine.persistHelp = true
	resp, err := f.engine.RunCommand(context.Background(), CommandRequest{ChannelID: "c1", ActorID: "u-cy", Command: "help"})
	if err != nil {
		t.Fatalf("help: %v", err)
	}
	got := f.getTask(t, resp.TaskID)
	if got.State != task.StateCompleted || got.Command != task.CommandHelp {
		t.Fatalf("unexpected help task: %+v", got)
	}
}

func TestNonMemberDenied(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "c1", false, 10)
	resp, err := f.engine.RunCommand(context.Background(), CommandRequest{ChannelID: "c1", ActorID: "u-zed", Command: "summary"})
	if !errors.Is(err, ErrDenied) {
		t.Fatalf("err = %v, want ErrDenied", err)
	}
	if resp.Reason != "not_a_member" {
		t.Fatalf("reason = %q", resp.Reason)
	}
	if actions := f.auditActions(t, "c1"); len(actions) != 1 || actions[0] != audit.ActionDenied {
		t.Fatalf("audit = %v", actions)
	}
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "c1", false, 1)
	_, err := f.engine.RunCommand(context.Background(), CommandRequest{ChannelID: "c1", ActorID: "u-ann", Command: "dance"})
	if !errors.Is(err, task.ErrUnknownCommand) {
		t.Fatalf("err = %v, want ErrUnknownCommand", err)
	}
}

func TestConcurrentProcessingClaimsOnce(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "c1", false, 10)
	ctx := context.Background()
	resp, err := f.engine.RunCommand(ctx, CommandRequest{ChannelID: "c1", ActorID: "u-ann", Command: "summary"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.engine.ProcessTask(ctx, resp.TaskID); err != nil {
				t.Errorf("process: %v", err)
			}
		}()
	}
	wg.Wait()

	if f.completer.Calls() != 1 {
		t.Fatalf("completion called %d times, want 1", f.completer.Calls())
	}
	if got := f.getTask(t, resp.TaskID); got.State != task.StateCompleted {
		t.Fatalf("state = %s", got.State)
	}
}

func TestProcessingTerminalTaskIsNoop(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "c1", false, 10)
	ctx := context.Background()
	resp, _ := f.engine.RunCommand(ctx, CommandRequest{ChannelID: "c1", ActorID: "u-ann", Command: "summary"})
	if err := f.engine.ProcessTask(ctx, resp.TaskID); err != nil {
		t.Fatalf("first process: %v", err)
	}
	if err := f.engine.ProcessTask(ctx, resp.TaskID); err != nil {
		t.Fatalf("second process: %v", err)
	}
	if f.completer.Calls() != 1 {
		t.Fatalf("completion called %d times", f.completer.Calls())
	}
}

func enableAgentMode(t *testing.T, f *fixture, userID string, level agentmode.Level, expires *time.Time) {
	t.Helper()
	err := f.tl.UpsertAgentSetting(context.Background(), agentmode.Setting{
		UserID:     userID,
		Enabled:    true,
		Scope:      agentmode.ScopeBoth,
		ExpiresAt:  expires,
		Confidence: level,
	})
	if err != nil {
		t.Fatalf("agent setting: %v", err)
	}
}

func inAnHour() *time.Time {
	t := time.Now().Add(time.Hour)
	return &t
}

func (f *fixture) say(t *testing.T, channelID, authorID, text string) string {
	t.Helper()
	m := transcript.Message{ChannelID: channelID, AuthorID: authorID, Text: text}
	if err := f.tl.InsertMessage(context.Background(), &m); err != nil {
		t.Fatalf("message: %v", err)
	}
	return m.ID
}

func replyWith(conf float64, cites ...string) func(completion.Request) (*completion.Result, error) {
	return func(completion.Request) (*completion.Result, error) {
		out := &completion.Result{Markdown: "On it, will send the doc.", Confidence: &conf, Citations: []citation.Citation{}}
		for _, c := range cites {
			out.Citations = append(out.Citations, citation.Citation{MessageID: c})
		}
		return out, nil
	}
}
