package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sidekick-chat/sidekick/internal/agent"
	"github.com/sidekick-chat/sidekick/internal/approval"
	"github.com/sidekick-chat/sidekick/internal/audit"
	"github.com/sidekick-chat/sidekick/internal/channels"
	"github.com/sidekick-chat/sidekick/internal/citation"
	"github.com/sidekick-chat/sidekick/internal/completion"
	"github.com/sidekick-chat/sidekick/internal/ratelimit"
	"github.com/sidekick-chat/sidekick/internal/task"
	"github.com/sidekick-chat/sidekick/internal/timeline"
	"github.com/sidekick-chat/sidekick/internal/transcript"
)

const testToken = "s3cret"

type fixedCompleter struct{}

func (fixedCompleter) Complete(_ context.Context, req completion.Request) (*completion.Result, error) {
	return &completion.Result{
		Markdown:   "- shipped the release",
		Citations:  []citation.Citation{{MessageID: req.Transcript.Lines[0].MessageID}},
		Confidence: audit.Confidence(0.9),
	}, nil
}

type testEnv struct {
	tl     *timeline.TimelineService
	engine *agent.Engine
	srv    *httptest.Server
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

func newTestEnv(t *testing.T, slackSecret string) *testEnv {
	t.Helper()
	tl := newTestTimeline(t)
	store := channels.NewStoreChannel(tl)
	tasks := task.NewMachine(tl)
	engine := agent.NewEngine(agent.Options{
		Directory: tl,
		Tasks:     tasks,
		Limiter:   ratelimit.NewLimiter(tl, nil),
		Completer: fixedCompleter{},
		Audit:     audit.NewLog(tl),
		Poster:    store,
		Drafts:    store,
	})
	s := NewServer(Options{
		Engine:             engine,
		Review:             approval.NewManager(tasks, store, nil),
		Store:              tl,
		AuthToken:          testToken,
		SlackSigningSecret: slackSecret,
		SlackChannels:      map[string]string{"C01": "c1"},
		Version:            "test",
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	env := &testEnv{tl: tl, engine: engine, srv: srv}
	env.seed(t, "c1", false)
	env.seed(t, "dm1", true)
	return env
}

func (e *testEnv) seed(t *testing.T, channelID string, isDM bool) {
	t.Helper()
	ctx := context.Background()
	ch := transcript.Channel{ID: channelID, Name: channelID, IsDM: isDM, AgentEnabled: true}
	if isDM {
		ch.DMUserA, ch.DMUserB = "u-ann", "u-bob"
	}
	if err := e.tl.UpsertChannel(ctx, ch); err != nil {
		t.Fatalf("channel: %v", err)
	}
	if !isDM {
		for _, u := range []string{"u-ann", "u-bob"} {
			if err := e.tl.AddMember(ctx, channelID, u); err != nil {
				t.Fatalf("member: %v", err)
			}
		}
	}
	base := time.Now().UTC().Add(-30 * time.Minute)
	for i := 0; i < 12; i++ {
		m := transcript.Message{
			ID:        fmt.Sprintf("%s-m%03d", channelID, i),
			ChannelID: channelID,
			AuthorID:  []string{"u-ann", "u-bob"}[i%2],
			Text:      fmt.Sprintf("message %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := e.tl.InsertMessage(ctx, &m); err != nil {
			t.Fatalf("message: %v", err)
		}
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestStatusIsPublic(t *testing.T) {
	env := newTestEnv(t, "")
	resp, err := http.Get(env.srv.URL + "/api/v1/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]any
	decodeBody(t, resp, &body)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	env := newTestEnv(t, "")
	resp, err := http.Post(env.srv.URL+"/api/v1/agent/run", "application/json", bytes.NewBufferString(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestRunProcessAcceptFlow(t *testing.T) {
	env := newTestEnv(t, "")

	resp := env.do(t, http.MethodPost, "/api/v1/agent/run", agent.CommandRequest{ChannelID: "c1", ActorID: "u-ann", Command: "/summary"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("run status = %d", resp.StatusCode)
	}
	var run agent.CommandResponse
	decodeBody(t, resp, &run)
	if run.TaskID == "" || run.State != task.StateQueued {
		t.Fatalf("unexpected run response: %+v", run)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/agent/process", map[string]string{"taskId": run.TaskID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("process status = %d", resp.StatusCode)
	}
	var processed task.Task
	decodeBody(t, resp, &processed)
	if processed.State != task.StateCompleted || processed.Delivery != task.DeliveryPending {
		t.Fatalf("processed = %s/%s", processed.State, processed.Delivery)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/tasks/"+run.TaskID+"/accept", reviewRequest{ReviewerID: "u-bob"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("accept by another user = %d, want 403", resp.StatusCode)
	}
	resp = env.do(t, http.MethodPost, "/api/v1/tasks/"+run.TaskID+"/accept", reviewRequest{ReviewerID: "u-ann", Markdown: "edited summary"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("accept status = %d", resp.StatusCode)
	}
	var accepted task.Task
	decodeBody(t, resp, &accepted)
	if accepted.Delivery != task.DeliveryPosted || accepted.Result.Markdown != "edited summary" {
		t.Fatalf("accepted = %+v", accepted)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/tasks/"+run.TaskID+"/reject", reviewRequest{ReviewerID: "u-ann"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("reject after accept = %d, want 409", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/tasks?channel=c1", nil)
	var list struct {
		Tasks []task.Task `json:"tasks"`
	}
	decodeBody(t, resp, &list)
	if len(list.Tasks) != 1 || list.Tasks[0].TaskID != run.TaskID {
		t.Fatalf("unexpected list: %+v", list.Tasks)
	}
}

func TestRunRateLimitedReturns429(t *testing.T) {
	env := newTestEnv(t, "")
	req := agent.CommandRequest{ChannelID: "dm1", ActorID: "u-ann", Command: "summary"}
	for i := 0; i < 2; i++ {
		if resp := env.do(t, http.MethodPost, "/api/v1/agent/run", req); resp.StatusCode != http.StatusAccepted {
			t.Fatalf("run %d status = %d", i, resp.StatusCode)
		}
	}
	resp := env.do(t, http.MethodPost, "/api/v1/agent/run", req)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
	var body agent.CommandResponse
	decodeBody(t, resp, &body)
	if body.Cooldown != task.MsgCooldown || body.TaskID != "" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestRunErrorsMapToStatus(t *testing.T) {
	env := newTestEnv(t, "")
	cases := []struct {
		name string
		req  agent.CommandRequest
		want int
	}{
		{"unknown command", agent.CommandRequest{ChannelID: "c1", ActorID: "u-ann", Command: "dance"}, http.StatusBadRequest},
		{"non member", agent.CommandRequest{ChannelID: "c1", ActorID: "u-zed", Command: "summary"}, http.StatusForbidden},
		{"missing channel", agent.CommandRequest{ChannelID: "nope", ActorID: "u-ann", Command: "summary"}, http.StatusNotFound},
		{"missing actor", agent.CommandRequest{ChannelID: "c1", Command: "summary"}, http.StatusBadRequest},
		{"help", agent.CommandRequest{ChannelID: "c1", ActorID: "u-ann", Command: "help"}, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if resp := env.do(t, http.MethodPost, "/api/v1/agent/run", tc.req); resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestGetUnknownTaskIs404(t *testing.T) {
	env := newTestEnv(t, "")
	if resp := env.do(t, http.MethodGet, "/api/v1/tasks/does-not-exist", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAuditListing(t *testing.T) {
	env := newTestEnv(t, "")
	env.do(t, http.MethodPost, "/api/v1/agent/run", agent.CommandRequest{ChannelID: "c1", ActorID: "u-ann", Command: "summary"})
	env.do(t, http.MethodPost, "/api/v1/agent/run", agent.CommandRequest{ChannelID: "c1", ActorID: "u-zed", Command: "summary"})

	resp := env.do(t, http.MethodGet, "/api/v1/audit?channel=c1&action=denied", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Entries []audit.Entry `json:"entries"`
	}
	decodeBody(t, resp, &body)
	if len(body.Entries) != 1 || body.Entries[0].ActorID != "u-zed" {
		t.Fatalf("unexpected entries: %+v", body.Entries)
	}

	if resp := env.do(t, http.MethodGet, "/api/v1/audit?since=yesterday", nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad since status = %d", resp.StatusCode)
	}
}

func TestMonitorEndpoint(t *testing.T) {
	env := newTestEnv(t, "")
	resp := env.do(t, http.MethodPost, "/api/v1/agent/monitor", agent.MessageEvent{MessageID: "c1-m011"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Outcomes []agent.ReplyOutcome `json:"outcomes"`
	}
	decodeBody(t, resp, &body)
	if len(body.Outcomes) != 1 || body.Outcomes[0].Action != audit.ActionSkipped {
		t.Fatalf("stale trigger should be skipped: %+v", body.Outcomes)
	}

	if resp := env.do(t, http.MethodPost, "/api/v1/agent/monitor", agent.MessageEvent{MessageID: "missing"}); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing message status = %d, want 404", resp.StatusCode)
	}
}
