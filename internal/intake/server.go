// Package intake accepts agent triggers over HTTP, Slack slash commands and
// Kafka, and exposes read and review endpoints for tasks and audit entries.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sidekick-chat/sidekick/internal/agent"
	"github.com/sidekick-chat/sidekick/internal/approval"
	"github.com/sidekick-chat/sidekick/internal/audit"
	"github.com/sidekick-chat/sidekick/internal/bus"
	"github.com/sidekick-chat/sidekick/internal/task"
	"github.com/sidekick-chat/sidekick/internal/timeline"
	"github.com/sidekick-chat/sidekick/internal/transcript"
)

// maxBody caps request bodies on every endpoint.
const maxBody = 1 << 20

// Store serves the read-only endpoints.
type Store interface {
	ListAudit(ctx context.Context, f audit.Filter) ([]audit.Entry, error)
	TaskCounts(ctx context.Context) (map[task.State]int, error)
}

// Options wires a Server.
type Options struct {
	Engine    *agent.Engine
	Review    *approval.Manager
	Store     Store
	Bus       *bus.MessageBus
	AuthToken string
	// SlackSigningSecret enables the slash-command endpoint when set.
	SlackSigningSecret string
	// SlackChannels maps Slack conversation ids to local channel ids.
	SlackChannels map[string]string
	Version       string
}

// Server is the HTTP intake.
type Server struct {
	opts    Options
	started time.Time
}

// NewServer creates an intake server.
func NewServer(opts Options) *Server {
	return &Server{opts: opts, started: time.Now()}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)

	mux.HandleFunc("POST /api/v1/agent/run", s.auth(s.handleRun))
	mux.HandleFunc("POST /api/v1/agent/monitor", s.auth(s.handleMonitor))
	mux.HandleFunc("POST /api/v1/agent/process", s.auth(s.handleProcess))

	mux.HandleFunc("GET /api/v1/tasks", s.auth(s.handleListTasks))
	mux.HandleFunc("GET /api/v1/tasks/{id}", s.auth(s.handleGetTask))
	mux.HandleFunc("POST /api/v1/tasks/{id}/accept", s.auth(s.handleAccept))
	mux.HandleFunc("POST /api/v1/tasks/{id}/reject", s.auth(s.handleReject))

	mux.HandleFunc("GET /api/v1/audit", s.auth(s.handleAudit))

	if strings.TrimSpace(s.opts.SlackSigningSecret) != "" {
		mux.HandleFunc("POST /api/v1/slack/commands", s.handleSlackCommand)
	}
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Intake: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Intake: shutdown", "error", err)
		}
		return ctx.Err()
	}
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.opts.AuthToken != "" {
			token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
			if token != s.opts.AuthToken {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, agent.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, agent.ErrDenied), errors.Is(err, approval.ErrNotReviewer):
		return http.StatusForbidden
	case errors.Is(err, task.ErrUnknownCommand):
		return http.StatusBadRequest
	case errors.Is(err, task.ErrNotFound),
		errors.Is(err, transcript.ErrChannelNotFound),
		errors.Is(err, timeline.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, approval.ErrNotReviewable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("Intake: request failed", "error", err)
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":     "ok",
		"version":    s.opts.Version,
		"uptime_sec": int(time.Since(s.started).Seconds()),
	}
	if s.opts.Store != nil {
		if counts, err := s.opts.Store.TaskCounts(r.Context()); err == nil {
			resp["tasks"] = counts
		}
	}
	if s.opts.Bus != nil {
		resp["kick_queue"] = s.opts.Bus.KickQueueSize()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req agent.CommandRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ChannelID == "" || req.ActorID == "" {
		http.Error(w, "channelId and actorId are required", http.StatusBadRequest)
		return
	}
	req.Args = req.Args.Normalized()
	resp, err := s.opts.Engine.RunCommand(r.Context(), req)
	if err != nil {
		// Denials carry a body the client shows to the user.
		if resp != nil && (errors.Is(err, agent.ErrRateLimited) || errors.Is(err, agent.ErrDenied)) {
			if resp.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(resp.RetryAfter.Round(time.Second).Seconds())))
			}
			writeJSON(w, statusFor(err), resp)
			return
		}
		writeError(w, err)
		return
	}
	status := http.StatusAccepted
	if resp.State == task.StateCompleted {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	var ev agent.MessageEvent
	if !decode(w, r, &ev) {
		return
	}
	if ev.MessageID == "" {
		http.Error(w, "messageId is required", http.StatusBadRequest)
		return
	}
	out, err := s.opts.Engine.HandleMessage(r.Context(), ev)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": out})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TaskID string `json:"taskId"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.TaskID == "" {
		http.Error(w, "taskId is required", http.StatusBadRequest)
		return
	}
	if err := s.opts.Engine.ProcessTask(r.Context(), body.TaskID); err != nil {
		writeError(w, err)
		return
	}
	t, err := s.opts.Engine.Tasks().Get(r.Context(), body.TaskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	tasks, err := s.opts.Engine.Tasks().Store().ListTasks(r.Context(), task.ListFilter{
		ChannelID: q.Get("channel"),
		ActorID:   q.Get("actor"),
		State:     task.State(q.Get("state")),
		Limit:     limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.opts.Engine.Tasks().Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type reviewRequest struct {
	ReviewerID string `json:"reviewerId"`
	Markdown   string `json:"markdown,omitempty"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var body reviewRequest
	if !decode(w, r, &body) {
		return
	}
	t, err := s.opts.Review.Accept(r.Context(), r.PathValue("id"), body.ReviewerID, body.Markdown)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var body reviewRequest
	if !decode(w, r, &body) {
		return
	}
	t, err := s.opts.Review.Reject(r.Context(), r.PathValue("id"), body.ReviewerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := audit.Filter{
		ActorID:   q.Get("actor"),
		ChannelID: q.Get("channel"),
		Action:    audit.Action(q.Get("action")),
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "since must be RFC3339", http.StatusBadRequest)
			return
		}
		f.Since = since
	}
	entries, err := s.opts.Store.ListAudit(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
