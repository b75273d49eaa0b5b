// Package completion turns transcripts into validated structured replies
// from the language model.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sidekick-chat/sidekick/internal/citation"
	"github.com/sidekick-chat/sidekick/internal/provider"
	"github.com/sidekick-chat/sidekick/internal/task"
	"github.com/sidekick-chat/sidekick/internal/transcript"
)

// Mode selects prompt, schema and sampling profile.
type Mode string

const (
	ModeSummarize       Mode = "summarize"
	ModeExtractTasks    Mode = "extract_tasks"
	ModeAutonomousReply Mode = "autonomous_reply"
)

// ModeForCommand maps an on-demand command to its completion mode.
func ModeForCommand(cmd task.Command) (Mode, bool) {
	switch cmd {
	case task.CommandSummary:
		return ModeSummarize, true
	case task.CommandTasks:
		return ModeExtractTasks, true
	}
	return "", false
}

// Profile is the fixed sampling configuration of a mode.
type Profile struct {
	Temperature float64
	MaxTokens   int
}

var profiles = map[Mode]Profile{
	ModeSummarize:       {Temperature: 0.3, MaxTokens: 1000},
	ModeExtractTasks:    {Temperature: 0.3, MaxTokens: 1000},
	ModeAutonomousReply: {Temperature: 0.4, MaxTokens: 500},
}

// ProfileFor returns the sampling profile of mode.
func ProfileFor(mode Mode) (Profile, bool) {
	p, ok := profiles[mode]
	return p, ok
}

// DefaultTimeout bounds a single completion attempt.
const DefaultTimeout = 30 * time.Second

// Request is one completion call.
type Request struct {
	Mode       Mode
	Transcript *transcript.Transcript
	// Responder is the display name the agent answers for in autonomous mode.
	Responder string
	// Trigger is the message text being answered in autonomous mode.
	Trigger string
}

// Result is a validated model reply. Citations are unfiltered; callers run
// them through citation.Filter against the transcript.
type Result struct {
	Markdown   string
	Citations  []citation.Citation
	Confidence *float64
	Model      string
	Usage      provider.Usage
}

// Kind classifies completion failures.
type Kind string

const (
	KindService Kind = "service"
	KindTimeout Kind = "timeout"
	KindFormat  Kind = "format"
)

// ErrCompletion matches every *Error via errors.Is.
var ErrCompletion = errors.New("completion failed")

// Error is a classified completion failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("completion %s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrCompletion) match any kind.
func (e *Error) Is(target error) bool { return target == ErrCompletion }

// KindOf returns the failure kind of err, or "" when err is not a completion error.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// Gateway calls the provider with mode-specific prompts and validates the reply.
type Gateway struct {
	provider provider.LLMProvider
	model    string
	timeout  time.Duration
}

// NewGateway creates a gateway. An empty model uses the provider default.
func NewGateway(p provider.LLMProvider, model string, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{provider: p, model: model, timeout: timeout}
}

// Complete makes exactly one attempt. There is no retry.
func (g *Gateway) Complete(ctx context.Context, req Request) (*Result, error) {
	prof, ok := profiles[req.Mode]
	if !ok {
		return nil, &Error{Kind: KindFormat, Err: fmt.Errorf("unknown mode %q", req.Mode)}
	}
	if req.Transcript == nil {
		return nil, &Error{Kind: KindFormat, Err: fmt.Errorf("transcript is required")}
	}

	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.provider.Chat(cctx, &provider.ChatRequest{
		Messages:       buildMessages(req),
		Model:          g.model,
		MaxTokens:      prof.MaxTokens,
		Temperature:    prof.Temperature,
		ResponseFormat: provider.FormatJSONObject,
	})
	if err != nil {
		kind := KindService
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded) {
			kind = KindTimeout
		}
		slog.Warn("Completion call failed", "mode", req.Mode, "kind", kind, "elapsed", time.Since(start), "error", err)
		return nil, &Error{Kind: kind, Err: err}
	}

	res, err := parseReply(req.Mode, resp.Content)
	if err != nil {
		slog.Warn("Completion reply rejected", "mode", req.Mode, "error", err, "preview", preview(resp.Content))
		return nil, &Error{Kind: KindFormat, Err: err}
	}
	res.Model = resp.Model
	res.Usage = resp.Usage
	slog.Debug("Completion finished", "mode", req.Mode, "elapsed", time.Since(start), "tokens", resp.Usage.TotalTokens, "citations", len(res.Citations))
	return res, nil
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
