// Package channels delivers agent output to chat transports.
package channels

import (
	"context"
	"log/slog"
)

// Post is a message the agent sends into a conversation.
type Post struct {
	ChannelID string
	// ActorID is the user the post is attributed to.
	ActorID string
	// ThreadID is the parent message for threaded replies, if any.
	ThreadID string
	Text     string
	// TaskID links the post to an on-demand task, if any.
	TaskID string
}

// Draft is a private reply shown only to one user.
type Draft struct {
	UserID          string
	ChannelID       string
	SourceMessageID string
	Text            string
	Confidence      float64
}

// Poster publishes posts to a transport.
type Poster interface {
	// Name returns the transport name (e.g. "store", "slack").
	Name() string
	// Post publishes p and returns the transport's message id.
	Post(ctx context.Context, p Post) (string, error)
}

// DraftSink delivers private drafts.
type DraftSink interface {
	Name() string
	Draft(ctx context.Context, d Draft) error
}

// Fanout posts to a primary transport and mirrors to secondaries. Only the
// primary's result decides success; mirror failures are logged.
type Fanout struct {
	Primary Poster
	Mirrors []Poster
}

func (f *Fanout) Name() string { return f.Primary.Name() }

// Post implements Poster.
func (f *Fanout) Post(ctx context.Context, p Post) (string, error) {
	id, err := f.Primary.Post(ctx, p)
	if err != nil {
		return "", err
	}
	for _, m := range f.Mirrors {
		if _, merr := m.Post(ctx, p); merr != nil {
			slog.Warn("Mirror post failed", "transport", m.Name(), "channel", p.ChannelID, "error", merr)
		}
	}
	return id, nil
}

// DraftFanout delivers drafts to every sink; the first sink is authoritative.
type DraftFanout []DraftSink

func (f DraftFanout) Name() string { return "drafts" }

// Draft implements DraftSink.
func (f DraftFanout) Draft(ctx context.Context, d Draft) error {
	for i, s := range f {
		if err := s.Draft(ctx, d); err != nil {
			if i == 0 {
				return err
			}
			slog.Warn("Draft mirror failed", "transport", s.Name(), "user", d.UserID, "error", err)
		}
	}
	return nil
}
