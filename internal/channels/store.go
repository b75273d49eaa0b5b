package channels

import (
	"context"
	"fmt"
	"strings"

	"github.com/sidekick-chat/sidekick/internal/timeline"
	"github.com/sidekick-chat/sidekick/internal/transcript"
)

// ChatStore is the write side of the chat history.
type ChatStore interface {
	InsertMessage(ctx context.Context, m *transcript.Message) error
	InsertDraft(ctx context.Context, d *timeline.Draft) error
}

// StoreChannel writes posts into the chat history and keeps drafts in the
// drafts table.
type StoreChannel struct {
	store ChatStore
}

// NewStoreChannel creates the built-in transport.
func NewStoreChannel(store ChatStore) *StoreChannel {
	return &StoreChannel{store: store}
}

func (c *StoreChannel) Name() string { return "store" }

// Post implements Poster.
func (c *StoreChannel) Post(ctx context.Context, p Post) (string, error) {
	if strings.TrimSpace(p.Text) == "" {
		return "", fmt.Errorf("post to %s: empty text", p.ChannelID)
	}
	m := &transcript.Message{
		ChannelID: p.ChannelID,
		AuthorID:  p.ActorID,
		Text:      p.Text,
		ParentID:  p.ThreadID,
	}
	if err := c.store.InsertMessage(ctx, m); err != nil {
		return "", fmt.Errorf("post to %s: %w", p.ChannelID, err)
	}
	return m.ID, nil
}

// Draft implements DraftSink.
func (c *StoreChannel) Draft(ctx context.Context, d Draft) error {
	return c.store.InsertDraft(ctx, &timeline.Draft{
		UserID:          d.UserID,
		ChannelID:       d.ChannelID,
		SourceMessageID: d.SourceMessageID,
		Content:         d.Text,
		Confidence:      d.Confidence,
	})
}
