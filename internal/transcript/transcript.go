// Package transcript assembles the recent-message context sent to the
// completion service.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Context window sizes.
const (
	MinMessages      = 5
	ReplyContextSize = 20
	unknownAuthor    = "Unknown"
	dmOwnersFallback = "Only the two DM participants"
)

var (
	ErrInsufficientContext = errors.New("not enough recent messages")
	ErrChannelNotFound     = errors.New("channel not found")
)

// Channel describes a conversation.
type Channel struct {
	ID              string `json:"channel_id"`
	Name            string `json:"name"`
	IsDM            bool   `json:"is_dm"`
	DMUserA         string `json:"dm_user_a,omitempty"`
	DMUserB         string `json:"dm_user_b,omitempty"`
	AgentEnabled    bool   `json:"agent_enabled"`
	MaxPostsPerHour int    `json:"agent_max_posts_per_hour,omitempty"`
}

// Participants returns the two DM users, or nil for a channel.
func (c Channel) Participants() []string {
	if !c.IsDM {
		return nil
	}
	return []string{c.DMUserA, c.DMUserB}
}

// Counterpart returns the other DM participant.
func (c Channel) Counterpart(userID string) string {
	switch userID {
	case c.DMUserA:
		return c.DMUserB
	case c.DMUserB:
		return c.DMUserA
	}
	return ""
}

// Message is one chat message with its author's display name resolved.
type Message struct {
	ID         string    `json:"message_id"`
	ChannelID  string    `json:"channel_id"`
	AuthorID   string    `json:"user_id"`
	AuthorName string    `json:"author_name,omitempty"`
	Text       string    `json:"text"`
	ParentID   string    `json:"parent_message_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Member is a channel member with display name.
type Member struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// Source is the read side of the chat store.
type Source interface {
	Channel(ctx context.Context, channelID string) (*Channel, error)
	// RecentMessages returns up to limit messages, newest first.
	RecentMessages(ctx context.Context, channelID string, limit int) ([]Message, error)
	Members(ctx context.Context, channelID string) ([]Member, error)
}

// Line is one rendered transcript row.
type Line struct {
	MessageID string
	Author    string
	At        time.Time
	Text      string
}

// Transcript is an ordered, oldest-first view of recent messages.
type Transcript struct {
	Channel Channel
	Lines   []Line
	Owners  []string
}

// Render formats each line as "[YYYY-MM-DD HH:MM | @author | id] text".
func (t *Transcript) Render() string {
	var b strings.Builder
	for i, l := range t.Lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%s | @%s | %s] %s", l.At.Format("2006-01-02 15:04"), l.Author, l.MessageID, l.Text)
	}
	return b.String()
}

// IDs returns the set of message ids present in the transcript.
func (t *Transcript) IDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(t.Lines))
	for _, l := range t.Lines {
		ids[l.MessageID] = struct{}{}
	}
	return ids
}

// OwnersText renders the owner candidates for task extraction prompts.
func (t *Transcript) OwnersText() string {
	if len(t.Owners) == 0 {
		if t.Channel.IsDM {
			return dmOwnersFallback
		}
		return "Anyone in the conversation"
	}
	return strings.Join(t.Owners, ", ")
}
