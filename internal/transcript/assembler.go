package transcript

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Assembler builds transcripts from a Source.
type Assembler struct {
	src Source
}

// NewAssembler creates an assembler.
func NewAssembler(src Source) *Assembler {
	return &Assembler{src: src}
}

// Build loads the latest count messages of a channel in chronological order.
// When withOwners is set the owner candidates are resolved as well: every
// member for a channel, the two participants for a DM. Fewer than
// MinMessages messages yields ErrInsufficientContext.
func (a *Assembler) Build(ctx context.Context, channelID string, count int, withOwners bool) (*Transcript, error) {
	t, err := a.load(ctx, channelID, count)
	if err != nil {
		return nil, err
	}
	if len(t.Lines) < MinMessages {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientContext, len(t.Lines), MinMessages)
	}
	if withOwners {
		owners, err := a.owners(ctx, t.Channel)
		if err != nil {
			return nil, err
		}
		t.Owners = owners
	}
	return t, nil
}

// BuildReplyContext loads the fixed window used for autonomous replies.
// No minimum applies; a reply can be drafted from a single message.
func (a *Assembler) BuildReplyContext(ctx context.Context, channelID string) (*Transcript, error) {
	return a.load(ctx, channelID, ReplyContextSize)
}

func (a *Assembler) load(ctx context.Context, channelID string, count int) (*Transcript, error) {
	ch, err := a.src.Channel(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("load channel %s: %w", channelID, err)
	}
	if count <= 0 {
		count = ReplyContextSize
	}
	msgs, err := a.src.RecentMessages(ctx, channelID, count)
	if err != nil {
		return nil, fmt.Errorf("load messages %s: %w", channelID, err)
	}
	if len(msgs) > count {
		msgs = msgs[:count]
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})

	lines := make([]Line, 0, len(msgs))
	for _, m := range msgs {
		author := m.AuthorName
		if author == "" {
			author = unknownAuthor
		}
		lines = append(lines, Line{
			MessageID: m.ID,
			Author:    author,
			At:        m.CreatedAt.UTC().Truncate(time.Minute),
			Text:      m.Text,
		})
	}
	return &Transcript{Channel: *ch, Lines: lines}, nil
}

func (a *Assembler) owners(ctx context.Context, ch Channel) ([]string, error) {
	members, err := a.src.Members(ctx, ch.ID)
	if err != nil {
		return nil, fmt.Errorf("load members %s: %w", ch.ID, err)
	}
	var keep map[string]bool
	if ch.IsDM {
		keep = map[string]bool{ch.DMUserA: true, ch.DMUserB: true}
	}
	var out []string
	for _, m := range members {
		if keep != nil && !keep[m.UserID] {
			continue
		}
		if m.DisplayName != "" {
			out = append(out, m.DisplayName)
		}
	}
	return out, nil
}
