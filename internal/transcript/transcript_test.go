package transcript

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

type fakeSource struct {
	channel Channel
	msgs    []Message // newest first
	members []Member
}

func (f *fakeSource) Channel(_ context.Context, id string) (*Channel, error) {
	if id != f.channel.ID {
		return nil, ErrChannelNotFound
	}
	c := f.channel
	return &c, nil
}

func (f *fakeSource) RecentMessages(_ context.Context, _ string, limit int) ([]Message, error) {
	if limit > len(f.msgs) {
		limit = len(f.msgs)
	}
	return append([]Message(nil), f.msgs[:limit]...), nil
}

func (f *fakeSource) Members(context.Context, string) ([]Member, error) {
	return f.members, nil
}

func newSource(n int, dm bool) *fakeSource {
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	src := &fakeSource{channel: Channel{ID: "c1", Name: "general", IsDM: dm, DMUserA: "u1", DMUserB: "u2"}}
	for i := n - 1; i >= 0; i-- {
		src.msgs = append(src.msgs, Message{
			ID:         fmt.Sprintf("m%02d", i),
			ChannelID:  "c1",
			AuthorID:   "u1",
			AuthorName: "ann",
			Text:       fmt.Sprintf("message %d", i),
			CreatedAt:  base.Add(time.Duration(i)*time.Minute + 42*time.Second),
		})
	}
	src.members = []Member{{UserID: "u1", DisplayName: "ann"}, {UserID: "u2", DisplayName: "bob"}, {UserID: "u3", DisplayName: "cy"}}
	return src
}

func TestBuildOrdersOldestFirst(t *testing.T) {
	a := NewAssembler(newSource(12, false))
	tr, err := a.Build(context.Background(), "c1", 10, false)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(tr.Lines) != 10 {
		t.Fatalf("expected 10 lines, got %d", len(tr.Lines))
	}
	if tr.Lines[0].MessageID != "m02" || tr.Lines[9].MessageID != "m11" {
		t.Fatalf("unexpected window: first=%s last=%s", tr.Lines[0].MessageID, tr.Lines[9].MessageID)
	}
	if tr.Lines[0].At.Second() != 0 {
		t.Fatal("timestamps should be truncated to the minute")
	}
}

func TestBuildInsufficientContext(t *testing.T) {
	a := NewAssembler(newSource(4, false))
	_, err := a.Build(context.Background(), "c1", 5, true)
	if !errors.Is(err, ErrInsufficientContext) {
		t.Fatalf("expected ErrInsufficientContext, got %v", err)
	}
}

func TestReplyContextHasNoMinimum(t *testing.T) {
	a := NewAssembler(newSource(1, true))
	tr, err := a.BuildReplyContext(context.Background(), "c1")
	if err != nil {
		t.Fatalf("reply context: %v", err)
	}
	if len(tr.Lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(tr.Lines))
	}
}

func TestOwners(t *testing.T) {
	a := NewAssembler(newSource(6, false))
	tr, err := a.Build(context.Background(), "c1", 10, true)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if strings.Join(tr.Owners, ",") != "ann,bob,cy" {
		t.Fatalf("channel owners should be all members, got %v", tr.Owners)
	}

	a = NewAssembler(newSource(6, true))
	tr, err = a.Build(context.Background(), "c1", 10, true)
	if err != nil {
		t.Fatalf("build dm: %v", err)
	}
	if strings.Join(tr.Owners, ",") != "ann,bob" {
		t.Fatalf("dm owners should be the two participants, got %v", tr.Owners)
	}
}

func TestRenderAndIDs(t *testing.T) {
	src := newSource(5, false)
	src.msgs[0].AuthorName = ""
	tr, err := NewAssembler(src).Build(context.Background(), "c1", 10, false)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	out := strings.Split(tr.Render(), "\n")
	if len(out) != 5 {
		t.Fatalf("expected 5 rendered lines, got %d", len(out))
	}
	if out[0] != "[2026-04-01 08:00 | @ann | m00] message 0" {
		t.Fatalf("unexpected first line: %q", out[0])
	}
	if !strings.Contains(out[4], "@Unknown") {
		t.Fatalf("missing author should render as Unknown: %q", out[4])
	}
	if _, ok := tr.IDs()["m03"]; !ok || len(tr.IDs()) != 5 {
		t.Fatalf("unexpected ids: %v", tr.IDs())
	}
}

func TestChannelNotFound(t *testing.T) {
	_, err := NewAssembler(newSource(6, false)).Build(context.Background(), "nope", 10, false)
	if !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("expected ErrChannelNotFound, got %v", err)
	}
}
