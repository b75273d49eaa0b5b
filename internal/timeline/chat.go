package timeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sidekick-chat/sidekick/internal/agentmode"
	"github.com/sidekick-chat/sidekick/internal/transcript"
)

// Draft is a private low-confidence reply kept for the user.
type Draft struct {
	ID              int64     `json:"id"`
	UserID          string    `json:"user_id"`
	ChannelID       string    `json:"channel_id"`
	SourceMessageID string    `json:"source_message_id"`
	Content         string    `json:"content"`
	Confidence      float64   `json:"confidence"`
	CreatedAt       time.Time `json:"created_at"`
}

// UpsertProfile stores a user's display name.
func (s *TimelineService) UpsertProfile(ctx context.Context, userID, displayName string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO profiles (user_id, display_name) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET display_name = excluded.display_name`, userID, displayName)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// DisplayName returns the profile name of a user, or "" when unknown.
func (s *TimelineService) DisplayName(ctx context.Context, userID string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT display_name FROM profiles WHERE user_id = ?`, userID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("display name: %w", err)
	}
	return name, nil
}

// UpsertChannel creates or updates a channel. DM channels also get both
// participants as members.
func (s *TimelineService) UpsertChannel(ctx context.Context, ch transcript.Channel) error {
	now := toMillis(time.Now())
	_, err := s.db.ExecContext(ctx, `INSERT INTO channels
		(channel_id, name, is_dm, dm_user_a, dm_user_b, agent_enabled, agent_max_posts_per_hour, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			name = excluded.name,
			is_dm = excluded.is_dm,
			dm_user_a = excluded.dm_user_a,
			dm_user_b = excluded.dm_user_b,
			agent_enabled = excluded.agent_enabled,
			agent_max_posts_per_hour = excluded.agent_max_posts_per_hour`,
		ch.ID, ch.Name, boolInt(ch.IsDM), nullString(ch.DMUserA), nullString(ch.DMUserB),
		boolInt(ch.AgentEnabled), ch.MaxPostsPerHour, now)
	if err != nil {
		return fmt.Errorf("upsert channel: %w", err)
	}
	if ch.IsDM {
		for _, u := range ch.Participants() {
			if u == "" {
				continue
			}
			if err := s.AddMember(ctx, ch.ID, u); err != nil {
				return err
			}
		}
	}
	return nil
}

// Channel implements transcript.Source.
func (s *TimelineService) Channel(ctx context.Context, channelID string) (*transcript.Channel, error) {
	var (
		ch           transcript.Channel
		isDM, agent  int
		userA, userB sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT channel_id, name, is_dm, dm_user_a, dm_user_b, agent_enabled, agent_max_posts_per_hour
		FROM channels WHERE channel_id = ?`, channelID).
		Scan(&ch.ID, &ch.Name, &isDM, &userA, &userB, &agent, &ch.MaxPostsPerHour)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", transcript.ErrChannelNotFound, channelID)
	}
	if err != nil {
		return nil, fmt.Errorf("get channel: %w", err)
	}
	ch.IsDM = isDM == 1
	ch.AgentEnabled = agent == 1
	ch.DMUserA = userA.String
	ch.DMUserB = userB.String
	return &ch, nil
}

// AddMember adds a user to a channel. Adding an existing member is a no-op.
func (s *TimelineService) AddMember(ctx context.Context, channelID, userID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO channel_members (channel_id, user_id, joined_at)
		VALUES (?, ?, ?)`, channelID, userID, toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// IsMember reports whether userID belongs to channelID.
func (s *TimelineService) IsMember(ctx context.Context, channelID, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM channel_members WHERE channel_id = ? AND user_id = ?`,
		channelID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return true, nil
}

// Members implements transcript.Source.
func (s *TimelineService) Members(ctx context.Context, channelID string) ([]transcript.Member, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT m.user_id, COALESCE(p.display_name, '')
		FROM channel_members m LEFT JOIN profiles p ON p.user_id = m.user_id
		WHERE m.channel_id = ? ORDER BY m.joined_at ASC, m.user_id ASC`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()
	var out []transcript.Member
	for rows.Next() {
		var m transcript.Member
		if err := rows.Scan(&m.UserID, &m.DisplayName); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// InsertMessage appends a chat message. An empty ID gets a new uuid and a
// zero CreatedAt is stamped with now.
func (s *TimelineService) InsertMessage(ctx context.Context, m *transcript.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO messages (message_id, channel_id, user_id, text, parent_message_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ChannelID, m.AuthorID, m.Text, nullString(m.ParentID), toMillis(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

const messageColumns = `m.message_id, m.channel_id, m.user_id, COALESCE(p.display_name, ''), m.text,
	COALESCE(m.parent_message_id, ''), m.created_at`

// GetMessage loads one message with its author's display name.
func (s *TimelineService) GetMessage(ctx context.Context, messageID string) (*transcript.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+`
		FROM messages m LEFT JOIN profiles p ON p.user_id = m.user_id
		WHERE m.message_id = ?`, messageID)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

// ErrMessageNotFound is returned by GetMessage for unknown ids.
var ErrMessageNotFound = errors.New("message not found")

// RecentMessages implements transcript.Source. Newest first.
func (s *TimelineService) RecentMessages(ctx context.Context, channelID string, limit int) ([]transcript.Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+messageColumns+`
		FROM messages m LEFT JOIN profiles p ON p.user_id = m.user_id
		WHERE m.channel_id = ? ORDER BY m.created_at DESC, m.rowid DESC LIMIT ?`, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()
	var out []transcript.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func scanMessage(r rowScanner) (*transcript.Message, error) {
	var m transcript.Message
	var created int64
	if err := r.Scan(&m.ID, &m.ChannelID, &m.AuthorID, &m.AuthorName, &m.Text, &m.ParentID, &created); err != nil {
		return nil, err
	}
	m.CreatedAt = fromMillis(created)
	return &m, nil
}

// MembersByDisplayName resolves @handles to channel members. Matching is
// case-insensitive on the profile display name.
func (s *TimelineService) MembersByDisplayName(ctx context.Context, channelID string, names []string) ([]transcript.Member, error) {
	if len(names) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(names))
	args := []any{channelID}
	for i, n := range names {
		placeholders[i] = "?"
		args = append(args, strings.ToLower(n))
	}
	rows, err := s.db.QueryContext(ctx, `SELECT p.user_id, p.display_name
		FROM profiles p JOIN channel_members m ON m.user_id = p.user_id AND m.channel_id = ?
		WHERE lower(p.display_name) IN (`+strings.Join(placeholders, ",")+`)
		ORDER BY p.user_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("resolve mentions: %w", err)
	}
	defer rows.Close()
	var out []transcript.Member
	for rows.Next() {
		var m transcript.Member
		if err := rows.Scan(&m.UserID, &m.DisplayName); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpsertAgentSetting stores a user's agent mode configuration.
func (s *TimelineService) UpsertAgentSetting(ctx context.Context, st agentmode.Setting) error {
	topics, err := json.Marshal(st.BlockedTopics)
	if err != nil {
		return fmt.Errorf("marshal blocked topics: %w", err)
	}
	if st.BlockedTopics == nil {
		topics = []byte("[]")
	}
	var expires sql.NullInt64
	if st.ExpiresAt != nil {
		expires = sql.NullInt64{Int64: toMillis(*st.ExpiresAt), Valid: true}
	}
	scope := st.Scope
	if scope == "" {
		scope = agentmode.ScopeBoth
	}
	level := st.Confidence
	if level == "" {
		level = agentmode.LevelMedium
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO user_settings
		(user_id, agent_auto_enabled, agent_auto_scope, agent_auto_expires_at, agent_auto_confidence, agent_auto_blocked_topics, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			agent_auto_enabled = excluded.agent_auto_enabled,
			agent_auto_scope = excluded.agent_auto_scope,
			agent_auto_expires_at = excluded.agent_auto_expires_at,
			agent_auto_confidence = excluded.agent_auto_confidence,
			agent_auto_blocked_topics = excluded.agent_auto_blocked_topics,
			updated_at = excluded.updated_at`,
		st.UserID, boolInt(st.Enabled), string(scope), expires, string(level), string(topics), toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert agent setting: %w", err)
	}
	return nil
}

// AgentSetting loads a user's agent mode configuration. A user without a
// row gets a disabled setting.
func (s *TimelineService) AgentSetting(ctx context.Context, userID string) (agentmode.Setting, error) {
	st := agentmode.Setting{UserID: userID, Scope: agentmode.ScopeBoth, Confidence: agentmode.LevelMedium}
	var (
		enabled       int
		scope, level  string
		expires       sql.NullInt64
		blockedTopics string
	)
	err := s.db.QueryRowContext(ctx, `SELECT agent_auto_enabled, agent_auto_scope, agent_auto_expires_at,
		agent_auto_confidence, agent_auto_blocked_topics FROM user_settings WHERE user_id = ?`, userID).
		Scan(&enabled, &scope, &expires, &level, &blockedTopics)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("get agent setting: %w", err)
	}
	st.Enabled = enabled == 1
	st.Scope = agentmode.ParseScope(scope)
	st.Confidence = agentmode.ParseLevel(level)
	if expires.Valid {
		t := fromMillis(expires.Int64)
		st.ExpiresAt = &t
	}
	_ = json.Unmarshal([]byte(blockedTopics), &st.BlockedTopics)
	return st, nil
}

// InsertDraft stores a private draft reply.
func (s *TimelineService) InsertDraft(ctx context.Context, d *Draft) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO agent_drafts
		(user_id, channel_id, source_message_id, content, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.UserID, d.ChannelID, d.SourceMessageID, d.Content, d.Confidence, toMillis(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert draft: %w", err)
	}
	d.ID, _ = res.LastInsertId()
	return nil
}

// ListDrafts returns a user's drafts newest first.
func (s *TimelineService) ListDrafts(ctx context.Context, userID string, limit int) ([]Draft, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, channel_id, source_message_id, content, confidence, created_at
		FROM agent_drafts WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()
	var out []Draft
	for rows.Next() {
		var d Draft
		var created int64
		if err := rows.Scan(&d.ID, &d.UserID, &d.ChannelID, &d.SourceMessageID, &d.Content, &d.Confidence, &created); err != nil {
			return nil, err
		}
		d.CreatedAt = fromMillis(created)
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
