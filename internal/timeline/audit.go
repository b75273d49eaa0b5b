package timeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sidekick-chat/sidekick/internal/audit"
)

// AppendAudit implements audit.Store.
func (s *TimelineService) AppendAudit(ctx context.Context, e *audit.Entry) error {
	meta := "{}"
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
		meta = string(b)
	}
	var conf sql.NullFloat64
	if e.Confidence != nil {
		conf = sql.NullFloat64{Float64: *e.Confidence, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO agent_audit
		(actor_id, channel_id, trigger_type, confidence, action, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ActorID, e.ChannelID, string(e.Trigger), conf, string(e.Action), meta, toMillis(e.At))
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

// ListAudit returns audit entries newest first.
func (s *TimelineService) ListAudit(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	var where []string
	var args []any
	if f.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, f.ActorID)
	}
	if f.ChannelID != "" {
		where = append(where, "channel_id = ?")
		args = append(args, f.ChannelID)
	}
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, string(f.Action))
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, toMillis(f.Since))
	}
	q := `SELECT id, actor_id, channel_id, trigger_type, confidence, action, metadata, created_at FROM agent_audit`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			e               audit.Entry
			trigger, action string
			meta            string
			conf            sql.NullFloat64
			created         int64
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.ChannelID, &trigger, &conf, &action, &meta, &created); err != nil {
			return nil, err
		}
		e.Trigger = audit.TriggerType(trigger)
		e.Action = audit.Action(action)
		e.At = fromMillis(created)
		if conf.Valid {
			v := conf.Float64
			e.Confidence = &v
		}
		_ = json.Unmarshal([]byte(meta), &e.Metadata)
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountAuditActions returns how many entries of action a channel has had
// since the given time.
func (s *TimelineService) CountAuditActions(ctx context.Context, channelID string, action audit.Action, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agent_audit
		WHERE channel_id = ? AND action = ? AND created_at >= ?`, channelID, string(action), toMillis(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count audit actions: %w", err)
	}
	return n, nil
}
