package timeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sidekick-chat/sidekick/internal/ratelimit"
)

// admitSQL checks and increments a window in one statement. An expired
// window restarts at now with count 1. A live window under the limit is
// incremented. A live window at the limit is left untouched, the upsert's
// WHERE clause fails and no row is returned.
const admitSQL = `
INSERT INTO agent_rate_limits (actor_id, channel_id, mode, window_start, window_expiry, request_count)
VALUES (?, ?, ?, ?, ?, 1)
ON CONFLICT(actor_id, channel_id, mode) DO UPDATE SET
	window_start = CASE WHEN agent_rate_limits.window_expiry <= excluded.window_start
		THEN excluded.window_start ELSE agent_rate_limits.window_start END,
	window_expiry = CASE WHEN agent_rate_limits.window_expiry <= excluded.window_start
		THEN excluded.window_expiry ELSE agent_rate_limits.window_expiry END,
	request_count = CASE WHEN agent_rate_limits.window_expiry <= excluded.window_start
		THEN 1 ELSE agent_rate_limits.request_count + 1 END
WHERE agent_rate_limits.window_expiry <= excluded.window_start
	OR agent_rate_limits.request_count < ?
RETURNING window_start, window_expiry, request_count`

// Admit implements ratelimit.Store.
func (s *TimelineService) Admit(ctx context.Context, key ratelimit.Key, p ratelimit.Policy, now time.Time) (ratelimit.Counter, bool, error) {
	nowMs := toMillis(now)
	c := ratelimit.Counter{Key: key}
	var start, expiry int64
	err := s.db.QueryRowContext(ctx, admitSQL,
		key.ActorID, key.ChannelID, string(key.Mode), nowMs, toMillis(now.Add(p.Window)), p.Limit,
	).Scan(&start, &expiry, &c.Count)
	if err == nil {
		c.WindowStart = fromMillis(start)
		c.WindowExpiry = fromMillis(expiry)
		return c, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return c, false, fmt.Errorf("admit %s/%s/%s: %w", key.ActorID, key.ChannelID, key.Mode, err)
	}

	current, err := s.RateCounter(ctx, key)
	if err != nil {
		return c, false, err
	}
	return current, false, nil
}

// RateCounter reads the stored window for key.
func (s *TimelineService) RateCounter(ctx context.Context, key ratelimit.Key) (ratelimit.Counter, error) {
	c := ratelimit.Counter{Key: key}
	var start, expiry int64
	err := s.db.QueryRowContext(ctx, `SELECT window_start, window_expiry, request_count
		FROM agent_rate_limits WHERE actor_id = ? AND channel_id = ? AND mode = ?`,
		key.ActorID, key.ChannelID, string(key.Mode)).Scan(&start, &expiry, &c.Count)
	if errors.Is(err, sql.ErrNoRows) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("read rate counter: %w", err)
	}
	c.WindowStart = fromMillis(start)
	c.WindowExpiry = fromMillis(expiry)
	return c, nil
}

// PruneRateLimits deletes windows that expired before cutoff.
func (s *TimelineService) PruneRateLimits(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agent_rate_limits WHERE window_expiry < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune rate limits: %w", err)
	}
	return res.RowsAffected()
}
