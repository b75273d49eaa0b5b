package timeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sidekick-chat/sidekick/internal/task"
)

const taskColumns = `id, task_id, channel_id, actor_id, command, args_json, state,
	COALESCE(result_json, ''), COALESCE(failure, ''), delivery,
	created_at, updated_at, claimed_at, completed_at`

// CreateTask inserts a new task row.
func (s *TimelineService) CreateTask(ctx context.Context, t *task.Task) error {
	args, err := json.Marshal(t.Args)
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}
	var result sql.NullString
	if t.Result != nil {
		b, err := json.Marshal(t.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		result = sql.NullString{String: string(b), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO agent_tasks
		(task_id, channel_id, actor_id, command, args_json, state, result_json, delivery, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TaskID, t.ChannelID, t.ActorID, string(t.Command), string(args), string(t.State), result,
		string(t.Delivery), toMillis(t.CreatedAt), toMillis(t.UpdatedAt), nullMillis(t.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	t.ID, _ = res.LastInsertId()
	return nil
}

// GetTask loads a task by its public id.
func (s *TimelineService) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM agent_tasks WHERE task_id = ?`, taskID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", task.ErrNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ClaimTask atomically moves a queued task to running.
func (s *TimelineService) ClaimTask(ctx context.Context, taskID string, now time.Time) (*task.Task, error) {
	ms := toMillis(now)
	res, err := s.db.ExecContext(ctx, `UPDATE agent_tasks
		SET state = ?, claimed_at = ?, updated_at = ?
		WHERE task_id = ? AND state = ?`,
		string(task.StateRunning), ms, ms, taskID, string(task.StateQueued))
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		if _, err := s.GetTask(ctx, taskID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", task.ErrNotClaimable, taskID)
	}
	return s.GetTask(ctx, taskID)
}

// FinishTask moves a running task to completed or failed.
func (s *TimelineService) FinishTask(ctx context.Context, taskID string, to task.State, result *task.Result, failure string, now time.Time) error {
	if !task.CanTransition(task.StateRunning, to) {
		return fmt.Errorf("%w: running -> %s", task.ErrInvalidTransition, to)
	}
	var resultJSON sql.NullString
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		resultJSON = sql.NullString{String: string(b), Valid: true}
	}
	var failureText sql.NullString
	if failure != "" {
		failureText = sql.NullString{String: failure, Valid: true}
	}
	ms := toMillis(now)
	res, err := s.db.ExecContext(ctx, `UPDATE agent_tasks
		SET state = ?, result_json = ?, failure = ?, updated_at = ?, completed_at = ?
		WHERE task_id = ? AND state = ?`,
		string(to), resultJSON, failureText, ms, ms, taskID, string(task.StateRunning))
	if err != nil {
		return fmt.Errorf("finish task: %w", err)
	}
	return s.expectOne(ctx, res, taskID, fmt.Sprintf("-> %s", to))
}

// RejectTask dismisses a completed task whose result was never posted.
func (s *TimelineService) RejectTask(ctx context.Context, taskID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE agent_tasks
		SET state = ?, delivery = ?, updated_at = ?
		WHERE task_id = ? AND state = ? AND delivery = ?`,
		string(task.StateRejected), string(task.DeliveryDismissed), toMillis(now),
		taskID, string(task.StateCompleted), string(task.DeliveryPending))
	if err != nil {
		return fmt.Errorf("reject task: %w", err)
	}
	return s.expectOne(ctx, res, taskID, "-> rejected")
}

// SetDelivery changes the delivery status of a completed task. A non-nil
// result replaces the stored one.
func (s *TimelineService) SetDelivery(ctx context.Context, taskID string, from, to task.Delivery, result *task.Result, now time.Time) error {
	q := `UPDATE agent_tasks SET delivery = ?, updated_at = ?`
	args := []any{string(to), toMillis(now)}
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		q += `, result_json = ?`
		args = append(args, string(b))
	}
	q += ` WHERE task_id = ? AND state = ? AND delivery = ?`
	args = append(args, taskID, string(task.StateCompleted), string(from))
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("set delivery: %w", err)
	}
	return s.expectOne(ctx, res, taskID, fmt.Sprintf("delivery %s -> %s", from, to))
}

func (s *TimelineService) expectOne(ctx context.Context, res sql.Result, taskID, what string) error {
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s %s", task.ErrInvalidTransition, taskID, what)
}

// ListTasks returns tasks newest first.
func (s *TimelineService) ListTasks(ctx context.Context, f task.ListFilter) ([]task.Task, error) {
	var where []string
	var args []any
	if f.ChannelID != "" {
		where = append(where, "channel_id = ?")
		args = append(args, f.ChannelID)
	}
	if f.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, f.ActorID)
	}
	if f.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(f.State))
	}
	q := `SELECT ` + taskColumns + ` FROM agent_tasks`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListQueuedTasks returns the oldest queued tasks first.
func (s *TimelineService) ListQueuedTasks(ctx context.Context, limit int) ([]task.Task, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM agent_tasks
		WHERE state = ? ORDER BY created_at ASC, id ASC LIMIT ?`, string(task.StateQueued), limit)
	if err != nil {
		return nil, fmt.Errorf("list queued tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// FailStaleTasks fails running tasks claimed before cutoff and returns them
// in their failed state.
func (s *TimelineService) FailStaleTasks(ctx context.Context, cutoff time.Time, failure string, now time.Time) ([]task.Task, error) {
	ms := toMillis(now)
	rows, err := s.db.QueryContext(ctx, `UPDATE agent_tasks
		SET state = ?, failure = ?, updated_at = ?, completed_at = ?
		WHERE state = ? AND claimed_at < ?
		RETURNING `+taskColumns,
		string(task.StateFailed), failure, ms, ms, string(task.StateRunning), toMillis(cutoff))
	if err != nil {
		return nil, fmt.Errorf("fail stale tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// TaskCounts returns the number of tasks per state.
func (s *TimelineService) TaskCounts(ctx context.Context) (map[task.State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM agent_tasks GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("task counts: %w", err)
	}
	defer rows.Close()
	out := map[task.State]int{}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[task.State(st)] = n
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (*task.Task, error) {
	var (
		t                     task.Task
		command, state, deliv string
		argsJSON, resultJSON  string
		created, updated      int64
		claimed, completed    sql.NullInt64
	)
	if err := r.Scan(&t.ID, &t.TaskID, &t.ChannelID, &t.ActorID, &command, &argsJSON, &state,
		&resultJSON, &t.Failure, &deliv, &created, &updated, &claimed, &completed); err != nil {
		return nil, err
	}
	t.Command = task.Command(command)
	t.State = task.State(state)
	t.Delivery = task.Delivery(deliv)
	t.CreatedAt = fromMillis(created)
	t.UpdatedAt = fromMillis(updated)
	t.ClaimedAt = fromNullMillis(claimed)
	t.CompletedAt = fromNullMillis(completed)
	if argsJSON != "" {
		_ = json.Unmarshal([]byte(argsJSON), &t.Args)
	}
	if resultJSON != "" {
		var res task.Result
		if err := json.Unmarshal([]byte(resultJSON), &res); err == nil {
			t.Result = &res
		}
	}
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]task.Task, error) {
	var out []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// ResetStuckDeliveries returns delivery reservations older than cutoff to
// pending.
func (s *TimelineService) ResetStuckDeliveries(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE agent_tasks SET delivery = ?, updated_at = ?
		WHERE state = ? AND delivery = ? AND updated_at < ?`,
		string(task.DeliveryPending), toMillis(time.Now()), string(task.StateCompleted),
		string(task.DeliveryPosting), toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("reset stuck deliveries: %w", err)
	}
	return res.RowsAffected()
}
