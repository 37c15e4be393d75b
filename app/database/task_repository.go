package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type taskRepository struct {
	db *DB
}

func NewTaskRepository(db *DB) TaskRepository {
	return &taskRepository{db: db}
}

const taskColumns = `
	id, type, status, priority,
	processed, new_count, updated_count, skipped_count, error_count,
	cursor_source_id, cursor_page, cursor_total_pages,
	scope_source_id, scope_category_id, hours,
	stop_requested, last_error,
	created_at, started_at, finished_at, updated_at`

func (r *taskRepository) CreateTask(task *CollectionTask) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	task.Status = TaskStatusPending
	task.CreatedAt = now
	task.UpdatedAt = now

	_, err := r.db.Exec(`
		INSERT INTO collection_tasks (id, type, status, priority, scope_source_id, scope_category_id, hours, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.Type, task.Status, task.Priority, task.ScopeSourceID, task.ScopeCategoryID, task.Hours, now, now)

	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	return nil
}

func (r *taskRepository) GetTask(id string) (*CollectionTask, error) {
	row := r.db.QueryRow(`SELECT `+taskColumns+` FROM collection_tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

func (r *taskRepository) GetRunningTask() (*CollectionTask, error) {
	row := r.db.QueryRow(`SELECT ` + taskColumns + ` FROM collection_tasks WHERE status = 'running' LIMIT 1`)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get running task: %w", err)
	}
	return task, nil
}

func (r *taskRepository) ListTasks(status string, limit int) ([]CollectionTask, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = r.db.Query(`SELECT `+taskColumns+` FROM collection_tasks WHERE status = ? ORDER BY created_at DESC LIMIT ?`, status, limit)
	} else {
		rows, err = r.db.Query(`SELECT `+taskColumns+` FROM collection_tasks ORDER BY created_at DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []CollectionTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, *task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}

	return tasks, nil
}

func (r *taskRepository) CountTasksByStatus() (map[string]int, error) {
	rows, err := r.db.Query(`SELECT status, COUNT(*) FROM collection_tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating count rows: %w", err)
	}

	return counts, nil
}

// TryMarkRunning transitions pending/paused -> running, guarded so only
// one task system-wide can hold running. The NOT EXISTS clause (backed by
// the partial unique index) makes the check-and-set durable: the state
// lives in the row, not in memory, so it survives process restarts.
func (r *taskRepository) TryMarkRunning(id string) (bool, error) {
	now := time.Now().UTC()
	res, err := r.db.Exec(`
		UPDATE collection_tasks
		SET status = 'running',
		    stop_requested = '',
		    started_at = COALESCE(started_at, ?),
		    updated_at = ?
		WHERE id = ?
		  AND status IN ('pending', 'paused')
		  AND NOT EXISTS (SELECT 1 FROM collection_tasks WHERE status = 'running')
	`, now, now, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark task running: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return affected == 1, nil
}

// NextPendingTaskID returns the id of the next runnable pending task,
// highest priority first, FIFO within a priority.
func (r *taskRepository) NextPendingTaskID() (string, error) {
	var id string
	err := r.db.QueryRow(`
		SELECT id FROM collection_tasks
		WHERE status = 'pending'
		ORDER BY priority DESC, created_at ASC
		LIMIT 1
	`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find pending task: %w", err)
	}
	return id, nil
}

func (r *taskRepository) RequestStop(id string, mode string) (bool, error) {
	if mode != StopPause && mode != StopCancel {
		return false, fmt.Errorf("invalid stop mode: %s", mode)
	}

	res, err := r.db.Exec(`
		UPDATE collection_tasks
		SET stop_requested = ?, updated_at = ?
		WHERE id = ? AND status = 'running'
	`, mode, time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to request stop: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return affected == 1, nil
}

func (r *taskRepository) GetStopRequest(id string) (string, error) {
	var stop string
	err := r.db.QueryRow(`SELECT stop_requested FROM collection_tasks WHERE id = ?`, id).Scan(&stop)
	if err == sql.ErrNoRows {
		return StopCancel, nil // task deleted underneath us, stop
	}
	if err != nil {
		return "", fmt.Errorf("failed to get stop request: %w", err)
	}
	return stop, nil
}

// CancelInactive cancels a task that is not running (pending or paused).
// Running tasks are cancelled cooperatively via RequestStop.
func (r *taskRepository) CancelInactive(id string) (bool, error) {
	now := time.Now().UTC()
	res, err := r.db.Exec(`
		UPDATE collection_tasks
		SET status = 'cancelled', finished_at = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'paused')
	`, now, now, id)
	if err != nil {
		return false, fmt.Errorf("failed to cancel task: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return affected == 1, nil
}

func (r *taskRepository) MarkPaused(id string) error {
	now := time.Now().UTC()
	return r.transitionFromRunning(id, `
		UPDATE collection_tasks
		SET status = 'paused', stop_requested = '', updated_at = ?
		WHERE id = ? AND status = 'running'
	`, now, id)
}

func (r *taskRepository) MarkCompleted(id string) error {
	now := time.Now().UTC()
	return r.transitionFromRunning(id, `
		UPDATE collection_tasks
		SET status = 'completed', stop_requested = '', finished_at = ?, updated_at = ?
		WHERE id = ? AND status = 'running'
	`, now, now, id)
}

func (r *taskRepository) MarkCancelled(id string) error {
	now := time.Now().UTC()
	return r.transitionFromRunning(id, `
		UPDATE collection_tasks
		SET status = 'cancelled', stop_requested = '', finished_at = ?, updated_at = ?
		WHERE id = ? AND status = 'running'
	`, now, now, id)
}

func (r *taskRepository) MarkFailed(id string, lastError string) error {
	now := time.Now().UTC()
	return r.transitionFromRunning(id, `
		UPDATE collection_tasks
		SET status = 'failed', stop_requested = '', last_error = ?, finished_at = ?, updated_at = ?
		WHERE id = ? AND status = 'running'
	`, lastError, now, now, id)
}

func (r *taskRepository) transitionFromRunning(id, query string, args ...any) error {
	res, err := r.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to transition task: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected != 1 {
		return fmt.Errorf("task %s is not running", id)
	}

	return nil
}

func (r *taskRepository) DeleteTask(id string) (bool, error) {
	res, err := r.db.Exec(`
		DELETE FROM collection_tasks
		WHERE id = ? AND status IN ('completed', 'failed', 'cancelled')
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete task: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return affected == 1, nil
}

func (r *taskRepository) UpdateProgress(id string, counters TaskCounters, cursor Checkpoint) error {
	_, err := r.db.Exec(`
		UPDATE collection_tasks
		SET processed = ?, new_count = ?, updated_count = ?, skipped_count = ?, error_count = ?,
		    cursor_source_id = ?, cursor_page = ?, cursor_total_pages = ?,
		    updated_at = ?
		WHERE id = ?
	`, counters.Processed, counters.New, counters.Updated, counters.Skipped, counters.Errors,
		cursor.SourceID, cursor.Page, cursor.TotalPages, time.Now().UTC(), id)

	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}

	return nil
}

func (r *taskRepository) SaveCheckpoint(cp Checkpoint) error {
	_, err := r.db.Exec(`
		INSERT INTO task_checkpoints (task_id, source_id, page, total_pages, done)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (task_id, source_id) DO UPDATE SET
			page = excluded.page,
			total_pages = excluded.total_pages,
			done = excluded.done
	`, cp.TaskID, cp.SourceID, cp.Page, cp.TotalPages, cp.Done)

	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	return nil
}

func (r *taskRepository) GetCheckpoints(taskID string) (map[string]Checkpoint, error) {
	rows, err := r.db.Query(`
		SELECT task_id, source_id, page, total_pages, done
		FROM task_checkpoints
		WHERE task_id = ?
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoints: %w", err)
	}
	defer rows.Close()

	checkpoints := make(map[string]Checkpoint)
	for rows.Next() {
		var cp Checkpoint
		if err := rows.Scan(&cp.TaskID, &cp.SourceID, &cp.Page, &cp.TotalPages, &cp.Done); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		checkpoints[cp.SourceID] = cp
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoint rows: %w", err)
	}

	return checkpoints, nil
}

func (r *taskRepository) AppendLog(taskID, level, action, message string) error {
	_, err := r.db.Exec(`
		INSERT INTO task_logs (task_id, level, action, message, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, taskID, level, action, message, time.Now().UTC())

	if err != nil {
		return fmt.Errorf("failed to append task log: %w", err)
	}

	return nil
}

func (r *taskRepository) GetLogs(taskID string, limit int) ([]TaskLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(`
		SELECT id, task_id, level, action, message, created_at
		FROM task_logs
		WHERE task_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get task logs: %w", err)
	}
	defer rows.Close()

	var entries []TaskLogEntry
	for rows.Next() {
		var e TaskLogEntry
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Level, &e.Action, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan log row: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating log rows: %w", err)
	}

	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*CollectionTask, error) {
	var task CollectionTask
	var startedAt, finishedAt sql.NullTime
	err := row.Scan(
		&task.ID, &task.Type, &task.Status, &task.Priority,
		&task.Counters.Processed, &task.Counters.New, &task.Counters.Updated,
		&task.Counters.Skipped, &task.Counters.Errors,
		&task.CursorSourceID, &task.CursorPage, &task.CursorTotalPages,
		&task.ScopeSourceID, &task.ScopeCategoryID, &task.Hours,
		&task.StopRequested, &task.LastError,
		&task.CreatedAt, &startedAt, &finishedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		task.FinishedAt = &finishedAt.Time
	}

	return &task, nil
}
