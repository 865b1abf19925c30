package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/zaggy/mcc/pkg/models"
)

// Task CRUD operations. Transition *validation* lives in the orchestrator;
// this layer only persists whatever the owning component committed to.

// CreateTask inserts a new task.
func (db *DB) CreateTask(t *models.Task) error {
	_, err := db.Exec(`
		INSERT INTO tasks (id, title, description, definition_of_done, status, priority,
			project_id, assigned_to, issue_number, pr_number, total_tokens,
			total_cost_micros, retry_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Title, t.Description, t.DefinitionOfDone, string(t.Status), string(t.Priority),
		t.ProjectID, nullableString(t.AssignedTo), nullableInt(t.IssueNumber), nullableInt(t.PRNumber),
		t.TotalTokens, int64(t.TotalCost), t.RetryCount, FormatTime(t.CreatedAt), FormatTime(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID. Returns nil if not found.
func (db *DB) GetTask(id string) (*models.Task, error) {
	row := db.QueryRow(`
		SELECT id, title, description, definition_of_done, status, priority, project_id,
			assigned_to, issue_number, pr_number, total_tokens, total_cost_micros,
			retry_count, created_at, updated_at, completed_at
		FROM tasks WHERE id = ?
	`, id)
	return scanTask(row)
}

// scanner abstracts *sql.Row and *sql.Rows for task scanning.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*models.Task, error) {
	var t models.Task
	var desc, dod, assignedTo sql.NullString
	var issue, pr sql.NullInt64
	var costMicros int64
	var createdAt, updatedAt string
	var completedAt sql.NullString

	err := row.Scan(&t.ID, &t.Title, &desc, &dod, &t.Status, &t.Priority, &t.ProjectID,
		&assignedTo, &issue, &pr, &t.TotalTokens, &costMicros,
		&t.RetryCount, &createdAt, &updatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	t.Description = desc.String
	t.DefinitionOfDone = dod.String
	t.AssignedTo = assignedTo.String
	t.IssueNumber = int(issue.Int64)
	t.PRNumber = int(pr.Int64)
	t.TotalCost = models.MicroUSD(costMicros)
	t.CreatedAt, _ = ParseTime(createdAt)
	t.UpdatedAt, _ = ParseTime(updatedAt)
	t.CompletedAt = parseNullableTime(completedAt)
	return &t, nil
}

// UpdateTaskStatus moves a task to a new status, guarded by the expected
// current status so concurrent transitions cannot both win. Returns
// sql.ErrNoRows semantics as changed=false when the guard fails.
func (db *DB) UpdateTaskStatus(id string, from, to models.TaskStatus, assignedTo string, now time.Time) (bool, error) {
	var completedAt any
	if to.Terminal() {
		completedAt = FormatTime(now)
	}

	res, err := db.Exec(`
		UPDATE tasks SET status = ?, assigned_to = ?, updated_at = ?, completed_at = COALESCE(?, completed_at)
		WHERE id = ? AND status = ?
	`, string(to), nullableString(assignedTo), FormatTime(now), completedAt, id, string(from))
	if err != nil {
		return false, fmt.Errorf("update task status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// SetTaskPR records the pull request associated with a task.
func (db *DB) SetTaskPR(id string, pr int, now time.Time) error {
	_, err := db.Exec(`UPDATE tasks SET pr_number = ?, updated_at = ? WHERE id = ?`,
		pr, FormatTime(now), id)
	if err != nil {
		return fmt.Errorf("set task pr: %w", err)
	}
	return nil
}

// IncrementTaskRetry bumps the retry counter.
func (db *DB) IncrementTaskRetry(id string, now time.Time) error {
	_, err := db.Exec(`UPDATE tasks SET retry_count = retry_count + 1, updated_at = ? WHERE id = ?`,
		FormatTime(now), id)
	if err != nil {
		return fmt.Errorf("increment task retry: %w", err)
	}
	return nil
}

// ListTasks lists tasks for a project, optionally filtered by status,
// ordered urgent-first then oldest-first.
func (db *DB) ListTasks(projectID string, status *models.TaskStatus) ([]models.Task, error) {
	query := `
		SELECT id, title, description, definition_of_done, status, priority, project_id,
			assigned_to, issue_number, pr_number, total_tokens, total_cost_micros,
			retry_count, created_at, updated_at, completed_at
		FROM tasks WHERE project_id = ?`
	args := []any{projectID}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, string(*status))
	}
	query += `
		ORDER BY CASE priority
			WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 ELSE 3
		END, created_at ASC`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// PurgeTask removes a task and is intended for administrative cleanup only;
// workflow transitions never delete tasks.
func (db *DB) PurgeTask(id string) error {
	_, err := db.Exec("DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("purge task: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
