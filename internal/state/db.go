// Package state provides SQLite-based persistence for the MCC core.
// It handles both global state (~/.local/share/mcc/mcc.db) and
// project-local state (.mcc/state.db).
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps an SQLite database connection with MCC-specific operations.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// GlobalDBPath returns the path to the global MCC database.
func GlobalDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "mcc", "mcc.db")
}

// ProjectDBPath returns the path to the project-local database.
func ProjectDBPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".mcc", "state.db")
}

// Open opens an SQLite database at the given path.
// It creates the parent directories if they don't exist.
// WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// OpenGlobal opens the global MCC database.
func OpenGlobal() (*DB, error) {
	return Open(GlobalDBPath())
}

// OpenProject opens the project-local database.
func OpenProject(projectRoot string) (*DB, error) {
	return Open(ProjectDBPath(projectRoot))
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Workflow},
		{2, migrationV2Usage},
		{3, migrationV3Budgets},
		{4, migrationV4Pause},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Migration SQL statements.
//
// Status columns carry CHECK constraints so the enumerated values in
// pkg/models are the only legal strings at the storage layer too.
const migrationV1Workflow = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT,
	definition_of_done TEXT,
	status TEXT NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending', 'in_progress', 'testing', 'review', 'completed', 'failed')),
	priority TEXT NOT NULL DEFAULT 'medium'
		CHECK (priority IN ('low', 'medium', 'high', 'urgent')),
	project_id TEXT NOT NULL,
	assigned_to TEXT,
	issue_number INTEGER,
	pr_number INTEGER,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	total_cost_micros INTEGER NOT NULL DEFAULT 0,
	retry_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status_priority ON tasks(status, priority);
CREATE INDEX IF NOT EXISTS idx_tasks_assigned_to ON tasks(assigned_to);

CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	title TEXT,
	kind TEXT NOT NULL
		CHECK (kind IN ('issue', 'general', 'task', 'review')),
	status TEXT NOT NULL DEFAULT 'active'
		CHECK (status IN ('active', 'paused', 'completed', 'archived')),
	project_id TEXT,
	task_id TEXT,
	created_by_user TEXT,
	created_by_agent TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	CHECK ((created_by_user IS NULL) != (created_by_agent IS NULL))
);

CREATE INDEX IF NOT EXISTS idx_conversations_project ON conversations(project_id);
CREATE INDEX IF NOT EXISTS idx_conversations_status ON conversations(status);

CREATE TABLE IF NOT EXISTS conversation_participants (
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	agent_id TEXT NOT NULL,
	agent_name TEXT NOT NULL,
	agent_type TEXT NOT NULL,
	joined_at DATETIME NOT NULL,
	PRIMARY KEY (conversation_id, agent_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	author_type TEXT NOT NULL CHECK (author_type IN ('user', 'agent')),
	author_id TEXT NOT NULL,
	recipient_id TEXT,
	content TEXT NOT NULL,
	reply_to TEXT,
	tokens_in INTEGER NOT NULL DEFAULT 0,
	tokens_out INTEGER NOT NULL DEFAULT 0,
	cost_micros INTEGER NOT NULL DEFAULT 0,
	model TEXT,
	created_at DATETIME NOT NULL,
	UNIQUE (conversation_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);
`

const migrationV2Usage = `
CREATE TABLE IF NOT EXISTS usage_records (
	id TEXT PRIMARY KEY,
	call_id TEXT NOT NULL UNIQUE,
	timestamp DATETIME NOT NULL,
	user_id TEXT,
	agent_id TEXT NOT NULL,
	agent_type TEXT NOT NULL,
	project_id TEXT,
	conversation_id TEXT,
	task_id TEXT,
	message_id TEXT,
	model TEXT NOT NULL,
	tokens_in INTEGER NOT NULL DEFAULT 0,
	tokens_out INTEGER NOT NULL DEFAULT 0,
	cost_micros INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER,
	cached INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON usage_records(timestamp);
CREATE INDEX IF NOT EXISTS idx_usage_agent ON usage_records(agent_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_usage_agent_type ON usage_records(agent_type, timestamp);
CREATE INDEX IF NOT EXISTS idx_usage_project ON usage_records(project_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_usage_task ON usage_records(task_id);
`

const migrationV3Budgets = `
CREATE TABLE IF NOT EXISTS budget_limits (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	scope_type TEXT NOT NULL
		CHECK (scope_type IN ('global', 'project', 'agent_type', 'agent')),
	scope_id TEXT NOT NULL DEFAULT '',
	amount_micros INTEGER NOT NULL,
	period TEXT NOT NULL CHECK (period IN ('daily', 'weekly', 'monthly')),
	alert_threshold REAL NOT NULL DEFAULT 0.80,
	action_on_exceed TEXT NOT NULL DEFAULT 'warn'
		CHECK (action_on_exceed IN ('warn', 'block')),
	active INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_budget_scope ON budget_limits(scope_type, scope_id);

-- One enforced limit per scope and period. Partial index so deactivated
-- limits don't block a replacement.
CREATE UNIQUE INDEX IF NOT EXISTS idx_budget_one_active
	ON budget_limits(scope_type, scope_id, period) WHERE active = 1;

CREATE TABLE IF NOT EXISTS budget_alerts (
	limit_id TEXT NOT NULL REFERENCES budget_limits(id),
	window_start DATETIME NOT NULL,
	severity TEXT NOT NULL,
	pct REAL NOT NULL,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (limit_id, window_start)
);
`

const migrationV4Pause = `
CREATE TABLE IF NOT EXISTS pause_audit (
	version INTEGER PRIMARY KEY AUTOINCREMENT,
	paused INTEGER NOT NULL,
	actor TEXT NOT NULL,
	reason TEXT,
	created_at DATETIME NOT NULL
);
`

// Exec executes a query that doesn't return rows.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryRow(query, args...)
}

// Transaction runs the given function within a transaction.
func (db *DB) Transaction(fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// timeLayout is fixed-width so stored timestamps compare lexicographically
// in the same order as chronologically. RFC3339Nano trims trailing zeros
// and would break range queries on the timestamp columns.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime formats a time.Time for SQLite storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime parses a time string from SQLite.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := ParseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}
