package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// CurrentSchemaVersion is the schema version this binary expects.
const CurrentSchemaVersion = 1

// initializeSchema brings the database to CurrentSchemaVersion, creating
// everything from scratch on a fresh database.
func initializeSchema(db *sql.DB) error {
	version, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version == 0 {
		return createSchema(db)
	}
	if version == CurrentSchemaVersion {
		return nil
	}
	return runMigrations(db, version, CurrentSchemaVersion)
}

// runMigrations is a placeholder for future schema evolution; no versions
// beyond 1 exist yet.
func runMigrations(_ *sql.DB, fromVersion, toVersion int) error {
	return fmt.Errorf("no migration path from schema version %d to %d", fromVersion, toVersion)
}

// GetSchemaVersion returns the current schema version, creating the
// version-tracking table if it does not exist yet.
func GetSchemaVersion(db *sql.DB) (int, error) {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`); err != nil {
		return 0, fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("scan schema version: %w", err)
	}
	return version, nil
}

func setSchemaVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, version); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

// createSchema creates every table and index the orchestration core needs.
func createSchema(db *sql.DB) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			external_item_id TEXT NOT NULL,
			external_project_id TEXT NOT NULL,
			repository_full_name TEXT NOT NULL,
			repository_id INTEGER NOT NULL DEFAULT 0,
			installation_id INTEGER NOT NULL DEFAULT 0,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL CHECK (status IN (
				'pending','decomposing','executing','review','human_review','pr_created','done','failed'
			)),
			branch_name TEXT NOT NULL DEFAULT '',
			pull_request_number INTEGER,
			pull_request_url TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			human_review_question TEXT NOT NULL DEFAULT '',
			human_review_answer TEXT NOT NULL DEFAULT '',
			retry_count INTEGER NOT NULL DEFAULT 0,
			is_epic INTEGER NOT NULL DEFAULT 0,
			parent_task_id TEXT REFERENCES tasks(id),
			linked_issue_number INTEGER,
			child_dependencies TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			started_at DATETIME,
			completed_at DATETIME,
			CHECK (retry_count >= 0),
			CHECK (NOT is_epic OR parent_task_id IS NULL)
		)`,
		`CREATE TABLE IF NOT EXISTS subtasks (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			subproject_path TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL CHECK (status IN ('pending','queued','running','completed','failed')),
			depends_on TEXT NOT NULL DEFAULT '[]',
			last_agent_run_id TEXT,
			files_modified TEXT NOT NULL DEFAULT '[]',
			error_message TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			started_at DATETIME,
			completed_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS agent_runs (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			subtask_id TEXT REFERENCES subtasks(id) ON DELETE SET NULL,
			type TEXT NOT NULL CHECK (type IN ('master','sub_agent','code_review')),
			status TEXT NOT NULL CHECK (status IN ('starting','running','completed','failed','timeout')),
			model TEXT NOT NULL DEFAULT '',
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			log TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			started_at DATETIME,
			completed_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS pull_requests (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			repository_full_name TEXT NOT NULL,
			number INTEGER NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			branch_name TEXT NOT NULL DEFAULT '',
			head_commit_id TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL CHECK (status IN ('open','merged','closed')),
			reviews_passed INTEGER NOT NULL DEFAULT 0,
			check_status TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE TABLE IF NOT EXISTS code_reviews (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			agent_run_id TEXT NOT NULL,
			result TEXT NOT NULL CHECK (result IN ('approved','changes_requested','failed')),
			iteration INTEGER NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			issues TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			type TEXT NOT NULL,
			channel TEXT NOT NULL CHECK (channel IN ('telegram','slack','webhook')),
			payload TEXT NOT NULL DEFAULT '',
			sent_at DATETIME,
			error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS queue_jobs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			queue_name TEXT NOT NULL,
			job_id TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','claimed','done','dead')),
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL DEFAULT 5,
			run_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			claimed_by TEXT NOT NULL DEFAULT '',
			claimed_at DATETIME,
			last_error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			UNIQUE (queue_name, job_id)
		)`,
	}

	indices := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_external_item ON tasks(external_item_id) WHERE external_item_id <> ''",
		"CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)",
		"CREATE INDEX IF NOT EXISTS idx_tasks_repo ON tasks(repository_full_name)",
		"CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_task_id)",
		"CREATE INDEX IF NOT EXISTS idx_tasks_is_epic ON tasks(is_epic)",
		"CREATE INDEX IF NOT EXISTS idx_subtasks_task ON subtasks(task_id)",
		"CREATE INDEX IF NOT EXISTS idx_subtasks_status ON subtasks(status)",
		"CREATE INDEX IF NOT EXISTS idx_agent_runs_task ON agent_runs(task_id)",
		"CREATE INDEX IF NOT EXISTS idx_agent_runs_subtask ON agent_runs(subtask_id)",
		"CREATE INDEX IF NOT EXISTS idx_pull_requests_task ON pull_requests(task_id)",
		"CREATE INDEX IF NOT EXISTS idx_pull_requests_repo ON pull_requests(repository_full_name)",
		"CREATE INDEX IF NOT EXISTS idx_code_reviews_task ON code_reviews(task_id)",
		"CREATE INDEX IF NOT EXISTS idx_notifications_task ON notifications(task_id)",
		"CREATE INDEX IF NOT EXISTS idx_queue_jobs_poll ON queue_jobs(queue_name, status, run_at)",
	}

	for _, ddl := range tables {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	for _, ddl := range indices {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return setSchemaVersion(db, CurrentSchemaVersion)
}
