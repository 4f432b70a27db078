package store

var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		job_id TEXT PRIMARY KEY,
		operation TEXT NOT NULL,
		status TEXT NOT NULL,
		payload BLOB NOT NULL,
		submitted_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		failure_reason TEXT,
		message_id TEXT NOT NULL UNIQUE,
		source_identity TEXT NOT NULL,
		destination_identity TEXT NOT NULL,
		ttl_ms INTEGER NOT NULL DEFAULT 0,
		deadline_at TEXT,
		transport_hint TEXT,
		requested_transport TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_updated_at ON jobs(updated_at)`,

	`CREATE TABLE IF NOT EXISTS job_attempts (
		job_id TEXT NOT NULL REFERENCES jobs(job_id),
		attempt_no INTEGER NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		status TEXT NOT NULL,
		diagnostic TEXT,
		PRIMARY KEY (job_id, attempt_no)
	)`,

	`CREATE TABLE IF NOT EXISTS job_results (
		job_id TEXT PRIMARY KEY REFERENCES jobs(job_id),
		result BLOB NOT NULL,
		completed_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS cached_events (
		event_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		source_identity TEXT NOT NULL,
		payload BLOB NOT NULL,
		received_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cached_events_received_at ON cached_events(received_at)`,

	`CREATE TABLE IF NOT EXISTS cached_messages (
		message_id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		operation TEXT NOT NULL,
		source_identity TEXT NOT NULL,
		correlation_id TEXT,
		payload BLOB NOT NULL,
		received_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cached_messages_received_at ON cached_messages(received_at)`,

	`CREATE TABLE IF NOT EXISTS transfers (
		transfer_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		metadata TEXT NOT NULL,
		submitted_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		failure_reason TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transfers_updated_at ON transfers(updated_at)`,

	`CREATE TABLE IF NOT EXISTS acl_allowlist (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		identity_hash TEXT NOT NULL UNIQUE,
		note TEXT,
		created_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS acl_denylist (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		identity_hash TEXT NOT NULL UNIQUE,
		note TEXT,
		created_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS node_config_revisions (
		revision_id INTEGER PRIMARY KEY AUTOINCREMENT,
		config TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
}
