package db

const (
	CreateMigrationsTable = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`

	ListAppliedMigrations = `SELECT version FROM schema_migrations`

	RecordMigration = `INSERT INTO schema_migrations (version) VALUES (?)`
)

const (
	listPending = "pending"
	listFailed  = "failed"

	ClearSnapshot = `DELETE FROM queue_snapshot`

	InsertSnapshotJob = `
		INSERT INTO queue_snapshot (list, position, job_id, printer_name, status, attempts, job_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	ListSnapshotJobs = `
		SELECT list, job_json
		FROM queue_snapshot ORDER BY list ASC, position ASC
	`
)
