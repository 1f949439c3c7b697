package history

// schema contains the DDL for the journal.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS generations (
		task_id       TEXT PRIMARY KEY,
		model         TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL,
		error         TEXT NOT NULL DEFAULT '',
		output        TEXT NOT NULL DEFAULT '',
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		retry_count   INTEGER NOT NULL DEFAULT 0,
		created_at    TEXT NOT NULL,
		settled_at    TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_generations_status ON generations(status)`,
	`CREATE INDEX IF NOT EXISTS idx_generations_settled_at ON generations(settled_at)`,
}
