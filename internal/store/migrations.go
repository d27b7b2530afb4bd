package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of sqlite schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS processed_emails (
	message_id   TEXT PRIMARY KEY,
	processed_at TEXT NOT NULL,
	sender       TEXT NOT NULL DEFAULT '',
	subject      TEXT NOT NULL DEFAULT '',
	contact_id   TEXT NOT NULL DEFAULT '',
	platform     TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL CHECK(status IN ('success', 'extraction_failed', 'create_failed', 'update_failed'))
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_processed_emails_processed_at
	ON processed_emails(processed_at);

CREATE INDEX IF NOT EXISTS idx_processed_emails_platform
	ON processed_emails(platform);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
