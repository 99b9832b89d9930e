package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
// Timestamps are stored as RFC 3339 text in UTC.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS emails (
	id            TEXT PRIMARY KEY,
	sender        TEXT NOT NULL DEFAULT '',
	subject       TEXT NOT NULL DEFAULT '',
	body          TEXT NOT NULL DEFAULT '',
	received_at   TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL DEFAULT '',
	action_items  TEXT NOT NULL DEFAULT 'null',
	draft         TEXT NOT NULL DEFAULT '',
	not_draftable INTEGER NOT NULL DEFAULT 0 CHECK(not_draftable IN (0, 1)),
	status        TEXT NOT NULL DEFAULT 'new',
	failed_stage  TEXT NOT NULL DEFAULT '',
	last_error    TEXT NOT NULL DEFAULT '',
	updated_at    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS chat_turns (
	id         TEXT PRIMARY KEY,
	email_id   TEXT NOT NULL REFERENCES emails(id) ON DELETE CASCADE,
	seq        INTEGER NOT NULL,
	role       TEXT NOT NULL CHECK(role IN ('user', 'assistant')),
	text       TEXT NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE(email_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_emails_status ON emails(status);
CREATE INDEX IF NOT EXISTS idx_emails_received_at ON emails(received_at);
CREATE INDEX IF NOT EXISTS idx_chat_turns_email_id ON chat_turns(email_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS prompt_templates (
	name       TEXT PRIMARY KEY,
	body       TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
	{
		version: 3,
		sql: `
CREATE TABLE IF NOT EXISTS deleted_emails (
	id         TEXT PRIMARY KEY,
	deleted_at TEXT NOT NULL
);

INSERT INTO schema_version (version) VALUES (3);
`,
	},
}
