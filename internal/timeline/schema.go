package timeline

// Schema creates every table the agent needs. Timestamps are stored as
// INTEGER unix milliseconds in UTC so window comparisons stay numeric.
const Schema = `
CREATE TABLE IF NOT EXISTS profiles (
	user_id TEXT PRIMARY KEY,
	display_name TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_profiles_display_name ON profiles(display_name COLLATE NOCASE);

CREATE TABLE IF NOT EXISTS channels (
	channel_id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	is_dm INTEGER NOT NULL DEFAULT 0,
	dm_user_a TEXT,
	dm_user_b TEXT,
	agent_enabled INTEGER NOT NULL DEFAULT 1,
	agent_max_posts_per_hour INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS channel_members (
	channel_id TEXT NOT NULL REFERENCES channels(channel_id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'member',
	joined_at INTEGER NOT NULL,
	PRIMARY KEY (channel_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	message_id TEXT PRIMARY KEY,
	channel_id TEXT NOT NULL REFERENCES channels(channel_id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	text TEXT NOT NULL,
	parent_message_id TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_channel_created ON messages(channel_id, created_at);

CREATE TABLE IF NOT EXISTS user_settings (
	user_id TEXT PRIMARY KEY,
	agent_auto_enabled INTEGER NOT NULL DEFAULT 0,
	agent_auto_scope TEXT NOT NULL DEFAULT 'both',
	agent_auto_expires_at INTEGER,
	agent_auto_confidence TEXT NOT NULL DEFAULT 'medium',
	agent_auto_blocked_topics TEXT NOT NULL DEFAULT '[]',
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT UNIQUE NOT NULL,
	channel_id TEXT NOT NULL,
	actor_id TEXT NOT NULL,
	command TEXT NOT NULL,
	args_json TEXT NOT NULL DEFAULT '{}',
	state TEXT NOT NULL DEFAULT 'queued',
	result_json TEXT,
	failure TEXT,
	delivery TEXT NOT NULL DEFAULT 'pending',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	claimed_at INTEGER,
	completed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_agent_tasks_state ON agent_tasks(state, created_at);
CREATE INDEX IF NOT EXISTS idx_agent_tasks_channel ON agent_tasks(channel_id, created_at);

CREATE TABLE IF NOT EXISTS agent_rate_limits (
	actor_id TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	mode TEXT NOT NULL,
	window_start INTEGER NOT NULL,
	window_expiry INTEGER NOT NULL,
	request_count INTEGER NOT NULL,
	PRIMARY KEY (actor_id, channel_id, mode)
);

CREATE TABLE IF NOT EXISTS agent_audit (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	actor_id TEXT NOT NULL DEFAULT '',
	channel_id TEXT NOT NULL DEFAULT '',
	trigger_type TEXT NOT NULL,
	confidence REAL,
	action TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agent_audit_actor ON agent_audit(actor_id, created_at);
CREATE INDEX IF NOT EXISTS idx_agent_audit_channel ON agent_audit(channel_id, created_at);

CREATE TRIGGER IF NOT EXISTS agent_audit_no_update BEFORE UPDATE ON agent_audit
BEGIN
	SELECT RAISE(ABORT, 'agent_audit is append-only');
END;
CREATE TRIGGER IF NOT EXISTS agent_audit_no_delete BEFORE DELETE ON agent_audit
BEGIN
	SELECT RAISE(ABORT, 'agent_audit is append-only');
END;

CREATE TABLE IF NOT EXISTS agent_drafts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	source_message_id TEXT NOT NULL,
	content TEXT NOT NULL,
	confidence REAL NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agent_drafts_user ON agent_drafts(user_id, created_at);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`
