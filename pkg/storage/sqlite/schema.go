package sqlite

// Times are unix nanoseconds, 0 for unset. Hashtags, raw payloads and run
// errors are JSON text.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS posts (
		id          TEXT PRIMARY KEY,
		topic_id    TEXT NOT NULL,
		run_id      TEXT NOT NULL DEFAULT '',
		author      TEXT NOT NULL DEFAULT '',
		author_name TEXT NOT NULL DEFAULT '',
		text        TEXT NOT NULL DEFAULT '',
		created_at  INTEGER NOT NULL DEFAULT 0,
		likes       INTEGER NOT NULL DEFAULT 0,
		reposts     INTEGER NOT NULL DEFAULT 0,
		replies     INTEGER NOT NULL DEFAULT 0,
		views       INTEGER NOT NULL DEFAULT 0,
		language    TEXT NOT NULL DEFAULT '',
		hashtags    TEXT NOT NULL DEFAULT '[]',
		is_repost   INTEGER NOT NULL DEFAULT 0,
		parent_id   TEXT NOT NULL DEFAULT '',
		raw         TEXT,
		scraped_at  INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS posts_topic_created ON posts (topic_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS checkpoints (
		topic_id          TEXT PRIMARY KEY,
		next_cursor       TEXT NOT NULL DEFAULT '',
		newest_post_id    TEXT NOT NULL DEFAULT '',
		newest_post_at    INTEGER NOT NULL DEFAULT 0,
		last_success_at   INTEGER NOT NULL DEFAULT 0,
		consecutive_empty INTEGER NOT NULL DEFAULT 0,
		pages_committed   INTEGER NOT NULL DEFAULT 0,
		posts_stored      INTEGER NOT NULL DEFAULT 0,
		version           INTEGER NOT NULL,
		reset_at          INTEGER NOT NULL DEFAULT 0,
		updated_at        INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS runs (
		id               TEXT PRIMARY KEY,
		started_at       INTEGER NOT NULL,
		finished_at      INTEGER,
		status           TEXT NOT NULL,
		topics_attempted INTEGER NOT NULL DEFAULT 0,
		topics_succeeded INTEGER NOT NULL DEFAULT 0,
		topics_deferred  INTEGER NOT NULL DEFAULT 0,
		topics_errored   INTEGER NOT NULL DEFAULT 0,
		topics_skipped   INTEGER NOT NULL DEFAULT 0,
		posts_seen       INTEGER NOT NULL DEFAULT 0,
		posts_stored     INTEGER NOT NULL DEFAULT 0,
		errors           TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS runs_started ON runs (started_at)`,
}
