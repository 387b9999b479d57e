package postgres

var schema = []string{
	`CREATE TABLE IF NOT EXISTS posts (
		id          TEXT PRIMARY KEY,
		topic_id    TEXT NOT NULL,
		run_id      TEXT NOT NULL DEFAULT '',
		author      TEXT NOT NULL DEFAULT '',
		author_name TEXT NOT NULL DEFAULT '',
		text        TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ,
		likes       BIGINT NOT NULL DEFAULT 0,
		reposts     BIGINT NOT NULL DEFAULT 0,
		replies     BIGINT NOT NULL DEFAULT 0,
		views       BIGINT NOT NULL DEFAULT 0,
		language    TEXT NOT NULL DEFAULT '',
		hashtags    TEXT[] NOT NULL DEFAULT '{}',
		is_repost   BOOLEAN NOT NULL DEFAULT FALSE,
		parent_id   TEXT NOT NULL DEFAULT '',
		raw         JSONB,
		scraped_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS posts_topic_created ON posts (topic_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS checkpoints (
		topic_id          TEXT PRIMARY KEY,
		next_cursor       TEXT NOT NULL DEFAULT '',
		newest_post_id    TEXT NOT NULL DEFAULT '',
		newest_post_at    TIMESTAMPTZ,
		last_success_at   TIMESTAMPTZ,
		consecutive_empty INTEGER NOT NULL DEFAULT 0,
		pages_committed   BIGINT NOT NULL DEFAULT 0,
		posts_stored      BIGINT NOT NULL DEFAULT 0,
		version           BIGINT NOT NULL,
		reset_at          TIMESTAMPTZ,
		updated_at        TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS runs (
		id               TEXT PRIMARY KEY,
		started_at       TIMESTAMPTZ NOT NULL,
		finished_at      TIMESTAMPTZ,
		status           TEXT NOT NULL,
		topics_attempted INTEGER NOT NULL DEFAULT 0,
		topics_succeeded INTEGER NOT NULL DEFAULT 0,
		topics_deferred  INTEGER NOT NULL DEFAULT 0,
		topics_errored   INTEGER NOT NULL DEFAULT 0,
		topics_skipped   INTEGER NOT NULL DEFAULT 0,
		posts_seen       BIGINT NOT NULL DEFAULT 0,
		posts_stored     BIGINT NOT NULL DEFAULT 0,
		errors           JSONB NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS runs_started ON runs (started_at DESC)`,
}
