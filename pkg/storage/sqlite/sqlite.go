package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"harvester/pkg/checkpoint"
	"harvester/pkg/logger"
	"harvester/pkg/models"
	"harvester/pkg/storage"
)

var _ storage.Backend = (*Backend)(nil)

var (
	postColumns = []string{
		"id", "topic_id", "run_id", "author", "author_name", "text", "created_at",
		"likes", "reposts", "replies", "views", "language", "hashtags",
		"is_repost", "parent_id", "raw", "scraped_at",
	}
	checkpointColumns = []string{
		"topic_id", "next_cursor", "newest_post_id", "newest_post_at", "last_success_at",
		"consecutive_empty", "pages_committed", "posts_stored", "version", "reset_at", "updated_at",
	}
	runColumns = []string{
		"id", "started_at", "finished_at", "status", "topics_attempted", "topics_succeeded",
		"topics_deferred", "topics_errored", "topics_skipped", "posts_seen", "posts_stored", "errors",
	}
)

// Backend stores posts, checkpoints and runs in a SQLite file
type Backend struct {
	db     *sql.DB
	logger logger.Logger
}

// Open opens (creating if needed) the database at dsn and applies the schema
func Open(ctx context.Context, dsn string, log logger.Logger) (*Backend, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	db, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	b := &Backend{db: db, logger: log.WithField("component", "sqlite")}
	if err := b.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	b.logger.DebugWithFields("SQLite storage ready", map[string]interface{}{"dsn": dsn})
	return b, nil
}

func withPragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func (b *Backend) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (b *Backend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *Backend) Close() error {
	return b.db.Close()
}

// CommitPage inserts new posts and advances the checkpoint in one transaction
func (b *Backend) CommitPage(ctx context.Context, topicID string, page checkpoint.Page) (*checkpoint.Result, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	prev, err := loadCheckpoint(ctx, tx, topicID)
	if err != nil {
		return nil, err
	}

	stored := 0
	for _, p := range page.Posts {
		query, args, err := insertPost(p).ToSql()
		if err != nil {
			return nil, fmt.Errorf("build post insert: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("insert post %s: %w", p.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			stored++
		}
	}

	next, err := checkpoint.Advance(prev, topicID, page, stored)
	if err != nil {
		return nil, err
	}
	if err := upsertCheckpoint(ctx, tx, next, page.ExpectedVersion); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return &checkpoint.Result{Seen: len(page.Posts), Stored: stored, Checkpoint: next}, nil
}

func (b *Backend) LoadCheckpoint(ctx context.Context, topicID string) (*models.Checkpoint, error) {
	return loadCheckpoint(ctx, b.db, topicID)
}

func (b *Backend) ListCheckpoints(ctx context.Context) ([]*models.Checkpoint, error) {
	query, args, err := sq.Select(checkpointColumns...).From("checkpoints").OrderBy("topic_id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build checkpoint query: %w", err)
	}
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*models.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return out, nil
}

func (b *Backend) ResetCheckpoint(ctx context.Context, topicID string, at time.Time) (*models.Checkpoint, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	prev, err := loadCheckpoint(ctx, tx, topicID)
	if err != nil {
		return nil, err
	}
	var version int64
	if prev != nil {
		version = prev.Version
	}

	next := checkpoint.Cleared(prev, topicID, at)
	if err := upsertCheckpoint(ctx, tx, next, version); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return next, nil
}

func (b *Backend) CreateRun(ctx context.Context, run *models.Run) error {
	errs, err := json.Marshal(nonNilErrors(run.Errors))
	if err != nil {
		return fmt.Errorf("encode run errors: %w", err)
	}
	query, args, err := sq.Insert("runs").Columns(runColumns...).Values(
		run.ID, nanos(run.StartedAt), nullNanos(run.FinishedAt), string(run.Status),
		run.TopicsAttempted, run.TopicsSucceeded, run.TopicsDeferred, run.TopicsErrored,
		run.TopicsSkipped, run.PostsSeen, run.PostsStored, string(errs),
	).ToSql()
	if err != nil {
		return fmt.Errorf("build run insert: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

func (b *Backend) FinalizeRun(ctx context.Context, run *models.Run) error {
	errs, err := json.Marshal(nonNilErrors(run.Errors))
	if err != nil {
		return fmt.Errorf("encode run errors: %w", err)
	}
	query, args, err := sq.Update("runs").SetMap(map[string]interface{}{
		"finished_at":      nullNanos(run.FinishedAt),
		"status":           string(run.Status),
		"topics_attempted": run.TopicsAttempted,
		"topics_succeeded": run.TopicsSucceeded,
		"topics_deferred":  run.TopicsDeferred,
		"topics_errored":   run.TopicsErrored,
		"topics_skipped":   run.TopicsSkipped,
		"posts_seen":       run.PostsSeen,
		"posts_stored":     run.PostsStored,
		"errors":           string(errs),
	}).Where(sq.Eq{"id": run.ID, "finished_at": nil}).ToSql()
	if err != nil {
		return fmt.Errorf("build run update: %w", err)
	}

	res, err := b.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("finalize run %s: %w", run.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	if _, err := b.GetRun(ctx, run.ID); err != nil {
		return err
	}
	return storage.ErrRunFinalized
}

func (b *Backend) GetRun(ctx context.Context, id string) (*models.Run, error) {
	query, args, err := sq.Select(runColumns...).From("runs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build run query: %w", err)
	}
	run, err := scanRun(b.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return run, err
}

func (b *Backend) ListRuns(ctx context.Context, limit int) ([]*models.Run, error) {
	builder := sq.Select(runColumns...).From("runs").OrderBy("started_at DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build run query: %w", err)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

func (b *Backend) GetPost(ctx context.Context, id string) (*models.Post, error) {
	query, args, err := sq.Select(postColumns...).From("posts").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build post query: %w", err)
	}

	var (
		p                    models.Post
		createdAt, scrapedAt int64
		hashtags             string
		raw                  sql.NullString
	)
	err = b.db.QueryRowContext(ctx, query, args...).Scan(
		&p.ID, &p.TopicID, &p.RunID, &p.Author, &p.AuthorName, &p.Text, &createdAt,
		&p.Likes, &p.Reposts, &p.Replies, &p.Views, &p.Language, &hashtags,
		&p.IsRepost, &p.ParentID, &raw, &scrapedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan post: %w", err)
	}

	p.CreatedAt = fromNanos(createdAt)
	p.ScrapedAt = fromNanos(scrapedAt)
	if err := json.Unmarshal([]byte(hashtags), &p.Hashtags); err != nil {
		return nil, fmt.Errorf("decode hashtags: %w", err)
	}
	if raw.Valid {
		p.Raw = json.RawMessage(raw.String)
	}
	return &p, nil
}

func (b *Backend) CountPosts(ctx context.Context) (int64, error) {
	var n int64
	if err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM posts").Scan(&n); err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return n, nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func loadCheckpoint(ctx context.Context, q queryer, topicID string) (*models.Checkpoint, error) {
	query, args, err := sq.Select(checkpointColumns...).From("checkpoints").Where(sq.Eq{"topic_id": topicID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build checkpoint query: %w", err)
	}
	cp, err := scanCheckpoint(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return cp, err
}

func scanCheckpoint(row scanner) (*models.Checkpoint, error) {
	var (
		cp                                      models.Checkpoint
		newestAt, successAt, resetAt, updatedAt int64
	)
	err := row.Scan(&cp.TopicID, &cp.Cursor, &cp.NewestPostID, &newestAt, &successAt,
		&cp.ConsecutiveEmpty, &cp.PagesCommitted, &cp.PostsStored, &cp.Version, &resetAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}
	cp.NewestPostAt = fromNanos(newestAt)
	cp.LastSuccessAt = fromNanos(successAt)
	cp.ResetAt = fromNanos(resetAt)
	cp.UpdatedAt = fromNanos(updatedAt)
	return &cp, nil
}

// upsertCheckpoint writes next only if the stored row is still at
// prevVersion. Zero rows affected means another writer got there first.
func upsertCheckpoint(ctx context.Context, tx *sql.Tx, next *models.Checkpoint, prevVersion int64) error {
	query, args, err := sq.Insert("checkpoints").Columns(checkpointColumns...).Values(
		next.TopicID, next.Cursor, next.NewestPostID, nanos(next.NewestPostAt), nanos(next.LastSuccessAt),
		next.ConsecutiveEmpty, next.PagesCommitted, next.PostsStored, next.Version,
		nanos(next.ResetAt), nanos(next.UpdatedAt),
	).Suffix(`ON CONFLICT (topic_id) DO UPDATE SET
		next_cursor = excluded.next_cursor,
		newest_post_id = excluded.newest_post_id,
		newest_post_at = excluded.newest_post_at,
		last_success_at = excluded.last_success_at,
		consecutive_empty = excluded.consecutive_empty,
		pages_committed = excluded.pages_committed,
		posts_stored = excluded.posts_stored,
		version = excluded.version,
		reset_at = excluded.reset_at,
		updated_at = excluded.updated_at
		WHERE checkpoints.version = ?`, prevVersion).ToSql()
	if err != nil {
		return fmt.Errorf("build checkpoint upsert: %w", err)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("upsert checkpoint %q: %w", next.TopicID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: topic %q moved past version %d", checkpoint.ErrStaleCheckpoint, next.TopicID, prevVersion)
	}
	return nil
}

func insertPost(p models.Post) sq.InsertBuilder {
	hashtags := p.Hashtags
	if hashtags == nil {
		hashtags = []string{}
	}
	tags, _ := json.Marshal(hashtags)

	var raw interface{}
	if len(p.Raw) > 0 {
		raw = string(p.Raw)
	}

	return sq.Insert("posts").Columns(postColumns...).Values(
		p.ID, p.TopicID, p.RunID, p.Author, p.AuthorName, p.Text, nanos(p.CreatedAt),
		p.Likes, p.Reposts, p.Replies, p.Views, p.Language, string(tags),
		p.IsRepost, p.ParentID, raw, nanos(p.ScrapedAt),
	).Suffix("ON CONFLICT (id) DO NOTHING")
}

func scanRun(row scanner) (*models.Run, error) {
	var (
		run        models.Run
		startedAt  int64
		finishedAt sql.NullInt64
		status     string
		errs       string
	)
	err := row.Scan(&run.ID, &startedAt, &finishedAt, &status, &run.TopicsAttempted,
		&run.TopicsSucceeded, &run.TopicsDeferred, &run.TopicsErrored, &run.TopicsSkipped,
		&run.PostsSeen, &run.PostsStored, &errs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	run.StartedAt = fromNanos(startedAt)
	run.Status = models.RunStatus(status)
	if finishedAt.Valid {
		t := fromNanos(finishedAt.Int64)
		run.FinishedAt = &t
	}
	if err := json.Unmarshal([]byte(errs), &run.Errors); err != nil {
		return nil, fmt.Errorf("decode run errors: %w", err)
	}
	if len(run.Errors) == 0 {
		run.Errors = nil
	}
	return &run, nil
}

func nonNilErrors(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func nullNanos(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
