package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"harvester/pkg/checkpoint"
	"harvester/pkg/logger"
	"harvester/pkg/models"
	"harvester/pkg/storage"
)

var _ storage.Backend = (*Backend)(nil)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

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

// Backend wraps a PostgreSQL connection pool
type Backend struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

// Connect establishes a connection pool and applies the schema
func Connect(ctx context.Context, databaseURL string, log logger.Logger) (*Backend, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	b := &Backend{pool: pool, logger: log.WithField("component", "postgres")}
	if err := b.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := b.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (b *Backend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}

// CommitPage inserts new posts and advances the checkpoint in one transaction
func (b *Backend) CommitPage(ctx context.Context, topicID string, page checkpoint.Page) (*checkpoint.Result, error) {
	tx, err := b.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	prev, err := loadCheckpoint(ctx, tx, topicID, true)
	if err != nil {
		return nil, err
	}
	// Reject before touching posts so a stale writer does no work.
	if _, err := checkpoint.Advance(prev, topicID, checkpoint.Page{ExpectedVersion: page.ExpectedVersion}, 0); err != nil {
		return nil, err
	}

	stored, err := insertPosts(ctx, tx, page.Posts)
	if err != nil {
		return nil, err
	}

	next, err := checkpoint.Advance(prev, topicID, page, stored)
	if err != nil {
		return nil, err
	}
	if err := upsertCheckpoint(ctx, tx, next, page.ExpectedVersion); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit page: %w", err)
	}
	return &checkpoint.Result{Seen: len(page.Posts), Stored: stored, Checkpoint: next}, nil
}

func insertPosts(ctx context.Context, tx pgx.Tx, posts []models.Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, p := range posts {
		hashtags := p.Hashtags
		if hashtags == nil {
			hashtags = []string{}
		}
		var raw []byte
		if len(p.Raw) > 0 {
			raw = []byte(p.Raw)
		}

		query, args, err := psql.Insert("posts").Columns(postColumns...).Values(
			p.ID, p.TopicID, p.RunID, p.Author, p.AuthorName, p.Text, nullTime(p.CreatedAt),
			p.Likes, p.Reposts, p.Replies, p.Views, p.Language, hashtags,
			p.IsRepost, p.ParentID, raw, p.ScrapedAt,
		).Suffix("ON CONFLICT (id) DO NOTHING").ToSql()
		if err != nil {
			return 0, fmt.Errorf("failed to build post insert: %w", err)
		}
		batch.Queue(query, args...)
	}

	br := tx.SendBatch(ctx, batch)
	stored := 0
	for _, p := range posts {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, fmt.Errorf("failed to insert post %s: %w", p.ID, err)
		}
		stored += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("failed to insert posts: %w", err)
	}
	return stored, nil
}

func (b *Backend) LoadCheckpoint(ctx context.Context, topicID string) (*models.Checkpoint, error) {
	return loadCheckpoint(ctx, b.pool, topicID, false)
}

func (b *Backend) ListCheckpoints(ctx context.Context) ([]*models.Checkpoint, error) {
	query, args, err := psql.Select(checkpointColumns...).From("checkpoints").OrderBy("topic_id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build checkpoint query: %w", err)
	}
	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
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
	return out, rows.Err()
}

func (b *Backend) ResetCheckpoint(ctx context.Context, topicID string, at time.Time) (*models.Checkpoint, error) {
	tx, err := b.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	prev, err := loadCheckpoint(ctx, tx, topicID, true)
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
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit reset: %w", err)
	}
	return next, nil
}

func (b *Backend) CreateRun(ctx context.Context, run *models.Run) error {
	query, args, err := psql.Insert("runs").Columns(runColumns...).Values(
		run.ID, run.StartedAt, run.FinishedAt, string(run.Status),
		run.TopicsAttempted, run.TopicsSucceeded, run.TopicsDeferred, run.TopicsErrored,
		run.TopicsSkipped, run.PostsSeen, run.PostsStored, nonNilErrors(run.Errors),
	).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build run insert: %w", err)
	}
	if _, err := b.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (b *Backend) FinalizeRun(ctx context.Context, run *models.Run) error {
	query, args, err := psql.Update("runs").SetMap(map[string]interface{}{
		"finished_at":      run.FinishedAt,
		"status":           string(run.Status),
		"topics_attempted": run.TopicsAttempted,
		"topics_succeeded": run.TopicsSucceeded,
		"topics_deferred":  run.TopicsDeferred,
		"topics_errored":   run.TopicsErrored,
		"topics_skipped":   run.TopicsSkipped,
		"posts_seen":       run.PostsSeen,
		"posts_stored":     run.PostsStored,
		"errors":           nonNilErrors(run.Errors),
	}).Where(sq.Eq{"id": run.ID, "finished_at": nil}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build run update: %w", err)
	}

	tag, err := b.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to finalize run: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	if _, err := b.GetRun(ctx, run.ID); err != nil {
		return err
	}
	return storage.ErrRunFinalized
}

func (b *Backend) GetRun(ctx context.Context, id string) (*models.Run, error) {
	query, args, err := psql.Select(runColumns...).From("runs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build run query: %w", err)
	}
	run, err := scanRun(b.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return run, err
}

func (b *Backend) ListRuns(ctx context.Context, limit int) ([]*models.Run, error) {
	builder := psql.Select(runColumns...).From("runs").OrderBy("started_at DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build run query: %w", err)
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
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
	return out, rows.Err()
}

func (b *Backend) GetPost(ctx context.Context, id string) (*models.Post, error) {
	query, args, err := psql.Select(postColumns...).From("posts").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build post query: %w", err)
	}

	var (
		p         models.Post
		createdAt *time.Time
		raw       []byte
	)
	err = b.pool.QueryRow(ctx, query, args...).Scan(
		&p.ID, &p.TopicID, &p.RunID, &p.Author, &p.AuthorName, &p.Text, &createdAt,
		&p.Likes, &p.Reposts, &p.Replies, &p.Views, &p.Language, &p.Hashtags,
		&p.IsRepost, &p.ParentID, &raw, &p.ScrapedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get post: %w", err)
	}

	p.CreatedAt = fromPtr(createdAt)
	p.ScrapedAt = p.ScrapedAt.UTC()
	if len(raw) > 0 {
		p.Raw = raw
	}
	return &p, nil
}

func (b *Backend) CountPosts(ctx context.Context) (int64, error) {
	var n int64
	if err := b.pool.QueryRow(ctx, "SELECT COUNT(*) FROM posts").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return n, nil
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func loadCheckpoint(ctx context.Context, q querier, topicID string, forUpdate bool) (*models.Checkpoint, error) {
	builder := psql.Select(checkpointColumns...).From("checkpoints").Where(sq.Eq{"topic_id": topicID})
	if forUpdate {
		builder = builder.Suffix("FOR UPDATE")
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build checkpoint query: %w", err)
	}

	cp, err := scanCheckpoint(q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return cp, err
}

func scanCheckpoint(row pgx.Row) (*models.Checkpoint, error) {
	var (
		cp                                      models.Checkpoint
		newestAt, successAt, resetAt, updatedAt *time.Time
	)
	err := row.Scan(&cp.TopicID, &cp.Cursor, &cp.NewestPostID, &newestAt, &successAt,
		&cp.ConsecutiveEmpty, &cp.PagesCommitted, &cp.PostsStored, &cp.Version, &resetAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
	}
	cp.NewestPostAt = fromPtr(newestAt)
	cp.LastSuccessAt = fromPtr(successAt)
	cp.ResetAt = fromPtr(resetAt)
	cp.UpdatedAt = fromPtr(updatedAt)
	return &cp, nil
}

// upsertCheckpoint writes next only if the stored row is still at prevVersion
func upsertCheckpoint(ctx context.Context, tx pgx.Tx, next *models.Checkpoint, prevVersion int64) error {
	query, args, err := psql.Insert("checkpoints").Columns(checkpointColumns...).Values(
		next.TopicID, next.Cursor, next.NewestPostID, nullTime(next.NewestPostAt), nullTime(next.LastSuccessAt),
		next.ConsecutiveEmpty, next.PagesCommitted, next.PostsStored, next.Version,
		nullTime(next.ResetAt), nullTime(next.UpdatedAt),
	).Suffix(`ON CONFLICT (topic_id) DO UPDATE SET
		next_cursor = EXCLUDED.next_cursor,
		newest_post_id = EXCLUDED.newest_post_id,
		newest_post_at = EXCLUDED.newest_post_at,
		last_success_at = EXCLUDED.last_success_at,
		consecutive_empty = EXCLUDED.consecutive_empty,
		pages_committed = EXCLUDED.pages_committed,
		posts_stored = EXCLUDED.posts_stored,
		version = EXCLUDED.version,
		reset_at = EXCLUDED.reset_at,
		updated_at = EXCLUDED.updated_at
		WHERE checkpoints.version = ?`, prevVersion).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build checkpoint upsert: %w", err)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to upsert checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: topic %q moved past version %d", checkpoint.ErrStaleCheckpoint, next.TopicID, prevVersion)
	}
	return nil
}

func scanRun(row pgx.Row) (*models.Run, error) {
	var (
		run    models.Run
		status string
	)
	err := row.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &status, &run.TopicsAttempted,
		&run.TopicsSucceeded, &run.TopicsDeferred, &run.TopicsErrored, &run.TopicsSkipped,
		&run.PostsSeen, &run.PostsStored, &run.Errors)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.Status = models.RunStatus(status)
	run.StartedAt = run.StartedAt.UTC()
	if run.FinishedAt != nil {
		t := run.FinishedAt.UTC()
		run.FinishedAt = &t
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

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func fromPtr(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
