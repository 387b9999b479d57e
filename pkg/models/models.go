package models

import (
	"encoding/json"
	"time"
)

// Topic is a configured search scanned independently with its own checkpoint.
type Topic struct {
	ID       string        `yaml:"id" json:"id" validate:"required"`
	Query    string        `yaml:"query" json:"query"`
	Limit    int           `yaml:"limit" json:"limit" validate:"gte=1"`
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown" validate:"gte=0"`
}

// AccountStatus is the authentication state of a scraping identity.
type AccountStatus string

const (
	AccountValid   AccountStatus = "valid"
	AccountExpired AccountStatus = "expired"
	AccountBanned  AccountStatus = "banned"
)

// Account is a scraping identity as seen by the account pool.
type Account struct {
	ID                  string        `json:"id"`
	Status              AccountStatus `json:"status"`
	LastUsed            time.Time     `json:"last_used"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Cooldown            time.Duration `json:"cooldown"`
	CooldownUntil       time.Time     `json:"cooldown_until"`

	// Transport credentials. Never logged.
	AuthToken string `json:"-"`
	CSRFToken string `json:"-"`
	Proxy     string `json:"proxy,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// RawPost is a post as returned by the transport.
type RawPost struct {
	ID         string          `json:"id"`
	Author     string          `json:"author"`
	AuthorName string          `json:"author_name"`
	Text       string          `json:"text"`
	CreatedAt  time.Time       `json:"created_at"`
	Likes      int64           `json:"likes"`
	Reposts    int64           `json:"reposts"`
	Replies    int64           `json:"replies"`
	Views      int64           `json:"views"`
	Language   string          `json:"language"`
	Hashtags   []string        `json:"hashtags"`
	IsRepost   bool            `json:"is_repost"`
	ParentID   string          `json:"parent_id,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// Post is a stored post. ID is unique across topics and runs.
type Post struct {
	RawPost
	TopicID   string    `json:"topic_id"`
	RunID     string    `json:"run_id"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// Checkpoint is the durable resume point for one topic.
type Checkpoint struct {
	TopicID          string    `json:"topic_id"`
	Cursor           string    `json:"cursor"`
	NewestPostID     string    `json:"newest_post_id"`
	NewestPostAt     time.Time `json:"newest_post_at"`
	LastSuccessAt    time.Time `json:"last_success_at"`
	ConsecutiveEmpty int       `json:"consecutive_empty"`
	PagesCommitted   int64     `json:"pages_committed"`
	PostsStored      int64     `json:"posts_stored"`
	Version          int64     `json:"version"`
	ResetAt          time.Time `json:"reset_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Fresh reports whether the topic has no resume point.
func (c *Checkpoint) Fresh() bool {
	return c == nil || c.Cursor == ""
}

// RunStatus is the lifecycle state of a run record.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
)

// Run is one pipeline execution. Immutable once finalized.
type Run struct {
	ID              string            `json:"id"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      *time.Time        `json:"finished_at,omitempty"`
	Status          RunStatus         `json:"status"`
	TopicsAttempted int               `json:"topics_attempted"`
	TopicsSucceeded int               `json:"topics_succeeded"`
	TopicsDeferred  int               `json:"topics_deferred"`
	TopicsErrored   int               `json:"topics_errored"`
	TopicsSkipped   int               `json:"topics_skipped"`
	PostsSeen       int64             `json:"posts_seen"`
	PostsStored     int64             `json:"posts_stored"`
	Errors          map[string]string `json:"errors,omitempty"`
}

// OutcomeStatus is how a topic scan ended within a run.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeDeferred  OutcomeStatus = "deferred"
	OutcomeErrored   OutcomeStatus = "errored"
	OutcomeSkipped   OutcomeStatus = "skipped"
)

// Exit reasons recorded on outcomes.
const (
	ReasonLimitReached = "limit_reached"
	ReasonEndOfResults = "end_of_results"
	ReasonExhausted    = "exhausted"
	ReasonBudget       = "budget"
	ReasonCooldown     = "cooldown"
	ReasonNoAccount    = "no_account"
	ReasonInterrupted  = "interrupted"
	ReasonTimeout      = "timeout"
)

// TopicOutcome is what the worker pool reports for one topic.
type TopicOutcome struct {
	TopicID  string        `json:"topic_id"`
	Status   OutcomeStatus `json:"status"`
	Reason   string        `json:"reason"`
	Pages    int           `json:"pages"`
	Seen     int           `json:"seen"`
	Stored   int           `json:"stored"`
	Accounts []string      `json:"accounts,omitempty"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}
