package ui

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvester/pkg/models"
)

type recordingSender struct {
	titles   []string
	messages []string
}

func (r *recordingSender) Send(title, message string) error {
	r.titles = append(r.titles, title)
	r.messages = append(r.messages, message)
	return errors.New("no display")
}

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := Output
	Output = &buf
	t.Cleanup(func() { Output = prev })
	return &buf
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{250 * time.Millisecond, "250ms"},
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m5s"},
		{5*time.Hour + 30*time.Minute, "5h30m"},
		{72 * time.Hour, "3d"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.in))
	}
}

func TestAgo(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "never", Ago(time.Time{}, now))
	assert.Equal(t, "2m0s ago", Ago(now.Add(-2*time.Minute), now))
	assert.Equal(t, "in 30s", Ago(now.Add(30*time.Second), now))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcdefg...", Truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", Truncate("abcdef", 2))
}

func TestTablesIncludeRows(t *testing.T) {
	now := time.Now()
	finished := now

	out := CheckpointTable([]*models.Checkpoint{
		{TopicID: "inflation", Cursor: "c-10", PostsStored: 40, Version: 3, LastSuccessAt: now.Add(-time.Hour)},
		{TopicID: "groceries"},
	}, now)
	assert.Contains(t, out, "inflation")
	assert.Contains(t, out, "groceries")
	assert.Contains(t, out, "never")

	out = RunTable([]*models.Run{{
		ID: "run-1", StartedAt: now.Add(-time.Minute), FinishedAt: &finished,
		Status: models.RunCompleted, TopicsSucceeded: 2, TopicsDeferred: 1, PostsStored: 12,
	}})
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "2/1/0/0")

	out = OutcomeTable([]models.TopicOutcome{{
		TopicID: "inflation", Status: models.OutcomeDeferred, Reason: models.ReasonBudget,
		Accounts: []string{"a1", "a2"},
	}})
	assert.Contains(t, out, "budget")
	assert.Contains(t, out, "a1,a2")

	out = AccountTable([]models.Account{
		{ID: "a1", Status: models.AccountValid, AuthToken: "secret-token"},
		{ID: "a2", Status: models.AccountExpired, Proxy: "http://proxy:8080", CooldownUntil: now.Add(time.Hour)},
	}, now)
	assert.Contains(t, out, "direct")
	assert.Contains(t, out, "proxy:8080")
	assert.NotContains(t, out, "secret-token")
}

func TestRunDetailListsErrors(t *testing.T) {
	out := RunDetail(&models.Run{
		ID:     "run-9",
		Status: models.RunCompleted,
		Errors: map[string]string{"groceries": "storage", "inflation": "no_account"},
	})
	require.Contains(t, out, "run-9")
	assert.Contains(t, out, "groceries")
	assert.Contains(t, out, "no_account")
}

func TestNotifier(t *testing.T) {
	buf := captureOutput(t)
	sender := &recordingSender{}
	n := NewNotifierWithSender(sender)

	n.RunFinished(&models.Run{TopicsAttempted: 3, TopicsSucceeded: 2, TopicsErrored: 1, PostsStored: 7, PostsSeen: 9})
	n.RunFailed(errors.New("no valid accounts"))

	require.Len(t, sender.titles, 2)
	assert.Equal(t, "Harvest complete with errors", sender.titles[0])
	assert.Contains(t, sender.messages[0], "7 new posts (9 seen) across 3 topics")
	assert.Equal(t, "Harvest failed", sender.titles[1])
	assert.Contains(t, buf.String(), "no valid accounts")
}

func TestProgressDisplay(t *testing.T) {
	buf := captureOutput(t)
	p := NewProgressDisplay(2, false)
	p.TopicDone(models.TopicOutcome{TopicID: "inflation", Status: models.OutcomeSucceeded, Stored: 5, Seen: 6})
	p.TopicDone(models.TopicOutcome{TopicID: "groceries", Status: models.OutcomeErrored})
	p.Complete()

	assert.Contains(t, buf.String(), "2/2 topics")
	assert.Contains(t, buf.String(), "5 new")
	assert.Contains(t, buf.String(), "1 errored")
}

func TestProgressDisplayQuiet(t *testing.T) {
	buf := captureOutput(t)
	SetQuietMode(true)
	t.Cleanup(func() { SetQuietMode(false) })

	p := NewProgressDisplay(1, false)
	p.TopicDone(models.TopicOutcome{TopicID: "inflation"})
	p.Complete()
	assert.Empty(t, buf.String())
}
