package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"harvester/pkg/models"
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func status(s string) string {
	return StatusStyle(s).Render(s)
}

// CheckpointTable renders per-topic resume state
func CheckpointTable(cps []*models.Checkpoint, now time.Time) string {
	t := newTable("TOPIC", "CURSOR", "NEWEST POST", "LAST SUCCESS", "EMPTY", "PAGES", "STORED", "VERSION")
	for _, cp := range cps {
		t.Row(
			cp.TopicID,
			Truncate(cp.Cursor, 24),
			Ago(cp.NewestPostAt, now),
			Ago(cp.LastSuccessAt, now),
			fmt.Sprint(cp.ConsecutiveEmpty),
			fmt.Sprint(cp.PagesCommitted),
			fmt.Sprint(cp.PostsStored),
			fmt.Sprint(cp.Version),
		)
	}
	return t.String()
}

// RunTable renders a run log, newest first as given
func RunTable(runs []*models.Run) string {
	t := newTable("RUN", "STARTED", "DURATION", "STATUS", "OK/DEF/ERR/SKIP", "SEEN", "STORED")
	for _, r := range runs {
		duration := "-"
		if r.FinishedAt != nil {
			duration = FormatDuration(r.FinishedAt.Sub(r.StartedAt))
		}
		t.Row(
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			duration,
			status(string(r.Status)),
			fmt.Sprintf("%d/%d/%d/%d", r.TopicsSucceeded, r.TopicsDeferred, r.TopicsErrored, r.TopicsSkipped),
			fmt.Sprint(r.PostsSeen),
			fmt.Sprint(r.PostsStored),
		)
	}
	return t.String()
}

// RunDetail renders one run with its per-topic error kinds
func RunDetail(run *models.Run) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("RUN "+run.ID) + "\n\n")

	field := func(label, value string) {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-16s", label)), valueStyle.Render(value))
	}
	field("Status", string(run.Status))
	field("Started", run.StartedAt.Local().Format(time.DateTime))
	if run.FinishedAt != nil {
		field("Finished", run.FinishedAt.Local().Format(time.DateTime))
		field("Duration", FormatDuration(run.FinishedAt.Sub(run.StartedAt)))
	}
	field("Topics attempted", fmt.Sprint(run.TopicsAttempted))
	field("Succeeded", fmt.Sprint(run.TopicsSucceeded))
	field("Deferred", fmt.Sprint(run.TopicsDeferred))
	field("Errored", fmt.Sprint(run.TopicsErrored))
	field("Skipped", fmt.Sprint(run.TopicsSkipped))
	field("Posts seen", fmt.Sprint(run.PostsSeen))
	field("Posts stored", fmt.Sprint(run.PostsStored))

	if len(run.Errors) > 0 {
		topics := make([]string, 0, len(run.Errors))
		for topic := range run.Errors {
			topics = append(topics, topic)
		}
		sort.Strings(topics)

		t := newTable("TOPIC", "REASON")
		for _, topic := range topics {
			t.Row(topic, run.Errors[topic])
		}
		b.WriteString("\n" + t.String())
	}
	return b.String()
}

// OutcomeTable renders how each topic fared in a run
func OutcomeTable(outcomes []models.TopicOutcome) string {
	t := newTable("TOPIC", "STATUS", "REASON", "PAGES", "SEEN", "STORED", "ACCOUNTS", "TIME")
	for _, o := range outcomes {
		t.Row(
			o.TopicID,
			status(string(o.Status)),
			o.Reason,
			fmt.Sprint(o.Pages),
			fmt.Sprint(o.Seen),
			fmt.Sprint(o.Stored),
			strings.Join(o.Accounts, ","),
			FormatDuration(o.Duration),
		)
	}
	return t.String()
}

// AccountTable renders scraping identities. Credentials are never shown.
func AccountTable(accounts []models.Account, now time.Time) string {
	t := newTable("ACCOUNT", "STATUS", "PROXY", "COOLDOWN", "READY", "FAILURES")
	for _, a := range accounts {
		ready := "now"
		if now.Before(a.CooldownUntil) {
			ready = "in " + FormatDuration(a.CooldownUntil.Sub(now))
		}
		proxy := a.Proxy
		if proxy == "" {
			proxy = "direct"
		}
		t.Row(
			a.ID,
			status(string(a.Status)),
			proxy,
			FormatDuration(a.Cooldown),
			ready,
			fmt.Sprint(a.ConsecutiveFailures),
		)
	}
	return t.String()
}

// Ago formats t relative to now, "never" for the zero time
func Ago(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	if d < 0 {
		return "in " + FormatDuration(-d)
	}
	return FormatDuration(d) + " ago"
}

// FormatDuration formats a duration in a human-readable way
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd", int(d.Hours())/24)
	}
}

// Truncate shortens s to at most n runes
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
