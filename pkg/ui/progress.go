package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"harvester/pkg/models"
)

const (
	ProgressBar   = "━"
	ProgressEmpty = "─"
)

// ProgressDisplay prints one status line that updates as topics finish
type ProgressDisplay struct {
	mu        sync.Mutex
	total     int
	done      int
	stored    int
	seen      int
	failed    int
	last      string
	startTime time.Time
	isDebug   bool
}

// NewProgressDisplay creates a display for a run over total topics
func NewProgressDisplay(total int, debug bool) *ProgressDisplay {
	return &ProgressDisplay{
		total:     total,
		startTime: time.Now(),
		isDebug:   debug,
	}
}

// TopicDone records a finished topic scan. Safe for concurrent use.
func (p *ProgressDisplay) TopicDone(o models.TopicOutcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
	p.stored += o.Stored
	p.seen += o.Seen
	if o.Status == models.OutcomeErrored {
		p.failed++
	}
	p.last = o.TopicID

	if IsQuietMode() {
		return
	}
	if p.isDebug {
		fmt.Fprintf(Output, "%s %s • %s • %d new / %d seen\n",
			StatusStyle(string(o.Status)).Render("●"), o.TopicID, o.Reason, o.Stored, o.Seen)
		return
	}
	fmt.Fprintf(Output, "\r%s\r%s", strings.Repeat(" ", 100), p.line())
}

// line builds the progress line. Caller holds mu.
func (p *ProgressDisplay) line() string {
	const width = 20
	filled := 0
	if p.total > 0 {
		filled = p.done * width / p.total
	}
	bar := strings.Repeat(ProgressBar, filled) + strings.Repeat(ProgressEmpty, width-filled)

	line := fmt.Sprintf("%s [%s] %d/%d topics • %d new • %d seen • %s",
		Cyan("harvest"), bar, p.done, p.total, p.stored, p.seen,
		FormatDuration(time.Since(p.startTime)))
	if p.last != "" {
		line += " • " + Dim(p.last)
	}
	if p.failed > 0 {
		line += " • " + Red(fmt.Sprintf("%d errored", p.failed))
	}
	return line
}

// Complete ends the progress line
func (p *ProgressDisplay) Complete() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if IsQuietMode() || p.isDebug {
		return
	}
	fmt.Fprintln(Output)
}
