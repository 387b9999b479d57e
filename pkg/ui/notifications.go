package ui

import (
	"fmt"
	"os/exec"
	"runtime"

	"harvester/pkg/models"
)

// NotificationSender interface for platform-specific notification implementations
type NotificationSender interface {
	Send(title, message string) error
}

// LinuxNotificationSender sends notifications on Linux using notify-send
type LinuxNotificationSender struct{}

func (l *LinuxNotificationSender) Send(title, message string) error {
	return exec.Command("notify-send", title, message).Run()
}

// MacOSNotificationSender sends notifications on macOS using osascript
type MacOSNotificationSender struct{}

func (m *MacOSNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	return exec.Command("osascript", "-e", script).Run()
}

// Notifier announces finished runs on the console and the desktop
type Notifier struct {
	sender NotificationSender
}

// NewNotifier picks the desktop sender for the current platform. Other
// platforms only get console output.
func NewNotifier() *Notifier {
	var sender NotificationSender
	switch runtime.GOOS {
	case "linux":
		sender = &LinuxNotificationSender{}
	case "darwin":
		sender = &MacOSNotificationSender{}
	}
	return &Notifier{sender: sender}
}

// NewNotifierWithSender uses an explicit sender, nil for console only
func NewNotifierWithSender(sender NotificationSender) *Notifier {
	return &Notifier{sender: sender}
}

// RunFinished announces a finalized run
func (n *Notifier) RunFinished(run *models.Run) {
	title := "Harvest complete"
	message := RunSummary(run)
	if run.TopicsErrored > 0 {
		title = "Harvest complete with errors"
	}
	n.send(title, message, run.TopicsErrored > 0)
}

// RunFailed announces a run that could not start
func (n *Notifier) RunFailed(err error) {
	n.send("Harvest failed", err.Error(), true)
}

func (n *Notifier) send(title, message string, failed bool) {
	color := Green
	if failed {
		color = Red
	}
	fmt.Fprintf(Output, "\n%s: %s\n", color(title), message)

	if n.sender != nil {
		// Desktop notifications are best effort
		_ = n.sender.Send(title, message)
	}
}

// RunSummary is a one-line description of a run's totals
func RunSummary(run *models.Run) string {
	return fmt.Sprintf("%d new posts (%d seen) across %d topics: %d ok, %d deferred, %d errored, %d skipped",
		run.PostsStored, run.PostsSeen, run.TopicsAttempted,
		run.TopicsSucceeded, run.TopicsDeferred, run.TopicsErrored, run.TopicsSkipped)
}
