// Package notify announces finished runs on the desktop or in Slack.
package notify

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/simgrid/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title    string
	Message  string
	Type     NotificationType
	RunID    string // Optional run reference
	SavePath string // Optional results file
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// RunReport describes a finished run
type RunReport struct {
	RunID     string
	State     domain.RunStatus
	Succeeded int
	Failed    int
	Skipped   int
	Duration  time.Duration
	SavePath  string
	Err       error
}

// ForRun builds the notification announcing a finished run
func ForRun(r RunReport) Notification {
	n := Notification{RunID: r.RunID, SavePath: r.SavePath}
	total := r.Succeeded + r.Failed + r.Skipped

	switch {
	case r.State == domain.RunAborted:
		n.Type = NotifyError
		n.Title = "Simulation aborted"
	case r.State == domain.RunCancelled:
		n.Type = NotifyWarning
		n.Title = "Simulation cancelled"
	case r.Failed+r.Skipped > 0:
		n.Type = NotifyWarning
		n.Title = "Simulation finished with failures"
	default:
		n.Type = NotifySuccess
		n.Title = "Simulation finished"
	}

	n.Message = fmt.Sprintf("%s tasks in %s: %s succeeded, %s failed",
		humanize.Comma(int64(total)),
		r.Duration.Round(time.Second),
		humanize.Comma(int64(r.Succeeded)),
		humanize.Comma(int64(r.Failed)),
	)
	if r.Skipped > 0 {
		n.Message += fmt.Sprintf(", %s skipped", humanize.Comma(int64(r.Skipped)))
	}
	if r.Err != nil {
		n.Message += "\n" + r.Err.Error()
	}
	return n
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers and joins their errors
func (m *MultiNotifier) Send(n Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New builds the notifier for the given settings. Without any enabled
// channel a NoopNotifier is returned.
func New(desktop bool, slackWebhook string) Notifier {
	var notifiers []Notifier
	if desktop {
		notifiers = append(notifiers, NewDesktopNotifier(true))
	}
	if slackWebhook != "" {
		notifiers = append(notifiers, NewSlackNotifier(slackWebhook))
	}
	switch len(notifiers) {
	case 0:
		return NoopNotifier{}
	case 1:
		return notifiers[0]
	}
	return NewMultiNotifier(notifiers...)
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }
