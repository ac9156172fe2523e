// Package notify reports finished evaluation runs to Slack and the desktop.
package notify

import (
	"fmt"

	"github.com/hochfrequenz/swe-orchestrator/internal/config"
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
	Title   string
	Message string
	Type    NotificationType
	RunID   string // Optional run reference
	// Counts is set for batch completions; transports render it natively
	Counts *BatchCounts
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// New builds the notifiers enabled in the config
func New(cfg config.NotificationsConfig) Notifier {
	var ns []Notifier
	if cfg.Desktop {
		ns = append(ns, NewDesktopNotifier(true))
	}
	if cfg.SlackWebhook != "" {
		ns = append(ns, NewSlackNotifier(cfg.SlackWebhook))
	}
	if len(ns) == 0 {
		return NoopNotifier{}
	}
	return NewMultiNotifier(ns...)
}

// BatchCounts is what a finished batch reports
type BatchCounts struct {
	Strategy  string
	Total     int
	Generated int
	Valid     int
	Failed    int
	PassPct   float64
}

// Summary is the one-line form used where fields cannot be laid out
func (c BatchCounts) Summary() string {
	return fmt.Sprintf("%d/%d valid, %d failed, Pass@1 %.1f%%", c.Valid, c.Total, c.Failed, c.PassPct)
}

// BatchFinished describes a completed run. Any failed instance makes it a
// warning; a run without a single valid patch is an error.
func BatchFinished(runID string, c BatchCounts) Notification {
	typ := NotifySuccess
	switch {
	case c.Total > 0 && c.Valid == 0:
		typ = NotifyError
	case c.Failed > 0:
		typ = NotifyWarning
	}
	return Notification{
		Title: fmt.Sprintf("Evaluation finished: %s", c.Strategy),
		Message: fmt.Sprintf("%d instances, %d patches, %d valid, %d failed. Pass@1 (proxy) %.2f%%",
			c.Total, c.Generated, c.Valid, c.Failed, c.PassPct),
		Type:   typ,
		RunID:  runID,
		Counts: &c,
	}
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }
