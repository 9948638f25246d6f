// Package notify delivers user-facing notifications about workspace
// activity.
package notify

import (
	"context"
	"errors"
	"log"
	"os"
)

// Urgency orders notifications by how much attention they need.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyCritical Urgency = "critical"
)

// Notification is one message for the user.
type Notification struct {
	Title   string  `json:"title"`
	Body    string  `json:"body"`
	Urgency Urgency `json:"urgency"`
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	logger *log.Logger
}

// NewLogNotifier returns a LogNotifier. A nil logger logs to stderr.
func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.New(os.Stderr, "[notify] ", log.LstdFlags)
	}
	return &LogNotifier{logger: logger}
}

// Notify logs n.
func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	if n.Body == "" {
		l.logger.Printf("[%s] %s", n.Urgency, n.Title)
		return nil
	}
	l.logger.Printf("[%s] %s: %s", n.Urgency, n.Title, n.Body)
	return nil
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

// Notify delivers n to every notifier, even when some fail, and returns
// their errors joined.
func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, target := range m {
		if target == nil {
			continue
		}
		if err := target.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every notification.
var Discard Notifier = discard{}

type discard struct{}

func (discard) Notify(context.Context, Notification) error { return nil }
