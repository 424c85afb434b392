// Package notify reports the outcome of every collection operation as a
// transient notification, locally and optionally over Pub/Sub so other
// sessions can invalidate their caches.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity of a notification.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// Op is the collection operation a notification reports on.
type Op string

const (
	OpList   Op = "list"
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Notification is a single operation outcome.
type Notification struct {
	ID         string    `json:"id"`
	Collection string    `json:"collection"`
	Op         Op        `json:"op"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	RecordID   int       `json:"recordId,omitempty"`
	Error      string    `json:"error,omitempty"`
	Time       time.Time `json:"time"`
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Outcome builds the notification for op on collection. A nil err is a
// success: "User created successfully!". Otherwise: "Error creating user".
func Outcome(collection string, op Op, recordID int, err error) Notification {
	n := Notification{
		ID:         uuid.NewString(),
		Collection: collection,
		Op:         op,
		RecordID:   recordID,
		Time:       time.Now().UTC(),
	}
	noun := singular(collection)
	if err == nil {
		n.Severity = SeveritySuccess
		n.Message = fmt.Sprintf("%s %s successfully!", capitalize(noun), pastTense(op))
		return n
	}
	n.Severity = SeverityError
	n.Error = err.Error()
	if op == OpList {
		n.Message = fmt.Sprintf("Error loading %s", collection)
	} else {
		n.Message = fmt.Sprintf("Error %s %s", gerund(op), noun)
	}
	return n
}

// MultiNotifier fans a notification out to several notifiers. Every notifier
// is called even if an earlier one fails.
type MultiNotifier []Notifier

// Notify implements Notifier.
func (m MultiNotifier) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func singular(collection string) string {
	return strings.TrimSuffix(collection, "s")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func pastTense(op Op) string {
	switch op {
	case OpList:
		return "loaded"
	case OpCreate:
		return "created"
	case OpUpdate:
		return "updated"
	case OpDelete:
		return "deleted"
	}
	return string(op) + "ed"
}

func gerund(op Op) string {
	switch op {
	case OpList:
		return "loading"
	case OpCreate:
		return "creating"
	case OpUpdate:
		return "updating"
	case OpDelete:
		return "deleting"
	}
	return string(op) + "ing"
}
