package delivery

import (
	"time"

	"github.com/austindbirch/harbor_remind/internal/notification"
)

const (
	DLQType    = "notification.dlq"
	DLQVersion = "v1"

	ReasonMaxAttempts = "max_attempts_exhausted"
)

type DeadLetter struct {
	Type      string   `json:"type"`    // "notification.dlq"
	Version   string   `json:"version"` // schema version
	At        string   `json:"at"`      // RFC3339 time the DLQ was emitted
	Reason    string   `json:"reason"`  // human/debug text
	Attempt   int      `json:"attempt"` // attempt count when DLQ'd
	LastError string   `json:"last_error,omitempty"`
	Reminder  Reminder `json:"reminder"` // full notification snapshot
}

// NewDeadLetter builds the envelope for a notification that reached failed
func NewDeadLetter(n notification.Notification, at time.Time, reason string, traceHeaders map[string]string) DeadLetter {
	return DeadLetter{
		Type:      DLQType,
		Version:   DLQVersion,
		At:        at.UTC().Format(time.RFC3339Nano),
		Reason:    reason,
		Attempt:   n.Attempts,
		LastError: n.LastError,
		Reminder:  ReminderFrom(n, traceHeaders),
	}
}
