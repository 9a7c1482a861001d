// Package notification holds the scheduled-reminder domain: the Notification
// document, its attempt log, and the Store that enforces the delivery state
// machine over a pluggable Repository.
package notification

import "time"

// Status is the lifecycle state of a Notification
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the worker will never touch a notification in this state again
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

// Channel identifies a delivery channel
type Channel string

const ChannelEmail Channel = "email"

const (
	DefaultTitle       = "Bill reminder"
	DefaultMaxAttempts = 3
	// DefaultLeadTime is how long before dueDate a reminder goes out when sendAt is omitted
	DefaultLeadTime = 24 * time.Hour
)

// Notification is one reminder request
type Notification struct {
	ID             string     `json:"id"`
	RecipientEmail string     `json:"recipientEmail"`
	Title          string     `json:"title"`
	Message        string     `json:"message,omitempty"`
	ProviderName   string     `json:"providerName,omitempty"`
	Amount         *float64   `json:"amount,omitempty"`
	BillID         string     `json:"billId,omitempty"`
	SendAt         time.Time  `json:"sendAt"`
	DueDate        *time.Time `json:"dueDate,omitempty"`
	Channels       []Channel  `json:"channels"`
	Status         Status     `json:"status"`
	Attempts       int        `json:"attempts"`
	LastError      string     `json:"lastError,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Eligible reports whether the worker may attempt delivery at now
func (n Notification) Eligible(now time.Time, maxAttempts int) bool {
	return n.Status == StatusPending && !n.SendAt.After(now) && n.Attempts < maxAttempts
}

// AttemptOutcome is the result recorded in the attempt log
type AttemptOutcome string

const (
	AttemptSent   AttemptOutcome = "sent"
	AttemptFailed AttemptOutcome = "failed"
)

// AttemptLog is one append-only delivery attempt record
type AttemptLog struct {
	ID             string         `json:"id"`
	NotificationID string         `json:"notificationId"`
	Channel        Channel        `json:"channel"`
	Outcome        AttemptOutcome `json:"outcome"`
	OccurredAt     time.Time      `json:"occurredAt"`
	// Detail holds the delivery receipt on success and the error text on failure
	Detail string `json:"detail,omitempty"`
}

// Outcome is the result of one dispatch of a notification across all its channels
type Outcome struct {
	Success bool
	Error   string
}

// Succeeded builds a successful outcome
func Succeeded() Outcome { return Outcome{Success: true} }

// Failed builds a failed outcome carrying the error text
func Failed(msg string) Outcome { return Outcome{Error: msg} }

// Apply returns n as it looks after one more attempt with outcome o.
// Backends that cannot express the update natively use it under their own lock.
func (o Outcome) Apply(n Notification, maxAttempts int, now time.Time) Notification {
	n.Attempts++
	n.UpdatedAt = now
	if o.Success {
		if n.Status == StatusPending {
			n.Status = StatusSent
		}
		return n
	}
	n.LastError = o.Error
	if n.Status == StatusPending && n.Attempts >= maxAttempts {
		n.Status = StatusFailed
	}
	return n
}

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ClockFunc adapts a function to Clock
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }
