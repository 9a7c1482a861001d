package delivery

import (
	"time"

	"github.com/austindbirch/harbor_remind/internal/notification"
)

// Reminder is the notification snapshot carried by a dead letter
type Reminder struct {
	NotificationID string            `json:"notification_id"`
	RecipientEmail string            `json:"recipient_email"`
	Title          string            `json:"title"`
	BillID         string            `json:"bill_id,omitempty"`
	Channels       []string          `json:"channels"`
	SendAt         string            `json:"send_at"` // RFC3339
	Attempts       int               `json:"attempts"`
	TraceHeaders   map[string]string `json:"trace_headers,omitempty"` // OTel trace propagation headers
}

// ReminderFrom snapshots n for publishing
func ReminderFrom(n notification.Notification, traceHeaders map[string]string) Reminder {
	channels := make([]string, 0, len(n.Channels))
	for _, c := range n.Channels {
		channels = append(channels, string(c))
	}
	return Reminder{
		NotificationID: n.ID,
		RecipientEmail: n.RecipientEmail,
		Title:          n.Title,
		BillID:         n.BillID,
		Channels:       channels,
		SendAt:         n.SendAt.UTC().Format(time.RFC3339),
		Attempts:       n.Attempts,
		TraceHeaders:   traceHeaders,
	}
}
