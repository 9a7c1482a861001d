package notification

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// CreateRequest is the client payload for a new reminder. Times are strings so
// that unparsable values surface as ValidationError rather than decode failures.
type CreateRequest struct {
	Email        string   `json:"email" validate:"required,email"`
	Title        string   `json:"title,omitempty" validate:"max=200"`
	Message      string   `json:"message,omitempty"`
	ProviderName string   `json:"providerName,omitempty"`
	Amount       *float64 `json:"amount,omitempty"`
	BillID       string   `json:"billId,omitempty"`
	DueDate      string   `json:"dueDate,omitempty"`
	SendAt       string   `json:"sendAt,omitempty"`
	Channels     []string `json:"channels,omitempty" validate:"omitempty,dive,oneof=email"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Accepted timestamp layouts; zone-less values are read as UTC
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTime parses a client-supplied timestamp
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Build validates the request and produces a pending Notification as of now.
// A dueDate that does not parse is rejected even when a valid sendAt is present,
// since it is stored and rendered into the reminder.
func (r CreateRequest) Build(now time.Time) (Notification, error) {
	r.Email = strings.TrimSpace(r.Email)
	if err := validate.Struct(r); err != nil {
		return Notification{}, toValidationError(err)
	}

	var due *time.Time
	if r.DueDate != "" {
		t, ok := ParseTime(r.DueDate)
		if !ok {
			return Notification{}, &ValidationError{Field: "dueDate", Reason: "not a valid timestamp"}
		}
		due = &t
	}

	sendAt := now
	switch {
	case r.SendAt != "":
		t, ok := ParseTime(r.SendAt)
		if !ok {
			return Notification{}, &ValidationError{Field: "sendAt", Reason: "not a valid timestamp"}
		}
		sendAt = t
	case due != nil:
		sendAt = due.Add(-DefaultLeadTime)
	}

	channels := make([]Channel, 0, len(r.Channels))
	for _, c := range r.Channels {
		channels = append(channels, Channel(c))
	}
	if len(channels) == 0 {
		channels = []Channel{ChannelEmail}
	}

	title := strings.TrimSpace(r.Title)
	if title == "" {
		title = DefaultTitle
	}

	return Notification{
		RecipientEmail: r.Email,
		Title:          title,
		Message:        r.Message,
		ProviderName:   r.ProviderName,
		Amount:         r.Amount,
		BillID:         r.BillID,
		SendAt:         sendAt,
		DueDate:        due,
		Channels:       channels,
		Status:         StatusPending,
		Attempts:       0,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Reason: err.Error()}
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
	switch fe.Tag() {
	case "required":
		return &ValidationError{Field: field, Reason: "is required"}
	case "email":
		return &ValidationError{Field: field, Reason: "must be a valid email address"}
	case "oneof":
		return &ValidationError{Field: "channels", Reason: fmt.Sprintf("unsupported channel %v", fe.Value())}
	default:
		return &ValidationError{Field: field, Reason: "failed " + fe.Tag() + " check"}
	}
}
