package notification

import "fmt"

// ValidationError reports bad or missing input
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NotFoundError reports an unknown notification id
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("notification %s not found", e.ID)
}

// AuthorizationError reports a requester that does not own the notification
type AuthorizationError struct {
	ID        string
	Requester string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("%s is not allowed to modify notification %s", e.Requester, e.ID)
}

// DeliveryError wraps a mail collaborator failure on one channel
type DeliveryError struct {
	Channel Channel
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery failed: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
