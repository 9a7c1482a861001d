package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/harbor_remind/internal/tracing"
)

// Repository is the document-store collaborator behind Store. Implementations
// must apply UpdateOutcome atomically per document and return NotFoundError
// for unknown ids.
type Repository interface {
	Insert(ctx context.Context, n Notification) (Notification, error)
	FindByID(ctx context.Context, id string) (Notification, error)
	FindByRecipient(ctx context.Context, email string) ([]Notification, error)
	FindDue(ctx context.Context, now time.Time, maxAttempts int) ([]Notification, error)
	UpdateStatus(ctx context.Context, id string, status Status, now time.Time) (Notification, error)
	UpdateOutcome(ctx context.Context, id string, o Outcome, maxAttempts int, now time.Time) (Notification, error)
	InsertAttempt(ctx context.Context, a AttemptLog) (AttemptLog, error)
	FindAttempts(ctx context.Context, notificationID string) ([]AttemptLog, error)
}

// Store is the Notification Store. It owns validation, sendAt derivation,
// cancel authorization and timestamps; persistence is delegated to a Repository.
type Store struct {
	repo        Repository
	clock       Clock
	maxAttempts int
}

// NewStore creates a Store. A nil clock means SystemClock and maxAttempts < 1
// means DefaultMaxAttempts.
func NewStore(repo Repository, clock Clock, maxAttempts int) *Store {
	if clock == nil {
		clock = SystemClock{}
	}
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Store{repo: repo, clock: clock, maxAttempts: maxAttempts}
}

// MaxAttempts is the retry bound applied by RecordOutcome
func (s *Store) MaxAttempts() int { return s.maxAttempts }

// Clock returns the clock the store stamps documents with
func (s *Store) Clock() Clock { return s.clock }

// Create validates req and inserts a pending notification
func (s *Store) Create(ctx context.Context, req CreateRequest) (Notification, error) {
	ctx, span := tracing.StartSpan(ctx, "store.create")
	defer span.End()

	n, err := req.Build(s.clock.Now())
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return Notification{}, err
	}

	created, err := s.repo.Insert(ctx, n)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return Notification{}, fmt.Errorf("insert notification: %w", err)
	}

	span.SetAttributes(
		attribute.String("notification_id", created.ID),
		attribute.String("send_at", created.SendAt.Format(time.RFC3339)),
	)
	return created, nil
}

// ListFor returns the recipient's notifications, newest sendAt first
func (s *Store) ListFor(ctx context.Context, recipientEmail string) ([]Notification, error) {
	recipientEmail = strings.TrimSpace(recipientEmail)
	if recipientEmail == "" {
		return nil, &ValidationError{Field: "email", Reason: "is required"}
	}
	list, err := s.repo.FindByRecipient(ctx, recipientEmail)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return list, nil
}

// Get returns one notification or NotFoundError
func (s *Store) Get(ctx context.Context, id string) (Notification, error) {
	return s.repo.FindByID(ctx, id)
}

// Cancel moves a notification to cancelled on behalf of its owner. Cancelling a
// notification that already reached a terminal state is allowed and overwrites it.
func (s *Store) Cancel(ctx context.Context, id, requesterEmail string) (Notification, error) {
	ctx, span := tracing.StartSpan(ctx, "store.cancel", attribute.String("notification_id", id))
	defer span.End()

	n, err := s.repo.FindByID(ctx, id)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return Notification{}, err
	}
	if !sameEmail(n.RecipientEmail, requesterEmail) {
		err := &AuthorizationError{ID: id, Requester: requesterEmail}
		tracing.SetSpanError(ctx, err)
		return Notification{}, err
	}

	updated, err := s.repo.UpdateStatus(ctx, id, StatusCancelled, s.clock.Now())
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return Notification{}, err
	}
	return updated, nil
}

// FindDueForDispatch returns every pending notification with sendAt <= now and
// attempts < maxAttempts
func (s *Store) FindDueForDispatch(ctx context.Context, now time.Time, maxAttempts int) ([]Notification, error) {
	due, err := s.repo.FindDue(ctx, now, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("find due notifications: %w", err)
	}
	return due, nil
}

// RecordOutcome atomically counts one more attempt and applies its result
func (s *Store) RecordOutcome(ctx context.Context, id string, o Outcome) (Notification, error) {
	n, err := s.repo.UpdateOutcome(ctx, id, o, s.maxAttempts, s.clock.Now())
	if err != nil {
		return Notification{}, err
	}
	return n, nil
}

// AppendAttempt writes one attempt log row, stamping OccurredAt when unset
func (s *Store) AppendAttempt(ctx context.Context, a AttemptLog) (AttemptLog, error) {
	if a.OccurredAt.IsZero() {
		a.OccurredAt = s.clock.Now()
	}
	saved, err := s.repo.InsertAttempt(ctx, a)
	if err != nil {
		return AttemptLog{}, fmt.Errorf("append attempt log: %w", err)
	}
	return saved, nil
}

// Attempts returns the attempt log of one notification in the order written
func (s *Store) Attempts(ctx context.Context, notificationID string) ([]AttemptLog, error) {
	return s.repo.FindAttempts(ctx, notificationID)
}

func sameEmail(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
