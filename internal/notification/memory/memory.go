// Package memory is an in-process notification.Repository for tests and local runs
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/austindbirch/harbor_remind/internal/notification"
)

type Repository struct {
	mu            sync.RWMutex
	notifications map[string]notification.Notification
	order         []string
	attempts      map[string][]notification.AttemptLog
}

func New() *Repository {
	return &Repository{
		notifications: make(map[string]notification.Notification),
		attempts:      make(map[string][]notification.AttemptLog),
	}
}

func (r *Repository) Insert(_ context.Context, n notification.Notification) (notification.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n.ID = uuid.NewString()
	n.Channels = append([]notification.Channel(nil), n.Channels...)
	r.notifications[n.ID] = n
	r.order = append(r.order, n.ID)
	return n, nil
}

func (r *Repository) FindByID(_ context.Context, id string) (notification.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.notifications[id]
	if !ok {
		return notification.Notification{}, &notification.NotFoundError{ID: id}
	}
	return n, nil
}

func (r *Repository) FindByRecipient(_ context.Context, email string) ([]notification.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []notification.Notification
	for _, id := range r.order {
		if n := r.notifications[id]; n.RecipientEmail == email {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SendAt.After(out[j].SendAt) })
	return out, nil
}

func (r *Repository) FindDue(_ context.Context, now time.Time, maxAttempts int) ([]notification.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []notification.Notification
	for _, id := range r.order {
		if n := r.notifications[id]; n.Eligible(now, maxAttempts) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (r *Repository) UpdateStatus(_ context.Context, id string, status notification.Status, now time.Time) (notification.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.notifications[id]
	if !ok {
		return notification.Notification{}, &notification.NotFoundError{ID: id}
	}
	n.Status = status
	n.UpdatedAt = now
	r.notifications[id] = n
	return n, nil
}

func (r *Repository) UpdateOutcome(_ context.Context, id string, o notification.Outcome, maxAttempts int, now time.Time) (notification.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.notifications[id]
	if !ok {
		return notification.Notification{}, &notification.NotFoundError{ID: id}
	}
	n = o.Apply(n, maxAttempts, now)
	r.notifications[id] = n
	return n, nil
}

func (r *Repository) InsertAttempt(_ context.Context, a notification.AttemptLog) (notification.AttemptLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a.ID = uuid.NewString()
	r.attempts[a.NotificationID] = append(r.attempts[a.NotificationID], a)
	return a, nil
}

func (r *Repository) FindAttempts(_ context.Context, notificationID string) ([]notification.AttemptLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]notification.AttemptLog(nil), r.attempts[notificationID]...), nil
}

// Ping always succeeds
func (r *Repository) Ping(context.Context) error { return nil }

// Close is a no-op
func (r *Repository) Close() {}
