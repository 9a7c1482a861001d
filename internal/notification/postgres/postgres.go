// Package postgres stores notifications in the harborremind schema with pgx
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/austindbirch/harbor_remind/internal/notification"
)

// DB is the subset of *pgxpool.Pool used by Repository
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	db DB
}

func New(db DB) *Repository {
	return &Repository{db: db}
}

const notificationColumns = `id::text, recipient_email, title, message, provider_name, amount, bill_id,
	send_at, due_date, channels, status, attempts, last_error, created_at, updated_at`

const attemptColumns = `id::text, notification_id, channel, outcome, occurred_at, detail`

func (r *Repository) Insert(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	err := r.db.QueryRow(ctx, `
		INSERT INTO harborremind.notifications
			(recipient_email, title, message, provider_name, amount, bill_id,
			 send_at, due_date, channels, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id::text`,
		n.RecipientEmail, n.Title, nullable(n.Message), nullable(n.ProviderName), n.Amount, nullable(n.BillID),
		n.SendAt, n.DueDate, channelStrings(n.Channels), string(n.Status), n.Attempts, n.CreatedAt, n.UpdatedAt,
	).Scan(&n.ID)
	if err != nil {
		return notification.Notification{}, err
	}
	return n, nil
}

func (r *Repository) FindByID(ctx context.Context, id string) (notification.Notification, error) {
	if _, err := uuid.Parse(id); err != nil {
		return notification.Notification{}, &notification.NotFoundError{ID: id}
	}
	row := r.db.QueryRow(ctx, `SELECT `+notificationColumns+`
		FROM harborremind.notifications WHERE id = $1`, id)
	return scanOne(row, id)
}

func (r *Repository) FindByRecipient(ctx context.Context, email string) ([]notification.Notification, error) {
	rows, err := r.db.Query(ctx, `SELECT `+notificationColumns+`
		FROM harborremind.notifications
		WHERE recipient_email = $1
		ORDER BY send_at DESC, created_at DESC`, email)
	if err != nil {
		return nil, err
	}
	return scanAll(rows)
}

func (r *Repository) FindDue(ctx context.Context, now time.Time, maxAttempts int) ([]notification.Notification, error) {
	rows, err := r.db.Query(ctx, `SELECT `+notificationColumns+`
		FROM harborremind.notifications
		WHERE status = 'pending' AND send_at <= $1 AND attempts < $2
		ORDER BY send_at`, now, maxAttempts)
	if err != nil {
		return nil, err
	}
	return scanAll(rows)
}

func (r *Repository) UpdateStatus(ctx context.Context, id string, status notification.Status, now time.Time) (notification.Notification, error) {
	if _, err := uuid.Parse(id); err != nil {
		return notification.Notification{}, &notification.NotFoundError{ID: id}
	}
	row := r.db.QueryRow(ctx, `
		UPDATE harborremind.notifications
		SET status = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+notificationColumns, id, string(status), now)
	return scanOne(row, id)
}

// UpdateOutcome applies one attempt in a single statement; SET expressions
// see the pre-update row, so attempts + 1 is the post-increment count.
func (r *Repository) UpdateOutcome(ctx context.Context, id string, o notification.Outcome, maxAttempts int, now time.Time) (notification.Notification, error) {
	if _, err := uuid.Parse(id); err != nil {
		return notification.Notification{}, &notification.NotFoundError{ID: id}
	}
	row := r.db.QueryRow(ctx, `
		UPDATE harborremind.notifications
		SET attempts = attempts + 1,
		    status = CASE
		        WHEN status <> 'pending' THEN status
		        WHEN $2::boolean THEN 'sent'
		        WHEN attempts + 1 >= $4 THEN 'failed'
		        ELSE 'pending'
		    END,
		    last_error = CASE WHEN $2::boolean THEN last_error ELSE $3 END,
		    updated_at = $5
		WHERE id = $1
		RETURNING `+notificationColumns, id, o.Success, o.Error, maxAttempts, now)
	return scanOne(row, id)
}

func (r *Repository) InsertAttempt(ctx context.Context, a notification.AttemptLog) (notification.AttemptLog, error) {
	err := r.db.QueryRow(ctx, `
		INSERT INTO harborremind.notification_logs
			(notification_id, channel, outcome, occurred_at, detail)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id::text`,
		a.NotificationID, string(a.Channel), string(a.Outcome), a.OccurredAt, nullable(a.Detail),
	).Scan(&a.ID)
	if err != nil {
		return notification.AttemptLog{}, err
	}
	return a, nil
}

func (r *Repository) FindAttempts(ctx context.Context, notificationID string) ([]notification.AttemptLog, error) {
	rows, err := r.db.Query(ctx, `SELECT `+attemptColumns+`
		FROM harborremind.notification_logs
		WHERE notification_id = $1
		ORDER BY occurred_at, id`, notificationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []notification.AttemptLog
	for rows.Next() {
		var (
			a                notification.AttemptLog
			channel, outcome string
			detail           *string
		)
		if err := rows.Scan(&a.ID, &a.NotificationID, &channel, &outcome, &a.OccurredAt, &detail); err != nil {
			return nil, fmt.Errorf("scan attempt log: %w", err)
		}
		a.Channel = notification.Channel(channel)
		a.Outcome = notification.AttemptOutcome(outcome)
		a.Detail = deref(detail)
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanOne(row pgx.Row, id string) (notification.Notification, error) {
	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return notification.Notification{}, &notification.NotFoundError{ID: id}
	}
	return n, err
}

func scanAll(rows pgx.Rows) ([]notification.Notification, error) {
	defer rows.Close()

	var out []notification.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanNotification(row pgx.Row) (notification.Notification, error) {
	var (
		n                                      notification.Notification
		message, providerName, billID, lastErr *string
		channels                               []string
		status                                 string
	)
	err := row.Scan(
		&n.ID, &n.RecipientEmail, &n.Title, &message, &providerName, &n.Amount, &billID,
		&n.SendAt, &n.DueDate, &channels, &status, &n.Attempts, &lastErr, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return notification.Notification{}, err
	}
	n.Message = deref(message)
	n.ProviderName = deref(providerName)
	n.BillID = deref(billID)
	n.LastError = deref(lastErr)
	n.Status = notification.Status(status)
	n.Channels = make([]notification.Channel, 0, len(channels))
	for _, c := range channels {
		n.Channels = append(n.Channels, notification.Channel(c))
	}
	n.SendAt = n.SendAt.UTC()
	n.CreatedAt = n.CreatedAt.UTC()
	n.UpdatedAt = n.UpdatedAt.UTC()
	return n, nil
}

func channelStrings(cs []notification.Channel) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, string(c))
	}
	return out
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
