// Package dispatch runs the periodic scan that turns due notifications into
// delivery attempts.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/austindbirch/harbor_remind/internal/delivery"
	"github.com/austindbirch/harbor_remind/internal/logging"
	"github.com/austindbirch/harbor_remind/internal/mail"
	"github.com/austindbirch/harbor_remind/internal/metrics"
	"github.com/austindbirch/harbor_remind/internal/notification"
	"github.com/austindbirch/harbor_remind/internal/tracing"
)

const (
	DefaultInterval        = time.Minute
	DefaultConcurrency     = 4
	DefaultDeliveryTimeout = 30 * time.Second
)

// Store is the part of *notification.Store the worker drives
type Store interface {
	FindDueForDispatch(ctx context.Context, now time.Time, maxAttempts int) ([]notification.Notification, error)
	Get(ctx context.Context, id string) (notification.Notification, error)
	RecordOutcome(ctx context.Context, id string, o notification.Outcome) (notification.Notification, error)
	AppendAttempt(ctx context.Context, a notification.AttemptLog) (notification.AttemptLog, error)
}

// DeadLetterPublisher receives notifications that exhausted their attempts
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, dl delivery.DeadLetter) error
}

type Config struct {
	Interval        time.Duration
	MaxAttempts     int
	Concurrency     int
	DeliveryTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = notification.DefaultMaxAttempts
	}
	if c.Concurrency < 1 {
		c.Concurrency = DefaultConcurrency
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = DefaultDeliveryTimeout
	}
	return c
}

type Option func(*Worker)

func WithClock(c notification.Clock) Option { return func(w *Worker) { w.clock = c } }

func WithDeadLetters(p DeadLetterPublisher) Option { return func(w *Worker) { w.dlq = p } }

func WithLogger(l *logging.Logger) Option { return func(w *Worker) { w.logger = l } }

type Worker struct {
	cfg     Config
	store   Store
	senders map[notification.Channel]mail.Sender
	dlq     DeadLetterPublisher
	clock   notification.Clock
	logger  *logging.Logger
}

func New(cfg Config, store Store, senders map[notification.Channel]mail.Sender, opts ...Option) *Worker {
	w := &Worker{
		cfg:     cfg.withDefaults(),
		store:   store,
		senders: senders,
		clock:   notification.SystemClock{},
		logger:  logging.New("harborremind-worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// TickResult summarizes one pass over the due set
type TickResult struct {
	Due      int
	Sent     int
	Retrying int
	Failed   int
	Skipped  int
}

func (r TickResult) String() string {
	return fmt.Sprintf("due=%d sent=%d retrying=%d failed=%d skipped=%d", r.Due, r.Sent, r.Retrying, r.Failed, r.Skipped)
}

// Run ticks immediately and then every Interval until ctx is cancelled.
// Ticks never overlap.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := w.Tick(ctx); err != nil && ctx.Err() == nil {
			w.logger.WithContext(ctx).WithError(err).Error("dispatch tick abandoned")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick dispatches everything due at the clock's current time. Only a failure to
// read the due set is returned; per-notification failures are recorded and logged.
func (w *Worker) Tick(ctx context.Context) (TickResult, error) {
	ctx, span := tracing.StartSpan(ctx, "dispatch.tick")
	defer span.End()

	start := time.Now()
	now := w.clock.Now()

	due, err := w.store.FindDueForDispatch(ctx, now, w.cfg.MaxAttempts)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		metrics.RecordTick(time.Since(start), err)
		return TickResult{}, err
	}
	metrics.UpdateDueBacklog(len(due))
	span.SetAttributes(attribute.Int("due", len(due)))

	var (
		mu  sync.Mutex
		res = TickResult{Due: len(due)}
		g   errgroup.Group
	)
	g.SetLimit(w.cfg.Concurrency)
	for _, n := range due {
		n := n // per-iteration copy; go.mod targets go 1.21 loop semantics
		g.Go(func() error {
			st := w.process(ctx, n)
			mu.Lock()
			defer mu.Unlock()
			switch st {
			case notification.StatusSent:
				res.Sent++
			case notification.StatusPending:
				res.Retrying++
			case notification.StatusFailed:
				res.Failed++
			default:
				res.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	metrics.RecordTick(time.Since(start), nil)
	if res.Due > 0 {
		w.logger.WithContext(ctx).WithField("result", res.String()).Info("dispatch tick complete")
	}
	return res, nil
}

type channelAttempt struct {
	channel notification.Channel
	receipt mail.Receipt
	err     error
}

// process returns the notification's status after this attempt, or "" when it was skipped
func (w *Worker) process(ctx context.Context, n notification.Notification) notification.Status {
	ctx, span := tracing.StartSpan(ctx, "dispatch.notification",
		attribute.String("notification_id", n.ID),
		attribute.Int("attempt", n.Attempts+1),
	)
	defer span.End()
	log := func() *logging.LogEntry { return w.logger.WithContext(ctx).WithNotification(n.ID) }

	current, err := w.store.Get(ctx, n.ID)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		log().WithError(err).Warn("re-check failed, skipping")
		return ""
	}
	if current.Status != notification.StatusPending {
		tracing.AddSpanEvent(ctx, "dispatch.skipped", attribute.String("status", string(current.Status)))
		return ""
	}

	attempts := w.send(ctx, current)

	outcome := notification.Succeeded()
	var errs []string
	for _, a := range attempts {
		if a.err != nil {
			errs = append(errs, a.err.Error())
		}
	}
	if len(errs) > 0 {
		outcome = notification.Failed(strings.Join(errs, "; "))
	}

	updated, err := w.store.RecordOutcome(ctx, current.ID, outcome)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		log().WithError(err).Error("record outcome failed")
		return ""
	}

	for _, a := range attempts {
		entry := notification.AttemptLog{
			NotificationID: current.ID,
			Channel:        a.channel,
			Outcome:        notification.AttemptSent,
			Detail:         a.receipt.ID,
		}
		if a.err != nil {
			entry.Outcome = notification.AttemptFailed
			entry.Detail = a.err.Error()
		}
		if _, err := w.store.AppendAttempt(ctx, entry); err != nil {
			log().WithChannel(string(a.channel)).WithError(err).Error("append attempt log failed")
		}
	}

	span.SetAttributes(attribute.String("status", string(updated.Status)), attribute.Int("attempts", updated.Attempts))
	switch updated.Status {
	case notification.StatusSent:
		log().WithRecipient(current.RecipientEmail).Info("reminder sent")
	case notification.StatusFailed:
		metrics.RecordTerminalFailure()
		log().WithField("attempts", updated.Attempts).WithField("last_error", updated.LastError).Warn("reminder failed permanently")
		w.deadLetter(ctx, updated)
	default:
		log().WithField("attempts", updated.Attempts).WithField("last_error", updated.LastError).Info("reminder will be retried")
	}
	return updated.Status
}

// send attempts every channel of n once, each under DeliveryTimeout
func (w *Worker) send(ctx context.Context, n notification.Notification) []channelAttempt {
	subject, html, renderErr := mail.Render(n)

	attempts := make([]channelAttempt, 0, len(n.Channels))
	for _, ch := range n.Channels {
		a := channelAttempt{channel: ch}
		sender, ok := w.senders[ch]
		switch {
		case renderErr != nil:
			a.err = renderErr
		case !ok:
			a.err = fmt.Errorf("no sender for channel %q", ch)
		default:
			tracing.AddSpanEvent(ctx, "mail.send", attribute.String("channel", string(ch)))
			sctx, cancel := context.WithTimeout(ctx, w.cfg.DeliveryTimeout)
			start := time.Now()
			a.receipt, a.err = sender.Send(sctx, n.RecipientEmail, subject, html)
			if errors.Is(a.err, context.DeadlineExceeded) && ctx.Err() == nil {
				a.err = fmt.Errorf("delivery timed out after %s", w.cfg.DeliveryTimeout)
			}
			cancel()

			outcome := string(notification.AttemptSent)
			if a.err != nil {
				outcome = string(notification.AttemptFailed)
			}
			metrics.RecordAttempt(string(ch), outcome, time.Since(start))
		}

		if a.err != nil {
			derr := &notification.DeliveryError{Channel: ch, Err: a.err}
			tracing.SetSpanError(ctx, derr)
			w.logger.WithContext(ctx).WithNotification(n.ID).WithChannel(string(ch)).WithError(derr).Warn("delivery attempt failed")
		}
		attempts = append(attempts, a)
	}
	return attempts
}

func (w *Worker) deadLetter(ctx context.Context, n notification.Notification) {
	if w.dlq == nil {
		return
	}
	dl := delivery.NewDeadLetter(n, w.clock.Now(), delivery.ReasonMaxAttempts, tracing.InjectHeaders(ctx))
	if err := w.dlq.PublishDeadLetter(ctx, dl); err != nil {
		metrics.RecordDLQ("error")
		w.logger.WithContext(ctx).WithNotification(n.ID).WithError(err).Error("dead-letter publish failed")
		return
	}
	metrics.RecordDLQ("published")
}
