// Package api serves the notification REST surface on a grpc-gateway mux.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/harbor_remind/internal/auth"
	"github.com/austindbirch/harbor_remind/internal/health"
	"github.com/austindbirch/harbor_remind/internal/logging"
	"github.com/austindbirch/harbor_remind/internal/mail"
	"github.com/austindbirch/harbor_remind/internal/metrics"
	"github.com/austindbirch/harbor_remind/internal/notification"
	"github.com/austindbirch/harbor_remind/internal/tracing"
)

const maxBodyBytes = 1 << 20

// Store is the part of *notification.Store the API uses
type Store interface {
	Create(ctx context.Context, req notification.CreateRequest) (notification.Notification, error)
	ListFor(ctx context.Context, recipientEmail string) ([]notification.Notification, error)
	Get(ctx context.Context, id string) (notification.Notification, error)
	Cancel(ctx context.Context, id, requesterEmail string) (notification.Notification, error)
	Attempts(ctx context.Context, notificationID string) ([]notification.AttemptLog, error)
	Clock() notification.Clock
}

type Options struct {
	Verifier       auth.Verifier
	Store          Store
	Pinger         health.Pinger // nil skips the store ping on /healthz
	Preview        mail.Sender
	PreviewTimeout time.Duration
	Logger         *logging.Logger
	Started        time.Time
}

type Server struct {
	opts Options
}

func NewServer(opts Options) *Server {
	if opts.Preview == nil {
		opts.Preview = mail.DisabledSender{}
	}
	if opts.PreviewTimeout <= 0 {
		opts.PreviewTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.New("harborremind-api")
	}
	if opts.Started.IsZero() {
		opts.Started = time.Now()
	}
	return &Server{opts: opts}
}

// Handler returns the full HTTP surface with authentication applied
func (s *Server) Handler() (http.Handler, error) {
	mux := runtime.NewServeMux(
		runtime.WithRoutingErrorHandler(func(_ context.Context, _ *runtime.ServeMux, _ runtime.Marshaler, w http.ResponseWriter, _ *http.Request, status int) {
			writeJSON(w, status, errorBody{Error: http.StatusText(status)})
		}),
	)

	routes := []struct {
		method, pattern string
		h               runtime.HandlerFunc
	}{
		{http.MethodPost, "/notifications", s.createNotification},
		{http.MethodGet, "/notifications", s.listNotifications},
		{http.MethodPost, "/notifications/preview", s.previewNotification},
		{http.MethodDelete, "/notifications/{id}", s.cancelNotification},
		{http.MethodGet, "/notifications/{id}/attempts", s.listAttempts},
		{http.MethodGet, "/health", wrap(health.UptimeHandler(s.opts.Started))},
		{http.MethodGet, "/healthz", wrap(health.HTTPHandler(s.opts.Pinger))},
		{http.MethodGet, "/metrics", wrap(promhttp.Handler())},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.h); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return auth.HTTPMiddleware(s.opts.Verifier)(mux), nil
}

func wrap(h http.Handler) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ map[string]string) { h.ServeHTTP(w, r) }
}

type errorBody struct {
	Error string `json:"error"`
}

type createResponse struct {
	InsertedID   string    `json:"insertedId"`
	ScheduledFor time.Time `json:"scheduledFor"`
}

type previewResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto status codes
func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		verr  *notification.ValidationError
		nferr *notification.NotFoundError
		aerr  *notification.AuthorizationError
		ferr  *forbiddenError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.As(err, &nferr):
		status = http.StatusNotFound
	case errors.As(err, &aerr), errors.As(err, &ferr):
		status = http.StatusForbidden
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		tracing.SetSpanError(ctx, err)
		s.opts.Logger.WithContext(ctx).WithError(err).Error("request failed")
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

// forbiddenError reports a request made on behalf of someone other than the caller
type forbiddenError struct {
	requester string
}

func (e *forbiddenError) Error() string {
	return fmt.Sprintf("%s may only act on their own notifications", e.requester)
}

// identity resolves the email a request acts for. It always returns the verified
// caller so stored recipients match the default list lookup byte for byte.
func identity(ctx context.Context, claimed string) (string, error) {
	caller, ok := auth.EmailFromContext(ctx)
	if !ok {
		return "", &forbiddenError{requester: "anonymous"}
	}
	claimed = strings.TrimSpace(claimed)
	if claimed == "" {
		return caller, nil
	}
	if !strings.EqualFold(claimed, caller) {
		return "", &forbiddenError{requester: caller}
	}
	return caller, nil
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return &notification.ValidationError{Reason: fmt.Sprintf("invalid JSON body: %v", err)}
	}
	return nil
}

func (s *Server) createNotification(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	ctx, span := tracing.StartSpan(r.Context(), "api.create_notification")
	defer span.End()

	var req notification.CreateRequest
	if err := decode(r, &req); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	email, err := identity(ctx, req.Email)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	req.Email = email

	n, err := s.opts.Store.Create(ctx, req)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	metrics.RecordNotificationCreated()
	span.SetAttributes(attribute.String("notification_id", n.ID))
	s.opts.Logger.WithContext(ctx).WithNotification(n.ID).WithRecipient(n.RecipientEmail).
		WithField("send_at", n.SendAt.Format(time.RFC3339)).Info("notification scheduled")

	writeJSON(w, http.StatusCreated, createResponse{InsertedID: n.ID, ScheduledFor: n.SendAt})
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	ctx, span := tracing.StartSpan(r.Context(), "api.list_notifications")
	defer span.End()

	email, err := identity(ctx, r.URL.Query().Get("email"))
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	list, err := s.opts.Store.ListFor(ctx, email)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	if list == nil {
		list = []notification.Notification{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) cancelNotification(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id := params["id"]
	ctx, span := tracing.StartSpan(r.Context(), "api.cancel_notification", attribute.String("notification_id", id))
	defer span.End()

	caller, err := identity(ctx, "")
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	if _, err := s.opts.Store.Cancel(ctx, id, caller); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	metrics.RecordNotificationCancelled()
	s.opts.Logger.WithContext(ctx).WithNotification(id).Info("notification cancelled")

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) listAttempts(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id := params["id"]
	ctx, span := tracing.StartSpan(r.Context(), "api.list_attempts", attribute.String("notification_id", id))
	defer span.End()

	caller, err := identity(ctx, "")
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	n, err := s.opts.Store.Get(ctx, id)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	if !strings.EqualFold(strings.TrimSpace(n.RecipientEmail), caller) {
		s.writeError(ctx, w, &notification.AuthorizationError{ID: id, Requester: caller})
		return
	}

	logs, err := s.opts.Store.Attempts(ctx, id)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	if logs == nil {
		logs = []notification.AttemptLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// previewNotification renders and sends once without persisting anything
func (s *Server) previewNotification(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	ctx, span := tracing.StartSpan(r.Context(), "api.preview_notification")
	defer span.End()

	var req notification.CreateRequest
	if err := decode(r, &req); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	email, err := identity(ctx, req.Email)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	req.Email = email

	n, err := req.Build(s.opts.Store.Clock().Now())
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	subject, html, err := mail.Render(n)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	sctx, cancel := context.WithTimeout(ctx, s.opts.PreviewTimeout)
	defer cancel()
	receipt, err := s.opts.Preview.Send(sctx, n.RecipientEmail, subject, html)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		s.opts.Logger.WithContext(ctx).WithRecipient(n.RecipientEmail).WithChannel(string(notification.ChannelEmail)).
			WithError(err).Warn("preview send failed")
		writeJSON(w, http.StatusInternalServerError, previewResponse{Success: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, previewResponse{Success: true, ID: receipt.ID})
}
