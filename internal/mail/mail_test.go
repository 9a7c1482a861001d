package mail

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gomail "gopkg.in/mail.v2"

	"github.com/austindbirch/harbor_remind/internal/config"
	"github.com/austindbirch/harbor_remind/internal/notification"
)

func TestDisabledSender(t *testing.T) {
	_, err := DisabledSender{}.Send(context.Background(), "a@b.co", "s", "<p>x</p>")
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Send() error = %v, want %v", err, ErrNotConfigured)
	}
	if err.Error() != "SMTP not configured" {
		t.Errorf("Send() error text = %q", err.Error())
	}
}

func TestNewFromConfig(t *testing.T) {
	smtpReady := config.Mail{Transport: "smtp", SMTPHost: "smtp.example.com", SMTPPort: 587, SMTPUser: "u@example.com", SMTPPass: "p"}

	tests := []struct {
		name    string
		mail    config.Mail
		want    string
		wantErr bool
	}{
		{name: "smtp configured", mail: smtpReady, want: "*mail.SMTPSender"},
		{name: "smtp missing credentials", mail: config.Mail{Transport: "smtp", SMTPHost: "smtp.example.com"}, want: "mail.DisabledSender"},
		{name: "default transport", mail: config.Mail{}, want: "mail.DisabledSender"},
		{name: "relay", mail: config.Mail{Transport: "relay", RelayURL: "http://relay/mail"}, want: "*mail.RelaySender"},
		{name: "relay without url", mail: config.Mail{Transport: "relay"}, wantErr: true},
		{name: "disabled", mail: config.Mail{Transport: "disabled"}, want: "mail.DisabledSender"},
		{name: "unknown", mail: config.Mail{Transport: "pigeon"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewFromConfig(config.Config{Mail: tt.mail})
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got := typeName(s); got != tt.want {
				t.Errorf("NewFromConfig() = %s, want %s", got, tt.want)
			}
		})
	}
}

func typeName(s Sender) string {
	switch s.(type) {
	case *SMTPSender:
		return "*mail.SMTPSender"
	case *RelaySender:
		return "*mail.RelaySender"
	case DisabledSender:
		return "mail.DisabledSender"
	}
	return "unknown"
}

type fakeDialer struct {
	sent  []*gomail.Message
	err   error
	block chan struct{}
}

func (f *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	if f.block != nil {
		<-f.block
	}
	f.sent = append(f.sent, m...)
	return f.err
}

func TestSMTPSender_Send(t *testing.T) {
	fd := &fakeDialer{}
	s := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Port: 587, From: "SmartBills <u@example.com>"})
	var gotTimeout time.Duration
	s.dial = func(timeout time.Duration) dialer {
		gotTimeout = timeout
		return fd
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	r, err := s.Send(ctx, "owner@example.com", "Reminder - Electricity", "<p>due</p>")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !strings.HasPrefix(r.ID, "<") || !strings.HasSuffix(r.ID, "@smtp.example.com>") {
		t.Errorf("Receipt.ID = %q, want Message-ID form", r.ID)
	}
	if gotTimeout <= 0 || gotTimeout > 30*time.Second {
		t.Errorf("dial timeout = %v, want derived from ctx deadline", gotTimeout)
	}
	if len(fd.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(fd.sent))
	}

	m := fd.sent[0]
	checks := map[string]string{
		"From":       "SmartBills <u@example.com>",
		"To":         "owner@example.com",
		"Subject":    "Reminder - Electricity",
		"Message-ID": r.ID,
	}
	for header, want := range checks {
		if got := m.GetHeader(header); len(got) != 1 || got[0] != want {
			t.Errorf("header %s = %v, want %q", header, got, want)
		}
	}
}

func TestSMTPSender_Errors(t *testing.T) {
	t.Run("dial error", func(t *testing.T) {
		s := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Port: 465})
		s.dial = func(time.Duration) dialer { return &fakeDialer{err: errors.New("SMTP timeout")} }

		if _, err := s.Send(context.Background(), "a@b.co", "s", "h"); err == nil || err.Error() != "SMTP timeout" {
			t.Errorf("Send() error = %v, want SMTP timeout", err)
		}
	})

	t.Run("context cancelled while sending", func(t *testing.T) {
		block := make(chan struct{})
		defer close(block)
		s := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Port: 587})
		s.dial = func(time.Duration) dialer { return &fakeDialer{block: block} }

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if _, err := s.Send(ctx, "a@b.co", "s", "h"); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Send() error = %v, want deadline exceeded", err)
		}
	})
}

func TestNewSMTPSender_TLSPolicy(t *testing.T) {
	tests := []struct {
		port      int
		wantSSL   bool
		wantStart gomail.StartTLSPolicy
	}{
		{port: 465, wantSSL: true, wantStart: gomail.OpportunisticStartTLS},
		{port: 587, wantSSL: false, wantStart: gomail.MandatoryStartTLS},
		{port: 25, wantSSL: false, wantStart: gomail.OpportunisticStartTLS},
	}

	for _, tt := range tests {
		d := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Port: tt.port}).dial(0).(*gomail.Dialer)
		if d.SSL != tt.wantSSL {
			t.Errorf("port %d SSL = %v, want %v", tt.port, d.SSL, tt.wantSSL)
		}
		if d.StartTLSPolicy != tt.wantStart {
			t.Errorf("port %d StartTLSPolicy = %v, want %v", tt.port, d.StartTLSPolicy, tt.wantStart)
		}
	}
}

func TestSign(t *testing.T) {
	a := Sign("secret", []byte(`{"to":"a@b.co"}`), "1700000000")
	b := Sign("secret", []byte(`{"to":"a@b.co"}`), "1700000001")
	c := Sign("other", []byte(`{"to":"a@b.co"}`), "1700000000")

	if !strings.HasPrefix(a, "sha256=") || len(a) != len("sha256=")+64 {
		t.Errorf("Sign() = %q, want sha256=<64 hex>", a)
	}
	if a == b || a == c {
		t.Error("Sign() should depend on timestamp and secret")
	}
	if a != Sign("secret", []byte(`{"to":"a@b.co"}`), "1700000000") {
		t.Error("Sign() is not deterministic")
	}
}

func TestRelaySender_Send(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		respBody   string
		secret     string
		wantID     string
		wantAnyID  bool
		wantErrSub string
	}{
		{name: "relay id returned", status: http.StatusOK, respBody: `{"id":"relay-123"}`, secret: "s3cret", wantID: "relay-123"},
		{name: "generated id when relay returns none", status: http.StatusAccepted, respBody: `ok`, wantAnyID: true},
		{name: "server error", status: http.StatusInternalServerError, respBody: "temporary failure", wantErrSub: "relay returned status 500: temporary failure"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotHeaders http.Header
			var gotBody []byte
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotHeaders = r.Header.Clone()
				gotBody, _ = io.ReadAll(r.Body)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.respBody))
			}))
			defer srv.Close()

			s := NewRelaySender(RelayConfig{URL: srv.URL, Secret: tt.secret, From: "SmartBills <no-reply@smartbills.com>"}, srv.Client())
			s.now = func() time.Time { return time.Unix(1700000000, 0) }

			r, err := s.Send(context.Background(), "owner@example.com", "Reminder - Water", "<p>hi</p>")
			if tt.wantErrSub != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErrSub) {
					t.Fatalf("Send() error = %v, want %q", err, tt.wantErrSub)
				}
				return
			}
			if err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			if tt.wantID != "" && r.ID != tt.wantID {
				t.Errorf("Receipt.ID = %q, want %q", r.ID, tt.wantID)
			}
			if tt.wantAnyID && r.ID == "" {
				t.Error("Receipt.ID is empty")
			}

			var msg RelayMessage
			if err := json.Unmarshal(gotBody, &msg); err != nil {
				t.Fatalf("relay body is not JSON: %v", err)
			}
			if msg.To != "owner@example.com" || msg.Subject != "Reminder - Water" || msg.HTML != "<p>hi</p>" {
				t.Errorf("relay message = %+v", msg)
			}

			if tt.secret != "" {
				if ts := gotHeaders.Get(DefaultTimestampHeader); ts != "1700000000" {
					t.Errorf("timestamp header = %q", ts)
				}
				if sig := gotHeaders.Get(DefaultSignatureHeader); sig != Sign(tt.secret, gotBody, "1700000000") {
					t.Errorf("signature header = %q does not verify", sig)
				}
			} else if gotHeaders.Get(DefaultSignatureHeader) != "" {
				t.Error("unsigned relay should not send a signature")
			}
		})
	}
}

func TestRelaySender_Unreachable(t *testing.T) {
	s := NewRelaySender(RelayConfig{URL: "http://127.0.0.1:1/mail"}, nil)
	if _, err := s.Send(context.Background(), "a@b.co", "s", "h"); err == nil {
		t.Error("Send() expected connection error")
	}
}

func TestRender(t *testing.T) {
	amount := 1250.5
	due := time.Date(2025, 11, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		n           notification.Notification
		wantSubject string
		contains    []string
		excludes    []string
	}{
		{
			name: "all fields",
			n: notification.Notification{
				Title:        "Electricity bill",
				ProviderName: "DESCO",
				Amount:       &amount,
				DueDate:      &due,
				BillID:       "bill-77",
				Message:      "Pay before the 15th",
			},
			wantSubject: "Reminder - Electricity bill",
			contains:    []string{"Electricity bill", "DESCO", "৳1250.50", "2025-11-15", "bill-77", "Pay before the 15th"},
		},
		{
			name:        "defaults",
			n:           notification.Notification{},
			wantSubject: "Reminder - " + notification.DefaultTitle,
			contains:    []string{notification.DefaultTitle},
			excludes:    []string{"Provider", "Amount", "Due date"},
		},
		{
			name:        "escapes html",
			n:           notification.Notification{Title: "Gas", Message: "<script>alert(1)</script>"},
			wantSubject: "Reminder - Gas",
			contains:    []string{"&lt;script&gt;"},
			excludes:    []string{"<script>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject, html, err := Render(tt.n)
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			if subject != tt.wantSubject {
				t.Errorf("Render() subject = %q, want %q", subject, tt.wantSubject)
			}
			for _, s := range tt.contains {
				if !strings.Contains(html, s) {
					t.Errorf("Render() html missing %q", s)
				}
			}
			for _, s := range tt.excludes {
				if strings.Contains(html, s) {
					t.Errorf("Render() html should not contain %q", s)
				}
			}
		})
	}
}
