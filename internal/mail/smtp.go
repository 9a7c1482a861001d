package mail

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	gomail "gopkg.in/mail.v2"
)

type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// dialer is the part of *gomail.Dialer the sender needs
type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPSender sends through an authenticated SMTP server
type SMTPSender struct {
	cfg  SMTPConfig
	dial func(timeout time.Duration) dialer
}

// NewSMTPSender uses implicit TLS on 465 and requires STARTTLS on 587
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{
		cfg: cfg,
		dial: func(timeout time.Duration) dialer {
			d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass)
			d.SSL = cfg.Port == 465
			if cfg.Port == 587 {
				d.StartTLSPolicy = gomail.MandatoryStartTLS
			}
			if timeout > 0 {
				d.Timeout = timeout
			}
			return d
		},
	}
}

func (s *SMTPSender) message(to, subject, html string) (*gomail.Message, string) {
	id := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.cfg.Host)

	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetHeader("Message-ID", id)
	m.SetBody("text/html", html)
	return m, id
}

// Send blocks until the server accepts the message or ctx is done
func (s *SMTPSender) Send(ctx context.Context, to, subject, html string) (Receipt, error) {
	m, id := s.message(to, subject, html)

	var timeout time.Duration
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	d := s.dial(timeout)

	done := make(chan error, 1)
	go func() { done <- d.DialAndSend(m) }()

	select {
	case err := <-done:
		if err != nil {
			return Receipt{}, err
		}
		return Receipt{ID: id}, nil
	case <-ctx.Done():
		// DialAndSend keeps running; if it still delivers, the retry sends a duplicate
		return Receipt{}, ctx.Err()
	}
}
