package mail

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/austindbirch/harbor_remind/internal/config"
)

// ErrNotConfigured is returned by every send when no transport is configured
var ErrNotConfigured = errors.New("SMTP not configured")

// Receipt identifies one accepted message (SMTP Message-ID or relay id)
type Receipt struct {
	ID string `json:"id"`
}

// Sender delivers one rendered reminder
type Sender interface {
	Send(ctx context.Context, to, subject, html string) (Receipt, error)
}

// DisabledSender fails every send
type DisabledSender struct{}

func (DisabledSender) Send(context.Context, string, string, string) (Receipt, error) {
	return Receipt{}, ErrNotConfigured
}

// NewFromConfig picks the transport named by MAIL_TRANSPORT
func NewFromConfig(cfg config.Config) (Sender, error) {
	switch cfg.Mail.Transport {
	case "", "smtp":
		if !cfg.SMTPEnabled() {
			return DisabledSender{}, nil
		}
		return NewSMTPSender(SMTPConfig{
			Host: cfg.Mail.SMTPHost,
			Port: cfg.Mail.SMTPPort,
			User: cfg.Mail.SMTPUser,
			Pass: cfg.Mail.SMTPPass,
			From: cfg.MailFrom(),
		}), nil
	case "relay":
		if cfg.Mail.RelayURL == "" {
			return nil, fmt.Errorf("mail relay transport requires MAIL_RELAY_URL")
		}
		return NewRelaySender(RelayConfig{
			URL:             cfg.Mail.RelayURL,
			Secret:          cfg.Mail.RelaySecret,
			From:            cfg.MailFrom(),
			SignatureHeader: cfg.Mail.SignatureHdr,
			TimestampHeader: cfg.Mail.TimestampHdr,
		}, &http.Client{Timeout: cfg.Mail.RelayTimeout}), nil
	case "disabled":
		return DisabledSender{}, nil
	default:
		return nil, fmt.Errorf("unknown mail transport %q", cfg.Mail.Transport)
	}
}
