package mail

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/austindbirch/harbor_remind/internal/tracing"
)

const (
	DefaultSignatureHeader = "X-HarborRemind-Signature" // sha256=<hex>
	DefaultTimestampHeader = "X-HarborRemind-Timestamp" // unix seconds
)

type RelayConfig struct {
	URL             string
	Secret          string
	From            string
	SignatureHeader string
	TimestampHeader string
}

// RelayMessage is the JSON body posted to the relay
type RelayMessage struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// RelaySender posts signed messages to an HTTP mail relay
type RelaySender struct {
	cfg    RelayConfig
	client *http.Client
	now    func() time.Time
}

func NewRelaySender(cfg RelayConfig, client *http.Client) *RelaySender {
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = DefaultSignatureHeader
	}
	if cfg.TimestampHeader == "" {
		cfg.TimestampHeader = DefaultTimestampHeader
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &RelaySender{cfg: cfg, client: client, now: time.Now}
}

// Sign computes the HMAC over body||timestamp
func Sign(secret string, body []byte, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte(ts))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (s *RelaySender) Send(ctx context.Context, to, subject, html string) (Receipt, error) {
	body, err := json.Marshal(RelayMessage{From: s.cfg.From, To: to, Subject: subject, HTML: html})
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal relay message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.Secret != "" {
		ts := strconv.FormatInt(s.now().Unix(), 10)
		req.Header.Set(s.cfg.TimestampHeader, ts)
		req.Header.Set(s.cfg.SignatureHeader, Sign(s.cfg.Secret, body, ts))
	}
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Receipt{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return Receipt{}, fmt.Errorf("relay returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var r Receipt
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&r); err != nil || r.ID == "" {
		r.ID = uuid.NewString()
	}
	return r, nil
}
