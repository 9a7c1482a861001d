package main

import (
	"crypto/hmac"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/austindbirch/harbor_remind/internal/config"
	"github.com/austindbirch/harbor_remind/internal/logging"
	"github.com/austindbirch/harbor_remind/internal/mail"
)

var (
	reqCount atomic.Int64
	logger   = logging.New("fake-receiver")
)

func main() {
	cfg := config.FromEnv()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("/mail", func(w http.ResponseWriter, r *http.Request) { handleMail(w, r, cfg) })

	srv := &http.Server{
		Addr:         cfg.FakeReceiver.Port,
		Handler:      mux,
		ReadTimeout:  cfg.FakeReceiver.ReadTimeout,
		WriteTimeout: cfg.FakeReceiver.WriteTimeout,
		IdleTimeout:  cfg.FakeReceiver.IdleTimeout,
	}
	logger.Plain().WithFields(map[string]any{
		"addr":         srv.Addr,
		"fail_first_n": cfg.FakeReceiver.FailFirstN,
		"signed":       cfg.FakeReceiver.RelaySecret != "",
	}).Info("fake mail relay listening")
	if err := srv.ListenAndServe(); err != nil {
		logger.Plain().WithError(err).Fatal("fake-receiver stopped")
	}
}

// handleMail accepts relay messages, optionally checking signatures and failing the first N
func handleMail(w http.ResponseWriter, r *http.Request, cfg config.Config) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n := reqCount.Add(1)
	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	fr := cfg.FakeReceiver
	if fr.RelaySecret != "" {
		leeway := time.Duration(fr.SigningLeewaySeconds) * time.Second
		ts := r.Header.Get(headerOr(cfg.Mail.TimestampHdr, mail.DefaultTimestampHeader))
		sig := r.Header.Get(headerOr(cfg.Mail.SignatureHdr, mail.DefaultSignatureHeader))
		if ok, msg := verifySignature(fr.RelaySecret, b, ts, sig, leeway); !ok {
			logger.Plain().WithField("reason", msg).Warn("fake-receiver failed to verify signature")
			http.Error(w, "invalid signature: "+msg, http.StatusUnauthorized)
			return
		}
	}

	if fr.ResponseDelayMS > 0 {
		time.Sleep(time.Duration(fr.ResponseDelayMS) * time.Millisecond)
	}

	// Simulate flakiness: first N requests -> 500
	if n <= int64(fr.FailFirstN) {
		logger.Plain().WithField("body", truncate(string(b), 160)).Warnf("FAILING (%d/%d)", n, fr.FailFirstN)
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}

	var msg mail.RelayMessage
	if err := json.Unmarshal(b, &msg); err != nil || msg.To == "" {
		http.Error(w, "invalid relay message", http.StatusBadRequest)
		return
	}

	id := uuid.NewString()
	logger.Plain().WithRecipient(msg.To).WithFields(map[string]any{
		"id":      id,
		"subject": msg.Subject,
		"html":    truncate(msg.HTML, 160),
	}).Info("fake-receiver accepted mail")

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(mail.Receipt{ID: id})
}

func headerOr(h, def string) string {
	if h == "" {
		return def
	}
	return h
}

func verifySignature(secret string, body []byte, ts, sigHeaderVal string, leeway time.Duration) (bool, string) {
	if ts == "" || sigHeaderVal == "" {
		return false, "missing headers"
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false, "invalid timestamp"
	}
	// reject if timestamp is too old/new
	if abs64(time.Now().Unix()-unix) > int64(leeway.Seconds()) {
		return false, "timestamp too far from now (outside leeway)"
	}
	if !hmac.Equal([]byte(sigHeaderVal), []byte(mail.Sign(secret, body, ts))) {
		return false, "sig mismatch"
	}
	return true, ""
}

// abs64 returns the absolute value of an int64
func abs64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
