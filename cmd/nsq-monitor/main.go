package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/austindbirch/harbor_remind/internal/config"
	"github.com/austindbirch/harbor_remind/internal/logging"
	"github.com/austindbirch/harbor_remind/internal/metrics"
)

// NSQStats represents the JSON structure returned by NSQ stats API
type NSQStats struct {
	Topics []struct {
		TopicName string `json:"topic_name"`
		Channels  []struct {
			ChannelName   string `json:"channel_name"`
			Depth         int64  `json:"depth"`
			InFlightCount int64  `json:"in_flight_count"`
		} `json:"channels"`
		Depth int64 `json:"depth"`
	} `json:"topics"`
}

// topicLabel is the channel label used for a topic's own depth
const topicLabel = "_topic"

var (
	logger = logging.New("nsq-monitor")

	statsClient = &http.Client{Timeout: 5 * time.Second}

	// Exhausted reminders nobody has drained yet
	dlqBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "harborremind_dlq_backlog",
		Help: "Dead-lettered notifications waiting in the DLQ topic",
	})

	channelInflight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "harborremind_nsq_channel_inflight",
		Help: "In-flight messages for NSQ channels by topic and channel",
	}, []string{"topic", "channel"})
)

func main() {
	cfg := config.FromEnv()
	port := getEnv("PORT", "8084")
	interval := getEnvInt("POLL_INTERVAL_SECONDS", 15)

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)
	reg.MustRegister(dlqBacklog, channelInflight)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Plain().WithFields(map[string]any{
		"port":     port,
		"nsqd":     cfg.NSQ.NsqdHTTPAddr,
		"topic":    cfg.NSQ.DLQTopic,
		"interval": interval,
	}).Info("NSQ monitor starting")

	go collectMetrics(ctx, cfg.NSQ.NsqdHTTPAddr, cfg.NSQ.DLQTopic, time.Duration(interval)*time.Second)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	})

	srv := &http.Server{Addr: ":" + port, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Plain().WithError(err).Fatal("nsq-monitor stopped")
	}
}

func collectMetrics(ctx context.Context, nsqdHost, topic string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := updateMetrics(ctx, nsqdHost, topic); err != nil {
			logger.Plain().WithError(err).Warn("Error updating NSQ metrics")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func updateMetrics(ctx context.Context, nsqdHost, topic string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s/stats?format=json&topic=%s", nsqdHost, topic), nil)
	if err != nil {
		return fmt.Errorf("failed to build stats request: %w", err)
	}
	resp, err := statsClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to get NSQ stats: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("NSQ stats returned status %d", resp.StatusCode)
	}

	var stats NSQStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("failed to decode NSQ stats: %w", err)
	}

	for _, t := range stats.Topics {
		if t.TopicName != topic {
			continue
		}
		// Messages sit on the topic until a channel exists, then on the channels
		backlog := t.Depth
		metrics.UpdateNSQTopicDepth(t.TopicName, topicLabel, float64(t.Depth))
		for _, ch := range t.Channels {
			backlog += ch.Depth
			metrics.UpdateNSQTopicDepth(t.TopicName, ch.ChannelName, float64(ch.Depth))
			channelInflight.WithLabelValues(t.TopicName, ch.ChannelName).Set(float64(ch.InFlightCount))
		}
		dlqBacklog.Set(float64(backlog))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
