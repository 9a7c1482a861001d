package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	NotificationsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harborremind_notifications_created_total",
			Help: "Total number of notifications scheduled.",
		},
	)

	NotificationsCancelledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harborremind_notifications_cancelled_total",
			Help: "Total number of notifications cancelled by their owner.",
		},
	)

	DispatchAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harborremind_dispatch_attempts_total",
			Help: "Total number of delivery attempts by channel and outcome.",
		},
		[]string{"channel", "outcome"}, // outcome: sent, failed
	)

	DeliveryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harborremind_delivery_latency_seconds",
			Help:    "Time spent in one send call.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel", "outcome"},
	)

	TerminalFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harborremind_terminal_failures_total",
			Help: "Total number of notifications that exhausted their attempts.",
		},
	)

	DLQTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harborremind_dlq_total",
			Help: "Total number of dead-letter envelopes by publish result.",
		},
		[]string{"result"}, // published, error
	)

	DueBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "harborremind_due_backlog",
			Help: "Notifications found due at the start of the last tick.",
		},
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harborremind_tick_duration_seconds",
			Help:    "Wall time of one dispatch tick.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
		},
	)

	TickErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harborremind_tick_errors_total",
			Help: "Total number of dispatch ticks abandoned because the store failed.",
		},
	)

	NSQTopicDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harborremind_nsq_topic_depth",
			Help: "Message depth of an NSQ topic/channel pair.",
		},
		[]string{"topic", "channel"},
	)
)

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		NotificationsCreatedTotal,
		NotificationsCancelledTotal,
		DispatchAttemptsTotal,
		DeliveryLatency,
		TerminalFailuresTotal,
		DLQTotal,
		DueBacklog,
		TickDuration,
		TickErrorsTotal,
		NSQTopicDepth,
	)
}

func RecordNotificationCreated() { NotificationsCreatedTotal.Inc() }

func RecordNotificationCancelled() { NotificationsCancelledTotal.Inc() }

// RecordAttempt counts one send on a channel and observes its latency
func RecordAttempt(channel, outcome string, latency time.Duration) {
	DispatchAttemptsTotal.WithLabelValues(channel, outcome).Inc()
	DeliveryLatency.WithLabelValues(channel, outcome).Observe(latency.Seconds())
}

func RecordTerminalFailure() { TerminalFailuresTotal.Inc() }

func RecordDLQ(result string) { DLQTotal.WithLabelValues(result).Inc() }

func UpdateDueBacklog(n int) { DueBacklog.Set(float64(n)) }

func RecordTick(d time.Duration, err error) {
	TickDuration.Observe(d.Seconds())
	if err != nil {
		TickErrorsTotal.Inc()
	}
}

func UpdateNSQTopicDepth(topic, channel string, depth float64) {
	NSQTopicDepth.WithLabelValues(topic, channel).Set(depth)
}
