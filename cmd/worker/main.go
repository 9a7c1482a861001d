package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/austindbirch/harbor_remind/internal/config"
	"github.com/austindbirch/harbor_remind/internal/delivery"
	"github.com/austindbirch/harbor_remind/internal/dispatch"
	"github.com/austindbirch/harbor_remind/internal/health"
	"github.com/austindbirch/harbor_remind/internal/logging"
	"github.com/austindbirch/harbor_remind/internal/mail"
	"github.com/austindbirch/harbor_remind/internal/metrics"
	"github.com/austindbirch/harbor_remind/internal/notification"
	"github.com/austindbirch/harbor_remind/internal/storage"
	"github.com/austindbirch/harbor_remind/internal/tracing"
)

const serviceName = "harborremind-worker"

func dispatchConfig(cfg config.Config) dispatch.Config {
	return dispatch.Config{
		Interval:        cfg.Worker.Interval,
		MaxAttempts:     cfg.Worker.MaxAttempts,
		Concurrency:     cfg.Worker.Concurrency,
		DeliveryTimeout: cfg.Worker.DeliveryTimeout,
	}
}

// opsMux serves the worker's health and metrics endpoints
func opsMux(p health.Pinger, reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(p))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

// checkStoreDriver rejects drivers the worker cannot share with the API process
func checkStoreDriver(driver string) error {
	if driver == storage.DriverMemory {
		return fmt.Errorf("store driver %q is per-process; the worker would never see reminders created by the API", driver)
	}
	return nil
}

func main() {
	cfg := config.FromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	logging.SetDefaultService(serviceName)
	logger := logging.New(serviceName)

	shutdown, err := tracing.InitTracing(ctx, serviceName)
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdown()

	if err := checkStoreDriver(cfg.StoreDriver); err != nil {
		logger.Plain().WithError(err).Fatal("unsupported store driver")
	}

	backend, err := storage.Open(ctx, cfg)
	if err != nil {
		logger.Plain().WithError(err).Fatal("store open failed")
	}
	defer backend.Close()

	sender, err := mail.NewFromConfig(cfg)
	if err != nil {
		logger.Plain().WithError(err).Fatal("mail setup failed")
	}
	if _, disabled := sender.(mail.DisabledSender); disabled {
		logger.Plain().Warn("SMTP email is disabled; every reminder attempt will fail with \"SMTP not configured\"")
	}

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	httpSrv := &http.Server{Addr: cfg.Worker.HTTPPort, Handler: opsMux(backend.Pinger, reg), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Plain().WithError(err).Fatal("worker HTTP server failed")
		}
	}()

	opts := []dispatch.Option{dispatch.WithLogger(logger)}
	if cfg.Worker.PublishDLQ {
		pub, err := delivery.NewNSQPublisher(cfg.NSQ.NsqdTCPAddr, cfg.NSQ.DLQTopic)
		if err != nil {
			logger.Plain().WithError(err).Fatal("nsq producer for DLQ creation failed")
		}
		defer pub.Stop()
		opts = append(opts, dispatch.WithDeadLetters(pub))
	}

	store := notification.NewStore(backend.Repo, notification.SystemClock{}, cfg.Worker.MaxAttempts)
	w := dispatch.New(dispatchConfig(cfg), store,
		map[notification.Channel]mail.Sender{notification.ChannelEmail: sender}, opts...)

	logger.Plain().WithFields(map[string]any{
		"driver":       backend.Driver,
		"interval":     cfg.Worker.Interval.String(),
		"max_attempts": cfg.Worker.MaxAttempts,
		"concurrency":  cfg.Worker.Concurrency,
	}).Info("dispatch worker started")

	_ = w.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Plain().Info("worker stopped")
}
