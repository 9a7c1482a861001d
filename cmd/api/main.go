package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	grpc_health "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/austindbirch/harbor_remind/internal/api"
	"github.com/austindbirch/harbor_remind/internal/auth"
	"github.com/austindbirch/harbor_remind/internal/config"
	"github.com/austindbirch/harbor_remind/internal/logging"
	"github.com/austindbirch/harbor_remind/internal/mail"
	"github.com/austindbirch/harbor_remind/internal/metrics"
	"github.com/austindbirch/harbor_remind/internal/notification"
	"github.com/austindbirch/harbor_remind/internal/storage"
	"github.com/austindbirch/harbor_remind/internal/tracing"
)

const serviceName = "harborremind-api"

// newGRPCServer serves grpc.health.v1 with otel instrumentation; JWT verifiers also
// guard any non-health method
// newGRPCServer serves only grpc.health.v1, which the JWT interceptor exempts.
// The interceptor is installed so any service registered later is authenticated.
func newGRPCServer(v auth.Verifier) (*grpc.Server, *grpc_health.Server) {
	opts := []grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}
	if jv, ok := v.(*auth.JWTValidator); ok {
		opts = append(opts, grpc.UnaryInterceptor(jv.GRPCInterceptor()))
	}
	srv := grpc.NewServer(opts...)
	hs := grpc_health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
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

	backend, err := storage.Open(ctx, cfg)
	if err != nil {
		logger.Plain().WithError(err).Fatal("store open failed")
	}
	defer backend.Close()
	logger.Plain().WithField("driver", backend.Driver).Info("store ready")

	verifier, err := auth.NewVerifier(ctx, cfg.Auth)
	if err != nil {
		logger.Plain().WithError(err).Fatal("auth setup failed")
	}

	sender, err := mail.NewFromConfig(cfg)
	if err != nil {
		logger.Plain().WithError(err).Fatal("mail setup failed")
	}
	if _, disabled := sender.(mail.DisabledSender); disabled {
		logger.Plain().Warn("SMTP email is disabled. Set SMTP_HOST/PORT/USER/PASS to enable reminder emails.")
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	// gRPC health
	grpcSrv, hs := newGRPCServer(verifier)
	lis, err := net.Listen("tcp", cfg.GRPCPort)
	if err != nil {
		logger.Plain().WithError(err).Fatal("gRPC listen failed")
	}
	go func() {
		logger.Plain().WithField("addr", cfg.GRPCPort).Info("api gRPC listening")
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Plain().WithError(err).Fatal("gRPC serve failed")
		}
	}()

	// HTTP
	store := notification.NewStore(backend.Repo, notification.SystemClock{}, cfg.Worker.MaxAttempts)
	handler, err := api.NewServer(api.Options{
		Verifier:       verifier,
		Store:          store,
		Pinger:         backend.Pinger,
		Preview:        sender,
		PreviewTimeout: cfg.Worker.DeliveryTimeout,
		Logger:         logger,
		Started:        time.Now(),
	}).Handler()
	if err != nil {
		logger.Plain().WithError(err).Fatal("route registration failed")
	}

	httpSrv := &http.Server{Addr: cfg.HTTPPort, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Plain().WithField("addr", cfg.HTTPPort).Info("api HTTP listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Plain().WithError(err).Fatal("HTTP serve failed")
		}
	}()

	<-ctx.Done()
	hs.Shutdown()
	grpcSrv.GracefulStop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Plain().Info("api stopped")
}
