package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-checkout-payments/internal/app"
	"github.com/ariefcatur/go-checkout-payments/internal/config"
	"github.com/ariefcatur/go-checkout-payments/internal/httpx"
	kafkax "github.com/ariefcatur/go-checkout-payments/internal/kafka"
	"github.com/ariefcatur/go-checkout-payments/internal/metrics"
	"github.com/ariefcatur/go-checkout-payments/internal/outbox"
	"github.com/ariefcatur/go-checkout-payments/internal/telemetry"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := telemetry.InitLogger(cfg.ServiceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.SetupTracer(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Error("tracer setup failed", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New("api", reg)

	a, err := app.New(ctx, cfg, m, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// Router & handler
	router := httpx.NewRouter(m, reg)
	ch := &httpx.CheckoutHandler{
		Svc:       a.Checkout,
		Buyers:    httpx.HeaderBuyerResolver{},
		ReturnURL: cfg.ReturnURL,
	}
	if a.Dedup != nil {
		ch.Dedup = a.Dedup
	}
	ch.Register(router)
	(&httpx.AdminHandler{Admin: a.Admin, Token: cfg.AdminToken}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP listening", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver, "gateway_mode", cfg.GatewayMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return a.Sweeper.Run(gctx) })

	if a.DB != nil {
		// Kafka producer untuk outbox relay
		prod := kafkax.NewProducer(cfg.KafkaBrokers)
		defer prod.Close()
		relay := &outbox.Relay{
			Source:    &outbox.PGStore{DB: a.DB},
			Publisher: prod,
			Interval:  cfg.OutboxPollInterval,
			Batch:     100,
			OnSent:    m.Published,
		}
		g.Go(func() error { return relay.Run(gctx) })
	}

	// graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down...")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = shutdownTracer(sctx)
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("exited with error", "error", err)
		os.Exit(1)
	}
}
