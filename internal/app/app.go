// Package app wires the checkout components from config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ariefcatur/go-checkout-payments/internal/cart"
	"github.com/ariefcatur/go-checkout-payments/internal/checkout"
	"github.com/ariefcatur/go-checkout-payments/internal/config"
	"github.com/ariefcatur/go-checkout-payments/internal/gateway"
	"github.com/ariefcatur/go-checkout-payments/internal/gateway/formpay"
	"github.com/ariefcatur/go-checkout-payments/internal/gateway/sessionpay"
	"github.com/ariefcatur/go-checkout-payments/internal/metrics"
	"github.com/ariefcatur/go-checkout-payments/internal/orders"
	"github.com/ariefcatur/go-checkout-payments/internal/postgres"
	"github.com/ariefcatur/go-checkout-payments/internal/redisx"
	"github.com/ariefcatur/go-checkout-payments/internal/sweeper"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type App struct {
	Cfg      config.Config
	DB       *pgxpool.Pool // nil untuk STORE_DRIVER=memory
	Redis    *redis.Client // nil kalau redis tidak tersedia
	Store    orders.Store
	Carts    cart.Source
	Gateways *gateway.Registry
	Checkout *checkout.Service
	Sweeper  *sweeper.Sweeper
	Admin    *sweeper.Admin
	Dedup    *redisx.Dedup
}

func New(ctx context.Context, cfg config.Config, m *metrics.Metrics, log *slog.Logger) (*App, error) {
	a := &App{Cfg: cfg}

	switch cfg.StoreDriver {
	case "memory":
		mem := cart.NewMemSource()
		// buyer demo supaya bisa langsung dicoba tanpa postgres
		mem.Put("demo",
			orders.Item{ProductRef: "SKU-TEE-M", Name: "Cotton tee", Quantity: 2, UnitPrice: 49900, Variant: "M"},
			orders.Item{ProductRef: "SKU-CAP", Name: "Cap", Quantity: 1, UnitPrice: 29900},
		)
		a.Store, a.Carts = orders.NewMemStore(), mem
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.DBMaxConns)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		a.DB = db
		a.Store = &orders.Repo{DB: db, Service: cfg.ServiceName}
		a.Carts = &cart.PGSource{DB: db}
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	var cache checkout.StatusCache
	var locker sweeper.Locker
	var sweepCache sweeper.Cache
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Warn("redis unavailable, running without status cache", "addr", cfg.RedisAddr, "error", err)
			_ = rdb.Close()
		} else {
			a.Redis = rdb
			sc := redisx.NewStatusCache(rdb)
			cache, sweepCache = sc, sc
			locker = &redisx.Locker{RDB: rdb}
			a.Dedup = &redisx.Dedup{RDB: rdb, Scope: "webhook"}
		}
	}

	a.Gateways = gateways(cfg)
	a.Checkout = checkout.New(checkout.Deps{
		Store:    a.Store,
		Carts:    a.Carts,
		Gateways: a.Gateways,
		Cache:    cache,
		Metrics:  m,
		Logger:   log,
	}, checkout.Config{
		GatewayTimeout:    cfg.GatewayTimeout,
		IdempotencyWindow: cfg.IdempotencyWindow,
		Synthetic:         cfg.Sandbox(),
	})
	a.Sweeper = &sweeper.Sweeper{
		Store:    a.Store,
		Cache:    sweepCache,
		Locker:   locker,
		TTL:      cfg.PaymentTTL,
		Interval: cfg.SweepInterval,
		Batch:    cfg.SweepBatch,
		Metrics:  m,
		Log:      log.With("component", "sweeper"),
	}
	a.Admin = &sweeper.Admin{
		Store:   a.Store,
		Sweeper: a.Sweeper,
		Secret:  []byte(cfg.AdminSecret),
		Metrics: m,
	}
	return a, nil
}

func gateways(cfg config.Config) *gateway.Registry {
	var adapters []gateway.Adapter
	env := "production"
	if cfg.Sandbox() {
		env = "sandbox"
	}
	if cfg.GatewayA.Enabled() {
		adapters = append(adapters, sessionpay.New(sessionpay.Config{
			BaseURL:       cfg.GatewayA.BaseURL,
			ClientID:      cfg.GatewayA.ClientID,
			ClientSecret:  cfg.GatewayA.ClientSecret,
			WebhookSecret: cfg.GatewayA.WebhookSecret,
			ReturnURL:     cfg.ReturnURL,
			Environment:   env,
			Timeout:       cfg.GatewayTimeout,
		}))
	}
	if cfg.GatewayB.Enabled() {
		adapters = append(adapters, formpay.New(formpay.Config{
			ActionURL:   cfg.GatewayB.ActionURL,
			EnquiryURL:  cfg.GatewayB.EnquiryURL,
			ClientCode:  cfg.GatewayB.ClientCode,
			AuthKey:     cfg.GatewayB.AuthKey,
			CallbackURL: cfg.GatewayB.CallbackURL,
			Timeout:     cfg.GatewayTimeout,
		}))
	}
	return gateway.NewRegistry(adapters...)
}

func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
