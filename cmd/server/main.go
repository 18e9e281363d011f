// Command server runs the prism enrichment gateway: the HTTP API, the
// reservation janitor, the cache purge worker, the audit retention worker,
// and (when Kafka is configured) the audit outbox relay.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"prism/internal/enrich"
	jwttoken "prism/internal/jwt_token"
	"prism/internal/ledger"
	"prism/internal/ledger/janitor"
	ledgersvc "prism/internal/ledger/service"
	ledgermem "prism/internal/ledger/store/memory"
	ledgerpg "prism/internal/ledger/store/postgres"
	ledgerredis "prism/internal/ledger/store/redis"
	"prism/internal/platform/config"
	"prism/internal/platform/httpserver"
	"prism/internal/platform/kafka"
	"prism/internal/platform/logger"
	"prism/internal/platform/metrics"
	"prism/internal/platform/postgres"
	platformredis "prism/internal/platform/redis"
	"prism/internal/profilecache"
	"prism/internal/profilecache/purge"
	cachesvc "prism/internal/profilecache/service"
	cachemem "prism/internal/profilecache/store/memory"
	cachepg "prism/internal/profilecache/store/postgres"
	httptransport "prism/internal/transport/http"
	"prism/internal/vendors"
	"prism/internal/vendors/httpvendor"
	"prism/internal/vendors/staticvendor"
	"prism/pkg/domain"
	"prism/pkg/platform/audit"
	"prism/pkg/platform/audit/publisher"
	"prism/pkg/platform/audit/relay"
	"prism/pkg/platform/audit/retention"
	auditmem "prism/pkg/platform/audit/store/memory"
	auditpg "prism/pkg/platform/audit/store/postgres"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "prism: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.Server.Env, cfg.Server.LogLevel)
	slog.SetDefault(log)

	m := metrics.New()

	// Storage backends. The *sql.DB handle serves the cache and audit
	// stores plus schema bootstrap; the ledger keeps its own pgx pool for
	// row-locked reservation transactions.
	var (
		db    *sql.DB
		ready []httptransport.ReadyCheck
	)
	usesPostgres := cfg.Ledger.Store == config.StorePostgres ||
		cfg.Cache.Store == config.StorePostgres ||
		cfg.Audit.Store == config.StorePostgres
	if usesPostgres {
		db, err = postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer db.Close()
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		ready = append(ready, httptransport.ReadyCheck{Name: "postgres", Ping: db.PingContext})
	}

	var ledgerStore ledger.Store
	switch cfg.Ledger.Store {
	case config.StorePostgres:
		pool, err := postgres.OpenPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("open ledger pool: %w", err)
		}
		defer pool.Close()
		ledgerStore = ledgerpg.New(pool)
		ready = append(ready, httptransport.ReadyCheck{Name: "ledger-postgres", Ping: pool.Ping})
	case config.StoreRedis:
		rdb, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("open redis: %w", err)
		}
		defer rdb.Close()
		ledgerStore = ledgerredis.New(rdb.Client)
		ready = append(ready, httptransport.ReadyCheck{Name: "redis", Ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	default:
		ledgerStore = ledgermem.New()
	}

	var cacheStore profilecache.Store
	if cfg.Cache.Store == config.StorePostgres {
		cacheStore = cachepg.New(db)
	} else {
		cacheStore = cachemem.New(cfg.Cache.MaxEntries)
	}

	var auditStore audit.Store
	if cfg.Audit.Store == config.StorePostgres {
		auditStore = auditpg.New(db)
	} else {
		auditStore = auditmem.NewInMemoryStore()
	}

	pubOpts := []publisher.Option{
		publisher.WithLogger(log),
		publisher.WithMetrics(m),
	}
	if cfg.Audit.AsyncBuffer > 0 {
		pubOpts = append(pubOpts, publisher.WithAsyncBuffer(cfg.Audit.AsyncBuffer))
	}
	pub := publisher.NewPublisher(auditStore, pubOpts...)
	defer pub.Close()

	ledgerSvc := ledgersvc.New(ledgerStore,
		ledgersvc.WithLogger(log),
		ledgersvc.WithMetrics(m),
		ledgersvc.WithAuditPublisher(pub),
		ledgersvc.WithReservationTTL(cfg.Ledger.ReservationTTL),
	)
	cacheSvc := cachesvc.New(cacheStore,
		cachesvc.WithLogger(log),
		cachesvc.WithMetrics(m),
		cachesvc.WithTTL(cfg.Cache.TTL),
	)

	registry, err := buildVendors(cfg.Vendors, log)
	if err != nil {
		return fmt.Errorf("build vendors: %w", err)
	}

	enricher := enrich.New(ledgerSvc, cacheSvc, vendors.NewRouter(registry),
		enrich.WithLogger(log),
		enrich.WithMetrics(m),
		enrich.WithAuditPublisher(pub),
		enrich.WithConcurrency(cfg.Enrich.BatchConcurrency),
		enrich.WithVendorTimeout(cfg.Enrich.VendorTimeout),
		enrich.WithAttemptEntries(cfg.Audit.AttemptEntries),
	)

	jwtSvc := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience)

	handler := httptransport.New(httptransport.Deps{
		Logger:         log,
		Metrics:        m,
		Enricher:       enricher,
		Credits:        ledgerSvc,
		Cache:          cacheSvc,
		Audits:         auditStore,
		AuditPublisher: pub,
		JWTValidator:   jwttoken.NewServiceAdapter(jwtSvc),
		AdminTokenHash: cfg.Auth.AdminTokenHash,
		Ready:          ready,
	})
	srv := httpserver.New(cfg.Server.Addr, handler.Router())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return janitor.New(ledgerStore,
			janitor.WithInterval(cfg.Ledger.JanitorInterval),
			janitor.WithLogger(log),
			janitor.WithMetrics(m),
			janitor.WithAuditPublisher(pub),
		).Run(gctx)
	})
	g.Go(func() error {
		return purge.New(cacheStore,
			purge.WithInterval(cfg.Cache.PurgeInterval),
			purge.WithLogger(log),
			purge.WithMetrics(m),
		).Run(gctx)
	})
	g.Go(func() error {
		return retention.NewWorker(auditStore, cfg.Audit.Retention, cfg.Audit.RetentionInterval, log).Run(gctx)
	})

	if len(cfg.Kafka.Brokers) > 0 {
		outbox, ok := auditStore.(audit.OutboxSource)
		if !ok {
			log.Warn("kafka brokers configured but audit store has no outbox, relay disabled",
				"audit_store", cfg.Audit.Store,
			)
		} else {
			kclient, err := kafka.New(ctx, cfg.Kafka)
			if err != nil {
				return fmt.Errorf("connect kafka: %w", err)
			}
			defer kclient.Close()
			if err := kafka.EnsureTopic(ctx, kclient, cfg.Kafka.AuditTopic); err != nil {
				return fmt.Errorf("ensure audit topic: %w", err)
			}
			g.Go(func() error {
				return relay.New(outbox, kclient, cfg.Kafka.AuditTopic,
					relay.WithInterval(cfg.Kafka.RelayInterval),
					relay.WithBatchSize(cfg.Kafka.RelayBatchSize),
					relay.WithLogger(log),
					relay.WithMetrics(m),
				).Run(gctx)
			})
		}
	}

	g.Go(func() error {
		log.Info("prism listening",
			"addr", cfg.Server.Addr,
			"env", cfg.Server.Env,
			"ledger_store", cfg.Ledger.Store,
			"cache_store", cfg.Cache.Store,
			"audit_store", cfg.Audit.Store,
			"vendors", len(cfg.Vendors),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down, draining requests", "timeout", shutdownTimeout)
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(drainCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

// buildVendors turns descriptors into registered adapters. Disabled vendors
// are registered too so re-enabling them is a config change, not a deploy.
func buildVendors(configs []config.VendorConfig, log *slog.Logger) (*vendors.Registry, error) {
	registry := vendors.NewRegistry()
	for _, v := range configs {
		var (
			adapter vendors.Adapter
			err     error
		)
		switch v.Kind {
		case vendors.KindHTTP:
			adapter, err = httpvendor.New(vendors.Descriptor{
				Name:        v.Name,
				Kind:        v.Kind,
				BaseURL:     v.BaseURL,
				APIKey:      v.APIKey,
				UnitCost:    domain.Cents(v.UnitCostCents),
				QualityTier: v.QualityTier,
				Enabled:     v.Enabled,
			}, httpvendor.WithLogger(log))
			if err != nil {
				return nil, fmt.Errorf("vendor %s: %w", v.Name, err)
			}
		case vendors.KindStatic:
			adapter = staticvendor.New(v.Name, domain.Cents(v.UnitCostCents), v.QualityTier)
		default:
			return nil, fmt.Errorf("vendor %s: unknown kind %q", v.Name, v.Kind)
		}
		if err := registry.Register(adapter, v.Enabled); err != nil {
			return nil, err
		}
		log.Info("vendor registered",
			"vendor", v.Name,
			"kind", v.Kind,
			"cost_cents", v.UnitCostCents,
			"quality_tier", v.QualityTier,
			"enabled", v.Enabled,
		)
	}
	return registry, nil
}
