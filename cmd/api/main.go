package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/checkout"
	"github.com/ariefcatur/go-order-payments/internal/config"
	"github.com/ariefcatur/go-order-payments/internal/httpx"
	kafkax "github.com/ariefcatur/go-order-payments/internal/kafka"
	"github.com/ariefcatur/go-order-payments/internal/ledger"
	"github.com/ariefcatur/go-order-payments/internal/logging"
	"github.com/ariefcatur/go-order-payments/internal/metrics"
	"github.com/ariefcatur/go-order-payments/internal/orders"
	"github.com/ariefcatur/go-order-payments/internal/postgres"
	"github.com/ariefcatur/go-order-payments/internal/reclaimer"
	"github.com/ariefcatur/go-order-payments/internal/redisx"
	"github.com/ariefcatur/go-order-payments/internal/stock"
	"github.com/ariefcatur/go-order-payments/internal/webhook"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.MustNewLogger(cfg.ServiceName, cfg.Env)
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid_config", zap.Error(err))
	}
	if err := run(cfg, log); err != nil {
		log.Fatal("service_exit", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db, postgres.OrderMigrations()); err != nil {
		return err
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, "orders")

	// lifecycle events: the outbox relay feeds Kafka, the read cache is evicted after commit
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderStatusChanged, log)
	defer prod.Close()
	cache := &redisx.StatusCache{Redis: rdb}
	pub := orders.Publishers{cache}

	store := &orders.Repo{DB: db, Producer: cfg.ServiceName}
	relay := &kafkax.Relay{Outbox: store, Producer: prod, Interval: cfg.OutboxInterval, Log: log.Named("outbox")}
	led := &ledger.Cached{Inner: &ledger.Postgres{DB: db}, Redis: rdb, Service: cfg.ServiceName, Log: log}
	coord := &stock.Coordinator{
		Inventory:      stock.NewHTTPClient(cfg.InventoryURL, cfg.InventoryTimeout),
		ReleaseTimeout: cfg.ReleaseTimeout,
		Log:            log,
		Metrics:        m,
	}

	var verifier *webhook.Verifier
	if cfg.WebhookSecret != "" {
		if verifier, err = webhook.NewVerifier(cfg.WebhookSecret, cfg.WebhookTolerance); err != nil {
			return err
		}
	} else {
		log.Warn("webhook_signature_disabled", zap.String("reason", "WEBHOOK_SECRET is empty"))
	}

	svc := &checkout.Service{
		Store: store, Stock: coord, Ledger: led, Publisher: pub,
		Producer: cfg.ServiceName, Log: log, Metrics: m,
	}
	disp := &webhook.Dispatcher{
		Verifier: verifier, Store: store, Ledger: led, Stock: coord, Publisher: pub,
		Producer: cfg.ServiceName, Log: log, Metrics: m,
	}
	rec := &reclaimer.Reclaimer{
		Store: store, Stock: coord, Publisher: pub, Producer: cfg.ServiceName,
		Interval: cfg.ReclaimInterval, Grace: cfg.StaleGrace, Batch: cfg.ReclaimBatch,
		Log: log.Named("reclaimer"), Metrics: m,
	}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.CommandGroup, orders.TopicOrderStatusCommands, cfg.CommandWorkers, log.Named("commands"))

	router := httpx.NewRouter(log, reg)
	httpx.Bounded(router, (&httpx.OrdersHandler{Orders: svc, Cache: cache, Log: log}).Register)
	(&httpx.WebhookHandler{Dispatcher: disp}).Register(router)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http_listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting_down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return rec.Run(gctx) })
	g.Go(func() error { return cons.Start(gctx, svc.HandleStatusCommand) })
	g.Go(func() error { return relay.Run(gctx) })

	return g.Wait()
}
