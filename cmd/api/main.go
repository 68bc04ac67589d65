package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/ariefcatur/go-stock-orders/internal/config"
	"github.com/ariefcatur/go-stock-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-stock-orders/internal/kafka"
	"github.com/ariefcatur/go-stock-orders/internal/logging"
	"github.com/ariefcatur/go-stock-orders/internal/orders"
	"github.com/ariefcatur/go-stock-orders/internal/postgres"
	"github.com/ariefcatur/go-stock-orders/internal/redisx"
)

func main() {
	app := &cli.App{
		Name:  "order-api",
		Usage: "orders and products HTTP API",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP server",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "migrate", Usage: "apply database migrations before serving"},
				},
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "apply database migrations and exit",
				Action: migrateDB,
			},
		},
		DefaultCommand: "serve",
	}
	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("order-api")
	}
}

func setup() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stdout); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func migrateDB(*cli.Context) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
		return err
	}
	log.Info("migrations applied")
	return nil
}

func serve(c *cli.Context) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger := log.StandardLogger()

	// Store
	var store orders.Store
	switch cfg.StorageDriver {
	case config.StorageMemory:
		log.Warn("using in-memory storage; data is lost on exit")
		store = orders.NewMemoryStore()
	default:
		if c.Bool("migrate") {
			if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
				return err
			}
		}
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresConns)
		if err != nil {
			return errors.Wrap(err, "db connect")
		}
		defer db.Close()
		store = &orders.Repo{DB: db, RetryMaxElapsed: cfg.TxRetryMaxElapsed}
	}
	ready := []httpx.Pinger{store}

	// Kafka producer (optional)
	opts := []orders.Option{orders.WithProducerName(cfg.ServiceName), orders.WithLogger(logger)}
	var prod *kafkax.Producer
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		prod = kafkax.NewProducer(brokers, cfg.EventsTopic, 1024)
		prod.Start(ctx)
		opts = append(opts, orders.WithPublisher(kafkax.EventPublisher{Producer: prod}))
	} else {
		log.Info("KAFKA_BROKERS not set; lifecycle events are not published")
	}

	ph := &httpx.ProductsHandler{Products: orders.NewProductManager(store, opts...), Log: logger}
	oh := &httpx.OrdersHandler{Orders: orders.NewOrderManager(store, opts...), Log: logger}

	// Redis (optional)
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		ph.Stock = &redisx.StockProjection{Client: rdb}
		oh.Idem = &redisx.Idempotency{Client: rdb, TTL: cfg.IdempotencyTTL}
		ready = append(ready, httpx.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }))
	}

	router := httpx.NewRouter(logger, cfg.RequestTimeout, ready...)
	ph.Register(router)
	oh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{"addr": cfg.HTTPAddr, "storage": cfg.StorageDriver}).Info("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down...")
	case err := <-errCh:
		return errors.Wrap(err, "listen")
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if prod != nil {
		prod.Close()      // stop accepting, flush what is queued
		prod.WaitClosed() // drain
	}
	return nil
}
