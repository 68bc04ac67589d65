package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/ariefcatur/go-stock-orders/internal/config"
	"github.com/ariefcatur/go-stock-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-stock-orders/internal/kafka"
	"github.com/ariefcatur/go-stock-orders/internal/logging"
	"github.com/ariefcatur/go-stock-orders/internal/redisx"
)

func main() {
	app := &cli.App{
		Name:   "inventory",
		Usage:  "project order lifecycle events into the redis stock snapshot",
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("inventory")
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stdout); err != nil {
		return err
	}
	brokers := cfg.Brokers()
	if len(brokers) == 0 || cfg.RedisAddr == "" {
		return errors.New("KAFKA_BROKERS and REDIS_ADDR are required")
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "redis ping")
	}

	svc := &inventory.Service{
		Redis:             rdb,
		Stock:             &redisx.StockProjection{Client: rdb},
		LowStockThreshold: cfg.LowStockThreshold,
		Log:               log.WithField("service", cfg.ServiceName+"-inventory"),
	}

	cons := kafkax.NewConsumer(brokers, cfg.InventoryGroup, cfg.EventsTopic, cfg.InventoryWorkers)
	log.WithFields(log.Fields{
		"group":   cfg.InventoryGroup,
		"topic":   cfg.EventsTopic,
		"workers": cfg.InventoryWorkers,
	}).Info("inventory consumer started")

	// Start returns nil once ctx is cancelled and every worker has finished
	if err := cons.Start(ctx, svc.HandleEvent); err != nil {
		return errors.Wrap(err, "consumer")
	}
	log.Info("inventory consumer stopped")
	return nil
}
