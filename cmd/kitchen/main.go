package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/resto-orders/internal/config"
	kafkax "github.com/ariefcatur/resto-orders/internal/kafka"
	"github.com/ariefcatur/resto-orders/internal/kitchen"
	"github.com/ariefcatur/resto-orders/internal/logger"
	"github.com/ariefcatur/resto-orders/internal/orders"
	"github.com/ariefcatur/resto-orders/internal/redisx"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	service := cfg.ServiceName + "-kitchen"
	log := logger.New(service, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &kitchen.Service{
		Dedup: &redisx.Dedup{RDB: rdb, Service: "kitchen"},
		Log:   log,
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.KitchenGroup, orders.TopicOrderCreated, cfg.KitchenWorkers)
	log.Info("kitchen consumer started", "group", cfg.KitchenGroup, "topic", orders.TopicOrderCreated, "workers", cfg.KitchenWorkers)
	if err := cons.Start(ctx, svc.HandleOrderCreated); err != nil {
		log.Error("consumer exit", "err", err)
		os.Exit(1)
	}
	log.Info("kitchen consumer stopped")
}
