package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/resto-orders/internal/auth"
	"github.com/ariefcatur/resto-orders/internal/config"
	"github.com/ariefcatur/resto-orders/internal/httpx"
	kafkax "github.com/ariefcatur/resto-orders/internal/kafka"
	"github.com/ariefcatur/resto-orders/internal/logger"
	"github.com/ariefcatur/resto-orders/internal/orders"
	"github.com/ariefcatur/resto-orders/internal/postgres"
	"github.com/ariefcatur/resto-orders/internal/redisx"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New(cfg.ServiceName, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := postgres.Migrate(ctx, db); err != nil {
		log.Error("migrate", "err", err)
		os.Exit(1)
	}

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	created := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCreated, 1024)
	created.Start(ctx)
	statuses := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderStatus, 1024)
	statuses.Start(ctx)

	catalog := &orders.Catalog{DB: db}
	store := &orders.Store{DB: db}
	reader := &orders.Reader{DB: db}
	authSvc := auth.NewService(&auth.Repo{DB: db}, cfg.SessionTTL)
	session := httpx.RequireSession(authSvc)

	router := httpx.NewRouter(3 * cfg.RequestTimeout)
	(&httpx.OrdersHandler{
		Validator: &orders.Validator{Catalog: catalog},
		Store:     store,
		Reader:    reader,
		Menu:      catalog,
		Idem:      &redisx.Idempotency{RDB: rdb, TTL: redisx.TTLIdempotency},
		Created:   created,
		Status:    statuses,
		Service:   cfg.ServiceName,
		Timeout:   cfg.RequestTimeout,
	}).Register(router, session)
	(&httpx.AuthHandler{
		Auth:    authSvc,
		Orders:  reader,
		Timeout: cfg.RequestTimeout,
	}).Register(router, session)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen", "err", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "err", err)
	}
	created.Close()
	statuses.Close()
	created.WaitClosed()
	statuses.WaitClosed()
}
