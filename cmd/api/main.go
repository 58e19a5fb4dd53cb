package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-saga/internal/config"
	"github.com/ariefcatur/go-order-saga/internal/httpx"
	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/logx"
	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/postgres"
	"github.com/ariefcatur/go-order-saga/internal/redisx"
	"github.com/ariefcatur/go-order-saga/internal/replay"
	"github.com/ariefcatur/go-order-saga/internal/stats"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logx.New(cfg.Env, cfg.ServiceName)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producers: orders + dynamic (replay destination bebas)
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrders, 1024, log)
	prod.Start(ctx)
	replayProd := kafkax.NewDynamicProducer(cfg.KafkaBrokers, 1024, log)
	replayProd.Start(ctx)

	repo := &orders.Repo{DB: db}
	events := &orders.EventRepo{DB: db}

	engine := &replay.Engine{
		Orders:      repo,
		Producer:    replayProd,
		ServiceName: cfg.ServiceName,
		DefaultDest: cfg.ReplayTopic,
		Log:         log,
	}

	// Hub: terima frame dari aggregator via Redis pub/sub
	hub := stats.NewHub(rdb, log)
	go hub.Run(ctx)

	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{
		Repo:     repo,
		Events:   events,
		Producer: prod,
		Redis:    rdb,
		Replay:   engine,
		Validate: validator.New(),
		Service:  cfg.ServiceName,
		Log:      log,
	}
	oh.Register(router)
	sh := &httpx.StatsHandler{
		Events: events,
		Redis:  rdb,
		Hub:    hub,
		Log:    log,
	}
	sh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()
	replayProd.Close()
	cancel()
	prod.WaitClosed()
	replayProd.WaitClosed()
}
