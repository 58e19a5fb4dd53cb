package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-saga/internal/config"
	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/logx"
	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/redisx"
	"github.com/ariefcatur/go-order-saga/internal/stats"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	service := config.Getenv("SERVICE_NAME", "status-aggregator")
	log := logx.New(cfg.Env, service)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	hub := stats.NewHub(rdb, log)
	go hub.Run(ctx)

	agg := &stats.Aggregator{
		Hub:        hub,
		Redis:      rdb,
		Log:        log,
		StatsEvery: cfg.StatsEvery,
	}

	// group sendiri, observe semua topic (termasuk replay) independen
	// dari reactor bisnis
	topics := []string{
		orders.TopicOrders,
		orders.TopicPayments,
		orders.TopicInventory,
		orders.TopicShipping,
		cfg.ReplayTopic,
	}
	group := config.Getenv("AGGREGATOR_GROUP", orders.GroupAggregator)
	workers := config.Int(config.Getenv("AGGREGATOR_WORKERS", "4"))
	cons := kafkax.NewGroupConsumer(cfg.KafkaBrokers, group, topics, workers, log)

	go func() {
		log.Info("aggregator started",
			zap.String("group", group),
			zap.Strings("topics", topics),
			zap.Int("workers", workers))
		if err := cons.Start(ctx, agg.Handle); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down aggregator...")
	cancel()
	time.Sleep(500 * time.Millisecond)
}
