package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-saga/internal/config"
	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/logx"
	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/payment"
	"github.com/ariefcatur/go-order-saga/internal/postgres"
	"github.com/ariefcatur/go-order-saga/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	service := config.Getenv("SERVICE_NAME", "payment-service")
	log := logx.New(cfg.Env, service)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicPayments, 1024, log)
	prod.Start(ctx)
	dlq := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicDeadLetter, 256, log)
	dlq.Start(ctx)

	svc := &payment.Service{
		Repo:        &payment.Repo{DB: db},
		Orders:      &orders.Repo{DB: db},
		Events:      &orders.EventRepo{DB: db},
		Dedup:       &redisx.Dedup{R: rdb, Service: "payment"},
		Gateway:     payment.NewSimulatedGateway(cfg.PaymentLatency, cfg.PaymentFailureRate),
		Producer:    prod,
		ServiceName: service,
		Timeout:     cfg.PaymentTimeout,
		Log:         log,
	}

	group := config.Getenv("PAYMENT_GROUP", orders.GroupPayment)
	workers := config.Int(config.Getenv("PAYMENT_WORKERS", "8"))
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, orders.TopicOrders, workers, log)
	cons.DeadLetter = func(ctx context.Context, m kafkago.Message, attempts int, err error) {
		env, e := orders.NewDeadLetter(service, m.Topic, string(m.Key), attempts-1, err)
		if e != nil {
			return
		}
		dlq.Publish(m.Key, kafkax.MustMarshal(env))
	}

	go func() {
		log.Info("payment consumer started",
			zap.String("group", group),
			zap.String("topic", orders.TopicOrders),
			zap.Int("workers", workers))
		if err := cons.Start(ctx, svc.HandleOrderCreated); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down consumer...")
	cancel()
	time.Sleep(500 * time.Millisecond)
	prod.Close()
	dlq.Close()
	prod.WaitClosed()
	dlq.WaitClosed()
}
