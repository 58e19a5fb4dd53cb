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
	"github.com/ariefcatur/go-order-saga/internal/postgres"
	"github.com/ariefcatur/go-order-saga/internal/shipping"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	service := config.Getenv("SERVICE_NAME", "shipping-service")
	log := logx.New(cfg.Env, service)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicShipping, 1024, log)
	prod.Start(ctx)
	dlq := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicDeadLetter, 256, log)
	dlq.Start(ctx)

	svc := &shipping.Service{
		Repo:          &shipping.Repo{DB: db},
		Orders:        &orders.Repo{DB: db},
		Events:        &orders.EventRepo{DB: db},
		Producer:      prod,
		ServiceName:   service,
		Log:           log,
		DispatchDelay: cfg.DispatchDelay,
		DeliverDelay:  cfg.DeliverDelay,
	}

	// scheduler poll shipment yang due (durable; restart tinggal lanjut)
	sched := &shipping.Scheduler{Service: svc, Interval: time.Second, Batch: 50, Log: log}
	go sched.Run(ctx)

	// join fan-in: satu group subscribe payments + inventory
	group := config.Getenv("SHIPPING_GROUP", orders.GroupShipping)
	workers := config.Int(config.Getenv("SHIPPING_WORKERS", "8"))
	cons := kafkax.NewGroupConsumer(cfg.KafkaBrokers, group,
		[]string{orders.TopicPayments, orders.TopicInventory}, workers, log)
	cons.DeadLetter = func(ctx context.Context, m kafkago.Message, attempts int, err error) {
		env, e := orders.NewDeadLetter(service, m.Topic, string(m.Key), attempts-1, err)
		if e != nil {
			return
		}
		dlq.Publish(m.Key, kafkax.MustMarshal(env))
	}

	go func() {
		log.Info("shipping consumer started",
			zap.String("group", group),
			zap.Strings("topics", []string{orders.TopicPayments, orders.TopicInventory}),
			zap.Int("workers", workers))
		if err := cons.Start(ctx, svc.Handle); err != nil {
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
