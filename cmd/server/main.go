package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eventhub/ticketing-core/config"
	httpDelivery "github.com/eventhub/ticketing-core/internal/delivery/http"
	"github.com/eventhub/ticketing-core/internal/delivery/kafka/consumer"
	"github.com/eventhub/ticketing-core/internal/delivery/kafka/producer"
	pgRepo "github.com/eventhub/ticketing-core/internal/repository/postgres"
	redisRepo "github.com/eventhub/ticketing-core/internal/repository/redis"
	"github.com/eventhub/ticketing-core/internal/service"
	pkgKafka "github.com/eventhub/ticketing-core/pkg/kafka"
	pkgLog "github.com/eventhub/ticketing-core/pkg/logger"
	pkgPostgres "github.com/eventhub/ticketing-core/pkg/postgres"
	pkgRedis "github.com/eventhub/ticketing-core/pkg/redis"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	l := pkgLog.InitializeZapLogger(pkgLog.ZapConfig{
		Level:    cfg.Log.Level,
		Mode:     cfg.Log.Mode,
		Encoding: cfg.Log.Encoding,
	})

	redisCli, err := pkgRedis.NewClient(cfg.Redis)
	if err != nil {
		l.Fatalf(ctx, "Failed to connect to Redis: %v", err)
	}
	defer redisCli.Close()

	if err := redisCli.Ping(ctx).Err(); err != nil {
		l.Fatalf(ctx, "Failed to ping Redis: %v", err)
	}

	pgPool, err := pkgPostgres.Connect(ctx, cfg.Postgres)
	if err != nil {
		l.Fatalf(ctx, "Failed to connect to Postgres: %v", err)
	}
	defer pgPool.Close()

	// Repositories
	lockRepo := redisRepo.NewRedisSeatLockRepository(redisCli, l)
	dedupRepo := redisRepo.NewRedisDedupRepository(redisCli, l)
	seatRepo := pgRepo.NewSeatRepository(pgPool)
	bookingRepo := pgRepo.NewBookingRepository(pgPool)

	// Initialize Kafka producer
	kafkaSyncProd, err := pkgKafka.NewProducer(pkgKafka.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		RetryMax:     cfg.Kafka.ProducerRetryMax,
		RequiredAcks: cfg.Kafka.ProducerRequiredAcks,
	})
	if err != nil {
		l.Fatalf(ctx, "Failed to initialize Kafka producer: %v", err)
	}

	prod := producer.NewProducer(kafkaSyncProd, l)
	defer prod.Close()

	// Initialize services
	seatSvc := service.NewSeatInventoryService(lockRepo, seatRepo, prod, cfg.Seat, l)
	sagaSvc := service.NewBookingSagaService(bookingRepo, prod, cfg.Booking, l)
	sweeper := service.NewSweeper(seatSvc, sagaSvc, cfg.Seat, cfg.Booking, l)

	// Consumer groups: one per inbound topic so seat commands and payment
	// results rebalance independently.
	seatConsGr, err := pkgKafka.NewConsumer(pkgKafka.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.SeatConsumerGroupID,
	})
	if err != nil {
		l.Fatalf(ctx, "Failed to initialize seat command consumer group: %v", err)
	}

	sagaConsGr, err := pkgKafka.NewConsumer(pkgKafka.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.SagaConsumerGroupID,
	})
	if err != nil {
		l.Fatalf(ctx, "Failed to initialize payment event consumer group: %v", err)
	}

	seatCons := consumer.NewSeatCommandConsumer(seatConsGr, seatSvc, dedupRepo, cfg.Booking.DedupTTL, l)
	if err := seatCons.Start(ctx); err != nil {
		l.Fatalf(ctx, "Failed to start seat command consumer: %v", err)
	}
	defer seatCons.Close()

	paymentCons := consumer.NewPaymentEventConsumer(sagaConsGr, sagaSvc, l)
	if err := paymentCons.Start(ctx); err != nil {
		l.Fatalf(ctx, "Failed to start payment event consumer: %v", err)
	}
	defer paymentCons.Close()

	if err := sweeper.Start(ctx); err != nil {
		l.Fatalf(ctx, "Failed to start sweeper: %v", err)
	}
	defer sweeper.Stop()

	// HTTP server
	handler := httpDelivery.NewHTTPHandler(seatSvc, sagaSvc, sweeper, l)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		l.Infof(ctx, "HTTP server is listening on port: %d", cfg.Server.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case <-quit:
			l.Info(ctx, "Server shutting down...")
		case <-gctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		l.Errorf(ctx, "Server error: %v", err)
	}

	l.Info(ctx, "Server exited")
}
