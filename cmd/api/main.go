package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"orderflow/approval"
	"orderflow/auth"
	"orderflow/config"
	"orderflow/db"
	"orderflow/handoff"
	"orderflow/httpapi"
	"orderflow/logger"
	"orderflow/notify"
	"orderflow/order"
	"orderflow/outbox"
	"orderflow/settlement"
	"orderflow/wallet"
)

const codeExpirySweepInterval = time.Minute

func main() {
	log := logger.New()
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("bootstrap database pool", zap.Error(err))
	}
	defer pool.Close()

	verifier := auth.NewVerifier(cfg.JWTSecret)

	registry := notify.NewRegistry()
	router := notify.NewRouter(registry, log)
	hub := notify.NewHub(registry, verifier, log)

	outboxWriter := outbox.NewWriter()
	orderRepo := order.NewRepository(pool)
	engine := settlement.NewEngine(cfg.Rates, orderRepo, log)
	orders := order.NewService(pool, orderRepo, engine, outboxWriter, router, log)

	handoffs := handoff.NewService(pool, handoff.NewCodeStore(), orders, orderRepo, router, cfg, log)

	wallets := wallet.NewRepository(pool)
	approvalRepo := approval.NewRepository(pool)
	approvals := approval.NewService(pool, approvalRepo, orderRepo, wallets, outboxWriter, router, log)

	server := httpapi.NewServer(orders, handoffs, approvals, verifier, hub, log)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Run(ctx, cfg.HTTPAddr)
	})

	g.Go(func() error {
		handoffs.RunExpirySweep(ctx, codeExpirySweepInterval)
		return nil
	})

	if len(cfg.KafkaBrokers) > 0 {
		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers, cfg.OutboxTopic)
		dispatcher := outbox.NewDispatcher(pool, producer, outbox.DispatcherConfig{}, log)
		g.Go(func() error {
			err := dispatcher.Run(ctx)
			if err == context.Canceled {
				return nil
			}
			return err
		})
	} else {
		log.Warn("no kafka brokers configured, outbox dispatcher disabled")
	}

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Error("service stopped", zap.Error(err))
		os.Exit(1)
	}
	log.Info("service shut down cleanly")
}
