package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/robertarktes/lumentix-tickets/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/lumentix-tickets/internal/adapters/mongo"
	"github.com/robertarktes/lumentix-tickets/internal/adapters/rabbit"
	"github.com/robertarktes/lumentix-tickets/internal/config"
	"github.com/robertarktes/lumentix-tickets/internal/expiry"
	"github.com/robertarktes/lumentix-tickets/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "lumentix-expiry-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger(cfg.LogLevel)

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongoadapter.Connect(context.Background(), cfg.MongoURI)
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	audit := mongoadapter.NewAuditLogger(mongoClient.Database(cfg.MongoDB), logger)

	conn, err := rabbit.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	rabbitPub, err := rabbit.NewPublisher(conn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}
	defer rabbitPub.Close()

	reconciler := expiry.New(repo, audit, rabbitPub, logger, expiry.WithRetries(cfg.ExpiryRetries, time.Second))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.WithField("interval", cfg.ExpiryInterval.String()).Info("expiry worker started")
	reconciler.Run(ctx, cfg.ExpiryInterval)
	logger.Info("Shutdown expiry worker")
}
