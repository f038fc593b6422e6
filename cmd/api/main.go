package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/robertarktes/lumentix-tickets/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/lumentix-tickets/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/lumentix-tickets/internal/adapters/redis"
	"github.com/robertarktes/lumentix-tickets/internal/config"
	"github.com/robertarktes/lumentix-tickets/internal/dispatch"
	httphandler "github.com/robertarktes/lumentix-tickets/internal/http"
	"github.com/robertarktes/lumentix-tickets/internal/idempotency"
	"github.com/robertarktes/lumentix-tickets/internal/observability"
	"github.com/robertarktes/lumentix-tickets/internal/oracle"
	"github.com/robertarktes/lumentix-tickets/internal/outbox"
	"github.com/robertarktes/lumentix-tickets/internal/rateLimit"
	"github.com/robertarktes/lumentix-tickets/internal/signing"
	"github.com/robertarktes/lumentix-tickets/internal/tickets"
)

type pingFunc func(context.Context) error

func (p pingFunc) Ping(ctx context.Context) error { return p(ctx) }

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "lumentix-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger(cfg.LogLevel)

	retired := make([]signing.Key, 0, len(cfg.RetiredSigningSecrets))
	for _, s := range cfg.RetiredSigningSecrets {
		retired = append(retired, signing.Key(s))
	}
	signer, err := signing.New(signing.Key(cfg.SigningSecret), retired...)
	if err != nil {
		log.Fatalf("failed to load signing key: %v", err)
	}

	jwtKey, err := httphandler.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		log.Fatalf("failed to load jwt key: %v", err)
	}

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)
	if err := repo.Migrate(context.Background()); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	mongoClient, err := mongoadapter.Connect(context.Background(), cfg.MongoURI)
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database(cfg.MongoDB)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)
	if err := audit.EnsureIndexes(context.Background()); err != nil {
		logger.WithError(err).Warn("failed to ensure audit indexes")
	}
	catalog := mongoadapter.NewCatalogRepository(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := redisadapter.NewCache(redisClient)
	idemp := idempotency.New(redisadapter.NewIdempotency(redisClient), func(r *http.Request) string {
		return httphandler.CallerID(r.Context())
	}, 24*time.Hour, logger)
	rl := rateLimit.NewRateLimiter(redisCache)

	txOracle := oracle.NewCached(oracle.NewHorizonClient(cfg.HorizonURL, cfg.OracleTimeout), redisCache, cfg.OracleCacheTTL, logger)

	dispatcher := dispatch.New(cfg.DispatchWorkers, cfg.DispatchWorkers*64, cfg.DispatchTimeout, logger)

	svc := tickets.NewService(tickets.Deps{
		Payments:   repo,
		Store:      repo,
		Oracle:     txOracle,
		Signer:     signer,
		Catalog:    catalog,
		Users:      repo,
		Notifier:   outbox.NewNotifier(repo),
		Auditor:    audit,
		Dispatcher: dispatcher,
		Logger:     logger,
	}, tickets.WithOracleTimeout(cfg.OracleTimeout))

	handlers := httphandler.NewHandlers(svc, map[string]httphandler.Pinger{
		"crdb":  repo,
		"redis": redisCache,
		"mongo": pingFunc(func(ctx context.Context) error { return mongoClient.Ping(ctx, readpref.Primary()) }),
	}, logger)

	r := httphandler.SetupRouter(handlers, httphandler.RouterConfig{
		Logger:      logger,
		JWTKey:      jwtKey,
		Limiter:     rl,
		Idempotency: idemp.Handler,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("server shutdown")
	}
	// Requests are done; let their side effects finish.
	if err := dispatcher.Close(ctx); err != nil {
		logger.WithError(err).Error("dispatcher drain")
	}
	logger.Info("Server exiting")
}
