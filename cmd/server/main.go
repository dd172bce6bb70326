package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/stock-ledger/internal/adapter/handler"
	"github.com/rl1809/stock-ledger/internal/adapter/messaging"
	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/config"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
	"github.com/rl1809/stock-ledger/internal/platform/observability"
	"github.com/rl1809/stock-ledger/internal/port"
)

// ledgerStore is what every storage backend offers the processor.
type ledgerStore interface {
	port.DatabaseRepository
	port.Catalog
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	otelShutdown, err := observability.SetupTelemetry(ctx, cfg)
	if err != nil {
		log.Printf("failed to setup OpenTelemetry: %v", err)
	}
	logger, err := observability.NewLogger(cfg.LogLevel, cfg.OtelEndpoint != "")
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	store, closeStore := openStore(ctx, cfg, logger)

	// Locking and sale idempotency
	var locker port.KeyLocker = storage.NewLocalLocker()
	var idempotency port.IdempotencyStore = storage.NewMemoryIdempotency()
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect redis", zap.Error(err))
		}
		logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))

		redisAdapter := storage.NewRedisAdapter(rdb, cfg.LockTTL)
		locker, idempotency = redisAdapter, redisAdapter
	}

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithIdempotency(idempotency),
		service.WithMaxAttempts(cfg.MaxConflictRetries),
		service.WithOperationTimeout(cfg.OperationTimeout),
	}

	// Ledger notifications
	var (
		notifier *service.Notifier
		amqpConn interface{ Close() error }
		workers  errgroup.Group
	)
	if cfg.AMQPURL != "" {
		conn, ch, err := messaging.SetupConn(cfg.AMQPURL, logger)
		if err != nil {
			logger.Fatal("failed to connect rabbitmq", zap.Error(err))
		}
		amqpConn = conn
		publisher := messaging.NewRabbitMQPublisher(ch)

		notifier = service.NewNotifier(cfg.NotifyQueueSize, logger)
		opts = append(opts, service.WithNotifier(notifier))
		for i := 0; i < cfg.NotifyWorkers; i++ {
			workers.Go(func() error {
				service.PublishLoop(i, notifier.GetQueue(), publisher, logger)
				return nil
			})
		}
		logger.Info("started publish workers", zap.Int("workers", cfg.NotifyWorkers))
	}

	processor := service.NewTransactionProcessor(store, store, locker, opts...)

	// gRPC server
	grpcServer := grpc.NewServer()
	handler.RegisterStockLedgerServer(grpcServer, handler.NewGRPCHandler(processor, logger))
	healthServer := health.NewServer()
	healthServer.SetServingStatus(handler.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", cfg.GRPCAddr), zap.Error(err))
	}
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// HTTP server
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(config.ServiceName))
	handler.NewHTTPHandler(processor, logger).Register(router)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	if notifier != nil {
		notifier.Close()
		_ = workers.Wait()
		logger.Info("publish workers stopped")
	}
	if amqpConn != nil {
		amqpConn.Close()
	}
	if rdb != nil {
		rdb.Close()
	}
	closeStore()
	if err := otelShutdown(shutdownCtx); err != nil {
		logger.Warn("OpenTelemetry shutdown", zap.Error(err))
	}
	logger.Info("connections closed")
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ledgerStore, func()) {
	switch cfg.StoreDriver {
	case config.StoreMySQL:
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			logger.Fatal("failed to connect mysql", zap.Error(err))
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("failed to ping mysql", zap.Error(err))
		}

		adapter := storage.NewMySQLAdapter(db)
		if err := adapter.EnsureSchema(ctx); err != nil {
			logger.Fatal("failed to create schema", zap.Error(err))
		}
		logger.Info("connected to mysql")
		return adapter, func() { db.Close() }

	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("failed to connect postgres", zap.Error(err))
		}
		if err := pool.Ping(ctx); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}

		adapter := storage.NewPostgresAdapter(pool)
		if err := adapter.EnsureSchema(ctx); err != nil {
			logger.Fatal("failed to create schema", zap.Error(err))
		}
		logger.Info("connected to postgres")
		return adapter, pool.Close
	}

	logger.Info("using in-memory store with demo catalog")
	return newDemoStore(), func() {}
}

// memoryStore joins the in-memory ledger with an in-memory catalog.
type memoryStore struct {
	*storage.MemoryAdapter
	*storage.MemoryCatalog
}

func newDemoStore() memoryStore {
	catalog := storage.NewMemoryCatalog()
	catalog.PutSeller(domain.Seller{ID: 1, Name: "Demo seller", Status: domain.StatusActive})
	catalog.PutProduct(domain.Product{ID: 1, Name: "Demo product", Code: "DEMO-1", UnitPrice: decimal.RequireFromString("9.99"), Status: domain.StatusActive})
	return memoryStore{MemoryAdapter: storage.NewMemoryAdapter(), MemoryCatalog: catalog}
}
