package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/rl1809/stock-ledger/internal/adapter/handler"
	"github.com/rl1809/stock-ledger/internal/adapter/messaging"
	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/config"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
	"github.com/rl1809/stock-ledger/internal/platform/observability"
	"github.com/rl1809/stock-ledger/internal/platform/tls"
	"github.com/rl1809/stock-ledger/internal/port"
)

const (
	serviceVersion  = "1.0.0"
	shutdownTimeout = 5 * time.Second
	certWatchPeriod = 30 * time.Second
)

type backend interface {
	port.StockRepository
	port.MovementRepository
	port.Transactor
}

func serve(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := observability.NewLogger(cfg.LogLevel, config.ServiceName)
	if err != nil {
		return err
	}
	defer logger.Sync()

	tp, shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		ServiceName:    config.ServiceName,
		ServiceVersion: serviceVersion,
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       true,
	})
	if err != nil {
		logger.Error("failed to setup tracing", zap.Error(err))
		tp = otel.GetTracerProvider()
	}
	defer func() {
		if shutdownTracing == nil {
			return
		}
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Error("failed to shutdown tracing", zap.Error(err))
		}
	}()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	threshold, err := domain.QuantityOf(cfg.LowStockThreshold)
	if err != nil {
		return fmt.Errorf("low stock threshold: %w", err)
	}
	policy := domain.NewReservationPolicy(threshold)

	publisher, err := newPublisher(cfg, tp, logger)
	if err != nil {
		return err
	}
	relay := service.NewEventRelay(publisher, cfg.QueueSize, cfg.Workers, logger)
	relay.Start()
	defer func() {
		relay.Close()
		if err := publisher.Close(); err != nil {
			logger.Error("failed to close event publisher", zap.Error(err))
		}
		logger.Info("event relay stopped")
	}()

	opts := []service.Option{
		service.WithEventHandlers(service.NewMovementRecorder(store, store, logger)),
		service.WithEventSink(relay),
	}

	var cache port.StockCache
	if cfg.RedisConfig.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, PoolSize: cfg.PoolSize})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect redis: %w", err)
		}
		defer rdb.Close()
		logger.Info("connected to redis", zap.String("addr", cfg.Addr))

		redisAdapter := storage.NewRedisAdapter(rdb, cfg.SnapshotTTL)
		cache = redisAdapter
		opts = append(opts, service.WithIdempotency(redisAdapter), service.WithStockCache(redisAdapter))
	}

	commands := service.NewStockService(store, store, logger, service.StockServiceConfig{
		Retry:          service.RetryPolicy{MaxAttempts: cfg.MaxAttempts, Backoff: cfg.Backoff},
		IdempotencyTTL: cfg.IdempotencyTTL,
		Policy:         policy,
	}, opts...)
	queries := service.NewQueryService(store, store, cache, policy, logger)

	grpcOpts := handler.ServerOptions()
	tlsSource, err := tls.NewSource(ctx, cfg.TLSConfig, logger)
	if err != nil {
		return err
	}
	if tlsSource != nil {
		defer tlsSource.Close()
		grpcOpts = append(grpcOpts, grpc.Creds(credentials.NewTLS(tlsSource.ServerConfig())))
	}

	grpcServer := grpc.NewServer(grpcOpts...)
	handler.RegisterStockServer(grpcServer, handler.NewGRPCHandler(commands, queries, logger))

	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: handler.NewRouter(handler.NewHTTPHandler(commands, queries, logger)),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}
		logger.Info("gRPC server listening", zap.String("port", cfg.GRPCPort), zap.Bool("mtls", tlsSource != nil))
		return grpcServer.Serve(lis)
	})

	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("port", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if tlsSource != nil {
		g.Go(func() error {
			tlsSource.Watch(gctx, certWatchPeriod)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(sctx); err != nil {
			logger.Error("HTTP server shutdown", zap.Error(err))
		}
		logger.Info("HTTP server stopped")

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")
		return nil
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (backend, func(), error) {
	switch cfg.Store {
	case config.StoreMySQL:
		if cfg.AutoMigrate {
			if err := storage.MigrateMySQL(cfg.DSN); err != nil {
				return nil, nil, fmt.Errorf("failed to migrate mysql: %w", err)
			}
		}

		db, err := sqlx.Open("mysql", cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect mysql: %w", err)
		}
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to ping mysql: %w", err)
		}
		logger.Info("connected to mysql")
		return storage.NewMySQLAdapter(db), func() { db.Close() }, nil

	case config.StoreDynamoDB:
		client, err := storage.NewDynamoDBClient(ctx, cfg.Region, cfg.Endpoint)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create DynamoDB client: %w", err)
		}
		logger.Info("using dynamodb", zap.String("table", cfg.Table), zap.String("region", cfg.Region))
		return storage.NewDynamoDBAdapter(client, cfg.Table), func() {}, nil

	default:
		logger.Warn("using in-memory store; data is lost on exit")
		return storage.NewMemoryStore(), func() {}, nil
	}
}

func newPublisher(cfg *config.Config, tp trace.TracerProvider, logger *zap.Logger) (port.EventPublisher, error) {
	if !cfg.KafkaConfig.Enabled {
		return messaging.NewLogPublisher(logger), nil
	}

	producer, err := messaging.NewKafkaProducer(messaging.KafkaConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		ClientID:     config.ServiceName,
		BatchTimeout: cfg.BatchTimeout,
		BatchSize:    cfg.BatchSize,
	}, tp)
	if err != nil {
		return nil, err
	}
	logger.Info("publishing stock events to kafka", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.Topic))
	return messaging.NewKafkaPublisher(producer, logger), nil
}
