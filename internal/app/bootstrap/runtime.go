package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/adapters/cache"
	eventadapter "github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/adapters/events"
	grpcadapter "github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/adapters/grpc"
	httpadapter "github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/adapters/http"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/adapters/memory"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/adapters/postgres"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/adapters/security"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/application"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/ports"
	"google.golang.org/grpc"
)

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcLis    net.Listener
	prober     *grpcadapter.HealthProber
	outbox     *eventadapter.OutboxWorker
	consumer   *eventadapter.ConsumerWorker
	cleanupFn  func(context.Context)
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With("service", cfg.ServiceID)
	slog.SetDefault(logger)

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	store, err := openStore(ctx, cfg, &cleanups)
	if err != nil {
		cleanup()
		return nil, err
	}

	var snapshotCache ports.SnapshotCache
	if cfg.RedisURL != "" {
		redisClient, redisErr := cache.Connect(ctx, cfg.RedisURL)
		if redisErr != nil {
			cleanup()
			return nil, redisErr
		}
		cleanups = append(cleanups, func() { _ = redisClient.Close() })
		snapshotCache = cache.NewRedisSnapshotCache(redisClient, cfg.SnapshotCacheTTL)
	} else {
		logger.WarnContext(ctx, "redis not configured, escrow snapshots are read from the store")
	}

	verifier, err := security.NewJWTVerifier(security.VerifierConfig{
		PublicKeyPEM: cfg.JWTPublicKeyPEM,
		HMACSecret:   cfg.JWTHMACSecret,
		Issuer:       cfg.JWTIssuer,
		Audience:     cfg.JWTAudience,
	})
	if err != nil {
		cleanup()
		return nil, err
	}

	service := application.NewService(application.Dependencies{
		Config: application.Config{
			ServiceName:      cfg.ServiceID,
			IdempotencyTTL:   cfg.IdempotencyTTL,
			EventDedupTTL:    cfg.EventDedupTTL,
			SnapshotCacheTTL: cfg.SnapshotCacheTTL,
		},
		Store:  store,
		Cache:  snapshotCache,
		Logger: logger,
	})

	router := httpadapter.NewRouter(httpadapter.NewHandler(service, verifier))
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	prober := grpcadapter.NewHealthProber(logger, service, cfg.ServiceID, cfg.HealthProbeInterval)
	grpcadapter.Register(grpcServer, prober)
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		cleanup()
		return nil, err
	}

	publisher := ports.EventPublisher(eventadapter.NewLoggingPublisher(logger))
	consumerAdapter := eventadapter.Consumer(eventadapter.NewNoopConsumer())
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher, pubErr := eventadapter.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaEventTopics)
		if pubErr != nil {
			logger.WarnContext(ctx, "kafka publisher disabled, using logging publisher", "error", pubErr)
		} else {
			publisher = kafkaPublisher
			cleanups = append(cleanups, func() { _ = kafkaPublisher.Close() })
		}

		kafkaConsumer, conErr := eventadapter.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaConsumerGroup, cfg.KafkaConsumeTopics)
		if conErr != nil {
			logger.WarnContext(ctx, "kafka consumer disabled, using noop consumer", "error", conErr)
		} else {
			consumerAdapter = kafkaConsumer
			cleanups = append(cleanups, func() { _ = kafkaConsumer.Close() })
		}
	}
	outbox := eventadapter.NewOutboxWorker(logger, store.Outbox(), publisher, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
	consumer := eventadapter.NewConsumerWorker(logger, consumerAdapter, service, cfg.ConsumerPollInterval, cfg.ConsumerBatchSize)

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		httpServer: httpServer,
		grpcServer: grpcServer,
		grpcLis:    lis,
		prober:     prober,
		outbox:     outbox,
		consumer:   consumer,
		cleanupFn:  func(context.Context) { cleanup() },
	}, nil
}

func openStore(ctx context.Context, cfg Config, cleanups *[]func()) (ports.EscrowStore, error) {
	if cfg.StoreDriver == StoreDriverMemory {
		return memory.NewStore(), nil
	}
	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	*cleanups = append(*cleanups, func() { _ = sqlDB.Close() })
	if err := postgres.RunMigrations(ctx, db); err != nil {
		return nil, err
	}
	return postgres.NewStore(db), nil
}

func Build(ctx context.Context, configPath string) (*Runtime, error) {
	return NewRuntime(ctx, configPath)
}

// RunAPI serves HTTP and gRPC health. With the memory store the API process
// also runs the workers, since no other process can see its outbox.
func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	errCh := make(chan error, 5)

	go func() {
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := r.grpcServer.Serve(r.grpcLis); err != nil {
			errCh <- err
		}
	}()
	go func() {
		if err := r.prober.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()
	if r.cfg.StoreDriver == StoreDriverMemory {
		r.startWorkers(ctx, errCh)
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		r.logger.ErrorContext(ctx, "runtime failure", "error", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	r.cleanupFn(shutdownCtx)
	return nil
}

func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	errCh := make(chan error, 2)
	r.startWorkers(ctx, errCh)

	select {
	case <-ctx.Done():
		r.cleanupFn(context.Background())
		return nil
	case err := <-errCh:
		r.cleanupFn(context.Background())
		return err
	}
}

func (r *Runtime) startWorkers(ctx context.Context, errCh chan<- error) {
	go func() {
		if err := r.outbox.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()
	go func() {
		if err := r.consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()
}
