package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/kevin07696/esim-checkout/internal/adapters/postgres"
	redisadapter "github.com/kevin07696/esim-checkout/internal/adapters/redis"
	"github.com/kevin07696/esim-checkout/internal/adapters/secrets"
	"github.com/kevin07696/esim-checkout/internal/auth"
	"github.com/kevin07696/esim-checkout/internal/config"
	healthHandler "github.com/kevin07696/esim-checkout/internal/handlers/health"
	paymentHandler "github.com/kevin07696/esim-checkout/internal/handlers/payment"
	"github.com/kevin07696/esim-checkout/internal/services/challenge"
	"github.com/kevin07696/esim-checkout/internal/services/checkout"
	"github.com/kevin07696/esim-checkout/internal/services/confirmation"
	"github.com/kevin07696/esim-checkout/internal/services/gateway"
	healthService "github.com/kevin07696/esim-checkout/internal/services/health"
	"github.com/kevin07696/esim-checkout/internal/services/notification"
	"github.com/kevin07696/esim-checkout/internal/services/refund"
	"github.com/kevin07696/esim-checkout/pkg/middleware"
	"github.com/kevin07696/esim-checkout/pkg/observability"
	"github.com/kevin07696/esim-checkout/pkg/resilience"
	"github.com/kevin07696/esim-checkout/pkg/security"
	"github.com/kevin07696/esim-checkout/pkg/shutdown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logger)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting esim checkout service",
		zap.Strings("providers", cfg.Providers.Enabled),
		zap.String("default_provider", cfg.Providers.Default),
		zap.String("secrets_backend", cfg.Secrets.Backend),
	)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Service failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()
	sm := shutdown.NewManager(logger, cfg.Server.ShutdownTimeout)

	dbPool, err := initDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	sm.RegisterNoErr("postgres", dbPool.Close)

	redisClient, err := redisadapter.NewClient(ctx, redisadapter.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize redis: %w", err)
	}
	sm.RegisterCloser("redis", redisClient)

	timeouts := resilience.DefaultTimeoutConfig()
	timeouts.ProviderCall = cfg.Server.ProviderTimeout
	portLogger := security.NewZapLogger(logger)

	// Provider adapters
	secretManager, err := initSecretManager(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize secrets backend: %w", err)
	}
	registry := gateway.NewRegistry(cfg.Providers.Default, portLogger.Named("gateway"))
	loader := secrets.NewCredentialLoader(secretManager, cfg.Secrets.Prefix, logger)
	if err := registerProviders(registry, cfg, loader, timeouts, logger); err != nil {
		return err
	}
	// Build adapters up front so missing credentials show at boot. Failed
	// providers are logged by the registry; transient failures retry on use.
	ready := registry.All()
	logger.Info("Payment adapters ready",
		zap.Int("ready", len(ready)),
		zap.Strings("registered", registry.Slugs()),
	)

	// Stores
	ledger := postgres.NewLedgerRepository(dbPool, postgres.NewDBExecutor(dbPool), cfg.Database.QueryTimeout)
	challengeStore := redisadapter.NewChallengeStore(redisClient)
	guestTokenStore := redisadapter.NewGuestTokenStore(redisClient)
	refundLocker := redisadapter.NewRefundLocker(redisClient, 50*time.Millisecond, 5*time.Second, logger)

	guestTokens, err := auth.NewGuestTokenManager(cfg.Checkout.GuestTokenSecret, cfg.Checkout.GuestTokenIssuer, cfg.Checkout.GuestTokenTTL)
	if err != nil {
		return fmt.Errorf("initialize guest tokens: %w", err)
	}
	accountVerifier := auth.NewAccountVerifier(cfg.Checkout.AccountTokenSecret, cfg.Checkout.AccountTokenIssuer)

	// Services
	challenges := challenge.NewHandler(challengeStore, portLogger.Named("challenge"))
	router := confirmation.NewRouter(
		registry,
		challenges,
		ledger,
		guestTokenStore,
		guestTokens,
		notification.NewLoggingNotifier(logger),
		timeouts,
		confirmation.Config{
			GuestOrderURL:    cfg.Checkout.GuestOrderURL,
			AccountOrdersURL: cfg.Checkout.AccountOrdersURL,
			CheckoutURL:      cfg.Checkout.CheckoutURL,
			RecheckAttempts:  cfg.Checkout.RecheckAttempts,
		},
		portLogger.Named("confirmation"),
	)
	checkoutService := checkout.NewService(
		registry,
		challenges,
		ledger,
		guestTokenStore,
		guestTokens,
		router,
		timeouts,
		checkout.Config{
			CallbackBaseURL: cfg.Checkout.PublicBaseURL,
			CheckoutURL:     cfg.Checkout.CheckoutURL,
		},
		portLogger.Named("checkout"),
	)
	refunds := refund.NewOrchestrator(registry, ledger, refundLocker, timeouts, portLogger.Named("refund"))

	// gRPC: health and reflection
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			observability.UnaryServerInterceptor(),
			loggingInterceptor(logger),
			recoveryInterceptor(logger),
		),
	)
	grpcHealth := healthHandler.RegisterGRPC(grpcServer)
	reflection.Register(grpcServer)

	monitor := healthService.NewMonitor(registry, grpcHealth, timeouts, portLogger.Named("health"))
	if err := monitor.Start(cfg.Health.Schedule); err != nil {
		return fmt.Errorf("schedule provider health: %w", err)
	}
	sm.Register("provider-health", monitor.Stop)

	// Admin listener: metrics, liveness, readiness, provider health
	healthChecker := observability.NewHealthChecker().
		AddCheck("database", dbPool.Ping).
		AddCheck("redis", func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	adminServer := observability.StartAdminServer(observability.AdminServerConfig{
		Port:          cfg.Server.AdminPort,
		HealthChecker: healthChecker,
		Extra: map[string]http.Handler{
			"/health/providers": healthHandler.NewProviderHandler(monitor, logger),
		},
	}, logger)
	sm.Register("admin-server", func(ctx context.Context) error {
		return observability.ShutdownAdminServer(ctx, adminServer)
	})

	// Public REST API
	gwMux := runtime.NewServeMux()
	payments := paymentHandler.NewHandler(checkoutService, router, refunds, timeouts, paymentHandler.Config{
		ProcessingURL: cfg.Checkout.ProcessingURL,
		AdminKey:      cfg.Checkout.AdminKey,
	}, logger.Named("http"))
	if err := payments.Register(gwMux); err != nil {
		return fmt.Errorf("register payment routes: %w", err)
	}
	logger.Info("REST API registered", zap.String("rest_api", "/api/v1/*"))

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst,
		middleware.WithKeyFunc(func(r *http.Request) string { return auth.ClientIP(r.Context()) }),
	)
	sm.RegisterNoErr("rate-limiter", rateLimiter.Shutdown)

	inflight := shutdown.NewInFlightTracker("payments", logger)

	var handler http.Handler = gwMux
	handler = rateLimiter.Middleware(handler)
	handler = auth.AccountMiddleware(accountVerifier, logger)(handler)
	handler = inflight.Middleware(handler)
	handler = middleware.NewSecurityHeaders(cfg.Logger.Development).Middleware(handler)
	handler = observability.HTTPMiddleware(handler)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      timeouts.HTTPHandler + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	listener, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	go func() {
		logger.Info("gRPC server listening", zap.String("address", listener.Addr().String()))
		if err := grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("gRPC server stopped", zap.Error(err))
		}
	}()
	sm.RegisterNoErr("grpc-server", grpcServer.GracefulStop)

	go func() {
		logger.Info("HTTP server listening", zap.String("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()
	sm.Register("http-server", httpServer.Shutdown)

	// Registered last so new payment requests are refused first
	sm.Register("in-flight-payments", inflight.Shutdown)

	if failures := sm.WaitForShutdown(ctx); len(failures) > 0 {
		return fmt.Errorf("%d components failed to shut down", len(failures))
	}
	return nil
}

// initLogger builds a production JSON logger, or a console logger in development
func initLogger(cfg config.LoggerConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return zap.NewExample()
	}
	return logger
}

// initDatabase opens the pool and applies the ledger schema
func initDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	if cfg.MigrateOnStart {
		if err := postgres.Migrate(cfg.URL, logger); err != nil {
			return nil, err
		}
	}

	poolCfg := postgres.DefaultConfig(cfg.URL)
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.QueryTimeout = cfg.QueryTimeout

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return postgres.NewPool(ctx, poolCfg, logger)
}

// Interceptors

func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if err != nil {
			logger.Error("gRPC request failed",
				zap.String("method", info.FullMethod),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err),
			)
		} else {
			logger.Debug("gRPC request",
				zap.String("method", info.FullMethod),
				zap.Duration("duration", time.Since(start)),
			)
		}

		return resp, err
	}
}

func recoveryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic recovered in gRPC handler",
					zap.String("method", info.FullMethod),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
				err = status.Error(codes.Internal, "internal server error")
			}
		}()

		return handler(ctx, req)
	}
}
