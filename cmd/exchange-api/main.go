// Package main runs the exchange API: the REST endpoints, the per-user
// websocket stream and the probes, backed by PostgreSQL.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/archon-research/stl-exchange/db/migrations"
	"github.com/archon-research/stl-exchange/db/migrator"
	httpadapter "github.com/archon-research/stl-exchange/internal/adapters/inbound/http"
	"github.com/archon-research/stl-exchange/internal/adapters/inbound/websocket"
	"github.com/archon-research/stl-exchange/internal/adapters/outbound/postgres"
	"github.com/archon-research/stl-exchange/internal/adapters/outbound/telemetry"
	"github.com/archon-research/stl-exchange/internal/domain/entity"
	"github.com/archon-research/stl-exchange/internal/pkg/env"
	"github.com/archon-research/stl-exchange/internal/pkg/fixedpoint"
	"github.com/archon-research/stl-exchange/internal/services/exchange"
	"github.com/archon-research/stl-exchange/internal/services/shared"
)

const shutdownTimeout = 25 * time.Second

func main() {
	// Load environment
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	addr := flag.String("addr", "", "HTTP listen address (default HTTP_ADDR or :8080)")
	dbURL := flag.String("db", "", "PostgreSQL connection URL")
	redisAddr := flag.String("redis", "", "Redis address for cross-replica trade fan-out")
	topicARN := flag.String("sns-topic", "", "SNS topic ARN for trade events")
	migrate := flag.Bool("migrate", false, "Apply database migrations on startup")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: env.ParseLogLevel(slog.LevelInfo),
	}))
	slog.SetDefault(logger)

	if *addr == "" {
		*addr = env.Get("HTTP_ADDR", ":8080")
	}
	if *dbURL == "" {
		*dbURL = env.Get("DATABASE_URL", "")
	}
	if *dbURL == "" {
		logger.Error("database URL not provided (use -db flag or DATABASE_URL env var)")
		os.Exit(1)
	}
	if *redisAddr == "" {
		*redisAddr = env.Get("REDIS_ADDR", "")
	}
	if *topicARN == "" {
		*topicARN = env.Get("SNS_TOPIC_ARN", "")
	}
	if !*migrate {
		*migrate = mustBool(logger, "RUN_MIGRATIONS", false)
	}

	commission, err := fixedpoint.Parse(env.Get("COMMISSION_RATE", entity.DefaultCommissionRate.String()))
	if err != nil {
		logger.Error("invalid COMMISSION_RATE", "error", err)
		os.Exit(1)
	}
	orderRate := mustInt(logger, "ORDER_RATE_LIMIT", 5)
	notifyTimeout := mustDuration(logger, "NOTIFY_TIMEOUT", 5*time.Second)

	ctx := context.Background()

	// Telemetry
	otlpEndpoint := env.Get("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	environment := env.Get("ENVIRONMENT", "development")
	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    "stl-exchange-api",
		ServiceVersion: env.Get("SERVICE_VERSION", "dev"),
		Environment:    environment,
		OTLPEndpoint:   otlpEndpoint,
	})
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	shutdownMeter, err := telemetry.InitMetrics(ctx, telemetry.MetricConfig{
		ServiceName:    "stl-exchange-api",
		ServiceVersion: env.Get("SERVICE_VERSION", "dev"),
		Environment:    environment,
		OTLPEndpoint:   otlpEndpoint,
	})
	if err != nil {
		logger.Error("failed to initialize metrics", "error", err)
		os.Exit(1)
	}

	appMetrics, err := shared.NewAppTelemetry()
	if err != nil {
		logger.Error("failed to create app metrics", "error", err)
		os.Exit(1)
	}
	httpMetrics, err := telemetry.NewHTTPMetrics("github.com/archon-research/stl-exchange/internal/adapters/inbound/http")
	if err != nil {
		logger.Error("failed to create http metrics", "error", err)
		os.Exit(1)
	}

	// Database
	pool, err := postgres.OpenPool(ctx, postgres.DefaultDBConfig(*dbURL))
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("PostgreSQL connected")

	if *migrate {
		if err := migrator.New(pool, migrations.FS, logger).ApplyAll(ctx); err != nil {
			logger.Error("migration failed", "error", err)
			os.Exit(1)
		}
	}

	txManager, err := postgres.NewTxManager(pool, logger)
	if err != nil {
		logger.Error("failed to create transaction manager", "error", err)
		os.Exit(1)
	}
	accounts, err := postgres.NewAccountRepository(pool, logger)
	if err != nil {
		logger.Error("failed to create account repository", "error", err)
		os.Exit(1)
	}
	orders, err := postgres.NewOrderRepository(pool, logger)
	if err != nil {
		logger.Error("failed to create order repository", "error", err)
		os.Exit(1)
	}

	// Notifications
	hub := websocket.NewHub(websocket.Config{Logger: logger})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	notifier, err := buildNotifier(runCtx, notifierConfig{
		RedisAddr:     *redisAddr,
		RedisPassword: env.Get("REDIS_PASSWORD", ""),
		TopicARN:      *topicARN,
		AWSRegion:     env.Get("AWS_REGION", "us-east-1"),
		SNSEndpoint:   env.Get("AWS_SNS_ENDPOINT", ""),
	}, hub, logger)
	if err != nil {
		logger.Error("failed to set up trade notifications", "error", err)
		os.Exit(1)
	}

	service, err := exchange.NewService(exchange.Config{
		CommissionRate: commission,
		NotifyTimeout:  notifyTimeout,
		Logger:         logger,
	}, txManager, accounts, orders, notifier, appMetrics)
	if err != nil {
		logger.Error("failed to create exchange service", "error", err)
		os.Exit(1)
	}

	handler, err := httpadapter.NewHandler(service, httpadapter.HandlerConfig{
		Symbols:   env.GetList("EXCHANGE_SYMBOLS", []string{"BTC", "ETH"}),
		OrderRate: float64(orderRate),
		// Burst of two seconds worth of orders.
		OrderBurst: 2 * orderRate,
		Metrics:    httpMetrics,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to create http handler", "error", err)
		os.Exit(1)
	}

	var shuttingDown atomic.Bool
	server := httpadapter.NewServer(
		httpadapter.ServerConfig{Addr: *addr, Logger: logger},
		handler,
		httpadapter.NewHealth(service, &shuttingDown, logger),
		map[string]http.Handler{"GET /ws": hub},
	)
	serverErr := server.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received signal, shutting down...", "signal", sig)
	case err := <-serverErr:
		logger.Error("http server stopped", "error", err)
	}

	shuttingDown.Store(true)
	cancel()

	if err := server.Shutdown(shutdownTimeout); err != nil {
		logger.Error("error stopping http server", "error", err)
	}
	if err := notifier.Close(); err != nil {
		logger.Warn("error closing notifiers", "error", err)
	}
	if err := hub.Close(); err != nil {
		logger.Warn("error closing websocket hub", "error", err)
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := shutdownTracer(flushCtx); err != nil {
		logger.Warn("failed to flush traces", "error", err)
	}
	if err := shutdownMeter(flushCtx); err != nil {
		logger.Warn("failed to flush metrics", "error", err)
	}

	logger.Info("shutdown complete")
}

func mustInt(logger *slog.Logger, key string, fallback int) int {
	v, err := env.GetInt(key, fallback)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	return v
}

func mustBool(logger *slog.Logger, key string, fallback bool) bool {
	v, err := env.GetBool(key, fallback)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	return v
}

func mustDuration(logger *slog.Logger, key string, fallback time.Duration) time.Duration {
	v, err := env.GetDuration(key, fallback)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	return v
}
