package main

import (
	"context"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := zap.NewProduction()
	if err != nil {
		stdlog.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize OpenTelemetry
	tp, err := initTracer()
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	mp, err := initMetrics()
	if err != nil {
		logger.Fatal("Failed to initialize metrics", zap.Error(err))
	}
	defer func() {
		if err := mp.Shutdown(context.Background()); err != nil {
			logger.Error("Error shutting down meter", zap.Error(err))
		}
	}()

	// Initialize database
	dbPool, err := initDB(logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbPool.Close()

	// Snapshot de referência: carrega uma vez no boot; sem dados de
	// referência o serviço não tem como validar evento nenhum.
	snapshot := NewReferenceSnapshot(dbPool)
	if err := snapshot.Refresh(ctx); err != nil {
		logger.Fatal("Failed to load reference snapshot", zap.Error(err))
	}
	users, machines, products := snapshot.Sizes()
	if users == 0 || machines == 0 || products == 0 {
		logger.Fatal("Reference data is empty, refusing to start",
			zap.Int("users", users),
			zap.Int("machines", machines),
			zap.Int("products", products))
	}
	logger.Info("✅ reference snapshot loaded",
		zap.Int("users", users),
		zap.Int("machines", machines),
		zap.Int("products", products))

	// Initialize dependencies
	lockTimeout := time.Duration(getEnvInt("LOCK_TIMEOUT_MS", 3000)) * time.Millisecond
	retryBackoff := time.Duration(getEnvInt("LOCK_RETRY_BACKOFF_MS", 200)) * time.Millisecond

	repository := NewRepository(dbPool)
	stock := NewStockController(repository, lockTimeout)
	ledger := NewLedgerWriter(repository)

	brokers := strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ",")
	notifier := NewKafkaNotifier(brokers, getEnv("KAFKA_NOTIFICATION_TOPIC", "vending.purchase.completed"), logger)
	defer notifier.Close()

	processor := NewTransactionProcessor(snapshot, repository, stock, ledger, notifier, logger, retryBackoff)
	ingress := NewEventIngress(snapshot)

	// Consumer do tópico de compras dos dispositivos
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  getEnv("KAFKA_GROUP_ID", "purchase-service"),
		Topic:    getEnv("KAFKA_PURCHASE_TOPIC", "vending.machine.purchases"),
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	consumer := NewDeviceConsumer(reader, ingress, processor, getEnvInt("WORKER_COUNT", 4), logger)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		consumer.Run(ctx)
	}()

	// Refresh periódico do snapshot: staleness é aceita entre os ticks
	refreshInterval := time.Duration(getEnvInt("SNAPSHOT_REFRESH_INTERVAL_SECONDS", 60)) * time.Second
	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := snapshot.Refresh(ctx); err != nil {
					logger.Warn("⚠️ snapshot refresh failed, keeping previous", zap.Error(err))
				}
			}
		}
	}()

	tracer := tp.Tracer("purchase-service")
	handler := NewPurchaseHandler(ingress, processor, snapshot, repository, tracer)

	// Setup Gin router
	r := gin.Default()
	r.Use(otelgin.Middleware(getEnv("SERVICE_NAME", "purchase-service")))

	// Health check
	r.GET("/health", handler.HealthCheck)

	// Checkout web síncrono
	r.POST("/api/checkout", handler.Checkout)

	// Operacional
	r.POST("/api/snapshot/refresh", handler.RefreshSnapshot)
	r.POST("/api/machines/:id/restock", handler.Restock)
	r.GET("/api/machines", handler.ListMachines)
	r.GET("/api/orders/:id", handler.GetOrder)

	port := getEnv("PORT", "8080")
	logger.Info("🚀 Purchase Service listening", zap.String("port", port))

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("👋 shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down http server", zap.Error(err))
	}
	<-consumerDone
}

func initDB(logger *zap.Logger) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		getEnv("DATABASE_USER", "root"),
		getEnv("DATABASE_PASSWORD", "pass"),
		getEnv("DATABASE_HOST", "localhost"),
		getEnv("DATABASE_PORT", "5432"),
		getEnv("DATABASE_NAME", "vending_db"),
	)

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Configure connection pool
	config.MaxConns = 10
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Wait for database to be ready
	for i := 0; i < 30; i++ {
		if err := pool.Ping(ctx); err == nil {
			logger.Info("✅ connected to vending database")
			return pool, nil
		}
		logger.Info("⏳ waiting for database...", zap.Int("attempt", i+1))
		time.Sleep(1 * time.Second)
	}

	pool.Close()
	return nil, fmt.Errorf("failed to connect to database after 30 attempts")
}

func initTracer() (*sdktrace.TracerProvider, error) {
	ctx := context.Background()

	otlpEndpoint := getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318")

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(otlpEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(getEnv("SERVICE_NAME", "purchase-service")),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	otel.SetTracerProvider(tp)

	return tp, nil
}

func initMetrics() (*sdkmetric.MeterProvider, error) {
	ctx := context.Background()

	otlpEndpoint := getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318")

	exporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(otlpEndpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(getEnv("SERVICE_NAME", "purchase-service")),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	return mp, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
