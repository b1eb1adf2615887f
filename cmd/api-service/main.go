package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/content-pipeline/internal/api/handler"
	"github.com/cuongbtq/content-pipeline/internal/api/router"
	"github.com/cuongbtq/content-pipeline/internal/config"
	"github.com/cuongbtq/content-pipeline/internal/jobs"
	"github.com/cuongbtq/content-pipeline/internal/migrations"
	"github.com/cuongbtq/content-pipeline/internal/notify"
	"github.com/cuongbtq/content-pipeline/internal/queue"
	"github.com/cuongbtq/content-pipeline/internal/storage"
	"github.com/cuongbtq/content-pipeline/shared/logger"
	"github.com/cuongbtq/content-pipeline/shared/metrics"
	"github.com/cuongbtq/content-pipeline/shared/postgresql"
	"github.com/cuongbtq/content-pipeline/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const (
	serviceName = "content-api-service"

	resubscribeMinDelay = time.Second
	resubscribeMaxDelay = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(ctx, &cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	if cfg.Database.RunMigrations {
		if err := migrations.Up(ctx, dbClient.GetDB().DB, appLogger.Logger); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	appMetrics := metrics.New(serviceName)
	appMetrics.RegisterDB(dbClient.GetDB().DB, cfg.Database.Database)

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	workQueue := queue.New(rabbitClient, queue.Names{
		Exchange:       cfg.RabbitMQ.Exchange.Name,
		RoutingKey:     cfg.RabbitMQ.RoutingKey,
		DelayQueue:     cfg.RabbitMQ.Queue.DelayName,
		EventsExchange: cfg.RabbitMQ.Exchange.EventsName,
	}, appLogger.Logger)

	jobService := jobs.NewService(&jobs.Config{
		Logger:  appLogger.Logger,
		Store:   storage.NewStorage(dbClient.GetDB(), appLogger.Logger),
		Queue:   workQueue,
		Metrics: appMetrics,
		Delay:   cfg.Jobs.Delay,
	})

	// Push channel: lifecycle events fan out from the broker to websocket subscribers
	hub := notify.NewHub(cfg.Notify.SubscriberBuffer, appMetrics, appLogger.Logger)
	wsServer := notify.NewWSServer(hub, notify.WSConfig{
		WriteTimeout: cfg.Notify.WriteTimeout,
		PingInterval: cfg.Notify.PingInterval,
	}, appLogger.Logger)

	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		runDispatcher(ctx, notify.NewDispatcher(hub, appLogger.Logger), workQueue, appLogger.Logger)
	}()

	// Initialize router
	r := initRouter(cfg.App.Environment, &handler.Dependencies{
		Logger:      appLogger.Logger,
		Jobs:        jobService,
		Push:        wsServer,
		Metrics:     appMetrics,
		ServiceName: serviceName,
		HealthChecks: []handler.HealthCheck{
			{Name: "database", Check: dbClient.HealthCheck},
			{Name: "rabbitmq", Check: func(context.Context) error {
				if !rabbitClient.IsConnected() {
					return rabbitmq.ErrNotConnected
				}
				return nil
			}},
		},
	})

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	select {
	case <-ctx.Done():
		appLogger.Info("Shutting down server...")
	case err := <-serveErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		stop()
		<-dispatcherDone
		return err
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	<-dispatcherDone

	appLogger.Info("Server shutdown complete")
	return nil
}

// runDispatcher keeps one lifecycle subscription open until ctx is cancelled,
// resubscribing with exponential backoff when the broker drops it
func runDispatcher(ctx context.Context, dispatcher *notify.Dispatcher, workQueue *queue.Queue, logger *slog.Logger) {
	delay := resubscribeMinDelay

	for ctx.Err() == nil {
		sub, err := workQueue.SubscribeLifecycle("api-events-" + uuid.NewString()[:8])
		if err == nil {
			delay = resubscribeMinDelay
			err = dispatcher.Run(ctx, sub)
			if err == nil {
				return
			}
		}

		logger.Warn("Lifecycle subscription lost, resubscribing",
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay = min(delay*2, resubscribeMaxDelay)
	}
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		DSN:             cfg.DSN(),
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(ctx, dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		URL:                cfg.URL(),
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		EventsExchangeName: cfg.Exchange.EventsName,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		DelayQueueName:     cfg.Queue.DelayName,
		DeadLetterQueue:    cfg.Queue.DeadLetterName,
		ConsumerTimeout:    cfg.Queue.ConsumerTimeout,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
}
