package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"huddle/internal/adapter/redisstore"
	"huddle/internal/adapter/storage"
	"huddle/internal/config"
	"huddle/internal/geo"
	"huddle/internal/logging"
	"huddle/internal/server"
	"huddle/internal/service/moments"
	"huddle/internal/service/moods"
	"huddle/internal/service/presence"
	"huddle/internal/service/sweep"
)

func main() {
	// Load .env if present; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Init(cfg.Log.Level, cfg.Log.Format)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Initialize dependencies
	db, err := initDatabase(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	natsConn, err := initNATS(cfg.NATS)
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsConn.Close()

	// Initialize storage adapters
	momentStore := storage.NewMomentStore(db)
	voteStore := storage.NewVoteStore(db)
	chatStore := redisstore.NewChatStore(redisClient, cfg.Chat.MessageTTL)

	clock := clockwork.NewRealClock()

	// Initialize services
	index := geo.NewIndex(momentStore, clock)

	momentService := moments.NewService(momentStore, index, natsConn, clock, moments.Config{
		JoinRadiusMeters:  cfg.Moment.JoinRadiusMeters,
		DiscoveryRadiusKm: cfg.Moment.DiscoveryRadiusKm,
		Window:            cfg.Moment.Window,
		Retention:         cfg.Moment.Retention,
		MaxPostLength:     cfg.Moment.MaxPostLength,
		EventsTopic:       cfg.Moment.EventsTopic,
	})

	hub := presence.NewHub(momentService, chatStore, clock, presence.Config{
		MaxMessageLength: cfg.Chat.MaxMessageLength,
		HistoryLimit:     cfg.Chat.HistoryLimit,
		MessageTTL:       cfg.Chat.MessageTTL,
	})
	momentService.SetBroadcaster(hub)

	moodAggregator := moods.NewAggregator(voteStore, momentService, hub, clock)

	// Start the expiry scheduler
	scheduler := sweep.NewScheduler(momentService, moodAggregator, chatStore, hub, clock, sweep.Config{
		Interval:            cfg.Sweep.Interval,
		DeepCleanInterval:   cfg.Sweep.DeepCleanInterval,
		BatchSize:           cfg.Sweep.BatchSize,
		InactivityThreshold: cfg.Sweep.InactivityThreshold,
	})
	go scheduler.Run(ctx)

	// Initialize HTTP server
	httpServer := server.NewServer(cfg.Server, momentService, moodAggregator, hub)

	// Start HTTP server
	go func() {
		slog.Info("starting HTTP server", "host", cfg.Server.Host, "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	<-shutdown
	slog.Info("shutdown signal received")

	// Stop the sweep loop before the stores go away
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}

// Initialize database connection
func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.MaxLifetime

	db, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	// Test connection
	if err := db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return db, nil
}

// Initialize NATS connection
func initNATS(cfg config.NATSConfig) (*nats.Conn, error) {
	options := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			slog.Info("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}

	return nc, nil
}
