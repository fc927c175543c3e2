package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/giftwish/chat-server/internal/auth"
	"github.com/giftwish/chat-server/internal/cache"
	"github.com/giftwish/chat-server/internal/chat"
	"github.com/giftwish/chat-server/internal/config"
	"github.com/giftwish/chat-server/internal/data"
	"github.com/giftwish/chat-server/internal/db"
	"github.com/giftwish/chat-server/internal/events"
	"github.com/giftwish/chat-server/internal/httpapi"
	"github.com/giftwish/chat-server/internal/hub"
	"github.com/giftwish/chat-server/internal/logger"
	"github.com/giftwish/chat-server/internal/middleware"
	"github.com/giftwish/chat-server/internal/transport/tcpline"
	"github.com/giftwish/chat-server/internal/transport/ws"
)

func main() {
	_ = godotenv.Load() // load .env if present

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	zlog, err := logger.New(cfg.App.Env)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Message store: in-memory for single-instance development, Mongo for
	// anything that must survive a restart or run behind a load balancer.
	var store data.ChatStore
	if cfg.Store.Backend == "mongo" {
		dbClient, err := db.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			zlog.Fatalw("mongo connect failed", "err", err)
		}
		defer func() { _ = dbClient.Close(context.Background()) }()

		if err := dbClient.CreateIndexes(ctx); err != nil {
			zlog.Fatalw("mongo index bootstrap failed", "err", err)
		}
		store = data.NewMongoStore(dbClient.MessagesCollection())
	} else {
		zlog.Infow("using in-memory message store; history will not survive restarts")
		store = data.NewMemoryStore()
	}

	// Optional Redis presence mirror for the rest of the platform.
	var mirror *cache.PresenceMirror
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		mirror = cache.NewPresenceMirror(rdb, "chat", 24*time.Hour, zlog)
	}

	// Optional Kafka event stream.
	var publisher *events.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, zlog)
		defer func() { _ = publisher.Close() }()
	}

	// Identity: token verification is enabled when signing keys are
	// configured; otherwise register trusts the supplied user id.
	var jwtMgr *auth.JWTManager
	keys, err := cfg.JWTKeyMap()
	if err != nil {
		zlog.Fatalw("jwt key parse failed", "err", err)
	}
	if len(keys) > 0 {
		jwtMgr = auth.NewJWTManagerFromKeys(keys, cfg.JWT.ActiveKid, 24*time.Hour)
	} else {
		zlog.Warnw("no jwt keys configured; token verification disabled")
	}

	// Connection-establishment rate limiter (small burst allows quick
	// reconnects).
	limiter := middleware.NewLimiterStore(cfg.RateLimitRPM, 5, time.Minute)
	defer limiter.Stop()

	registry := hub.NewRegistry()
	dispatcher := hub.NewDispatcher(registry, zlog)

	core := &chat.Core{
		Store:    store,
		Registry: registry,
		Dispatch: dispatcher,
		Auth:     jwtMgr,
		Mirror:   mirror,
		Events:   publisher,
		Log:      zlog,
	}
	core.BindDispatcher()

	app := fiber.New(fiber.Config{AppName: "chat-server", DisableStartupMessage: true})
	ws.Register(app, core, limiter, zlog)
	httpapi.Register(app, store, registry, zlog)

	tcpSrv := tcpline.NewServer(core, limiter, zlog)

	errCh := make(chan error, 2)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.App.HTTPPort)
		zlog.Infow("http server listening", "addr", addr)
		if err := app.Listen(addr); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		if err := tcpSrv.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.App.TCPPort)); err != nil {
			errCh <- fmt.Errorf("tcp server: %w", err)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		zlog.Infow("shutting down", "signal", sig.String())
	case err := <-errCh:
		zlog.Errorw("server failed", "err", err)
	}

	cancel()
	if err := app.ShutdownWithTimeout(cfg.ShutdownTimeout); err != nil {
		zlog.Errorw("http shutdown failed", "err", err)
	}
}
