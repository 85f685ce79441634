package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"anonchat/internal/auth"
	"anonchat/internal/config"
	"anonchat/internal/domain"
	"anonchat/internal/handler"
	"anonchat/internal/messaging"
	"anonchat/internal/middleware"
	"anonchat/internal/observability"
	"anonchat/internal/repository/badgerdb"
	"anonchat/internal/repository/memory"
	"anonchat/internal/repository/postgres"
	"anonchat/internal/service"
	"anonchat/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// repositories is the storage selected by STORE_DRIVER.
type repositories struct {
	chatrooms domain.ChatroomRepository
	messages  domain.MessageRepository
	cursors   domain.ReadCursorRepository
	blocks    domain.BlockRepository
	checks    []handler.ReadinessCheck
	db        *sql.DB
	close     func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("starting chat server",
		slog.String("store", cfg.StoreDriver),
		slog.String("event_bus", cfg.EventBus),
		slog.String("environment", cfg.Environment))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repos, err := openRepositories(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer repos.close()

	blockService := service.NewBlockService(repos.blocks)

	hub := websocket.NewHub(blockService)
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go func() {
		if err := hub.Run(hubCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("hub error", slog.String("error", err.Error()))
		}
	}()
	slog.Info("websocket hub started")

	var publisher domain.EventPublisher = hub
	checks := repos.checks

	if cfg.EventBus == config.BusRabbitMQ {
		rmqCtx, rmqCancel := context.WithTimeout(ctx, 60*time.Second)
		rmq, err := messaging.NewRabbitMQWithRetry(rmqCtx, cfg.RabbitMQURL)
		rmqCancel()
		if err != nil {
			slog.Error("failed to connect to rabbitmq", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer rmq.Close()

		// every instance, this one included, hears events through its own queue
		if err := messaging.NewEventConsumer(rmq, hub).Start(ctx); err != nil {
			slog.Error("failed to start event consumer", slog.String("error", err.Error()))
			os.Exit(1)
		}
		publisher = rmq
		checks = append(checks, handler.PingCheck("rabbitmq", rmq))
		slog.Info("rabbitmq event bus started")
	}

	chatroomService := service.NewChatroomService(repos.chatrooms, blockService)
	messageService := service.NewMessageService(repos.chatrooms, repos.messages, blockService, publisher, cfg.MaxContentLength)
	readService := service.NewReadService(repos.chatrooms, repos.cursors, publisher)

	validator := auth.NewJWTValidator(cfg.JWTSecret, cfg.JWTIssuer)

	frameLimiter := websocket.NewFrameLimiter(nil)
	go frameLimiter.Run(ctx)

	if repos.db != nil {
		go recordDBStats(ctx, repos.db)
	}

	origins := middleware.ParseOrigins(cfg.AllowedOrigins)

	chatroomHandler := handler.NewChatroomHandler(chatroomService, messageService, readService)
	blockHandler := handler.NewBlockHandler(blockService)
	wsHandler := handler.NewWebSocketHandler(hub, validator, websocket.Services{
		Rooms:    chatroomService,
		Messages: messageService,
		Reads:    readService,
		Limiter:  frameLimiter,
	}, origins)

	openapi, err := middleware.OpenAPIValidator(
		middleware.DefaultOpenAPIValidatorConfig(cfg.OpenAPISpecPath, cfg.OpenAPIValidation))
	if err != nil {
		slog.Error("failed to load OpenAPI spec", slog.String("error", err.Error()))
		os.Exit(1)
	}

	apiLimiter := middleware.NewRateLimiter(20, 50)
	defer apiLimiter.Stop()

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestContext)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(origins))
	r.Use(middleware.Metrics())

	r.Get("/health", handler.Health)
	r.Get("/health/ready", handler.Ready(checks...))
	r.Handle("/metrics", promhttp.Handler())

	// authenticated after the upgrade, see HandleConnection
	r.Get("/ws", wsHandler.HandleConnection)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apiLimiter.Middleware())
		r.Use(openapi)
		r.Use(middleware.Auth(validator))

		r.Get("/chatrooms", chatroomHandler.List)
		r.Post("/chatrooms", chatroomHandler.Create)
		r.Route("/chatrooms/{id}", func(r chi.Router) {
			r.Get("/", chatroomHandler.Get)
			r.Post("/exit", chatroomHandler.Exit)
			r.Get("/messages", chatroomHandler.ListMessages)
			r.Post("/messages", chatroomHandler.SendMessage)
			r.Get("/read", chatroomHandler.GetLastRead)
			r.Get("/read/counterpart", chatroomHandler.GetCounterpartLastRead)
			r.Put("/read", chatroomHandler.MarkRead)
		})

		r.Get("/blocks", blockHandler.List)
		r.Post("/blocks", blockHandler.Block)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("chat server listening", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", slog.String("error", err.Error()))
	}

	// closes every socket with 1001 before the store goes away
	hubCancel()
	cancel()

	time.Sleep(100 * time.Millisecond)

	slog.Info("server stopped gracefully")
}

func openRepositories(ctx context.Context, cfg *config.Config) (*repositories, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		db, err := config.NewPostgresConnection(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}

		migrateCtx, migrateCancel := context.WithTimeout(ctx, 30*time.Second)
		defer migrateCancel()
		if err := postgres.Migrate(migrateCtx, db); err != nil {
			db.Close()
			return nil, err
		}
		slog.Info("connected to postgresql")

		store := postgres.NewStore(db)
		return &repositories{
			chatrooms: store.Chatrooms,
			messages:  store.Messages,
			cursors:   store.ReadCursors,
			blocks:    store.Blocks,
			checks:    []handler.ReadinessCheck{handler.DatabaseCheck(db)},
			db:        db,
			close:     func() { db.Close() },
		}, nil

	case config.StoreBadger:
		db, err := config.NewBadger(cfg.BadgerPath)
		if err != nil {
			return nil, err
		}
		slog.Info("opened badger store", slog.String("path", cfg.BadgerPath))

		store := badgerdb.NewStore(db)
		return &repositories{
			chatrooms: store,
			messages:  store,
			cursors:   store,
			blocks:    store,
			checks:    []handler.ReadinessCheck{handler.PingCheck("badger", store)},
			close: func() {
				if err := db.Close(); err != nil {
					slog.Error("badger close failed", slog.String("error", err.Error()))
				}
			},
		}, nil

	case config.StoreMemory:
		observability.Warn("using in-memory store, data is lost on restart")
		store := memory.NewStore()
		return &repositories{
			chatrooms: store,
			messages:  store,
			cursors:   store,
			blocks:    store,
			close:     func() {},
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// recordDBStats publishes pool statistics until ctx is done
func recordDBStats(ctx context.Context, db *sql.DB) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observability.RecordDBStats(db.Stats())
		}
	}
}
