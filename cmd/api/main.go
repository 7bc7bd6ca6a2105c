package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"chat-relay/internal/config"
	"chat-relay/internal/db"
	apihttp "chat-relay/internal/http"
	"chat-relay/internal/llm"
	"chat-relay/internal/newsfeed"
	"chat-relay/internal/push"
	"chat-relay/internal/repository"
	"chat-relay/internal/service"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	var (
		chatRepo    repository.ChatRepository
		messageRepo repository.MessageRepository
	)
	if cfg.DatabaseURL != "" {
		pool, err := openPostgres(ctx, cfg)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer pool.Close()
		chatRepo = repository.NewPgChatRepository(pool)
		messageRepo = repository.NewPgMessageRepository(pool)
		logger.Info("using postgres storage")
	} else {
		conn, err := db.OpenSQLite(ctx, cfg.DatabasePath)
		if err != nil {
			logger.Fatal("sqlite open", zap.Error(err))
		}
		defer closeSQLite(conn, logger)
		chatRepo = repository.NewSQLiteChatRepository(conn)
		messageRepo = repository.NewSQLiteMessageRepository(conn)
		logger.Info("using sqlite storage", zap.String("path", cfg.DatabasePath))
	}

	catalog, err := loadCatalog(cfg)
	if err != nil {
		logger.Fatal("model catalog", zap.Error(err))
	}
	if cfg.LLMAPIKey == "" {
		logger.Warn("llm api key not configured")
	}
	llmClient := llm.NewHTTPClient(llm.Options{
		BaseURL:       cfg.LLMBaseURL,
		APIKey:        cfg.LLMAPIKey,
		HealthPath:    cfg.LLMHealthPath,
		ProbeDisabled: cfg.LLMProbeOff,
		Timeout:       cfg.LLMTimeout,
		Catalog:       catalog,
		Logger:        logger,
	})

	feed := newsfeed.NewDisabledClient("newsfeed url not configured")
	if cfg.NewsfeedURL != "" {
		client, err := newsfeed.NewHTTPClient(cfg.NewsfeedURL, cfg.NewsfeedTimeout)
		if err != nil {
			logger.Warn("newsfeed client init failed", zap.Error(err))
		} else {
			feed = client
		}
	}

	var (
		turnLimiter = service.NewTurnRateLimiter(cfg.TurnRateWindow, cfg.TurnRateLimit)
		redisClient *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
			redisClient = nil
		} else {
			turnLimiter = service.NewRedisTurnRateLimiter(redisClient, cfg.TurnRateWindow, cfg.TurnRateLimit, logger)
		}
		cancel()
	}

	registry := push.NewRegistry(logger, feed, cfg.NewsfeedTimeout)
	dispatcher := push.NewDispatcher(logger, registry, 0)
	hub := push.NewHub(logger, registry, feed, push.HubOptions{
		WriteTimeout: cfg.WSWriteTimeout,
		PongTimeout:  cfg.WSPongTimeout,
	})

	chatSvc := service.NewChatService(logger, chatRepo, messageRepo)
	relaySvc := service.NewRelayService(logger, chatSvc, llmClient, catalog, turnLimiter, service.RelayOptions{
		FirstChunkTimeout: cfg.StreamFirstChunkTimeout,
		MaxDuration:       cfg.StreamMaxDuration,
	})

	router := apihttp.NewRouter(logger,
		apihttp.NewSystemHandler(catalog),
		apihttp.NewChatHandler(logger, chatSvc, relaySvc),
		apihttp.NewPushHandler(logger, hub, dispatcher, feed),
	)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if redisClient != nil {
		subscriber := push.NewSubscriber(logger, redisClient, cfg.PushChannel, dispatcher)
		g.Go(func() error {
			if err := subscriber.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("push subscriber stopped", zap.Error(err))
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down server")
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", zap.Error(err))
	}
	registry.Wait()
}

func openPostgres(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	if err := db.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func closeSQLite(conn *sql.DB, logger *zap.Logger) {
	if err := conn.Close(); err != nil {
		logger.Warn("sqlite close", zap.Error(err))
	}
}

func loadCatalog(cfg *config.Config) (*llm.Catalog, error) {
	if cfg.ModelsFile != "" {
		return llm.LoadCatalog(cfg.ModelsFile, cfg.LLMDefaultModel)
	}
	if cfg.LLMDefaultModel == "" || cfg.LLMDefaultModel == llm.DefaultModelID {
		return llm.DefaultCatalog(), nil
	}
	return llm.NewCatalog(llm.DefaultCatalog().Models(), cfg.LLMDefaultModel)
}
