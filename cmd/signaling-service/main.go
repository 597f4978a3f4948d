package main

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chatroom-backend/internal/config"
	callHandler "chatroom-backend/internal/handler/http/call"
	pushHandler "chatroom-backend/internal/handler/http/push"
	wsHandler "chatroom-backend/internal/handler/ws"
	"chatroom-backend/internal/middleware"
	"chatroom-backend/internal/relay"
	"chatroom-backend/internal/repository/cockroach"
	redisRepo "chatroom-backend/internal/repository/redis"
	callService "chatroom-backend/internal/service/call"
	"chatroom-backend/pkg/constants"
	"chatroom-backend/pkg/database"
	"chatroom-backend/pkg/jwt"
	"chatroom-backend/pkg/logger"
	"chatroom-backend/pkg/push"
)

func main() {
	cfg := config.Load()

	if err := logger.Init(&logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: "stdout",
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.JWTSecret == "" {
		logger.Fatal("JWT_SECRET environment variable is required")
	}
	if len(cfg.JWTSecret) < 32 {
		logger.Fatal("JWT_SECRET must be at least 32 characters")
	}

	jwtManager := jwt.NewManager(cfg.JWTSecret, constants.AccessTokenExpiry, constants.RefreshTokenExpiry)

	ctx := context.Background()

	// Connect to CockroachDB with exponential backoff retry
	db, err := connectCockroach(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to CockroachDB", zap.Error(err))
	}
	defer db.Close()
	logger.Info("connected to CockroachDB", zap.String("host", cfg.DBHost))

	redisDB, err := database.NewRedisDB(&database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       0,
		PoolSize: 10,
	})
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer redisDB.Close()
	logger.Info("connected to Redis", zap.String("host", cfg.RedisHost))

	// Repositories
	callRepo := cockroach.NewCallRepository(db.Pool)
	friendshipRepo := cockroach.NewFriendshipRepository(db.Pool)
	presenceRepo := redisRepo.NewPresenceRepository(redisDB.Client)
	pushTokenRepo := redisRepo.NewPushTokenRepository(redisDB.Client)

	// Call service
	oracle := callService.NewOracle(friendshipRepo, presenceRepo)
	opts := []callService.Option{
		callService.WithRingTimeout(cfg.RingTimeout),
	}
	if provider := buildPushProvider(cfg); provider != nil {
		opts = append(opts, callService.WithPush(provider, pushTokenRepo))
	}
	callSvc := callService.NewService(callRepo, oracle, opts...)

	// Signaling relay
	directory := relay.NewDirectory()
	hub := relay.NewHub(directory, presenceRepo)

	// Handlers
	callHdlr := callHandler.NewHandler(callSvc)
	pushHdlr := pushHandler.NewHandler(pushTokenRepo)
	signalingHdlr := wsHandler.NewHandler(hub, jwtManager)

	router := gin.New()
	router.SetTrustedProxies(nil)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.Prometheus())
	router.Use(middleware.HealthCheck("signaling-service"))

	router.GET("/metrics", middleware.MetricsHandler())

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager))
	{
		callHdlr.RegisterRoutes(v1)
		pushHdlr.RegisterRoutes(v1)
	}

	// WebSocket auth happens inside the handler so browser clients can
	// pass the token as a query parameter.
	router.GET("/v1/ws/signaling", signalingHdlr.ServeWS)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("signaling service starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down signaling service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func connectCockroach(ctx context.Context, cfg *config.Config) (*database.CockroachDB, error) {
	dbConfig := &database.CockroachConfig{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	maxRetries := 5
	baseDelay := 1 * time.Second
	maxDelay := 30 * time.Second

	var db *database.CockroachDB
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err = database.NewCockroachDB(ctx, dbConfig)
		if err == nil {
			return db, nil
		}

		delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt-1)))
		if delay > maxDelay {
			delay = maxDelay
		}
		logger.Warn("CockroachDB connection failed",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay),
			zap.Error(err))
		time.Sleep(delay)
	}

	return nil, err
}

func buildPushProvider(cfg *config.Config) push.Provider {
	switch cfg.PushProvider {
	case "fcm":
		provider, err := push.NewFCMProvider(&push.FCMConfig{
			CredentialsPath: cfg.FCMCredentials,
			ProjectID:       cfg.FCMProjectID,
		})
		if err != nil {
			if cfg.IsProduction() {
				logger.Fatal("FCM provider initialization failed", zap.Error(err))
			}
			logger.Warn("FCM provider unavailable, push disabled", zap.Error(err))
			return nil
		}
		logger.Info("push notifications enabled", zap.String("provider", "fcm"))
		return provider
	case "apns":
		provider, err := push.NewAPNsProvider(&push.APNsConfig{
			KeyPath:    cfg.APNsKeyPath,
			KeyID:      cfg.APNsKeyID,
			TeamID:     cfg.APNsTeamID,
			BundleID:   cfg.APNsBundleID,
			Production: cfg.IsProduction(),
		})
		if err != nil {
			if cfg.IsProduction() {
				logger.Fatal("APNs provider initialization failed", zap.Error(err))
			}
			logger.Warn("APNs provider unavailable, push disabled", zap.Error(err))
			return nil
		}
		logger.Info("push notifications enabled", zap.String("provider", "apns"))
		return provider
	case "none", "":
		if cfg.IsProduction() {
			logger.Warn("push notifications disabled in production")
		}
		return nil
	default:
		logger.Warn("unknown push provider, push disabled", zap.String("provider", cfg.PushProvider))
		return nil
	}
}
