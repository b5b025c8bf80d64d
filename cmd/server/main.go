package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/AnshRaj112/loanhub-backend/internal/auth"
	"github.com/AnshRaj112/loanhub-backend/internal/config"
	"github.com/AnshRaj112/loanhub-backend/internal/database"
	"github.com/AnshRaj112/loanhub-backend/internal/handlers"
	"github.com/AnshRaj112/loanhub-backend/internal/logger"
	"github.com/AnshRaj112/loanhub-backend/internal/middleware"
	"github.com/AnshRaj112/loanhub-backend/internal/routes"
	"github.com/AnshRaj112/loanhub-backend/internal/services"
	"github.com/AnshRaj112/loanhub-backend/internal/store"
	"github.com/AnshRaj112/loanhub-backend/pkg/clientip"
	"github.com/AnshRaj112/loanhub-backend/pkg/utils"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	cfg := config.Load()

	zl, err := logger.New(cfg.Environment, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		zl.Warn("Configuration warning", zap.String("detail", w))
	}
	if err != nil {
		zl.Fatal("Refusing to start", zap.Error(err))
	}

	if err := run(cfg, zl); err != nil {
		zl.Fatal("Server stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		mongoClient *mongo.Client
		db          *mongo.Database
		redisClient *redis.Client
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		client, mdb, err := database.Connect(gctx, cfg.MongoURI, cfg.MongoDatabase, zl)
		if err != nil {
			return fmt.Errorf("connect mongodb: %w", err)
		}
		mongoClient, db = client, mdb
		return nil
	})
	g.Go(func() error {
		client, err := database.ConnectRedis(gctx, cfg.RedisURI, zl)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		redisClient = client
		return nil
	})
	if err := g.Wait(); err != nil {
		_ = database.Disconnect(mongoClient)
		_ = database.DisconnectRedis(redisClient)
		return err
	}
	defer func() {
		if err := database.Disconnect(mongoClient); err != nil {
			zl.Warn("MongoDB disconnect failed", zap.Error(err))
		}
		if err := database.DisconnectRedis(redisClient); err != nil {
			zl.Warn("Redis disconnect failed", zap.Error(err))
		}
	}()

	credentials := store.NewMongoStore(db)
	indexCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	if err := credentials.EnsureIndexes(indexCtx); err != nil {
		cancel()
		return fmt.Errorf("ensure user indexes: %w", err)
	}
	if err := services.EnsureAuditIndexes(indexCtx, db); err != nil {
		zl.Warn("Failed to ensure audit indexes", zap.Error(err))
	}
	cancel()
	zl.Info("MongoDB indexes ensured")

	mongoSink := services.NewMongoAuditSink(db, cfg.AuditBufferSize, zl)
	defer mongoSink.Close()
	sinks := services.MultiSink{mongoSink}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink := services.NewKafkaAuditSink(cfg.KafkaBrokers, cfg.KafkaAuditTopic, zl)
		defer func() {
			if err := kafkaSink.Close(); err != nil {
				zl.Warn("Kafka audit sink close failed", zap.Error(err))
			}
		}()
		sinks = append(sinks, kafkaSink)
	}

	tokens, err := auth.NewTokenIssuer(auth.TokenConfig{
		AccessSecret:  cfg.JWTSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
		Issuer:        "loanhub",
	}, time.Now)
	if err != nil {
		return err
	}
	revocations, err := services.NewRevocationList(cfg.RevocationBackend, redisClient, zl)
	if err != nil {
		return err
	}
	hasher := utils.NewBcryptHasher(cfg.BcryptCost)

	authService := services.NewAuthService(services.AuthDeps{
		Store:       credentials,
		Hasher:      hasher,
		Tokens:      tokens,
		Lockout:     auth.NewLockoutPolicy(cfg.LockoutThreshold, cfg.LockoutDuration),
		Revocations: revocations,
		Sessions:    services.NewSessionTracker(credentials, time.Now),
		OTPs:        services.NewOTPManager(credentials, cfg.OTPTTL, cfg.OTPMaxAttempts, time.Now),
		Audit:       sinks,
		Notifier:    services.NewLogNotifier(zl),
		Logger:      zl,
		Now:         time.Now,
		Options: services.AuthOptions{
			ResetTokenTTL:         cfg.ResetTokenTTL,
			EnforceRefreshBinding: cfg.EnforceRefreshTokenBinding,
			ResetURL:              cfg.FrontendURL + "/reset-password",
		},
	})
	userService := services.NewUserService(credentials, hasher, sinks, zl, time.Now)

	resolveIP := clientip.NewResolver(cfg.TrustProxy)
	exposeDetail := !cfg.IsProduction()

	// Production: SecurityHeaders, HostCheck, per-IP and login limits.
	// Elsewhere: the Redis counter only.
	var mws []func(http.Handler) http.Handler
	otpLimiter := middleware.NewOTPRateLimit(resolveIP)
	defer otpLimiter.Stop()
	if cfg.IsProduction() {
		security, limiters := middleware.ProductionSecurity(hostname(cfg.Host), resolveIP)
		for _, l := range limiters {
			defer l.Stop()
		}
		mws = append(mws, security...)
		zl.Info("Production security enabled")
	} else {
		mws = append(mws, middleware.NewRedisRateLimiter(redisClient, resolveIP, zl).Middleware)
	}
	mws = append(mws, otpLimiter.Middleware)

	router := routes.NewRouter(routes.Deps{
		Auth: handlers.NewAuthHandler(authService, resolveIP, handlers.CookieOptions{
			Secure: cfg.IsProduction(),
			MaxAge: cfg.RefreshTokenTTL,
		}, zl, exposeDetail),
		Admin:          handlers.NewAdminHandler(userService, zl, exposeDetail),
		Gate:           middleware.NewGate(tokens, revocations, credentials, cfg.RevocationFailOpen, zl),
		Logger:         zl,
		AllowedOrigins: cfg.AllowedOrigins,
		Middlewares:    mws,
	})

	_ = chi.Walk(router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		zl.Debug("Route registered", zap.String("method", method), zap.String("route", route))
		return nil
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info("LoanHub auth service running", zap.String("port", cfg.Port), zap.String("env", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zl.Info("Shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}

// hostname accepts HOST as either a bare host or a URL.
func hostname(host string) string {
	if u, err := url.Parse(host); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return host
}
