package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"labsync/internal/app"
	"labsync/internal/config"
	"labsync/internal/identity"
	"labsync/internal/ratelimit"
	"labsync/internal/server"
	"labsync/internal/usertoken"
	"labsync/internal/util"
	"labsync/pkg/filestore"
	"labsync/pkg/realtime"
	"labsync/pkg/store"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel)

	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		util.Fatal("failed to init store", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	channel := realtime.NewRedisChannel(redisClient, logger)

	limiter, err := ratelimit.NewFixedWindowLimiter(redisClient, "labsync:ratelimit:messages", cfg.MessageRateLimit, cfg.RateWindow())
	if err != nil {
		util.Fatal("failed to init rate limiter", err)
	}

	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:  cfg.JWKSURL,
		Issuer:   cfg.TokenIssuer,
		Audience: cfg.TokenAudience,
	})
	if err != nil {
		util.Fatal("failed to init token verifier", err)
	}

	objects, err := filestore.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		util.Fatal("failed to init object storage", err)
	}
	files := filestore.New(objects, cfg.MinioBucket, st, logger)

	webhookVerifier, err := identity.NewSignatureVerifier(cfg.WebhookSecret)
	if err != nil {
		util.Fatal("failed to init webhook verifier", err)
	}
	processor := identity.NewProcessor(st, logger)

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		util.Fatal("failed to parse trusted proxies", err)
	}

	application := app.New(st, channel, logger)
	httpServer := server.New(server.Config{
		App:             application,
		Store:           st,
		TokenVerifier:   tokenVerifier,
		Limiter:         limiter,
		Files:           files,
		WebhookVerifier: webhookVerifier,
		Identity:        processor,
		Channel:         channel,
		TrustedProxies:  trusted,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("chatd listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.AMQPURL != "" {
		consumer := identity.NewConsumer(cfg.AMQPURL, cfg.IdentityQueue, processor, logger)
		g.Go(func() error {
			err := consumer.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		slog.Info("identity amqp feed disabled, webhook only")
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("chatd stopped")
}
