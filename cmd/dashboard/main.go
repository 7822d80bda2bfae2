// Package main запускает HTTP-сервер панели фрилансера.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/freelance-dashboard/internal/auth"
	"github.com/mmeshcher/freelance-dashboard/internal/config"
	"github.com/mmeshcher/freelance-dashboard/internal/handler"
	"github.com/mmeshcher/freelance-dashboard/internal/middleware"
	"github.com/mmeshcher/freelance-dashboard/internal/repository"
	"github.com/mmeshcher/freelance-dashboard/internal/service"
)

const sessionCacheTTL = time.Minute

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}
	if err := cfg.Validate(); err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	provider := auth.NewProviderClient(cfg.SupabaseURL, cfg.SupabaseAnonKey)

	var (
		verifier auth.Verifier = auth.NewJWTVerifier(cfg.SupabaseJWTSecret, provider)
		cache    service.SnapshotCache
	)

	if cfg.RedisAddress != "" {
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := repository.NewRedisClient(pingCtx, cfg.RedisAddress)
		cancel()
		if err != nil {
			sugar.Fatalw("redis initialization error", "error", err.Error())
		}
		defer client.Close()

		cache = repository.NewSnapshotCache(client, cfg.SnapshotCacheTTL)
		verifier = auth.NewCachedVerifier(client, verifier, sessionCacheTTL, logger)
	} else {
		sugar.Info("redis address not set, caching disabled")
	}

	svc := service.NewService(repo, cache, provider, logger)
	defer svc.Close()

	guard := middleware.NewGuard(cfg.AuthCookieName(), verifier, cfg.AuthFailMode == config.AuthFailOpen, cfg.TrustProxyHeaders, logger)
	h := handler.NewHandler(svc, logger, guard, cfg.AuthCookieName(), cfg.SecureCookies)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting dashboard server",
			"addr", cfg.RunAddress,
			"authCookie", cfg.AuthCookieName(),
			"authFailMode", cfg.AuthFailMode,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
