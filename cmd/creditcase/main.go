// Package main запускает HTTP-сервер портала кредитного сервиса.
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

	"github.com/dewcredit/creditcase-system/internal/config"
	"github.com/dewcredit/creditcase-system/internal/handler"
	"github.com/dewcredit/creditcase-system/internal/middleware"
	"github.com/dewcredit/creditcase-system/internal/notify"
	"github.com/dewcredit/creditcase-system/internal/repository"
	"github.com/dewcredit/creditcase-system/internal/service"
	"github.com/dewcredit/creditcase-system/internal/stripe"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	stripeClient := stripe.NewClient(cfg.StripeSecretKey)
	emailSender := notify.NewEmailSender(cfg.EmailServiceAddress, logger)
	smsSender := notify.NewSMSSender(cfg.SMSServiceAddress, logger)

	svc := service.NewService(repo, stripeClient, emailSender, smsSender, cfg.BaseURL, logger)

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret, repo)
	h := handler.NewHandler(svc, logger, authMiddleware, cfg.StripeWebhookSecret)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фонового обхода гарантийных таймеров
	g.Go(func() error {
		svc.StartGuaranteeSweep(ctx, cfg.SweepInterval)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting creditcase server", "addr", cfg.RunAddress)
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
