// Package main запускает HTTP-сервер сервиса доступа.
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

	"github.com/mmeshcher/accessgate/internal/catalog"
	"github.com/mmeshcher/accessgate/internal/config"
	"github.com/mmeshcher/accessgate/internal/handler"
	"github.com/mmeshcher/accessgate/internal/ledger"
	"github.com/mmeshcher/accessgate/internal/license"
	"github.com/mmeshcher/accessgate/internal/middleware"
	"github.com/mmeshcher/accessgate/internal/p2p"
	"github.com/mmeshcher/accessgate/internal/payment"
	"github.com/mmeshcher/accessgate/internal/repository"
	"github.com/mmeshcher/accessgate/internal/service"
	"github.com/mmeshcher/accessgate/internal/share"
	"github.com/mmeshcher/accessgate/internal/trial"
	"github.com/mmeshcher/accessgate/internal/wallet"
)

const (
	payerName  = "accessgate"
	inboxLimit = 50
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	store, err := repository.Open(cfg.DatabaseURI, cfg.StorePath)
	if err != nil {
		sugar.Fatalw("storage initialization error", "error", err.Error())
	}
	defer store.Close()

	cat := catalog.Default()
	credits := ledger.New(store)

	// без адреса кошелька оплата отвечает NotConnected
	var w payment.Wallet
	if cfg.WalletAddress != "" {
		w = wallet.NewClient(cfg.WalletAddress)
	}

	inbox := share.NewInbox(inboxLimit)
	transport := p2p.New(cfg.PeerAddress, logger, inbox.Accept)

	svc := service.NewService(service.Deps{
		Catalog:  cat,
		Ledger:   credits,
		Payments: payment.NewOrchestrator(w, credits, payerName, logger),
		Licenses: license.NewRedeemer(store, cat, logger),
		Trials:   trial.NewGatekeeper(store, cfg.TrialCooldown, cfg.TrialDuration),
		Sharer:   share.NewSharer(transport, logger),
		Inbox:    inbox,
	})

	access := middleware.NewAccessMiddleware(cfg.AccessSecret)
	if cfg.AccessSecret == "" {
		sugar.Warn("access secret is not set, access windows will not survive restart")
	}

	// 1 попытка в секунду с запасом 5, как для входа по паролю
	licenseLimiter := middleware.NewRateLimiter(1, 5)
	if err := licenseLimiter.TrustProxies(cfg.ProxyCIDRs()); err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	h := handler.NewHandler(svc, logger, access, licenseLimiter, transport.Handler())

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		licenseLimiter.Run(ctx, time.Minute)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting accessgate server", "addr", cfg.RunAddress, "peer", cfg.PeerAddress)
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
