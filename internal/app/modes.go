package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/avasile/sharescan/internal/domain"
	"github.com/avasile/sharescan/internal/server"
	"github.com/avasile/sharescan/internal/server/handler"
	"github.com/avasile/sharescan/internal/server/ws"
)

// ServerMode runs the HTTP + WebSocket API. It blocks until the context is
// cancelled, then shuts the server down gracefully.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.Info("server mode starting")

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && err != context.Canceled {
			return fmt.Errorf("ws hub: %w", err)
		}
		return nil
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.logger),
		Portfolio: handler.NewPortfolioHandler(deps.Orchestrator, a.logger),
		Scans:     handler.NewScanHandler(deps.Jobs, deps.ScanArchive, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if err == context.Canceled {
		// Clean shutdown.
		return nil
	}
	return err
}

// ScanMode runs one default-mode scan for the configured wallet and prints
// the JSON payload to stdout.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	if a.Wallet == "" {
		return fmt.Errorf("scan mode: wallet is required (-wallet flag)")
	}

	a.logger.Info("one-shot scan starting")

	result, err := deps.Orchestrator.Scan(ctx, domain.ScanParams{
		Wallet:          a.Wallet,
		Mode:            domain.ScanModeDefault,
		DecodeReceipts:  true,
		IncludePrices:   true,
		IncludeMetadata: a.cfg.Metadata.Enabled,
	})
	if err != nil {
		return fmt.Errorf("scan mode: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("scan mode: encode result: %w", err)
	}
	return nil
}
