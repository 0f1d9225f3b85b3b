package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gyaneshwarpardhi/rolegrant/internal/api"
	"github.com/gyaneshwarpardhi/rolegrant/internal/checkout"
	"github.com/gyaneshwarpardhi/rolegrant/internal/classify"
	"github.com/gyaneshwarpardhi/rolegrant/internal/config"
	"github.com/gyaneshwarpardhi/rolegrant/internal/identity"
	"github.com/gyaneshwarpardhi/rolegrant/internal/reconciler"
	"github.com/gyaneshwarpardhi/rolegrant/internal/retry"
	"github.com/gyaneshwarpardhi/rolegrant/internal/signature"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	cfgPath := flag.String("config", "configs/rolegrant.yaml", "Path to YAML config")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := loader.Config()
	if err := config.Validate(cfg); err != nil {
		slog.Error("config validation failed", "err", err)
		os.Exit(1)
	}

	// ── Build pipeline ────────────────────────────────────────────────────────
	rec, co, err := build(cfg, logger)
	if err != nil {
		slog.Error("failed to build pipeline", "err", err)
		os.Exit(1)
	}
	slog.Info("pipeline built",
		"admin_endpoint", cfg.Identity.AdminEndpoint,
		"grant_roles", cfg.Identity.GrantRoles,
		"max_attempts", cfg.Retry.MaxAttempts,
	)

	handler := api.New(rec, co)

	// ── Hot-reload watcher ────────────────────────────────────────────────────
	loader.OnChange(func(newCfg *config.Config) {
		if err := config.Validate(newCfg); err != nil {
			slog.Warn("hot-reload skipped: config invalid", "err", err)
			return
		}
		newRec, newCo, err := build(newCfg, logger)
		if err != nil {
			slog.Warn("hot-reload skipped: pipeline build failed", "err", err)
			return
		}
		handler.Swap(newRec, newCo)
		slog.Info("pipeline hot-reloaded")
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 3 * time.Minute, // a full retry run may sleep through several backoffs
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	slog.Info("goodbye")
}

// build assembles the reconciliation pipeline and the checkout client from a
// validated config.
func build(cfg *config.Config, logger *slog.Logger) (*reconciler.Reconciler, *checkout.Client, error) {
	verifier, err := signature.NewVerifier(cfg.Webhook.SigningSecret,
		signature.WithTolerance(cfg.Webhook.Tolerance()))
	if err != nil {
		return nil, nil, fmt.Errorf("verifier: %w", err)
	}

	classifier, err := classify.New(cfg.Identity.GrantRoles)
	if err != nil {
		return nil, nil, fmt.Errorf("classifier: %w", err)
	}

	tokens, err := identity.NewAdminJWTProvider(cfg.Identity.AdminSecret,
		identity.WithTokenTTL(cfg.Identity.TokenTTL()))
	if err != nil {
		return nil, nil, fmt.Errorf("token provider: %w", err)
	}
	store, err := identity.NewClient(identity.BaseEndpointResolver(cfg.Identity.AdminEndpoint), tokens)
	if err != nil {
		return nil, nil, fmt.Errorf("identity client: %w", err)
	}

	controller, err := retry.New(retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay(),
		MaxDelay:    cfg.Retry.MaxDelay(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("retry controller: %w", err)
	}

	co, err := checkout.NewClient(cfg.Checkout.SecretKey, cfg.Checkout.SiteURL,
		checkout.WithBaseURL(cfg.Checkout.ProviderBaseURL))
	if err != nil {
		return nil, nil, fmt.Errorf("checkout client: %w", err)
	}

	return reconciler.New(verifier, classifier, store, controller, logger), co, nil
}
