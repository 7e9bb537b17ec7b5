package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/parcelkit/address-verifier-go/internal/batch"
	"github.com/parcelkit/address-verifier-go/internal/config"
	"github.com/parcelkit/address-verifier-go/internal/metrics"
	"github.com/parcelkit/address-verifier-go/internal/policy"
	"github.com/parcelkit/address-verifier-go/internal/server"
	"github.com/parcelkit/address-verifier-go/internal/verifier"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatal("failed to load config", "error", err)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.AppLogLevel,
	})))

	m := metrics.New()
	chain := verifier.ChainFromConfig(cfg, m)
	runner := batch.NewRunner(chain, cfg)

	var engine *policy.Engine
	if cfg.AppPolicyPath != "" {
		engine, err = policy.Load(context.Background(), cfg.AppPolicyPath)
		if err != nil {
			log.Fatal("failed to load acceptance policy", "path", cfg.AppPolicyPath, "error", err)
		}
	}

	srv := &http.Server{
		Addr:              cfg.AppListenAddr,
		Handler:           server.New(chain, runner, engine).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("address verifier listening",
			"addr", cfg.AppListenAddr,
			"usps_configured", cfg.USPSConfigured(),
			"smarty_configured", cfg.SmartyConfigured(),
			"policy", cfg.AppPolicyPath != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", "error", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown did not complete cleanly", "error", err)
	}
}
