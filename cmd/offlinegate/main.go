package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"offlinegate/internal/config"
	"offlinegate/internal/logging"
	"offlinegate/internal/metrics"
	"offlinegate/internal/server"
)

func main() {
	configPath := flag.String("config", "./configs/offlinegate.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.New(cfg.Log.Level)
	metrics.Init()

	rt, err := server.NewBuilder(cfg, logger.With("generation", cfg.Agent.Generation)).Build()
	if err != nil {
		log.Fatalf("build: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", "addr", rt.Server.Addr, "tls", rt.TLS.Enabled, "origin", cfg.Origin.URL)
		var err error
		if rt.TLS.Enabled {
			err = rt.Server.ListenAndServeTLS(rt.TLS.CertFile, rt.TLS.KeyFile)
		} else {
			err = rt.Server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Requests pass through to the origin until activation completes.
	if err := rt.Bootstrap(ctx, cfg.Agent.InstallAttempts, cfg.Agent.InstallRetryDelay); err != nil {
		logger.Error("bootstrap failed, serving passthrough only", "error", err)
	}

	<-ctx.Done()
	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rt.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
