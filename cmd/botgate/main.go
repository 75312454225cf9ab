package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"botgate/internal/config"
	"botgate/internal/gateway"
	"botgate/internal/server"
)

func main() {
	cfgPath := flag.String("config", "configs/botgate.yaml", "Path to gateway configuration file")
	listen := flag.String("listen", "", "Traffic listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}

	logger, err := gateway.NewLogger(cfg.Logging, cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}

	gw, err := gateway.NewWithLogger(*cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise gateway: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	traffic := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           gw,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout.OrDefault(10 * time.Second),
		IdleTimeout:       cfg.Server.IdleTimeout.OrDefault(90 * time.Second),
	}

	var admin *http.Server
	if cfg.Server.AdminListen != "" {
		var lister server.EventLister
		if store := gw.EventStore(); store != nil {
			lister = store
		}
		admin = &http.Server{
			Addr:              cfg.Server.AdminListen,
			Handler:           server.New(gw, lister, logger),
			ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout.OrDefault(10 * time.Second),
		}
	}

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("gateway listening", "addr", traffic.Addr)
		if err := traffic.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if admin != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("admin listening", "addr", admin.Addr)
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("listener failed", "error", err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.OrDefault(15*time.Second))
	defer cancel()
	if err := traffic.Shutdown(shutdownCtx); err != nil {
		logger.Error("traffic shutdown error", "error", err)
	}
	if admin != nil {
		if err := admin.Shutdown(shutdownCtx); err != nil {
			logger.Error("admin shutdown error", "error", err)
		}
	}
	wg.Wait()

	if err := gw.Close(); err != nil {
		logger.Error("gateway close error", "error", err)
	}
	logger.Info("gateway stopped")
}
