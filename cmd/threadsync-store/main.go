// Package main provides the entry point for the reference
// thread-persistence service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/txn2/threadsync/internal/server"
	"github.com/txn2/threadsync/pkg/platform"
)

const shutdownGrace = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var address string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&address, "address", "", "Listen address (overrides config)")
	flag.Parse()

	if configPath == "" {
		return fmt.Errorf("a -config file is required")
	}

	cfg, err := platform.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if address != "" {
		cfg.Server.Address = address
	}

	srv, store, err := server.NewStore(cfg)
	if err != nil {
		return fmt.Errorf("creating store service: %w", err)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	}
}
