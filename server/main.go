package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wisp/server/internal/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run wires the process together: config, logger, metrics, hub, rate
// limiter, and HTTP server, then blocks until a termination signal drains
// the whole stack.
func run() error {
	cfg := loadConfig()

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	m := metrics.New()
	hub := newHub(logger, m)
	limiter := newRateLimiter(5, time.Minute)

	srv := &server{
		cfg:     cfg,
		hub:     hub,
		limiter: limiter,
		started: time.Now(),
	}

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv.routes(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hubCtx, cancelHub := context.WithCancel(context.Background())
	defer cancelHub()

	go hub.run(hubCtx)
	go limiter.cleanupLoop(hubCtx)

	serveErr := make(chan error, 1)
	go func() {
		logger.Infow("listening", "addr", httpServer.Addr, "version", version, "env", cfg.Env)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Infow("shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("http shutdown did not complete cleanly", "err", err)
	}

	cancelHub()
	<-serveErr
	return nil
}
