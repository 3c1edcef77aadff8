package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cardprices/internal/config"
	"cardprices/internal/ingest"
	"cardprices/internal/logger"

	"go.uber.org/zap"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitAborted = 2
)

func main() {
	serve := flag.Bool("serve", false, "Serve the HTTP trigger instead of running once")
	flag.Parse()

	os.Exit(run(*serve))
}

func run(serve bool) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitFailed
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return exitFailed
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", zap.Error(err))
		return exitFailed
	}
	defer a.Close()

	if serve {
		if err := a.serve(ctx); err != nil {
			log.Error("server error", zap.Error(err))
			return exitFailed
		}
		return exitOK
	}

	release, err := a.locker.TryLock(ctx, ingest.LockName)
	if err != nil {
		log.Error("cannot acquire run lock", zap.Error(err))
		return exitFailed
	}
	defer release()

	sum, err := a.runOnce(ctx)
	return exitCode(sum, err)
}

func exitCode(sum ingest.Summary, err error) int {
	switch {
	case err == nil:
		return exitOK
	case sum.State == ingest.StateAborted:
		return exitAborted
	default:
		return exitFailed
	}
}

func (a *app) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           a.routes(ctx),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		// Trigger requests are held open for the whole run.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
		// Shutdown signals reach in-flight runs through their request context.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("starting server", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
