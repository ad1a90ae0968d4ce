package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/yungbote/studio-ingest/internal/app"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	application, err := app.New()
	if err != nil {
		fmt.Printf("init app: %v\n", err)
		os.Exit(1)
	}
	if err := application.Start(); err != nil {
		application.Log.Error("start failed", "error", err)
		application.Close()
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- application.Run() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			application.Log.Error("http server stopped", "error", err)
		}
	case s := <-sig:
		application.Log.Info("shutting down", "signal", s.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), application.Cfg.ShutdownTimeout)
	defer cancel()
	if err := application.Shutdown(ctx); err != nil {
		fmt.Printf("shutdown: %v\n", err)
		os.Exit(1)
	}
}
