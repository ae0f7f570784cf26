package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/packetchat/internal/server"
)

func main() {
	log.Println("Starting packet chat server...")

	if err := run(); err != nil {
		log.Fatal(err)
	}
	log.Println("Server stopped")
}

func run() error {
	config := server.NewConfigFromEnv()

	srv, err := server.NewServer(config)
	if err != nil {
		return err
	}
	cfg := srv.Config()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, server.ErrServerClosed) {
			return err
		}
		return nil
	})

	var httpServer *http.Server
	if cfg.HTTPPort != "" {
		httpServer = server.CreateServer(cfg.HTTPPort, server.SetupRoutes(srv))
		g.Go(func() error {
			if err := server.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Println("Shutdown signal received")

		if httpServer != nil {
			if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout); err != nil {
				log.Printf("HTTP shutdown: %v", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
