package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammedfirdouss/ai-grocery-app/internal/pipeline"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/web"
)

func serveCmd() *cobra.Command {
	var withWorkers bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (optionally with embedded pipeline workers)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(withWorkers)
		},
	}
	cmd.Flags().BoolVar(&withWorkers, "workers", true, "run pipeline workers in-process")
	return cmd
}

func runServe(withWorkers bool) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if withWorkers {
		pool := pipeline.NewWorkerPool(a.orchestrator, a.log)
		if err := pool.Start(ctx, a.queue, a.cfg.Workers.Count); err != nil {
			return err
		}
	}

	server := web.NewServer(web.Deps{
		Store:    a.store,
		Queue:    a.queue,
		Service:  a.orchestrator,
		Notifier: a.publisher,
		Hub:      a.hub,
		Breakers: a.breakers,
		Health: []web.HealthCheck{
			{Name: "store", Check: a.store.Ping},
			{Name: "broker", Check: func(ctx context.Context) error {
				if !a.queue.Healthy() {
					return errors.New("broker connection closed")
				}
				return nil
			}},
		},
		WebhookSecret: a.cfg.Payments.WebhookSecret,
		Logger:        a.log,
	})

	httpServer := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", "addr", a.cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
