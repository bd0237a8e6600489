package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mohammedfirdouss/ai-grocery-app/internal/pipeline"
)

func workerCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run pipeline workers without the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkers(count)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "worker count (0 = from config)")
	return cmd
}

func runWorkers(count int) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	if count <= 0 {
		count = a.cfg.Workers.Count
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := pipeline.NewWorkerPool(a.orchestrator, a.log)
	if err := pool.Start(ctx, a.queue, count); err != nil {
		return err
	}

	<-ctx.Done()
	a.log.Info("shutting down workers")
	return nil
}
