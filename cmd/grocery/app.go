package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mohammedfirdouss/ai-grocery-app/internal/catalog"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/config"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/extraction"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/matching"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/notify"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/payments"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/pipeline"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/queue"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/resilience"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/store"
)

// app holds the wired components shared by the serve and worker commands.
type app struct {
	cfg          *config.Config
	log          *slog.Logger
	store        *store.OrderStore
	queue        *queue.Client
	catalog      *catalog.Catalog
	hub          *notify.Hub
	publisher    *notify.Publisher
	orchestrator *pipeline.Orchestrator
	breakers     map[string]*resilience.Breaker
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func buildApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := newLogger(cfg.Logging)
	slog.SetDefault(log)

	st, err := store.NewOrderStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open order store: %w", err)
	}

	q, err := queue.NewClient(queue.Config{
		URL:      cfg.Broker.URL,
		Exchange: cfg.Broker.Exchange,
	}, log)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to connect broker: %w", err)
	}

	cat, err := catalog.LoadFile(cfg.Catalog.Path)
	if err != nil {
		st.Close()
		q.Close()
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	log.Info("catalog loaded", "products", cat.Len(), "path", cfg.Catalog.Path)

	policy := resilience.RetryPolicy{
		MaxAttempts: cfg.Resilience.MaxAttempts,
		BaseDelay:   cfg.Resilience.BaseDelay,
		MaxDelay:    cfg.Resilience.MaxDelay,
		Jitter:      true,
	}
	breakers := map[string]*resilience.Breaker{
		"extraction": resilience.NewBreaker(cfg.Resilience.BreakerThreshold, cfg.Resilience.BreakerCooldown),
		"payments":   resilience.NewBreaker(cfg.Resilience.BreakerThreshold, cfg.Resilience.BreakerCooldown),
	}

	extractClient := extraction.NewClient(cfg.Extraction.APIKey, cfg.Extraction.BaseURL)
	paymentClient := payments.NewClient(cfg.Payments.SecretKey, cfg.Payments.BaseURL)

	hub := notify.NewHub(log)
	publisher := notify.NewPublisher(log, hub, notify.NewBrokerChannel(q))

	orchestrator := pipeline.New(pipeline.Deps{
		Store:     st,
		Extractor: extractClient,
		Matcher:   matching.NewEngine(matching.DefaultConfig(), matching.DefaultTaxPolicy()),
		Gateway:   paymentClient,
		Notifier:  publisher,
		Catalog:   cat,
		ExtractExec: resilience.NewExecutor("extraction",
			breakers["extraction"], policy, cfg.Extraction.AttemptTimeout, log),
		PaymentExec: resilience.NewExecutor("payments",
			breakers["payments"], policy, cfg.Payments.AttemptTimeout, log),
		Logger: log,
	})

	return &app{
		cfg:          cfg,
		log:          log,
		store:        st,
		queue:        q,
		catalog:      cat,
		hub:          hub,
		publisher:    publisher,
		orchestrator: orchestrator,
		breakers:     breakers,
	}, nil
}

func (a *app) close() {
	// Give in-flight notifications a moment to drain.
	done := make(chan struct{})
	go func() {
		a.publisher.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		a.log.Warn("shutdown with notifications still in flight")
	}

	if err := a.queue.Close(); err != nil {
		a.log.Warn("broker close failed", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", "error", err)
	}
}
