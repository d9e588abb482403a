package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veridian-labs/veridian/core/pkg/api"
	"github.com/veridian-labs/veridian/core/pkg/auth"
	"github.com/veridian-labs/veridian/core/pkg/config"
	"github.com/veridian-labs/veridian/core/pkg/database"
	"github.com/veridian-labs/veridian/core/pkg/feedback"
	"github.com/veridian-labs/veridian/core/pkg/fraud"
	"github.com/veridian-labs/veridian/core/pkg/handlers"
	"github.com/veridian-labs/veridian/core/pkg/httpclient"
	"github.com/veridian-labs/veridian/core/pkg/knowledge"
	"github.com/veridian-labs/veridian/core/pkg/memgraph"
	"github.com/veridian-labs/veridian/core/pkg/observability"
	"github.com/veridian-labs/veridian/core/pkg/patterns"
	"github.com/veridian-labs/veridian/core/pkg/regmonitor"
)

// app holds the wired subsystems for the server process and the console.
type app struct {
	settings *config.Settings
	pool     *database.Pool
	engine   *patterns.Engine
	feedback *feedback.System
	monitor  *regmonitor.Monitor
	changes  regmonitor.ChangeStore
	registry *api.Registry
}

func buildApp(settings *config.Settings) (*app, error) {
	pool, err := database.Open(database.Config{
		Driver:         settings.DBDriver,
		DSN:            settings.DSN(),
		MaxConnections: settings.DBMaxConnections,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := pool.Bootstrap(context.Background(), database.Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	ctx := context.Background()
	logger := slog.Default().With("component", "server")

	tokens := auth.NewTokenService(settings.JWTSecret, auth.NewPostgresRefreshStore(pool))
	authService := auth.NewService(auth.NewPostgresUserStore(pool), tokens)

	engine := patterns.NewEngine(patterns.Config{
		MinOccurrences: settings.PatternMinOccurrences,
		MinConfidence:  settings.PatternMinConfidence,
		Retention:      time.Duration(settings.PatternRetentionHours) * time.Hour,
	}, patterns.NewPostgresStore(pool))

	feedbackSystem := feedback.NewSystem(feedback.Config{
		MaxPerEntity:        settings.FeedbackMaxPerEntity,
		Retention:           time.Duration(settings.FeedbackRetentionHours) * time.Hour,
		MinForLearning:      settings.FeedbackMinForLearning,
		ConfidenceThreshold: settings.FeedbackConfidenceThresh,
		RealTimeLearning:    settings.FeedbackRealTimeLearning,
	}, engine, feedback.NewPostgresModelStore(pool))

	rules, err := fraud.NewEngine()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("fraud engine: %w", err)
	}
	if n, err := handlers.LoadFraudRules(ctx, pool, rules); err != nil {
		logger.Warn("load fraud rules", "error", err)
	} else if n > 0 {
		logger.Info("fraud rules loaded", "count", n)
	}

	index := knowledge.NewIndex()
	if n, err := handlers.LoadKnowledgeEntries(ctx, pool, index); err != nil {
		logger.Warn("load knowledge entries", "error", err)
	} else if n > 0 {
		logger.Info("knowledge entries loaded", "count", n)
	}

	graph := memgraph.NewGraph()
	if nodes, edges, err := handlers.LoadMemoryGraph(ctx, pool, graph); err != nil {
		logger.Warn("load memory graph", "error", err)
	} else if nodes > 0 {
		logger.Info("memory graph loaded", "nodes", nodes, "edges", edges)
	}

	changes := regmonitor.NewPostgresChangeStore(pool)
	client := httpclient.New(time.Duration(settings.ScrapeTimeoutSeconds) * time.Second)
	monitor := regmonitor.NewMonitor(regmonitor.Config{
		ScrapeTimeout:    time.Duration(settings.ScrapeTimeoutSeconds) * time.Second,
		FailureThreshold: settings.FailureThreshold,
	}, client, changes, regmonitor.NewPostgresSourceStore(pool), engine)
	if err := monitor.LoadSources(ctx); err != nil {
		logger.Warn("load regulatory sources", "error", err)
	}

	registry := api.NewRegistry(tokens)
	err = handlers.RegisterAll(registry, handlers.Set{
		Auth:         handlers.NewAuthHandlers(authService),
		Decisions:    handlers.NewDecisionHandlers(handlers.NewPostgresDecisionStore(pool)),
		Knowledge:    handlers.NewKnowledgeHandlers(index, pool, nil, knowledge.NewPostgresSessionStore(pool)),
		Memory:       handlers.NewMemoryHandlers(graph, pool),
		Transactions: handlers.NewTransactionHandlers(handlers.NewPostgresTransactionStore(pool), rules, engine),
		FraudRules:   handlers.NewFraudRuleHandlers(rules, pool),
		Patterns:     handlers.NewPatternHandlers(engine, patterns.NewPostgresStore(pool)),
		Regulatory:   handlers.NewRegulatoryHandlers(monitor, changes),
		Feedback:     handlers.NewFeedbackHandlers(feedbackSystem),
		Training:     handlers.NewTrainingHandlers(handlers.NewPostgresTrainingStore(pool), handlers.NewPostgresTrainingStore(pool)),
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("register endpoints: %w", err)
	}
	registry.Seal()

	return &app{
		settings: settings,
		pool:     pool,
		engine:   engine,
		feedback: feedbackSystem,
		monitor:  monitor,
		changes:  changes,
		registry: registry,
	}, nil
}

func runServer(stdout, stderr io.Writer) int {
	store, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "configuration: %v\n", err)
		return 1
	}
	settings, err := store.Resolve()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "configuration: %v\n", err)
		return 1
	}
	observability.InitLogging(settings.LogLevel)
	logger := slog.Default().With("component", "server")

	metrics, err := observability.InitMetrics("veridian")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "metrics: %v\n", err)
		return 1
	}

	a, err := buildApp(settings)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "startup: %v\n", err)
		return 1
	}
	defer a.pool.Close()
	a.engine.OnDiscovered = func(n int) {
		metrics.PatternsDiscovered.Add(context.Background(), int64(n))
	}
	a.feedback.OnModelsUpdated = func(n int) {
		metrics.ModelsUpdated.Add(context.Background(), int64(n))
	}
	a.monitor.OnCycle = func(result regmonitor.CycleResult) {
		metrics.ScrapeCyclesTotal.Add(context.Background(), 1)
		metrics.ChangesInserted.Add(context.Background(), int64(result.Inserted))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.engine.Start(ctx)
	defer a.engine.Stop()
	a.feedback.Start(ctx)
	defer a.feedback.Stop()
	a.monitor.Start(ctx)
	defer a.monitor.Stop()

	var handler http.Handler = a.registry
	inner := handler
	handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.RequestsTotal.Add(r.Context(), 1)
		inner.ServeHTTP(w, r)
	})
	if settings.RedisAddr != "" {
		limiter := api.NewRedisRateLimiter(settings.RedisAddr, 50, 100)
		defer limiter.Close()
		handler = limiter.Middleware(handler)
	} else {
		handler = api.NewIPRateLimiter(50, 100).Middleware(handler)
	}
	handler = api.RequestID(handler)

	srv := &http.Server{
		Addr:              ":" + settings.APIPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening",
			"host", settings.DisplayHost, "port", settings.APIPort)
		errCh <- srv.ListenAndServe()
	}()

	// Operator console on stdin; exits the server on "quit".
	consoleDone := make(chan struct{})
	go func() {
		defer close(consoleDone)
		runConsole(a, os.Stdin, stdout)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case <-consoleDone:
		logger.Info("shutting down", "reason", "console exit")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			return 1
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		return 1
	}
	return 0
}
