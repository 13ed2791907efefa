// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command codelens starts the code-intelligence retrieval engine.
//
// CodeLens answers support-engineer questions about large
// multi-repository codebases: ranked snippets with structural context,
// exception chains, configuration-property impact, and cross-repository
// identifier traces.
//
// Usage:
//
//	go run ./cmd/codelens
//	go run ./cmd/codelens -config /etc/codelens/config.yaml -port 9090
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8085/health
//
//	# List registered tools
//	curl http://localhost:8085/api/v1/mcp/tools | jq
//
//	# Process a query
//	curl -X POST http://localhost:8085/api/v1/mcp/process \
//	  -H "Content-Type: application/json" \
//	  -d '{"query": "what changes if I set spring.datasource.url"}'
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/CodeLens/pkg/logging"
	"github.com/AleutianAI/CodeLens/services/codelens"
	"github.com/AleutianAI/CodeLens/services/codelens/config"
	"github.com/AleutianAI/CodeLens/services/codelens/crossrepo"
	"github.com/AleutianAI/CodeLens/services/codelens/engine"
	"github.com/AleutianAI/CodeLens/services/codelens/executor"
	"github.com/AleutianAI/CodeLens/services/codelens/graph"
	"github.com/AleutianAI/CodeLens/services/codelens/history"
	"github.com/AleutianAI/CodeLens/services/codelens/impact"
	"github.com/AleutianAI/CodeLens/services/codelens/llm"
	"github.com/AleutianAI/CodeLens/services/codelens/routing"
	"github.com/AleutianAI/CodeLens/services/codelens/tools"
	"github.com/AleutianAI/CodeLens/services/codelens/vector"
)

const serviceName = "codelens"

// initTracer sets up the OTLP-gRPC exporter. With no collector endpoint
// configured, tracing stays on the default no-op provider.
func initTracer(logger *slog.Logger) (func(context.Context), error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		logger.Info("OTEL_EXPORTER_OTLP_ENDPOINT unset, tracing disabled")
		return func(context.Context) {}, nil
	}

	ctx := context.Background()
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial OTLP collector: %w", err)
	}
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter)))
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			logger.Error("failed to shut down tracer provider", slog.String("error", err.Error()))
		}
	}, nil
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config (embedded defaults apply when unset)")
	port := flag.Int("port", 0, "Override server port")
	debug := flag.Bool("debug", false, "Enable gin debug mode and debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "codelens: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	level := logging.ParseLevel(cfg.Logging.Level)
	if *debug {
		level = logging.LevelDebug
	}
	appLogger, err := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: serviceName,
		JSON:    cfg.Logging.JSON,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "codelens: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = appLogger.Close() }()
	logger := appLogger.Logger
	slog.SetDefault(logger)

	cleanupTracer, err := initTracer(logger)
	if err != nil {
		logger.Error("tracer init failed, continuing without tracing",
			slog.String("error", err.Error()))
		cleanupTracer = func(context.Context) {}
	}
	defer cleanupTracer(context.Background())

	if err := run(cfg, *debug, logger); err != nil {
		logger.Error("fatal initialization error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// run wires the components and serves until shutdown. It returns an
// error only for fatal initialization problems; runtime tool errors
// never crash the process.
func run(cfg *config.Config, debug bool, logger *slog.Logger) error {
	// LLM clients and the embedding failure registry.
	failureRegistry := llm.NewFailureRegistry(
		cfg.VectorStore.DataDir, cfg.EmbeddingFailures.Threshold, logger)
	if err := failureRegistry.Load(); err != nil {
		logger.Warn("could not load embedding failure records",
			slog.String("error", err.Error()))
	}
	embedder := llm.NewHTTPEmbeddingClient(
		cfg.LLM.EmbeddingURL, cfg.LLM.Model, cfg.LLM.ModelVersion,
		cfg.LLM.AccessKey, failureRegistry, logger)
	chat := llm.NewHTTPChatClient(
		cfg.LLM.ChatURL, cfg.LLM.Model, cfg.LLM.ModelVersion, logger)

	// Vector store. A dimension mismatch with on-disk metadata or an
	// unreadable data dir is fatal by design.
	store := vector.NewStore(vector.Config{
		DataDir:                     cfg.VectorStore.DataDir,
		Dimension:                   cfg.VectorStore.Dimension,
		MaxConnections:              cfg.VectorStore.MaxConnections,
		EfConstruction:              cfg.VectorStore.EfConstruction,
		Ef:                          cfg.VectorStore.Ef,
		EnableContentPathResolution: cfg.VectorStore.EnableContentPathResolution,
		RepositoryRoot:              cfg.VectorStore.RepositoryRoot,
	}, logger)
	if err := store.Load(context.Background()); err != nil {
		return fmt.Errorf("vector store load: %w", err)
	}
	defer func() { _ = store.Close() }()

	// Knowledge graph: load the snapshot if present, rebuild when the
	// snapshot was quarantined and a source root is configured.
	kg := graph.NewKnowledgeGraph()
	snapshotPath := filepath.Join(cfg.KnowledgeGraph.Dir, "knowledge_graph.bin")
	if err := kg.Load(snapshotPath, logger); err != nil {
		logger.Warn("knowledge graph snapshot unusable",
			slog.String("error", err.Error()))
	}
	if entities, _ := kg.Counts(); entities == 0 && cfg.KnowledgeGraph.SourceRoot != "" {
		builder := graph.NewBuilder(kg, logger)
		if _, err := builder.Build(context.Background(), cfg.KnowledgeGraph.SourceRoot, cfg.KnowledgeGraph.Recursive); err != nil {
			logger.Warn("knowledge graph build failed",
				slog.String("error", err.Error()))
		} else if err := kg.Save(snapshotPath); err != nil {
			logger.Warn("knowledge graph save failed",
				slog.String("error", err.Error()))
		}
	}
	kg.MarkAvailable()
	defer func() {
		if err := kg.Save(snapshotPath); err != nil {
			logger.Warn("knowledge graph save on shutdown failed",
				slog.String("error", err.Error()))
		}
	}()

	// Cross-repo search.
	scanner := crossrepo.NewScanner(cfg.CrossRepo.Root, logger)
	defer scanner.Close()
	searcher := crossrepo.NewSearcher(scanner, crossrepo.Config{
		Workers:      cfg.CrossRepo.ThreadPoolSize,
		Deadline:     time.Duration(cfg.CrossRepo.SearchTimeoutSeconds) * time.Second,
		MaxPerRepo:   cfg.CrossRepo.MaxReferencesPerRepo,
		ContextLines: cfg.CrossRepo.ContextLines,
	}, logger)

	// Config-impact analyzer. Defaults to the cross-repo root when no
	// explicit source roots are configured.
	sourceRoots := cfg.Impact.SourceRoots
	if len(sourceRoots) == 0 && cfg.CrossRepo.Root != "" {
		sourceRoots = []string{cfg.CrossRepo.Root}
	}
	analyzer := impact.NewAnalyzer(impact.Config{
		SourceRoots:   sourceRoots,
		ResourcePaths: cfg.Impact.ResourcePaths,
		DisableAST:    cfg.Impact.DisableAST,
	}, logger)

	// Tool registry.
	registry := tools.NewRegistry()
	for _, tool := range []tools.Tool{
		tools.NewVectorSearchTool(store, embedder, logger),
		tools.NewCrossRepoTracerTool(searcher),
		tools.NewConfigImpactTool(analyzer),
		tools.NewCallPathTool(kg),
		tools.NewErrorChainTool(kg, searcher),
	} {
		if err := registry.Register(tool); err != nil {
			return fmt.Errorf("register tool: %w", err)
		}
	}

	// Executor and engine.
	pool := executor.NewPool(executor.PoolConfig{
		Workers:       cfg.MCP.MaxConcurrentExecutions,
		QueueCapacity: cfg.MCP.ThreadPoolQueueCapacity,
	}, logger)
	defer pool.Shutdown()

	stepTimeout := time.Duration(cfg.MCP.ToolExecutionTimeoutSeconds) * time.Second
	if cfg.Hybrid.MaxExecutionTimeSeconds > 0 {
		stepTimeout = time.Duration(cfg.Hybrid.MaxExecutionTimeSeconds) * time.Second
	}
	exec := executor.New(registry, pool, executor.Config{
		MaxAttempts: cfg.MCP.Retry.MaxRetries,
		RetryDelay:  time.Duration(cfg.MCP.Retry.DelayMs) * time.Millisecond,
		Jitter:      true,
		StepTimeout: stepTimeout,
	}, logger)

	classifier := routing.NewClassifier(chat, logger)
	planner := routing.NewPlanner(routing.PlannerConfig{
		EnableDynamicTools: cfg.Hybrid.EnableDynamicTools,
		UseKnowledgeGraph:  cfg.Hybrid.UseKnowledgeGraph,
	})
	eng := engine.New(classifier, planner, exec, kg, registry, engine.Config{
		FallbackToStatic: cfg.Hybrid.FallbackToStatic,
	}, logger)

	// History store.
	var hist history.Store = history.NoopStore{}
	if cfg.Database.Enabled {
		badgerStore, err := history.OpenBadger(cfg.Database.Dir, logger)
		if err != nil {
			return fmt.Errorf("history store: %w", err)
		}
		hist = badgerStore
	}
	defer func() { _ = hist.Close() }()

	// HTTP surface.
	service := codelens.NewService(eng, registry, store, embedder, kg, hist, logger)
	service.MarkReady()

	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	codelens.RegisterRoutes(router, codelens.NewHandlers(service, logger))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("codelens listening", slog.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", slog.String("error", err.Error()))
	}
	return nil
}
