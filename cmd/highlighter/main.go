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
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Adithya-Monish-Kumar-K/search-highlighter/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/internal/highlighter"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/internal/highlighter/cache"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/internal/highlighter/handler"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/internal/highlighter/store"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/search-highlighter/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging)
	slog.Info("starting highlight service",
		"port", cfg.Server.Port,
		"max_passages", cfg.Highlight.MaxPassages,
		"concurrency", cfg.Highlight.Concurrency,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, reg)
		defer shutdownMetrics(context.Background())
	}

	checker := health.NewChecker()

	var docs handler.DocumentStore
	pg, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, stored-document highlights disabled", "error", err)
	} else {
		defer pg.Close()
		if err := pg.Migrate(ctx, store.Schema); err != nil {
			slog.Error("failed to migrate document schema", "error", err)
			os.Exit(1)
		}
		docs = store.NewPostgres(pg.DB)
		checker.Register("postgres", health.PingCheck(pg))
		slog.Info("document store enabled", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	}

	var highlightCache *cache.HighlightCache
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, highlight caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		compression, err := cache.ParseCompression(cfg.Redis.Compression)
		if err != nil {
			slog.Error("invalid cache configuration", "error", err)
			os.Exit(1)
		}
		highlightCache = cache.New(redisClient, cfg.Redis.CacheTTL, cache.WithCompression(compression))
		checker.RegisterOptional("redis", health.PingCheck(redisClient))
		slog.Info("highlight cache enabled",
			"addr", cfg.Redis.Addr,
			"ttl", cfg.Redis.CacheTTL,
			"compression", compression,
		)
	}

	aggregator := analytics.NewAggregator()
	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
	defer producer.Close()
	collector := analytics.NewCollector(producer, aggregator, 10000, 100, 5*time.Second)
	collector.Start(ctx)
	defer collector.Close()
	slog.Info("analytics collector started", "topic", cfg.Kafka.Topics.AnalyticsEvents)

	if highlightCache != nil {
		invalidations := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.CacheInvalidate, analytics.InvalidationHandler(highlightCache))
		go func() {
			if err := invalidations.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("cache invalidation consumer stopped", "error", err)
			}
		}()
		slog.Info("cache invalidation consumer started", "topic", cfg.Kafka.Topics.CacheInvalidate)
	}

	hl := highlighter.New(cfg.Highlight)
	h := handler.New(hl, docs, highlightCache, collector, m, cfg.Highlight.MaxBatch)
	if docs != nil {
		invalidationProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.CacheInvalidate)
		defer invalidationProducer.Close()
		h.PublishInvalidations(invalidationProducer)
	}

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /api/v1/analytics", aggregator.StatsHandler)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	if rl := cfg.Server.RateLimit; rl.RequestsPerSecond > 0 {
		limiter := middleware.NewLimiter(rl.RequestsPerSecond, rl.Burst, rl.IdleTimeout)
		go sweepLimiter(ctx, limiter, rl.IdleTimeout)
		chain = middleware.RateLimit(limiter)(chain)
		slog.Info("rate limiting enabled", "rps", rl.RequestsPerSecond, "burst", rl.Burst)
	}
	if len(cfg.Server.AllowOrigins) > 0 {
		chain = middleware.CORS(cfg.Server.AllowOrigins)(chain)
	}
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("highlight service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("highlight service stopped")
}

func sweepLimiter(ctx context.Context, l *middleware.Limiter, every time.Duration) {
	if every <= 0 {
		every = 10 * time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				slog.Debug("idle rate limiters dropped", "count", n)
			}
		}
	}
}
