package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/alerting"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/cache"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/circuitbreaker"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/config"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/httpapi"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/llm"
	_ "github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/metrics" // metric registration
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/orchestrator"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/pricing"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/store"
)

func main() {
	ctx := context.Background()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	configPath := getEnvOrDefault("CONFIG_PATH", "./config/orchestrator.yaml")
	cfgMgr, err := config.NewManager(configPath, logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	cfg := cfgMgr.Current()

	// Durable cache tier.
	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	defer redisClient.Close()
	redisWrapper := circuitbreaker.NewRedisWrapper(redisClient, logger)
	if err := redisWrapper.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unreachable at startup, durable cache tier degraded", zap.Error(err))
	}
	cacheSvc := cache.NewService(redisWrapper, cfg.Cache.DefaultTTL, cfg.Cache.SweepInterval, logger)

	// Monitoring ledgers.
	ledger, err := store.NewLedger(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer ledger.Close()
	if err := ledger.EnsureSchema(ctx); err != nil {
		logger.Fatal("Failed to ensure ledger schema", zap.Error(err))
	}

	pricingTable, err := pricing.Load(cfg.Tokens.PricingPath)
	if err != nil {
		logger.Fatal("Failed to load pricing table", zap.Error(err))
	}

	provider, err := llm.NewOpenAIProvider(llm.OpenAIConfig{
		BaseURL:    cfg.Provider.BaseURL,
		Model:      cfg.Provider.Model,
		Timeout:    cfg.Provider.Timeout,
		MaxRetries: cfg.Provider.MaxRetries,
	})
	if err != nil {
		logger.Fatal("Failed to initialize completion provider", zap.Error(err))
	}

	alerter := alerting.New(logger, ledger)

	manager := orchestrator.NewManager(cfg, provider, ledger, cacheSvc, alerter, pricingTable, logger)
	if err := manager.Initialize(ctx); err != nil {
		logger.Fatal("Failed to initialize orchestrator", zap.Error(err))
	}
	defer manager.Shutdown()

	// Hot-swap monitoring intervals and pricing on config change.
	cfgMgr.OnChange(func(event config.ChangeEvent) error {
		manager.HealthMonitor().SetCheckInterval(event.Config.Health.CheckInterval)
		manager.TokenManager().SetSnapshotInterval(event.Config.Tokens.SnapshotInterval)
		if err := pricingTable.Reload(); err != nil {
			logger.Warn("Pricing reload failed, keeping previous rates", zap.Error(err))
		}
		return nil
	})
	if err := cfgMgr.Start(ctx); err != nil {
		logger.Warn("Config hot-reload unavailable", zap.Error(err))
	}
	defer cfgMgr.Stop()

	mux := http.NewServeMux()
	httpapi.NewMessagesHandler(manager, logger).RegisterRoutes(mux)
	if cfg.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := ledger.Ping(r.Context()); err != nil {
			http.Error(w, `{"status":"degraded"}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	port := getEnvOrDefaultInt("HTTP_PORT", 8080)
	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
