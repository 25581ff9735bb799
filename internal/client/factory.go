package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/yourorg/speedbench/internal/config"
)

// NewOptimizer builds the optimizer selected by cfg.Optimizer.Provider,
// wrapped in a cache when cfg.Optimizer.CacheSize is positive.
func NewOptimizer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Optimizer, error) {
	var opt Optimizer
	switch cfg.Optimizer.Provider {
	case "http":
		opt = &OptimizationClient{
			BaseURL:    cfg.Optimizer.BaseURL,
			Path:       cfg.Optimizer.Path,
			Variant:    cfg.Optimizer.Variant,
			MaxRetries: cfg.Optimizer.MaxRetries,
			HTTPClient: &http.Client{},
			Logger:     logger,
		}
	case "gemini":
		g, err := NewGeminiOptimizer(ctx, cfg.Optimizer.APIKey, cfg.Optimizer.Models, cfg.Cluster.WorkerCount)
		if err != nil {
			return nil, err
		}
		g.Logger = logger
		opt = g
	default:
		return nil, fmt.Errorf("optimizer provider %q not supported", cfg.Optimizer.Provider)
	}
	if cfg.Optimizer.CacheSize > 0 {
		cached, err := NewCachingOptimizer(opt, cfg.Optimizer.CacheSize)
		if err != nil {
			return nil, err
		}
		cached.Logger = logger
		opt = cached
	}
	return opt, nil
}

// NewExecutor builds the HTTP execution client from cfg.
func NewExecutor(cfg *config.Config, logger *slog.Logger) *ExecutionClient {
	return &ExecutionClient{
		BaseURL:     cfg.Executor.BaseURL,
		SinglePath:  cfg.Executor.SinglePath,
		ClusterPath: cfg.Executor.ClusterPath,
		Variant:     cfg.Executor.Variant,
		WorkerCount: cfg.Cluster.WorkerCount,
		HTTPClient:  &http.Client{},
		Logger:      logger,
	}
}
