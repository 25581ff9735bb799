// Package store persists benchmark history.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/yourorg/speedbench/internal/config"
	"github.com/yourorg/speedbench/pkg/types"
)

// ErrNotFound is returned for an unknown benchmark id.
var ErrNotFound = errors.New("benchmark not found")

type Store interface {
	// SaveBenchmark assigns rec an id of the form bench_YYYYMMDD_NNN and stores it.
	SaveBenchmark(ctx context.Context, rec *types.BenchmarkRecord) error
	GetBenchmark(ctx context.Context, id string) (*types.BenchmarkRecord, error)
	// ListBenchmarks returns the newest records first; limit <= 0 means all.
	ListBenchmarks(ctx context.Context, limit int) ([]types.BenchmarkRecord, error)
	DeleteBenchmark(ctx context.Context, id string) error

	Close() error
}

// Open returns the store selected by cfg.Driver. Driver "none" yields nil.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "redis":
		return NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisDB)
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("store driver %q not supported", cfg.Driver)
	}
}

// Recorder saves every comparison a session produces.
type Recorder struct {
	Store  Store
	Logger *slog.Logger
}

func (r Recorder) Record(ctx context.Context, rec types.BenchmarkRecord) error {
	if err := r.Store.SaveBenchmark(ctx, &rec); err != nil {
		return fmt.Errorf("save benchmark: %w", err)
	}
	if r.Logger != nil {
		r.Logger.Info("benchmark recorded", "id", rec.ID, "speedup", rec.Comparison.Speedup)
	}
	return nil
}

func benchmarkIDPrefix(date string) string {
	return "bench_" + date + "_"
}
