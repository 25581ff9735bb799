package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yourorg/speedbench/pkg/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "speedbench.db"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func sampleRecord(at time.Time) *types.BenchmarkRecord {
	return &types.BenchmarkRecord{
		Source:   "print(1)",
		Artifact: "# parallel\nprint(1)",
		Single:   types.ExecutionMetric{Mode: types.ModeSingle, ElapsedSeconds: 2.5, ResultSummary: "Result: 42", Raw: "Time taken: 2.5000 seconds\nResult: 42"},
		Cluster:  types.ExecutionMetric{Mode: types.ModeCluster, ElapsedSeconds: 0.5, ResultSummary: "Result: 42", WorkerCount: 4},
		Comparison: types.BenchmarkComparison{
			SingleSeconds: 2.5, ClusterSeconds: 0.5, WorkerCount: 4, Speedup: 5, Efficiency: 125,
		},
		CreatedAt: at,
	}
}

func TestBenchmarkCRUD(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	rec := sampleRecord(at)
	if err := s.SaveBenchmark(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if rec.ID != "bench_20260314_001" {
		t.Fatalf("unexpected id %s", rec.ID)
	}
	got, err := s.GetBenchmark(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Comparison.Speedup != 5 || got.Single.Raw == "" || got.Cluster.WorkerCount != 4 {
		t.Fatalf("unexpected record %+v", got)
	}
	if !got.CreatedAt.Equal(at) {
		t.Fatalf("unexpected created_at %s", got.CreatedAt)
	}

	second := sampleRecord(at.Add(time.Minute))
	if err := s.SaveBenchmark(ctx, second); err != nil {
		t.Fatal(err)
	}
	if second.ID != "bench_20260314_002" {
		t.Fatalf("unexpected second id %s", second.ID)
	}
	list, err := s.ListBenchmarks(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != second.ID {
		t.Fatalf("expected newest first, got %+v", list)
	}
	if list, _ := s.ListBenchmarks(ctx, 1); len(list) != 1 {
		t.Fatalf("limit not applied")
	}

	if err := s.DeleteBenchmark(ctx, rec.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetBenchmark(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteBenchmark(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestRecorderAssignsID(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	r := Recorder{Store: s}
	if err := r.Record(context.Background(), *sampleRecord(time.Now())); err != nil {
		t.Fatal(err)
	}
	list, err := s.ListBenchmarks(context.Background(), 0)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one record, got %d err=%v", len(list), err)
	}
	if !strings.HasPrefix(list[0].ID, "bench_") {
		t.Fatalf("unexpected id %s", list[0].ID)
	}
}

func TestConcurrentSaves(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()
	now := time.Now()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.SaveBenchmark(ctx, sampleRecord(now))
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ListBenchmarks(ctx, 0)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	list, err := s.ListBenchmarks(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, r := range list {
		if seen[r.ID] {
			t.Fatalf("duplicate id %s", r.ID)
		}
		seen[r.ID] = true
	}
	if len(list) != 10 {
		t.Fatalf("expected 10 records, got %d", len(list))
	}
}
