package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yourorg/speedbench/pkg/types"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dsn); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One writer keeps id allocation and insert atomic.
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.Init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Init() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return err
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS benchmarks (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			artifact TEXT NOT NULL,
			single_seconds REAL NOT NULL,
			cluster_seconds REAL NOT NULL,
			worker_count INTEGER NOT NULL,
			speedup REAL NOT NULL,
			efficiency REAL NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS benchmark_runs (
			benchmark_id TEXT NOT NULL,
			mode TEXT NOT NULL,
			result_summary TEXT NOT NULL,
			elapsed_seconds REAL NOT NULL,
			worker_count INTEGER NOT NULL DEFAULT 0,
			raw_output TEXT NOT NULL DEFAULT '',
			PRIMARY KEY(benchmark_id, mode)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_benchmarks_created ON benchmarks(created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) SaveBenchmark(ctx context.Context, rec *types.BenchmarkRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	id, err := nextBenchmarkID(ctx, tx, rec.CreatedAt)
	if err != nil {
		return err
	}
	c := rec.Comparison
	if _, err := tx.ExecContext(ctx, `INSERT INTO benchmarks(id,source,artifact,single_seconds,cluster_seconds,worker_count,speedup,efficiency,created_at) VALUES(?,?,?,?,?,?,?,?,?)`,
		id, rec.Source, rec.Artifact, c.SingleSeconds, c.ClusterSeconds, c.WorkerCount, c.Speedup, c.Efficiency, rec.CreatedAt); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO benchmark_runs(benchmark_id,mode,result_summary,elapsed_seconds,worker_count,raw_output) VALUES(?,?,?,?,?,?)
	ON CONFLICT(benchmark_id,mode) DO UPDATE SET result_summary=excluded.result_summary,elapsed_seconds=excluded.elapsed_seconds,worker_count=excluded.worker_count,raw_output=excluded.raw_output`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, m := range []types.ExecutionMetric{rec.Single, rec.Cluster} {
		if _, err := stmt.ExecContext(ctx, id, string(m.Mode), m.ResultSummary, m.ElapsedSeconds, m.WorkerCount, m.Raw); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	rec.ID = id
	return nil
}

func nextBenchmarkID(ctx context.Context, tx *sql.Tx, now time.Time) (string, error) {
	prefix := benchmarkIDPrefix(now.Format("20060102"))
	rows, err := tx.QueryContext(ctx, `SELECT id FROM benchmarks WHERE id LIKE ?`, prefix+"%")
	if err != nil {
		return "", err
	}
	defer rows.Close()
	maxN := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		var n int
		_, _ = fmt.Sscanf(id, prefix+"%03d", &n)
		if n > maxN {
			maxN = n
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%03d", prefix, maxN+1), nil
}

func (s *SQLiteStore) GetBenchmark(ctx context.Context, id string) (*types.BenchmarkRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,source,artifact,single_seconds,cluster_seconds,worker_count,speedup,efficiency,created_at FROM benchmarks WHERE id=?`, id)
	rec, err := scanBenchmark(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadRuns(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLiteStore) ListBenchmarks(ctx context.Context, limit int) ([]types.BenchmarkRecord, error) {
	q := `SELECT id,source,artifact,single_seconds,cluster_seconds,worker_count,speedup,efficiency,created_at FROM benchmarks ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	out := make([]types.BenchmarkRecord, 0)
	for rows.Next() {
		rec, err := scanBenchmark(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for i := range out {
		if err := s.loadRuns(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStore) DeleteBenchmark(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM benchmark_runs WHERE benchmark_id=?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM benchmarks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return errors.New("store is nil")
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBenchmark(row rowScanner) (*types.BenchmarkRecord, error) {
	var rec types.BenchmarkRecord
	c := &rec.Comparison
	if err := row.Scan(&rec.ID, &rec.Source, &rec.Artifact, &c.SingleSeconds, &c.ClusterSeconds, &c.WorkerCount, &c.Speedup, &c.Efficiency, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Single = types.EmptyMetric(types.ModeSingle)
	rec.Cluster = types.EmptyMetric(types.ModeCluster)
	return &rec, nil
}

func (s *SQLiteStore) loadRuns(ctx context.Context, rec *types.BenchmarkRecord) error {
	rows, err := s.db.QueryContext(ctx, `SELECT mode,result_summary,elapsed_seconds,worker_count,raw_output FROM benchmark_runs WHERE benchmark_id=?`, rec.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var m types.ExecutionMetric
		var mode string
		if err := rows.Scan(&mode, &m.ResultSummary, &m.ElapsedSeconds, &m.WorkerCount, &m.Raw); err != nil {
			return err
		}
		m.Mode = types.Mode(mode)
		switch m.Mode {
		case types.ModeSingle:
			rec.Single = m
		case types.ModeCluster:
			rec.Cluster = m
		}
	}
	return rows.Err()
}
