package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yourorg/speedbench/pkg/types"
)

const (
	redisKeyPrefix = "speedbench:benchmark:"
	redisIndexKey  = "speedbench:benchmarks"
	redisSeqPrefix = "speedbench:seq:"
	redisSeqTTL    = 48 * time.Hour
)

// RedisStore keeps each record as JSON under its own key and orders them
// in a sorted set scored by creation time.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, addr string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) SaveBenchmark(ctx context.Context, rec *types.BenchmarkRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()

	date := rec.CreatedAt.Format("20060102")
	seqKey := redisSeqPrefix + date
	n, err := s.client.Incr(ctx, seqKey).Result()
	if err != nil {
		return err
	}
	if n == 1 {
		_ = s.client.Expire(ctx, seqKey, redisSeqTTL).Err()
	}
	rec.ID = fmt.Sprintf("%s%03d", benchmarkIDPrefix(date), n)

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisKeyPrefix+rec.ID, data, 0)
		pipe.ZAdd(ctx, redisIndexKey, redis.Z{Score: float64(rec.CreatedAt.UnixNano()), Member: rec.ID})
		return nil
	})
	return err
}

func (s *RedisStore) GetBenchmark(ctx context.Context, id string) (*types.BenchmarkRecord, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec types.BenchmarkRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode benchmark %s: %w", id, err)
	}
	return &rec, nil
}

func (s *RedisStore) ListBenchmarks(ctx context.Context, limit int) ([]types.BenchmarkRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRevRange(ctx, redisIndexKey, 0, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]types.BenchmarkRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetBenchmark(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (s *RedisStore) DeleteBenchmark(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, redisKeyPrefix+id)
		pipe.ZRem(ctx, redisIndexKey, id)
		return nil
	})
	if err != nil {
		return err
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
