package client

import (
	"context"
	"errors"
	"testing"
)

type countingOptimizer struct {
	calls int
	err   error
}

func (c *countingOptimizer) Optimize(_ context.Context, source string) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return "# parallel\n" + source, nil
}

func TestCachingOptimizerHit(t *testing.T) {
	next := &countingOptimizer{}
	c, err := NewCachingOptimizer(next, 8)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		code, err := c.Optimize(context.Background(), "print(1)")
		if err != nil {
			t.Fatal(err)
		}
		if code != "# parallel\nprint(1)" {
			t.Fatalf("unexpected code %q", code)
		}
	}
	if next.calls != 1 {
		t.Fatalf("expected 1 backend call, got %d", next.calls)
	}
	if _, err := c.Optimize(context.Background(), "print(2)"); err != nil {
		t.Fatal(err)
	}
	if next.calls != 2 {
		t.Fatalf("expected a miss for new source, got %d calls", next.calls)
	}
}

func TestCachingOptimizerDoesNotCacheErrors(t *testing.T) {
	next := &countingOptimizer{err: errors.New("boom")}
	c, err := NewCachingOptimizer(next, 8)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = c.Optimize(context.Background(), "print(1)")
	_, _ = c.Optimize(context.Background(), "print(1)")
	if next.calls != 2 {
		t.Fatalf("expected errors to bypass the cache, got %d calls", next.calls)
	}
}

func TestNewCachingOptimizerRejectsZeroSize(t *testing.T) {
	if _, err := NewCachingOptimizer(&countingOptimizer{}, 0); err == nil {
		t.Fatalf("expected error for zero size")
	}
}
