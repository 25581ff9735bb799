package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yourorg/speedbench/internal/client"
	"github.com/yourorg/speedbench/pkg/types"
)

type fakeOptimizer struct {
	calls   int32
	release chan struct{}
	code    string
	err     error
}

func (f *fakeOptimizer) Optimize(ctx context.Context, source string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", &client.ConnectivityError{URL: "fake", Err: ctx.Err()}
		}
	}
	if f.err != nil {
		return "", f.err
	}
	if f.code != "" {
		return f.code, nil
	}
	return "# parallel\n" + source, nil
}

type fakeExecutor struct {
	calls   int32
	release chan struct{}
	outputs map[types.Mode]types.ExecutionMetric
	err     error

	mu     sync.Mutex
	inputs []client.RunInput
}

func (f *fakeExecutor) Run(ctx context.Context, mode types.Mode, in client.RunInput) (types.ExecutionMetric, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	f.mu.Unlock()
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return types.ExecutionMetric{}, f.err
	}
	return f.outputs[mode], nil
}

type notes struct {
	mu  sync.Mutex
	all []types.Notification
}

func (n *notes) Notify(x types.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.all = append(n.all, x)
}

func (n *notes) last() types.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.all) == 0 {
		return types.Notification{}
	}
	return n.all[len(n.all)-1]
}

func (n *notes) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.all)
}

type memRecorder struct {
	mu   sync.Mutex
	recs []types.BenchmarkRecord
}

func (r *memRecorder) Record(_ context.Context, rec types.BenchmarkRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return nil
}

type memClipboard struct {
	text string
	err  error
}

func (c *memClipboard) ReadText(context.Context) (string, error) { return c.text, c.err }

func (c *memClipboard) WriteText(_ context.Context, text string) error {
	if c.err != nil {
		return c.err
	}
	c.text = text
	return nil
}

func defaultExecutor() *fakeExecutor {
	return &fakeExecutor{outputs: map[types.Mode]types.ExecutionMetric{
		types.ModeSingle:  {ElapsedSeconds: 2.5, ResultSummary: "Result: 42"},
		types.ModeCluster: {ElapsedSeconds: 0.5, ResultSummary: "Result: 42"},
	}}
}

func newTestMachine(opt client.Optimizer, exec client.Executor) (*Machine, *notes, *memRecorder) {
	n := &notes{}
	r := &memRecorder{}
	m := New(opt, exec, Options{Policy: testPolicy, Notifier: n, Recorder: r})
	return m, n, r
}

func TestOptimizeScenario(t *testing.T) {
	m, n, _ := newTestMachine(&fakeOptimizer{}, defaultExecutor())
	m.Edit("print(1)")
	if err := m.Optimize(context.Background()); err != nil {
		t.Fatalf("Optimize error: %v", err)
	}
	s := m.Snapshot()
	if s.Artifact != "# parallel\nprint(1)" || s.Phase() != types.PhaseReady {
		t.Fatalf("unexpected state %+v", s)
	}
	if n.last().Level != types.LevelInfo {
		t.Fatalf("expected success notification, got %+v", n.last())
	}
}

func TestOptimizeRejectsShortSource(t *testing.T) {
	opt := &fakeOptimizer{}
	m, n, _ := newTestMachine(opt, defaultExecutor())
	m.Edit("abc")
	before := m.Snapshot()
	err := m.Optimize(context.Background())
	if !errors.Is(err, ErrSourceTooShort) || !IsPrecondition(err) {
		t.Fatalf("expected precondition error, got %v", err)
	}
	if atomic.LoadInt32(&opt.calls) != 0 {
		t.Fatalf("no call may be made")
	}
	if m.Snapshot() != before {
		t.Fatalf("state must be unchanged")
	}
	if n.last().Level != types.LevelWarning {
		t.Fatalf("expected guidance warning")
	}
}

func TestRunWithoutArtifactMakesNoCall(t *testing.T) {
	exec := defaultExecutor()
	m, _, _ := newTestMachine(&fakeOptimizer{}, exec)
	for _, mode := range []types.Mode{types.ModeSingle, types.ModeCluster} {
		if err := m.Run(context.Background(), mode); !errors.Is(err, ErrNoArtifact) {
			t.Fatalf("expected ErrNoArtifact for %s, got %v", mode, err)
		}
	}
	if atomic.LoadInt32(&exec.calls) != 0 {
		t.Fatalf("expected no network call, got %d", exec.calls)
	}
	s := m.Snapshot()
	if s.RunningSingle || s.RunningCluster {
		t.Fatalf("no busy flag may be set")
	}
}

func TestBothRunsProduceComparisonAndRecord(t *testing.T) {
	m, _, rec := newTestMachine(&fakeOptimizer{}, defaultExecutor())
	m.Edit("print(1)")
	if err := m.Optimize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := m.RunSingle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(rec.recs) != 0 {
		t.Fatalf("no record before both metrics exist")
	}
	if err := m.RunCluster(context.Background()); err != nil {
		t.Fatal(err)
	}
	s := m.Snapshot()
	if s.Comparison == nil || s.Comparison.Speedup != 5 || s.Comparison.Efficiency != 125 {
		t.Fatalf("unexpected comparison %+v", s.Comparison)
	}
	if len(rec.recs) != 1 {
		t.Fatalf("expected one record, got %d", len(rec.recs))
	}
	if rec.recs[0].Artifact != s.Artifact || rec.recs[0].Comparison.WorkerCount != 4 {
		t.Fatalf("unexpected record %+v", rec.recs[0])
	}
}

func TestRunInputCarriesSourceAndArtifact(t *testing.T) {
	exec := defaultExecutor()
	m, _, _ := newTestMachine(&fakeOptimizer{}, exec)
	m.Edit("print(1)")
	_ = m.Optimize(context.Background())
	_ = m.RunSingle(context.Background())
	if len(exec.inputs) != 1 || exec.inputs[0].Source != "print(1)" || exec.inputs[0].Artifact != "# parallel\nprint(1)" {
		t.Fatalf("unexpected run input %+v", exec.inputs)
	}
}

func TestEditAfterRunClearsMetrics(t *testing.T) {
	m, _, _ := newTestMachine(&fakeOptimizer{}, defaultExecutor())
	m.Edit("print(1)")
	_ = m.Optimize(context.Background())
	_ = m.RunSingle(context.Background())
	_ = m.RunCluster(context.Background())
	m.Edit("print(2)")
	m.Edit("print(2)")
	s := m.Snapshot()
	if s.Single.Present() || s.Cluster.Present() || s.Comparison != nil {
		t.Fatalf("edit must clear metrics and comparison")
	}
}

func TestOptimizeBusyIsNoop(t *testing.T) {
	opt := &fakeOptimizer{release: make(chan struct{})}
	m, _, _ := newTestMachine(opt, defaultExecutor())
	m.Edit("print(1)")
	done, err := m.OptimizeAsync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Optimize(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	close(opt.release)
	if err := <-done; err != nil {
		t.Fatalf("async optimize error: %v", err)
	}
	if atomic.LoadInt32(&opt.calls) != 1 {
		t.Fatalf("expected one call, got %d", opt.calls)
	}
}

func TestStaleOptimizeResponseDiscarded(t *testing.T) {
	opt := &fakeOptimizer{release: make(chan struct{})}
	m, _, _ := newTestMachine(opt, defaultExecutor())
	m.Edit("print(1)")
	done, err := m.OptimizeAsync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	m.Edit("print(2)")
	close(opt.release)
	if err := <-done; !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	s := m.Snapshot()
	if s.HasArtifact() || s.Optimizing {
		t.Fatalf("stale response must not store an artifact")
	}
}

func TestStaleRunResponseDiscardedAfterReset(t *testing.T) {
	exec := defaultExecutor()
	m, _, rec := newTestMachine(&fakeOptimizer{}, exec)
	m.Edit("print(1)")
	_ = m.Optimize(context.Background())
	exec.release = make(chan struct{})
	done, err := m.RunAsync(context.Background(), types.ModeSingle)
	if err != nil {
		t.Fatal(err)
	}
	m.Reset()
	close(exec.release)
	if err := <-done; !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	s := m.Snapshot()
	if s.Single.Present() || s.RunningSingle {
		t.Fatalf("stale run must not store a metric, state %+v", s)
	}
	if len(rec.recs) != 0 {
		t.Fatalf("no record expected")
	}
}

func TestOptimizeServiceErrorVerbatim(t *testing.T) {
	opt := &fakeOptimizer{err: &client.ServiceError{Message: "AI Error: quota"}}
	m, n, _ := newTestMachine(opt, defaultExecutor())
	m.Edit("print(1)")
	if err := m.Optimize(context.Background()); !client.IsService(err) {
		t.Fatalf("expected service error, got %v", err)
	}
	if got := n.last(); got.Level != types.LevelError || got.Message != "AI Error: quota" {
		t.Fatalf("unexpected notification %+v", got)
	}
	if s := m.Snapshot(); s.Optimizing || s.HasArtifact() {
		t.Fatalf("failure must clear the flag and keep the artifact unchanged")
	}
}

func TestOptimizeBlankArtifactIsFailure(t *testing.T) {
	opt := &fakeOptimizer{code: "  \n"}
	m, n, _ := newTestMachine(opt, defaultExecutor())
	m.Edit("print(1)")
	if err := m.Optimize(context.Background()); !errors.Is(err, client.ErrEmptyArtifact) {
		t.Fatalf("expected ErrEmptyArtifact, got %v", err)
	}
	if s := m.Snapshot(); s.Optimizing || s.HasArtifact() {
		t.Fatalf("blank reply must not become an artifact, state %+v", s)
	}
	if got := n.last(); got.Level != types.LevelError {
		t.Fatalf("expected error notification, got %+v", got)
	}
}

func TestRunConnectivityFailureAgainstClosedBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	exec := &client.ExecutionClient{BaseURL: url, SinglePath: "/api/run/single", ClusterPath: "/api/run/cluster"}
	m, n, _ := newTestMachine(&fakeOptimizer{}, exec)
	m.Edit("print(1)")
	_ = m.Optimize(context.Background())
	notesBefore := n.count()
	err := m.RunSingle(context.Background())
	if !client.IsConnectivity(err) {
		t.Fatalf("expected connectivity error, got %v", err)
	}
	if n.count() != notesBefore+1 || n.last().Level != types.LevelError {
		t.Fatalf("expected exactly one error notification")
	}
	if m.Snapshot().RunningSingle {
		t.Fatalf("busy flag must clear")
	}
}

func TestRunTimeoutClearsFlag(t *testing.T) {
	opt := &fakeOptimizer{release: make(chan struct{})}
	m := New(opt, defaultExecutor(), Options{Policy: testPolicy, OptimizeTimeout: 20 * time.Millisecond, Notifier: &notes{}})
	m.Edit("print(1)")
	if err := m.Optimize(context.Background()); !client.IsConnectivity(err) {
		t.Fatalf("expected timeout as connectivity error, got %v", err)
	}
	if m.Snapshot().Optimizing {
		t.Fatalf("timeout must clear the busy flag")
	}
}

func TestPasteAndCopy(t *testing.T) {
	m, n, _ := newTestMachine(&fakeOptimizer{}, defaultExecutor())
	cb := &memClipboard{text: "print(99)"}
	if err := m.Paste(context.Background(), cb); err != nil {
		t.Fatal(err)
	}
	if m.Snapshot().Source != "print(99)" {
		t.Fatalf("paste must replace the source")
	}
	if err := m.Paste(context.Background(), &memClipboard{}); err != nil {
		t.Fatal(err)
	}
	if m.Snapshot().Source != "print(99)" {
		t.Fatalf("empty clipboard must leave the source alone")
	}
	if err := m.Copy(context.Background(), cb); !errors.Is(err, ErrNoArtifact) {
		t.Fatalf("expected ErrNoArtifact, got %v", err)
	}
	_ = m.Optimize(context.Background())
	if err := m.Copy(context.Background(), cb); err != nil {
		t.Fatal(err)
	}
	if cb.text != "# parallel\nprint(99)" {
		t.Fatalf("unexpected clipboard %q", cb.text)
	}
	if err := m.Paste(context.Background(), &memClipboard{err: errors.New("denied")}); err == nil {
		t.Fatalf("expected clipboard error")
	}
	if n.last().Level != types.LevelWarning {
		t.Fatalf("expected warning for unavailable clipboard")
	}
}

func TestConcurrentRuns(t *testing.T) {
	exec := defaultExecutor()
	exec.release = make(chan struct{})
	m, _, rec := newTestMachine(&fakeOptimizer{}, exec)
	m.Edit("print(1)")
	_ = m.Optimize(context.Background())

	d1, err := m.RunAsync(context.Background(), types.ModeSingle)
	if err != nil {
		t.Fatal(err)
	}
	d2, err := m.RunAsync(context.Background(), types.ModeCluster)
	if err != nil {
		t.Fatal(err)
	}
	s := m.Snapshot()
	if !s.RunningSingle || !s.RunningCluster {
		t.Fatalf("both runs must be in flight")
	}
	close(exec.release)
	<-d1
	<-d2
	m.Wait()
	if m.Snapshot().Comparison == nil {
		t.Fatalf("expected comparison after both runs")
	}
	if len(rec.recs) != 1 {
		t.Fatalf("expected one record, got %d", len(rec.recs))
	}
}
