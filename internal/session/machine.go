package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/yourorg/speedbench/internal/client"
	"github.com/yourorg/speedbench/pkg/types"
)

// Notifier receives one-shot user-visible messages.
type Notifier interface {
	Notify(n types.Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(types.Notification)

func (f NotifierFunc) Notify(n types.Notification) { f(n) }

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(n types.Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	switch n.Level {
	case types.LevelWarning:
		level = slog.LevelWarn
	case types.LevelError:
		level = slog.LevelError
	}
	logger.Log(context.Background(), level, n.Message, "action", n.Action)
}

// Recorder persists each comparison the session produces.
type Recorder interface {
	Record(ctx context.Context, rec types.BenchmarkRecord) error
}

// Clipboard is the OS clipboard boundary.
type Clipboard interface {
	ReadText(ctx context.Context) (string, error)
	WriteText(ctx context.Context, text string) error
}

// Options configures a Machine. Zero timeouts disable the per-call bound.
type Options struct {
	Policy          Policy
	OptimizeTimeout time.Duration
	RunTimeout      time.Duration
	Notifier        Notifier
	Recorder        Recorder
	Logger          *slog.Logger
}

// Machine owns one session. State is replaced only through Reduce under mu;
// outbound calls run without the lock.
type Machine struct {
	mu    sync.Mutex
	state State

	optimizer client.Optimizer
	executor  client.Executor

	policy          Policy
	optimizeTimeout time.Duration
	runTimeout      time.Duration
	notifier        Notifier
	recorder        Recorder
	logger          *slog.Logger
	now             func() time.Time

	wg sync.WaitGroup
}

// New creates a session in its initial state.
func New(opt client.Optimizer, exec client.Executor, o Options) *Machine {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := o.Notifier
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	return &Machine{
		state:           Initial(o.Policy),
		optimizer:       opt,
		executor:        exec,
		policy:          o.Policy,
		optimizeTimeout: o.OptimizeTimeout,
		runTimeout:      o.RunTimeout,
		notifier:        notifier,
		recorder:        o.Recorder,
		logger:          logger,
		now:             time.Now,
	}
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Policy returns the rules the session was created with.
func (m *Machine) Policy() Policy { return m.policy }

// Wait blocks until every asynchronous call has finished.
func (m *Machine) Wait() { m.wg.Wait() }

func (m *Machine) apply(ev Event) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Reduce(m.state, ev)
	return m.state
}

// Edit replaces the source document.
func (m *Machine) Edit(text string) State {
	return m.apply(Edited{Text: text, ClearArtifact: m.policy.ClearArtifactOnEdit})
}

// Reset returns the session to its initial content. Calls in flight are
// discarded when they complete.
func (m *Machine) Reset() State {
	return m.apply(Reset{Placeholder: m.policy.Placeholder})
}

// Paste replaces the source document with the clipboard text. Empty
// clipboard text leaves the document alone.
func (m *Machine) Paste(ctx context.Context, cb Clipboard) error {
	text, err := cb.ReadText(ctx)
	if err != nil {
		m.notify(types.LevelWarning, "paste", "Clipboard is not available. Paste the text manually.")
		return fmt.Errorf("read clipboard: %w", err)
	}
	if text == "" {
		return nil
	}
	m.Edit(text)
	return nil
}

// Copy writes the optimized artifact to the clipboard.
func (m *Machine) Copy(ctx context.Context, cb Clipboard) error {
	s := m.Snapshot()
	if err := Check(s, ActionCopy, m.policy); err != nil {
		m.reject(ActionCopy, err)
		return err
	}
	if err := cb.WriteText(ctx, s.Artifact); err != nil {
		m.notify(types.LevelError, string(ActionCopy), "Could not write to the clipboard.")
		return fmt.Errorf("write clipboard: %w", err)
	}
	m.notify(types.LevelInfo, string(ActionCopy), "Optimized code copied.")
	return nil
}

type optimizeCall struct {
	source    string
	sourceGen uint64
}

// Optimize sends the current source to the optimizer and stores the
// artifact it returns.
func (m *Machine) Optimize(ctx context.Context) error {
	call, err := m.beginOptimize()
	if err != nil {
		return err
	}
	return m.finishOptimize(ctx, call)
}

// OptimizeAsync checks the guards, then optimizes in the background. The
// channel yields the outcome once and is closed.
func (m *Machine) OptimizeAsync(ctx context.Context) (<-chan error, error) {
	call, err := m.beginOptimize()
	if err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(done)
		done <- m.finishOptimize(ctx, call)
	}()
	return done, nil
}

func (m *Machine) beginOptimize() (optimizeCall, error) {
	m.mu.Lock()
	if err := Check(m.state, ActionOptimize, m.policy); err != nil {
		m.mu.Unlock()
		m.reject(ActionOptimize, err)
		return optimizeCall{}, err
	}
	m.state = Reduce(m.state, OptimizeStarted{})
	call := optimizeCall{source: m.state.Source, sourceGen: m.state.SourceGeneration}
	m.mu.Unlock()
	return call, nil
}

func (m *Machine) finishOptimize(ctx context.Context, call optimizeCall) error {
	callCtx, cancel := withTimeout(ctx, m.optimizeTimeout)
	artifact, err := m.optimizer.Optimize(callCtx, call.source)
	cancel()

	if err == nil && strings.TrimSpace(artifact) == "" {
		err = client.ErrEmptyArtifact
	}

	m.mu.Lock()
	if err != nil {
		m.state = Reduce(m.state, OptimizeFailed{})
		m.mu.Unlock()
		m.notify(types.LevelError, string(ActionOptimize), failureMessage("optimization service", err))
		return fmt.Errorf("optimize: %w", err)
	}
	stale := m.state.SourceGeneration != call.sourceGen
	m.state = Reduce(m.state, OptimizeSucceeded{Artifact: artifact, SourceGeneration: call.sourceGen})
	m.mu.Unlock()

	if stale {
		m.logger.Debug("discarding stale optimize response", "source_generation", call.sourceGen)
		return ErrStale
	}
	m.notify(types.LevelInfo, string(ActionOptimize), "Optimized code is ready. Both runs can start.")
	return nil
}

type runCall struct {
	mode        types.Mode
	input       client.RunInput
	sourceGen   uint64
	artifactGen uint64
}

// Run executes mode against the current artifact and stores its metric.
func (m *Machine) Run(ctx context.Context, mode types.Mode) error {
	call, err := m.beginRun(mode)
	if err != nil {
		return err
	}
	return m.finishRun(ctx, call)
}

// RunSingle runs the single-worker path.
func (m *Machine) RunSingle(ctx context.Context) error { return m.Run(ctx, types.ModeSingle) }

// RunCluster runs the cluster path.
func (m *Machine) RunCluster(ctx context.Context) error { return m.Run(ctx, types.ModeCluster) }

// RunAsync checks the guards, then runs mode in the background.
func (m *Machine) RunAsync(ctx context.Context, mode types.Mode) (<-chan error, error) {
	call, err := m.beginRun(mode)
	if err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(done)
		done <- m.finishRun(ctx, call)
	}()
	return done, nil
}

func (m *Machine) beginRun(mode types.Mode) (runCall, error) {
	if !mode.Valid() {
		return runCall{}, fmt.Errorf("unknown execution mode %q", mode)
	}
	action := RunAction(mode)
	m.mu.Lock()
	if err := Check(m.state, action, m.policy); err != nil {
		m.mu.Unlock()
		m.reject(action, err)
		return runCall{}, err
	}
	m.state = Reduce(m.state, RunStarted{Mode: mode})
	call := runCall{
		mode:        mode,
		input:       client.RunInput{Source: m.state.Source, Artifact: m.state.Artifact},
		sourceGen:   m.state.SourceGeneration,
		artifactGen: m.state.ArtifactGeneration,
	}
	m.mu.Unlock()
	return call, nil
}

func (m *Machine) finishRun(ctx context.Context, call runCall) error {
	action := string(RunAction(call.mode))
	callCtx, cancel := withTimeout(ctx, m.runTimeout)
	metric, err := m.executor.Run(callCtx, call.mode, call.input)
	cancel()

	m.mu.Lock()
	if err != nil {
		m.state = Reduce(m.state, RunFailed{Mode: call.mode})
		m.mu.Unlock()
		m.notify(types.LevelError, action, failureMessage(string(call.mode)+" execution backend", err))
		return fmt.Errorf("run %s: %w", call.mode, err)
	}
	stale := !m.state.Current(call.sourceGen, call.artifactGen)
	before := m.state.Comparison
	m.state = Reduce(m.state, RunSucceeded{
		Mode:               call.mode,
		Metric:             metric,
		SourceGeneration:   call.sourceGen,
		ArtifactGeneration: call.artifactGen,
	})
	after := m.state
	m.mu.Unlock()

	if stale {
		m.logger.Debug("discarding stale run response", "mode", call.mode, "artifact_generation", call.artifactGen)
		return ErrStale
	}
	m.logger.Info("run finished", "mode", call.mode, "elapsed_seconds", metric.ElapsedSeconds, "result", metric.ResultSummary)
	if after.Comparison != nil && after.Comparison != before {
		m.record(ctx, after)
	}
	return nil
}

func (m *Machine) record(ctx context.Context, s State) {
	if m.recorder == nil {
		return
	}
	rec := types.BenchmarkRecord{
		Source:     s.Source,
		Artifact:   s.Artifact,
		Single:     s.Single,
		Cluster:    s.Cluster,
		Comparison: *s.Comparison,
		CreatedAt:  m.now(),
	}
	if err := m.recorder.Record(ctx, rec); err != nil {
		m.logger.Warn("record benchmark failed", "error", err)
	}
}

func (m *Machine) reject(a Action, err error) {
	var pe *PreconditionError
	if errors.As(err, &pe) {
		m.notify(types.LevelWarning, string(a), pe.Message)
	}
}

func (m *Machine) notify(level types.NotificationLevel, action, msg string) {
	m.notifier.Notify(types.Notification{Level: level, Action: action, Message: msg, At: m.now()})
}

// failureMessage shows service errors verbatim and names the backend for
// everything else.
func failureMessage(backend string, err error) string {
	var se *client.ServiceError
	if errors.As(err, &se) {
		return se.Message
	}
	if client.IsConnectivity(err) {
		return fmt.Sprintf("Cannot reach the %s: %v", backend, err)
	}
	return fmt.Sprintf("The %s failed: %v", backend, err)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
