// Package session holds the benchmarking session: the source document, the
// optimized artifact, both execution metrics and the derived comparison.
//
// State is an immutable value. Every change goes through Reduce, so each
// transition can be tested without a live backend. Machine owns one State
// and performs the outbound calls.
package session

import (
	"strings"
	"unicode/utf8"

	"github.com/yourorg/speedbench/internal/bench"
	"github.com/yourorg/speedbench/internal/config"
	"github.com/yourorg/speedbench/pkg/types"
)

// State is one snapshot of a session.
type State struct {
	Source     string                     `json:"source"`
	Artifact   string                     `json:"artifact,omitempty"`
	Single     types.ExecutionMetric      `json:"single"`
	Cluster    types.ExecutionMetric      `json:"cluster"`
	Comparison *types.BenchmarkComparison `json:"comparison,omitempty"`

	Optimizing     bool `json:"optimizing"`
	RunningSingle  bool `json:"running_single"`
	RunningCluster bool `json:"running_cluster"`

	// WorkerCount is the configured cluster size, used when the cluster
	// backend does not report its own.
	WorkerCount int `json:"worker_count"`

	SourceGeneration   uint64 `json:"source_generation"`
	ArtifactGeneration uint64 `json:"artifact_generation"`
}

// Initial returns the state of a fresh session.
func Initial(p Policy) State {
	return State{
		Source:      p.Placeholder,
		Single:      types.EmptyMetric(types.ModeSingle),
		Cluster:     types.EmptyMetric(types.ModeCluster),
		WorkerCount: p.WorkerCount,
	}
}

// HasArtifact reports whether an optimized artifact exists.
func (s State) HasArtifact() bool { return s.Artifact != "" }

// Phase returns the primary state. Runs are reported by their own flags.
func (s State) Phase() types.Phase {
	switch {
	case s.Optimizing:
		return types.PhaseOptimizing
	case s.HasArtifact():
		return types.PhaseReady
	default:
		return types.PhaseIdle
	}
}

// Running reports whether mode has a call in flight.
func (s State) Running(mode types.Mode) bool {
	if mode == types.ModeCluster {
		return s.RunningCluster
	}
	return s.RunningSingle
}

// Metric returns the slot of mode.
func (s State) Metric(mode types.Mode) types.ExecutionMetric {
	if mode == types.ModeCluster {
		return s.Cluster
	}
	return s.Single
}

// Event is an input of Reduce.
type Event interface{ event() }

type (
	// Edited replaces the source document.
	Edited struct {
		Text          string
		ClearArtifact bool
	}
	// Reset returns the session to its initial content.
	Reset struct{ Placeholder string }
	// OptimizeStarted marks an optimize call in flight.
	OptimizeStarted struct{}
	// OptimizeSucceeded delivers an artifact computed from the source at
	// SourceGeneration.
	OptimizeSucceeded struct {
		Artifact         string
		SourceGeneration uint64
	}
	// OptimizeFailed ends an optimize call without an artifact.
	OptimizeFailed struct{}
	// RunStarted marks a run of Mode in flight.
	RunStarted struct{ Mode types.Mode }
	// RunSucceeded delivers a metric issued under the given generations.
	RunSucceeded struct {
		Mode               types.Mode
		Metric             types.ExecutionMetric
		SourceGeneration   uint64
		ArtifactGeneration uint64
	}
	// RunFailed ends a run of Mode without a metric.
	RunFailed struct{ Mode types.Mode }
)

func (Edited) event()            {}
func (Reset) event()             {}
func (OptimizeStarted) event()   {}
func (OptimizeSucceeded) event() {}
func (OptimizeFailed) event()    {}
func (RunStarted) event()        {}
func (RunSucceeded) event()      {}
func (RunFailed) event()         {}

// Reduce applies ev to s and returns the next state. Responses issued under
// a generation that is no longer current only clear their busy flag.
func Reduce(s State, ev Event) State {
	switch e := ev.(type) {
	case Edited:
		s.Source = e.Text
		s.SourceGeneration++
		s = clearResults(s)
		if e.ClearArtifact && s.HasArtifact() {
			s.Artifact = ""
			s.ArtifactGeneration++
		}
	case Reset:
		s.Source = e.Placeholder
		s.Artifact = ""
		s.SourceGeneration++
		s.ArtifactGeneration++
		s = clearResults(s)
	case OptimizeStarted:
		s.Optimizing = true
	case OptimizeSucceeded:
		s.Optimizing = false
		if e.SourceGeneration != s.SourceGeneration || strings.TrimSpace(e.Artifact) == "" {
			return s
		}
		s.Artifact = e.Artifact
		s.ArtifactGeneration++
		s = clearResults(s)
	case OptimizeFailed:
		s.Optimizing = false
	case RunStarted:
		s = setRunning(s, e.Mode, true)
	case RunSucceeded:
		s = setRunning(s, e.Mode, false)
		if !s.Current(e.SourceGeneration, e.ArtifactGeneration) {
			return s
		}
		m := e.Metric
		m.Mode = e.Mode
		m.ArtifactGeneration = e.ArtifactGeneration
		if e.Mode == types.ModeCluster {
			s.Cluster = m
		} else {
			s.Single = m
		}
		s.Comparison = compare(s)
	case RunFailed:
		s = setRunning(s, e.Mode, false)
	}
	return s
}

// Current reports whether a call issued under the given generations may
// still mutate s.
func (s State) Current(sourceGen, artifactGen uint64) bool {
	return s.SourceGeneration == sourceGen && s.ArtifactGeneration == artifactGen
}

func clearResults(s State) State {
	s.Single = types.EmptyMetric(types.ModeSingle)
	s.Cluster = types.EmptyMetric(types.ModeCluster)
	s.Comparison = nil
	return s
}

func setRunning(s State, mode types.Mode, v bool) State {
	if mode == types.ModeCluster {
		s.RunningCluster = v
	} else {
		s.RunningSingle = v
	}
	return s
}

// compare only pairs metrics taken against the current artifact.
func compare(s State) *types.BenchmarkComparison {
	if s.Single.ArtifactGeneration != s.ArtifactGeneration || s.Cluster.ArtifactGeneration != s.ArtifactGeneration {
		return nil
	}
	c, ok := bench.Compare(s.Single, s.Cluster, s.WorkerCount)
	if !ok {
		return nil
	}
	return &c
}

// Action names a guarded entry point.
type Action string

const (
	ActionOptimize   Action = "optimize"
	ActionRunSingle  Action = "run_single"
	ActionRunCluster Action = "run_cluster"
	ActionCopy       Action = "copy"
)

// RunAction returns the action that runs mode.
func RunAction(mode types.Mode) Action {
	if mode == types.ModeCluster {
		return ActionRunCluster
	}
	return ActionRunSingle
}

// Policy holds the configurable rules of a session.
type Policy struct {
	MinSourceLength     int
	ClearArtifactOnEdit bool
	WorkerCount         int
	Placeholder         string
}

// Check returns nil when a may start from s. A call already in flight yields
// ErrBusy; a failed precondition yields a *PreconditionError.
func Check(s State, a Action, p Policy) error {
	switch a {
	case ActionOptimize:
		if s.Optimizing {
			return ErrBusy
		}
		if utf8.RuneCountInString(s.Source) < p.MinSourceLength {
			return &PreconditionError{Err: ErrSourceTooShort, Message: sourceTooShortMessage(p.MinSourceLength)}
		}
	case ActionRunSingle, ActionRunCluster:
		mode := types.ModeSingle
		if a == ActionRunCluster {
			mode = types.ModeCluster
		}
		if s.Running(mode) {
			return ErrBusy
		}
		if !s.HasArtifact() {
			return &PreconditionError{Err: ErrNoArtifact, Message: "Optimize first so the parallel program exists, then run."}
		}
	case ActionCopy:
		if !s.HasArtifact() {
			return &PreconditionError{Err: ErrNoArtifact, Message: "Nothing to copy yet. Optimize first."}
		}
	}
	return nil
}

// PolicyFromConfig reads the session rules out of cfg.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		MinSourceLength:     cfg.MinSourceLength(),
		ClearArtifactOnEdit: cfg.ClearArtifactOnEdit(),
		WorkerCount:         cfg.Cluster.WorkerCount,
		Placeholder:         cfg.Session.Placeholder,
	}
}
