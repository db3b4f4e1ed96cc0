// Package module defines the contract between the workload engine and the
// concurrent units of work it schedules. Concrete modules embed Base, which
// carries the lifetime state machine and the emit protocol; the engine drives
// them through the Module interface.
package module

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fallout-harness/fallout/internal/ensemble"
	"github.com/fallout-harness/fallout/internal/history"
	"github.com/fallout-harness/fallout/internal/props"
)

// Don't change these without considering their use in timestamp placeholders.
const (
	StartEventPrefix = "Start: "
	EndEventPrefix   = "End: "
)

var (
	ErrEmitOutsideRun  = errors.New("tried to emit outside of its run method")
	ErrNoActiveRun     = errors.New("tried to emit without a test started")
	ErrInvalidLifetime = errors.New("not a valid lifetime")
)

// Lifetime says how long a module runs within its phase.
type Lifetime int8

const (
	// RunOnce modules run exactly once.
	RunOnce Lifetime = iota
	// RunToEndOfPhase modules keep running until every RunOnce sibling in
	// the phase has completed; see RunToEndOfPhaseMethod for how.
	RunToEndOfPhase
)

func (l Lifetime) String() string {
	switch l {
	case RunOnce:
		return "run_once"
	case RunToEndOfPhase:
		return "run_to_end_of_phase"
	}
	return fmt.Sprintf("lifetime(%d)", l)
}

// ParseLifetime resolves a user-supplied lifetime name. It is lazy: the first
// lifetime whose canonical name ends with the (case-insensitive) input wins,
// so "once" and "phase" work as abbreviations.
func ParseLifetime(s string) (Lifetime, error) {
	suffix := strings.ToLower(s)
	for _, l := range []Lifetime{RunOnce, RunToEndOfPhase} {
		if strings.HasSuffix(l.String(), suffix) {
			return l, nil
		}
	}
	return 0, fmt.Errorf("%q is %w", s, ErrInvalidLifetime)
}

// RunToEndOfPhaseMethod says how Run behaves for RunToEndOfPhase modules.
type RunToEndOfPhaseMethod int8

const (
	// Manual: Run is called once; the module itself polls
	// UnfinishedRunOnceModules (or any other criterion) and returns when
	// appropriate.
	Manual RunToEndOfPhaseMethod = iota
	// Automatic: Run is called repeatedly until UnfinishedRunOnceModules
	// reaches zero.
	Automatic
)

// State is the per-instance lifecycle state maintained by the engine.
type State int8

const (
	Created State = iota
	SetupOK
	SetupFailed
	Running
	Completed
	TornDown
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case SetupOK:
		return "setup_ok"
	case SetupFailed:
		return "setup_failed"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case TornDown:
		return "torn_down"
	}
	return fmt.Sprintf("state(%d)", s)
}

// Module is a unit of work scheduled within a phase. Setup and Teardown are
// optional hooks; Run is the main work and must emit at least one operation,
// otherwise the engine synthesizes an error. Implementations embed Base.
type Module interface {
	Name() string
	Description() string
	PropertySpecs() []props.Spec
	RequiredProviders() []string
	SupportedProducts() []string

	Setup(ctx context.Context, e *ensemble.Ensemble, g props.Group) error
	Run(ctx context.Context, e *ensemble.Ensemble, g props.Group) error
	Teardown(ctx context.Context, e *ensemble.Ensemble, g props.Group) error

	harness() *Base
}

// BaseOf exposes a module's engine-facing state. Only the engine and its
// tests should need it.
func BaseOf(m Module) *Base {
	return m.harness()
}

// Emitter receives the operations a module emits; during a run it is the
// active-history set.
type Emitter interface {
	Emit(op history.Operation) error
}
