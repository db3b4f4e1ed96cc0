// Package modules holds the built-in workload modules. External providers
// register their own through the registry; these ship with the engine.
package modules

import (
	"context"

	"github.com/fallout-harness/fallout/internal/ensemble"
	"github.com/fallout-harness/fallout/internal/history"
	"github.com/fallout-harness/fallout/internal/module"
	"github.com/fallout-harness/fallout/internal/props"
)

// Fake emits an invoke and an ok and returns. Tests use it wherever a phase
// needs a module without side effects.
type Fake struct {
	module.Base
}

func NewFake() *Fake {
	return &Fake{Base: module.NewBase()}
}

// NewFakeWithMethod hard-codes a run-to-end-of-phase lifetime with the given
// method.
func NewFakeWithMethod(method module.RunToEndOfPhaseMethod) *Fake {
	return &Fake{Base: module.NewPhaseBase(method)}
}

func (m *Fake) Name() string        { return "fake" }
func (m *Fake) Description() string { return "Fake module" }

func (m *Fake) Setup(context.Context, *ensemble.Ensemble, props.Group) error { return nil }

func (m *Fake) Run(context.Context, *ensemble.Ensemble, props.Group) error {
	m.EmitType(history.Invoke)
	m.EmitType(history.Ok)
	return nil
}

func (m *Fake) Teardown(context.Context, *ensemble.Ensemble, props.Group) error { return nil }

var _ module.Module = (*Fake)(nil)
