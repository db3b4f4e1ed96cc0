package modules

import (
	"context"
	"time"

	"github.com/fallout-harness/fallout/internal/ensemble"
	"github.com/fallout-harness/fallout/internal/history"
	"github.com/fallout-harness/fallout/internal/module"
	"github.com/fallout-harness/fallout/internal/props"
)

// Sleep sleeps for the configured duration and emits an ok. With a
// run_to_end_of_phase lifetime it keeps sleeping in duration-sized slices
// until every run-once sibling has completed.
type Sleep struct {
	module.Base
}

func NewSleep() *Sleep {
	return &Sleep{Base: module.NewBase()}
}

func (m *Sleep) Name() string        { return "sleep" }
func (m *Sleep) Description() string { return "Sleeps for a given duration" }

func (m *Sleep) PropertySpecs() []props.Spec {
	return append(m.Base.PropertySpecs(), props.Spec{
		Name:        "duration",
		Description: "how long to sleep per run",
		Default:     "1s",
		Parse:       props.ParseDuration,
	})
}

func (m *Sleep) Setup(context.Context, *ensemble.Ensemble, props.Group) error { return nil }

func (m *Sleep) Run(_ context.Context, _ *ensemble.Ensemble, g props.Group) error {
	d := g.Duration("duration", time.Second)
	if m.SleepAborted(d) {
		m.EmitInfo("sleep interrupted by abort")
		return nil
	}
	m.EmitType(history.Ok)
	return nil
}

func (m *Sleep) Teardown(context.Context, *ensemble.Ensemble, props.Group) error { return nil }

var _ module.Module = (*Sleep)(nil)
