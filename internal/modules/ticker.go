package modules

import (
	"context"
	"fmt"
	"time"

	"github.com/fallout-harness/fallout/internal/ensemble"
	"github.com/fallout-harness/fallout/internal/history"
	"github.com/fallout-harness/fallout/internal/module"
	"github.com/fallout-harness/fallout/internal/props"
	"github.com/fallout-harness/fallout/internal/timer"
)

// Ticker emits an ok on a fixed interval or a cron schedule through the
// shared timer wheel until every run-once sibling in its phase is done. Its
// lifetime is hard-coded to run_to_end_of_phase with the manual method: Run
// is called once and polls the completion counter itself.
type Ticker struct {
	module.Base
}

func NewTicker() *Ticker {
	return &Ticker{Base: module.NewPhaseBase(module.Manual)}
}

func (m *Ticker) Name() string        { return "ticker" }
func (m *Ticker) Description() string { return "Emits ok operations on a schedule until phase end" }

func (m *Ticker) PropertySpecs() []props.Spec {
	return append(m.Base.PropertySpecs(),
		props.Spec{
			Name:        "every",
			Description: "emit interval",
			Default:     "100ms",
			Parse:       props.ParseDuration,
		},
		props.Spec{
			Name:        "cron",
			Description: "5-field cron expression; takes precedence over every",
			Parse: func(v any) (any, error) {
				s, ok := v.(string)
				if !ok {
					return nil, fmt.Errorf("expected cron string, got %T", v)
				}
				if err := timer.ParseCron(s); err != nil {
					return nil, err
				}
				return s, nil
			},
		},
	)
}

func (m *Ticker) Setup(context.Context, *ensemble.Ensemble, props.Group) error { return nil }

func (m *Ticker) Run(ctx context.Context, _ *ensemble.Ensemble, g props.Group) error {
	wheel := m.Timer()
	if wheel == nil {
		m.EmitError("no timer wheel bound")
		return nil
	}

	tick := func() { m.EmitType(history.Ok) }

	var stop func()
	var err error
	if cron := g.String("cron", ""); cron != "" {
		stop, err = wheel.Cron(cron, tick)
	} else {
		stop, err = wheel.Every(g.Duration("every", 100*time.Millisecond), tick)
	}
	if err != nil {
		m.EmitError(fmt.Sprintf("scheduling ticks: %v", err))
		return nil
	}
	defer stop()

	latch := m.UnfinishedRunOnceModules()
	if latch == nil {
		latch = module.NewLatch(0)
	}
	for {
		select {
		case <-latch.Done():
			return nil
		case <-ctx.Done():
			return nil
		case <-time.After(10 * time.Millisecond):
			if m.Aborted() {
				return nil
			}
		}
	}
}

func (m *Ticker) Teardown(context.Context, *ensemble.Ensemble, props.Group) error { return nil }

var _ module.Module = (*Ticker)(nil)
