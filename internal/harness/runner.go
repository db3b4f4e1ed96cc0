package harness

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/fallout-harness/fallout/internal/ensemble"
	"github.com/fallout-harness/fallout/internal/history"
	"github.com/fallout-harness/fallout/internal/log"
	"github.com/fallout-harness/fallout/internal/module"
	"github.com/fallout-harness/fallout/internal/timer"
)

// Config is the engine configuration layered by the CLI from defaults, the
// optional config file and FALLOUT_* environment variables.
type Config struct {
	// PhaseTimeout bounds each concurrent group unless the workload
	// overrides it; zero means no timeout.
	PhaseTimeout time.Duration
	// RecordDir enables the on-disk history recorder when set.
	RecordDir string
}

// Runner executes one workload plan against one provisioned ensemble: it
// owns the clock origin and the active history, sequences the top-level
// phases, propagates abort and hands the frozen history to the checkers.
type Runner struct {
	plan   *Plan
	ens    *ensemble.Ensemble
	logger *slog.Logger
	cfg    Config
	abort  Abort
	frozen []history.Operation
}

// History returns the frozen operation sequence once Run has returned.
func (r *Runner) History() []history.Operation {
	return slices.Clone(r.frozen)
}

func NewRunner(plan *Plan, ens *ensemble.Ensemble, logger *slog.Logger, cfg Config) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{plan: plan, ens: ens, logger: logger, cfg: cfg}
}

// Abort requests cooperative shutdown. Safe to call from any goroutine, any
// number of times.
func (r *Runner) Abort() {
	r.abort.Set()
}

// Run executes the workload and returns the verdict. Module failures are
// recorded in the history, not returned; the error return covers only
// infrastructure failures before or after the run itself.
func (r *Runner) Run(ctx context.Context) (Verdict, error) {
	clock := history.NewClock()
	run := history.New()
	active := history.NewActiveSet(run)

	if r.cfg.RecordDir != "" {
		recorder, err := history.OpenRecorder(r.cfg.RecordDir)
		if err != nil {
			return Verdict{}, fmt.Errorf("opening history recorder: %w", err)
		}
		active.Add(recorder)
		defer func() {
			if err := recorder.Close(); err != nil {
				r.logger.Error("closing history recorder", "error", err)
			}
		}()
	}

	wheel, err := timer.New()
	if err != nil {
		return Verdict{}, fmt.Errorf("starting timer wheel: %w", err)
	}
	defer func() {
		if err := wheel.Shutdown(); err != nil {
			r.logger.Error("shutting down timer wheel", "error", err)
		}
	}()

	phaseTimeout := r.cfg.PhaseTimeout
	if r.plan.PhaseTimeout > 0 {
		phaseTimeout = r.plan.PhaseTimeout
	}

	eng := &engine{
		ens:          r.ens,
		active:       active,
		clock:        clock,
		abort:        &r.abort,
		logger:       r.logger,
		phaseTimeout: phaseTimeout,
	}

	ctx = log.WithTestRun(ctx, r.ens.TestRunID.String())
	r.logger.Info("starting workload",
		"test_run_id", r.ens.TestRunID,
		"phases", len(r.plan.Phases),
		"modules", len(r.plan.Modules()))

	for _, m := range r.plan.Modules() {
		b := module.BaseOf(m)
		b.Bind(module.Binding{
			Name:         m.Name(),
			Sink:         active,
			Clock:        clock,
			Timer:        wheel,
			Logger:       r.logger.With("module", m.Name(), "instance", b.InstanceName()),
			AbortedCheck: r.abort.Check(),
		})
	}

	// global setup runs once, before any phase
	for _, m := range r.plan.Modules() {
		b := module.BaseOf(m)
		if !b.GlobalSetupTeardown {
			continue
		}
		if eng.safely(ctx, m, "setup", m.Setup) {
			b.SetState(module.SetupOK)
		} else {
			b.SetState(module.SetupFailed)
		}
	}

	aborted := false
	for i, group := range r.plan.Phases {
		if r.abort.Aborted() {
			r.logger.Warn("test run aborted, skipping remaining phases", "next_phase", i)
			aborted = true
			break
		}
		phaseCtx := log.ContextAttrs(ctx, slog.Int64("phase", int64(i)))
		r.logger.Info("starting phase", "phase", i)
		eng.runGroup(phaseCtx, group)
		r.logger.Info("phase complete", "phase", i)
	}

	// global teardown runs once, after the last phase, even when aborted
	for _, m := range r.plan.Modules() {
		b := module.BaseOf(m)
		if !b.GlobalSetupTeardown {
			continue
		}
		eng.safely(ctx, m, "teardown", m.Teardown)
		b.SetState(module.TornDown)
	}

	eng.joinStragglers(time.Second)

	ops := run.Freeze()
	r.frozen = ops
	verdict := r.evaluate(ctx, ops)
	verdict.Aborted = aborted || r.abort.Aborted()
	if verdict.Aborted {
		verdict.Passed = false
	}
	verdict.OperationCount = len(ops)
	verdict.Duration = time.Duration(clock.Now())

	r.logger.Info("workload finished",
		"passed", verdict.Passed,
		"aborted", verdict.Aborted,
		"operations", verdict.OperationCount,
		"duration", verdict.Duration)
	return verdict, nil
}
