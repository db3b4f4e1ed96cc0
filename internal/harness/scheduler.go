package harness

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fallout-harness/fallout/internal/ensemble"
	"github.com/fallout-harness/fallout/internal/history"
	"github.com/fallout-harness/fallout/internal/log"
	"github.com/fallout-harness/fallout/internal/module"
	"github.com/fallout-harness/fallout/internal/props"
)

// NoEmissionsError is the exact message synthesized when a run-once module's
// run returns without emitting anything.
const NoEmissionsError = "No Operations were emitted during run"

// engine runs the phase tree of one workload. It owns the run-once
// completion latches and the timeout bookkeeping; everything else is wiring
// injected by the Runner.
type engine struct {
	ens          *ensemble.Ensemble
	active       *history.ActiveSet
	clock        *history.Clock
	abort        *Abort
	logger       *slog.Logger
	phaseTimeout time.Duration

	stragglerMx sync.Mutex
	stragglers  []straggler
}

type straggler struct {
	name string
	done <-chan struct{}
}

// runPhase executes the groups of a phase strictly sequentially. A nested
// phase is opaque to its parent: it is one child that completes when this
// returns.
func (e *engine) runPhase(ctx context.Context, phase []GroupPlan) {
	for i, group := range phase {
		if e.abort.Aborted() {
			e.logger.Warn("test run aborted, not launching further groups", "group", i)
			return
		}
		e.runGroup(ctx, group)
	}
}

// runGroup launches every child of one group concurrently and waits for all
// of them, bounded by the per-phase timeout.
func (e *engine) runGroup(ctx context.Context, group GroupPlan) {
	// Step 1: classification. Run-once modules count down the shared latch
	// on completion; run-to-end-of-phase modules get a handle to it. Nested
	// phases are opaque and contribute to neither side.
	var runOnce, toEnd []module.Module
	for _, node := range group.Nodes {
		if node.Module == nil {
			continue
		}
		if module.BaseOf(node.Module).RunsToEndOfPhase() {
			toEnd = append(toEnd, node.Module)
		} else {
			runOnce = append(runOnce, node.Module)
		}
	}

	latch := module.NewLatch(len(runOnce))
	for _, m := range runOnce {
		module.BaseOf(m).AddCompletionCallback(latch.CountDown)
	}
	for _, m := range toEnd {
		module.BaseOf(m).SetUnfinishedRunOnceModules(latch)
	}

	gctx := ctx
	if e.phaseTimeout > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, e.phaseTimeout)
		defer cancel()
	}

	// Step 2: concurrent launch, in document order.
	type child struct {
		name string
		done chan struct{}
	}
	children := make([]*child, 0, len(group.Nodes))
	var g errgroup.Group
	for _, node := range group.Nodes {
		c := &child{name: node.Name, done: make(chan struct{})}
		children = append(children, c)
		g.Go(func() error {
			defer close(c.done)
			if node.Module != nil {
				e.runModule(gctx, node.Module)
			} else {
				e.runPhase(gctx, node.Phase)
			}
			return nil
		})
	}

	allDone := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(allDone)
	}()

	if e.phaseTimeout == 0 {
		<-allDone
		return
	}

	select {
	case <-allDone:
	case <-time.After(e.phaseTimeout):
		// Hung children are marked and abandoned; cancellation stays
		// cooperative, so they are joined best-effort at shutdown.
		for _, c := range children {
			select {
			case <-c.done:
				continue
			default:
			}
			e.appendEngineError(c.name, "", fmt.Sprintf("timeout: still running after %s", e.phaseTimeout))
			e.addStraggler(straggler{name: c.name, done: c.done})
		}
	}
}

// runModule is the full lifecycle of one module child within a group:
// setup (unless global), start marker, run body, teardown (unless global),
// end marker, completion callbacks.
func (e *engine) runModule(ctx context.Context, m module.Module) {
	b := module.BaseOf(m)
	ctx = log.WithModule(ctx, m.Name(), b.InstanceName())
	logger := b.Logger()

	setupOK := true
	if !b.GlobalSetupTeardown {
		if e.safely(ctx, m, "setup", m.Setup) {
			b.SetState(module.SetupOK)
		} else {
			b.SetState(module.SetupFailed)
			setupOK = false
		}
	} else {
		setupOK = b.State() != module.SetupFailed
	}

	logger.Info(module.StartEventPrefix + b.InstanceName())
	e.appendMarker(b, m.Name(), history.Invoke)
	b.BeginRun()

	if setupOK {
		e.runBody(ctx, m)
	}

	if !b.GlobalSetupTeardown {
		e.safely(ctx, m, "teardown", m.Teardown)
	}

	e.appendMarker(b, m.Name(), history.End)
	logger.Info(module.EndEventPrefix + b.InstanceName())
	b.FinishRun()
	b.SetState(module.Completed)
	b.RunCompletionCallbacks()
}

// runBody implements steps 3 and 4 of the group algorithm: run-once modules
// run exactly once; run-to-end-of-phase modules loop (automatic) or poll
// themselves (manual), then wait out the latch as a defensive barrier.
func (e *engine) runBody(ctx context.Context, m module.Module) {
	b := module.BaseOf(m)

	if !b.RunsToEndOfPhase() {
		e.safeRun(ctx, m)
		if b.EmittedCount() == 0 {
			e.appendEngineError(b.InstanceName(), m.Name(), NoEmissionsError)
		}
		return
	}

	latch := b.UnfinishedRunOnceModules()
	for {
		e.safeRun(ctx, m)
		if b.Method() == module.Manual || latch.Count() == 0 {
			break
		}
		if e.abort.Aborted() || ctx.Err() != nil {
			break
		}
	}
	_ = latch.Wait(ctx)
}

func (e *engine) safeRun(ctx context.Context, m module.Module) {
	e.safely(ctx, m, "run", m.Run)
}

type stageFunc func(context.Context, *ensemble.Ensemble, props.Group) error

// safely invokes one module stage, converting an error return or a panic
// into an error operation. Failures never propagate to sibling modules.
func (e *engine) safely(ctx context.Context, m module.Module, stage string, fn stageFunc) (ok bool) {
	b := module.BaseOf(m)
	defer func() {
		if r := recover(); r != nil {
			b.Logger().ErrorContext(ctx, "panic in module "+stage, "panic", r)
			e.appendEngineError(b.InstanceName(), m.Name(), fmt.Sprintf("%s panic: %v", stage, r))
			ok = false
		}
	}()

	if err := fn(ctx, e.ens, b.Properties()); err != nil {
		b.Logger().ErrorContext(ctx, "error in module "+stage, "error", err)
		e.appendEngineError(b.InstanceName(), m.Name(), fmt.Sprintf("%s: %v", stage, err))
		return false
	}
	return true
}

// appendMarker injects a lifecycle marker. Markers carry no payload so they
// stay invisible to value-oriented checkers.
func (e *engine) appendMarker(b *module.Base, name string, typ history.Type) {
	_ = e.active.Emit(history.Operation{
		Type:      typ,
		Time:      e.clock.Now(),
		MediaType: history.MediaTypeOctetStream,
		Process:   b.InstanceName(),
		Module:    name,
	})
}

// appendEngineError records an engine-level error operation on behalf of a
// module; unlike Base.Emit it is legal outside the running window.
func (e *engine) appendEngineError(instance, name, message string) {
	_ = e.active.Emit(history.Operation{
		Type:      history.Error,
		Time:      e.clock.Now(),
		MediaType: history.MediaTypePlainText,
		Value:     message,
		Process:   instance,
		Module:    name,
	})
}

func (e *engine) addStraggler(s straggler) {
	e.stragglerMx.Lock()
	defer e.stragglerMx.Unlock()
	e.stragglers = append(e.stragglers, s)
}

// joinStragglers waits up to grace for abandoned workers, logging the ones
// that never came back.
func (e *engine) joinStragglers(grace time.Duration) {
	e.stragglerMx.Lock()
	stragglers := e.stragglers
	e.stragglers = nil
	e.stragglerMx.Unlock()

	deadline := time.After(grace)
	for _, s := range stragglers {
		select {
		case <-s.done:
		case <-deadline:
			e.logger.Warn("abandoning hung module worker", "instance", s.name)
		}
	}
}
