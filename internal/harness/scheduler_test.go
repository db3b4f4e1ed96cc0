package harness_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/fallout-harness/fallout/internal/ensemble"
	"github.com/fallout-harness/fallout/internal/harness"
	"github.com/fallout-harness/fallout/internal/history"
	"github.com/fallout-harness/fallout/internal/module"
	"github.com/fallout-harness/fallout/internal/modules"
	"github.com/fallout-harness/fallout/internal/props"
	"github.com/fallout-harness/fallout/internal/registry"

	"github.com/stretchr/testify/require"
)

const emitterYaml = `
workload:
  phases:
    - emitter:
        module: emitter-fake
      concurrent:
        module: concurrent-fake
`

// Three goroutines inside a single module emit distinct strings; the history
// must contain every emission exactly once, with no interleaving loss,
// regardless of the lifetime of a concurrently emitting sibling.
func TestConcurrentEmitters(t *testing.T) {
	t.Parallel()

	const emitters = 3
	emissions := 200000
	if testing.Short() {
		emissions = 2000
	}

	emission := func(emitter, n int) string {
		return fmt.Sprintf("emission %d:%d", emitter, n)
	}

	runWith := func(t *testing.T, concurrent func() module.Module) []history.Operation {
		t.Helper()
		reg := registry.Default()
		require.NoError(t, reg.RegisterModule("emitter-fake", func() module.Module {
			return &scriptedModule{
				Base: module.NewBase(),
				name: "emitter-fake",
				run: func(m *scriptedModule, _ context.Context, _ *ensemble.Ensemble, _ props.Group) error {
					var wg sync.WaitGroup
					for e := range emitters {
						wg.Go(func() {
							for n := range emissions {
								m.EmitInfo(emission(e, n))
							}
						})
					}
					wg.Wait()
					return nil
				},
			}
		}))
		require.NoError(t, reg.RegisterModule("concurrent-fake", func() module.Module {
			return concurrent()
		}))

		runner, _ := buildRunner(t, reg, emitterYaml, harness.Config{})
		verdict, err := runner.Run(t.Context())
		require.NoError(t, err)
		require.True(t, verdict.Passed)
		return runner.History()
	}

	assertAllEmissions := func(t *testing.T, ops []history.Operation) {
		t.Helper()
		seen := make(map[string]int, emitters*emissions)
		for _, op := range ops {
			if op.Type != history.Info {
				continue
			}
			if s, ok := op.StringValue(); ok && len(s) > 8 && s[:8] == "emission" {
				seen[s]++
			}
		}
		require.Len(t, seen, emitters*emissions)
		for e := range emitters {
			for n := range emissions {
				require.Equal(t, 1, seen[emission(e, n)])
			}
		}
	}

	t.Run("with run_to_end_of_phase sibling", func(t *testing.T) {
		t.Parallel()
		ops := runWith(t, func() module.Module {
			return modules.NewFakeWithMethod(module.Automatic)
		})
		assertAllEmissions(t, ops)
	})

	t.Run("with run_once sibling", func(t *testing.T) {
		t.Parallel()
		ops := runWith(t, func() module.Module { return modules.NewFake() })
		assertAllEmissions(t, ops)
	})
}

// A 25ms run-once sleep coexists with a 5ms run-to-end-of-phase sleep: the
// repeating sleep lands 4 to 6 ok operations before the phase closes.
func TestPhaseLifetimeCoexistence(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		const yml = `
workload:
  phases:
    - sleep0:
        module: sleep
        properties: {duration: 25ms}
      phase_lifetime_sleep:
        module: sleep
        properties: {duration: 5ms, lifetime: phase}
`
		runner, _ := buildRunner(t, registry.Default(), yml, harness.Config{})
		verdict, err := runner.Run(t.Context())
		require.NoError(t, err)
		require.True(t, verdict.Passed)

		ops := runner.History()
		sleep0 := opsFor(ops, "sleep0")
		require.Equal(t, 1, countType(sleep0, history.Ok))

		repeated := countType(opsFor(ops, "phase_lifetime_sleep"), history.Ok)
		require.GreaterOrEqual(t, repeated, 4)
		require.LessOrEqual(t, repeated, 6)
	})
}

// A phase containing only run-to-end-of-phase modules completes immediately:
// the counter starts at zero and each module's run is invoked exactly once.
func TestOnlyRunToEndOfPhaseCompletesImmediately(t *testing.T) {
	t.Parallel()

	var runs [2]int
	reg := registry.Default()
	for i := range runs {
		require.NoError(t, reg.RegisterModule(fmt.Sprintf("counting-%d", i), func() module.Module {
			return &scriptedModule{
				Base: module.NewPhaseBase(module.Automatic),
				name: "counting",
				run: func(m *scriptedModule, _ context.Context, _ *ensemble.Ensemble, _ props.Group) error {
					runs[i]++
					m.EmitType(history.Ok)
					return nil
				},
			}
		}))
	}

	const yml = `
workload:
  phases:
    - bg0: {module: counting-0}
      bg1: {module: counting-1}
`
	runner, _ := buildRunner(t, reg, yml, harness.Config{})
	verdict, err := runner.Run(t.Context())
	require.NoError(t, err)
	require.True(t, verdict.Passed)
	require.Equal(t, [2]int{1, 1}, runs)
}

// An automatic run-to-end-of-phase module runs at least once and only
// returns once the run-once counter has drained.
func TestAutomaticObservesDrainedCounter(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var captured *scriptedModule
		var runs int
		reg := registry.Default()
		require.NoError(t, reg.RegisterModule("background", func() module.Module {
			captured = &scriptedModule{
				Base: module.NewPhaseBase(module.Automatic),
				name: "background",
				run: func(m *scriptedModule, _ context.Context, _ *ensemble.Ensemble, _ props.Group) error {
					runs++
					m.EmitType(history.Ok)
					time.Sleep(time.Millisecond)
					return nil
				},
			}
			return captured
		}))

		const yml = `
workload:
  phases:
    - background: {module: background}
      work:
        module: sleep
        properties: {duration: 10ms}
`
		runner, _ := buildRunner(t, reg, yml, harness.Config{})
		_, err := runner.Run(t.Context())
		require.NoError(t, err)

		require.GreaterOrEqual(t, runs, 1)
		require.Zero(t, module.BaseOf(captured).UnfinishedRunOnceModules().Count())
		require.Equal(t, module.Completed, module.BaseOf(captured).State())
	})
}

// One sibling panicking during run is recorded as an error operation; the
// other siblings complete normally and nofail reports invalid.
func TestModulePanicIsIsolated(t *testing.T) {
	t.Parallel()

	reg := registry.Default()
	require.NoError(t, reg.RegisterModule("exploding", func() module.Module {
		return &scriptedModule{
			Base: module.NewBase(),
			name: "exploding",
			run: func(m *scriptedModule, _ context.Context, _ *ensemble.Ensemble, _ props.Group) error {
				m.EmitType(history.Invoke)
				panic("boom")
			},
		}
	}))

	const yml = `
workload:
  phases:
    - bad: {module: exploding}
      good: {module: fake}
  checkers:
    no_failures: {checker: nofail}
`
	runner, _ := buildRunner(t, reg, yml, harness.Config{})
	verdict, err := runner.Run(t.Context())
	require.NoError(t, err)
	require.False(t, verdict.Passed)
	require.Len(t, verdict.Checks, 1)
	require.False(t, verdict.Checks[0].Valid)

	ops := runner.History()
	bad := opsFor(ops, "bad")
	require.Equal(t, 1, countType(bad, history.Error))
	var payload string
	for _, op := range bad {
		if op.Type == history.Error {
			payload, _ = op.StringValue()
		}
	}
	require.Contains(t, payload, "boom")

	good := opsFor(ops, "good")
	require.Equal(t, 2, countType(good, history.Invoke)) // engine marker + fake's own
	require.Equal(t, 1, countType(good, history.Ok))
	require.Equal(t, 1, countType(good, history.End))
}

// A run-once module that emits nothing triggers a synthetic error with the
// exact documented message.
func TestNoEmitSyntheticError(t *testing.T) {
	t.Parallel()

	reg := registry.Default()
	require.NoError(t, reg.RegisterModule("silent", func() module.Module {
		return &scriptedModule{Base: module.NewBase(), name: "silent"}
	}))

	const yml = `
workload:
  phases:
    - quiet: {module: silent}
`
	runner, _ := buildRunner(t, reg, yml, harness.Config{})
	_, err := runner.Run(t.Context())
	require.NoError(t, err)

	quiet := opsFor(runner.History(), "quiet")
	require.Equal(t, 1, countType(quiet, history.Error))
	for _, op := range quiet {
		if op.Type == history.Error {
			require.Equal(t, "No Operations were emitted during run", op.Value)
		}
	}
}

// Lifecycle markers bracket every module emission in history order.
func TestMarkersBracketEmissions(t *testing.T) {
	t.Parallel()

	runner, _ := buildRunner(t, registry.Default(), `
workload:
  phases:
    - hello:
        module: text
        properties: {text: hi}
`, harness.Config{})
	_, err := runner.Run(t.Context())
	require.NoError(t, err)

	hello := opsFor(runner.History(), "hello")
	require.Len(t, hello, 3)
	require.Equal(t, history.Invoke, hello[0].Type)
	require.Nil(t, hello[0].Value)
	require.Equal(t, history.Info, hello[1].Type)
	require.Equal(t, "hi", hello[1].Value)
	require.Equal(t, history.End, hello[2].Type)
	require.Nil(t, hello[2].Value)

	for i := 1; i < len(hello); i++ {
		require.LessOrEqual(t, hello[i-1].Time, hello[i].Time)
	}
}

// A hung module is marked with a timeout error after the per-phase timeout
// and the workload proceeds; the worker is abandoned, never killed.
func TestPhaseTimeout(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		unblock := make(chan struct{})
		reg := registry.Default()
		require.NoError(t, reg.RegisterModule("stuck", func() module.Module {
			return &scriptedModule{
				Base: module.NewBase(),
				name: "stuck",
				run: func(m *scriptedModule, _ context.Context, _ *ensemble.Ensemble, _ props.Group) error {
					m.EmitType(history.Invoke)
					<-unblock
					return nil
				},
			}
		}))

		const yml = `
workload:
  phase_timeout: 50ms
  phases:
    - hung: {module: stuck}
    - after: {module: fake}
`
		runner, _ := buildRunner(t, reg, yml, harness.Config{})
		verdict, err := runner.Run(t.Context())
		close(unblock)
		require.NoError(t, err)
		require.False(t, verdict.Aborted)

		ops := runner.History()
		hung := opsFor(ops, "hung")
		require.Equal(t, 1, countType(hung, history.Error))
		for _, op := range hung {
			if op.Type == history.Error {
				require.Contains(t, op.Value, "timeout")
			}
		}

		// the next phase still ran
		after := opsFor(ops, "after")
		require.Equal(t, 1, countType(after, history.Ok))
	})
}

// Setup failure skips run but still runs the module to completion so the
// phase can close; the failure lands in the history.
func TestSetupFailureSkipsRun(t *testing.T) {
	t.Parallel()

	var ran bool
	reg := registry.Default()
	require.NoError(t, reg.RegisterModule("broken-setup", func() module.Module {
		return &scriptedModule{
			Base:  module.NewBase(),
			name:  "broken-setup",
			setup: func(context.Context, *ensemble.Ensemble, props.Group) error { return fmt.Errorf("no disk") },
			run: func(m *scriptedModule, _ context.Context, _ *ensemble.Ensemble, _ props.Group) error {
				ran = true
				m.EmitType(history.Ok)
				return nil
			},
		}
	}))

	runner, _ := buildRunner(t, reg, `
workload:
  phases:
    - broken: {module: broken-setup}
`, harness.Config{})
	_, err := runner.Run(t.Context())
	require.NoError(t, err)

	require.False(t, ran)
	broken := opsFor(runner.History(), "broken")
	require.Equal(t, 1, countType(broken, history.Error))
	require.Equal(t, 1, countType(broken, history.End))
}
