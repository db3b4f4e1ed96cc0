package module

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fallout-harness/fallout/internal/history"
	"github.com/fallout-harness/fallout/internal/props"
	"github.com/fallout-harness/fallout/internal/timer"
)

// Base carries the engine-facing state every module needs: identity, lifetime,
// the emit protocol and the abort probe. Concrete modules embed it and
// configure lifetime behavior through one of the constructors.
type Base struct {
	// GlobalSetupTeardown selects the placement policy: when true, Setup and
	// Teardown run once at workload start/end; when false they bracket every
	// Run (required for modules invoked repeatedly).
	GlobalSetupTeardown bool

	name         string
	instanceName string
	properties   props.Group
	logger       *slog.Logger

	method          RunToEndOfPhaseMethod
	lifetime        Lifetime
	dynamicLifetime bool

	state   atomic.Int32
	running atomic.Bool
	emitted atomic.Int32

	sink  Emitter
	clock *history.Clock
	wheel *timer.Wheel

	abortMx      sync.Mutex
	abortedCheck func() bool

	unfinished *Latch

	cbMx                sync.Mutex
	completionCallbacks []func()
}

// NewBase is the default: Automatic method, RunOnce lifetime, user-selectable
// through the "lifetime" property.
func NewBase() Base {
	return Base{method: Automatic, lifetime: RunOnce, dynamicLifetime: true}
}

// NewPhaseBase hard-codes RunToEndOfPhase; the lifetime property is not
// offered to users.
func NewPhaseBase(method RunToEndOfPhaseMethod) Base {
	return Base{method: method, lifetime: RunToEndOfPhase}
}

// NewBaseWithDefault offers the lifetime property with the given default.
func NewBaseWithDefault(method RunToEndOfPhaseMethod, def Lifetime) Base {
	return Base{method: method, lifetime: def, dynamicLifetime: true}
}

func (b *Base) harness() *Base { return b }

// PropertySpecs returns the lifetime spec when the lifetime is
// user-selectable. Modules with their own properties append to this.
func (b *Base) PropertySpecs() []props.Spec {
	if !b.dynamicLifetime {
		return nil
	}
	return []props.Spec{{
		Name: "lifetime",
		Description: "Whether the module should be run_once, in which case it will run once and exit, " +
			"or whether it should run_to_end_of_phase, in which case it will run until all other modules " +
			"in the phase are complete. You can abbreviate 'run_once' and 'run_to_end_of_phase' to 'once' " +
			"and 'phase'",
		Default: b.lifetime.String(),
		Parse: func(v any) (any, error) {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("expected lifetime string, got %T", v)
			}
			return ParseLifetime(s)
		},
	}}
}

func (b *Base) RequiredProviders() []string { return nil }

func (b *Base) SupportedProducts() []string { return nil }

// SetProperties binds the validated property group. It also resolves a
// user-selected lifetime. Setting properties twice is a programming error.
func (b *Base) SetProperties(g props.Group) {
	if b.properties != nil {
		panic("module instance properties already set")
	}
	b.properties = g
	if b.dynamicLifetime {
		if l, ok := g["lifetime"].(Lifetime); ok {
			b.lifetime = l
		}
	}
}

func (b *Base) Properties() props.Group {
	if b.properties == nil {
		return props.Group{}
	}
	return b.properties
}

func (b *Base) SetInstanceName(name string) {
	if b.instanceName != "" {
		panic("module instance name already set")
	}
	b.instanceName = name
}

func (b *Base) InstanceName() string { return b.instanceName }

func (b *Base) Lifetime() Lifetime { return b.lifetime }

func (b *Base) Method() RunToEndOfPhaseMethod { return b.method }

func (b *Base) RunsToEndOfPhase() bool { return b.lifetime == RunToEndOfPhase }

// HasDynamicLifetime reports whether the lifetime is user-selectable.
func (b *Base) HasDynamicLifetime() bool { return b.dynamicLifetime }

func (b *Base) State() State { return State(b.state.Load()) }

func (b *Base) SetState(s State) { b.state.Store(int32(s)) }

// Binding is the per-run wiring the engine injects before a module runs.
type Binding struct {
	Name         string
	Sink         Emitter
	Clock        *history.Clock
	Timer        *timer.Wheel
	Logger       *slog.Logger
	AbortedCheck func() bool
}

func (b *Base) Bind(binding Binding) {
	b.name = binding.Name
	b.sink = binding.Sink
	b.clock = binding.Clock
	b.wheel = binding.Timer
	b.logger = binding.Logger
	b.SetAbortedCheck(binding.AbortedCheck)
}

func (b *Base) Logger() *slog.Logger {
	if b.logger == nil {
		return slog.Default()
	}
	return b.logger
}

// Timer is the shared timer wheel; nil outside a run.
func (b *Base) Timer() *timer.Wheel { return b.wheel }

// SetAbortedCheck installs the cooperative abort probe. Passing nil removes
// it; both directions are idempotent.
func (b *Base) SetAbortedCheck(fn func() bool) {
	b.abortMx.Lock()
	defer b.abortMx.Unlock()
	b.abortedCheck = fn
}

// Aborted reports whether the test run was aborted. Run SHOULD consult this
// at least once per iteration of its inner loops and return early.
func (b *Base) Aborted() bool {
	b.abortMx.Lock()
	fn := b.abortedCheck
	b.abortMx.Unlock()
	if fn == nil {
		return false
	}
	if fn() {
		b.Logger().Warn("module returns early for aborted test run",
			"module", b.name, "instance", b.instanceName)
		return true
	}
	return false
}

// SleepAborted sleeps for d in small slices, returning true as soon as the
// abort flag is observed.
func (b *Base) SleepAborted(d time.Duration) bool {
	const slice = 10 * time.Millisecond
	for remaining := d; remaining > 0; remaining -= slice {
		if b.Aborted() {
			return true
		}
		time.Sleep(min(remaining, slice))
	}
	return b.Aborted()
}

// SetUnfinishedRunOnceModules wires the phase's run-once completion counter.
func (b *Base) SetUnfinishedRunOnceModules(l *Latch) { b.unfinished = l }

// UnfinishedRunOnceModules is the counter of RunOnce siblings that have not
// completed yet. RunToEndOfPhase modules poll it or wait on its Done channel.
func (b *Base) UnfinishedRunOnceModules() *Latch { return b.unfinished }

func (b *Base) AddCompletionCallback(fn func()) {
	b.cbMx.Lock()
	defer b.cbMx.Unlock()
	b.completionCallbacks = append(b.completionCallbacks, fn)
}

// RunCompletionCallbacks fires and clears the registered callbacks. The
// engine calls it exactly once, after the module's run has fully finished.
func (b *Base) RunCompletionCallbacks() {
	b.cbMx.Lock()
	cbs := b.completionCallbacks
	b.completionCallbacks = nil
	b.cbMx.Unlock()
	for _, fn := range cbs {
		fn()
	}
}

// BeginRun and FinishRun bracket the window in which emits are legal.
func (b *Base) BeginRun() {
	b.running.Store(true)
	b.SetState(Running)
}

func (b *Base) FinishRun() {
	b.running.Store(false)
	b.emitted.Store(0)
}

func (b *Base) EmittedCount() int { return int(b.emitted.Load()) }

// Emit appends an operation to every active history. Emitting outside Run is
// a protocol violation: it is recorded in the history as an engine error and
// returned as one.
func (b *Base) Emit(typ history.Type, mediaType string, value any) error {
	sink, clock := b.sink, b.clock
	if sink == nil || clock == nil {
		return fmt.Errorf("module %s %w", b.instanceName, ErrNoActiveRun)
	}
	if !b.running.Load() {
		_ = sink.Emit(history.Operation{
			Type:      history.Error,
			Time:      clock.Now(),
			MediaType: history.MediaTypePlainText,
			Value:     fmt.Sprintf("module %s tried to emit outside of its run method", b.instanceName),
			Process:   b.instanceName,
			Module:    b.name,
		})
		return fmt.Errorf("module %s %w", b.instanceName, ErrEmitOutsideRun)
	}

	b.emitted.Add(1)
	err := sink.Emit(history.Operation{
		Type:      typ,
		Time:      clock.Now(),
		MediaType: mediaType,
		Value:     value,
		Process:   b.instanceName,
		Module:    b.name,
	})
	if typ == history.Error {
		b.Logger().Error("emit", "type", typ, "value", value)
	} else {
		b.Logger().Info("emit", "type", typ, "value", value)
	}
	return err
}

// EmitType emits a bare operation with no payload.
func (b *Base) EmitType(typ history.Type) {
	b.emitLogged(typ, history.MediaTypeOctetStream, nil)
}

func (b *Base) EmitInfo(message string) {
	b.emitLogged(history.Info, history.MediaTypePlainText, message)
}

// EmitInfoValue emits an opaque payload.
func (b *Base) EmitInfoValue(value any) {
	b.emitLogged(history.Info, history.MediaTypeOctetStream, value)
}

func (b *Base) EmitOk(message string) {
	b.emitLogged(history.Ok, history.MediaTypePlainText, message)
}

func (b *Base) EmitFail(message string) {
	b.emitLogged(history.Fail, history.MediaTypePlainText, message)
}

func (b *Base) EmitError(message string) {
	b.emitLogged(history.Error, history.MediaTypePlainText, message)
}

func (b *Base) EmitInvoke(message string) {
	b.emitLogged(history.Invoke, history.MediaTypePlainText, message)
}

func (b *Base) emitLogged(typ history.Type, mediaType string, value any) {
	if err := b.Emit(typ, mediaType, value); err != nil {
		b.Logger().Warn("emit rejected", "type", typ, "error", err)
	}
}

// Latch is the count-down the scheduler uses for the run-once completion
// barrier. Done closes exactly once, when the count reaches zero; a latch
// created at zero is closed from the start.
type Latch struct {
	count atomic.Int64
	done  chan struct{}
	once  sync.Once
}

func NewLatch(n int) *Latch {
	l := &Latch{done: make(chan struct{})}
	l.count.Store(int64(n))
	if n <= 0 {
		l.once.Do(func() { close(l.done) })
	}
	return l
}

func (l *Latch) CountDown() {
	if l.count.Add(-1) <= 0 {
		l.once.Do(func() { close(l.done) })
	}
}

func (l *Latch) Count() int {
	return int(max(l.count.Load(), 0))
}

func (l *Latch) Done() <-chan struct{} { return l.done }

func (l *Latch) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
