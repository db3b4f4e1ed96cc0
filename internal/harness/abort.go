package harness

import "sync/atomic"

// Abort is the single cooperative cancellation signal of a workload run.
// Setting it is idempotent; it never force-terminates anything. Modules
// consult it through the check injected at bind time, the engine polls it
// between phases and refuses to launch further ones once set.
type Abort struct {
	flag atomic.Bool
}

func (a *Abort) Set() {
	a.flag.Store(true)
}

func (a *Abort) Aborted() bool {
	return a.flag.Load()
}

// Check returns the read-only accessor handed to modules.
func (a *Abort) Check() func() bool {
	return a.Aborted
}
