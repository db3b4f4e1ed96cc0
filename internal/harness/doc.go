package harness

// Package harness is the workload execution engine: it schedules the phase
// tree, coordinates module lifetimes, collects the totally ordered history
// and evaluates it with checkers.
//
// Overview
// A workload is a sequence of phases. Each phase is a mapping of instance
// names to modules or nested sub-phases; all entries of a phase launch
// concurrently, one goroutine per module, and the phase ends only when every
// entry has returned. Run-once modules run exactly once; run-to-end-of-phase
// modules keep working until the phase's run-once completion counter reaches
// zero.
//
// Data flow:
//
//   Runner                 Engine{phase}            Module{instance}
//     |                        |                        |
//     | Run() --- phase 1 ---->| classify + latch       |
//     |                        | launch --------------->| Setup/Run/Teardown
//     |                        |                        | emit ------> ActiveSet --> History
//     |                        |<----- all returned ----|                        \-> Recorder (tee)
//     | --- phase 2 ---------->|                        |
//     |        ...             |                        |
//     | Freeze history         |                        |
//     | Checker pipeline -> Verdict                     |
//
// Invariants:
//   - History append order is the authoritative interleaving; appends are
//     serialized behind one lock.
//   - Phase N fully completes, including its history tail, before phase N+1
//     starts.
//   - Within a phase no ordering exists between siblings beyond the
//     run-once-before-run-to-end-of-phase completion rule.
//   - Module failures are recorded as error operations, never propagated;
//     sibling modules keep running.
//   - Cancellation is cooperative: a hung module is marked with a timeout
//     error and abandoned, never killed.
//
// internal/harness/runner_test.go shows the end-to-end scenarios the engine
// guarantees.
