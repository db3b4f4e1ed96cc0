package modules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fallout-harness/fallout/internal/ensemble"
	"github.com/fallout-harness/fallout/internal/module"
	"github.com/fallout-harness/fallout/internal/props"
)

// Latency measures scheduler sleep jitter: it repeatedly requests a short
// sleep, records how long each actually took and writes the observed values
// (one nanosecond integer per line) to an artifact for the histogram
// artifact checker.
type Latency struct {
	module.Base
}

func NewLatency() *Latency {
	return &Latency{Base: module.NewBase()}
}

func (m *Latency) Name() string { return "latency" }

func (m *Latency) Description() string {
	return "Records per-iteration sleep latencies to an artifact file"
}

func (m *Latency) PropertySpecs() []props.Spec {
	return append(m.Base.PropertySpecs(),
		props.Spec{
			Name:        "duration",
			Description: "target sleep per iteration",
			Default:     "1ms",
			Parse:       props.ParseDuration,
		},
		props.Spec{
			Name:        "iterations",
			Description: "number of samples to record",
			Default:     100,
		},
		props.Spec{
			Name:        "file",
			Description: "artifact file name; defaults to <instance>.values",
		},
	)
}

func (m *Latency) Setup(context.Context, *ensemble.Ensemble, props.Group) error { return nil }

func (m *Latency) Run(_ context.Context, e *ensemble.Ensemble, g props.Group) error {
	name := g.String("file", "")
	if name == "" {
		name = m.InstanceName() + ".values"
	}
	if e.ArtifactDir == "" {
		m.EmitError("no artifact directory configured")
		return nil
	}
	if err := os.MkdirAll(e.ArtifactDir, 0o755); err != nil {
		m.EmitError(fmt.Sprintf("creating artifact directory: %v", err))
		return nil
	}
	f, err := os.Create(filepath.Join(e.ArtifactDir, name))
	if err != nil {
		m.EmitError(fmt.Sprintf("creating artifact: %v", err))
		return nil
	}
	defer func() {
		_ = f.Close()
	}()

	d := g.Duration("duration", time.Millisecond)
	iterations := g.Int("iterations", 100)

	var recorded int
	for range iterations {
		if m.Aborted() {
			break
		}
		start := time.Now()
		time.Sleep(d)
		if _, err := fmt.Fprintln(f, time.Since(start).Nanoseconds()); err != nil {
			m.EmitError(fmt.Sprintf("writing artifact: %v", err))
			return nil
		}
		recorded++
	}
	m.EmitOk(fmt.Sprintf("recorded %d samples to %s", recorded, name))
	return nil
}

func (m *Latency) Teardown(context.Context, *ensemble.Ensemble, props.Group) error { return nil }

var _ module.Module = (*Latency)(nil)
