package modules

import (
	"context"

	"github.com/fallout-harness/fallout/internal/ensemble"
	"github.com/fallout-harness/fallout/internal/module"
	"github.com/fallout-harness/fallout/internal/props"
)

// Text emits its configured text as a single info operation. Together with
// the regex checker it asserts ordering across phases and sub-phases.
type Text struct {
	module.Base
}

func NewText() *Text {
	return &Text{Base: module.NewBase()}
}

func (m *Text) Name() string        { return "text" }
func (m *Text) Description() string { return "Emits a fixed text as an info operation" }

func (m *Text) PropertySpecs() []props.Spec {
	return append(m.Base.PropertySpecs(), props.Spec{
		Name:        "text",
		Description: "the text to emit",
		Required:    true,
	})
}

func (m *Text) Setup(context.Context, *ensemble.Ensemble, props.Group) error { return nil }

func (m *Text) Run(_ context.Context, _ *ensemble.Ensemble, g props.Group) error {
	m.EmitInfo(g.String("text", ""))
	return nil
}

func (m *Text) Teardown(context.Context, *ensemble.Ensemble, props.Group) error { return nil }

var _ module.Module = (*Text)(nil)
