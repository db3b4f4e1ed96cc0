package registry_test

import (
	"testing"

	"github.com/fallout-harness/fallout/internal/module"
	"github.com/fallout-harness/fallout/internal/modules"
	"github.com/fallout-harness/fallout/internal/registry"

	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	t.Parallel()

	r := registry.Default()
	require.Equal(t,
		[]string{"command", "fake", "latency", "sleep", "text", "ticker"},
		r.ModuleNames())
	require.Equal(t, []string{"count", "nofail", "regex"}, r.CheckerNames())
	require.Equal(t,
		[]string{"histogram", "jsonschema", "regexfile"},
		r.ArtifactCheckerNames())

	m, err := r.NewModule("sleep")
	require.NoError(t, err)
	require.Equal(t, "sleep", m.Name())

	// factories return fresh instances
	m2, err := r.NewModule("sleep")
	require.NoError(t, err)
	require.NotSame(t, m, m2)

	c, err := r.NewChecker("nofail")
	require.NoError(t, err)
	require.Equal(t, "nofail", c.Name())

	a, err := r.NewArtifactChecker("histogram")
	require.NoError(t, err)
	require.Equal(t, "histogram", a.Name())
}

func TestUnknownComponent(t *testing.T) {
	t.Parallel()

	r := registry.Default()

	_, err := r.NewModule("warp-drive")
	require.ErrorIs(t, err, registry.ErrUnknownComponent)
	_, err = r.NewChecker("warp-drive")
	require.ErrorIs(t, err, registry.ErrUnknownComponent)
	_, err = r.NewArtifactChecker("warp-drive")
	require.ErrorIs(t, err, registry.ErrUnknownComponent)
}

func TestDuplicateRegistration(t *testing.T) {
	t.Parallel()

	r := registry.New()
	factory := func() module.Module { return modules.NewFake() }

	require.NoError(t, r.RegisterModule("fake", factory))
	err := r.RegisterModule("fake", factory)
	require.ErrorIs(t, err, registry.ErrDuplicateComponent)
}
