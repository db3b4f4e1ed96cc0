package workload_test

import (
	"strings"
	"testing"
	"time"

	"github.com/fallout-harness/fallout/internal/workload"

	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Parallel()

	yml := `
ensemble:
  server: {node_count: 1}
  client: {node_count: 1}
workload:
  phase_timeout: 30s
  phases:
    - sleep0:
        module: sleep
        properties:
          duration: 25ms
      phase_lifetime_sleep:
        module: sleep
        properties:
          duration: 5ms
          lifetime: phase
    - subphasesA:
        - text1:
            module: text
            properties: {text: a}
        - subphase:
            - sleep0:
                module: sleep
                properties: {duration: 25ms}
              phase_lifetime_sleep_in_subphase:
                module: sleep
                properties: {duration: 10ms, lifetime: phase}
        - text2:
            module: text
            properties: {text: b}
      sleep:
        module: sleep
        properties: {duration: 50ms}
  checkers:
    no_failures:
      checker: nofail
    text_order:
      checker: regex
      properties: {pattern: ab}
  artifact_checkers:
    latency:
      artifact_checker: histogram
      properties: {file: "*.values", max_p99: 10ms}
`
	wl, ens, err := workload.Load(strings.NewReader(yml))
	require.NoError(t, err)
	require.Contains(t, ens, "server")
	require.Equal(t, 30*time.Second, wl.PhaseTimeout)

	require.Len(t, wl.Phases, 2)

	first := wl.Phases[0]
	require.Len(t, first.Entries, 2)
	require.Equal(t, "sleep0", first.Entries[0].Name)
	require.NotNil(t, first.Entries[0].Module)
	require.Equal(t, "sleep", first.Entries[0].Module.Module)
	require.Equal(t, "25ms", first.Entries[0].Module.Properties["duration"])
	require.Equal(t, "phase_lifetime_sleep", first.Entries[1].Name)
	require.Equal(t, "phase", first.Entries[1].Module.Properties["lifetime"])

	second := wl.Phases[1]
	require.Len(t, second.Entries, 2)
	sub := second.Entries[0]
	require.Equal(t, "subphasesA", sub.Name)
	require.Nil(t, sub.Module)
	require.Len(t, sub.Phase, 3)
	require.Equal(t, "text1", sub.Phase[0].Entries[0].Name)
	require.Equal(t, "subphase", sub.Phase[1].Entries[0].Name)
	require.Len(t, sub.Phase[1].Entries[0].Phase, 1)
	require.Len(t, sub.Phase[1].Entries[0].Phase[0].Entries, 2)
	require.Equal(t, "text2", sub.Phase[2].Entries[0].Name)

	// checkers sorted by name
	require.Len(t, wl.Checkers, 2)
	require.Equal(t, "no_failures", wl.Checkers[0].Name)
	require.Equal(t, "nofail", wl.Checkers[0].Checker)
	require.Equal(t, "text_order", wl.Checkers[1].Name)
	require.Equal(t, "ab", wl.Checkers[1].Properties["pattern"])

	require.Len(t, wl.ArtifactCheckers, 1)
	require.Equal(t, "histogram", wl.ArtifactCheckers[0].ArtifactChecker)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Parallel()

	var testCases = []struct {
		scenario string
		given    string
	}{
		{
			"missing phases",
			`
workload:
  checkers:
    c: {checker: nofail}
`,
		},
		{
			"module without name",
			`
workload:
  phases:
    - broken:
        properties: {duration: 1s}
`,
		},
		{
			"checker without name",
			`
workload:
  phases:
    - ok: {module: fake}
  checkers:
    broken: {properties: {}}
`,
		},
		{
			"scalar phase entry",
			`
workload:
  phases:
    - broken: just-a-string
`,
		},
		{
			"bad phase_timeout",
			`
workload:
  phase_timeout: soon
  phases:
    - ok: {module: fake}
`,
		},
		{
			"not yaml",
			`{{{`,
		},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			_, _, err := workload.Load(strings.NewReader(tt.given))
			require.Error(t, err)
		})
	}
}

func TestLoadEmptyPhasesList(t *testing.T) {
	t.Parallel()

	wl, _, err := workload.Load(strings.NewReader(`
workload:
  phases: []
`))
	require.NoError(t, err)
	require.Empty(t, wl.Phases)
	require.Zero(t, wl.PhaseTimeout)
}
