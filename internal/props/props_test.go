package props_test

import (
	"testing"
	"time"

	"github.com/fallout-harness/fallout/internal/props"

	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	specs := []props.Spec{
		{Name: "duration", Required: true, Parse: props.ParseDuration},
		{Name: "mode", Default: "fast", Options: []string{"fast", "slow"}},
		{Name: "label", Pattern: `^[a-z]+$`},
	}

	type given struct {
		raw props.Group
	}
	var testCases = []struct {
		scenario string
		given    given
		then     props.Group
		thenErr  error
	}{
		{
			scenario: "defaults applied and duration parsed",
			given:    given{props.Group{"duration": "25ms"}},
			then:     props.Group{"duration": 25 * time.Millisecond, "mode": "fast"},
		},
		{
			scenario: "missing required",
			given:    given{props.Group{"mode": "slow"}},
			thenErr:  props.ErrMissingRequired,
		},
		{
			scenario: "unknown property",
			given:    given{props.Group{"duration": "1s", "bogus": 1}},
			thenErr:  props.ErrUnknownProperty,
		},
		{
			scenario: "option rejected",
			given:    given{props.Group{"duration": "1s", "mode": "medium"}},
			thenErr:  props.ErrInvalidValue,
		},
		{
			scenario: "pattern rejected",
			given:    given{props.Group{"duration": "1s", "label": "UPPER"}},
			thenErr:  props.ErrInvalidValue,
		},
		{
			scenario: "bad duration",
			given:    given{props.Group{"duration": "soon"}},
			thenErr:  props.ErrInvalidValue,
		},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			got, err := props.Validate(specs, tt.given.raw)
			if tt.thenErr != nil {
				require.ErrorIs(t, err, tt.thenErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.then, got)
		})
	}
}

func TestGroupAccessors(t *testing.T) {
	t.Parallel()

	g := props.Group{
		"text":      "hello",
		"count":     3,
		"duration":  50 * time.Millisecond,
		"processes": []any{"a", "b"},
	}

	require.Equal(t, "hello", g.String("text", ""))
	require.Equal(t, "def", g.String("missing", "def"))
	require.Equal(t, 3, g.Int("count", 0))
	require.Equal(t, 9, g.Int("missing", 9))
	require.Equal(t, 50*time.Millisecond, g.Duration("duration", 0))
	require.Equal(t, time.Second, g.Duration("missing", time.Second))
	require.Equal(t, []string{"a", "b"}, g.Strings("processes"))
	require.Equal(t, []string{"hello"}, g.Strings("text"))
	require.True(t, g.Has("text"))
	require.False(t, g.Has("missing"))
}
