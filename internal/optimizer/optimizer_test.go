package optimizer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ipiton/dbtuner/internal/knobspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSpace(t *testing.T) *knobspace.KnobSpace {
	t.Helper()
	path := filepath.Join(t.TempDir(), "knobs.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"w": {"type": "integer", "min": 64, "max": 4096, "default": 128}
	}`), 0600))
	ks, err := knobspace.Load(path)
	require.NoError(t, err)
	return ks
}

func TestBOA_SuggestionsRespectRange(t *testing.T) {
	space := testSpace(t)
	boa := NewBOA(BOAConfig{Space: space, Seed: 1, PlateauIterations: 1000})

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		cfg, err := boa.Suggest(ctx)
		require.NoError(t, err)
		require.NoError(t, space.CheckRange(cfg))
		require.NoError(t, boa.Observe(ctx, cfg, float64(-i)))
	}
}

func TestBOA_PlateauStopsAfterConfiguredRun(t *testing.T) {
	space := testSpace(t)
	boa := NewBOA(BOAConfig{Space: space, Seed: 1, PlateauIterations: 3})

	ctx := context.Background()
	cfg, err := boa.Suggest(ctx)
	require.NoError(t, err)
	require.NoError(t, boa.Observe(ctx, cfg, -100)) // improvement, resets plateau

	for i := 0; i < 3; i++ {
		cfg, err := boa.Suggest(ctx)
		require.NoError(t, err)
		require.NoError(t, boa.Observe(ctx, cfg, -50)) // worse, increments plateau
	}

	_, err = boa.Suggest(ctx)
	assert.True(t, errors.Is(err, ErrPlateauExceeded))
}

func TestBOA_IncumbentMonotonicallyImproves(t *testing.T) {
	space := testSpace(t)
	boa := NewBOA(BOAConfig{Space: space, Seed: 2, PlateauIterations: 1000})
	ctx := context.Background()

	costs := []float64{-10, -50, -5, -90, -20}
	var lastBest = 0.0
	for i, c := range costs {
		cfg, err := boa.Suggest(ctx)
		require.NoError(t, err)
		require.NoError(t, boa.Observe(ctx, cfg, c))

		best := boa.Incumbent().Cost
		if i == 0 {
			lastBest = best
			continue
		}
		assert.LessOrEqual(t, best, lastBest)
		lastBest = best
	}
}

func TestBOB_RequiresDefaultObservationFirst(t *testing.T) {
	space := testSpace(t)
	bob := NewBOB(BOBConfig{Space: space, Seed: 1, Runcount: 10})

	_, err := bob.Suggest(context.Background())
	assert.Error(t, err)
}

func TestBOB_AnchorsDefaultBeforeFirstSuggest(t *testing.T) {
	space := testSpace(t)
	bob := NewBOB(BOBConfig{Space: space, Seed: 1, Runcount: 10})
	ctx := context.Background()

	defaults := space.Defaults()
	require.NoError(t, bob.ObserveDefault(ctx, defaults, -128))

	cfg, err := bob.Suggest(ctx)
	require.NoError(t, err)
	require.NoError(t, space.CheckRange(cfg))
}

func TestBOB_RandSampleIsTwiceTunableCount(t *testing.T) {
	space := testSpace(t)
	bob := NewBOB(BOBConfig{Space: space, Seed: 1, Runcount: 10})
	assert.Equal(t, 2, bob.randSample)
}

func TestBOB_RunsToRuncountWithNoEarlyExit(t *testing.T) {
	space := testSpace(t)
	// The default observation is one of the Runcount evaluations, so
	// Runcount 4 leaves room for exactly three suggestions.
	bob := NewBOB(BOBConfig{Space: space, Seed: 1, Runcount: 4})
	ctx := context.Background()

	require.NoError(t, bob.ObserveDefault(ctx, space.Defaults(), -128))

	for i := 0; i < 3; i++ {
		cfg, err := bob.Suggest(ctx)
		require.NoError(t, err)
		require.NoError(t, bob.Observe(ctx, cfg, float64(-i)))
	}

	_, err := bob.Suggest(ctx)
	assert.Error(t, err, "runcount exhausted")
}
