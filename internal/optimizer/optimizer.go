// Package optimizer implements the two interchangeable tuning strategies
// the driver treats as opaque: BO-A (sequential model-based, with
// plateau-based early stopping) and BO-B (ask/tell with baseline
// anchoring).
package optimizer

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"

	"github.com/ipiton/dbtuner/internal/knobspace"
)

// ErrPlateauExceeded is BO-A's stop token: Suggest returns it once the
// plateau counter reaches the configured limit, replacing the original
// sentinel-exception unwind with a caller-driven loop. The orchestrator
// checks for it with errors.Is and reads Incumbent() as the terminal
// readout.
var ErrPlateauExceeded = errors.New("optimizer: plateau exceeded, stopping early")

// Observation is one (configuration, cost) pair produced by the loop.
type Observation struct {
	Config      knobspace.Configuration
	Cost        float64
	Performance *float64
	Iteration   int
	Note        string
}

// Optimizer is the shared interface both strategies implement. The driver
// and orchestrator treat it as a black box.
type Optimizer interface {
	// Suggest proposes the next configuration to evaluate. It may return
	// ErrPlateauExceeded (BO-A only) to signal early stop.
	Suggest(ctx context.Context) (knobspace.Configuration, error)
	// Observe records the cost of a previously suggested configuration.
	Observe(ctx context.Context, cfg knobspace.Configuration, cost float64) error
	// Incumbent returns the best observation seen so far, or nil if none.
	Incumbent() *Observation
}

func canonicalKey(cfg knobspace.Configuration) string {
	data, _ := json.Marshal(cfg)
	return string(data)
}

// sampleUniform draws a uniform value for one tunable knob, rounding to an
// integer for integer knobs.
func sampleUniform(rng *rand.Rand, k knobspace.Knob) float64 {
	v := k.Lo + rng.Float64()*(k.Hi-k.Lo)
	if k.Kind == knobspace.KindInteger {
		return float64(int64(v))
	}
	return v
}
