package optimizer

import (
	"context"
	"math/rand"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ipiton/dbtuner/internal/knobspace"
)

// BOAConfig configures the sequential model-based strategy.
type BOAConfig struct {
	Space            *knobspace.KnobSpace
	Seed             int64
	RuncountLimit    int
	PlateauIterations int // default 50
	DedupeCacheSize  int
}

// BOA is the sequential model-based strategy. It declares a typed
// configuration space (uniform integer, uniform real, constant) and
// layers plateau-based early stopping on top of a caller-driven loop.
type BOA struct {
	cfg       BOAConfig
	rng       *rand.Rand
	dedupe    *dedupeCache
	evaluated int

	incumbent     *Observation
	plateauCount  int
}

// dedupeCache bounds the set of already-evaluated configurations so a long
// tuning session cannot grow the seen-set unboundedly.
type dedupeCache struct {
	cache *lru.Cache[string, struct{}]
}

func newSimpleDedupe(capacity int) *dedupeCache {
	if capacity <= 0 {
		capacity = 1024
	}
	cache, _ := lru.New[string, struct{}](capacity)
	return &dedupeCache{cache: cache}
}

func (d *dedupeCache) seenBefore(key string) bool {
	_, ok := d.cache.Get(key)
	return ok
}

func (d *dedupeCache) record(key string) {
	d.cache.Add(key, struct{}{})
}

// NewBOA builds a BO-A optimizer with a deterministic random seed.
func NewBOA(cfg BOAConfig) *BOA {
	if cfg.PlateauIterations <= 0 {
		cfg.PlateauIterations = 50
	}
	return &BOA{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		dedupe: newSimpleDedupe(cfg.DedupeCacheSize),
	}
}

// Suggest proposes the next configuration. Once plateauCount reaches
// PlateauIterations, it returns ErrPlateauExceeded instead of a
// configuration: the contract replacing the original sentinel-exception
// unwind.
func (b *BOA) Suggest(ctx context.Context) (knobspace.Configuration, error) {
	if b.plateauCount >= b.cfg.PlateauIterations {
		return nil, ErrPlateauExceeded
	}
	if b.cfg.RuncountLimit > 0 && b.evaluated >= b.cfg.RuncountLimit {
		return nil, ErrPlateauExceeded
	}

	for attempts := 0; attempts < 100; attempts++ {
		proposal := make(knobspace.Configuration)
		for _, k := range b.cfg.Space.Tunable() {
			proposal[k.Name] = sampleUniform(b.rng, k)
		}
		complete := b.cfg.Space.Complete(proposal)
		key := canonicalKey(complete)
		if !b.dedupe.seenBefore(key) {
			return complete, nil
		}
	}
	// exhausted the dedupe budget; return one more fresh sample, seen or not
	proposal := make(knobspace.Configuration)
	for _, k := range b.cfg.Space.Tunable() {
		proposal[k.Name] = sampleUniform(b.rng, k)
	}
	return b.cfg.Space.Complete(proposal), nil
}

// Observe records the cost of a previously suggested configuration. On
// each evaluation, if the new objective beats the running best, the
// incumbent is replaced and the plateau counter resets; otherwise it
// increments.
func (b *BOA) Observe(ctx context.Context, cfg knobspace.Configuration, cost float64) error {
	b.evaluated++
	b.dedupe.record(canonicalKey(cfg))

	if b.incumbent == nil || cost < b.incumbent.Cost {
		b.incumbent = &Observation{Config: cfg.Clone(), Cost: cost, Iteration: b.evaluated - 1}
		b.plateauCount = 0
	} else {
		b.plateauCount++
	}
	return nil
}

// Incumbent returns the best observation seen so far.
func (b *BOA) Incumbent() *Observation {
	return b.incumbent
}
