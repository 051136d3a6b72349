// Package knobspace defines the typed catalogue of tunable server
// parameters the optimizer searches over and the driver applies.
//
// A KnobSpace is loaded once per tuning session from a JSON file and is
// immutable thereafter. Configurations are always complete over the
// KnobSpace: every knob name, including constants, has a value.
package knobspace

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
)

// Kind is the type of a tunable parameter.
type Kind string

const (
	KindInteger  Kind = "integer"
	KindReal     Kind = "real"
	KindConstant Kind = "constant"
)

// Knob is one tunable server parameter.
type Knob struct {
	Name    string  `json:"name" validate:"required"`
	Kind    Kind    `json:"type" validate:"required,oneof=integer real constant"`
	Lo      float64 `json:"min"`
	Hi      float64 `json:"max"`
	Default float64 `json:"default"`
}

// Tunable reports whether the knob has a non-degenerate range. A constant
// knob, or any knob with lo == hi, is never proposed by the optimizer but
// still appears in every Configuration.
func (k Knob) Tunable() bool {
	return k.Kind != KindConstant && k.Lo != k.Hi
}

// Validate checks the range/default invariant: lo <= default <= hi.
func (k Knob) Validate() error {
	if k.Lo > k.Hi {
		return fmt.Errorf("knob %s: min %v exceeds max %v", k.Name, k.Lo, k.Hi)
	}
	if k.Default < k.Lo || k.Default > k.Hi {
		return fmt.Errorf("knob %s: default %v outside [%v, %v]", k.Name, k.Default, k.Lo, k.Hi)
	}
	return nil
}

// Configuration is a complete assignment of values over a KnobSpace.
// Integer knobs store their value with an exact integral float64; callers
// apply math.Round/int64 conversion at the point of use (e.g. when
// building a SET statement).
type Configuration map[string]float64

// Clone returns an independent copy. Configurations are never mutated
// after creation; callers that need to inject constants build a new map.
func (c Configuration) Clone() Configuration {
	out := make(Configuration, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// KnobSpace is the immutable catalogue of every knob in a tuning session.
type KnobSpace struct {
	knobs  []Knob
	byName map[string]Knob
}

// Load reads a KnobSpace from a JSON file mapping knob name to
// {type, min, max, default}.
func Load(path string) (*KnobSpace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("knobspace: failed to read %s: %w", path, err)
	}

	var raw map[string]struct {
		Type    Kind    `json:"type"`
		Min     float64 `json:"min"`
		Max     float64 `json:"max"`
		Default float64 `json:"default"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("knobspace: failed to parse %s: %w", path, err)
	}

	validate := validator.New()
	ks := &KnobSpace{byName: make(map[string]Knob, len(raw))}
	for name, v := range raw {
		knob := Knob{Name: name, Kind: v.Type, Lo: v.Min, Hi: v.Max, Default: v.Default}
		if err := validate.Struct(knob); err != nil {
			return nil, fmt.Errorf("knobspace: knob %s: %w", name, err)
		}
		if err := knob.Validate(); err != nil {
			return nil, fmt.Errorf("knobspace: %w", err)
		}
		ks.knobs = append(ks.knobs, knob)
		ks.byName[name] = knob
	}

	if len(ks.knobs) == 0 {
		return nil, fmt.Errorf("knobspace: %s declares no knobs", path)
	}

	return ks, nil
}

// Knobs returns every knob in the space. Load adds them in Go map
// iteration order, so the order is not defined.
func (ks *KnobSpace) Knobs() []Knob {
	return ks.knobs
}

// Tunable returns only the knobs the optimizer may propose values for.
func (ks *KnobSpace) Tunable() []Knob {
	var out []Knob
	for _, k := range ks.knobs {
		if k.Tunable() {
			out = append(out, k)
		}
	}
	return out
}

// Get looks up a knob by name.
func (ks *KnobSpace) Get(name string) (Knob, bool) {
	k, ok := ks.byName[name]
	return k, ok
}

// Defaults returns the all-defaults Configuration: used for the baseline
// run and as BO-B's mandatory iteration-0 anchor.
func (ks *KnobSpace) Defaults() Configuration {
	cfg := make(Configuration, len(ks.knobs))
	for _, k := range ks.knobs {
		cfg[k.Name] = k.Default
	}
	return cfg
}

// Complete fills in any knob missing from partial (typically the
// optimizer's proposal, which omits constants) with its default value,
// returning a new Configuration that covers every knob in the space.
func (ks *KnobSpace) Complete(partial Configuration) Configuration {
	cfg := make(Configuration, len(ks.knobs))
	for _, k := range ks.knobs {
		if v, ok := partial[k.Name]; ok {
			cfg[k.Name] = v
			continue
		}
		cfg[k.Name] = k.Default
	}
	return cfg
}

// CheckRange verifies every value in cfg satisfies its knob's type and
// range, and that cfg is complete over the space. Used by tests asserting
// the range-respect and completeness invariants.
func (ks *KnobSpace) CheckRange(cfg Configuration) error {
	if len(cfg) != len(ks.knobs) {
		return fmt.Errorf("knobspace: configuration has %d entries, space declares %d", len(cfg), len(ks.knobs))
	}
	for _, k := range ks.knobs {
		v, ok := cfg[k.Name]
		if !ok {
			return fmt.Errorf("knobspace: configuration missing knob %s", k.Name)
		}
		if k.Kind == KindConstant {
			if v != k.Default {
				return fmt.Errorf("knobspace: constant %s changed from %v to %v", k.Name, k.Default, v)
			}
			continue
		}
		if v < k.Lo || v > k.Hi {
			return fmt.Errorf("knobspace: knob %s value %v outside [%v, %v]", k.Name, v, k.Lo, k.Hi)
		}
		if k.Kind == KindInteger && v != float64(int64(v)) {
			return fmt.Errorf("knobspace: integer knob %s has non-integral value %v", k.Name, v)
		}
	}
	return nil
}
