package knobspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeKnobFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "knobs.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_Valid(t *testing.T) {
	path := writeKnobFile(t, `{
		"shared_buffers": {"type": "integer", "min": 64, "max": 4096, "default": 128},
		"random_page_cost": {"type": "real", "min": 1.0, "max": 4.0, "default": 4.0},
		"block_size": {"type": "constant", "min": 8192, "max": 8192, "default": 8192}
	}`)

	ks, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, ks.Knobs(), 3)

	tunable := ks.Tunable()
	assert.Len(t, tunable, 2)

	k, ok := ks.Get("shared_buffers")
	require.True(t, ok)
	assert.Equal(t, KindInteger, k.Kind)
}

func TestLoad_RejectsBadDefault(t *testing.T) {
	path := writeKnobFile(t, `{
		"bad": {"type": "integer", "min": 10, "max": 20, "default": 5}
	}`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsEmptySpace(t *testing.T) {
	path := writeKnobFile(t, `{}`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestKnob_Tunable(t *testing.T) {
	assert.True(t, Knob{Kind: KindInteger, Lo: 1, Hi: 10}.Tunable())
	assert.False(t, Knob{Kind: KindConstant, Lo: 1, Hi: 10}.Tunable())
	assert.False(t, Knob{Kind: KindInteger, Lo: 5, Hi: 5}.Tunable(), "lo == hi is never tuned")
}

func TestKnobSpace_Defaults(t *testing.T) {
	path := writeKnobFile(t, `{
		"w": {"type": "integer", "min": 64, "max": 4096, "default": 128}
	}`)
	ks, err := Load(path)
	require.NoError(t, err)

	defaults := ks.Defaults()
	assert.Equal(t, float64(128), defaults["w"])
	require.NoError(t, ks.CheckRange(defaults))
}

func TestKnobSpace_Complete_InjectsConstants(t *testing.T) {
	path := writeKnobFile(t, `{
		"w": {"type": "integer", "min": 64, "max": 4096, "default": 128},
		"block_size": {"type": "constant", "min": 8192, "max": 8192, "default": 8192}
	}`)
	ks, err := Load(path)
	require.NoError(t, err)

	partial := Configuration{"w": 256}
	complete := ks.Complete(partial)

	assert.Equal(t, float64(256), complete["w"])
	assert.Equal(t, float64(8192), complete["block_size"])
	require.NoError(t, ks.CheckRange(complete))
}

func TestKnobSpace_CheckRange_RejectsOutOfBounds(t *testing.T) {
	path := writeKnobFile(t, `{
		"w": {"type": "integer", "min": 64, "max": 4096, "default": 128}
	}`)
	ks, err := Load(path)
	require.NoError(t, err)

	err = ks.CheckRange(Configuration{"w": 9999})
	assert.Error(t, err)
}

func TestKnobSpace_CheckRange_RejectsChangedConstant(t *testing.T) {
	path := writeKnobFile(t, `{
		"block_size": {"type": "constant", "min": 8192, "max": 8192, "default": 8192}
	}`)
	ks, err := Load(path)
	require.NoError(t, err)

	err = ks.CheckRange(Configuration{"block_size": 4096})
	assert.Error(t, err)
}

func TestConfiguration_Clone_IsIndependent(t *testing.T) {
	cfg := Configuration{"a": 1}
	clone := cfg.Clone()
	clone["a"] = 2
	assert.Equal(t, float64(1), cfg["a"])
}
