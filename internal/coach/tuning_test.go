package coach

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTuningDefaults(t *testing.T) {
	tuning, err := LoadTuning("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTuning(), tuning)
	assert.NoError(t, tuning.Validate())
}

func TestLoadTuningOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	require.NoError(t, os.WriteFile(path, []byte("similarity_threshold: 0.72\nlow_info:\n  max_tokens: 2\n"), 0o600))

	tuning, err := LoadTuning(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.72, tuning.SimilarityThreshold, 1e-9)
	assert.Equal(t, 2, tuning.LowInfo.MaxTokens)
	assert.Equal(t, 8, tuning.LowInfo.SparseMaxTokens)
	assert.Equal(t, 4, tuning.Memory.EveryUserTurns)
}

func TestLoadTuningRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	require.NoError(t, os.WriteFile(path, []byte("similarity_threshold: 1.5\n"), 0o600))

	_, err := LoadTuning(path)
	assert.Error(t, err)

	_, err = LoadTuning(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
