package coach

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tuning holds the heuristic constants of the pipeline. None of the values
// are load-bearing for correctness; they are exposed so they can be tuned
// without code changes.
type Tuning struct {
	// SimilarityThreshold rejects a candidate whose lexical overlap with a
	// recent coach turn reaches this value.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	LowInfo LowInfoTuning `yaml:"low_info"`
	Router  RouterTuning  `yaml:"router"`
	Memory  MemoryTuning  `yaml:"memory"`
}

// LowInfoTuning configures the low-information detector.
type LowInfoTuning struct {
	MaxTokens        int     `yaml:"max_tokens"`
	SparseMaxTokens  int     `yaml:"sparse_max_tokens"`
	StopwordRatio    float64 `yaml:"stopword_ratio"`
	VerbCheckMaxToks int     `yaml:"verb_check_max_tokens"`
}

// RouterTuning configures the model router.
type RouterTuning struct {
	LongInputTokens   int `yaml:"long_input_tokens"`
	LargeContextChars int `yaml:"large_context_chars"`
	PrimaryScore      int `yaml:"primary_score"`
}

// MemoryTuning configures summarization cadence.
type MemoryTuning struct {
	EveryUserTurns int `yaml:"every_user_turns"`
	CharThreshold  int `yaml:"char_threshold"`
}

// DefaultTuning returns the reference values.
func DefaultTuning() Tuning {
	return Tuning{
		SimilarityThreshold: 0.70,
		LowInfo: LowInfoTuning{
			MaxTokens:        3,
			SparseMaxTokens:  8,
			StopwordRatio:    0.68,
			VerbCheckMaxToks: 6,
		},
		Router: RouterTuning{
			LongInputTokens:   35,
			LargeContextChars: 3200,
			PrimaryScore:      4,
		},
		Memory: MemoryTuning{
			EveryUserTurns: 4,
			CharThreshold:  5000,
		},
	}
}

// LoadTuning reads overrides from a YAML file on top of DefaultTuning. An
// empty path returns the defaults.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read tuning file: %w", err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("parse tuning file: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("invalid tuning: %w", err)
	}
	return t, nil
}

// Validate rejects values that would disable a stage outright.
func (t Tuning) Validate() error {
	if t.SimilarityThreshold <= 0 || t.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in (0, 1]")
	}
	if t.LowInfo.StopwordRatio <= 0 || t.LowInfo.StopwordRatio > 1 {
		return fmt.Errorf("low_info.stopword_ratio must be in (0, 1]")
	}
	if t.Memory.EveryUserTurns <= 0 {
		return fmt.Errorf("memory.every_user_turns must be > 0")
	}
	if t.Router.PrimaryScore <= 0 {
		return fmt.Errorf("router.primary_score must be > 0")
	}
	return nil
}
