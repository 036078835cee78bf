package runtime

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/quellhq/quell/autoapply"
	"github.com/quellhq/quell/navwatch"
	"github.com/quellhq/quell/suggest"
)

// Config tunes the per-page pipeline.
type Config struct {
	AutoApply autoapply.Config `yaml:"autoapply"`
	NavWatch  navwatch.Config  `yaml:"navwatch"`
	// MaxUndo bounds the tweak controller's undo stack. Default: 20.
	MaxUndo int           `yaml:"max_undo"`
	Suggest SuggestConfig `yaml:"suggest"`
}

// SuggestConfig selects the suggestion source. An empty endpoint means the
// offline keyword heuristics only.
type SuggestConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	// SketchMaxLen caps the markdown page outline sent to a remote endpoint,
	// in runes. Default: 4000.
	SketchMaxLen int `yaml:"sketch_max_len"`
}

func (c *Config) defaults() {
	if c.MaxUndo <= 0 {
		c.MaxUndo = 20
	}
	if c.Suggest.SketchMaxLen <= 0 {
		c.Suggest.SketchMaxLen = 4000
	}
}

// Source builds the suggestion source the config describes: a remote endpoint
// with the heuristics as fallback, or the heuristics alone.
func (c SuggestConfig) Source() suggest.Source {
	if c.Endpoint == "" {
		return suggest.Heuristics{}
	}
	return suggest.WithFallback(suggest.NewHTTPSource(c.Endpoint, c.APIKey), suggest.Heuristics{})
}

// LoadConfigFile reads a YAML config. A missing path returns defaults.
func LoadConfigFile(path string) (Config, error) {
	var cfg Config
	if path == "" {
		cfg.defaults()
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("runtime: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("runtime: parse config: %w", err)
	}
	cfg.defaults()
	return cfg, nil
}
