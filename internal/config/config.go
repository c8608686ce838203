package config

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	TrainRoot         string  `yaml:"train_root"`
	ValidRoot         string  `yaml:"valid_root"`
	SaveDir           string  `yaml:"save_dir"`
	InDim             int     `yaml:"in_dim"`
	HiddenDim         int     `yaml:"hidden_dim"`
	OutDim            int     `yaml:"out_dim"`
	BPTTTruncate      int     `yaml:"bptt_truncate"`
	BatchSize         int     `yaml:"batch_size"`
	LearningRate      float64 `yaml:"learning_rate"`
	Decay             float64 `yaml:"decay"` // 0 selects 0.9
	Epochs            int     `yaml:"epochs"`
	EvaluateLossAfter int     `yaml:"evaluate_loss_after"`
	Seed              int64   `yaml:"seed"`
	EvalWorkers       int     `yaml:"eval_workers"`
	LogLevel          string  `yaml:"log_level"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	TrainRoot    string
	ValidRoot    string
	SaveDir      string
	Epochs       int
	BatchSize    int
	LearningRate float64
	Seed         int64
}

// Load reads and validates a Config from YAML.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	defer f.Close()

	cfg, err := parseYAML(f)
	if err != nil {
		return nil, errors.Wrap(err, "parse config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.TrainRoot != "" {
		c.TrainRoot = o.TrainRoot
	}
	if o.ValidRoot != "" {
		c.ValidRoot = o.ValidRoot
	}
	if o.SaveDir != "" {
		c.SaveDir = o.SaveDir
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
}

// Validate verifies the config is runnable and fills defaults.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.TrainRoot == "" {
		return errors.New("train_root must be set")
	}
	if c.InDim <= 0 || c.HiddenDim <= 0 || c.OutDim <= 0 {
		return errors.Errorf("in_dim, hidden_dim and out_dim must be > 0 (got %d, %d, %d)", c.InDim, c.HiddenDim, c.OutDim)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.Epochs <= 0 {
		return errors.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.LearningRate < 0 {
		return errors.Errorf("learning_rate must be >= 0 (got %f)", c.LearningRate)
	}
	if c.BPTTTruncate == 0 {
		c.BPTTTruncate = -1
	}
	if c.BPTTTruncate < -1 {
		return errors.Errorf("bptt_truncate must be -1 or > 0 (got %d)", c.BPTTTruncate)
	}
	if c.Decay == 0 {
		c.Decay = 0.9
	}
	if c.Decay < 0 || c.Decay >= 1 {
		return errors.Errorf("decay must be in (0, 1), or 0 for the default 0.9 (got %f)", c.Decay)
	}
	if c.EvaluateLossAfter <= 0 {
		c.EvaluateLossAfter = 1
	}
	if c.EvalWorkers <= 0 {
		c.EvalWorkers = 1
	}
	if c.SaveDir == "" {
		c.SaveDir = "./data"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "log_level")
	}
	return nil
}

func parseYAML(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}
