package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const demo = `
# demo run
train_root: /data/train
valid_root: /data/valid
in_dim: 50
hidden_dim: 64
out_dim: 12
batch_size: 20
learning_rate: 0.005
epochs: 3
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte(demo), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.InDim != 50 || cfg.HiddenDim != 64 || cfg.OutDim != 12 {
		t.Fatalf("unexpected dims %+v", cfg)
	}
	if cfg.Decay != 0.9 || cfg.BPTTTruncate != -1 || cfg.EvaluateLossAfter != 1 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.SaveDir != "./data" || cfg.EvalWorkers != 1 || cfg.LogLevel != "info" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestParseRejectsUnknownKey(t *testing.T) {
	_, err := parseYAML(strings.NewReader(demo + "activation: relu\n"))
	if err == nil {
		t.Fatal("expected unknown key error")
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg, err := parseYAML(strings.NewReader(demo))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg.ApplyOverrides(Overrides{Epochs: 10, LearningRate: 0.01, SaveDir: "/tmp/out"})
	if cfg.Epochs != 10 || cfg.LearningRate != 0.01 || cfg.SaveDir != "/tmp/out" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.BatchSize != 20 {
		t.Fatalf("zero override should keep batch_size, got %d", cfg.BatchSize)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"missing train root": strings.Replace(demo, "train_root: /data/train", "", 1),
		"bad batch size":     strings.Replace(demo, "batch_size: 20", "batch_size: 0", 1),
		"bad decay":          demo + "decay: 1.5\n",
		"negative decay":     demo + "decay: -0.1\n",
		"bad truncate":       demo + "bptt_truncate: -4\n",
		"bad log level":      demo + "log_level: loud\n",
	}
	for name, doc := range cases {
		cfg, err := parseYAML(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("%s: parse: %v", name, err)
		}
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestValidateDecayZeroSelectsDefault(t *testing.T) {
	cfg, err := parseYAML(strings.NewReader(demo + "decay: 0\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Decay != 0.9 {
		t.Fatalf("decay=%v want 0.9", cfg.Decay)
	}

	cfg.Decay = 1
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "0 for the default") {
		t.Fatalf("expected error naming the zero default, got %v", err)
	}
}
