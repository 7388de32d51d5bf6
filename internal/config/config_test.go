package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LocalLlama.ContextSize != 2048 || cfg.LocalLlama.GPULayers != 0 || cfg.LocalLlama.Contexts != 1 {
		t.Fatalf("unexpected model defaults: %+v", cfg.LocalLlama)
	}
	if cfg.Generation.ChatMaxTokens != 512 || cfg.Generation.RequestMaxTokens != 256 {
		t.Fatalf("unexpected generation defaults: %+v", cfg.Generation)
	}
	if cfg.Generation.WaitTimeout != 5*time.Minute {
		t.Fatalf("expected 5m wait timeout, got %v", cfg.Generation.WaitTimeout)
	}
	if cfg.Bus.SubjectPrefix != "hearth.completion" {
		t.Fatalf("unexpected subject prefix %q", cfg.Bus.SubjectPrefix)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
local_llama:
  model_path: /models/gemma.gguf
  context_size: 4096
  gpu_layers: 20
generation:
  wait_timeout: 90s
  chat_stop_sequences: ["<eot>"]
server:
  address: 0.0.0.0:9000
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LocalLlama.ModelPath != "/models/gemma.gguf" || cfg.LocalLlama.ContextSize != 4096 || cfg.LocalLlama.GPULayers != 20 {
		t.Fatalf("file values not applied: %+v", cfg.LocalLlama)
	}
	if cfg.Generation.WaitTimeout != 90*time.Second {
		t.Fatalf("expected 90s, got %v", cfg.Generation.WaitTimeout)
	}
	if len(cfg.Generation.ChatStopSequences) != 1 || cfg.Generation.ChatStopSequences[0] != "<eot>" {
		t.Fatalf("unexpected stops %v", cfg.Generation.ChatStopSequences)
	}
	// Keys missing from the file keep their defaults.
	if cfg.Generation.TextMaxTokens != 512 || cfg.LocalLlama.Contexts != 1 {
		t.Fatalf("defaults lost: %+v", cfg.Generation)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("local_llama: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil || !strings.Contains(err.Error(), "parse") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HEARTH_MODEL_PATH", "/env/model.gguf")
	t.Setenv("HEARTH_CONTEXT_SIZE", "1024")
	t.Setenv("HEARTH_GPU_LAYERS", "8")
	t.Setenv("HEARTH_CONTEXTS", "2")
	t.Setenv("HEARTH_WAIT_TIMEOUT", "30s")
	t.Setenv("HEARTH_BUS_ENABLED", "true")
	t.Setenv("HEARTH_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("HEARTH_TELEMETRY_ENABLED", "yes-not-a-bool")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LocalLlama.ModelPath != "/env/model.gguf" {
		t.Fatalf("expected model path override")
	}
	if cfg.LocalLlama.ContextSize != 1024 || cfg.LocalLlama.GPULayers != 8 || cfg.LocalLlama.Contexts != 2 {
		t.Fatalf("expected numeric overrides, got %+v", cfg.LocalLlama)
	}
	if cfg.Generation.WaitTimeout != 30*time.Second {
		t.Fatalf("expected wait timeout override, got %v", cfg.Generation.WaitTimeout)
	}
	if !cfg.Bus.Enabled || len(cfg.Bus.Servers) != 2 || cfg.Bus.Servers[1] != "nats://two:4222" {
		t.Fatalf("expected bus overrides, got %+v", cfg.Bus)
	}
	if cfg.Telemetry.Enabled {
		t.Fatal("unparsable bool must be ignored")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := Default()
	valid.LocalLlama.ModelPath = "/m.gguf"

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "missing model", mutate: func(c *Config) { c.LocalLlama.ModelPath = " " }, want: "model_path"},
		{name: "context size", mutate: func(c *Config) { c.LocalLlama.ContextSize = 0 }, want: "context_size"},
		{name: "gpu layers", mutate: func(c *Config) { c.LocalLlama.GPULayers = -1 }, want: "gpu_layers"},
		{name: "contexts", mutate: func(c *Config) { c.LocalLlama.Contexts = 0 }, want: "contexts"},
		{name: "backend", mutate: func(c *Config) { c.LocalLlama.Backend = "onnx" }, want: "backend"},
		{name: "bus servers", mutate: func(c *Config) {
			c.Bus.Enabled = true
			c.Bus.Servers = nil
		}, want: "bus.servers"},
		{name: "embedded port", mutate: func(c *Config) {
			c.Bus.Enabled = true
			c.Bus.Embedded = true
			c.Bus.Port = 0
		}, want: "bus.port"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid
			cfg.Bus.Servers = append([]string(nil), valid.Bus.Servers...)
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.LocalLlama.ContextSize = -1
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) || len(joined.Unwrap()) != 2 {
		t.Fatalf("expected two joined errors, got %v", err)
	}
}
