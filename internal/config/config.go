// Package config loads the hearth process configuration from a YAML file
// and HEARTH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type LocalLlamaConfig struct {
	ModelPath   string `yaml:"model_path"`
	ContextSize int    `yaml:"context_size"`
	GPULayers   int    `yaml:"gpu_layers"`
	// Contexts is the number of execution contexts, which is also how many
	// generations may run at once.
	Contexts    int    `yaml:"contexts"`
	Backend     string `yaml:"backend"`
	LibraryPath string `yaml:"library_path"`
}

type GenerationConfig struct {
	ChatMaxTokens     int           `yaml:"chat_max_tokens"`
	TextMaxTokens     int           `yaml:"text_max_tokens"`
	RequestMaxTokens  int           `yaml:"request_max_tokens"`
	ChatStopSequences []string      `yaml:"chat_stop_sequences"`
	AskStopSequences  []string      `yaml:"ask_stop_sequences"`
	WaitTimeout       time.Duration `yaml:"wait_timeout"`
}

type ServerConfig struct {
	Address           string        `yaml:"address"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	StdoutTraces bool   `yaml:"stdout_traces"`
}

type BusConfig struct {
	Enabled bool `yaml:"enabled"`
	// Embedded runs a NATS server inside the process on Port and connects
	// to it instead of Servers.
	Embedded       bool          `yaml:"embedded"`
	Port           int           `yaml:"port"`
	Servers        []string      `yaml:"servers"`
	Name           string        `yaml:"name"`
	SubjectPrefix  string        `yaml:"subject_prefix"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type Config struct {
	LocalLlama LocalLlamaConfig `yaml:"local_llama"`
	Generation GenerationConfig `yaml:"generation"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Bus        BusConfig        `yaml:"bus"`
}

func Default() Config {
	return Config{
		LocalLlama: LocalLlamaConfig{
			ContextSize: 2048,
			GPULayers:   0,
			Contexts:    1,
			Backend:     "llama",
		},
		Generation: GenerationConfig{
			ChatMaxTokens:     512,
			TextMaxTokens:     512,
			RequestMaxTokens:  256,
			ChatStopSequences: []string{"<end_of_turn>"},
			AskStopSequences:  []string{"</s>", "[/INST]", "User:", "Assistant:"},
			WaitTimeout:       5 * time.Minute,
		},
		Server: ServerConfig{
			Address:           "127.0.0.1:8080",
			ReadHeaderTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "pretty",
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ServiceName:  "hearth",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       false,
			Port:           4222,
			Servers:        []string{"nats://127.0.0.1:4222"},
			Name:           "hearth",
			SubjectPrefix:  "hearth.completion",
			ConnectTimeout: 2 * time.Second,
			RequestTimeout: 2 * time.Minute,
		},
	}
}

// DefaultPath is ~/.config/hearth/config.yaml on Linux, or "" when the user
// config directory is unknown.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "hearth", "config.yaml")
}

// Load reads path over the defaults and applies environment overrides. An
// empty path skips the file. The result is not validated; callers apply
// their flag overrides first and then call Validate.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// LoadDefault loads DefaultPath when that file exists and falls back to the
// defaults plus environment otherwise.
func LoadDefault() (Config, error) {
	path := DefaultPath()
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	return Load(path)
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.LocalLlama.ModelPath, "HEARTH_MODEL_PATH")
	overrideInt(&cfg.LocalLlama.ContextSize, "HEARTH_CONTEXT_SIZE")
	overrideInt(&cfg.LocalLlama.GPULayers, "HEARTH_GPU_LAYERS")
	overrideInt(&cfg.LocalLlama.Contexts, "HEARTH_CONTEXTS")
	overrideString(&cfg.LocalLlama.Backend, "HEARTH_BACKEND")
	overrideString(&cfg.LocalLlama.LibraryPath, "HEARTH_LIBRARY_PATH")
	overrideInt(&cfg.Generation.ChatMaxTokens, "HEARTH_CHAT_MAX_TOKENS")
	overrideInt(&cfg.Generation.TextMaxTokens, "HEARTH_TEXT_MAX_TOKENS")
	overrideInt(&cfg.Generation.RequestMaxTokens, "HEARTH_REQUEST_MAX_TOKENS")
	overrideDuration(&cfg.Generation.WaitTimeout, "HEARTH_WAIT_TIMEOUT")
	overrideString(&cfg.Server.Address, "HEARTH_SERVER_ADDRESS")
	overrideString(&cfg.Log.Level, "HEARTH_LOG_LEVEL")
	overrideString(&cfg.Log.Format, "HEARTH_LOG_FORMAT")
	overrideBool(&cfg.Telemetry.Enabled, "HEARTH_TELEMETRY_ENABLED")
	overrideString(&cfg.Telemetry.ServiceName, "HEARTH_TELEMETRY_SERVICE_NAME")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "HEARTH_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "HEARTH_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.StdoutTraces, "HEARTH_TELEMETRY_STDOUT_TRACES")
	overrideBool(&cfg.Bus.Enabled, "HEARTH_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "HEARTH_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "HEARTH_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "HEARTH_BUS_SERVERS")
	overrideString(&cfg.Bus.Name, "HEARTH_BUS_NAME")
	overrideString(&cfg.Bus.SubjectPrefix, "HEARTH_BUS_SUBJECT_PREFIX")
	overrideDuration(&cfg.Bus.ConnectTimeout, "HEARTH_BUS_CONNECT_TIMEOUT")
	overrideDuration(&cfg.Bus.RequestTimeout, "HEARTH_BUS_REQUEST_TIMEOUT")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			*target = parsed
		}
	}
}

func overrideDuration(target *time.Duration, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		var trimmed []string
		for _, p := range strings.Split(value, ",") {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

// Validate checks the settings every command that loads a model needs.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.LocalLlama.ModelPath) == "" {
		errs = append(errs, errors.New("local_llama.model_path is required"))
	}
	if c.LocalLlama.ContextSize <= 0 {
		errs = append(errs, errors.New("local_llama.context_size must be positive"))
	}
	if c.LocalLlama.GPULayers < 0 {
		errs = append(errs, errors.New("local_llama.gpu_layers must be >= 0"))
	}
	if c.LocalLlama.Contexts < 1 {
		errs = append(errs, errors.New("local_llama.contexts must be >= 1"))
	}
	switch strings.ToLower(strings.TrimSpace(c.LocalLlama.Backend)) {
	case "", "llama", "toy":
	default:
		errs = append(errs, fmt.Errorf("local_llama.backend %q must be one of llama|toy", c.LocalLlama.Backend))
	}
	if c.Generation.WaitTimeout < 0 {
		errs = append(errs, errors.New("generation.wait_timeout must not be negative"))
	}
	if c.Bus.Enabled {
		if c.Bus.Embedded {
			if c.Bus.Port <= 0 || c.Bus.Port > 65535 {
				errs = append(errs, errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled"))
			}
		} else if len(c.Bus.Servers) == 0 {
			errs = append(errs, errors.New("bus.servers must not be empty when the bus is enabled"))
		}
		if strings.TrimSpace(c.Bus.SubjectPrefix) == "" {
			errs = append(errs, errors.New("bus.subject_prefix must not be empty when the bus is enabled"))
		}
	}
	return errors.Join(errs...)
}
