package main

import (
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/hearth/internal/config"
	"github.com/samcharles93/hearth/internal/logger"
)

// loadConfig reads --config, or the default config file when it exists,
// then applies the flags the user set explicitly. Flags win over the file
// and the environment.
func loadConfig(c *cli.Command) (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return cfg, err
	}
	applyModelConfig(c, &cfg)
	applyLogConfig(c, &cfg)
	return cfg, nil
}

func applyModelConfig(c *cli.Command, cfg *config.Config) {
	if c.IsSet("model") {
		cfg.LocalLlama.ModelPath = modelPath
	}
	if c.IsSet("context-size") {
		cfg.LocalLlama.ContextSize = contextSize
	}
	if c.IsSet("gpu-layers") {
		cfg.LocalLlama.GPULayers = gpuLayers
	}
	if c.IsSet("contexts") {
		cfg.LocalLlama.Contexts = contexts
	}
	if c.IsSet("backend") {
		cfg.LocalLlama.Backend = backendName
	}
	if c.IsSet("library-path") {
		cfg.LocalLlama.LibraryPath = libraryPath
	}
}

func applyLogConfig(c *cli.Command, cfg *config.Config) {
	if c.IsSet("log-level") {
		cfg.Log.Level = logLevel
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = logFormat
	}
	if debug {
		cfg.Log.Level = "debug"
	}
}

// newLogger writes to stderr so stdout stays clean for generated text.
func newLogger(cfg config.LogConfig) logger.Logger {
	return logger.FromConfig(cfg.Format, cfg.Level, os.Stderr)
}
