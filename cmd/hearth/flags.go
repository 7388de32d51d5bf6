package main

import "github.com/urfave/cli/v3"

var (
	configPath  string
	modelPath   string
	contextSize int
	gpuLayers   int
	contexts    int
	backendName string
	libraryPath string
	logLevel    string
	logFormat   string
	debug       bool
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "config",
		Usage:       "path to config.yaml (default: user config dir/hearth/config.yaml)",
		Sources:     cli.EnvVars("HEARTH_CONFIG"),
		Destination: &configPath,
	}
}

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "path to .gguf model file",
			Destination: &modelPath,
		},
		&cli.IntFlag{
			Name:        "context-size",
			Aliases:     []string{"ctx", "c"},
			Usage:       "context window in tokens",
			Value:       2048,
			Destination: &contextSize,
		},
		&cli.IntFlag{
			Name:        "gpu-layers",
			Aliases:     []string{"ngl"},
			Usage:       "layers to offload to the GPU (0 = CPU only)",
			Destination: &gpuLayers,
		},
		&cli.IntFlag{
			Name:        "contexts",
			Usage:       "execution contexts, i.e. concurrent generations",
			Value:       1,
			Destination: &contexts,
		},
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "inference backend (llama, toy)",
			Value:       "llama",
			Destination: &backendName,
		},
		&cli.StringFlag{
			Name:        "library-path",
			Usage:       "directory holding the llama.cpp shared libraries",
			Destination: &libraryPath,
		},
	}
}

func generationFlags(maxTokens *int, stops *[]string) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "max-tokens",
			Aliases:     []string{"n"},
			Usage:       "maximum tokens to generate (0 = configured default)",
			Destination: maxTokens,
		},
		&cli.StringSliceFlag{
			Name:        "stop",
			Usage:       "stop sequence (repeatable)",
			Destination: stops,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
