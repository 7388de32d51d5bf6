package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/hearth/internal/completion"
	"github.com/samcharles93/hearth/internal/inference"
)

func completeCmd() *cli.Command {
	var (
		text      string
		ask       bool
		maxTokens int
		stops     []string
	)

	return &cli.Command{
		Name:  "complete",
		Usage: "Complete raw text without a chat template (reads stdin when --prompt is empty)",
		Flags: append(append(commonModelFlags(),
			&cli.StringFlag{
				Name:        "prompt",
				Aliases:     []string{"p"},
				Usage:       "text to complete",
				Destination: &text,
			},
			&cli.BoolFlag{
				Name:        "ask",
				Usage:       "apply the ask endpoint's stop sequences",
				Destination: &ask,
			},
		), generationFlags(&maxTokens, &stops)...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return cli.Exit("error: "+err.Error(), 1)
			}
			if err := cfg.Validate(); err != nil {
				return cli.Exit("error: invalid configuration:\n"+err.Error(), 1)
			}
			log := newLogger(cfg.Log)

			if text == "" {
				b, err := io.ReadAll(os.Stdin)
				if err != nil {
					return cli.Exit("error: read stdin: "+err.Error(), 1)
				}
				text = string(b)
			}
			if strings.TrimSpace(text) == "" {
				return cli.Exit("error: prompt is required", 1)
			}

			gen := inference.GenerationConfig{MaxTokens: maxTokens, StopSequences: stops}
			if ask && len(gen.StopSequences) == 0 {
				gen.StopSequences = cfg.Generation.AskStopSequences
			}

			reg, err := openModel(ctx, cfg.LocalLlama, log)
			if err != nil {
				return cli.Exit("error: load model: "+err.Error(), 1)
			}
			defer func() { _ = reg.Close() }()

			return streamText(ctx, newAdapter(reg, cfg.Generation, log, nil, nil), text, gen, os.Stdout)
		},
	}
}

func streamText(ctx context.Context, adapter *completion.Adapter, text string, gen inference.GenerationConfig, out io.Writer) error {
	w := bufio.NewWriter(out)
	defer func() { _ = w.Flush() }()

	for piece, err := range adapter.StreamText(ctx, text, gen) {
		if err != nil {
			_, _ = w.WriteString("\n")
			return err
		}
		_, _ = w.WriteString(piece)
		if err := w.Flush(); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}
