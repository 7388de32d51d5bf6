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
	"github.com/samcharles93/hearth/internal/prompt"
)

func chatCmd() *cli.Command {
	var (
		userPrompt string
		system     string
		maxTokens  int
		stops      []string
	)

	return &cli.Command{
		Name:  "chat",
		Usage: "Chat with the model; one-shot with --prompt, interactive otherwise",
		Flags: append(append(commonModelFlags(),
			&cli.StringFlag{
				Name:        "prompt",
				Aliases:     []string{"p"},
				Usage:       "single user message; omit for an interactive session",
				Destination: &userPrompt,
			},
			&cli.StringFlag{
				Name:        "system",
				Aliases:     []string{"sys"},
				Usage:       "optional system prompt",
				Destination: &system,
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

			reg, err := openModel(ctx, cfg.LocalLlama, log)
			if err != nil {
				return cli.Exit("error: load model: "+err.Error(), 1)
			}
			defer func() { _ = reg.Close() }()
			adapter := newAdapter(reg, cfg.Generation, log, nil, nil)

			gen := inference.GenerationConfig{MaxTokens: maxTokens, StopSequences: stops}
			var conv prompt.Conversation
			if strings.TrimSpace(system) != "" {
				conv = append(conv, prompt.Turn{Role: prompt.RoleSystem, Content: system})
			}

			if userPrompt != "" {
				conv = append(conv, prompt.Turn{Role: prompt.RoleUser, Content: userPrompt})
				_, err := streamReply(ctx, adapter, conv, gen, os.Stdout)
				return err
			}
			return chatLoop(ctx, adapter, conv, gen, os.Stdin, os.Stdout)
		},
	}
}

// chatLoop reads one user message per line. /reset clears the history and
// /exit (or EOF) ends the session.
func chatLoop(ctx context.Context, adapter *completion.Adapter, base prompt.Conversation, gen inference.GenerationConfig, in io.Reader, out io.Writer) error {
	conv := append(prompt.Conversation(nil), base...)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		_, _ = fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			_, _ = fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/reset":
			conv = append(prompt.Conversation(nil), base...)
			_, _ = fmt.Fprintln(out, "(history cleared)")
			continue
		}

		conv = append(conv, prompt.Turn{Role: prompt.RoleUser, Content: line})
		reply, err := streamReply(ctx, adapter, conv, gen, out)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
			conv = conv[:len(conv)-1]
			continue
		}
		conv = append(conv, prompt.Turn{Role: prompt.RoleAssistant, Content: reply})
	}
}

func streamReply(ctx context.Context, adapter *completion.Adapter, conv prompt.Conversation, gen inference.GenerationConfig, out io.Writer) (string, error) {
	w := bufio.NewWriter(out)
	defer func() { _ = w.Flush() }()

	var b strings.Builder
	for piece, err := range adapter.StreamChat(ctx, conv, gen) {
		if err != nil {
			_, _ = w.WriteString("\n")
			return b.String(), err
		}
		b.WriteString(piece)
		_, _ = w.WriteString(piece)
		if err := w.Flush(); err != nil {
			return b.String(), err
		}
	}
	_, _ = w.WriteString("\n")
	return b.String(), nil
}
