package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/hearth/internal/gguf"
)

const maxValueWidth = 96

func inspectCmd() *cli.Command {
	var (
		path         string
		showAll      bool
		showChat     bool
		asJSON       bool
		filterPrefix string
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Print the metadata of a GGUF model file without loading it",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "path to .gguf file",
				Destination: &path,
				Required:    true,
			},
			&cli.BoolFlag{Name: "all", Usage: "list every metadata key", Destination: &showAll},
			&cli.BoolFlag{Name: "chat-template", Usage: "print the embedded chat template", Destination: &showChat},
			&cli.BoolFlag{Name: "json", Usage: "print the summary as JSON", Destination: &asJSON},
			&cli.StringFlag{Name: "prefix", Usage: "only list keys with this prefix (implies --all)", Destination: &filterPrefix},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			md, err := gguf.Probe(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: probe %q: %v", path, err), 1)
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(summarize(md))
			}

			printSummary(os.Stdout, md)
			if showAll || filterPrefix != "" {
				printKeys(os.Stdout, md, filterPrefix)
			}
			if showChat {
				tpl := md.ChatTemplate()
				if tpl == "" {
					fmt.Println("\n(no chat template)")
				} else {
					fmt.Printf("\nchat template:\n%s\n", tpl)
				}
			}
			return nil
		},
	}
}

type modelSummary struct {
	Path            string  `json:"path"`
	SizeBytes       int64   `json:"sizeBytes"`
	Version         uint32  `json:"version"`
	Architecture    string  `json:"architecture"`
	Name            string  `json:"name,omitempty"`
	ContextLength   uint64  `json:"contextLength,omitempty"`
	Tensors         uint64  `json:"tensors"`
	MetadataKeys    uint64  `json:"metadataKeys"`
	HasChatTemplate bool    `json:"hasChatTemplate"`
	VocabSize       uint64  `json:"vocabSize,omitempty"`
	FileType        uint64  `json:"fileType,omitempty"`
	RopeFreqBase    float64 `json:"ropeFreqBase,omitempty"`
	AddBOSToken     bool    `json:"addBosToken"`
}

func summarize(md *gguf.Metadata) modelSummary {
	s := modelSummary{
		Path:            md.Path,
		SizeBytes:       md.Size,
		Version:         md.Header.Version,
		Architecture:    md.Architecture(),
		Name:            md.Name(),
		ContextLength:   md.ContextLength(),
		Tensors:         md.Header.TensorCount,
		MetadataKeys:    md.Header.KVCount,
		HasChatTemplate: md.ChatTemplate() != "",
	}
	s.VocabSize, _ = gguf.GetArrayLen(md.KV, "tokenizer.ggml.tokens")
	s.FileType, _ = gguf.GetUint64(md.KV, "general.file_type")
	s.RopeFreqBase, _ = gguf.GetFloat64(md.KV, s.Architecture+".rope.freq_base")
	s.AddBOSToken, _ = gguf.GetBool(md.KV, "tokenizer.ggml.add_bos_token")
	return s
}

func printSummary(w io.Writer, md *gguf.Metadata) {
	s := summarize(md)
	_, _ = fmt.Fprintf(w, "path:           %s\n", s.Path)
	_, _ = fmt.Fprintf(w, "size:           %.2f MiB\n", float64(s.SizeBytes)/(1<<20))
	_, _ = fmt.Fprintf(w, "gguf version:   %d\n", s.Version)
	_, _ = fmt.Fprintf(w, "architecture:   %s\n", s.Architecture)
	if s.Name != "" {
		_, _ = fmt.Fprintf(w, "name:           %s\n", s.Name)
	}
	if s.ContextLength > 0 {
		_, _ = fmt.Fprintf(w, "context length: %d\n", s.ContextLength)
	}
	if s.VocabSize > 0 {
		_, _ = fmt.Fprintf(w, "vocab size:     %d\n", s.VocabSize)
	}
	if s.RopeFreqBase > 0 {
		_, _ = fmt.Fprintf(w, "rope base:      %g\n", s.RopeFreqBase)
	}
	_, _ = fmt.Fprintf(w, "tensors:        %d\n", s.Tensors)
	_, _ = fmt.Fprintf(w, "metadata keys:  %d\n", s.MetadataKeys)
	_, _ = fmt.Fprintf(w, "chat template:  %t\n", s.HasChatTemplate)
}

func printKeys(w io.Writer, md *gguf.Metadata, prefix string) {
	keys := make([]string, 0, len(md.KV))
	for k := range md.KV {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	_, _ = fmt.Fprintln(w)
	for _, k := range keys {
		v := md.KV[k]
		_, _ = fmt.Fprintf(w, "%-48s %-8s %s\n", k, v.Type, formatValue(v))
	}
}

func formatValue(v gguf.Value) string {
	switch val := v.Value.(type) {
	case gguf.ArrayValue:
		return fmt.Sprintf("[%d x %s]", val.Len, val.ElemType)
	case string:
		s := strings.ReplaceAll(val, "\n", `\n`)
		if len(s) > maxValueWidth {
			s = s[:maxValueWidth] + fmt.Sprintf("... (%d bytes)", len(val))
		}
		return fmt.Sprintf("%q", s)
	default:
		return fmt.Sprint(val)
	}
}
