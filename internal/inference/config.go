// Package inference runs a single generation against a leased model context
// and exposes the output as a lazy, cancellable token stream.
package inference

import "slices"

const (
	// DefaultMaxTokens caps chat and raw text generations when the caller
	// leaves MaxTokens unset.
	DefaultMaxTokens = 512

	// DefaultChatStop ends a model turn in the Gemma template.
	DefaultChatStop = "<end_of_turn>"
)

// askStopSequences are the anti-prompts applied to free-form questions.
var askStopSequences = []string{"</s>", "[/INST]", "User:", "Assistant:"}

// GenerationConfig bounds one generation. MaxTokens <= 0 means no cap other
// than the context capacity.
type GenerationConfig struct {
	MaxTokens     int
	StopSequences []string
}

// ChatDefaults returns the configuration used for chat completions when the
// caller supplies nothing.
func ChatDefaults() GenerationConfig {
	return GenerationConfig{
		MaxTokens:     DefaultMaxTokens,
		StopSequences: []string{DefaultChatStop},
	}
}

// AskStopSequences returns a copy of the legacy anti-prompt list.
func AskStopSequences() []string {
	return slices.Clone(askStopSequences)
}

// WithDefaults fills empty fields of c from d. Fields the caller set are
// never overridden.
func (c GenerationConfig) WithDefaults(d GenerationConfig) GenerationConfig {
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if len(c.StopSequences) == 0 {
		c.StopSequences = slices.Clone(d.StopSequences)
	}
	return c
}
