package model

// Backend creates native model handles. The llama backend binds llama.cpp;
// the toy backend replays scripted output for tests and dry runs.
type Backend interface {
	Name() string
	LoadWeights(path string, p WeightsParams) (Weights, error)
}

type WeightsParams struct {
	// GPULayers is the number of layers offloaded to an accelerator.
	// Zero keeps inference on the CPU.
	GPULayers int
}

type ContextParams struct {
	// ContextSize is the token capacity of the context window.
	ContextSize int
	// BatchSize bounds how many prompt tokens are decoded per call.
	BatchSize int
}

// Weights is a loaded set of model weights. It is never used for
// generation directly; contexts created from it are.
type Weights interface {
	NewContext(p ContextParams) (Context, error)
	// Describe returns a short human readable summary from the runtime.
	Describe() string
	Close() error
}

// Context is one native execution context. It is not safe for concurrent
// use; Resource hands each one to a single lease holder at a time.
type Context interface {
	// Reset clears all cached state left by an earlier generation.
	Reset() error
	// Eval tokenizes prompt and feeds it through the model. With special
	// set, control-token text such as <start_of_turn> becomes the control
	// token; otherwise it is tokenized as plain text.
	Eval(prompt string, special bool) error
	// Next samples one token, feeds it back and returns its text.
	// eog reports an end-of-generation token, whose text is not returned.
	Next() (piece string, eog bool, err error)
	Close() error
}
