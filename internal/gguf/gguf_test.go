package gguf

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.gguf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func encode(t *testing.T, kvs []KeyValue) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := Write(&buf, kvs); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return buf.Bytes()
}

func TestProbeMetadata(t *testing.T) {
	t.Parallel()

	path := writeFile(t, encode(t, []KeyValue{
		{Key: "general.architecture", Value: "gemma3"},
		{Key: "general.name", Value: "Gemma 3 1B"},
		{Key: "gemma3.context_length", Value: uint32(32768)},
		{Key: "tokenizer.ggml.tokens", Value: []string{"<pad>", "<eos>", "<bos>"}},
		{Key: "tokenizer.chat_template", Value: "{{ bos_token }}<start_of_turn>"},
		{Key: "general.quantized", Value: true},
		{Key: "gemma3.rope.freq_base", Value: float32(10000)},
	}))

	md, err := Probe(path)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if md.Header.Version != 3 || md.Header.TensorCount != 0 || md.Header.KVCount != 7 {
		t.Fatalf("unexpected header: %+v", md.Header)
	}
	if got := md.Architecture(); got != "gemma3" {
		t.Fatalf("Architecture() = %q", got)
	}
	if got := md.Name(); got != "Gemma 3 1B" {
		t.Fatalf("Name() = %q", got)
	}
	if got := md.ContextLength(); got != 32768 {
		t.Fatalf("ContextLength() = %d", got)
	}
	if got := md.ChatTemplate(); got != "{{ bos_token }}<start_of_turn>" {
		t.Fatalf("ChatTemplate() = %q", got)
	}
	if n, ok := GetArrayLen(md.KV, "tokenizer.ggml.tokens"); !ok || n != 3 {
		t.Fatalf("GetArrayLen = %d, %v", n, ok)
	}
	if q, ok := GetBool(md.KV, "general.quantized"); !ok || !q {
		t.Fatalf("GetBool = %v, %v", q, ok)
	}
	if f, ok := GetFloat64(md.KV, "gemma3.rope.freq_base"); !ok || f != 10000 {
		t.Fatalf("GetFloat64 = %v, %v", f, ok)
	}
	if md.Path != path || md.Size <= headerSize {
		t.Fatalf("unexpected path/size: %q %d", md.Path, md.Size)
	}
}

func TestProbeRejects(t *testing.T) {
	t.Parallel()

	valid := encode(t, []KeyValue{{Key: "general.architecture", Value: "llama"}})
	badVersion := append([]byte(nil), valid...)
	badVersion[4] = 9

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{name: "short", data: []byte("GGUF"), want: ErrTruncated},
		{name: "magic", data: append([]byte("GGML"), valid[4:]...), want: ErrInvalidMagic},
		{name: "version", data: badVersion, want: ErrUnsupportedVersion},
		{name: "cut kv", data: valid[:len(valid)-3], want: ErrTruncated},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Probe(writeFile(t, tc.data))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestProbeMissingFile(t *testing.T) {
	t.Parallel()
	_, err := Probe(filepath.Join(t.TempDir(), "absent.gguf"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestDecodeStream(t *testing.T) {
	t.Parallel()
	md, err := Decode(bytes.NewReader(encode(t, []KeyValue{
		{Key: "general.architecture", Value: "toy"},
		{Key: "toy.context_length", Value: uint64(128)},
	})))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if md.ContextLength() != 128 {
		t.Fatalf("ContextLength() = %d", md.ContextLength())
	}
}

func TestWriteUnsupportedType(t *testing.T) {
	t.Parallel()
	err := Write(&bytes.Buffer{}, []KeyValue{{Key: "bad", Value: struct{}{}}})
	if err == nil {
		t.Fatal("expected error for unsupported type")
	}
}

func TestAsUint64(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   any
		want uint64
		ok   bool
	}{
		{uint8(7), 7, true},
		{uint32(2048), 2048, true},
		{int32(-1), 0, false},
		{int64(4096), 4096, true},
		{"nope", 0, false},
	}
	for _, tc := range tests {
		got, ok := asUint64(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("asUint64(%v) = %d, %v; want %d, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
