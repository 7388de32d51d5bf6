// Package gguf reads the header and metadata block of GGUF model files.
// It is used to reject files llama.cpp cannot load before any native
// allocation happens, and to describe a loaded model.
package gguf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

const (
	magicGGUF = "GGUF"

	// headerSize is magic + version + tensor count + kv count.
	headerSize = 4 + 4 + 8 + 8
)

var (
	ErrInvalidMagic       = errors.New("gguf: invalid magic")
	ErrUnsupportedVersion = errors.New("gguf: unsupported version")
	ErrTruncated          = errors.New("gguf: file truncated")
)

type ValueType uint32

const (
	TypeUint8   ValueType = 0
	TypeInt8    ValueType = 1
	TypeUint16  ValueType = 2
	TypeInt16   ValueType = 3
	TypeUint32  ValueType = 4
	TypeInt32   ValueType = 5
	TypeFloat32 ValueType = 6
	TypeBool    ValueType = 7
	TypeString  ValueType = 8
	TypeArray   ValueType = 9
	TypeUint64  ValueType = 10
	TypeInt64   ValueType = 11
	TypeFloat64 ValueType = 12
)

func (t ValueType) String() string {
	switch t {
	case TypeUint8:
		return "u8"
	case TypeInt8:
		return "i8"
	case TypeUint16:
		return "u16"
	case TypeInt16:
		return "i16"
	case TypeUint32:
		return "u32"
	case TypeInt32:
		return "i32"
	case TypeUint64:
		return "u64"
	case TypeInt64:
		return "i64"
	case TypeFloat32:
		return "f32"
	case TypeFloat64:
		return "f64"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	case TypeArray:
		return "array"
	default:
		return fmt.Sprintf("type(%d)", uint32(t))
	}
}

// size is the encoded width of fixed-size types, 0 for variable ones.
func (t ValueType) size() int {
	switch t {
	case TypeUint8, TypeInt8, TypeBool:
		return 1
	case TypeUint16, TypeInt16:
		return 2
	case TypeUint32, TypeInt32, TypeFloat32:
		return 4
	case TypeUint64, TypeInt64, TypeFloat64:
		return 8
	default:
		return 0
	}
}

// ArrayValue records an array's shape. Elements are skipped: the
// tokenizer vocabularies alone hold hundreds of thousands of strings.
type ArrayValue struct {
	ElemType ValueType
	Len      uint64
}

type Value struct {
	Type  ValueType
	Value any
}

type Header struct {
	Version     uint32
	TensorCount uint64
	KVCount     uint64
}

// Metadata is the decoded header and key/value block of a GGUF file.
type Metadata struct {
	Path   string
	Size   int64
	Header Header
	KV     map[string]Value
}

// Architecture returns general.architecture, e.g. "gemma3".
func (m *Metadata) Architecture() string {
	s, _ := GetString(m.KV, "general.architecture")
	return s
}

func (m *Metadata) Name() string {
	s, _ := GetString(m.KV, "general.name")
	return s
}

// ContextLength is the training context length declared for the architecture.
func (m *Metadata) ContextLength() uint64 {
	arch := m.Architecture()
	if arch == "" {
		return 0
	}
	v, _ := GetUint64(m.KV, arch+".context_length")
	return v
}

func (m *Metadata) ChatTemplate() string {
	s, _ := GetString(m.KV, "tokenizer.chat_template")
	return s
}

// Probe maps path read-only and decodes its header and metadata. The file
// is unmapped before returning. If mmap is unavailable it falls back to
// buffered reads.
func Probe(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := st.Size()
	if size < headerSize {
		return nil, ErrTruncated
	}

	var src io.Reader = f
	if size <= int64(int(^uint(0)>>1)) {
		data, mmErr := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
		if mmErr == nil {
			defer func() { _ = unix.Munmap(data) }()
			src = bytes.NewReader(data)
		}
	}

	md, err := decode(newReader(src, size))
	if err != nil {
		return nil, err
	}
	md.Path = path
	md.Size = size
	return md, nil
}

// Decode reads GGUF metadata from an arbitrary stream.
func Decode(r io.Reader) (*Metadata, error) {
	return decode(newReader(r, 0))
}

func decode(r *reader) (*Metadata, error) {
	magic, err := r.readN(4)
	if err != nil {
		return nil, truncated(err)
	}
	if string(magic) != magicGGUF {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMagic, string(magic))
	}

	version, err := r.readU32()
	if err != nil {
		return nil, truncated(err)
	}
	if version < 2 || version > 3 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	tensorCount, err := r.readU64()
	if err != nil {
		return nil, truncated(err)
	}
	kvCount, err := r.readU64()
	if err != nil {
		return nil, truncated(err)
	}

	kv := make(map[string]Value, min(kvCount, 1024))
	for i := range kvCount {
		key, err := r.readString()
		if err != nil {
			return nil, fmt.Errorf("read key %d: %w", i, truncated(err))
		}
		vtypeU32, err := r.readU32()
		if err != nil {
			return nil, fmt.Errorf("read value type for %s: %w", key, truncated(err))
		}
		vtype := ValueType(vtypeU32)
		val, err := r.readValue(vtype)
		if err != nil {
			return nil, fmt.Errorf("read value for %s: %w", key, truncated(err))
		}
		kv[key] = Value{Type: vtype, Value: val}
	}

	return &Metadata{
		Header: Header{Version: version, TensorCount: tensorCount, KVCount: kvCount},
		KV:     kv,
	}, nil
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrTruncated
	}
	return err
}
