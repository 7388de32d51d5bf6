package gguf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// KeyValue is one metadata entry for Write. Supported Go types are string,
// bool, uint32, int32, uint64, int64, float32 and float64.
type KeyValue struct {
	Key   string
	Value any
}

// Write emits a version 3 GGUF file holding only metadata and no tensors.
// Files produced this way pass Probe; they are used as stand-ins for real
// weights by the toy backend.
func Write(w io.Writer, kvs []KeyValue) error {
	bw := bufio.NewWriter(w)
	put := func(v any) {
		_ = binary.Write(bw, binary.LittleEndian, v)
	}
	putString := func(s string) {
		put(uint64(len(s)))
		_, _ = bw.WriteString(s)
	}

	_, _ = bw.WriteString(magicGGUF)
	put(uint32(3))
	put(uint64(0))
	put(uint64(len(kvs)))
	for _, kv := range kvs {
		putString(kv.Key)
		switch v := kv.Value.(type) {
		case string:
			put(uint32(TypeString))
			putString(v)
		case bool:
			put(uint32(TypeBool))
			if v {
				put(uint8(1))
			} else {
				put(uint8(0))
			}
		case uint32:
			put(uint32(TypeUint32))
			put(v)
		case int32:
			put(uint32(TypeInt32))
			put(v)
		case uint64:
			put(uint32(TypeUint64))
			put(v)
		case int64:
			put(uint32(TypeInt64))
			put(v)
		case float32:
			put(uint32(TypeFloat32))
			put(math.Float32bits(v))
		case float64:
			put(uint32(TypeFloat64))
			put(math.Float64bits(v))
		case []string:
			put(uint32(TypeArray))
			put(uint32(TypeString))
			put(uint64(len(v)))
			for _, s := range v {
				putString(s)
			}
		default:
			return fmt.Errorf("gguf: unsupported metadata type %T for %s", kv.Value, kv.Key)
		}
	}
	return bw.Flush()
}
