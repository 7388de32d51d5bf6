package gguf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// maxStringLen bounds metadata strings; chat templates are the largest
// legitimate values and stay well below this.
const maxStringLen = 16 << 20

type reader struct {
	r    *bufio.Reader
	off  int64
	size int64
}

func newReader(rd io.Reader, size int64) *reader {
	return &reader{
		r:    bufio.NewReaderSize(rd, 64<<10),
		size: size,
	}
}

func (r *reader) check(n int64) error {
	if n < 0 {
		return fmt.Errorf("invalid read length %d", n)
	}
	if r.size > 0 && r.off+n > r.size {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func (r *reader) readN(n int) ([]byte, error) {
	if err := r.check(int64(n)); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, err
	}
	r.off += int64(n)
	return buf, nil
}

func (r *reader) skip(n int64) error {
	if err := r.check(n); err != nil {
		return err
	}
	if _, err := r.r.Discard(int(n)); err != nil {
		return err
	}
	r.off += n
	return nil
}

func (r *reader) readU8() (uint8, error) {
	b, err := r.readN(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) readU16() (uint16, error) {
	b, err := r.readN(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) readU32() (uint32, error) {
	b, err := r.readN(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) readU64() (uint64, error) {
	b, err := r.readN(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) readString() (string, error) {
	n, err := r.readU64()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	if n > maxStringLen {
		return "", fmt.Errorf("string length too large: %d", n)
	}
	b, err := r.readN(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) skipString() error {
	n, err := r.readU64()
	if err != nil {
		return err
	}
	if n > uint64(math.MaxInt64) {
		return fmt.Errorf("string length too large: %d", n)
	}
	return r.skip(int64(n))
}

// readValue decodes one scalar value. Arrays are consumed but only their
// element type and length are kept.
func (r *reader) readValue(vtype ValueType) (any, error) {
	switch vtype {
	case TypeUint8:
		return r.readU8()
	case TypeInt8:
		v, err := r.readU8()
		return int8(v), err
	case TypeUint16:
		return r.readU16()
	case TypeInt16:
		v, err := r.readU16()
		return int16(v), err
	case TypeUint32:
		return r.readU32()
	case TypeInt32:
		v, err := r.readU32()
		return int32(v), err
	case TypeUint64:
		return r.readU64()
	case TypeInt64:
		v, err := r.readU64()
		return int64(v), err
	case TypeFloat32:
		v, err := r.readU32()
		return math.Float32frombits(v), err
	case TypeFloat64:
		v, err := r.readU64()
		return math.Float64frombits(v), err
	case TypeBool:
		v, err := r.readU8()
		return v != 0, err
	case TypeString:
		return r.readString()
	case TypeArray:
		elemU32, err := r.readU32()
		if err != nil {
			return nil, err
		}
		elem := ValueType(elemU32)
		count, err := r.readU64()
		if err != nil {
			return nil, err
		}
		if err := r.skipArray(elem, count); err != nil {
			return nil, err
		}
		return ArrayValue{ElemType: elem, Len: count}, nil
	default:
		return nil, fmt.Errorf("unsupported value type %d", uint32(vtype))
	}
}

func (r *reader) skipArray(elem ValueType, count uint64) error {
	if size := elem.size(); size > 0 {
		if count > uint64(math.MaxInt64)/uint64(size) {
			return fmt.Errorf("array too large: %d elements", count)
		}
		return r.skip(int64(count) * int64(size))
	}
	for range count {
		switch elem {
		case TypeString:
			if err := r.skipString(); err != nil {
				return err
			}
		case TypeArray:
			if _, err := r.readValue(TypeArray); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported array element type %d", uint32(elem))
		}
	}
	return nil
}
