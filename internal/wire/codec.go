package wire

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// MaxDepth bounds the nesting of arrays and maps in both directions.
const MaxDepth = 64

var (
	errTooDeep       = errors.New("nesting exceeds maximum depth")
	errTrailingBytes = errors.New("trailing bytes after value")
)

// Encode serializes v as MessagePack.
func Encode(v Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := encodeValue(enc, v, 0); err != nil {
		return nil, &EncodingError{Err: err}
	}
	return buf.Bytes(), nil
}

func encodeValue(enc *msgpack.Encoder, v Value, depth int) error {
	if depth > MaxDepth {
		return errTooDeep
	}
	switch v.kind {
	case KindNil:
		return enc.EncodeNil()
	case KindBool:
		return enc.EncodeBool(v.b)
	case KindInt:
		return enc.EncodeInt(v.i)
	case KindFloat:
		return enc.EncodeFloat64(v.f)
	case KindString:
		return enc.EncodeString(v.s)
	case KindBinary:
		// EncodeBytes writes nil for a nil slice.
		if v.bin == nil {
			return enc.EncodeBytes([]byte{})
		}
		return enc.EncodeBytes(v.bin)
	case KindArray:
		if err := enc.EncodeArrayLen(len(v.items)); err != nil {
			return err
		}
		for _, item := range v.items {
			if err := encodeValue(enc, item, depth+1); err != nil {
				return err
			}
		}
		return nil
	case KindMap:
		if err := enc.EncodeMapLen(len(v.pairs)); err != nil {
			return err
		}
		for _, p := range v.pairs {
			if err := encodeValue(enc, p.Key, depth+1); err != nil {
				return err
			}
			if err := encodeValue(enc, p.Val, depth+1); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported kind %s", v.kind)
	}
}

// Decode parses exactly one MessagePack value from data. The input slice is
// never retained.
func Decode(data []byte) (Value, error) {
	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)

	offset := func() int64 { return int64(len(data) - r.Len()) }

	v, err := decodeValue(dec, r, 0)
	if err != nil {
		return Value{}, &DecodingError{Offset: offset(), Err: err}
	}
	if r.Len() > 0 {
		return Value{}, &DecodingError{Offset: offset(), Err: errTrailingBytes}
	}
	return v, nil
}

func decodeValue(dec *msgpack.Decoder, r *bytes.Reader, depth int) (Value, error) {
	if depth > MaxDepth {
		return Value{}, errTooDeep
	}

	c, err := dec.PeekCode()
	if err != nil {
		return Value{}, err
	}

	switch {
	case c == msgpcode.Nil:
		return Nil(), dec.DecodeNil()

	case c == msgpcode.False || c == msgpcode.True:
		b, err := dec.DecodeBool()
		return Bool(b), err

	case msgpcode.IsFixedNum(c) ||
		c == msgpcode.Int8 || c == msgpcode.Int16 || c == msgpcode.Int32 || c == msgpcode.Int64 ||
		c == msgpcode.Uint8 || c == msgpcode.Uint16 || c == msgpcode.Uint32:
		i, err := dec.DecodeInt64()
		return Int(i), err

	case c == msgpcode.Uint64:
		u, err := dec.DecodeUint64()
		if err != nil {
			return Value{}, err
		}
		if u > math.MaxInt64 {
			return Value{}, fmt.Errorf("unsigned integer %d overflows int64", u)
		}
		return Int(int64(u)), nil

	case c == msgpcode.Float || c == msgpcode.Double:
		f, err := dec.DecodeFloat64()
		return Float(f), err

	case msgpcode.IsString(c):
		s, err := dec.DecodeString()
		return String(s), err

	case msgpcode.IsBin(c):
		b, err := dec.DecodeBytes()
		if err != nil {
			return Value{}, err
		}
		if b == nil {
			b = []byte{}
		}
		return Value{kind: KindBinary, bin: b}, nil

	case msgpcode.IsFixedArray(c) || c == msgpcode.Array16 || c == msgpcode.Array32:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return Value{}, err
		}
		items := make([]Value, 0, capHint(n, r))
		for i := 0; i < n; i++ {
			item, err := decodeValue(dec, r, depth+1)
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
		}
		return Array(items...), nil

	case msgpcode.IsFixedMap(c) || c == msgpcode.Map16 || c == msgpcode.Map32:
		n, err := dec.DecodeMapLen()
		if err != nil {
			return Value{}, err
		}
		pairs := make([]Pair, 0, capHint(n, r))
		for i := 0; i < n; i++ {
			key, err := decodeValue(dec, r, depth+1)
			if err != nil {
				return Value{}, err
			}
			val, err := decodeValue(dec, r, depth+1)
			if err != nil {
				return Value{}, err
			}
			pairs = append(pairs, Pair{Key: key, Val: val})
		}
		return Map(pairs...), nil

	default:
		return Value{}, fmt.Errorf("unsupported type code 0x%02x", c)
	}
}

// capHint bounds preallocation by the bytes left, since every element takes
// at least one byte.
func capHint(n int, r *bytes.Reader) int {
	if n < 0 {
		return 0
	}
	if left := r.Len(); n > left {
		return left
	}
	return n
}
