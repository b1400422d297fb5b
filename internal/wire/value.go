package wire

import (
	"encoding/hex"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBinary
	KindArray
	KindMap
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBinary:
		return "binary"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a self-describing wire value. The zero Value is Nil.
type Value struct {
	kind  Kind
	b     bool
	i     int64
	f     float64
	s     string
	bin   []byte
	items []Value
	pairs []Pair
}

// Pair is one key/value entry of a map Value.
type Pair struct {
	Key Value
	Val Value
}

// Nil returns the nil Value.
func Nil() Value { return Value{} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Int(i int64) Value { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func Array(items ...Value) Value { return Value{kind: KindArray, items: items} }
func Map(pairs ...Pair) Value { return Value{kind: KindMap, pairs: pairs} }

// Binary copies b into a binary Value.
func Binary(b []byte) Value {
	return Value{kind: KindBinary, bin: append([]byte{}, b...)}
}

// Entry is shorthand for a map pair keyed by a string.
func Entry(key string, val Value) Pair {
	return Pair{Key: String(key), Val: val}
}

// Kind returns the variant of v.
func (v Value) Kind() Kind { return v.kind }

// IsNil reports whether v is Nil.
func (v Value) IsNil() bool { return v.kind == KindNil }

// The As accessors return the held value and whether v is of that kind.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsBinary returns a copy of the bytes held by a binary Value.
func (v Value) AsBinary() ([]byte, bool) {
	if v.kind != KindBinary {
		return nil, false
	}
	return append([]byte{}, v.bin...), true
}

// Items returns the elements of an array Value. The slice must not be
// modified.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	return v.items
}

// Pairs returns the entries of a map Value in wire order. The slice must not
// be modified.
func (v Value) Pairs() []Pair {
	if v.kind != KindMap {
		return nil
	}
	return v.pairs
}

// Len returns the element count of an array or map, the byte length of a
// string or binary, and 0 otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindString:
		return len(v.s)
	case KindBinary:
		return len(v.bin)
	case KindArray:
		return len(v.items)
	case KindMap:
		return len(v.pairs)
	default:
		return 0
	}
}

// Lookup returns the value of the first entry whose key is the string key.
func (v Value) Lookup(key string) (Value, bool) {
	for _, p := range v.Pairs() {
		if k, ok := p.Key.AsString(); ok && k == key {
			return p.Val, true
		}
	}
	return Value{}, false
}

// Equal reports whether a and b hold the same structure. Floats compare by
// bit pattern so NaN equals itself.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNil:
		return true
	case KindBool:
		return a.b == b.b
	case KindInt:
		return a.i == b.i
	case KindFloat:
		return math.Float64bits(a.f) == math.Float64bits(b.f)
	case KindString:
		return a.s == b.s
	case KindBinary:
		return string(a.bin) == string(b.bin)
	case KindArray:
		if len(a.items) != len(b.items) {
			return false
		}
		for i := range a.items {
			if !Equal(a.items[i], b.items[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.pairs) != len(b.pairs) {
			return false
		}
		for i := range a.pairs {
			if !Equal(a.pairs[i].Key, b.pairs[i].Key) || !Equal(a.pairs[i].Val, b.pairs[i].Val) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders v in a JSON-like form for logs and debugging.
func (v Value) String() string {
	var sb strings.Builder
	writeJSON(&sb, v)
	return sb.String()
}

func writeJSON(sb *strings.Builder, v Value) {
	switch v.kind {
	case KindNil:
		sb.WriteString("null")
	case KindBool:
		sb.WriteString(strconv.FormatBool(v.b))
	case KindInt:
		sb.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			sb.WriteString(strconv.Quote(strconv.FormatFloat(v.f, 'g', -1, 64)))
			return
		}
		sb.WriteString(strconv.FormatFloat(v.f, 'g', -1, 64))
	case KindString:
		writeQuoted(sb, v.s)
	case KindBinary:
		writeQuoted(sb, "0x"+hex.EncodeToString(v.bin))
	case KindArray:
		sb.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeJSON(sb, item)
		}
		sb.WriteByte(']')
	case KindMap:
		sb.WriteByte('{')
		for i, p := range v.pairs {
			if i > 0 {
				sb.WriteByte(',')
			}
			if s, ok := p.Key.AsString(); ok {
				writeQuoted(sb, s)
			} else {
				writeQuoted(sb, p.Key.String())
			}
			sb.WriteByte(':')
			writeJSON(sb, p.Val)
		}
		sb.WriteByte('}')
	}
}

func writeQuoted(sb *strings.Builder, s string) {
	b, _ := json.Marshal(s)
	sb.Write(b)
}
