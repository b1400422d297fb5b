package wire

import (
	"errors"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value Value
	}{
		{"nil", Nil()},
		{"true", Bool(true)},
		{"false", Bool(false)},
		{"zero", Int(0)},
		{"positive fixnum", Int(42)},
		{"negative fixnum", Int(-7)},
		{"uint8", Int(200)},
		{"int16", Int(-3000)},
		{"uint32", Int(1 << 31)},
		{"max int64", Int(math.MaxInt64)},
		{"min int64", Int(math.MinInt64)},
		{"float", Float(3.25)},
		{"nan", Float(math.NaN())},
		{"empty string", String("")},
		{"string", String("happened-before")},
		{"long string", String(string(make([]byte, 70000)))},
		{"empty binary", Binary(nil)},
		{"binary", Binary([]byte{0, 1, 2, 0xff})},
		{"empty array", Array()},
		{"array", Array(Int(1), String("two"), Nil(), Bool(true))},
		{"empty map", Map()},
		{"clock message", Map(
			Entry("clock", Map(Entry("client", Int(3)), Entry("server", Int(2)))),
			Entry("payload", Int(42)),
		)},
		{"non-string keys", Map(Pair{Key: Int(1), Val: String("one")}, Pair{Key: Nil(), Val: Array()})},
		{"duplicate keys kept", Map(Entry("a", Int(1)), Entry("a", Int(2)))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.value)
			require.NoError(t, err)

			got, err := Decode(data)
			require.NoError(t, err)
			assert.True(t, Equal(tt.value, got), "want %s, got %s", tt.value, got)
		})
	}
}

func TestEncode_CompactIntegers(t *testing.T) {
	data, err := Encode(Int(5))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05}, data)

	data, err = Encode(Map(Entry("a", Int(1))))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x81, 0xa1, 'a', 0x01}, data)
}

func TestEncode_TooDeep(t *testing.T) {
	v := Int(1)
	for i := 0; i <= MaxDepth+1; i++ {
		v = Array(v)
	}

	_, err := Encode(v)
	var encErr *EncodingError
	require.ErrorAs(t, err, &encErr)
	assert.ErrorIs(t, err, errTooDeep)
}

func TestEncode_UnknownKind(t *testing.T) {
	_, err := Encode(Value{kind: Kind(99)})
	var encErr *EncodingError
	require.ErrorAs(t, err, &encErr)
	assert.Contains(t, err.Error(), "unsupported kind")
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantEOF bool
	}{
		{"empty input", []byte{}, true},
		{"truncated map header", []byte{0xde, 0x00}, true},
		{"truncated map body", []byte{0x82, 0xa1, 'a', 0x01}, true},
		{"truncated string", []byte{0xa5, 'a', 'b'}, true},
		{"truncated int64", []byte{0xd3, 0x00, 0x01}, true},
		{"huge array header", []byte{0xdd, 0xff, 0xff, 0xff, 0xff}, true},
		{"ext type", []byte{0xd4, 0x01, 0x00}, false},
		{"never used code", []byte{0xc1}, false},
		{"uint64 overflow", []byte{0xcf, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, false},
		{"trailing bytes", []byte{0x01, 0x02}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			var decErr *DecodingError
			require.ErrorAs(t, err, &decErr)
			if tt.wantEOF {
				assert.True(t, errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF), "got %v", err)
			}
		})
	}
}

func TestDecode_TooDeep(t *testing.T) {
	data := make([]byte, 0, MaxDepth+3)
	for i := 0; i < MaxDepth+2; i++ {
		data = append(data, 0x91) // fixarray of one element
	}
	data = append(data, 0x00)

	_, err := Decode(data)
	assert.ErrorIs(t, err, errTooDeep)
}

func TestDecode_DoesNotAliasInput(t *testing.T) {
	data, err := Encode(Binary([]byte("abc")))
	require.NoError(t, err)

	v, err := Decode(data)
	require.NoError(t, err)
	for i := range data {
		data[i] = 0
	}

	b, ok := v.AsBinary()
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), b)
}

func TestMalformed(t *testing.T) {
	err := Malformed("missing %q", "clock")
	var decErr *DecodingError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, int64(-1), decErr.Offset)
	assert.Equal(t, `wire decode: missing "clock"`, err.Error())
}
