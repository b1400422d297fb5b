package wire

import "fmt"

// EncodingError reports a Value that could not be serialized.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("wire encode: %v", e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// DecodingError reports bytes that are malformed, truncated or do not have
// the expected structure. Offset is the input position where decoding
// stopped, or -1 when the failure is structural.
type DecodingError struct {
	Offset int64
	Err    error
}

func (e *DecodingError) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("wire decode: %v", e.Err)
	}
	return fmt.Sprintf("wire decode at byte %d: %v", e.Offset, e.Err)
}

func (e *DecodingError) Unwrap() error { return e.Err }

// Malformed returns a structural DecodingError, for callers that validate the
// shape of a decoded Value.
func Malformed(format string, args ...any) error {
	return &DecodingError{Offset: -1, Err: fmt.Errorf(format, args...)}
}
