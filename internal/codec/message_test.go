package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"vtrace/internal/clock"
	"vtrace/internal/wire"
)

func TestEncodeMessage_Layout(t *testing.T) {
	snap := clock.FromMap(map[string]int64{"server": 2, "client": 3})
	msg, err := EncodeMessage(snap, wire.Int(42))
	require.NoError(t, err)

	expected := wire.Map(
		wire.Entry("clock", wire.Map(
			wire.Entry("client", wire.Int(3)),
			wire.Entry("server", wire.Int(2)),
		)),
		wire.Entry("payload", wire.Int(42)),
	)
	want, err := wire.Encode(expected)
	require.NoError(t, err)
	assert.Equal(t, want, msg)
}

func TestDecodeMessage(t *testing.T) {
	msg := mustEncode(t, wire.Map(
		wire.Entry("version", wire.Int(1)),
		wire.Entry("clock", wire.Map(
			wire.Entry("a", wire.Int(2)),
			wire.Entry("a", wire.Int(5)),
			wire.Entry("a", wire.Int(3)),
			wire.Entry("b", wire.Int(-4)),
		)),
		wire.Entry("payload", wire.String("hi")),
	))

	snap, payload, err := DecodeMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, int64(5), snap.FindTicks("a"), "highest duplicate wins")
	assert.Equal(t, int64(1), snap.FindTicks("b"), "non-positive counters clamp to 1")
	assert.True(t, wire.Equal(wire.String("hi"), payload))
}

func TestDecodeMessage_EmptyClock(t *testing.T) {
	msg := mustEncode(t, wire.Map(wire.Entry("clock", wire.Map()), wire.Entry("payload", wire.Nil())))

	snap, payload, err := DecodeMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Len())
	assert.True(t, payload.IsNil())
}
