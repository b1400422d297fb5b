package codec

import (
	"vtrace/internal/clock"
	"vtrace/internal/wire"
)

const (
	clockKey   = "clock"
	payloadKey = "payload"
)

// EncodeMessage builds and encodes the {clock, payload} map. Clock entries
// are written in ascending process ID order.
func EncodeMessage(snap clock.Snapshot, payload wire.Value) ([]byte, error) {
	entries := make([]wire.Pair, 0, snap.Len())
	snap.Range(func(pid string, ticks int64) bool {
		entries = append(entries, wire.Entry(pid, wire.Int(ticks)))
		return true
	})

	return wire.Encode(wire.Map(
		wire.Entry(clockKey, wire.Map(entries...)),
		wire.Entry(payloadKey, payload),
	))
}

// DecodeMessage decodes msg and validates its shape. Unknown top-level keys
// are ignored. When a clock key repeats, the highest counter wins.
func DecodeMessage(msg []byte) (clock.Snapshot, wire.Value, error) {
	v, err := wire.Decode(msg)
	if err != nil {
		return clock.Snapshot{}, wire.Value{}, err
	}
	if v.Kind() != wire.KindMap {
		return clock.Snapshot{}, wire.Value{}, wire.Malformed("message is %s, want map", v.Kind())
	}

	cv, ok := v.Lookup(clockKey)
	if !ok {
		return clock.Snapshot{}, wire.Value{}, wire.Malformed("message has no %q field", clockKey)
	}
	if cv.Kind() != wire.KindMap {
		return clock.Snapshot{}, wire.Value{}, wire.Malformed("%q is %s, want map", clockKey, cv.Kind())
	}

	entries := make(map[string]int64, cv.Len())
	for _, p := range cv.Pairs() {
		pid, ok := p.Key.AsString()
		if !ok {
			return clock.Snapshot{}, wire.Value{}, wire.Malformed("clock key is %s, want string", p.Key.Kind())
		}
		ticks, ok := p.Val.AsInt()
		if !ok {
			return clock.Snapshot{}, wire.Value{}, wire.Malformed("clock entry %q is %s, want int", pid, p.Val.Kind())
		}
		if prev, seen := entries[pid]; !seen || ticks > prev {
			entries[pid] = ticks
		}
	}

	payload, ok := v.Lookup(payloadKey)
	if !ok {
		return clock.Snapshot{}, wire.Value{}, wire.Malformed("message has no %q field", payloadKey)
	}
	return clock.FromMap(entries), payload, nil
}
