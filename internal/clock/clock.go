package clock

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
)

// JoinFunc is called when a process ID appears in a clock for the first time.
type JoinFunc func(pid string)

// View is the read-only side of a vector clock.
type View interface {
	// FindTicks returns the counter for pid, or -1 if pid has no entry.
	FindTicks(pid string) int64
	// Len returns the number of entries.
	Len() int
	// Range calls fn for each entry in ascending process ID order until fn
	// returns false.
	Range(fn func(pid string, ticks int64) bool)
}

// VectorClock maps process IDs to logical time counters.
// Thread-safe operations should be handled by the caller.
type VectorClock struct {
	entries map[string]int64
	onJoin  JoinFunc
}

// New creates a new empty vector clock.
func New() *VectorClock {
	return &VectorClock{entries: make(map[string]int64)}
}

// WarnOnDynamicJoin installs fn as the dynamic join hook. A nil fn disables
// the warning.
func (vc *VectorClock) WarnOnDynamicJoin(fn JoinFunc) {
	vc.onJoin = fn
}

// Tick increments the counter for the given process ID.
// If the process ID doesn't exist, it's initialized to 1.
func (vc *VectorClock) Tick(pid string) {
	if ticks, ok := vc.entries[pid]; ok {
		vc.entries[pid] = ticks + 1
		return
	}
	vc.entries[pid] = 1
	vc.joined(pid)
}

// Set sets the counter for the given process ID. Values below 1 are stored
// as 1.
func (vc *VectorClock) Set(pid string, ticks int64) {
	if ticks <= 0 {
		ticks = 1
	}
	_, exists := vc.entries[pid]
	vc.entries[pid] = ticks
	if !exists {
		vc.joined(pid)
	}
}

// FindTicks returns the counter for pid, or -1 if not present.
func (vc *VectorClock) FindTicks(pid string) int64 {
	ticks, ok := vc.entries[pid]
	if !ok {
		return -1
	}
	return ticks
}

// LastUpdate returns the highest counter across all entries, or 0 for an
// empty clock.
func (vc *VectorClock) LastUpdate() int64 {
	return lastUpdate(vc.entries)
}

// Len returns the number of entries.
func (vc *VectorClock) Len() int {
	return len(vc.entries)
}

// Range calls fn for every entry in ascending process ID order.
func (vc *VectorClock) Range(fn func(pid string, ticks int64) bool) {
	rangeSorted(vc.entries, fn)
}

// Merge merges another vector clock into this one, taking the maximum
// counter value for each process ID.
func (vc *VectorClock) Merge(other View) {
	other.Range(func(pid string, ticks int64) bool {
		local, ok := vc.entries[pid]
		if !ok {
			vc.Set(pid, ticks)
		} else if local < ticks {
			vc.Set(pid, ticks)
		}
		return true
	})
}

// Copy creates a deep copy of the vector clock. The join hook is not copied.
func (vc *VectorClock) Copy() *VectorClock {
	return &VectorClock{entries: copyEntries(vc.entries)}
}

// Snapshot returns an immutable copy of the current entries.
func (vc *VectorClock) Snapshot() Snapshot {
	return Snapshot{entries: copyEntries(vc.entries)}
}

// Compare compares two vector clocks and returns their relationship.
func (vc *VectorClock) Compare(other View) CompareResult {
	return compare(vc, other)
}

// Equal checks if two vector clocks hold the same entries.
func (vc *VectorClock) Equal(other View) bool {
	return equal(vc, other)
}

// Dominates reports whether every counter in other is less than or equal to
// the matching counter here. Missing local entries count as 0.
func (vc *VectorClock) Dominates(other View) bool {
	return dominates(vc, other)
}

// IsConcurrent returns true if this clock is concurrent with the other.
func (vc *VectorClock) IsConcurrent(other View) bool {
	return compare(vc, other) == Concurrent
}

// Format renders the clock as {"p1":3,"p2":5} with process IDs in
// ascending order.
func (vc *VectorClock) Format() string {
	return format(vc.entries)
}

// String implements fmt.Stringer using Format.
func (vc *VectorClock) String() string {
	return vc.Format()
}

func (vc *VectorClock) joined(pid string) {
	if vc.onJoin != nil {
		vc.onJoin(pid)
	}
}

// CompareResult represents the result of comparing two vector clocks.
type CompareResult int

const (
	// Before indicates this clock happened before the other.
	Before CompareResult = iota
	// After indicates this clock happened after the other.
	After
	// Concurrent indicates the clocks are concurrent (no causal relationship).
	Concurrent
	// Equal indicates the clocks are equal.
	Equal
)

// String returns the name of the result.
func (r CompareResult) String() string {
	switch r {
	case Before:
		return "before"
	case After:
		return "after"
	case Concurrent:
		return "concurrent"
	case Equal:
		return "equal"
	default:
		return "unknown"
	}
}

// ticksOrZero treats a missing entry as 0 for comparisons.
func ticksOrZero(v View, pid string) int64 {
	if t := v.FindTicks(pid); t > 0 {
		return t
	}
	return 0
}

// compare returns:
//   - Equal: if all counters are equal
//   - Before: if a happened before b (all counters <=, at least one <)
//   - After: if a happened after b (all counters >=, at least one >)
//   - Concurrent: if neither dominates
func compare(a, b View) CompareResult {
	var aLess, aGreater bool
	check := func(pid string) {
		av, bv := ticksOrZero(a, pid), ticksOrZero(b, pid)
		if av < bv {
			aLess = true
		} else if av > bv {
			aGreater = true
		}
	}
	a.Range(func(pid string, _ int64) bool { check(pid); return true })
	b.Range(func(pid string, _ int64) bool { check(pid); return true })

	switch {
	case !aLess && !aGreater:
		return Equal
	case aLess && !aGreater:
		return Before
	case aGreater && !aLess:
		return After
	default:
		return Concurrent
	}
}

func equal(a, b View) bool {
	if a.Len() != b.Len() {
		return false
	}
	same := true
	a.Range(func(pid string, ticks int64) bool {
		if b.FindTicks(pid) != ticks {
			same = false
		}
		return same
	})
	return same
}

func dominates(a, b View) bool {
	ok := true
	b.Range(func(pid string, ticks int64) bool {
		if ticksOrZero(a, pid) < ticks {
			ok = false
		}
		return ok
	})
	return ok
}

func lastUpdate(entries map[string]int64) int64 {
	var last int64
	for _, ticks := range entries {
		if ticks > last {
			last = ticks
		}
	}
	return last
}

func sortedKeys(entries map[string]int64) []string {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func rangeSorted(entries map[string]int64, fn func(pid string, ticks int64) bool) {
	for _, k := range sortedKeys(entries) {
		if !fn(k, entries[k]) {
			return
		}
	}
}

func copyEntries(entries map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(entries))
	for k, v := range entries {
		out[k] = v
	}
	return out
}

// format writes keys as JSON strings without HTML escaping so that process
// IDs containing <, > or & render literally.
func format(entries map[string]int64) string {
	if len(entries) == 0 {
		return "{}"
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	out := make([]byte, 0, 16*len(entries))
	out = append(out, '{')
	for i, k := range sortedKeys(entries) {
		if i > 0 {
			out = append(out, ',')
		}
		buf.Reset()
		_ = enc.Encode(k) // strings always encode
		out = append(out, bytes.TrimRight(buf.Bytes(), "\n")...)
		out = append(out, ':')
		out = strconv.AppendInt(out, entries[k], 10)
	}
	out = append(out, '}')
	return string(out)
}
