package clock

import (
	"encoding/json"
	"fmt"
)

// Snapshot is an immutable copy of a vector clock taken at one point in
// time. The zero value is an empty clock.
type Snapshot struct {
	entries map[string]int64
}

// FromMap builds a snapshot from entries. Counters below 1 are stored as 1,
// matching VectorClock.Set.
func FromMap(entries map[string]int64) Snapshot {
	out := make(map[string]int64, len(entries))
	for pid, ticks := range entries {
		if ticks <= 0 {
			ticks = 1
		}
		out[pid] = ticks
	}
	return Snapshot{entries: out}
}

// FindTicks returns the counter for pid, or -1 if not present.
func (s Snapshot) FindTicks(pid string) int64 {
	ticks, ok := s.entries[pid]
	if !ok {
		return -1
	}
	return ticks
}

// LastUpdate returns the highest counter, or 0 if the snapshot is empty.
func (s Snapshot) LastUpdate() int64 {
	return lastUpdate(s.entries)
}

// Len returns the number of entries.
func (s Snapshot) Len() int {
	return len(s.entries)
}

// Range calls fn for every entry in ascending process ID order.
func (s Snapshot) Range(fn func(pid string, ticks int64) bool) {
	rangeSorted(s.entries, fn)
}

// Entries returns a fresh map holding the snapshot's entries.
func (s Snapshot) Entries() map[string]int64 {
	return copyEntries(s.entries)
}

// Compare compares the snapshot with another clock.
func (s Snapshot) Compare(other View) CompareResult {
	return compare(s, other)
}

// Equal checks if both clocks hold the same entries.
func (s Snapshot) Equal(other View) bool {
	return equal(s, other)
}

// Dominates reports whether s is pointwise greater than or equal to other.
func (s Snapshot) Dominates(other View) bool {
	return dominates(s, other)
}

// Format renders the snapshot as {"p1":3,"p2":5}.
func (s Snapshot) Format() string {
	return format(s.entries)
}

func (s Snapshot) String() string {
	return s.Format()
}

// Parse reads a clock rendered by Format back into a snapshot.
func Parse(s string) (Snapshot, error) {
	var entries map[string]int64
	if err := json.Unmarshal([]byte(s), &entries); err != nil {
		return Snapshot{}, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return FromMap(entries), nil
}
