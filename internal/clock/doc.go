// Package clock provides the vector clock used to track causality between
// processes. A VectorClock holds one logical counter per process ID and
// supports the tick, set and merge operations of the vector clock update
// rules; Snapshot is its immutable, shareable copy.
package clock
