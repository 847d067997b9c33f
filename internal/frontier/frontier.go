// Package frontier provides a lock-free monotonic counter used to track
// write frontiers (the next-to-write LBA within a region) and other
// high-water marks that must never regress under concurrent updates.
package frontier

import "sync/atomic"

// Atomic is a fetch-max style counter. Unlike a plain atomic.Uint64, its
// only mutator that matters for correctness is RaiseTo, which never lets
// the stored value move backwards even under concurrent callers.
type Atomic struct {
	value atomic.Uint64
}

// Load atomically reads the current value.
func (a *Atomic) Load() uint64 {
	return a.value.Load()
}

// Store unconditionally sets the value, bypassing the monotonicity check.
// Used at initialization (region attach, superblock load), at explicit
// resets (WAL removal, truncate), and by Seek to reposition a handle's
// cursor.
func (a *Atomic) Store(v uint64) {
	a.value.Store(v)
}

// RaiseTo advances the counter to max(current, proposed) using a
// compare-and-swap loop. It reports the resulting value and whether this
// call was the one that advanced it. If another concurrent writer has
// already surpassed proposed, the update is skipped and raised is false.
func (a *Atomic) RaiseTo(proposed uint64) (value uint64, raised bool) {
	for {
		current := a.value.Load()
		if proposed <= current {
			return current, false
		}
		if a.value.CompareAndSwap(current, proposed) {
			return proposed, true
		}
	}
}
