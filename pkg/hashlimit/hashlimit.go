// Package hashlimit implements a fixed-capacity table of token buckets
// keyed by an opaque byte string.
//
// The table trades accounting fidelity for bounded memory and O(1) work:
// each slot holds exactly one bucket, and a key hashing into a slot owned
// by a different key silently resets it. Under collisions admission is
// slightly over-permissive, which is acceptable for the broadcast rate
// gates it backs.
package hashlimit

import (
	"bytes"
	"hash/maphash"
	"time"
)

type bucket struct {
	key        []byte
	tokens     float64
	lastRefill time.Time
}

// HashLimit is a fixed-size open table of token buckets. All buckets share
// the same rate and burst. It is not safe for concurrent use; the event
// loop is the only writer.
type HashLimit struct {
	buckets []bucket
	rate    float64
	burst   float64
	seed    maphash.Seed

	// now is swappable for tests. time.Time carries a monotonic reading,
	// so wall-clock jumps never refill buckets.
	now func() time.Time
}

// New returns a table with the given capacity, refill rate in tokens per
// second, and burst ceiling.
func New(capacity int, rate, burst float64) *HashLimit {
	if capacity <= 0 {
		panic("hashlimit: capacity must be positive")
	}
	return &HashLimit{
		buckets: make([]bucket, capacity),
		rate:    rate,
		burst:   burst,
		seed:    maphash.MakeSeed(),
		now:     time.Now,
	}
}

// Touch consumes one token from the bucket for key, allocating or resetting
// the slot as needed. It reports whether the event is admitted.
func (h *HashLimit) Touch(key []byte) bool {
	slot := &h.buckets[h.slot(key)]
	now := h.now()

	if slot.key == nil || !bytes.Equal(slot.key, key) {
		// New key or collision: the previous occupant is evicted.
		slot.key = append(slot.key[:0], key...)
		slot.tokens = h.burst
		slot.lastRefill = now
	}

	elapsed := now.Sub(slot.lastRefill).Seconds()
	if elapsed > 0 {
		slot.tokens += h.rate * elapsed
		if slot.tokens > h.burst {
			slot.tokens = h.burst
		}
	}
	slot.lastRefill = now

	if slot.tokens >= 1.0 {
		slot.tokens--
		return true
	}
	return false
}

func (h *HashLimit) slot(key []byte) uint64 {
	var mh maphash.Hash
	mh.SetSeed(h.seed)
	mh.Write(key)
	return mh.Sum64() % uint64(len(h.buckets))
}
