package telemetry

import (
	"sync"

	"golang.org/x/crypto/blake2b"
)

const (
	DefaultDedupCapacity   = 2000
	DefaultDedupEvictBatch = 500
)

type digest [blake2b.Size256]byte

// Mark is the outcome of Reserve.
type Mark int

const (
	// MarkNew means the payload was unknown and is now reserved.
	MarkNew Mark = iota
	// MarkDuplicate means the payload was stored before.
	MarkDuplicate
	// MarkPending means another request holds the reservation and has not
	// finished storing.
	MarkPending
)

// Dedup remembers digests of recently ingested payloads so that retry storms
// from the sender are acknowledged without being stored twice. It is bounded:
// once capacity is reached an arbitrary batch of committed entries is
// evicted, so the window is approximate rather than strict LRU. Reserved
// entries are never evicted. Safe for concurrent use.
type Dedup struct {
	mu sync.Mutex
	// seen maps a digest to true while its reservation is pending.
	seen       map[digest]bool
	capacity   int
	evictBatch int
}

// NewDedup creates a Dedup holding at most capacity digests and evicting
// evictBatch of them on overflow. Non-positive values select the defaults.
func NewDedup(capacity, evictBatch int) *Dedup {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	if evictBatch <= 0 {
		evictBatch = DefaultDedupEvictBatch
	}
	if evictBatch > capacity {
		evictBatch = capacity
	}
	return &Dedup{
		seen:       make(map[digest]bool, capacity),
		capacity:   capacity,
		evictBatch: evictBatch,
	}
}

// Seen reports whether raw has been recorded before. If not, it is recorded
// and false is returned.
func (d *Dedup) Seen(raw string) bool {
	return d.add(raw, false) != MarkNew
}

// Reserve records raw as pending when it is unknown. The holder must end the
// reservation with Commit or Forget.
func (d *Dedup) Reserve(raw string) Mark {
	return d.add(raw, true)
}

func (d *Dedup) add(raw string, pending bool) Mark {
	key := blake2b.Sum256([]byte(raw))

	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.seen[key]; ok {
		if p {
			return MarkPending
		}
		return MarkDuplicate
	}
	if len(d.seen) >= d.capacity {
		d.evictLocked()
	}
	d.seen[key] = pending
	return MarkNew
}

// Commit turns a reservation into a stored entry.
func (d *Dedup) Commit(raw string) {
	key := blake2b.Sum256([]byte(raw))

	d.mu.Lock()
	if _, ok := d.seen[key]; ok {
		d.seen[key] = false
	}
	d.mu.Unlock()
}

// Forget drops raw from the window so a later retry is processed again.
func (d *Dedup) Forget(raw string) {
	key := blake2b.Sum256([]byte(raw))

	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
}

// Len returns the number of digests currently held.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *Dedup) evictLocked() {
	n := 0
	for k, pending := range d.seen {
		if n >= d.evictBatch {
			return
		}
		if pending {
			continue
		}
		delete(d.seen, k)
		n++
	}
}
