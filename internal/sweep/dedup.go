package sweep

import (
	"sync"
	"time"
)

// Dedup suppresses repeated trigger events for the same position within a
// time-to-live window, so overlapping sweeps do not fire duplicate
// settlements. The settlement idempotency key is the hard guarantee; this is
// a cheap first gate that avoids pointless replay round-trips. It is safe
// for concurrent use.
type Dedup struct {
	seen map[string]time.Time // event key -> last seen time
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup instance that considers an event a duplicate if
// it has been seen within the given ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// IsDuplicate returns true if the event key has been seen within the TTL
// window. If the event has not been seen (or has expired), it is recorded
// and false is returned.
func (d *Dedup) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if lastSeen, ok := d.seen[key]; ok {
		if now.Sub(lastSeen) < d.ttl {
			return true
		}
	}

	d.seen[key] = now
	return false
}

// Forget drops an event key so a failed settlement can be retried on the
// next sweep without waiting out the TTL.
func (d *Dedup) Forget(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
}

// Cleanup removes entries that have expired beyond the TTL. Called
// periodically to prevent unbounded memory growth.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, key)
		}
	}
}
