package webhook

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/sevigo/build-warden/internal/core"
)

// Deduplicator remembers delivery ids for a retention window. Exactly one
// caller is admitted per id while it is remembered. The unique delivery id
// index in the job store backs this up when an id has been evicted.
type Deduplicator struct {
	mu   sync.Mutex
	seen *expirable.LRU[string, time.Time]
}

// NewDeduplicator remembers up to capacity ids, each for retention.
func NewDeduplicator(capacity int, retention time.Duration) *Deduplicator {
	if capacity <= 0 {
		capacity = 1
	}
	return &Deduplicator{
		seen: expirable.NewLRU[string, time.Time](capacity, nil, retention),
	}
}

// Admit records deliveryID and reports whether it was new.
func (d *Deduplicator) Admit(deliveryID string) core.Admission {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen.Peek(deliveryID); ok {
		return core.Duplicate
	}
	d.seen.Add(deliveryID, time.Now())
	return core.Accepted
}

// Forget releases deliveryID so a redelivery is admitted again. It is used
// when no job could be created for an admitted delivery.
func (d *Deduplicator) Forget(deliveryID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen.Remove(deliveryID)
}

// Len returns the number of remembered ids.
func (d *Deduplicator) Len() int {
	return d.seen.Len()
}
