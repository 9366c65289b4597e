package temporal

import (
	"github.com/emberfall/cinder/internal/bus"
)

// maxRingEntries bounds the shared event ring of one pattern instance.
// Exceeding it is treated as an internal inconsistency: the instance is
// reset rather than failing the engine.
const maxRingEntries = 8192

// entry is one retained event with its pre-computed group key and, for
// aggregates, its extracted numeric value.
type entry struct {
	at    int64 // ms epoch
	key   string
	num   float64
	event bus.Event
}

// ring is a bucketed time-indexed buffer. Events land in the bucket of
// their timestamp; expiry drops whole buckets, so a sweep is O(k) in the
// number of expiring buckets rather than the number of events.
type ring struct {
	bucketMs int64
	buckets  map[int64][]entry
	oldest   int64 // lowest populated bucket index, valid when count > 0
	count    int
}

// newRing sizes buckets from the pattern window: windows are split into
// sixteenths, floored at 1ms.
func newRing(windowMs int64) *ring {
	b := windowMs / 16
	if b < 1 {
		b = 1
	}
	return &ring{bucketMs: b, buckets: make(map[int64][]entry)}
}

func (r *ring) bucketOf(atMs int64) int64 {
	return atMs / r.bucketMs
}

// add appends an entry. Returns false when the ring is full; the caller
// resets the instance.
func (r *ring) add(e entry) bool {
	if r.count >= maxRingEntries {
		return false
	}
	b := r.bucketOf(e.at)
	if r.count == 0 || b < r.oldest {
		r.oldest = b
	}
	r.buckets[b] = append(r.buckets[b], e)
	r.count++
	return true
}

// expire drops every bucket wholly before cutoffMs and returns the
// dropped entries so callers can unwind rolling aggregates. Entries in
// the boundary bucket are filtered individually.
func (r *ring) expire(cutoffMs int64) []entry {
	if r.count == 0 {
		return nil
	}
	var dropped []entry
	boundary := r.bucketOf(cutoffMs)
	for b := r.oldest; b < boundary; b++ {
		if es, ok := r.buckets[b]; ok {
			dropped = append(dropped, es...)
			r.count -= len(es)
			delete(r.buckets, b)
		}
	}
	if es, ok := r.buckets[boundary]; ok {
		kept := es[:0]
		for _, e := range es {
			if e.at >= cutoffMs {
				kept = append(kept, e)
			} else {
				dropped = append(dropped, e)
			}
		}
		r.count -= len(es) - len(kept)
		if len(kept) == 0 {
			delete(r.buckets, boundary)
		} else {
			r.buckets[boundary] = kept
		}
	}
	r.oldest = boundary
	return dropped
}

// forKey visits live entries with the given group key in time order.
func (r *ring) forKey(key string, visit func(entry)) {
	if r.count == 0 {
		return
	}
	// Bucket indexes are visited in order; entries within a bucket are
	// already in arrival order.
	maxB := r.maxBucket()
	for b := r.oldest; b <= maxB; b++ {
		for _, e := range r.buckets[b] {
			if e.key == key {
				visit(e)
			}
		}
	}
}

func (r *ring) maxBucket() int64 {
	var max int64
	first := true
	for b := range r.buckets {
		if first || b > max {
			max = b
			first = false
		}
	}
	return max
}

// reset discards all entries.
func (r *ring) reset() {
	r.buckets = make(map[int64][]entry)
	r.count = 0
}
