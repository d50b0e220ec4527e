// Package dedup canonicalizes extracted places and merges partial duplicates
// produced by different search tasks.
package dedup

import (
	"sync"

	"github.com/khushsoniamparo/Google-Extractor/gmaps"
)

// Sink receives canonical records: Create for a first sighting, Update when a
// later merge changed an existing canonical record.
type Sink interface {
	Create(place *gmaps.Place)
	Update(key string, place *gmaps.Place)
}

// Deduper owns the canonical record per dedup key. Merging uses
// first-non-empty-wins per field: the canonical record never loses a
// previously-known non-empty field.
type Deduper struct {
	mu   sync.Mutex
	seen map[string]*gmaps.Place
	sink Sink
}

func New(sink Sink) *Deduper {
	return &Deduper{
		seen: make(map[string]*gmaps.Place),
		sink: sink,
	}
}

// Add routes one extracted place. Unnamed or keyless records are dropped.
// Reports whether the place was accepted as new.
func (d *Deduper) Add(place *gmaps.Place) bool {
	if place == nil || place.Name == "" {
		return false
	}

	key := place.DedupKey()
	if key == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	canonical, ok := d.seen[key]
	if !ok {
		canonical = place.Clone()
		d.seen[key] = canonical
		d.sink.Create(canonical.Clone())

		return true
	}

	if canonical.MergeFrom(place) {
		d.sink.Update(key, canonical.Clone())
	}

	return false
}

// Count returns the number of canonical records seen so far.
func (d *Deduper) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.seen)
}
