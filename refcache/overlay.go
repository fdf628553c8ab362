package refcache

import (
	"github.com/pkg/errors"
	"go.refcache.dev/core/metrics"
)

// Overlay holds ids created by a single in-flight unit-of-work, which mustn't
// be visible to other units-of-work until it commits. It has the lookup and
// insert shape of Shared, but isn't safe for concurrent use.
type Overlay[K comparable, V ID] struct {
	directory string
	m         map[K]V
}

// NewOverlay returns an empty Overlay of the named |directory|.
func NewOverlay[K comparable, V ID](directory string) *Overlay[K, V] {
	return &Overlay[K, V]{directory: directory, m: make(map[K]V)}
}

// Lookup returns the id of |key| created by this unit-of-work.
func (o *Overlay[K, V]) Lookup(key K) (V, bool) {
	var v, ok = o.m[key]
	return v, ok
}

// Insert records |id| for |key|, with the conflict semantics of Shared.Insert.
func (o *Overlay[K, V]) Insert(key K, id V) error {
	if prev, ok := o.m[key]; ok && prev != id {
		metrics.CacheConflictsTotal.WithLabelValues(o.directory).Inc()
		return errors.WithMessagef(ErrConflictingID, "%s key %v (overlaid %d, inserted %d)",
			o.directory, key, prev, id)
	}
	o.m[key] = id
	return nil
}

// Len is the number of overlaid keys.
func (o *Overlay[K, V]) Len() int { return len(o.m) }

// promote inserts every entry of the Overlay into |into|, and then empties
// the Overlay. All entries are attempted; the first error is returned.
func (o *Overlay[K, V]) promote(into *Shared[K, V]) error {
	var first error
	for k, v := range o.m {
		if err := into.Insert(k, v); err != nil && first == nil {
			first = err
		}
	}
	metrics.CachePromotionsTotal.WithLabelValues(o.directory).Add(float64(len(o.m)))
	o.m = make(map[K]V)
	return first
}

// discard empties the Overlay without promotion.
func (o *Overlay[K, V]) discard() { o.m = make(map[K]V) }

// directory pairs the Overlay and Shared of a directory, for lookups which
// prefer the unit-of-work's own ids.
type directory[K comparable, V ID] struct {
	overlay *Overlay[K, V]
	shared  *Shared[K, V]
}

func (d directory[K, V]) lookup(key K) (V, bool) {
	if v, ok := d.overlay.Lookup(key); ok {
		return v, true
	}
	return d.shared.Lookup(key)
}
