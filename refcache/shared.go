package refcache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.refcache.dev/core/metrics"
)

// ID is the type of a directory's surrogate ids.
type ID interface{ ~int32 | ~int64 }

// ErrConflictingID is the cause of an insert of a key which is already cached
// with a different id. It indicates a broken isolation assumption and is
// never retried.
var ErrConflictingID = errors.New("conflicting id")

// Shared maps the natural keys of a directory to their surrogate ids, and is
// shared by all units-of-work of a process. It's safe for concurrent use.
//
// A Shared of positive size is bounded, evicting least-recently used keys.
// An evicted key is simply a future miss: ids are immutable once assigned,
// so any id which is present is always correct.
type Shared[K comparable, V ID] struct {
	directory string

	bounded *lru.Cache // Set iff bounded.
	mu      sync.RWMutex
	m       map[K]V // Set iff unbounded.
}

// NewShared returns a Shared of the named |directory|, bounded to |size|
// entries, or unbounded if |size| <= 0.
func NewShared[K comparable, V ID](directory string, size int) *Shared[K, V] {
	var s = &Shared[K, V]{directory: directory}

	if size > 0 {
		var err error
		if s.bounded, err = lru.New(size); err != nil {
			panic(err.Error()) // Only errors on size <= 0.
		}
	} else {
		s.m = make(map[K]V)
	}
	return s
}

// Directory is the name of the directory cached by the Shared.
func (s *Shared[K, V]) Directory() string { return s.directory }

// Lookup returns the cached id of |key|.
func (s *Shared[K, V]) Lookup(key K) (V, bool) {
	if s.bounded != nil {
		if v, ok := s.bounded.Get(key); ok {
			return v.(V), true
		}
		return 0, false
	}

	s.mu.RLock()
	var v, ok = s.m[key]
	s.mu.RUnlock()
	return v, ok
}

// Insert caches |id| for |key|. Inserting a key which is already cached with
// the same id is a no-op, and with a different id fails with ErrConflictingID.
func (s *Shared[K, V]) Insert(key K, id V) error {
	var prev V
	var ok bool

	if s.bounded != nil {
		var p interface{}
		if p, ok, _ = s.bounded.PeekOrAdd(key, id); ok {
			prev = p.(V)
		}
	} else {
		s.mu.Lock()
		if prev, ok = s.m[key]; !ok {
			s.m[key] = id
		}
		s.mu.Unlock()
	}

	if ok && prev != id {
		metrics.CacheConflictsTotal.WithLabelValues(s.directory).Inc()
		log.WithFields(log.Fields{
			"directory": s.directory,
			"key":       key,
			"cached":    prev,
			"inserted":  id,
		}).Error("conflicting id inserted into shared cache")

		return errors.WithMessagef(ErrConflictingID, "%s key %v (cached %d, inserted %d)",
			s.directory, key, prev, id)
	}
	return nil
}

// Len is the number of cached keys.
func (s *Shared[K, V]) Len() int {
	if s.bounded != nil {
		return s.bounded.Len()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
