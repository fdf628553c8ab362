package refcache

import (
	"sort"

	"github.com/pkg/errors"
	"go.refcache.dev/core/metrics"
	"go.refcache.dev/core/refs"
)

// ErrUnresolvedCodeSystem is returned when resolving the token value of a
// record whose code system hasn't yet been resolved.
var ErrUnresolvedCodeSystem = errors.New("code system of token value is not resolved")

// ResolveCodeSystems assigns CodeSystemID to each of |recs| having a cached
// code system. Each distinct code system is looked up once, regardless of
// the number of records which share it. Returned |misses| are the distinct,
// sorted code-system names which aren't cached.
func (t *Txn) ResolveCodeSystems(recs []*refs.TokenValueRec) (hits int, misses []string, err error) {
	if t.done {
		return 0, nil, ErrTxnDone
	}
	var byKey = make(map[string][]*refs.TokenValueRec)
	for _, r := range recs {
		var name = r.CodeSystemName()
		byKey[name] = append(byKey[name], r)
	}

	hits, misses = resolveKeys(t.codeSystemDir(), byKey, func(r *refs.TokenValueRec, id int32) {
		r.CodeSystemID = id
	})
	sort.Strings(misses)
	return hits, misses, nil
}

// ResolveTokenValues assigns CommonTokenValueID to each of |recs| having a
// cached (code system, token value) pair. Records having a nil TokenValue are
// skipped. As with ResolveCodeSystems, each distinct key is looked up once,
// and distinct |misses| are returned ordered by CommonTokenKey.Less.
func (t *Txn) ResolveTokenValues(recs []*refs.TokenValueRec) (hits int, misses []refs.CommonTokenKey, err error) {
	if t.done {
		return 0, nil, ErrTxnDone
	}
	var byKey = make(map[refs.CommonTokenKey][]*refs.TokenValueRec)
	for _, r := range recs {
		var key, ok = r.CommonTokenKey()
		if !ok {
			continue
		} else if r.CodeSystemID == 0 {
			return 0, nil, errors.WithMessagef(ErrUnresolvedCodeSystem,
				"code system %q, token value %q", r.CodeSystemName(), *r.TokenValue)
		}
		byKey[key] = append(byKey[key], r)
	}

	hits, misses = resolveKeys(t.commonTokenValueDir(), byKey, func(r *refs.TokenValueRec, id int64) {
		r.CommonTokenValueID = id
	})
	sort.Slice(misses, func(i, j int) bool { return misses[i].Less(misses[j]) })
	return hits, misses, nil
}

// ResolveExternalSystems returns cached ids of distinct |names|,
// and the sorted names which missed.
func (t *Txn) ResolveExternalSystems(names []string) (ids map[string]int32, misses []string, err error) {
	if t.done {
		return nil, nil, ErrTxnDone
	}
	ids, misses = resolveNames(t.externalSystemDir(), names)
	return ids, misses, nil
}

// ResolveExternalReferenceValues returns cached ids of distinct |values|,
// and the sorted values which missed.
func (t *Txn) ResolveExternalReferenceValues(values []string) (ids map[string]int64, misses []string, err error) {
	if t.done {
		return nil, nil, ErrTxnDone
	}
	ids, misses = resolveNames(t.externalReferenceValueDir(), values)
	return ids, misses, nil
}

// resolveKeys looks up each key of |byKey| once, applying a found id to each
// of the key's records.
func resolveKeys[K comparable, V ID](
	dir directory[K, V],
	byKey map[K][]*refs.TokenValueRec,
	apply func(*refs.TokenValueRec, V),
) (hits int, misses []K) {
	for key, recs := range byKey {
		if id, ok := dir.lookup(key); ok {
			for _, r := range recs {
				apply(r, id)
			}
			hits++
		} else {
			misses = append(misses, key)
		}
	}
	countLookups(dir.shared.Directory(), hits, len(misses))
	return hits, misses
}

func resolveNames[V ID](dir directory[string, V], names []string) (map[string]V, []string) {
	var ids = make(map[string]V, len(names))
	var missed = make(map[string]struct{})
	var misses []string

	for _, name := range names {
		if _, ok := ids[name]; ok {
			continue // Duplicate of a hit.
		} else if _, ok = missed[name]; ok {
			continue // Duplicate of a miss.
		} else if id, ok := dir.lookup(name); ok {
			ids[name] = id
		} else {
			missed[name] = struct{}{}
			misses = append(misses, name)
		}
	}
	countLookups(dir.shared.Directory(), len(ids), len(misses))

	sort.Strings(misses)
	return ids, misses
}

func countLookups(directory string, hits, misses int) {
	if hits != 0 {
		metrics.CacheLookupsTotal.WithLabelValues(directory, metrics.Hit).Add(float64(hits))
	}
	if misses != 0 {
		metrics.CacheLookupsTotal.WithLabelValues(directory, metrics.Miss).Add(float64(misses))
	}
}
