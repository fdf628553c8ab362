package refcache

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.refcache.dev/core/refs"
	"golang.org/x/sync/errgroup"
)

func TestSharedInsertSemantics(t *testing.T) {
	for _, size := range []int{0, 16} {
		var s = NewShared[string, int32]("code_systems", size)

		var _, ok = s.Lookup("http://loinc.org")
		require.False(t, ok)

		require.NoError(t, s.Insert("http://loinc.org", 7))
		// Case: re-inserting the same id is a no-op.
		require.NoError(t, s.Insert("http://loinc.org", 7))

		// Case: inserting a conflicting id fails, and the original is retained.
		var err = s.Insert("http://loinc.org", 8)
		require.EqualError(t, err, "code_systems key http://loinc.org (cached 7, inserted 8): conflicting id")
		require.Equal(t, ErrConflictingID, errors.Cause(err))

		id, ok := s.Lookup("http://loinc.org")
		require.True(t, ok)
		require.Equal(t, int32(7), id)
		require.Equal(t, 1, s.Len())
	}
}

func TestSharedBoundedEviction(t *testing.T) {
	var s = NewShared[string, int64]("external_reference_values", 2)

	require.NoError(t, s.Insert("a", 1))
	require.NoError(t, s.Insert("b", 2))
	s.Lookup("a") // Touch "a", so that "b" is least-recently used.
	require.NoError(t, s.Insert("c", 3))

	var _, ok = s.Lookup("b")
	require.False(t, ok)
	id, ok := s.Lookup("a")
	require.True(t, ok)
	require.Equal(t, int64(1), id)
	require.Equal(t, 2, s.Len())

	// An evicted key may be re-inserted with its (immutable) id.
	require.NoError(t, s.Insert("b", 2))
}

func TestSharedConcurrentInserts(t *testing.T) {
	for _, size := range []int{0, 1024} {
		var s = NewShared[refs.CommonTokenKey, int64]("common_token_values", size)
		var grp errgroup.Group

		for w := 0; w != 8; w++ {
			grp.Go(func() error {
				for i := 0; i != 200; i++ {
					var key = refs.CommonTokenKey{CodeSystemID: int32(i % 3), TokenValue: fmt.Sprint(i)}
					if err := s.Insert(key, int64(i+1)); err != nil {
						return err
					}
					if id, ok := s.Lookup(key); !ok || id != int64(i+1) {
						return fmt.Errorf("unexpected lookup %d, %v", id, ok)
					}
				}
				return nil
			})
		}
		require.NoError(t, grp.Wait())
		require.Equal(t, 200, s.Len())
	}
}

func TestOverlayInsertSemantics(t *testing.T) {
	var o = NewOverlay[string, int32]("external_systems")

	require.NoError(t, o.Insert("sys", 3))
	require.NoError(t, o.Insert("sys", 3))
	require.EqualError(t, o.Insert("sys", 4),
		"external_systems key sys (overlaid 3, inserted 4): conflicting id")

	var id, ok = o.Lookup("sys")
	require.True(t, ok)
	require.Equal(t, int32(3), id)
	require.Equal(t, 1, o.Len())
}

func TestTxnCommitPromotesAndRollbackDiscards(t *testing.T) {
	var cache = NewCache(Sizes{})
	var key = refs.CommonTokenKey{CodeSystemID: 1, TokenValue: "1234-5"}

	// Case: a rolled-back Txn leaves no trace in the shared Cache.
	var txn = cache.Begin()
	require.NoError(t, txn.AddCodeSystem("http://loinc.org", 1))
	require.NoError(t, txn.AddCommonTokenValue(key, 10))
	require.NoError(t, txn.AddExternalSystem("http://example.com", 2))
	require.NoError(t, txn.AddExternalReferenceValue("http://example.com/Patient/1", 20))
	require.Equal(t, 4, txn.Pending())

	// Overlaid ids are invisible to a concurrent Txn.
	var other = cache.Begin()
	var rec = &refs.TokenValueRec{CodeSystem: "http://loinc.org"}
	var _, misses, err = other.ResolveCodeSystems([]*refs.TokenValueRec{rec})
	require.NoError(t, err)
	require.Equal(t, []string{"http://loinc.org"}, misses)

	txn.Rollback()
	txn.Rollback() // No-op.
	require.Equal(t, 0, txn.Pending())
	require.Equal(t, 0, cache.CodeSystems.Len())
	require.Equal(t, 0, cache.CommonTokenValues.Len())
	require.Equal(t, ErrTxnDone, txn.Commit())
	require.Equal(t, ErrTxnDone, txn.AddCodeSystem("x", 1))

	// Case: a committed Txn promotes every overlaid id.
	txn = cache.Begin()
	require.NoError(t, txn.AddCodeSystem("http://loinc.org", 1))
	require.NoError(t, txn.AddCommonTokenValue(key, 10))
	require.NoError(t, txn.AddExternalSystem("http://example.com", 2))
	require.NoError(t, txn.AddExternalReferenceValue("http://example.com/Patient/1", 20))
	require.NoError(t, txn.Commit())
	require.Equal(t, ErrTxnDone, txn.Commit())

	var csID, _ = cache.CodeSystems.Lookup("http://loinc.org")
	var ctvID, _ = cache.CommonTokenValues.Lookup(key)
	var esID, _ = cache.ExternalSystems.Lookup("http://example.com")
	var erID, _ = cache.ExternalReferenceValues.Lookup("http://example.com/Patient/1")
	require.Equal(t, []int64{1, 10, 2, 20}, []int64{int64(csID), ctvID, int64(esID), erID})

	// Now visible to |other|, which began before the commit.
	hits, misses, err := other.ResolveCodeSystems([]*refs.TokenValueRec{rec})
	require.NoError(t, err)
	require.Equal(t, 1, hits)
	require.Empty(t, misses)
	require.Equal(t, int32(1), rec.CodeSystemID)
}

func TestTxnCommitSurfacesConflicts(t *testing.T) {
	var cache = NewCache(Sizes{})
	require.NoError(t, cache.CodeSystems.Insert("sys", 1))

	var txn = cache.Begin()
	require.NoError(t, txn.AddCodeSystem("sys", 2)) // Overlay doesn't consult the shared cache.
	require.NoError(t, txn.AddExternalSystem("ext", 5))

	var err = txn.Commit()
	require.Equal(t, ErrConflictingID, errors.Cause(err))

	// Non-conflicting entries are still promoted.
	var id, ok = cache.ExternalSystems.Lookup("ext")
	require.True(t, ok)
	require.Equal(t, int32(5), id)
}

func TestResolveCodeSystemsOncePerDistinctKey(t *testing.T) {
	var cache = NewCache(Sizes{CodeSystems: 8})
	require.NoError(t, cache.CodeSystems.Insert("http://loinc.org", 1))

	var txn = cache.Begin()
	require.NoError(t, txn.AddCodeSystem("http://snomed.info/sct", 2))

	var recs []*refs.TokenValueRec
	for i := 0; i != 100; i++ {
		recs = append(recs,
			&refs.TokenValueRec{CodeSystem: "http://loinc.org"},
			&refs.TokenValueRec{CodeSystem: "http://snomed.info/sct"},
			&refs.TokenValueRec{CodeSystem: "urn:b"},
			&refs.TokenValueRec{CodeSystem: "urn:a"},
			&refs.TokenValueRec{}, // Default system.
		)
	}
	var hits, misses, err = txn.ResolveCodeSystems(recs)
	require.NoError(t, err)
	require.Equal(t, 2, hits)
	require.Equal(t, []string{refs.DefaultCodeSystem, "urn:a", "urn:b"}, misses)

	for _, r := range recs {
		switch r.CodeSystem {
		case "http://loinc.org":
			require.Equal(t, int32(1), r.CodeSystemID)
		case "http://snomed.info/sct":
			require.Equal(t, int32(2), r.CodeSystemID) // From the overlay.
		default:
			require.Equal(t, int32(0), r.CodeSystemID)
		}
	}
}

func TestResolveTokenValuesByPair(t *testing.T) {
	var cache = NewCache(Sizes{})
	var txn = cache.Begin()

	require.NoError(t, txn.AddCommonTokenValue(refs.CommonTokenKey{CodeSystemID: 1, TokenValue: "A"}, 100))

	var recs = []*refs.TokenValueRec{
		{CodeSystemID: 1, TokenValue: refs.String("A")},
		{CodeSystemID: 2, TokenValue: refs.String("A")}, // Same token, other system.
		{CodeSystemID: 2, TokenValue: refs.String("A")},
		{CodeSystemID: 1, TokenValue: refs.String("B")},
		{CodeSystemID: 0, TokenValue: nil}, // Skipped.
	}
	var hits, misses, err = txn.ResolveTokenValues(recs)
	require.NoError(t, err)
	require.Equal(t, 1, hits)
	require.Equal(t, []refs.CommonTokenKey{
		{CodeSystemID: 1, TokenValue: "B"},
		{CodeSystemID: 2, TokenValue: "A"},
	}, misses)
	require.Equal(t, int64(100), recs[0].CommonTokenValueID)
	require.Equal(t, int64(0), recs[1].CommonTokenValueID)
	require.Equal(t, int64(0), recs[4].CommonTokenValueID)

	// Case: token values require a resolved code system.
	_, _, err = txn.ResolveTokenValues([]*refs.TokenValueRec{{CodeSystem: "x", TokenValue: refs.String("v")}})
	require.Equal(t, ErrUnresolvedCodeSystem, errors.Cause(err))
}

func TestResolveExternalNames(t *testing.T) {
	var cache = NewCache(Sizes{})
	require.NoError(t, cache.ExternalSystems.Insert("b", 2))

	var txn = cache.Begin()
	var ids, misses, err = txn.ResolveExternalSystems([]string{"c", "b", "a", "c", "b"})
	require.NoError(t, err)
	require.Equal(t, map[string]int32{"b": 2}, ids)
	require.Equal(t, []string{"a", "c"}, misses)

	require.NoError(t, txn.AddExternalReferenceValue("x", 9))
	refIDs, misses, err := txn.ResolveExternalReferenceValues([]string{"x", "y"})
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"x": 9}, refIDs)
	require.Equal(t, []string{"y"}, misses)

	txn.Rollback()
	_, _, err = txn.ResolveExternalSystems([]string{"a"})
	require.Equal(t, ErrTxnDone, err)
}
