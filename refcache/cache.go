// Package refcache caches the surrogate ids of normalized directory rows:
// code systems, common token values, external systems and external
// reference values.
//
// A Cache is shared by every unit-of-work of the process. Each unit-of-work
// resolves ids through its own Txn, which overlays ids the unit-of-work has
// created itself. Overlaid ids are promoted into the Cache only when the
// owner of the transaction boundary calls Txn.Commit, after the database
// transaction has committed. A rolled-back unit-of-work discards its Txn,
// so ids which never became durable are never visible elsewhere.
package refcache

import (
	"github.com/pkg/errors"
	"go.refcache.dev/core/refs"
	"go.refcache.dev/core/schema"
)

// Sizes bound the entries of each directory of a Cache. A size <= 0 is unbounded.
type Sizes struct {
	CodeSystems             int
	CommonTokenValues       int
	ExternalSystems         int
	ExternalReferenceValues int
}

// Cache is the process-wide cache of directory ids.
type Cache struct {
	CodeSystems             *Shared[string, int32]
	CommonTokenValues       *Shared[refs.CommonTokenKey, int64]
	ExternalSystems         *Shared[string, int32]
	ExternalReferenceValues *Shared[string, int64]
}

// NewCache returns an empty Cache of the given Sizes.
func NewCache(sizes Sizes) *Cache {
	return &Cache{
		CodeSystems:             NewShared[string, int32](schema.CodeSystems, sizes.CodeSystems),
		CommonTokenValues:       NewShared[refs.CommonTokenKey, int64](schema.CommonTokenValues, sizes.CommonTokenValues),
		ExternalSystems:         NewShared[string, int32](schema.ExternalSystems, sizes.ExternalSystems),
		ExternalReferenceValues: NewShared[string, int64](schema.ExternalReferenceValues, sizes.ExternalReferenceValues),
	}
}

// Begin a Txn of a new unit-of-work.
func (c *Cache) Begin() *Txn {
	return &Txn{
		cache:                   c,
		codeSystems:             NewOverlay[string, int32](schema.CodeSystems),
		commonTokenValues:       NewOverlay[refs.CommonTokenKey, int64](schema.CommonTokenValues),
		externalSystems:         NewOverlay[string, int32](schema.ExternalSystems),
		externalReferenceValues: NewOverlay[string, int64](schema.ExternalReferenceValues),
	}
}

// ErrTxnDone is returned by operations of a Txn which already committed or
// rolled back.
var ErrTxnDone = errors.New("refcache: Txn has already been committed or rolled back")

// Txn is the view of a Cache held by one unit-of-work. It's owned by that
// unit-of-work alone, and isn't safe for concurrent use.
type Txn struct {
	cache *Cache
	done  bool

	codeSystems             *Overlay[string, int32]
	commonTokenValues       *Overlay[refs.CommonTokenKey, int64]
	externalSystems         *Overlay[string, int32]
	externalReferenceValues *Overlay[string, int64]
}

// Commit promotes every id created by the unit-of-work into the shared
// Cache. It must be called only after the database transaction commits.
func (t *Txn) Commit() error {
	if t.done {
		return ErrTxnDone
	}
	t.done = true

	var errs = []error{
		t.codeSystems.promote(t.cache.CodeSystems),
		t.commonTokenValues.promote(t.cache.CommonTokenValues),
		t.externalSystems.promote(t.cache.ExternalSystems),
		t.externalReferenceValues.promote(t.cache.ExternalReferenceValues),
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Rollback discards every id created by the unit-of-work. It's a no-op if
// the Txn is already done, and may be deferred.
func (t *Txn) Rollback() {
	if t.done {
		return
	}
	t.done = true

	t.codeSystems.discard()
	t.commonTokenValues.discard()
	t.externalSystems.discard()
	t.externalReferenceValues.discard()
}

// Pending is the number of ids awaiting promotion.
func (t *Txn) Pending() int {
	return t.codeSystems.Len() + t.commonTokenValues.Len() +
		t.externalSystems.Len() + t.externalReferenceValues.Len()
}

// AddCodeSystem records the |id| of code-system |name|, created or read by
// this unit-of-work.
func (t *Txn) AddCodeSystem(name string, id int32) error {
	if t.done {
		return ErrTxnDone
	}
	return t.codeSystems.Insert(name, id)
}

// AddCommonTokenValue records the |id| of common token value |key|.
func (t *Txn) AddCommonTokenValue(key refs.CommonTokenKey, id int64) error {
	if t.done {
		return ErrTxnDone
	}
	return t.commonTokenValues.Insert(key, id)
}

// AddExternalSystem records the |id| of external system |name|.
func (t *Txn) AddExternalSystem(name string, id int32) error {
	if t.done {
		return ErrTxnDone
	}
	return t.externalSystems.Insert(name, id)
}

// AddExternalReferenceValue records the |id| of external reference |value|.
func (t *Txn) AddExternalReferenceValue(value string, id int64) error {
	if t.done {
		return ErrTxnDone
	}
	return t.externalReferenceValues.Insert(value, id)
}

func (t *Txn) codeSystemDir() directory[string, int32] {
	return directory[string, int32]{t.codeSystems, t.cache.CodeSystems}
}

func (t *Txn) commonTokenValueDir() directory[refs.CommonTokenKey, int64] {
	return directory[refs.CommonTokenKey, int64]{t.commonTokenValues, t.cache.CommonTokenValues}
}

func (t *Txn) externalSystemDir() directory[string, int32] {
	return directory[string, int32]{t.externalSystems, t.cache.ExternalSystems}
}

func (t *Txn) externalReferenceValueDir() directory[string, int64] {
	return directory[string, int64]{t.externalReferenceValues, t.cache.ExternalReferenceValues}
}
