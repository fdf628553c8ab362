// Package refs defines the values carried through reference persistence:
// extracted token values awaiting identity resolution, and the natural keys
// of the normalized directories they resolve against.
package refs

import (
	"sort"
)

// DefaultCodeSystem is the code-system name under which token values having
// no explicit system are stored.
const DefaultCodeSystem = "default-token-system"

// TokenValueRec is a token value extracted from a resource while it's
// persisted. It's mutated in place as its code-system and common token value
// ids are resolved, and discarded once the write commits.
type TokenValueRec struct {
	// ResourceType owning the reference, eg "Observation". It determines the
	// reference table the record is written to.
	ResourceType string
	// LogicalResourceID of the resource which holds the reference.
	LogicalResourceID int64
	// ParameterNameID of the search parameter, resolved elsewhere.
	ParameterNameID int32
	// CodeSystem is the natural code-system name. Empty maps to DefaultCodeSystem.
	CodeSystem string
	// CodeSystemID is assigned by the resolver. Zero if not yet resolved.
	CodeSystemID int32
	// TokenValue is the natural token value, or nil if the token has no value.
	// Nil token values are never stored in the common token values directory.
	TokenValue *string
	// CommonTokenValueID is assigned by the resolver. Zero if not yet resolved,
	// and always zero where TokenValue is nil.
	CommonTokenValueID int64
	// RefVersionID is the optional version of a referenced resource.
	RefVersionID *int32
}

// CodeSystemName returns the effective code-system name of the record.
func (r *TokenValueRec) CodeSystemName() string {
	if r.CodeSystem == "" {
		return DefaultCodeSystem
	}
	return r.CodeSystem
}

// CommonTokenKey returns the directory key of the record's token value.
// It's valid only after CodeSystemID has been resolved, and |ok| is false
// if the record has no token value.
func (r *TokenValueRec) CommonTokenKey() (key CommonTokenKey, ok bool) {
	if r.TokenValue == nil {
		return CommonTokenKey{}, false
	}
	return CommonTokenKey{CodeSystemID: r.CodeSystemID, TokenValue: *r.TokenValue}, true
}

// CommonTokenKey identifies a row of the common token values directory.
// The same literal token value under two code systems are distinct keys.
type CommonTokenKey struct {
	CodeSystemID int32
	TokenValue   string
}

// Less orders keys by code system, and then by token value.
func (k CommonTokenKey) Less(other CommonTokenKey) bool {
	if k.CodeSystemID != other.CodeSystemID {
		return k.CodeSystemID < other.CodeSystemID
	}
	return k.TokenValue < other.TokenValue
}

// ExternalSystem is a row of the external systems directory.
type ExternalSystem struct {
	ID   int32
	Name string
}

// ExternalReferenceValue is a row of the external reference values directory.
type ExternalReferenceValue struct {
	ID    int64
	Value string
}

// GroupByResourceType splits |recs| on their ResourceType. Resource types are
// returned in sorted order, and records retain their relative order.
func GroupByResourceType(recs []*TokenValueRec) (types []string, groups map[string][]*TokenValueRec) {
	groups = make(map[string][]*TokenValueRec)
	for _, r := range recs {
		if _, ok := groups[r.ResourceType]; !ok {
			types = append(types, r.ResourceType)
		}
		groups[r.ResourceType] = append(groups[r.ResourceType], r)
	}
	sort.Strings(types)
	return types, groups
}

// String returns a pointer to |s|, for building TokenValueRecs.
func String(s string) *string { return &s }

// Int32 returns a pointer to |n|, for building TokenValueRecs.
func Int32(n int32) *int32 { return &n }
