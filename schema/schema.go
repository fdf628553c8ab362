// Package schema names the tables, columns and sequence of the reference
// schema, and validates identifiers which must be interpolated into SQL text.
package schema

import (
	"regexp"

	"github.com/pkg/errors"
)

// Directory tables, their id & natural key columns, and the id sequence.
const (
	CodeSystems       = "code_systems"
	CodeSystemID      = "code_system_id"
	CodeSystemName    = "code_system_name"
	CommonTokenValues = "common_token_values"
	CommonTokenValID  = "common_token_value_id"
	TokenValue        = "token_value"

	ExternalSystems           = "external_systems"
	ExternalSystemID          = "external_system_id"
	ExternalSystemName        = "external_system_name"
	ExternalReferenceValues   = "external_reference_values"
	ExternalReferenceValueID  = "external_reference_value_id"
	ExternalReferenceValueCol = "external_reference_value"

	RefSequence = "fhir_ref_sequence"

	// Columns of per-resource-type token reference tables.
	ParameterNameID   = "parameter_name_id"
	LogicalResourceID = "logical_resource_id"
	RefVersionID      = "ref_version_id"
)

// Maximum byte lengths of natural key columns.
const (
	MaxSearchStringBytes = 1024
	MaxTokenValueBytes   = 1024
)

// MaxNameLength is the longest identifier accepted by ValidName.
const MaxNameLength = 128

// ErrInvalidName is the cause of all identifier validation failures.
var ErrInvalidName = errors.New("invalid identifier")

var validName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidName returns an error if |name| may not be safely interpolated into
// SQL text as an unquoted identifier. Every identifier which can't be bound
// as a parameter must pass through ValidName first.
func ValidName(name string) error {
	if len(name) == 0 || len(name) > MaxNameLength {
		return errors.WithMessagef(ErrInvalidName, "%q (length %d)", name, len(name))
	} else if !validName.MatchString(name) {
		return errors.WithMessagef(ErrInvalidName, "%q", name)
	}
	return nil
}

// TokenRefsTable returns the validated name of the token references table
// of |resourceType|, eg "Observation_RESOURCE_TOKEN_REFS".
func TokenRefsTable(resourceType string) (string, error) {
	var name = resourceType + "_RESOURCE_TOKEN_REFS"
	if resourceType == "" {
		return "", errors.WithMessage(ErrInvalidName, "empty resource type")
	} else if err := ValidName(name); err != nil {
		return "", errors.WithMessagef(err, "resource type %q", resourceType)
	}
	return name, nil
}
