package dialect

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"net"

	"github.com/pkg/errors"
)

// Kind classifies a translated database failure.
type Kind int

const (
	Unknown Kind = iota
	// ConstraintViolation of a unique, foreign key, not-null or check constraint.
	ConstraintViolation
	// Connectivity loss with the database.
	Connectivity
	// LockConflict is a deadlock, lock timeout, busy database, or
	// serialization failure.
	LockConflict
	// Syntax or schema error in the issued statement.
	Syntax
	// Timeout or cancellation of the statement or its context.
	Timeout
)

func (k Kind) String() string {
	switch k {
	case Unknown:
		return "unknown"
	case ConstraintViolation:
		return "constraint violation"
	case Connectivity:
		return "connectivity"
	case LockConflict:
		return "lock conflict"
	case Syntax:
		return "syntax"
	case Timeout:
		return "timeout"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is a database failure classified by a Dialect. It always retains
// the native cause.
type Error struct {
	Kind    Kind
	Dialect string
	// Code is the native error code, if the driver provided one.
	Code  string
	cause error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s %s (%s): %s", e.Dialect, e.Kind, e.Code, e.cause)
	}
	return fmt.Sprintf("%s %s: %s", e.Dialect, e.Kind, e.cause)
}

// Cause returns the native driver error.
func (e *Error) Cause() error { return e.cause }

// Unwrap returns the native driver error.
func (e *Error) Unwrap() error { return e.cause }

// Transient is true if the failure may succeed if the unit-of-work is retried.
// Retry is always the responsibility of the caller.
func (e *Error) Transient() bool {
	return e.Kind == Connectivity || e.Kind == LockConflict
}

// KindOf returns the Kind of the *Error within |err|'s chain, or Unknown.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return Unknown
}

// IsTransient is true if |err| wraps a Transient *Error.
func IsTransient(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Transient()
}

// classifyFunc maps a native error to its Kind and native code.
type classifyFunc func(error) (Kind, string)

func translate(dialect string, err error, classify classifyFunc) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	var kind, code = classify(err)
	if kind == Unknown {
		kind = classifyCommon(err)
	}
	return &Error{Kind: kind, Dialect: dialect, Code: code, cause: err}
}

// classifyCommon handles errors which arise independently of the driver.
func classifyCommon(err error) Kind {
	var netErr net.Error

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Timeout
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return Connectivity
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return Timeout
		}
		return Connectivity
	default:
		return Unknown
	}
}
