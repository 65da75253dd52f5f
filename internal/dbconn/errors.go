package dbconn

import (
	"context"
	"errors"
	"strings"

	"github.com/zeebo/errs"

	"github.com/docflowhq/docflow/internal/types"
)

// Error classes for the facade's failure taxonomy. Wrapping with a class
// preserves the cause for errors.Is/As while letting call sites map the
// failure to a stable error code.
var (
	ErrConnection       = errs.Class("connection error")
	ErrSevereConnection = errs.Class("severe connection error")
	ErrDeadlock         = errs.Class("deadlock")
	ErrDuplicateKey     = errs.Class("duplicate key")
	ErrPermission       = errs.Class("permission denied")
	ErrSyntax           = errs.Class("sql syntax error")
	ErrNullValue        = errs.Class("null value")
	ErrTruncation       = errs.Class("value truncation")
	ErrDateConversion   = errs.Class("date conversion")
)

// IsTransient reports whether an error is a transient connection failure
// worth one in-place retry on a replaced connection.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{
		"driver: bad connection",
		"invalid connection",
		"broken pipe",
		"connection reset",
		"connection refused",
		"lost connection",
		"gone away",
		"i/o timeout",
		"connection timed out",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// IsSevere reports whether the connection itself should be discarded.
func IsSevere(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "driver: bad connection") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "server closed")
}

// Classify wraps a driver error in the matching error class. Unrecognized
// errors pass through unwrapped.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case IsDeadlock(err):
		return ErrDeadlock.Wrap(err)
	case IsDuplicateKey(err):
		return ErrDuplicateKey.Wrap(err)
	case isPermission(err):
		return ErrPermission.Wrap(err)
	case isSyntax(err):
		return ErrSyntax.Wrap(err)
	case isNullViolation(err):
		return ErrNullValue.Wrap(err)
	case isTruncation(err):
		return ErrTruncation.Wrap(err)
	case IsSevere(err):
		return ErrSevereConnection.Wrap(err)
	case IsTransient(err):
		return ErrConnection.Wrap(err)
	default:
		return err
	}
}

// ErrorCode maps a classified error to its stable error code.
func ErrorCode(err error) types.ErrorCode {
	switch {
	case err == nil:
		return ""
	case ErrDeadlock.Has(err):
		return types.ErrCodeDeadlock
	case ErrDuplicateKey.Has(err):
		return types.ErrCodeDuplicateKey
	case ErrPermission.Has(err):
		return types.ErrCodePermission
	case ErrSyntax.Has(err):
		return types.ErrCodeSQLSyntax
	case ErrNullValue.Has(err):
		return types.ErrCodeNullValue
	case ErrTruncation.Has(err):
		return types.ErrCodeTruncation
	case ErrDateConversion.Has(err):
		return types.ErrCodeDateConversion
	case ErrSevereConnection.Has(err):
		return types.ErrCodeSevereConnection
	case ErrConnection.Has(err):
		return types.ErrCodeConnection
	default:
		return types.ErrCodeGeneral
	}
}

// IsDuplicateKey detects primary/unique key violations across the supported
// engines (MSSQL 2627/2601, MySQL 1062, Postgres 23505).
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "sqlstate 23505") ||
		strings.Contains(msg, "error 1062")
}

// IsDeadlock detects deadlock victims (MSSQL 1205, MySQL 1213, Postgres 40P01).
func IsDeadlock(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadlock") || strings.Contains(msg, "40p01")
}

func isPermission(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "access denied") ||
		strings.Contains(msg, "insufficient privilege")
}

func isSyntax(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "syntax error") ||
		strings.Contains(msg, "incorrect syntax") ||
		strings.Contains(msg, "invalid object name") ||
		strings.Contains(msg, "unknown column") ||
		strings.Contains(msg, "doesn't exist")
}

func isNullViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "cannot insert the value null") ||
		strings.Contains(msg, "cannot be null") ||
		strings.Contains(msg, "not-null constraint") ||
		strings.Contains(msg, "null value in column")
}

func isTruncation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "string or binary data would be truncated") ||
		strings.Contains(msg, "data too long") ||
		strings.Contains(msg, "value too long")
}
