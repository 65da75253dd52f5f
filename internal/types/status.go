// Package types provides shared value types for document transfer.
//
// The concrete engine implementation lives in internal/engine; the mapping
// evaluator, bonification processor and consecutive service all exchange the
// value types defined here. Nothing in this package touches a database.
package types

// Status is the lifecycle state of an execution or of a single document
// within an execution. The string values are stable and appear verbatim in
// execution records.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusSkipped   Status = "skipped"
)

// ErrorCode classifies a per-document or setup failure. The string values are
// stable and appear verbatim in execution records and logs.
type ErrorCode string

const (
	ErrCodeNullValue        ErrorCode = "NULL_VALUE_ERROR"
	ErrCodeTruncation       ErrorCode = "TRUNCATION_ERROR"
	ErrCodeConnection       ErrorCode = "CONNECTION_ERROR"
	ErrCodeSevereConnection ErrorCode = "SEVERE_CONNECTION_ERROR"
	ErrCodeDeadlock         ErrorCode = "DEADLOCK_ERROR"
	ErrCodeDuplicateKey     ErrorCode = "DUPLICATE_KEY_ERROR"
	ErrCodePermission       ErrorCode = "PERMISSION_ERROR"
	ErrCodeSQLSyntax        ErrorCode = "SQL_SYNTAX_ERROR"
	ErrCodeDateConversion   ErrorCode = "DATE_CONVERSION_ERROR"
	ErrCodeGeneral          ErrorCode = "GENERAL_ERROR"
)

// MarkStrategy selects how source rows are flagged as transferred.
type MarkStrategy string

const (
	// MarkIndividual updates the source marker after each successful document.
	MarkIndividual MarkStrategy = "individual"
	// MarkBatch defers marking until the document loop finishes, then updates
	// all successful documents in one statement.
	MarkBatch MarkStrategy = "batch"
	// MarkNone disables marking entirely.
	MarkNone MarkStrategy = "none"
)

// OrphanPolicy decides what happens to a bonification line that has no
// preceding regular line in its document group.
type OrphanPolicy string

const (
	// OrphanPassThrough keeps the orphan line with a null parent reference.
	OrphanPassThrough OrphanPolicy = "passThrough"
	// OrphanDrop removes the orphan line from the output.
	OrphanDrop OrphanPolicy = "drop"
	// OrphanFail fails the whole document when an orphan is found.
	OrphanFail OrphanPolicy = "fail"
)
