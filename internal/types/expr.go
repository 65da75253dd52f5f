package types

// ExprKind discriminates how a target column value reaches the INSERT.
type ExprKind int

const (
	// ExprBound is a typed value bound as a query parameter.
	ExprBound ExprKind = iota
	// ExprLiteral is a raw SQL fragment substituted textually into the
	// VALUES list (native function passthrough such as GETDATE()).
	ExprLiteral
)

// Expr is the tagged union the evaluator produces per target column.
type Expr struct {
	Kind  ExprKind
	Value any    // valid when Kind == ExprBound
	SQL   string // valid when Kind == ExprLiteral
}

// Bound wraps a typed value for parameter binding.
func Bound(v any) Expr { return Expr{Kind: ExprBound, Value: v} }

// Literal wraps a raw SQL fragment.
func Literal(sql string) Expr { return Expr{Kind: ExprLiteral, SQL: sql} }

// InsertPlan is the evaluator's output for one target row: the column list
// and, per column, either a bound value or a raw SQL fragment. The facade
// renders it to dialect-specific SQL (or a document for non-relational
// targets).
type InsertPlan struct {
	Table   string
	Columns []string
	Exprs   []Expr
}
