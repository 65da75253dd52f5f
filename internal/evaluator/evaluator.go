// Package evaluator resolves target row values from a mapping's field
// definitions: bonification passthrough, target-side lookups, native SQL
// function passthrough, source value / default resolution, and the
// transformation chain (prefix strip, value maps, unit conversion, date
// normalization, truncation, consecutive assignment).
//
// The evaluator itself is pure per row; the only I/O is the pre-computed
// lookup batch, which runs against the target connection before the INSERT
// is built.
package evaluator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/docflowhq/docflow/internal/consecutive"
	"github.com/docflowhq/docflow/internal/dbconn"
	"github.com/docflowhq/docflow/internal/types"
)

// TargetQuerier is the slice of the facade the evaluator needs: lookup
// queries and column metadata. *dbconn* connections satisfy it.
type TargetQuerier interface {
	Query(ctx context.Context, query string, params map[string]any) ([]types.Row, error)
	ColumnTypes(ctx context.Context, table string) (types.TableMeta, error)
}

// Evaluator builds insert plans for one mapping execution.
type Evaluator struct {
	mapping *types.Mapping
	target  TargetQuerier
	logger  *zap.Logger
}

// New creates an evaluator bound to a mapping and its target connection.
func New(mapping *types.Mapping, target TargetQuerier, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{mapping: mapping, target: target, logger: logger.Named("evaluator")}
}

// RowInput carries everything needed to evaluate one source row.
type RowInput struct {
	Table       *types.TableConfig
	SourceRow   types.Row
	Lookups     map[string]any // targetField → pre-computed lookup result
	Consecutive *consecutive.ReservedValue
}

// BuildInsert resolves every field mapping of the table config against the
// source row and returns the insert plan. Resolution of each field follows
// the fixed rule order; the first rule that applies terminates resolution and
// the transformation chain then runs on plain values.
func (e *Evaluator) BuildInsert(ctx context.Context, in *RowInput) (*types.InsertPlan, error) {
	meta, err := e.target.ColumnTypes(ctx, in.Table.TargetTable)
	if err != nil {
		return nil, fmt.Errorf("evaluator: column types for %s: %w", in.Table.TargetTable, err)
	}

	plan := &types.InsertPlan{Table: in.Table.TargetTable}
	for i := range in.Table.FieldMappings {
		fm := &in.Table.FieldMappings[i]
		expr, err := e.resolveField(fm, in, meta)
		if err != nil {
			return nil, err
		}
		plan.Columns = append(plan.Columns, fm.TargetField)
		plan.Exprs = append(plan.Exprs, expr)
	}
	return plan, nil
}

func (e *Evaluator) resolveField(fm *types.FieldMapping, in *RowInput, meta types.TableMeta) (types.Expr, error) {
	// Rule B: bonification-assigned fields pass through verbatim. The
	// processor already wrote the renumbered line and parent reference into
	// the source row.
	if bc := e.bonificationConfig(); bc != nil {
		if fm.TargetField == bc.LineNumberField {
			if v, ok := in.SourceRow.Get(fm.TargetField); ok {
				return e.finishConsecutive(fm, in, types.Bound(v)), nil
			}
		}
		if fm.TargetField == bc.BonificationLineReferenceFld {
			if in.SourceRow.Has(fm.TargetField) {
				v, _ := in.SourceRow.Get(fm.TargetField)
				return e.finishConsecutive(fm, in, types.Bound(v)), nil
			}
		}
	}

	// Rule L: pre-computed target lookup.
	if fm.LookupFromTarget {
		v, ok := in.Lookups[fm.TargetField]
		if !ok && fm.FailIfNotFound {
			return types.Expr{}, fmt.Errorf("evaluator: lookup for field %s produced no value", fm.TargetField)
		}
		return e.finishConsecutive(fm, in, types.Bound(v)), nil
	}

	// Rule S: native SQL function passthrough.
	if fm.DefaultValue != "" && IsNativeSQLFunction(fm.DefaultValue) {
		return e.finishConsecutive(fm, in, types.Literal(fm.DefaultValue)), nil
	}

	// Rule D: source value then default. The literal "NULL" is SQL NULL.
	var value any
	if fm.SourceField != "" {
		if v, ok := in.SourceRow.Get(fm.SourceField); ok {
			value = v
		}
	}
	if value == nil && fm.DefaultValue != "" {
		if fm.DefaultValue == dbconn.NullSentinel {
			value = nil
		} else {
			value = fm.DefaultValue
		}
	}
	if value == nil && fm.IsRequired {
		return types.Expr{}, dbconn.ErrNullValue.New("required field %s resolved to null", fm.TargetField)
	}

	// Rule T: transformation chain.
	value = e.transform(fm, in, meta, value)

	return e.finishConsecutive(fm, in, types.Bound(value)), nil
}

// finishConsecutive applies transformation step 6: fields named by the
// consecutive config are overwritten with the reserved formatted value,
// whatever earlier rules produced.
func (e *Evaluator) finishConsecutive(fm *types.FieldMapping, in *RowInput, expr types.Expr) types.Expr {
	cc := &e.mapping.Consecutive
	if !cc.Enabled || in.Consecutive == nil {
		return expr
	}
	if strings.EqualFold(cc.FieldFor(in.Table), fm.TargetField) {
		return types.Bound(in.Consecutive.Formatted)
	}
	return expr
}

func (e *Evaluator) bonificationConfig() *types.BonificationConfig {
	if e.mapping.HasBonificationProcessing {
		return e.mapping.Bonification
	}
	return nil
}

// nativeSQLTokens are the markers of MSSQL function expressions that must be
// substituted textually rather than bound.
var nativeSQLTokens = []string{
	"GETDATE", "CURRENT_TIMESTAMP", "NEWID", "SYSUTCDATETIME", "SYSDATETIME",
	"GETUTCDATE", "DAY(", "MONTH(", "YEAR(", "DATEADD", "DATEDIFF",
}

// IsNativeSQLFunction reports whether a default value is a SQL expression to
// pass through literally.
func IsNativeSQLFunction(defaultValue string) bool {
	upper := strings.ToUpper(defaultValue)
	for _, tok := range nativeSQLTokens {
		if strings.Contains(upper, tok) {
			return true
		}
	}
	return false
}
