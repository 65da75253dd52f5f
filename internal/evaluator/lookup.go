package evaluator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/docflowhq/docflow/internal/dbconn"
	"github.com/docflowhq/docflow/internal/types"
)

// LookupError identifies the field whose lookup failed; a required lookup
// failure fails the whole document.
type LookupError struct {
	Field string
	Err   error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup for field %s: %v", e.Field, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// RunLookups executes every lookup-from-target field of the table config in
// one batch before the INSERT. The returned map is keyed by target field.
// A failed required lookup (failIfNotFound, or missing required parameters)
// aborts with a LookupError; optional lookups that find nothing yield nil.
func (e *Evaluator) RunLookups(ctx context.Context, tc *types.TableConfig, row types.Row) (map[string]any, error) {
	results := make(map[string]any)
	for i := range tc.FieldMappings {
		fm := &tc.FieldMappings[i]
		if !fm.LookupFromTarget {
			continue
		}
		value, err := e.runLookup(ctx, fm, row)
		if err != nil {
			return nil, &LookupError{Field: fm.TargetField, Err: err}
		}
		results[fm.TargetField] = value
	}
	return results, nil
}

func (e *Evaluator) runLookup(ctx context.Context, fm *types.FieldMapping, row types.Row) (any, error) {
	params := make(map[string]any, len(fm.LookupParams))
	for _, p := range fm.LookupParams {
		v, ok := row.Get(p.SourceField)
		if !ok || v == nil {
			if fm.FailIfNotFound || fm.IsRequired {
				return nil, fmt.Errorf("missing parameter %s (source field %s)", p.ParamName, p.SourceField)
			}
			e.logger.Debug("lookup skipped: missing optional parameter",
				zap.String("field", fm.TargetField),
				zap.String("param", p.ParamName))
			return nil, nil
		}
		params[p.ParamName] = v
	}

	query := dbconn.WrapLookup(fm.LookupQuery)
	rows, err := e.target.Query(ctx, query, params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		if fm.FailIfNotFound {
			return nil, fmt.Errorf("query returned no rows")
		}
		return nil, nil
	}
	return lookupResult(rows[0], fm.TargetField)
}

// lookupResult picks the value out of the first result row: the column named
// `result`, else the column matching the target field, else the row's single
// column. Rows are column maps, so a multi-column row with neither name has
// no defined "first" column and is rejected instead of picked from at random.
func lookupResult(row types.Row, targetField string) (any, error) {
	if v, ok := row.Get("result"); ok {
		return v, nil
	}
	if v, ok := row.Get(targetField); ok {
		return v, nil
	}
	if len(row) == 1 {
		for _, v := range row {
			return v, nil
		}
	}
	return nil, fmt.Errorf("query returned %d columns and none is named result or %s", len(row), targetField)
}
