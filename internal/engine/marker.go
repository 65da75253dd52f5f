package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/docflowhq/docflow/internal/types"
)

// effectiveStrategy resolves the marking strategy: explicit wins; a configured
// marker field with no strategy means individual; otherwise none.
func (x *execution) effectiveStrategy() types.MarkStrategy {
	if x.mapping.MarkProcessedStrategy != "" {
		return x.mapping.MarkProcessedStrategy
	}
	if x.mapping.MarkProcessedField != "" {
		return types.MarkIndividual
	}
	return types.MarkNone
}

// markTable returns the source table and key column marking runs against: the
// first main table of the mapping.
func (x *execution) markTable() (table, key string) {
	mains := x.mapping.MainTables()
	if len(mains) == 0 {
		return "", ""
	}
	return mains[0].SourceTable, mains[0].PrimaryKey
}

// markIndividual flags one just-transferred document on the source. A marking
// failure does not fail the document; it is recorded on the marking result.
func (x *execution) markIndividual(ctx context.Context, docID string) {
	if x.effectiveStrategy() != types.MarkIndividual {
		return
	}
	table, key := x.markTable()
	if table == "" {
		return
	}
	query := fmt.Sprintf("UPDATE %s SET %s = @value WHERE %s = @documentId",
		table, x.mapping.MarkProcessedField, key)
	_, err := x.source.Exec(ctx, query, map[string]any{
		"value":      x.mapping.MarkProcessedValue,
		"documentId": docID,
	})
	if err != nil {
		x.marking.Errors = append(x.marking.Errors,
			fmt.Sprintf("mark %s: %v", docID, err))
		x.log.Warn("failed to mark document as processed",
			zap.String("document", docID), zap.Error(err))
		return
	}
	x.marking.Marked++
	x.marked = append(x.marked, docID)
}

// finishMarking settles the mark-as-processed phase after the document loop.
// Batch mode marks every successful document in one statement; when rollback
// is allowed and any document failed, the just-set markers are reset so the
// source never keeps a partially transferred batch flagged. Individual
// markers were already written per document and stay put, cancelled run or
// not: those documents are in the target. Rollback is scoped to this
// execution's ids only.
func (x *execution) finishMarking(ctx context.Context) {
	strategy := x.effectiveStrategy()
	x.marking.Strategy = strategy
	if strategy != types.MarkBatch {
		return
	}
	x.markBatch(ctx)
	if x.mapping.MarkProcessedConfig.AllowRollback && x.res.Failed > 0 && len(x.marked) > 0 {
		x.rollback(ctx, x.marked)
	}
}

// markBatch flags all successful documents in one UPDATE. If the statement
// fails and rollback is allowed, the same ids are reset to the unprocessed
// value so the source never carries a half-marked batch.
func (x *execution) markBatch(ctx context.Context) {
	if len(x.succeeded) == 0 {
		return
	}
	table, key := x.markTable()
	if table == "" {
		return
	}
	inClause, params := inList(x.succeeded)
	params["value"] = x.mapping.MarkProcessedValue
	query := fmt.Sprintf("UPDATE %s SET %s = @value WHERE %s IN (%s)",
		table, x.mapping.MarkProcessedField, key, inClause)

	affected, err := x.source.Exec(ctx, query, params)
	if err != nil {
		x.marking.Errors = append(x.marking.Errors, fmt.Sprintf("batch mark: %v", err))
		x.log.Error("batch marking failed",
			zap.Int("documents", len(x.succeeded)), zap.Error(err))
		if x.mapping.MarkProcessedConfig.AllowRollback {
			x.rollback(ctx, x.succeeded)
		}
		return
	}
	x.marking.Marked = int(affected)
	x.marked = append(x.marked, x.succeeded...)
	x.log.Info("batch marked documents as processed", zap.Int64("affected", affected))
}

// rollback resets the marker field to the unprocessed value for the given
// ids. Best effort: a rollback failure is recorded, not retried.
func (x *execution) rollback(ctx context.Context, ids []string) {
	table, key := x.markTable()
	if table == "" || len(ids) == 0 {
		return
	}
	inClause, params := inList(ids)
	params["value"] = x.mapping.MarkUnprocessedValue
	query := fmt.Sprintf("UPDATE %s SET %s = @value WHERE %s IN (%s)",
		table, x.mapping.MarkProcessedField, key, inClause)

	affected, err := x.source.Exec(ctx, query, params)
	if err != nil {
		x.marking.Errors = append(x.marking.Errors, fmt.Sprintf("rollback: %v", err))
		x.log.Error("marker rollback failed", zap.Int("documents", len(ids)), zap.Error(err))
		return
	}
	x.marking.RolledBack = int(affected)
	x.log.Warn("rolled back processed markers", zap.Int64("affected", affected))
}

// inList builds an @id0, @id1, ... marker list with its parameter map.
func inList(ids []string) (string, map[string]any) {
	markers := make([]string, len(ids))
	params := make(map[string]any, len(ids)+1)
	for i, id := range ids {
		name := fmt.Sprintf("id%d", i)
		markers[i] = "@" + name
		params[name] = id
	}
	return strings.Join(markers, ", "), params
}
