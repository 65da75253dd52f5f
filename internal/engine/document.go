package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/docflowhq/docflow/internal/bonification"
	"github.com/docflowhq/docflow/internal/dbconn"
	"github.com/docflowhq/docflow/internal/evaluator"
	"github.com/docflowhq/docflow/internal/exectracker"
	"github.com/docflowhq/docflow/internal/types"
)

// execution is the per-run state of one ProcessDocuments call.
type execution struct {
	eng      *Engine
	mapping  *types.Mapping
	source   dbconn.Conn
	target   dbconn.Conn
	eval     *evaluator.Evaluator
	bonif    *bonification.Processor
	alloc    allocator
	children map[string][]*types.TableConfig
	customer *types.CustomerContext
	entry    *exectracker.Entry
	log      *zap.Logger

	res          *types.Result
	succeeded    []string
	marked       []string
	marking      types.MarkingResult
	cancelReason string
}

// loop drives the document pipeline. Returns whether the run was cancelled
// (operator cancel or watchdog); remaining documents are left untouched.
func (x *execution) loop(ctx context.Context, documentIDs []string) bool {
	for i, docID := range documentIDs {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				x.cancelReason = fmt.Sprintf("watchdog timeout after %s", x.eng.timeout)
			} else {
				x.cancelReason = "execution cancelled"
			}
			x.log.Warn("stopping document loop", zap.String("reason", x.cancelReason),
				zap.Int("remaining", len(documentIDs)-i))
			return true
		}

		dr := x.processDocument(ctx, docID)
		x.res.Details = append(x.res.Details, dr)
		switch {
		case dr.Status == types.StatusSkipped:
			x.res.Skipped++
		case dr.Success:
			x.res.Processed++
			x.succeeded = append(x.succeeded, docID)
			if dr.DocumentType != "" {
				x.res.ByType[dr.DocumentType]++
			}
			x.markIndividual(ctx, docID)
		default:
			x.res.Failed++
			x.log.Warn("document failed",
				zap.String("document", docID),
				zap.String("code", string(dr.ErrorCode)),
				zap.String("error", dr.ErrorDetails))
		}

		progress := types.Progress{
			ExecutionID: x.res.ExecutionID,
			MappingID:   x.mapping.ID,
			Current:     i + 1,
			Total:       len(documentIDs),
			Processed:   x.res.Processed,
			Failed:      x.res.Failed,
			Skipped:     x.res.Skipped,
			StartedAt:   x.res.StartTime,
		}
		x.entry.SetProgress(progress)
		if x.eng.onProgress != nil {
			x.eng.onProgress(progress)
		}
		if (i+1)%10 == 0 || i+1 == len(documentIDs) {
			x.log.Info("progress",
				zap.Int("current", i+1), zap.Int("total", len(documentIDs)),
				zap.Int("processed", x.res.Processed),
				zap.Int("failed", x.res.Failed),
				zap.Int("skipped", x.res.Skipped))
		}
	}
	return false
}

// processDocument runs the full pipeline for one document. Failures are
// returned as values; the reservation is settled on every path.
func (x *execution) processDocument(ctx context.Context, docID string) types.DocumentResult {
	dr := types.DocumentResult{DocumentID: docID}

	var reserved *reservedConsecutive
	if x.alloc != nil {
		r, err := x.alloc.reserve(ctx, docID)
		if err != nil {
			return x.failDoc(dr, fmt.Errorf("reserve consecutive: %w", err))
		}
		reserved = r
	}

	settle := func(ok bool) {
		if reserved == nil {
			return
		}
		var err error
		if ok {
			err = reserved.commit(ctx)
		} else {
			err = reserved.cancel(ctx)
		}
		if err != nil {
			x.log.Warn("failed to settle consecutive reservation",
				zap.String("document", docID), zap.Bool("commit", ok), zap.Error(err))
		}
	}

	for _, tc := range x.mapping.MainTables() {
		header, err := x.fetchHeader(ctx, tc, docID)
		if err != nil {
			settle(false)
			return x.failDoc(dr, fmt.Errorf("fetch header from %s: %w", tc.SourceTable, err))
		}
		if header == nil {
			settle(false)
			return x.failDoc(dr, fmt.Errorf("document %s not found in %s", docID, tc.SourceTable))
		}
		if dr.DocumentType == "" && len(x.mapping.DocumentTypeRules) > 0 {
			dr.DocumentType = types.ClassifyDocument(x.mapping.DocumentTypeRules, header)
		}

		exists, err := x.target.Exists(ctx, tc.TargetTable, tc.EffectiveTargetKey(), docID)
		if err != nil {
			settle(false)
			return x.failDoc(dr, fmt.Errorf("existence check on %s: %w", tc.TargetTable, err))
		}
		if exists {
			settle(false)
			dr.Status = types.StatusSkipped
			dr.Message = fmt.Sprintf("already present in %s", tc.TargetTable)
			x.log.Info("document skipped",
				zap.String("document", docID), zap.String("table", tc.TargetTable))
			return dr
		}

		if err := x.insertRow(ctx, tc, header, reserved); err != nil {
			settle(false)
			return x.failDoc(dr, fmt.Errorf("insert into %s: %w", tc.TargetTable, err))
		}
		dr.ProcessedTables = append(dr.ProcessedTables, tc.TargetTable)

		for _, dtc := range x.children[tc.Name] {
			if err := x.processDetails(ctx, dtc, docID, reserved, &dr); err != nil {
				settle(false)
				return x.failDoc(dr, err)
			}
		}
	}

	settle(true)
	dr.Success = true
	dr.Status = types.StatusCompleted
	if reserved != nil {
		dr.Consecutive = reserved.value.Formatted
		x.res.ConsecutivesUsed = append(x.res.ConsecutivesUsed, types.ConsecutiveUsed{
			DocumentID: docID,
			Numeric:    reserved.value.Numeric,
			Formatted:  reserved.value.Formatted,
		})
	}
	return dr
}

// processDetails fetches, optionally bonification-processes, and inserts the
// detail rows of one table config.
func (x *execution) processDetails(ctx context.Context, tc *types.TableConfig, docID string, reserved *reservedConsecutive, dr *types.DocumentResult) error {
	rows, err := x.fetchDetails(ctx, tc, docID)
	if err != nil {
		return fmt.Errorf("fetch details from %s: %w", tc.SourceTable, err)
	}

	if x.bonif != nil && strings.EqualFold(tc.SourceTable, x.mapping.Bonification.SourceTable) {
		rows, err = x.runBonification(docID, rows)
		if err != nil {
			return err
		}
	}

	for _, row := range rows {
		if err := x.insertRow(ctx, tc, row, reserved); err != nil {
			return fmt.Errorf("insert into %s: %w", tc.TargetTable, err)
		}
	}
	if len(rows) > 0 {
		dr.ProcessedTables = append(dr.ProcessedTables, tc.TargetTable)
	}
	return nil
}

// runBonification processes one document's detail rows and merges the stats
// into the execution totals.
func (x *execution) runBonification(docID string, rows []types.Row) ([]types.Row, error) {
	if len(rows) == 0 {
		return rows, nil
	}
	res, err := x.bonif.Process(rows, x.customer)
	if err != nil {
		return nil, err
	}
	if x.res.BonificationStats == nil {
		x.res.BonificationStats = &types.BonificationStats{}
	}
	x.res.BonificationStats.Merge(&res.Stats)

	group, ok := res.Groups[docID]
	if !ok {
		// The detail rows key their group by the configured order field; when
		// it disagrees with the document id there is exactly one group here.
		for _, g := range res.Groups {
			group = g
		}
	}
	if group == nil {
		return rows, nil
	}
	out := make([]types.Row, 0, len(group.Lines))
	for _, line := range group.Lines {
		out = append(out, line.Row)
	}
	return out, nil
}

// fetchHeader loads the document's header row: the custom query with the
// document id substituted textually, or a primary-key select with the
// optional filter condition. Returns (nil, nil) when the document is absent.
func (x *execution) fetchHeader(ctx context.Context, tc *types.TableConfig, docID string) (types.Row, error) {
	var rows []types.Row
	var err error
	if tc.CustomQuery != "" {
		query := dbconn.SubstituteDocumentID(tc.CustomQuery, docID)
		rows, err = x.source.Query(ctx, query, nil)
	} else {
		query := fmt.Sprintf("SELECT * FROM %s WHERE %s = @documentId", tc.SourceTable, tc.PrimaryKey)
		if tc.FilterCondition != "" {
			query += " AND " + tc.FilterCondition
		}
		rows, err = x.source.Query(ctx, query, map[string]any{"documentId": docID})
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// fetchDetails loads every detail row for a document, ordered by the
// configured column when present.
func (x *execution) fetchDetails(ctx context.Context, tc *types.TableConfig, docID string) ([]types.Row, error) {
	if tc.CustomQuery != "" {
		query := dbconn.SubstituteDocumentID(tc.CustomQuery, docID)
		return x.source.Query(ctx, query, nil)
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = @documentId", tc.SourceTable, tc.PrimaryKey)
	if tc.FilterCondition != "" {
		query += " AND " + tc.FilterCondition
	}
	if tc.OrderByColumn != "" {
		query += " ORDER BY " + tc.OrderByColumn
	}
	return x.source.Query(ctx, query, map[string]any{"documentId": docID})
}

// insertRow evaluates one source row against a table config and executes the
// insert on the target.
func (x *execution) insertRow(ctx context.Context, tc *types.TableConfig, row types.Row, reserved *reservedConsecutive) error {
	lookups, err := x.eval.RunLookups(ctx, tc, row)
	if err != nil {
		return err
	}
	in := &evaluator.RowInput{Table: tc, SourceRow: row, Lookups: lookups}
	if reserved != nil {
		in.Consecutive = &reserved.value
	}
	plan, err := x.eval.BuildInsert(ctx, in)
	if err != nil {
		return err
	}
	return x.target.Insert(ctx, plan)
}

// failDoc finalizes a failed document result with its classified error code.
func (x *execution) failDoc(dr types.DocumentResult, err error) types.DocumentResult {
	dr.Success = false
	dr.Status = types.StatusFailed
	dr.ErrorCode = dbconn.ErrorCode(err)
	dr.ErrorDetails = err.Error()
	return dr
}
