package mapstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/docflowhq/docflow/internal/dbconn"
	"github.com/docflowhq/docflow/internal/types"
)

// SQLExecutionStore persists execution records as JSON documents in a
// relational table:
//
//	CREATE TABLE docflow_executions (
//	    id         VARCHAR(64)  NOT NULL PRIMARY KEY,
//	    mapping_id VARCHAR(128) NOT NULL,
//	    status     VARCHAR(16)  NOT NULL,
//	    start_time VARCHAR(40)  NOT NULL,
//	    doc        TEXT         NOT NULL
//	)
//
// The denormalized columns exist only for filtering and ordering; the doc
// column is the source of truth.
type SQLExecutionStore struct {
	conn  dbconn.Conn
	table string
}

// NewSQLExecutionStore wraps a facade connection. The table defaults to
// docflow_executions.
func NewSQLExecutionStore(conn dbconn.Conn, table string) *SQLExecutionStore {
	if table == "" {
		table = "docflow_executions"
	}
	return &SQLExecutionStore{conn: conn, table: table}
}

func (s *SQLExecutionStore) CreateExecution(ctx context.Context, rec *types.ExecutionRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("mapstore: encode execution: %w", err)
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (id, mapping_id, status, start_time, doc) VALUES (@id, @mappingId, @status, @startTime, @doc)",
		s.table)
	_, err = s.conn.Exec(ctx, query, map[string]any{
		"id":        rec.ID,
		"mappingId": rec.MappingID,
		"status":    string(rec.Status),
		"startTime": rec.StartTime.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		"doc":       string(doc),
	})
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

func (s *SQLExecutionStore) UpdateExecution(ctx context.Context, rec *types.ExecutionRecord) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("mapstore: encode execution: %w", err)
	}
	query := fmt.Sprintf("UPDATE %s SET status = @status, doc = @doc WHERE id = @id", s.table)
	affected, err := s.conn.Exec(ctx, query, map[string]any{
		"status": string(rec.Status),
		"doc":    string(doc),
		"id":     rec.ID,
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("mapstore: execution %q: %w", rec.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLExecutionStore) GetExecution(ctx context.Context, id string) (*types.ExecutionRecord, error) {
	query := fmt.Sprintf("SELECT doc FROM %s WHERE id = @id", s.table)
	rows, err := s.conn.Query(ctx, query, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("mapstore: execution %q: %w", id, ErrNotFound)
	}
	return decodeExecutionRow(rows[0]["doc"])
}

func (s *SQLExecutionStore) ListExecutions(ctx context.Context, limit int) ([]*types.ExecutionRecord, error) {
	query := fmt.Sprintf("SELECT doc FROM %s ORDER BY start_time DESC", s.table)
	if limit > 0 {
		query = fmt.Sprintf("SELECT TOP %d doc FROM %s ORDER BY start_time DESC", limit, s.table)
	}
	rows, err := s.conn.Query(ctx, query, nil)
	if err != nil {
		return nil, err
	}
	out := make([]*types.ExecutionRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := decodeExecutionRow(row["doc"])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeExecutionRow(doc any) (*types.ExecutionRecord, error) {
	raw, ok := doc.(string)
	if !ok {
		return nil, fmt.Errorf("mapstore: unexpected doc column type %T", doc)
	}
	var rec types.ExecutionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("mapstore: decode execution: %w", err)
	}
	return &rec, nil
}
