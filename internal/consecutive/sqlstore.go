package consecutive

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/docflowhq/docflow/internal/dbconn"
)

// SQLStore persists counter documents as JSON in a relational table:
//
//	CREATE TABLE docflow_counters (
//	    id       VARCHAR(64)  NOT NULL PRIMARY KEY,
//	    name     VARCHAR(128) NOT NULL,
//	    doc      TEXT         NOT NULL,
//	    revision BIGINT       NOT NULL
//	)
//
// The revision column carries the optimistic concurrency token: Update only
// matches when the stored revision equals the one the caller read.
type SQLStore struct {
	conn  dbconn.Conn
	table string
}

// NewSQLStore wraps a facade connection. The table defaults to
// docflow_counters.
func NewSQLStore(conn dbconn.Conn, table string) *SQLStore {
	if table == "" {
		table = "docflow_counters"
	}
	return &SQLStore{conn: conn, table: table}
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Counter, int64, error) {
	query := fmt.Sprintf("SELECT doc, revision FROM %s WHERE id = @id", s.table)
	rows, err := s.conn.Query(ctx, query, map[string]any{"id": id})
	if err != nil {
		return nil, 0, err
	}
	if len(rows) == 0 {
		return nil, 0, ErrNotFound
	}
	return decodeCounterRow(rows[0]["doc"], rows[0]["revision"])
}

func (s *SQLStore) GetByName(ctx context.Context, name string) (*Counter, int64, error) {
	query := fmt.Sprintf("SELECT doc, revision FROM %s WHERE name = @name", s.table)
	rows, err := s.conn.Query(ctx, query, map[string]any{"name": name})
	if err != nil {
		return nil, 0, err
	}
	if len(rows) == 0 {
		return nil, 0, ErrNotFound
	}
	return decodeCounterRow(rows[0]["doc"], rows[0]["revision"])
}

func (s *SQLStore) Create(ctx context.Context, c *Counter) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("consecutive: encode counter: %w", err)
	}
	query := fmt.Sprintf("INSERT INTO %s (id, name, doc, revision) VALUES (@id, @name, @doc, 1)", s.table)
	_, err = s.conn.Exec(ctx, query, map[string]any{
		"id": c.ID, "name": c.Name, "doc": string(doc),
	})
	if dbconn.ErrDuplicateKey.Has(err) {
		return ErrConflict
	}
	return err
}

func (s *SQLStore) Update(ctx context.Context, c *Counter, revision int64) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("consecutive: encode counter: %w", err)
	}
	query := fmt.Sprintf(
		"UPDATE %s SET doc = @doc, name = @name, revision = revision + 1 WHERE id = @id AND revision = @rev",
		s.table)
	affected, err := s.conn.Exec(ctx, query, map[string]any{
		"doc": string(doc), "name": c.Name, "id": c.ID, "rev": revision,
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context) ([]*Counter, error) {
	query := fmt.Sprintf("SELECT doc, revision FROM %s ORDER BY id", s.table)
	rows, err := s.conn.Query(ctx, query, nil)
	if err != nil {
		return nil, err
	}
	out := make([]*Counter, 0, len(rows))
	for _, row := range rows {
		c, _, err := decodeCounterRow(row["doc"], row["revision"])
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func decodeCounterRow(doc, revision any) (*Counter, int64, error) {
	raw, ok := doc.(string)
	if !ok {
		return nil, 0, fmt.Errorf("consecutive: unexpected doc column type %T", doc)
	}
	var c Counter
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, 0, fmt.Errorf("consecutive: decode counter: %w", err)
	}
	var rev int64
	switch x := revision.(type) {
	case int64:
		rev = x
	case int:
		rev = int64(x)
	case float64:
		rev = int64(x)
	case string:
		fmt.Sscan(x, &rev)
	default:
		return nil, 0, fmt.Errorf("consecutive: unexpected revision column type %T", revision)
	}
	return &c, rev, nil
}
