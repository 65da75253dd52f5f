package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/docflowhq/docflow/internal/types"
)

// sqlConn wraps a *sql.DB pool for one relational server.
type sqlConn struct {
	serverKey string
	dialect   Dialect
	db        *sql.DB
	metadata  *MetadataCache
	metrics   *Metrics
	logger    *zap.Logger
	broken    atomic.Bool
}

func (c *sqlConn) ServerKey() string { return c.serverKey }
func (c *sqlConn) Dialect() Dialect  { return c.dialect }
func (c *sqlConn) Healthy() bool     { return !c.broken.Load() }

func (c *sqlConn) Ping(ctx context.Context) error {
	err := c.db.PingContext(ctx)
	if err != nil {
		c.broken.Store(true)
	}
	return err
}

func (c *sqlConn) Close() error { return c.db.Close() }

func namedArg(name string, val any) any { return sql.Named(name, val) }

const retryMaxElapsed = 10 * time.Second

func newQueryBackoff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = retryMaxElapsed
	return bo
}

// withRetry executes op, retrying transient connection errors once the pool
// has replaced the broken connection. Non-transient errors stop immediately.
func (c *sqlConn) withRetry(ctx context.Context, op func() error) error {
	bo := newQueryBackoff()
	attempts := 0
	return backoff.Retry(func() error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		if attempts <= 2 && IsTransient(err) {
			c.logger.Warn("transient database error, retrying",
				zap.Int("attempt", attempts), zap.Error(err))
			// Drop pooled connections so the retry gets a fresh one.
			c.db.SetConnMaxLifetime(time.Nanosecond)
			c.db.SetConnMaxLifetime(0)
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))
}

func (c *sqlConn) Query(ctx context.Context, query string, params map[string]any) ([]types.Row, error) {
	translated, args, err := Translate(c.dialect, query, params)
	if err != nil {
		return nil, err
	}

	var rows []types.Row
	start := time.Now()
	err = c.withRetry(ctx, func() error {
		rs, qerr := c.db.QueryContext(ctx, translated, args...)
		if qerr != nil {
			return qerr
		}
		defer rs.Close()
		rows, qerr = scanRows(rs)
		return qerr
	})
	c.metrics.RecordQuery(c.serverKey, time.Since(start), err)
	if err != nil {
		c.noteError(err)
		return nil, Classify(err)
	}
	return rows, nil
}

// QueryValue runs a query expected to produce a single scalar. Rows are
// column maps with no defined order, so a multi-column result is an error
// rather than an arbitrary pick.
func (c *sqlConn) QueryValue(ctx context.Context, query string, params map[string]any) (any, bool, error) {
	rows, err := c.Query(ctx, query, params)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	if len(rows[0]) > 1 {
		return nil, false, fmt.Errorf("dbconn: single-value query returned %d columns", len(rows[0]))
	}
	for _, v := range rows[0] {
		return v, true, nil
	}
	return nil, true, nil
}

func (c *sqlConn) Exec(ctx context.Context, query string, params map[string]any) (int64, error) {
	translated, args, err := Translate(c.dialect, query, params)
	if err != nil {
		return 0, err
	}

	var affected int64
	start := time.Now()
	err = c.withRetry(ctx, func() error {
		res, xerr := c.db.ExecContext(ctx, translated, args...)
		if xerr != nil {
			return xerr
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	c.metrics.RecordQuery(c.serverKey, time.Since(start), err)
	if err != nil {
		c.noteError(err)
		return 0, Classify(err)
	}
	return affected, nil
}

// Insert renders an evaluator plan to `INSERT INTO t (cols) VALUES (...)`
// with bound markers for typed values and raw fragments inlined, then
// executes it. Inserts are committed as issued; per-document atomicity is the
// engine's concern (existence check + PK uniqueness + reservation protocol).
func (c *sqlConn) Insert(ctx context.Context, plan *types.InsertPlan) error {
	if len(plan.Columns) == 0 {
		return fmt.Errorf("dbconn: insert into %s with no columns", plan.Table)
	}

	var (
		exprs  = make([]string, len(plan.Exprs))
		params = make(map[string]any)
	)
	for i, e := range plan.Exprs {
		switch e.Kind {
		case types.ExprLiteral:
			exprs[i] = e.SQL
		default:
			name := fmt.Sprintf("p%d", i)
			params[name] = e.Value
			exprs[i] = "@" + name
		}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		plan.Table, strings.Join(plan.Columns, ", "), strings.Join(exprs, ", "))
	_, err := c.Exec(ctx, query, params)
	return err
}

func (c *sqlConn) Exists(ctx context.Context, table, keyColumn string, id any) (bool, error) {
	query := fmt.Sprintf("SELECT TOP 1 1 FROM %s WHERE %s = @id", table, keyColumn)
	_, found, err := c.QueryValue(ctx, query, map[string]any{"id": id})
	return found, err
}

// sqlTx adapts *sql.Tx to the facade Tx interface.
type sqlTx struct {
	tx      *sql.Tx
	dialect Dialect
}

func (t *sqlTx) Exec(ctx context.Context, query string, params map[string]any) (int64, error) {
	translated, args, err := Translate(t.dialect, query, params)
	if err != nil {
		return 0, err
	}
	res, err := t.tx.ExecContext(ctx, translated, args...)
	if err != nil {
		return 0, Classify(err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

func (t *sqlTx) Commit() error   { return t.tx.Commit() }
func (t *sqlTx) Rollback() error { return t.tx.Rollback() }

func (c *sqlConn) Begin(ctx context.Context) (Tx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		c.noteError(err)
		return nil, Classify(err)
	}
	return &sqlTx{tx: tx, dialect: c.dialect}, nil
}

func (c *sqlConn) TableExists(ctx context.Context, table string) (bool, error) {
	query := "SELECT TOP 1 1 FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_NAME = @t"
	_, found, err := c.QueryValue(ctx, query, map[string]any{"t": unqualifiedTable(table)})
	return found, err
}

func (c *sqlConn) ColumnTypes(ctx context.Context, table string) (types.TableMeta, error) {
	if meta, ok := c.metadata.Get(c.serverKey, table); ok {
		return meta, nil
	}

	query := `SELECT COLUMN_NAME, DATA_TYPE, CHARACTER_MAXIMUM_LENGTH, IS_NULLABLE
FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_NAME = @t`
	rows, err := c.Query(ctx, query, map[string]any{"t": unqualifiedTable(table)})
	if err != nil {
		return nil, err
	}

	meta := make(types.TableMeta, len(rows))
	for _, row := range rows {
		name, _ := row.Get("COLUMN_NAME")
		dataType, _ := row.Get("DATA_TYPE")
		maxLen, _ := row.Get("CHARACTER_MAXIMUM_LENGTH")
		nullable, _ := row.Get("IS_NULLABLE")
		if name == nil {
			continue
		}
		meta[strings.ToLower(fmt.Sprint(name))] = types.ColumnMeta{
			SQLType:   strings.ToLower(asString(dataType)),
			MaxLength: int(asInt64(maxLen)),
			Nullable:  strings.EqualFold(asString(nullable), "YES"),
		}
	}
	c.metadata.Put(c.serverKey, table, meta)
	return meta, nil
}

func (c *sqlConn) ClearTable(ctx context.Context, table string) error {
	_, err := c.Exec(ctx, "DELETE FROM "+table, nil)
	return err
}

func (c *sqlConn) noteError(err error) {
	if IsSevere(err) {
		c.broken.Store(true)
	}
}

// scanRows converts a result set into generic rows, preserving driver types.
func scanRows(rs *sql.Rows) ([]types.Row, error) {
	cols, err := rs.Columns()
	if err != nil {
		return nil, err
	}
	var out []types.Row
	for rs.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rs.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(types.Row, len(cols))
		for i, col := range cols {
			v := vals[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		out = append(out, row)
	}
	return out, rs.Err()
}

// unqualifiedTable strips a schema prefix ("dbo.Orders" → "Orders") for
// INFORMATION_SCHEMA lookups.
func unqualifiedTable(table string) string {
	if idx := strings.LastIndexByte(table, '.'); idx >= 0 {
		return table[idx+1:]
	}
	return table
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func asInt64(v any) int64 {
	switch x := v.(type) {
	case nil:
		return 0
	case int64:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float64:
		return int64(x)
	case string:
		var n int64
		_, _ = fmt.Sscan(x, &n)
		return n
	default:
		return 0
	}
}
