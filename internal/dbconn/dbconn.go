// Package dbconn is the connection and transaction facade over the source
// and target databases.
//
// A Manager owns one pool per configured server key. Stored mapping SQL is
// written in the MSSQL dialect (@name parameters, SELECT TOP n); the facade
// translates markers and row-limit syntax for the other engines. Connections
// acquired through Get are owned by the caller until Release, including on
// error and cancellation paths.
package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	"go.uber.org/zap"

	"github.com/docflowhq/docflow/internal/types"
)

// ServerConfig describes one configured database server.
type ServerConfig struct {
	// Driver selects the dialect: "sqlserver", "postgres", "mysql",
	// "mariadb", or "mongodb".
	Driver string `yaml:"driver" json:"driver"`
	// DSN is the driver-specific connection string.
	DSN string `yaml:"dsn" json:"dsn"`
	// MaxOpenConns bounds the pool (0 = driver default).
	MaxOpenConns int `yaml:"maxOpenConns,omitempty" json:"maxOpenConns,omitempty"`
	// Database names the MongoDB database (mongodb driver only).
	Database string `yaml:"database,omitempty" json:"database,omitempty"`
}

// Manager is the process-wide registry of server pools. It is safe for
// concurrent use.
type Manager struct {
	mu      sync.RWMutex
	servers map[string]ServerConfig
	pools   map[string]Conn

	metadata *MetadataCache
	metrics  *Metrics
	logger   *zap.Logger
}

// NewManager creates a facade over the given server registry.
func NewManager(servers map[string]ServerConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		servers:  servers,
		pools:    make(map[string]Conn),
		metadata: NewMetadataCache(),
		metrics:  NewMetrics(),
		logger:   logger.Named("dbconn"),
	}
}

// Metrics exposes the per-server telemetry collector.
func (m *Manager) Metrics() *Metrics { return m.metrics }

// ServerKeys returns the configured server keys, sorted.
func (m *Manager) ServerKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.servers))
	for k := range m.servers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns a pooled connection for the server key, opening the pool on
// first use and verifying it with a bounded ping.
func (m *Manager) Get(ctx context.Context, serverKey string) (Conn, error) {
	m.mu.RLock()
	if conn, ok := m.pools[serverKey]; ok {
		m.mu.RUnlock()
		return conn, nil
	}
	cfg, ok := m.servers[serverKey]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("dbconn: unknown server %q", serverKey)
	}

	conn, err := m.open(ctx, serverKey, cfg)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.pools[serverKey]; ok {
		_ = conn.Close()
		return existing, nil
	}
	m.pools[serverKey] = conn
	return conn, nil
}

// Release returns a connection to the facade. Pools stay open for reuse by
// later executions; Release exists so call sites pair every Get on all exit
// paths and so a broken connection can be discarded.
func (m *Manager) Release(conn Conn) {
	if conn == nil {
		return
	}
	if !conn.Healthy() {
		m.Discard(conn.ServerKey())
	}
}

// Discard drops the pool for a server key so the next Get reopens it. Used
// after severe connection errors.
func (m *Manager) Discard(serverKey string) {
	m.mu.Lock()
	conn, ok := m.pools[serverKey]
	if ok {
		delete(m.pools, serverKey)
	}
	m.mu.Unlock()
	if ok {
		_ = conn.Close()
		m.logger.Warn("discarded connection pool", zap.String("server", serverKey))
	}
}

// HealthCheck pings every configured server and returns the per-server error
// (nil entries are healthy).
func (m *Manager) HealthCheck(ctx context.Context) map[string]error {
	out := make(map[string]error)
	for _, key := range m.ServerKeys() {
		conn, err := m.Get(ctx, key)
		if err != nil {
			out[key] = err
			continue
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		out[key] = conn.Ping(pingCtx)
		cancel()
	}
	return out
}

// Close shuts down every open pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for key, conn := range m.pools {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.pools, key)
	}
	return firstErr
}

func (m *Manager) open(ctx context.Context, serverKey string, cfg ServerConfig) (Conn, error) {
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	if dialect == DialectMongo {
		return openMongo(ctx, serverKey, cfg, m.metrics, m.logger)
	}

	db, err := sql.Open(dialect.driverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("dbconn: open %s: %w", serverKey, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("dbconn: ping %s: %w", serverKey, err)
	}

	return &sqlConn{
		serverKey: serverKey,
		dialect:   dialect,
		db:        db,
		metadata:  m.metadata,
		metrics:   m.metrics,
		logger:    m.logger.With(zap.String("server", serverKey)),
	}, nil
}

// Tx is an open transaction on a relational connection.
type Tx interface {
	Exec(ctx context.Context, query string, params map[string]any) (int64, error)
	Commit() error
	Rollback() error
}

// Conn is one logical connection to a configured server. Relational
// implementations wrap *sql.DB; the MongoDB implementation supports the
// structured operations (Insert, Exists, ClearTable) and rejects raw SQL.
type Conn interface {
	ServerKey() string
	Dialect() Dialect
	Ping(ctx context.Context) error
	Healthy() bool

	// Query runs a SELECT written in the MSSQL dialect with @name markers
	// and returns all rows.
	Query(ctx context.Context, query string, params map[string]any) ([]types.Row, error)
	// QueryValue runs a query and returns the first column of the first row,
	// or (nil, false, nil) when the result set is empty.
	QueryValue(ctx context.Context, query string, params map[string]any) (any, bool, error)
	// Exec runs a statement and returns the affected row count.
	Exec(ctx context.Context, query string, params map[string]any) (int64, error)

	// Insert renders and executes an evaluator insert plan.
	Insert(ctx context.Context, plan *types.InsertPlan) error
	// Exists reports whether a row with the given key exists.
	Exists(ctx context.Context, table, keyColumn string, id any) (bool, error)

	Begin(ctx context.Context) (Tx, error)
	TableExists(ctx context.Context, table string) (bool, error)
	ColumnTypes(ctx context.Context, table string) (types.TableMeta, error)
	ClearTable(ctx context.Context, table string) error

	Close() error
}
