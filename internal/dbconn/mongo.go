package dbconn

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/docflowhq/docflow/internal/types"
)

// mongoConn adapts a MongoDB database to the facade. Only the structured
// operations are supported: Insert materializes the plan as a document,
// Exists probes by key, ClearTable empties a collection. Raw SQL surfaces
// reject with a descriptive error, so mappings must not use a mongodb server
// as a lookup or source side.
type mongoConn struct {
	serverKey string
	client    *mongo.Client
	db        *mongo.Database
	metrics   *Metrics
	logger    *zap.Logger
}

func openMongo(ctx context.Context, serverKey string, cfg ServerConfig, metrics *Metrics, logger *zap.Logger) (Conn, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("dbconn: connect %s: %w", serverKey, err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("dbconn: ping %s: %w", serverKey, err)
	}

	dbName := cfg.Database
	if dbName == "" {
		dbName = "docflow"
	}
	return &mongoConn{
		serverKey: serverKey,
		client:    client,
		db:        client.Database(dbName),
		metrics:   metrics,
		logger:    logger.With(zap.String("server", serverKey)),
	}, nil
}

// MongoDatabase returns the underlying database handle when conn is a
// mongodb connection. Components that keep their own collections (the counter
// store) use this instead of the SQL surface.
func MongoDatabase(conn Conn) (*mongo.Database, bool) {
	mc, ok := conn.(*mongoConn)
	if !ok {
		return nil, false
	}
	return mc.db, true
}

func (c *mongoConn) ServerKey() string { return c.serverKey }
func (c *mongoConn) Dialect() Dialect  { return DialectMongo }
func (c *mongoConn) Healthy() bool     { return true }

func (c *mongoConn) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, nil)
}

func (c *mongoConn) Close() error {
	return c.client.Disconnect(context.Background())
}

func (c *mongoConn) Query(ctx context.Context, query string, params map[string]any) ([]types.Row, error) {
	return nil, fmt.Errorf("dbconn: %s is a mongodb server; SQL queries are not supported", c.serverKey)
}

func (c *mongoConn) QueryValue(ctx context.Context, query string, params map[string]any) (any, bool, error) {
	return nil, false, fmt.Errorf("dbconn: %s is a mongodb server; SQL queries are not supported", c.serverKey)
}

func (c *mongoConn) Exec(ctx context.Context, query string, params map[string]any) (int64, error) {
	return 0, fmt.Errorf("dbconn: %s is a mongodb server; SQL statements are not supported", c.serverKey)
}

// Insert materializes an insert plan as one document. Literal SQL fragments
// are evaluated locally for the known date/id functions; any other fragment
// is an error since there is no SQL engine to interpret it.
func (c *mongoConn) Insert(ctx context.Context, plan *types.InsertPlan) error {
	doc := bson.M{}
	for i, col := range plan.Columns {
		e := plan.Exprs[i]
		switch e.Kind {
		case types.ExprLiteral:
			v, err := evalLiteral(e.SQL)
			if err != nil {
				return fmt.Errorf("dbconn: %s: column %s: %w", c.serverKey, col, err)
			}
			doc[col] = v
		default:
			doc[col] = e.Value
		}
	}

	start := time.Now()
	_, err := c.db.Collection(plan.Table).InsertOne(ctx, doc)
	c.metrics.RecordQuery(c.serverKey, time.Since(start), err)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateKey.Wrap(err)
	}
	return err
}

func (c *mongoConn) Exists(ctx context.Context, table, keyColumn string, id any) (bool, error) {
	start := time.Now()
	err := c.db.Collection(table).FindOne(ctx, bson.M{keyColumn: id}).Err()
	c.metrics.RecordQuery(c.serverKey, time.Since(start), err)
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *mongoConn) Begin(ctx context.Context) (Tx, error) {
	return nil, fmt.Errorf("dbconn: %s is a mongodb server; transactions are not supported by the facade", c.serverKey)
}

func (c *mongoConn) TableExists(ctx context.Context, table string) (bool, error) {
	names, err := c.db.ListCollectionNames(ctx, bson.M{"name": table})
	if err != nil {
		return false, err
	}
	return len(names) > 0, nil
}

func (c *mongoConn) ColumnTypes(ctx context.Context, table string) (types.TableMeta, error) {
	// Collections are schemaless; binding happens untyped.
	return types.TableMeta{}, nil
}

func (c *mongoConn) ClearTable(ctx context.Context, table string) error {
	_, err := c.db.Collection(table).DeleteMany(ctx, bson.M{})
	return err
}

// evalLiteral computes the known native SQL functions client-side.
func evalLiteral(sqlFragment string) (any, error) {
	switch strings.ToUpper(strings.TrimSpace(sqlFragment)) {
	case "GETDATE()", "CURRENT_TIMESTAMP", "SYSDATETIME()":
		return time.Now(), nil
	case "GETUTCDATE()", "SYSUTCDATETIME()":
		return time.Now().UTC(), nil
	case "NEWID()", "UUID()":
		return uuid.NewString(), nil
	default:
		return nil, fmt.Errorf("cannot evaluate SQL fragment %q for a document target", sqlFragment)
	}
}
