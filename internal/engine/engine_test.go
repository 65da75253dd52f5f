package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/docflowhq/docflow/internal/consecutive"
	"github.com/docflowhq/docflow/internal/dbconn"
	"github.com/docflowhq/docflow/internal/exectracker"
	"github.com/docflowhq/docflow/internal/mapstore"
	"github.com/docflowhq/docflow/internal/types"
)

// fakeConn is an in-memory dbconn.Conn with pluggable behavior per operation.
type fakeConn struct {
	key     string
	queryFn func(query string, params map[string]any) ([]types.Row, error)
	execFn  func(query string, params map[string]any) (int64, error)
	exists  func(table, keyColumn string, id any) (bool, error)
	insert  func(plan *types.InsertPlan) error

	mu      sync.Mutex
	queries []string
	inserts []*types.InsertPlan
	execs   []execCall
}

type execCall struct {
	query  string
	params map[string]any
}

func (f *fakeConn) ServerKey() string               { return f.key }
func (f *fakeConn) Dialect() dbconn.Dialect         { return dbconn.DialectMSSQL }
func (f *fakeConn) Ping(ctx context.Context) error  { return nil }
func (f *fakeConn) Healthy() bool                   { return true }
func (f *fakeConn) Close() error                    { return nil }

func (f *fakeConn) Query(ctx context.Context, query string, params map[string]any) ([]types.Row, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.queryFn == nil {
		return nil, nil
	}
	return f.queryFn(query, params)
}

func (f *fakeConn) QueryValue(ctx context.Context, query string, params map[string]any) (any, bool, error) {
	rows, err := f.Query(ctx, query, params)
	if err != nil || len(rows) == 0 {
		return nil, false, err
	}
	for _, v := range rows[0] {
		return v, true, nil
	}
	return nil, false, nil
}

func (f *fakeConn) Exec(ctx context.Context, query string, params map[string]any) (int64, error) {
	f.mu.Lock()
	f.execs = append(f.execs, execCall{query: query, params: params})
	f.mu.Unlock()
	if f.execFn == nil {
		return 1, nil
	}
	return f.execFn(query, params)
}

func (f *fakeConn) Insert(ctx context.Context, plan *types.InsertPlan) error {
	f.mu.Lock()
	f.inserts = append(f.inserts, plan)
	f.mu.Unlock()
	if f.insert == nil {
		return nil
	}
	return f.insert(plan)
}

func (f *fakeConn) Exists(ctx context.Context, table, keyColumn string, id any) (bool, error) {
	if f.exists == nil {
		return false, nil
	}
	return f.exists(table, keyColumn, id)
}

func (f *fakeConn) Begin(ctx context.Context) (dbconn.Tx, error) {
	return nil, errors.New("not supported")
}

func (f *fakeConn) TableExists(ctx context.Context, table string) (bool, error) { return true, nil }

func (f *fakeConn) ColumnTypes(ctx context.Context, table string) (types.TableMeta, error) {
	return types.TableMeta{}, nil
}

func (f *fakeConn) ClearTable(ctx context.Context, table string) error { return nil }

// insertedInto counts inserts per target table.
func (f *fakeConn) insertedInto(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.inserts {
		if p.Table == table {
			n++
		}
	}
	return n
}

// fakeProvider hands out fakeConns by server key.
type fakeProvider struct {
	mu       sync.Mutex
	conns    map[string]dbconn.Conn
	fail     map[string]error
	gets     map[string]int
	released int
}

func newFakeProvider(src, dst dbconn.Conn) *fakeProvider {
	return &fakeProvider{
		conns: map[string]dbconn.Conn{"src": src, "dst": dst},
		gets:  make(map[string]int),
	}
}

func (p *fakeProvider) Get(ctx context.Context, serverKey string) (dbconn.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gets[serverKey]++
	if err := p.fail[serverKey]; err != nil {
		return nil, err
	}
	conn, ok := p.conns[serverKey]
	if !ok {
		return nil, fmt.Errorf("unknown server %s", serverKey)
	}
	return conn, nil
}

func (p *fakeProvider) Release(conn dbconn.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released++
}

func engineMapping() *types.Mapping {
	return &types.Mapping{
		ID:           "orders",
		Name:         "Orders",
		SourceServer: "src",
		TargetServer: "dst",
		TableConfigs: []types.TableConfig{
			{
				Name:           "header",
				SourceTable:    "SRC_ORDERS",
				TargetTable:    "DST_ORDERS",
				PrimaryKey:     "ORDER_ID",
				ExecutionOrder: 1,
				FieldMappings: []types.FieldMapping{
					{SourceField: "ORDER_ID", TargetField: "DOC_ID"},
					{SourceField: "CUST", TargetField: "CUST"},
				},
			},
			{
				Name:           "lines",
				SourceTable:    "SRC_LINES",
				TargetTable:    "DST_LINES",
				PrimaryKey:     "ORDER_ID",
				ExecutionOrder: 2,
				IsDetailTable:  true,
				ParentTableRef: "header",
				FieldMappings: []types.FieldMapping{
					{SourceField: "LINE_NO", TargetField: "LINE_NO"},
					{SourceField: "ART", TargetField: "ART"},
				},
			},
		},
	}
}

// newSourceConn serves headers and details keyed by document id.
func newSourceConn(headers map[string]types.Row, details map[string][]types.Row) *fakeConn {
	fc := &fakeConn{key: "src"}
	fc.queryFn = func(query string, params map[string]any) ([]types.Row, error) {
		id, _ := params["documentId"].(string)
		switch {
		case strings.Contains(query, "SRC_ORDERS"):
			if h, ok := headers[id]; ok {
				return []types.Row{h}, nil
			}
			return nil, nil
		case strings.Contains(query, "SRC_LINES"):
			return details[id], nil
		default:
			return nil, nil
		}
	}
	return fc
}

func header(id string) types.Row {
	return types.Row{"ORDER_ID": id, "CUST": "C-" + id}
}

func lines(id string, n int) []types.Row {
	out := make([]types.Row, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, types.Row{"ORDER_ID": id, "LINE_NO": i, "ART": fmt.Sprintf("A-%d", i)})
	}
	return out
}

type testEnv struct {
	engine   *Engine
	repo     *mapstore.MemoryRepository
	execs    *mapstore.MemoryExecutionStore
	tracker  *exectracker.Tracker
	source   *fakeConn
	target   *fakeConn
	provider *fakeProvider
}

func newTestEnv(t *testing.T, m *types.Mapping, source, target *fakeConn,
	counters *consecutive.Service, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:     mapstore.NewMemoryRepository(m),
		execs:    mapstore.NewMemoryExecutionStore(),
		tracker:  exectracker.New(),
		source:   source,
		target:   target,
		provider: newFakeProvider(source, target),
	}
	env.engine = New(env.repo, env.execs, env.provider, counters, env.tracker, zap.NewNop(), opts...)
	return env
}

func (env *testEnv) record(t *testing.T, res *types.Result) *types.ExecutionRecord {
	t.Helper()
	rec, err := env.execs.GetExecution(context.Background(), res.ExecutionID)
	if err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestProcessDocumentsHappyPath(t *testing.T) {
	source := newSourceConn(
		map[string]types.Row{"A": header("A"), "B": header("B")},
		map[string][]types.Row{"A": lines("A", 2), "B": lines("B", 2)},
	)
	target := &fakeConn{key: "dst"}
	env := newTestEnv(t, engineMapping(), source, target, nil)

	res, err := env.engine.ProcessDocuments(context.Background(), "orders", []string{"A", "B"})
	if err != nil {
		t.Fatal(err)
	}

	if res.Status != types.StatusCompleted {
		t.Errorf("status = %s, want completed", res.Status)
	}
	if res.Processed != 2 || res.Failed != 0 || res.Skipped != 0 || res.Total != 2 {
		t.Errorf("counts = %+v", res)
	}
	if target.insertedInto("DST_ORDERS") != 2 || target.insertedInto("DST_LINES") != 4 {
		t.Errorf("inserts = %d headers, %d lines", target.insertedInto("DST_ORDERS"), target.insertedInto("DST_LINES"))
	}
	if len(res.Details) != 2 || !res.Details[0].Success || !res.Details[1].Success {
		t.Errorf("details = %+v", res.Details)
	}

	rec := env.record(t, res)
	if rec.Status != types.StatusCompleted || rec.SuccessfulRecords != 2 {
		t.Errorf("record = %+v", rec)
	}
	if env.provider.released != 2 {
		t.Errorf("released %d connections, want source and target", env.provider.released)
	}
	if env.tracker.Len() != 0 {
		t.Error("execution still registered after completion")
	}
}

func TestProcessDocumentsPartial(t *testing.T) {
	source := newSourceConn(
		map[string]types.Row{"A": header("A")},
		map[string][]types.Row{"A": lines("A", 1)},
	)
	target := &fakeConn{key: "dst"}
	env := newTestEnv(t, engineMapping(), source, target, nil)

	res, err := env.engine.ProcessDocuments(context.Background(), "orders", []string{"A", "GHOST"})
	if err != nil {
		t.Fatal(err)
	}

	if res.Status != types.StatusPartial {
		t.Errorf("status = %s, want partial", res.Status)
	}
	if res.Processed != 1 || res.Failed != 1 {
		t.Errorf("counts = processed %d, failed %d", res.Processed, res.Failed)
	}
	failed := res.Details[1]
	if failed.Success || !strings.Contains(failed.ErrorDetails, "not found") {
		t.Errorf("failed detail = %+v", failed)
	}
	if failed.ErrorCode != types.ErrCodeGeneral {
		t.Errorf("error code = %s", failed.ErrorCode)
	}

	rec := env.record(t, res)
	if rec.Status != types.StatusPartial || rec.FailedRecords != 1 {
		t.Errorf("record = %+v", rec)
	}
}

func TestProcessDocumentsAllFailed(t *testing.T) {
	source := newSourceConn(nil, nil)
	env := newTestEnv(t, engineMapping(), source, &fakeConn{key: "dst"}, nil)

	res, err := env.engine.ProcessDocuments(context.Background(), "orders", []string{"X", "Y"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != types.StatusFailed || res.Failed != 2 {
		t.Errorf("result = %+v", res)
	}
}

func TestProcessDocumentsRequiredFieldNull(t *testing.T) {
	m := engineMapping()
	m.TableConfigs[0].FieldMappings = append(m.TableConfigs[0].FieldMappings,
		types.FieldMapping{SourceField: "MISSING_COL", TargetField: "REQ", IsRequired: true})
	source := newSourceConn(map[string]types.Row{"A": header("A")}, nil)
	env := newTestEnv(t, m, source, &fakeConn{key: "dst"}, nil)

	res, err := env.engine.ProcessDocuments(context.Background(), "orders", []string{"A"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 1 {
		t.Fatalf("result = %+v", res)
	}
	if res.Details[0].ErrorCode != types.ErrCodeNullValue {
		t.Errorf("error code = %s, want %s", res.Details[0].ErrorCode, types.ErrCodeNullValue)
	}
}

func TestProcessDocumentsSkipExisting(t *testing.T) {
	source := newSourceConn(
		map[string]types.Row{"A": header("A"), "B": header("B")},
		map[string][]types.Row{"A": lines("A", 1), "B": lines("B", 1)},
	)
	target := &fakeConn{key: "dst"}
	target.exists = func(table, keyColumn string, id any) (bool, error) {
		return id == "A", nil
	}
	env := newTestEnv(t, engineMapping(), source, target, nil)

	res, err := env.engine.ProcessDocuments(context.Background(), "orders", []string{"A", "B"})
	if err != nil {
		t.Fatal(err)
	}

	if res.Status != types.StatusCompleted {
		t.Errorf("status = %s, skips do not degrade the status", res.Status)
	}
	if res.Skipped != 1 || res.Processed != 1 {
		t.Errorf("counts = %+v", res)
	}
	skipped := res.Details[0]
	if skipped.Status != types.StatusSkipped || !strings.Contains(skipped.Message, "already present in DST_ORDERS") {
		t.Errorf("skipped detail = %+v", skipped)
	}
	// Nothing was written for the skipped document.
	if target.insertedInto("DST_ORDERS") != 1 {
		t.Errorf("header inserts = %d, want 1", target.insertedInto("DST_ORDERS"))
	}
}

func TestProcessDocumentsWatchdog(t *testing.T) {
	source := newSourceConn(map[string]types.Row{"A": header("A")}, nil)
	env := newTestEnv(t, engineMapping(), source, &fakeConn{key: "dst"}, nil,
		WithWatchdogTimeout(time.Nanosecond))

	res, err := env.engine.ProcessDocuments(context.Background(), "orders", []string{"A", "B"})
	if err != nil {
		t.Fatal(err)
	}

	if res.Status != types.StatusCancelled {
		t.Errorf("status = %s, want cancelled", res.Status)
	}
	if res.Processed != 0 {
		t.Errorf("processed = %d, want 0", res.Processed)
	}
	rec := env.record(t, res)
	if !strings.Contains(rec.ErrorDetails, "watchdog") {
		t.Errorf("record error = %q, want watchdog reason", rec.ErrorDetails)
	}
}

func TestProcessDocumentsOperatorCancel(t *testing.T) {
	source := newSourceConn(
		map[string]types.Row{"A": header("A"), "B": header("B"), "C": header("C")},
		nil,
	)
	tracker := exectracker.New()
	env := &testEnv{
		repo:     mapstore.NewMemoryRepository(engineMapping()),
		execs:    mapstore.NewMemoryExecutionStore(),
		tracker:  tracker,
		source:   source,
		target:   &fakeConn{key: "dst"},
		provider: newFakeProvider(source, &fakeConn{key: "dst"}),
	}
	env.engine = New(env.repo, env.execs, env.provider, nil, tracker, zap.NewNop(),
		WithProgress(func(p types.Progress) {
			// Cancel after the first document lands.
			if p.Current == 1 {
				_ = tracker.Cancel(p.ExecutionID)
			}
		}))

	res, err := env.engine.ProcessDocuments(context.Background(), "orders", []string{"A", "B", "C"})
	if err != nil {
		t.Fatal(err)
	}

	if res.Status != types.StatusCancelled {
		t.Errorf("status = %s, want cancelled", res.Status)
	}
	if res.Processed != 1 {
		t.Errorf("processed = %d, want 1 before the cancel took effect", res.Processed)
	}
	rec := env.record(t, res)
	if !strings.Contains(rec.ErrorDetails, "cancelled") {
		t.Errorf("record error = %q", rec.ErrorDetails)
	}
}

func TestProcessDocumentsCentralConsecutive(t *testing.T) {
	counters := consecutive.NewService(consecutive.NewMemoryStore(), zap.NewNop())
	ctx := context.Background()
	if err := counters.Create(ctx, &consecutive.Counter{
		ID: "inv", Name: "invoices", Format: "FC-{VALUE:4}",
	}); err != nil {
		t.Fatal(err)
	}

	m := engineMapping()
	m.Consecutive = types.ConsecutiveConfig{
		Enabled:               true,
		UseCentralizedService: true,
		ConsecutiveName:       "invoices",
		FieldName:             "DOC_NUM",
	}
	m.TableConfigs[0].FieldMappings = append(m.TableConfigs[0].FieldMappings,
		types.FieldMapping{TargetField: "DOC_NUM"})

	source := newSourceConn(
		map[string]types.Row{"A": header("A"), "C": header("C")},
		nil,
	)
	target := &fakeConn{key: "dst"}
	env := newTestEnv(t, m, source, target, counters)

	res, err := env.engine.ProcessDocuments(ctx, "orders", []string{"A", "GHOST", "C"})
	if err != nil {
		t.Fatal(err)
	}

	if res.Processed != 2 || res.Failed != 1 {
		t.Fatalf("counts = %+v", res)
	}
	if len(res.ConsecutivesUsed) != 2 {
		t.Fatalf("consecutives used = %+v", res.ConsecutivesUsed)
	}
	// The failed document's value is cancelled, never reused: A=1, GHOST=2
	// (gap), C=3.
	if res.ConsecutivesUsed[0].Numeric != 1 || res.ConsecutivesUsed[1].Numeric != 3 {
		t.Errorf("numerics = %+v, want 1 and 3 with a gap at 2", res.ConsecutivesUsed)
	}
	if res.ConsecutivesUsed[0].Formatted != "FC-0001" {
		t.Errorf("formatted = %q", res.ConsecutivesUsed[0].Formatted)
	}

	// The reserved value lands in the insert plan for the configured field.
	var docNum any
	for _, plan := range target.inserts {
		if plan.Table != "DST_ORDERS" {
			continue
		}
		for i, col := range plan.Columns {
			if col == "DOC_NUM" {
				docNum = plan.Exprs[i].Value
			}
		}
		break
	}
	if docNum != "FC-0001" {
		t.Errorf("DOC_NUM in insert plan = %v, want FC-0001", docNum)
	}

	c, err := counters.Get(ctx, "inv")
	if err != nil {
		t.Fatal(err)
	}
	if c.CurrentValue != 3 {
		t.Errorf("counter = %d, want 3 (gap included)", c.CurrentValue)
	}
	committed, cancelled := 0, 0
	for _, r := range c.Reservations {
		switch r.Status {
		case consecutive.StatusCommitted:
			committed++
		case consecutive.StatusCancelled:
			cancelled++
		}
	}
	if committed != 2 || cancelled != 1 {
		t.Errorf("reservations = %d committed, %d cancelled", committed, cancelled)
	}
}

func TestProcessDocumentsLocalConsecutive(t *testing.T) {
	m := engineMapping()
	m.Consecutive = types.ConsecutiveConfig{
		Enabled:    true,
		FieldName:  "DOC_NUM",
		Prefix:     "P",
		StartValue: 500,
	}

	source := newSourceConn(
		map[string]types.Row{"A": header("A"), "C": header("C")},
		nil,
	)
	env := newTestEnv(t, m, source, &fakeConn{key: "dst"}, nil)

	res, err := env.engine.ProcessDocuments(context.Background(), "orders", []string{"A", "GHOST", "C"})
	if err != nil {
		t.Fatal(err)
	}

	if res.Processed != 2 || res.Failed != 1 {
		t.Fatalf("counts = %+v", res)
	}
	// Local counters do not rewind: the failed document consumed 502.
	if res.ConsecutivesUsed[0].Numeric != 501 || res.ConsecutivesUsed[1].Numeric != 503 {
		t.Errorf("numerics = %+v, want 501 and 503", res.ConsecutivesUsed)
	}

	mapping, _ := env.repo.FindMapping(context.Background(), "orders")
	if mapping.Consecutive.LastValue != 503 {
		t.Errorf("persisted lastValue = %d, want 503", mapping.Consecutive.LastValue)
	}
}

// Re-running an already transferred document must not burn a consecutive:
// the local allocation is only persisted on commit, and a skip never commits.
func TestProcessDocumentsLocalConsecutiveSkipKeepsCounter(t *testing.T) {
	m := engineMapping()
	m.Consecutive = types.ConsecutiveConfig{
		Enabled:    true,
		FieldName:  "DOC_NUM",
		Prefix:     "P",
		StartValue: 10,
		LastValue:  11,
	}

	source := newSourceConn(map[string]types.Row{"A": header("A")}, nil)
	target := &fakeConn{key: "dst"}
	target.exists = func(table, keyColumn string, id any) (bool, error) {
		return true, nil
	}
	env := newTestEnv(t, m, source, target, nil)

	res, err := env.engine.ProcessDocuments(context.Background(), "orders", []string{"A"})
	if err != nil {
		t.Fatal(err)
	}

	if res.Skipped != 1 || res.Processed != 0 {
		t.Fatalf("counts = %+v", res)
	}
	mapping, _ := env.repo.FindMapping(context.Background(), "orders")
	if mapping.Consecutive.LastValue != 11 {
		t.Errorf("lastValue = %d, want 11 (skip must not advance the counter)", mapping.Consecutive.LastValue)
	}
}

func TestMarkingIndividual(t *testing.T) {
	m := engineMapping()
	m.MarkProcessedField = "PROCESSED"
	m.MarkProcessedValue = "1"

	source := newSourceConn(map[string]types.Row{"A": header("A"), "B": header("B")}, nil)
	env := newTestEnv(t, m, source, &fakeConn{key: "dst"}, nil)

	res, err := env.engine.ProcessDocuments(context.Background(), "orders", []string{"A", "B"})
	if err != nil {
		t.Fatal(err)
	}

	if res.Marking == nil || res.Marking.Strategy != types.MarkIndividual {
		t.Fatalf("marking = %+v, field without strategy defaults to individual", res.Marking)
	}
	if res.Marking.Marked != 2 {
		t.Errorf("marked = %d, want 2", res.Marking.Marked)
	}
	source.mu.Lock()
	defer source.mu.Unlock()
	if len(source.execs) != 2 {
		t.Fatalf("exec calls = %d, want one UPDATE per document", len(source.execs))
	}
	call := source.execs[0]
	if !strings.Contains(call.query, "UPDATE SRC_ORDERS SET PROCESSED") {
		t.Errorf("query = %q", call.query)
	}
	if call.params["documentId"] != "A" || call.params["value"] != "1" {
		t.Errorf("params = %v", call.params)
	}
}

func TestMarkingIndividualFailureKeepsDocument(t *testing.T) {
	m := engineMapping()
	m.MarkProcessedField = "PROCESSED"
	m.MarkProcessedValue = "1"

	source := newSourceConn(map[string]types.Row{"A": header("A")}, nil)
	source.execFn = func(query string, params map[string]any) (int64, error) {
		return 0, errors.New("source is read-only")
	}
	env := newTestEnv(t, m, source, &fakeConn{key: "dst"}, nil)

	res, err := env.engine.ProcessDocuments(context.Background(), "orders", []string{"A"})
	if err != nil {
		t.Fatal(err)
	}

	// The transfer stands; only the marking failure is reported.
	if res.Processed != 1 || res.Status != types.StatusCompleted {
		t.Errorf("result = %+v", res)
	}
	if res.Marking.Marked != 0 || len(res.Marking.Errors) != 1 {
		t.Errorf("marking = %+v", res.Marking)
	}
}

func TestMarkingBatch(t *testing.T) {
	m := engineMapping()
	m.MarkProcessedField = "PROCESSED"
	m.MarkProcessedValue = "1"
	m.MarkProcessedStrategy = types.MarkBatch

	source := newSourceConn(map[string]types.Row{"A": header("A"), "B": header("B")}, nil)
	source.execFn = func(query string, params map[string]any) (int64, error) {
		return 2, nil
	}
	env := newTestEnv(t, m, source, &fakeConn{key: "dst"}, nil)

	res, err := env.engine.ProcessDocuments(context.Background(), "orders", []string{"A", "GHOST", "B"})
	if err != nil {
		t.Fatal(err)
	}

	if res.Marking.Strategy != types.MarkBatch || res.Marking.Marked != 2 {
		t.Fatalf("marking = %+v", res.Marking)
	}
	source.mu.Lock()
	defer source.mu.Unlock()
	if len(source.execs) != 1 {
		t.Fatalf("exec calls = %d, want one batch UPDATE", len(source.execs))
	}
	call := source.execs[0]
	if !strings.Contains(call.query, "IN (@id0, @id1)") {
		t.Errorf("query = %q", call.query)
	}
	// Only successful documents are in the batch.
	if call.params["id0"] != "A" || call.params["id1"] != "B" {
		t.Errorf("params = %v", call.params)
	}
}

func TestMarkingBatchRollback(t *testing.T) {
	m := engineMapping()
	m.MarkProcessedField = "PROCESSED"
	m.MarkProcessedValue = "1"
	m.MarkUnprocessedValue = "0"
	m.MarkProcessedStrategy = types.MarkBatch
	m.MarkProcessedConfig.AllowRollback = true

	source := newSourceConn(map[string]types.Row{"A": header("A"), "B": header("B")}, nil)
	calls := 0
	source.execFn = func(query string, params map[string]any) (int64, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("lock timeout")
		}
		return 2, nil
	}
	env := newTestEnv(t, m, source, &fakeConn{key: "dst"}, nil)

	res, err := env.engine.ProcessDocuments(context.Background(), "orders", []string{"A", "B"})
	if err != nil {
		t.Fatal(err)
	}

	if res.Marking.Marked != 0 || res.Marking.RolledBack != 2 {
		t.Fatalf("marking = %+v", res.Marking)
	}
	if len(res.Marking.Errors) != 1 {
		t.Errorf("errors = %v", res.Marking.Errors)
	}
	source.mu.Lock()
	defer source.mu.Unlock()
	rollbackCall := source.execs[1]
	if rollbackCall.params["value"] != "0" {
		t.Errorf("rollback params = %v, want the unprocessed value", rollbackCall.params)
	}
}

// A partial batch must not stay flagged: when rollback is allowed and any
// document failed, the successful documents' markers are reset after the
// batch UPDATE so source state matches the incomplete transfer.
func TestMarkingBatchPartialRollback(t *testing.T) {
	m := engineMapping()
	m.MarkProcessedField = "PROCESSED"
	m.MarkProcessedValue = "1"
	m.MarkUnprocessedValue = "0"
	m.MarkProcessedStrategy = types.MarkBatch
	m.MarkProcessedConfig.AllowRollback = true

	source := newSourceConn(map[string]types.Row{"A": header("A"), "B": header("B")}, nil)
	source.execFn = func(query string, params map[string]any) (int64, error) {
		return 2, nil
	}
	env := newTestEnv(t, m, source, &fakeConn{key: "dst"}, nil)

	res, err := env.engine.ProcessDocuments(context.Background(), "orders", []string{"A", "GHOST", "B"})
	if err != nil {
		t.Fatal(err)
	}

	if res.Processed != 2 || res.Failed != 1 {
		t.Fatalf("counts = %+v", res)
	}
	if res.Marking.RolledBack != 2 {
		t.Fatalf("marking = %+v, want the successful documents rolled back", res.Marking)
	}
	source.mu.Lock()
	defer source.mu.Unlock()
	if len(source.execs) != 2 {
		t.Fatalf("exec calls = %d, want batch mark then rollback", len(source.execs))
	}
	mark, rollback := source.execs[0], source.execs[1]
	if mark.params["value"] != "1" || mark.params["id0"] != "A" || mark.params["id1"] != "B" {
		t.Errorf("mark call = %+v", mark)
	}
	if rollback.params["value"] != "0" || rollback.params["id0"] != "A" || rollback.params["id1"] != "B" {
		t.Errorf("rollback call = %+v", rollback)
	}
}

// Individually marked documents are in the target; a cancelled run leaves
// their markers set so a re-run skips them with source and target coherent.
func TestMarkingIndividualCancelKeepsMarkers(t *testing.T) {
	m := engineMapping()
	m.MarkProcessedField = "PROCESSED"
	m.MarkProcessedValue = "1"
	m.MarkUnprocessedValue = "0"
	m.MarkProcessedConfig.AllowRollback = true

	source := newSourceConn(map[string]types.Row{"A": header("A"), "B": header("B")}, nil)
	tracker := exectracker.New()
	env := &testEnv{
		repo:     mapstore.NewMemoryRepository(m),
		execs:    mapstore.NewMemoryExecutionStore(),
		tracker:  tracker,
		source:   source,
		target:   &fakeConn{key: "dst"},
		provider: newFakeProvider(source, &fakeConn{key: "dst"}),
	}
	env.engine = New(env.repo, env.execs, env.provider, nil, tracker, zap.NewNop(),
		WithProgress(func(p types.Progress) {
			if p.Current == 1 {
				_ = tracker.Cancel(p.ExecutionID)
			}
		}))

	res, err := env.engine.ProcessDocuments(context.Background(), "orders", []string{"A", "B"})
	if err != nil {
		t.Fatal(err)
	}

	if res.Status != types.StatusCancelled {
		t.Fatalf("status = %s", res.Status)
	}
	if res.Marking.Marked != 1 || res.Marking.RolledBack != 0 {
		t.Errorf("marking = %+v, want A's marker kept", res.Marking)
	}
	source.mu.Lock()
	defer source.mu.Unlock()
	for _, call := range source.execs {
		if call.params["value"] == "0" {
			t.Errorf("unexpected marker reset: %+v", call)
		}
	}
}

func TestProcessDocumentsEmpty(t *testing.T) {
	env := newTestEnv(t, engineMapping(), newSourceConn(nil, nil), &fakeConn{key: "dst"}, nil)

	res, err := env.engine.ProcessDocuments(context.Background(), "orders", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != types.StatusCompleted || res.Total != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestProcessDocumentsCustomQuery(t *testing.T) {
	m := engineMapping()
	m.TableConfigs[0].CustomQuery = "SELECT * FROM SRC_ORDERS WHERE NUM = @documentId AND VALID = 1"

	source := &fakeConn{key: "src"}
	source.queryFn = func(query string, params map[string]any) ([]types.Row, error) {
		if strings.Contains(query, "SRC_ORDERS") {
			return []types.Row{header("A-1")}, nil
		}
		return nil, nil
	}
	env := newTestEnv(t, m, source, &fakeConn{key: "dst"}, nil)

	res, err := env.engine.ProcessDocuments(context.Background(), "orders", []string{"A-1"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 1 {
		t.Fatalf("result = %+v", res)
	}

	source.mu.Lock()
	defer source.mu.Unlock()
	if source.queries[0] != "SELECT * FROM SRC_ORDERS WHERE NUM = 'A-1' AND VALID = 1" {
		t.Errorf("query = %q, want the document id substituted and quoted", source.queries[0])
	}
}

func TestProcessDocumentsUnknownMapping(t *testing.T) {
	env := newTestEnv(t, engineMapping(), newSourceConn(nil, nil), &fakeConn{key: "dst"}, nil)

	_, err := env.engine.ProcessDocuments(context.Background(), "ghost", []string{"A"})
	if !errors.Is(err, mapstore.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestProcessDocumentsConnectRetries(t *testing.T) {
	if testing.Short() {
		t.Skip("connection backoff sleeps between attempts")
	}
	source := newSourceConn(nil, nil)
	env := newTestEnv(t, engineMapping(), source, &fakeConn{key: "dst"}, nil)
	env.provider.fail = map[string]error{"src": errors.New("connection refused")}

	res, err := env.engine.ProcessDocuments(context.Background(), "orders", []string{"A"})
	if err == nil {
		t.Fatal("expected a setup error")
	}
	if !dbconn.ErrConnection.Has(err) {
		t.Errorf("err = %v, want connection class", err)
	}
	if env.provider.gets["src"] != 3 {
		t.Errorf("attempts = %d, want 3", env.provider.gets["src"])
	}
	if res.Status != types.StatusFailed {
		t.Errorf("result status = %s, want failed", res.Status)
	}

	rec := env.record(t, res)
	if rec.Status != types.StatusFailed || rec.ErrorDetails == "" {
		t.Errorf("record = %+v", rec)
	}
}
