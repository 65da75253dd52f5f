package evaluator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/docflowhq/docflow/internal/types"
)

func TestRunLookups(t *testing.T) {
	tc := testTableConfig(
		types.FieldMapping{SourceField: "NAME", TargetField: "NAME"},
		types.FieldMapping{
			TargetField:      "CUST_ID",
			LookupFromTarget: true,
			LookupQuery:      "SELECT id AS result FROM customers WHERE code = @code",
			LookupParams:     []types.LookupParam{{SourceField: "CUST_CODE", ParamName: "code"}},
		},
	)

	t.Run("result column wins", func(t *testing.T) {
		target := &fakeTarget{rows: []types.Row{{"result": 77, "other": "x"}}}
		e := New(&types.Mapping{}, target, nil)

		got, err := e.RunLookups(context.Background(), tc, types.Row{"CUST_CODE": "C1"})
		if err != nil {
			t.Fatal(err)
		}
		if got["CUST_ID"] != 77 {
			t.Errorf("lookup = %v, want 77", got["CUST_ID"])
		}
		if len(target.queries) != 1 {
			t.Fatalf("ran %d queries, want 1 (plain fields skipped)", len(target.queries))
		}
		if target.params[0]["code"] != "C1" {
			t.Errorf("params = %v, want code=C1", target.params[0])
		}
	})

	t.Run("optional lookup with missing parameter yields nil", func(t *testing.T) {
		target := &fakeTarget{rows: []types.Row{{"result": 77}}}
		e := New(&types.Mapping{}, target, nil)

		got, err := e.RunLookups(context.Background(), tc, types.Row{})
		if err != nil {
			t.Fatal(err)
		}
		if got["CUST_ID"] != nil {
			t.Errorf("lookup = %v, want nil", got["CUST_ID"])
		}
		if len(target.queries) != 0 {
			t.Error("query must not run without its parameter")
		}
	})

	t.Run("required lookup with missing parameter fails", func(t *testing.T) {
		required := testTableConfig(types.FieldMapping{
			TargetField:      "CUST_ID",
			LookupFromTarget: true,
			LookupQuery:      "SELECT 1",
			LookupParams:     []types.LookupParam{{SourceField: "CUST_CODE", ParamName: "code"}},
			FailIfNotFound:   true,
		})
		e := New(&types.Mapping{}, &fakeTarget{}, nil)

		_, err := e.RunLookups(context.Background(), required, types.Row{})
		var lerr *LookupError
		if !errors.As(err, &lerr) || lerr.Field != "CUST_ID" {
			t.Fatalf("err = %v, want LookupError for CUST_ID", err)
		}
	})

	t.Run("failIfNotFound with no rows fails", func(t *testing.T) {
		required := testTableConfig(types.FieldMapping{
			TargetField:      "CUST_ID",
			LookupFromTarget: true,
			LookupQuery:      "SELECT 1",
			FailIfNotFound:   true,
		})
		e := New(&types.Mapping{}, &fakeTarget{rows: nil}, nil)

		_, err := e.RunLookups(context.Background(), required, types.Row{})
		if err == nil || !strings.Contains(err.Error(), "no rows") {
			t.Fatalf("err = %v, want no-rows error", err)
		}
	})

	t.Run("optional lookup with no rows yields nil", func(t *testing.T) {
		optional := testTableConfig(types.FieldMapping{
			TargetField:      "CUST_ID",
			LookupFromTarget: true,
			LookupQuery:      "SELECT 1",
		})
		e := New(&types.Mapping{}, &fakeTarget{rows: nil}, nil)

		got, err := e.RunLookups(context.Background(), optional, types.Row{})
		if err != nil {
			t.Fatal(err)
		}
		if got["CUST_ID"] != nil {
			t.Errorf("lookup = %v, want nil", got["CUST_ID"])
		}
	})

	t.Run("bare expression gets wrapped", func(t *testing.T) {
		expr := testTableConfig(types.FieldMapping{
			TargetField:      "STAMP",
			LookupFromTarget: true,
			LookupQuery:      "GETDATE()",
		})
		target := &fakeTarget{rows: []types.Row{{"result": "now"}}}
		e := New(&types.Mapping{}, target, nil)

		if _, err := e.RunLookups(context.Background(), expr, types.Row{}); err != nil {
			t.Fatal(err)
		}
		if target.queries[0] != "SELECT GETDATE() AS result" {
			t.Errorf("query = %q, want wrapped expression", target.queries[0])
		}
	})

	t.Run("query error propagates", func(t *testing.T) {
		boom := errors.New("target down")
		e := New(&types.Mapping{}, &fakeTarget{queryErr: boom}, nil)

		_, err := e.RunLookups(context.Background(), tc, types.Row{"CUST_CODE": "C1"})
		if !errors.Is(err, boom) {
			t.Fatalf("err = %v, want wrapped target error", err)
		}
	})

	t.Run("fallback to target field column", func(t *testing.T) {
		target := &fakeTarget{rows: []types.Row{{"CUST_ID": 5}}}
		e := New(&types.Mapping{}, target, nil)

		got, err := e.RunLookups(context.Background(), tc, types.Row{"CUST_CODE": "C1"})
		if err != nil {
			t.Fatal(err)
		}
		if got["CUST_ID"] != 5 {
			t.Errorf("lookup = %v, want 5 from the target-field column", got["CUST_ID"])
		}
	})

	t.Run("single unnamed column is used", func(t *testing.T) {
		target := &fakeTarget{rows: []types.Row{{"id": 9}}}
		e := New(&types.Mapping{}, target, nil)

		got, err := e.RunLookups(context.Background(), tc, types.Row{"CUST_CODE": "C1"})
		if err != nil {
			t.Fatal(err)
		}
		if got["CUST_ID"] != 9 {
			t.Errorf("lookup = %v, want 9 from the only column", got["CUST_ID"])
		}
	})

	t.Run("ambiguous multi-column result fails", func(t *testing.T) {
		// Neither `result` nor the target field: rows are maps, so there is no
		// "first" column to fall back to and the lookup must not guess.
		target := &fakeTarget{rows: []types.Row{{"id": 9, "name": "x"}}}
		e := New(&types.Mapping{}, target, nil)

		_, err := e.RunLookups(context.Background(), tc, types.Row{"CUST_CODE": "C1"})
		if err == nil || !strings.Contains(err.Error(), "columns") {
			t.Fatalf("err = %v, want ambiguous-columns error", err)
		}
	})
}
