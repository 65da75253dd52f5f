package dbconn

import (
	"testing"
	"time"

	"github.com/docflowhq/docflow/internal/types"
)

func TestBindValue(t *testing.T) {
	t.Run("nil and sentinels bind null", func(t *testing.T) {
		meta := types.ColumnMeta{SQLType: "varchar"}
		for _, v := range []any{nil, "", "NULL"} {
			got, err := BindValue(meta, v, nil)
			if err != nil || got != nil {
				t.Errorf("BindValue(%v) = %v, %v, want nil", v, got, err)
			}
		}
	})

	t.Run("integer family", func(t *testing.T) {
		meta := types.ColumnMeta{SQLType: "int"}
		got, err := BindValue(meta, "42", nil)
		if err != nil || got != int64(42) {
			t.Errorf("BindValue(\"42\") = %v, %v", got, err)
		}
		got, err = BindValue(meta, "12.9", nil)
		if err != nil || got != int64(12) {
			t.Errorf("BindValue(\"12.9\") = %v, %v, want 12", got, err)
		}
		if _, err = BindValue(meta, "abc", nil); err == nil {
			t.Error("expected error binding abc as integer")
		}
	})

	t.Run("decimal family with comma", func(t *testing.T) {
		meta := types.ColumnMeta{SQLType: "decimal"}
		got, err := BindValue(meta, "3,14", nil)
		if err != nil || got != 3.14 {
			t.Errorf("BindValue(\"3,14\") = %v, %v", got, err)
		}
	})

	t.Run("bool family", func(t *testing.T) {
		meta := types.ColumnMeta{SQLType: "bit"}
		for _, v := range []any{"true", "1", "S", "yes", "sí", 1, true} {
			got, err := BindValue(meta, v, nil)
			if err != nil || got != true {
				t.Errorf("BindValue(%v) = %v, %v, want true", v, got, err)
			}
		}
		got, _ := BindValue(meta, "no", nil)
		if got != false {
			t.Errorf("BindValue(no) = %v, want false", got)
		}
	})

	t.Run("date family", func(t *testing.T) {
		meta := types.ColumnMeta{SQLType: "datetime"}
		got, err := BindValue(meta, "2024-03-15 10:30:00", nil)
		if err != nil {
			t.Fatal(err)
		}
		ts, ok := got.(time.Time)
		if !ok || ts.Year() != 2024 || ts.Month() != 3 {
			t.Errorf("BindValue(date) = %v", got)
		}

		_, err = BindValue(meta, "not-a-date", nil)
		if !ErrDateConversion.Has(err) {
			t.Errorf("err = %v, want date conversion class", err)
		}
	})

	t.Run("string truncation at bind", func(t *testing.T) {
		meta := types.ColumnMeta{SQLType: "varchar", MaxLength: 5}
		got, err := BindValue(meta, "abcdefgh", nil)
		if err != nil || got != "abcde" {
			t.Errorf("BindValue = %v, %v, want abcde", got, err)
		}
		// Rune-safe truncation.
		got, _ = BindValue(meta, "ññññññ", nil)
		if got != "ñññññ" {
			t.Errorf("BindValue(runes) = %q", got)
		}
	})
}

func TestMetadataCache(t *testing.T) {
	cache := NewMetadataCache()
	meta := types.TableMeta{"id": types.ColumnMeta{SQLType: "int"}}

	if _, ok := cache.Get("srv", "Orders"); ok {
		t.Fatal("empty cache should miss")
	}
	cache.Put("srv", "Orders", meta)
	if got, ok := cache.Get("srv", "ORDERS"); !ok || len(got) != 1 {
		t.Error("cache lookup should be case-insensitive on table name")
	}
	if _, ok := cache.Get("other", "Orders"); ok {
		t.Error("cache must be scoped per server")
	}
	cache.Invalidate("srv", "orders")
	if _, ok := cache.Get("srv", "Orders"); ok {
		t.Error("invalidated entry still present")
	}
}

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.RecordQuery("b", 10*time.Millisecond, nil)
	m.RecordQuery("a", 20*time.Millisecond, nil)
	m.RecordQuery("a", 40*time.Millisecond, errTest)

	snap := m.Snapshot()
	if len(snap) != 2 || snap[0].ServerKey != "a" || snap[1].ServerKey != "b" {
		t.Fatalf("snapshot = %+v, want sorted [a b]", snap)
	}
	if snap[0].Queries != 2 || snap[0].Errors != 1 {
		t.Errorf("a stats = %+v", snap[0])
	}
	if snap[0].AvgLatency != 30*time.Millisecond {
		t.Errorf("a avg = %v, want 30ms", snap[0].AvgLatency)
	}
}
