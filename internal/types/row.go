package types

import "strings"

// Row is one source or target row: column name → typed value. Values are
// whatever the driver produced (string, int64, float64, time.Time, []byte,
// nil). Column access is case-insensitive on fallback because source schemas
// mix conventions (NUM_PED vs num_ped).
type Row map[string]any

// Get returns the value for a column, trying the exact name first and then a
// case-insensitive scan. The second return reports whether the column exists
// at all (a present column may still hold nil).
func (r Row) Get(column string) (any, bool) {
	if v, ok := r[column]; ok {
		return v, true
	}
	for k, v := range r {
		if strings.EqualFold(k, column) {
			return v, true
		}
	}
	return nil, false
}

// Has reports whether the column exists in the row.
func (r Row) Has(column string) bool {
	_, ok := r.Get(column)
	return ok
}

// Set assigns a value, replacing any case-insensitive match of the column
// name so a row never carries two spellings of the same column.
func (r Row) Set(column string, value any) {
	if _, ok := r[column]; ok {
		r[column] = value
		return
	}
	for k := range r {
		if strings.EqualFold(k, column) {
			r[k] = value
			return
		}
	}
	r[column] = value
}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ColumnMeta is the cached type metadata for one target column, used for
// typed parameter binding and bind-site truncation.
type ColumnMeta struct {
	SQLType   string
	MaxLength int
	Nullable  bool
}

// TableMeta maps lower-cased column names to their metadata.
type TableMeta map[string]ColumnMeta

// Column looks up metadata by column name, case-insensitively.
func (tm TableMeta) Column(name string) (ColumnMeta, bool) {
	m, ok := tm[strings.ToLower(name)]
	return m, ok
}
