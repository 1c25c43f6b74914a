// Package table holds the wide (field_id, crop, time) tables produced by a
// fetch run and the outer join that merges them.
package table

import (
	"errors"
	"fmt"
	"sort"
)

// Key column names, always first in exported tables.
const (
	FieldIDColumn = "field_id"
	CropColumn    = "crop"
	TimeColumn    = "time"
)

// KeyColumns lists the join key in output order.
var KeyColumns = []string{FieldIDColumn, CropColumn, TimeColumn}

var (
	// ErrDuplicateColumn is returned when two merged tables share a value column.
	ErrDuplicateColumn = errors.New("duplicate value column")

	// ErrShape is returned when a row does not match the table's columns.
	ErrShape = errors.New("row does not match table columns")
)

// Key is the composite join key.
type Key struct {
	FieldID string
	Crop    string
	Time    string
}

// Less orders keys by field, crop, then time.
func (k Key) Less(o Key) bool {
	if k.FieldID != o.FieldID {
		return k.FieldID < o.FieldID
	}
	if k.Crop != o.Crop {
		return k.Crop < o.Crop
	}
	return k.Time < o.Time
}

// Row is one keyed row. Values align with Table.Columns; nil is missing.
type Row struct {
	Key
	Values []*float64
}

// Table is a keyed table with named value columns.
type Table struct {
	Columns []string
	Rows    []Row
}

// New returns an empty table with the given value columns.
func New(columns ...string) *Table {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Table{Columns: cols}
}

// F returns a pointer to v, for building rows.
func F(v float64) *float64 {
	return &v
}

// Append adds a row. values must match Columns in length.
func (t *Table) Append(key Key, values ...*float64) error {
	if len(values) != len(t.Columns) {
		return fmt.Errorf("%w: got %d values for %d columns", ErrShape, len(values), len(t.Columns))
	}
	v := make([]*float64, len(values))
	copy(v, values)
	t.Rows = append(t.Rows, Row{Key: key, Values: v})
	return nil
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// ColumnIndex returns the position of a value column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Sort orders rows by key. Rows with equal keys keep their relative order.
func (t *Table) Sort() {
	sort.SliceStable(t.Rows, func(i, j int) bool {
		return t.Rows[i].Key.Less(t.Rows[j].Key)
	})
}

// Header returns the key columns followed by the value columns.
func (t *Table) Header() []string {
	return append(append([]string{}, KeyColumns...), t.Columns...)
}

// Concat appends tables that share the same value columns, e.g. the
// per-field packets of one request.
func Concat(tables ...*Table) (*Table, error) {
	if len(tables) == 0 {
		return New(), nil
	}
	out := New(tables[0].Columns...)
	for _, t := range tables {
		if !sameColumns(out.Columns, t.Columns) {
			return nil, fmt.Errorf("%w: concat %v with %v", ErrShape, out.Columns, t.Columns)
		}
		out.Rows = append(out.Rows, t.Rows...)
	}
	return out, nil
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
