package table

import "fmt"

// Merge outer-joins tables on (field_id, crop, time).
//
// The result holds the union of all keys; a key missing from a table gets
// nil values in that table's columns. Keys repeated within a table are not
// deduplicated: every combination of matching rows is emitted. Rows are
// sorted by key. Column order follows argument order.
func Merge(tables ...*Table) (*Table, error) {
	acc := New()
	for _, t := range tables {
		if t == nil {
			continue
		}
		var err error
		if acc, err = outerJoin(acc, t); err != nil {
			return nil, err
		}
	}
	acc.Sort()
	return acc, nil
}

func outerJoin(left, right *Table) (*Table, error) {
	for _, c := range right.Columns {
		if left.ColumnIndex(c) >= 0 {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateColumn, c)
		}
	}

	out := New(append(append([]string{}, left.Columns...), right.Columns...)...)
	out.Rows = make([]Row, 0, len(left.Rows)+len(right.Rows))

	byKey := make(map[Key][]int, len(right.Rows))
	for i, r := range right.Rows {
		byKey[r.Key] = append(byKey[r.Key], i)
	}

	leftNulls := make([]*float64, len(left.Columns))
	rightNulls := make([]*float64, len(right.Columns))
	seen := make(map[Key]bool, len(left.Rows))

	for _, l := range left.Rows {
		seen[l.Key] = true
		matches := byKey[l.Key]
		if len(matches) == 0 {
			out.Rows = append(out.Rows, joinRow(l.Key, l.Values, rightNulls))
			continue
		}
		for _, i := range matches {
			out.Rows = append(out.Rows, joinRow(l.Key, l.Values, right.Rows[i].Values))
		}
	}

	for _, r := range right.Rows {
		if !seen[r.Key] {
			out.Rows = append(out.Rows, joinRow(r.Key, leftNulls, r.Values))
		}
	}

	return out, nil
}

func joinRow(key Key, left, right []*float64) Row {
	values := make([]*float64, 0, len(left)+len(right))
	values = append(values, left...)
	values = append(values, right...)
	return Row{Key: key, Values: values}
}
