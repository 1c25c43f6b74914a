package skill

import (
	"encoding/csv"
	"io"
	"sort"

	"github.com/Sternrassler/et-gather/pkg/table"
)

// Averages holds the mean of each column per field over one year. They are
// used to normalize metrics.
type Averages struct {
	Columns []string
	rows    map[GroupKey][]*float64
}

// YearAverages averages the rows of hist that fall in year per
// (field_id, crop).
func YearAverages(hist *table.Table, year int, columns ...string) (*Averages, error) {
	cols, idx, err := selectColumns(hist, columns)
	if err != nil {
		return nil, err
	}

	acc := make(map[GroupKey]*means)
	for _, r := range hist.Rows {
		ts, err := ParseTime(r.Time)
		if err != nil {
			return nil, err
		}
		if ts.Year() != year {
			continue
		}
		k := GroupKey{r.FieldID, r.Crop}
		m, ok := acc[k]
		if !ok {
			m = newMeans(len(cols))
			acc[k] = m
		}
		m.add(pick(r.Values, idx))
	}

	a := &Averages{Columns: cols, rows: make(map[GroupKey][]*float64, len(acc))}
	for k, m := range acc {
		a.rows[k] = m.result()
	}
	return a, nil
}

// Value returns the average of column for a field.
func (a *Averages) Value(key GroupKey, column string) (float64, bool) {
	i := indexOf(a.Columns, column)
	if i < 0 {
		return 0, false
	}
	row, ok := a.rows[key]
	if !ok || row[i] == nil {
		return 0, false
	}
	return *row[i], true
}

// Len returns the number of fields.
func (a *Averages) Len() int {
	return len(a.rows)
}

// WriteCSV writes field_id, crop and one column per value column.
func (a *Averages) WriteCSV(w io.Writer) error {
	keys := make([]GroupKey, 0, len(a.rows))
	for k := range a.rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].FieldID != keys[j].FieldID {
			return keys[i].FieldID < keys[j].FieldID
		}
		return keys[i].Crop < keys[j].Crop
	})

	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{table.FieldIDColumn, table.CropColumn}, a.Columns...)); err != nil {
		return err
	}
	for _, k := range keys {
		rec := []string{k.FieldID, k.Crop}
		for _, v := range a.rows[k] {
			rec = append(rec, table.FormatValue(v))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadAveragesCSV reads a file written by Averages.WriteCSV.
func ReadAveragesCSV(r io.Reader) (*Averages, error) {
	h, err := readKeyed(r, "")
	if err != nil {
		return nil, err
	}
	a := &Averages{Columns: h.columns, rows: make(map[GroupKey][]*float64, len(h.rows))}
	for _, row := range h.rows {
		a.rows[row.key] = row.values
	}
	return a, nil
}
