package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// FormatValue renders a value the way it is written to CSV; nil is empty.
func FormatValue(v *float64) string {
	if v == nil || math.IsNaN(*v) {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// ParseValue reads a CSV cell. Empty cells and NaN spellings are missing.
func ParseValue(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "nan", "none", "null":
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// WriteCSV writes the header and all rows.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	rec := make([]string, len(KeyColumns)+len(t.Columns))
	for _, r := range t.Rows {
		rec[0], rec[1], rec[2] = r.FieldID, r.Crop, r.Time
		for i, v := range r.Values {
			rec[len(KeyColumns)+i] = FormatValue(v)
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadCSV reads a table written by WriteCSV or any CSV holding the three
// key columns plus numeric value columns, in any order.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	keyIdx := map[string]int{}
	var valueIdx []int
	var columns []string
	for i, name := range header {
		name = strings.TrimSpace(name)
		switch name {
		case FieldIDColumn, CropColumn, TimeColumn:
			keyIdx[name] = i
		default:
			valueIdx = append(valueIdx, i)
			columns = append(columns, name)
		}
	}
	for _, k := range KeyColumns {
		if _, ok := keyIdx[k]; !ok {
			return nil, fmt.Errorf("%w: missing %q column", ErrShape, k)
		}
	}

	t := New(columns...)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}

		values := make([]*float64, len(valueIdx))
		for j, i := range valueIdx {
			v, err := ParseValue(rec[i])
			if err != nil {
				return nil, fmt.Errorf("line %d column %q: %w", line, columns[j], err)
			}
			values[j] = v
		}
		t.Rows = append(t.Rows, Row{
			Key: Key{
				FieldID: rec[keyIdx[FieldIDColumn]],
				Crop:    rec[keyIdx[CropColumn]],
				Time:    rec[keyIdx[TimeColumn]],
			},
			Values: values,
		})
	}

	return t, nil
}
