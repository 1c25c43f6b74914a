package skill

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/Sternrassler/et-gather/pkg/table"
)

// DOYColumn names the day-of-year column of a climatology file.
const DOYColumn = "doy"

type climKey struct {
	GroupKey
	DOY int
}

// Climatology holds the historical mean of each column per field and day of
// year.
type Climatology struct {
	Columns []string
	rows    map[climKey][]*float64
}

// NewClimatology averages hist per (field_id, crop, day of year). Missing
// values are left out of the mean.
func NewClimatology(hist *table.Table, columns ...string) (*Climatology, error) {
	cols, idx, err := selectColumns(hist, columns)
	if err != nil {
		return nil, err
	}

	acc := make(map[climKey]*means)
	for _, r := range hist.Rows {
		ts, err := ParseTime(r.Time)
		if err != nil {
			return nil, err
		}
		k := climKey{GroupKey{r.FieldID, r.Crop}, ts.YearDay()}
		m, ok := acc[k]
		if !ok {
			m = newMeans(len(cols))
			acc[k] = m
		}
		m.add(pick(r.Values, idx))
	}

	c := &Climatology{Columns: cols, rows: make(map[climKey][]*float64, len(acc))}
	for k, m := range acc {
		c.rows[k] = m.result()
	}
	return c, nil
}

// Value returns the climatological mean of column for a field on doy.
func (c *Climatology) Value(key GroupKey, doy int, column string) (float64, bool) {
	i := indexOf(c.Columns, column)
	if i < 0 {
		return 0, false
	}
	row, ok := c.rows[climKey{key, doy}]
	if !ok || row[i] == nil {
		return 0, false
	}
	return *row[i], true
}

// Len returns the number of (field, crop, doy) rows.
func (c *Climatology) Len() int {
	return len(c.rows)
}

func (c *Climatology) sortedKeys() []climKey {
	keys := make([]climKey, 0, len(c.rows))
	for k := range c.rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.FieldID != b.FieldID {
			return a.FieldID < b.FieldID
		}
		if a.Crop != b.Crop {
			return a.Crop < b.Crop
		}
		return a.DOY < b.DOY
	})
	return keys
}

// WriteCSV writes field_id, crop, doy and one column per value column.
func (c *Climatology) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := append([]string{table.FieldIDColumn, table.CropColumn, DOYColumn}, c.Columns...)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, k := range c.sortedKeys() {
		rec := []string{k.FieldID, k.Crop, strconv.Itoa(k.DOY)}
		for _, v := range c.rows[k] {
			rec = append(rec, table.FormatValue(v))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadClimatologyCSV reads a file written by WriteCSV.
func ReadClimatologyCSV(r io.Reader) (*Climatology, error) {
	h, err := readKeyed(r, DOYColumn)
	if err != nil {
		return nil, err
	}
	c := &Climatology{Columns: h.columns, rows: make(map[climKey][]*float64, len(h.rows))}
	for _, row := range h.rows {
		doy, err := strconv.Atoi(row.extra)
		if err != nil {
			return nil, fmt.Errorf("doy %q: %w", row.extra, err)
		}
		c.rows[climKey{row.key, doy}] = row.values
	}
	return c, nil
}

type keyedRow struct {
	key    GroupKey
	extra  string
	values []*float64
}

type keyedFile struct {
	columns []string
	rows    []keyedRow
}

// readKeyed reads a CSV with field_id, crop, an optional extra key column
// and numeric value columns.
func readKeyed(r io.Reader, extra string) (*keyedFile, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	fieldIdx, cropIdx, extraIdx := -1, -1, -1
	var valueIdx []int
	out := &keyedFile{}
	for i, name := range header {
		switch name {
		case table.FieldIDColumn:
			fieldIdx = i
		case table.CropColumn:
			cropIdx = i
		case extra:
			extraIdx = i
		default:
			valueIdx = append(valueIdx, i)
			out.columns = append(out.columns, name)
		}
	}
	if fieldIdx < 0 || cropIdx < 0 || (extra != "" && extraIdx < 0) {
		return nil, fmt.Errorf("%w: need %s, %s %s", ErrMissingColumn, table.FieldIDColumn, table.CropColumn, extra)
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		row := keyedRow{key: GroupKey{rec[fieldIdx], rec[cropIdx]}}
		if extraIdx >= 0 {
			row.extra = rec[extraIdx]
		}
		for _, i := range valueIdx {
			v, err := table.ParseValue(rec[i])
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", header[i], err)
			}
			row.values = append(row.values, v)
		}
		out.rows = append(out.rows, row)
	}
}

func indexOf(columns []string, name string) int {
	for i, c := range columns {
		if c == name {
			return i
		}
	}
	return -1
}
