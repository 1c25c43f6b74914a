package export

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/Sternrassler/et-gather/pkg/table"
)

// Encode writes t to w in format f.
func Encode(w io.Writer, t *table.Table, f Format) error {
	switch f {
	case CSV:
		return table.WriteCSV(w, t)
	case JSON:
		return encodeJSON(w, t)
	case Pickle:
		return encodeGob(w, t)
	case Parquet:
		return encodeParquet(w, t)
	}
	return unsupported(string(f))
}

// record renders one row as a JSON object in column order.
func record(t *table.Table, r table.Row) ([]byte, error) {
	var sb strings.Builder
	sb.WriteByte('{')
	write := func(i int, name string, v any) error {
		if i > 0 {
			sb.WriteByte(',')
		}
		k, err := json.Marshal(name)
		if err != nil {
			return err
		}
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		sb.Write(k)
		sb.WriteByte(':')
		sb.Write(b)
		return nil
	}

	keys := []string{r.FieldID, r.Crop, r.Time}
	for i, name := range table.KeyColumns {
		if err := write(i, name, keys[i]); err != nil {
			return nil, err
		}
	}
	for i, name := range t.Columns {
		var v any
		if p := r.Values[i]; p != nil && !math.IsNaN(*p) && !math.IsInf(*p, 0) {
			v = *p
		}
		if err := write(len(table.KeyColumns)+i, name, v); err != nil {
			return nil, err
		}
	}
	sb.WriteByte('}')
	return []byte(sb.String()), nil
}

func encodeJSON(w io.Writer, t *table.Table) error {
	bw := bufio.NewWriter(w)
	bw.WriteByte('[')
	for i, r := range t.Rows {
		if i > 0 {
			bw.WriteByte(',')
		}
		rec, err := record(t, r)
		if err != nil {
			return err
		}
		bw.Write(rec)
	}
	bw.WriteString("]\n")
	return bw.Flush()
}

// gobTable is the serialized form of a table. gob cannot encode nil
// pointers inside slices, so missing values are tracked in Valid.
type gobTable struct {
	Columns []string
	Rows    []gobRow
}

type gobRow struct {
	FieldID, Crop, Time string
	Values              []float64
	Valid               []bool
}

func encodeGob(w io.Writer, t *table.Table) error {
	out := gobTable{Columns: t.Columns, Rows: make([]gobRow, len(t.Rows))}
	for i, r := range t.Rows {
		g := gobRow{
			FieldID: r.FieldID,
			Crop:    r.Crop,
			Time:    r.Time,
			Values:  make([]float64, len(r.Values)),
			Valid:   make([]bool, len(r.Values)),
		}
		for j, v := range r.Values {
			if v != nil {
				g.Values[j], g.Valid[j] = *v, true
			}
		}
		out.Rows[i] = g
	}
	return gob.NewEncoder(w).Encode(out)
}

// DecodePickle reads a table written in the Pickle format.
func DecodePickle(r io.Reader) (*table.Table, error) {
	var in gobTable
	if err := gob.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("decode table: %w", err)
	}
	t := table.New(in.Columns...)
	for _, g := range in.Rows {
		values := make([]*float64, len(t.Columns))
		for j := range values {
			if j < len(g.Valid) && g.Valid[j] {
				v := g.Values[j]
				values[j] = &v
			}
		}
		if err := t.Append(table.Key{FieldID: g.FieldID, Crop: g.Crop, Time: g.Time}, values...); err != nil {
			return nil, err
		}
	}
	return t, nil
}

type parquetField struct {
	Tag string `json:"Tag"`
}

type parquetSchema struct {
	Tag    string         `json:"Tag"`
	Fields []parquetField `json:"Fields"`
}

// parquetSchemaFor builds a JSON schema: UTF8 key columns, optional
// doubles for values.
func parquetSchemaFor(t *table.Table) (string, error) {
	s := parquetSchema{Tag: "name=parquet_go_root, repetitiontype=REQUIRED"}
	for _, k := range table.KeyColumns {
		s.Fields = append(s.Fields, parquetField{
			Tag: fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=REQUIRED", k),
		})
	}
	for _, c := range t.Columns {
		s.Fields = append(s.Fields, parquetField{
			Tag: fmt.Sprintf("name=%s, type=DOUBLE, repetitiontype=OPTIONAL", c),
		})
	}
	b, err := json.Marshal(s)
	return string(b), err
}

func encodeParquet(w io.Writer, t *table.Table) error {
	schema, err := parquetSchemaFor(t)
	if err != nil {
		return err
	}

	pw, err := writer.NewJSONWriterFromWriter(schema, w, 1)
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, r := range t.Rows {
		rec, err := record(t, r)
		if err != nil {
			return err
		}
		if err := pw.Write(string(rec)); err != nil {
			return fmt.Errorf("write parquet row: %w", err)
		}
	}

	return stopParquet(pw)
}

// stopParquet flushes the footer. WriteStop can panic on malformed rows.
func stopParquet(pw *writer.JSONWriter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stop parquet writer: %v", r)
		}
	}()
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("stop parquet writer: %w", err)
	}
	return nil
}
