// Package reference resolves field identifiers to the geometry and crop
// sent with each ET request.
package reference

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	// ErrFieldNotFound is returned by Lookup for unknown ids.
	ErrFieldNotFound = errors.New("field not found in reference")

	// ErrInvalidGeometry is returned by Lookup when the stored geometry
	// cannot be decoded.
	ErrInvalidGeometry = errors.New("invalid field geometry")
)

// Field is one resolved reference row.
type Field struct {
	ID   string
	Crop string

	// Geometry is the coordinate list of the stored geometry description.
	Geometry json.RawMessage
}

// Reference looks up fields by id.
type Reference interface {
	Lookup(id string) (Field, error)
	IDs() []string
}

// Options names the CSV columns of a reference file.
type Options struct {
	IDColumn       string `mapstructure:"id_column" yaml:"id_column"`
	GeometryColumn string `mapstructure:"geometry_column" yaml:"geometry_column"`
	CropColumn     string `mapstructure:"crop_column" yaml:"crop_column"`
}

// DefaultOptions matches the exported field tables: OPENET_ID, .geo, CROP_2023.
func DefaultOptions() Options {
	return Options{
		IDColumn:       "OPENET_ID",
		GeometryColumn: ".geo",
		CropColumn:     "CROP_2023",
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.IDColumn == "" {
		o.IDColumn = d.IDColumn
	}
	if o.GeometryColumn == "" {
		o.GeometryColumn = d.GeometryColumn
	}
	if o.CropColumn == "" {
		o.CropColumn = d.CropColumn
	}
	return o
}

type row struct {
	crop     string
	geometry string
}

// Table is an in-memory Reference. Geometry descriptions are decoded on
// lookup, so one malformed row only affects its own field.
type Table struct {
	rows  map[string]row
	order []string
}

// NewTable builds a Table from geometry descriptions keyed by id.
func NewTable() *Table {
	return &Table{rows: make(map[string]row)}
}

// Add stores a field. The first row for an id wins.
func (t *Table) Add(id, crop, geometry string) {
	if _, ok := t.rows[id]; ok {
		return
	}
	t.rows[id] = row{crop: crop, geometry: geometry}
	t.order = append(t.order, id)
}

// Len returns the number of distinct fields.
func (t *Table) Len() int {
	return len(t.order)
}

// IDs returns field ids in file order.
func (t *Table) IDs() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Lookup resolves id.
func (t *Table) Lookup(id string) (Field, error) {
	r, ok := t.rows[id]
	if !ok {
		return Field{}, fmt.Errorf("%w: %s", ErrFieldNotFound, id)
	}

	coords, err := coordinates(r.geometry)
	if err != nil {
		return Field{}, fmt.Errorf("%w for %s: %v", ErrInvalidGeometry, id, err)
	}
	return Field{ID: id, Crop: r.crop, Geometry: coords}, nil
}

// coordinates extracts the coordinates member of a geometry description.
func coordinates(geometry string) (json.RawMessage, error) {
	var g struct {
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal([]byte(geometry), &g); err != nil {
		return nil, err
	}
	if len(g.Coordinates) == 0 || string(g.Coordinates) == "null" {
		return nil, errors.New("geometry has no coordinates")
	}
	return g.Coordinates, nil
}

// LoadCSV reads a reference table with a header row.
func LoadCSV(r io.Reader, opts Options) (*Table, error) {
	opts = opts.withDefaults()

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read reference header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	col := func(name string) (int, error) {
		i, ok := idx[name]
		if !ok {
			return 0, fmt.Errorf("reference has no %q column", name)
		}
		return i, nil
	}

	idCol, err := col(opts.IDColumn)
	if err != nil {
		return nil, err
	}
	geoCol, err := col(opts.GeometryColumn)
	if err != nil {
		return nil, err
	}
	cropCol, err := col(opts.CropColumn)
	if err != nil {
		return nil, err
	}

	t := NewTable()
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read reference line %d: %w", line, err)
		}
		get := func(i int) string {
			if i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}
		id := get(idCol)
		if id == "" {
			continue
		}
		t.Add(id, get(cropCol), get(geoCol))
	}

	return t, nil
}

// LoadFile opens path and reads it with LoadCSV.
func LoadFile(path string, opts Options) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open reference: %w", err)
	}
	defer f.Close()

	t, err := LoadCSV(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}
