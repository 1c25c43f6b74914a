package skill

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/Sternrassler/et-gather/pkg/table"
)

var timeLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// ParseTime reads the time column of a merged table.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// GroupKey identifies one field.
type GroupKey struct {
	FieldID string
	Crop    string
}

// means accumulates per-column means that skip missing values.
type means struct {
	sums   []float64
	counts []int
}

func newMeans(n int) *means {
	return &means{sums: make([]float64, n), counts: make([]int, n)}
}

func (m *means) add(values []*float64) {
	for i, v := range values {
		if v == nil || math.IsNaN(*v) {
			continue
		}
		m.sums[i] += *v
		m.counts[i]++
	}
}

func (m *means) result() []*float64 {
	out := make([]*float64, len(m.sums))
	for i := range m.sums {
		if m.counts[i] > 0 {
			v := m.sums[i] / float64(m.counts[i])
			out[i] = &v
		}
	}
	return out
}

// selectColumns maps the requested columns onto t. No columns means all.
func selectColumns(t *table.Table, columns []string) ([]string, []int, error) {
	if len(columns) == 0 {
		columns = t.Columns
	}
	idx := make([]int, len(columns))
	for i, c := range columns {
		if idx[i] = t.ColumnIndex(c); idx[i] < 0 {
			return nil, nil, fmt.Errorf("%w: %s", ErrMissingColumn, c)
		}
	}
	return append([]string(nil), columns...), idx, nil
}

func pick(values []*float64, idx []int) []*float64 {
	out := make([]*float64, len(idx))
	for i, j := range idx {
		out[i] = values[j]
	}
	return out
}

func formatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
