package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/et-gather/internal/testutil"
	"github.com/Sternrassler/et-gather/pkg/client"
	"github.com/Sternrassler/et-gather/pkg/config"
	"github.com/Sternrassler/et-gather/pkg/fetch"
	"github.com/Sternrassler/et-gather/pkg/ledger"
	"github.com/Sternrassler/et-gather/pkg/table"
)

const etPath = "/raster/timeseries/polygon"

const referenceCSV = `OPENET_ID,CROP_2023,.geo
CA_1,69,"{""type"":""Polygon"",""coordinates"":[[[-121.6,36.6],[-121.5,36.6],[-121.5,36.7]]]}"
CA_2,3,"{""type"":""Polygon"",""coordinates"":[[[-119.1,35.2],[-119.0,35.2],[-119.0,35.3]]]}"
`

var (
	geom1 = [][][]float64{{{-121.6, 36.6}, {-121.5, 36.6}, {-121.5, 36.7}}}
	geom2 = [][][]float64{{{-119.1, 35.2}, {-119.0, 35.2}, {-119.0, 35.3}}}
)

func testEnv(dir string) *config.Environment {
	return &config.Environment{
		Key:        "test-key",
		LogLevel:   "error",
		Timeout:    5 * time.Second,
		MaxRetries: 0,
		MaxBackoff: time.Millisecond,
		PacketDir:  filepath.Join(dir, "bin"),
		QueueName:  "fields",
		LedgerPath: filepath.Join(dir, "ledger.db"),
	}
}

func writeRun(t *testing.T, dir, body string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fields.csv"), []byte(referenceCSV), 0o644))
	path := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func readTable(t *testing.T, path string) *table.Table {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	tbl, err := table.ReadCSV(f)
	require.NoError(t, err)
	return tbl
}

func TestRun_WritesMergedTable(t *testing.T) {
	dir := t.TempDir()
	m := testutil.NewMockET()
	defer m.Close()

	m.QueueResponse(etPath, geom1, testutil.NewSeriesResponse(`[{"time":"2023-06-01","et":5.1},{"time":"2023-06-02","et":5.3}]`))
	m.QueueResponse(etPath, geom2, testutil.NewSeriesResponse(`[{"time":"2023-06-01","et":4.0}]`))

	runFile := writeRun(t, dir, fmt.Sprintf(`
reference:
  path: fields.csv
frequency: daily
requests:
  - name: actual_et
    endpoint: %s
    variable: ET
    date_range: ["2023-06-01", "2023-06-02"]
output:
  path: %s
  format: csv
climatology:
  columns: [actual_et]
averages:
  year: 2023
`, m.Endpoint(etPath), filepath.Join(dir, "out", "merged")))

	var stderr bytes.Buffer
	err := run(context.Background(), options{runFile: runFile}, testEnv(dir), strings.NewReader(""), &stderr)
	require.NoError(t, err)

	merged := readTable(t, filepath.Join(dir, "out", "merged.csv"))
	assert.Equal(t, 3, merged.Len())
	assert.Equal(t, []string{"actual_et"}, merged.Columns)

	_, err = os.Stat(filepath.Join(dir, "out", "merged_climatology.csv"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "out", "merged_2023_avgs.csv"))
	assert.NoError(t, err)

	assert.Equal(t, 2, m.RequestCount())
	for _, call := range m.Calls() {
		assert.Equal(t, "test-key", call.Authorization)
	}
}

func TestRun_RetryRunRequeuesDiscardedFields(t *testing.T) {
	dir := t.TempDir()
	m := testutil.NewMockET()
	defer m.Close()

	m.QueueResponse(etPath, geom1, testutil.NewSeriesResponse(`[{"time":"2023-06-01","et":5.1}]`))
	m.QueueResponse(etPath, geom2, testutil.NewForbiddenResponse(), testutil.NewSeriesResponse(`[{"time":"2023-06-01","et":4.0}]`))

	runFile := writeRun(t, dir, fmt.Sprintf(`
reference:
  path: fields.csv
requests:
  - name: actual_et
    endpoint: %s
    variable: ET
output:
  path: %s
`, m.Endpoint(etPath), filepath.Join(dir, "first")))

	env := testEnv(dir)
	require.NoError(t, run(context.Background(), options{runFile: runFile}, env, strings.NewReader(""), &bytes.Buffer{}))
	first := readTable(t, filepath.Join(dir, "first.csv"))
	require.Equal(t, 1, first.Len())
	assert.Equal(t, "CA_1", first.Rows[0].FieldID)

	l, err := ledger.Open(env.LedgerPath)
	require.NoError(t, err)
	runs, err := l.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, ledger.StatusCompleted, runs[0].Status)
	discarded, err := l.FieldsWithOutcome(context.Background(), runs[0].ID, fetch.OutcomeDiscarded)
	require.NoError(t, err)
	assert.Equal(t, []string{"CA_2"}, discarded)
	require.NoError(t, l.Close())

	calls := m.RequestCount()
	require.NoError(t, run(context.Background(), options{runFile: runFile, retryRun: runs[0].ID}, env, strings.NewReader(""), &bytes.Buffer{}))
	assert.Equal(t, calls+1, m.RequestCount())

	second := readTable(t, filepath.Join(dir, "first.csv"))
	require.Equal(t, 1, second.Len())
	assert.Equal(t, "CA_2", second.Rows[0].FieldID)
}

func TestRun_ForecastSkipsExistingDates(t *testing.T) {
	dir := t.TempDir()
	m := testutil.NewMockET()
	defer m.Close()

	m.QueueResponse(etPath, nil, testutil.NewSeriesResponse(`[{"time":"2024-04-01","et":3.2}]`))

	forecastDir := filepath.Join(dir, "forecasts")
	require.NoError(t, os.MkdirAll(forecastDir, 0o755))
	existing := filepath.Join(forecastDir, "2024-04-08_forecast.csv")
	require.NoError(t, os.WriteFile(existing, []byte("keep"), 0o644))

	runFile := writeRun(t, dir, fmt.Sprintf(`
reference:
  path: fields.csv
fields: [CA_1]
requests:
  - name: expected_et
    endpoint: %s
    variable: ET
    date_range: ["2024-01-01", "2024-01-01"]
forecast:
  start: "2024-04-01"
  end: "2024-04-15"
  dir: %s
`, m.Endpoint(etPath), forecastDir))

	require.NoError(t, run(context.Background(), options{runFile: runFile}, testEnv(dir), strings.NewReader(""), &bytes.Buffer{}))

	for _, date := range []string{"2024-04-01", "2024-04-15"} {
		tbl := readTable(t, filepath.Join(forecastDir, date+"_forecast.csv"))
		assert.Equal(t, 1, tbl.Len(), date)
	}
	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))

	var ends []any
	for _, call := range m.Calls() {
		dr, ok := call.Payload["date_range"].([]any)
		require.True(t, ok)
		ends = append(ends, dr[1])
	}
	assert.Equal(t, []any{"2024-04-01", "2024-04-15"}, ends)
}

func TestRun_MissingRunFile(t *testing.T) {
	dir := t.TempDir()
	err := run(context.Background(), options{runFile: filepath.Join(dir, "missing.yaml")}, testEnv(dir), strings.NewReader(""), &bytes.Buffer{})
	require.Error(t, err)
}

func TestRun_RetryRunWithoutLedger(t *testing.T) {
	dir := t.TempDir()
	runFile := writeRun(t, dir, `
reference:
  path: fields.csv
requests:
  - name: actual_et
    endpoint: http://127.0.0.1:1/et
    variable: ET
`)
	env := testEnv(dir)
	env.LedgerPath = ""

	err := run(context.Background(), options{runFile: runFile, retryRun: "abc"}, env, strings.NewReader(""), &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry-run")
}

func TestRun_ResumedQueueKeepsCommittedFields(t *testing.T) {
	dir := t.TempDir()
	m := testutil.NewMockET()
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// CA_1 succeeds, the first request for CA_2 interrupts the run and every
	// later request succeeds.
	var calls atomic.Int32
	m.SetHandler(etPath, func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 2 {
			cancel()
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
			return
		}
		value := "5.1"
		if n > 2 {
			value = "4.0"
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"time":"2023-06-01","et":` + value + `}]`))
	})

	runFile := writeRun(t, dir, fmt.Sprintf(`
reference:
  path: fields.csv
requests:
  - name: actual_et
    endpoint: %s
    variable: ET
output:
  path: %s
`, m.Endpoint(etPath), filepath.Join(dir, "merged")))

	env := testEnv(dir)
	env.QueueDir = filepath.Join(dir, "queue")

	err := run(ctx, options{runFile: runFile}, env, strings.NewReader(""), &bytes.Buffer{})
	require.ErrorIs(t, err, client.ErrInterrupted)
	assert.NoFileExists(t, filepath.Join(dir, "merged.csv"))
	assert.FileExists(t, filepath.Join(env.QueueDir, "fields.rundir"))

	require.NoError(t, run(context.Background(), options{runFile: runFile}, env, strings.NewReader(""), &bytes.Buffer{}))
	assert.Equal(t, int32(3), calls.Load())

	merged := readTable(t, filepath.Join(dir, "merged.csv"))
	require.Equal(t, 2, merged.Len())
	assert.Equal(t, "CA_1", merged.Rows[0].FieldID)
	assert.Equal(t, 5.1, *merged.Rows[0].Values[0])
	assert.Equal(t, "CA_2", merged.Rows[1].FieldID)
	assert.Equal(t, 4.0, *merged.Rows[1].Values[0])

	// Both runs wrote into one packet directory.
	entries, err := os.ReadDir(env.PacketDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.NoFileExists(t, filepath.Join(env.QueueDir, "fields.rundir"))
}
