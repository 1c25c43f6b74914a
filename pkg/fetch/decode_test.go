package fetch

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/et-gather/pkg/client"
)

func gz(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDecodeSeries_JSON(t *testing.T) {
	resp := &client.Response{StatusCode: 200, Body: []byte(`[
		{"time": "2023-06-01", "et": 5.1},
		{"time": "2023-06-08", "et": null},
		{"time": "2023-06-15", "et": "4.5"}
	]`)}

	points, err := DecodeSeries(resp)
	require.NoError(t, err)
	require.Len(t, points, 3)

	assert.Equal(t, "2023-06-01", points[0].Time)
	assert.Equal(t, 5.1, *points[0].Value)
	assert.Nil(t, points[1].Value)
	assert.Equal(t, 4.5, *points[2].Value)
}

func TestDecodeSeries_SecondKeyPositional(t *testing.T) {
	resp := &client.Response{Body: []byte(`[{"time":"2023-06-01","actual_eto":6.2,"extra":1}]`)}

	points, err := DecodeSeries(resp)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 6.2, *points[0].Value)
}

func TestDecodeSeries_Gzip(t *testing.T) {
	resp := &client.Response{Body: gz(t, `[{'time': '2023-06-01', 'et': 5.1}, {'time': '2023-06-08', 'et': nan}, {'time': '2023-06-15', 'et': None},]`)}

	points, err := DecodeSeries(resp)
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, 5.1, *points[0].Value)
	assert.Nil(t, points[1].Value)
	assert.Nil(t, points[2].Value)
}

func TestDecodeSeries_GzipHeaderDecompressedBody(t *testing.T) {
	tests := []struct {
		name   string
		header http.Header
	}{
		{"content type", http.Header{"Content-Type": []string{"application/gzip"}}},
		{"content encoding", http.Header{"Content-Encoding": []string{"GZIP"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &client.Response{Header: tt.header, Body: []byte(`[{'time': '2023-06-01', 'et': 5.1}, {'time': '2023-06-08', 'et': None}]`)}

			points, err := DecodeSeries(resp)
			require.NoError(t, err)
			require.Len(t, points, 2)
			assert.Equal(t, 5.1, *points[0].Value)
			assert.Nil(t, points[1].Value)
		})
	}
}

func TestDecodeSeries_Empty(t *testing.T) {
	points, err := DecodeSeries(&client.Response{Body: []byte(`[]`)})
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestDecodeSeries_Errors(t *testing.T) {
	tests := map[string][]byte{
		"not json":      []byte(`<html>`),
		"object":        []byte(`{"time":"2023-06-01"}`),
		"missing time":  []byte(`[{"date":"2023-06-01","et":1}]`),
		"missing value": []byte(`[{"time":"2023-06-01"}]`),
		"bad value":     []byte(`[{"time":"2023-06-01","et":[1]}]`),
		"truncated":     []byte(`[{"time":"2023-06-01","et":1}`),
		"bad gzip":      {0x1f, 0x8b, 0x00},
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeSeries(&client.Response{Body: body})
			var de *DecodeError
			assert.ErrorAs(t, err, &de)
		})
	}

	_, err := DecodeSeries(nil)
	var de *DecodeError
	assert.ErrorAs(t, err, &de)
}

func TestLiteralToJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`[{'a': 1, 'b': None}]`, `[{"a":1,"b":null}]`},
		{`{'ok': True, 'no': False}`, `{"ok":true,"no":false}`},
		{`[(1, 2), (3,)]`, `[[1,2],[3]]`},
		{`['it\'s', 'say "hi"']`, `["it's","say \"hi\""]`},
		{`[1e-05, -inf, -2.5]`, `[1e-05,null,-2.5]`},
		{`{"json": [null, true]}`, `{"json":[null,true]}`},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := literalToJSON([]byte(tt.in))
			require.NoError(t, err)
			require.True(t, json.Valid(got), "invalid JSON: %s", got)
			assert.JSONEq(t, tt.want, string(got))
		})
	}

	_, err := literalToJSON([]byte(`[datetime(2023, 1, 1)]`))
	assert.Error(t, err)
	_, err = literalToJSON([]byte(`['open`))
	assert.Error(t, err)
}
