package fetch

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/Sternrassler/et-gather/pkg/client"
)

// Point is one decoded time-series sample. A nil Value is missing.
type Point struct {
	Time  string
	Value *float64
}

// DecodeError reports a response body that is not a time series.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode series: %s: %v", e.Reason, e.Err)
	}
	return "decode series: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

var gzipMagic = []byte{0x1f, 0x8b}

// DecodeSeries reads a list of {time, <value>} objects from resp.
//
// The value is taken from the second key of each object, whatever it is
// called. Gzip bodies hold a serialized literal rather than JSON and are
// converted before decoding. A body is gzip when it starts with the gzip
// magic or when its Content-Type or Content-Encoding says so; in the latter
// case the transport may already have decompressed it.
func DecodeSeries(resp *client.Response) ([]Point, error) {
	if resp == nil {
		return nil, &DecodeError{Reason: "no response"}
	}

	body := resp.Body
	literal := mentionsGzip(resp.Header)
	if bytes.HasPrefix(body, gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, &DecodeError{Reason: "gzip header", Err: err}
		}
		if body, err = io.ReadAll(zr); err != nil {
			return nil, &DecodeError{Reason: "gzip body", Err: err}
		}
		literal = true
	}

	if literal {
		var err error
		if body, err = literalToJSON(body); err != nil {
			return nil, &DecodeError{Reason: "literal body", Err: err}
		}
	}
	return decodePoints(body)
}

func mentionsGzip(h http.Header) bool {
	for _, name := range []string{"Content-Type", "Content-Encoding"} {
		if strings.Contains(strings.ToLower(h.Get(name)), "gzip") {
			return true
		}
	}
	return false
}

func decodePoints(body []byte) ([]Point, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	if err := expectDelim(dec, '['); err != nil {
		return nil, err
	}

	var points []Point
	for i := 0; dec.More(); i++ {
		p, err := decodePoint(dec)
		if err != nil {
			return nil, &DecodeError{Reason: fmt.Sprintf("record %d", i), Err: err}
		}
		points = append(points, p)
	}

	if err := expectDelim(dec, ']'); err != nil {
		return nil, err
	}
	return points, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return &DecodeError{Reason: "malformed body", Err: err}
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return &DecodeError{Reason: fmt.Sprintf("expected %q, got %v", want, tok)}
	}
	return nil
}

// decodePoint reads one object keeping key order.
func decodePoint(dec *json.Decoder) (Point, error) {
	tok, err := dec.Token()
	if err != nil {
		return Point{}, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return Point{}, fmt.Errorf("expected object, got %v", tok)
	}

	var (
		p        Point
		hasTime  bool
		position int
		second   any
	)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Point{}, err
		}
		key, _ := tok.(string)

		var v any
		if err := dec.Decode(&v); err != nil {
			return Point{}, fmt.Errorf("value of %q: %w", key, err)
		}
		if key == "time" {
			if p.Time, err = timeString(v); err != nil {
				return Point{}, err
			}
			hasTime = true
		}
		if position == 1 {
			second = v
		}
		position++
	}
	if _, err := dec.Token(); err != nil {
		return Point{}, err
	}

	if !hasTime {
		return Point{}, errors.New("missing time")
	}
	if position < 2 {
		return Point{}, errors.New("missing value")
	}
	if p.Value, err = number(second); err != nil {
		return Point{}, err
	}
	return p, nil
}

func timeString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	}
	return "", fmt.Errorf("time has type %T", v)
}

func number(v any) (*float64, error) {
	switch n := v.(type) {
	case nil:
		return nil, nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return nil, err
		}
		return &f, nil
	case string:
		if strings.TrimSpace(n) == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return nil, fmt.Errorf("value %q: %w", n, err)
		}
		return &f, nil
	}
	return nil, fmt.Errorf("value has type %T", v)
}
