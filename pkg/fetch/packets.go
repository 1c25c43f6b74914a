package fetch

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Sternrassler/et-gather/pkg/table"
)

// ManifestFile is the sidecar listing every packet of a run directory.
const ManifestFile = "manifest.jsonl"

// RunDirLayout names run directories after the run start time.
const RunDirLayout = "20060102_150405"

// Packet is one manifest entry: the series of one request for one field.
type Packet struct {
	File     string `json:"file"`
	FieldID  string `json:"field_id"`
	Crop     string `json:"crop"`
	Variable string `json:"variable"`
}

// PacketName returns the packet file name, e.g. CA_270812.27.actual_et.csv.
func PacketName(fieldID, crop, name string) string {
	return fmt.Sprintf("%s.%s.%s.csv", fieldID, crop, name)
}

// writePacket writes one packet and appends it to the manifest.
func writePacket(dir string, p Packet, points []Point) error {
	f, err := os.Create(filepath.Join(dir, p.File))
	if err != nil {
		return err
	}

	if err := encodePacket(f, p.Variable, points); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	m, err := os.OpenFile(filepath.Join(dir, ManifestFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(m).Encode(p); err != nil {
		m.Close()
		return err
	}
	return m.Close()
}

// encodePacket writes the time,<name> CSV of one series.
func encodePacket(w io.Writer, name string, points []Point) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{table.TimeColumn, name}); err != nil {
		return err
	}
	for _, pt := range points {
		if err := cw.Write([]string{pt.Time, table.FormatValue(pt.Value)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// CompilePackets reads every packet in dir into one table per request name
// and returns them in the order of names. Names found in dir but missing
// from names are appended in sorted order.
//
// The manifest is used when present; otherwise field, crop and request name
// are parsed back out of the file names.
func CompilePackets(dir string, names []string) ([]*table.Table, error) {
	packets, err := readManifest(dir)
	if errors.Is(err, os.ErrNotExist) {
		packets, err = scanPackets(dir, names)
	}
	if err != nil {
		return nil, fmt.Errorf("list packets in %s: %w", dir, err)
	}

	order := append([]string(nil), names...)
	byName := make(map[string]*table.Table, len(names))
	for _, n := range names {
		byName[n] = table.New(n)
	}
	var extra []string
	for _, p := range packets {
		if _, ok := byName[p.Variable]; !ok {
			byName[p.Variable] = table.New(p.Variable)
			extra = append(extra, p.Variable)
		}
	}
	sort.Strings(extra)
	order = append(order, extra...)

	for _, p := range packets {
		if err := readPacket(filepath.Join(dir, p.File), p, byName[p.Variable]); err != nil {
			return nil, fmt.Errorf("read packet %s: %w", p.File, err)
		}
	}

	tables := make([]*table.Table, 0, len(order))
	for _, n := range order {
		tables = append(tables, byName[n])
	}
	return tables, nil
}

func readManifest(dir string) ([]Packet, error) {
	f, err := os.Open(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// A packet rewritten by a restarted run is listed twice; its file holds
	// the latest series.
	var packets []Packet
	seen := make(map[string]bool)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var p Packet
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			return nil, fmt.Errorf("manifest: %w", err)
		}
		if seen[p.File] {
			continue
		}
		seen[p.File] = true
		packets = append(packets, p)
	}
	return packets, sc.Err()
}

// scanPackets lists *.csv files in dir, parsing {field}.{crop}.{name}.csv.
// Known names are matched as suffixes first so they may contain dots.
func scanPackets(dir string, names []string) ([]Packet, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	known := append([]string(nil), names...)
	sort.Slice(known, func(i, j int) bool { return len(known[i]) > len(known[j]) })

	var packets []Packet
	for _, file := range files {
		base := filepath.Base(file)
		stem := strings.TrimSuffix(base, ".csv")

		var name string
		for _, n := range known {
			if strings.HasSuffix(stem, "."+n) {
				name = n
				break
			}
		}
		if name == "" {
			i := strings.LastIndexByte(stem, '.')
			if i < 0 {
				return nil, fmt.Errorf("%s: not a packet file name", base)
			}
			name = stem[i+1:]
		}

		rest := strings.TrimSuffix(stem, "."+name)
		i := strings.LastIndexByte(rest, '.')
		if i < 0 {
			return nil, fmt.Errorf("%s: not a packet file name", base)
		}
		packets = append(packets, Packet{
			File:     base,
			FieldID:  rest[:i],
			Crop:     rest[i+1:],
			Variable: name,
		})
	}
	return packets, nil
}

// readPacket appends the rows of one packet to t. The second column is the
// value whatever its header says.
func readPacket(path string, p Packet, t *table.Table) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 2
	if _, err := r.Read(); err != nil {
		return fmt.Errorf("header: %w", err)
	}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		v, err := table.ParseValue(rec[1])
		if err != nil {
			return err
		}
		if err := t.Append(table.Key{FieldID: p.FieldID, Crop: p.Crop, Time: rec[0]}, v); err != nil {
			return err
		}
	}
}
