// Package fetch walks a queue of fields, issues one request per RequestSpec
// for each field and assembles the decoded series into a merged table.
//
// A field is all-or-nothing: its rows are kept only when every request for
// it succeeded and decoded. Fields are processed one at a time.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/et-gather/pkg/client"
	"github.com/Sternrassler/et-gather/pkg/queue"
	"github.com/Sternrassler/et-gather/pkg/reference"
	"github.com/Sternrassler/et-gather/pkg/table"
)

// DefaultPacketRoot is where run directories are created.
const DefaultPacketRoot = "data/bin"

// Field outcomes, used as metric labels and ledger values.
const (
	OutcomeCommitted = "committed"
	OutcomeDiscarded = "discarded"
)

// Recorder receives the outcome of every processed field.
type Recorder interface {
	RecordField(ctx context.Context, fieldID, crop, outcome, reason string) error
}

// Config configures a Fetcher.
type Config struct {
	// MaxRetries is passed to every request. Negative uses the client's setting.
	MaxRetries int

	// IgnoreFails skips the decision prompt; exhausted requests fail the field.
	IgnoreFails bool

	// PacketRoot holds run directories when packets are enabled.
	PacketRoot string

	// RunDir, when set, is the packet directory used instead of a new
	// PacketRoot/<timestamp>. A restarted run passes the directory of the
	// interrupted one so the packets it committed are compiled too.
	RunDir string

	// Logger is optional. Nil disables logging.
	Logger *zerolog.Logger

	// Recorder is optional.
	Recorder Recorder

	// Now defaults to time.Now.
	Now func() time.Time
}

// Fetcher runs the field loop. A Fetcher is not safe for concurrent use.
type Fetcher struct {
	client *client.Client
	config Config
	logger zerolog.Logger

	table  *table.Table
	runDir string

	// partial holds the state of an interrupted run until a Run with the
	// same request names completes it.
	partial *partialRun
}

type partialRun struct {
	names   []string
	tables  []*table.Table
	packets bool
	runDir  string
}

func (p *partialRun) matches(names []string, packets bool) bool {
	if p == nil || p.packets != packets || len(p.names) != len(names) {
		return false
	}
	for i := range names {
		if p.names[i] != names[i] {
			return false
		}
	}
	return true
}

// New returns a Fetcher sending requests through c.
func New(c *client.Client, cfg Config) *Fetcher {
	if cfg.PacketRoot == "" {
		cfg.PacketRoot = DefaultPacketRoot
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxRetries < 0 && c != nil {
		cfg.MaxRetries = c.MaxRetries()
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "fetch").Logger()
	}

	return &Fetcher{
		client: c,
		config: cfg,
		logger: logger,
		table:  table.New(),
	}
}

// Table returns the merged table of the last run.
func (f *Fetcher) Table() *table.Table {
	return f.table
}

// RunDir returns the packet directory of the last packet run. Pass it as
// Config.RunDir to resume that run in another process.
func (f *Fetcher) RunDir() string {
	return f.runDir
}

// Run drains q and returns the number of discarded fields.
//
// Field failures never abort the run. The returned error is non-nil only for
// configuration errors, queue or packet I/O errors, and interrupts. On
// interrupt the current field stays at the front of q and whatever was
// accumulated so far is kept: the next Run on this Fetcher with the same
// requests continues it, so fields committed before the interrupt are part
// of the final table. Across processes only packets survive; see
// Config.RunDir.
//
// The returned count covers the fields discarded by this call.
func (f *Fetcher) Run(ctx context.Context, q queue.FieldQueue, ref reference.Reference, specs []RequestSpec, frequency string, packets bool) (int, error) {
	specs, err := f.prepare(q, ref, specs)
	if err != nil {
		return 0, err
	}

	start := f.config.Now()
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}

	if !f.partial.matches(names, packets) {
		p := &partialRun{names: names, packets: packets, tables: make([]*table.Table, len(specs))}
		for i, name := range names {
			p.tables[i] = table.New(name)
		}
		if packets {
			p.runDir = f.config.RunDir
			if p.runDir == "" {
				p.runDir = filepath.Join(f.config.PacketRoot, start.Format(RunDirLayout))
			}
		}
		f.partial = p
	} else {
		f.logger.Info().Str("dir", f.partial.runDir).Msg("Continuing interrupted run")
	}
	tables := f.partial.tables
	f.runDir = f.partial.runDir

	if packets {
		if err := os.MkdirAll(f.runDir, 0o755); err != nil {
			return 0, fmt.Errorf("create packet directory: %w", err)
		}
	}

	f.logger.Info().
		Int("remaining", q.Len()).
		Int("requests", len(specs)).
		Bool("packets", packets).
		Msg("Starting run")

	failed := 0
	for {
		if err := ctx.Err(); err != nil {
			return failed, fmt.Errorf("%w: %v", client.ErrInterrupted, err)
		}

		id, err := q.Front()
		if errors.Is(err, queue.ErrEmpty) {
			break
		}
		if err != nil {
			return failed, fmt.Errorf("read queue: %w", err)
		}

		field, series, err := f.fetchField(ctx, ref, id, specs, frequency)
		switch {
		case errors.Is(err, client.ErrInterrupted), errors.Is(err, client.ErrConfiguration):
			return failed, err
		case err != nil:
			failed++
			f.outcome(ctx, field, OutcomeDiscarded, err)
			f.logger.Warn().Err(err).Str("field_id", id).Msg("Field failed")
		default:
			if err := f.commit(field, specs, series, tables, packets); err != nil {
				return failed, err
			}
			f.outcome(ctx, field, OutcomeCommitted, nil)
			f.logger.Info().Str("field_id", id).Msg("Successful")
		}

		if _, err := q.Pop(); err != nil {
			return failed, fmt.Errorf("advance queue: %w", err)
		}
		etFieldsRemaining.Set(float64(q.Len()))
		f.logger.Info().Int("remaining", q.Len()).Msg("Fields remaining")
	}

	if packets {
		compiled, err := CompilePackets(f.runDir, names)
		if err != nil {
			return failed, err
		}
		tables = compiled
	}
	if f.table, err = table.Merge(tables...); err != nil {
		return failed, err
	}
	f.partial = nil

	f.logger.Info().
		Int("failed", failed).
		Int("rows", f.table.Len()).
		Dur("elapsed", f.config.Now().Sub(start)).
		Msg("Finished processing")
	return failed, nil
}

func (f *Fetcher) prepare(q queue.FieldQueue, ref reference.Reference, specs []RequestSpec) ([]RequestSpec, error) {
	switch {
	case f.client == nil:
		return nil, &client.ConfigurationError{Field: "client"}
	case q == nil:
		return nil, &client.ConfigurationError{Field: "queue"}
	case ref == nil:
		return nil, &client.ConfigurationError{Field: "reference"}
	case len(specs) == 0:
		return nil, &client.ConfigurationError{Field: "request specs"}
	}

	out := make([]RequestSpec, len(specs))
	seen := make(map[string]bool, len(specs))
	for i, s := range specs {
		s = s.WithDefaults()
		if err := s.Validate(); err != nil {
			return nil, &client.ConfigurationError{Field: "request spec", Err: err}
		}
		if seen[s.Name] {
			return nil, &client.ConfigurationError{Field: "request spec", Err: fmt.Errorf("duplicate name %q", s.Name)}
		}
		seen[s.Name] = true
		out[i] = s
	}
	return out, nil
}

// fetchField sends every request of one field and decodes the responses.
// All requests are sent even after one fails.
func (f *Fetcher) fetchField(ctx context.Context, ref reference.Reference, id string, specs []RequestSpec, frequency string) (reference.Field, [][]Point, error) {
	field, err := ref.Lookup(id)
	if err != nil {
		return reference.Field{ID: id}, nil, err
	}

	logger := f.logger.With().Str("field_id", field.ID).Str("crop", field.Crop).Logger()
	logger.Info().Msg("Analyzing field")

	requests := make([]*client.Request, len(specs))
	var failure error
	for i, s := range specs {
		req := f.client.NewRequest(s.Endpoint, s.Payload(field.Geometry, frequency))
		requests[i] = req

		if _, err := req.Send(ctx, f.config.MaxRetries, f.config.IgnoreFails); err != nil {
			if errors.Is(err, client.ErrInterrupted) || errors.Is(err, client.ErrConfiguration) {
				return field, nil, err
			}
			if failure == nil {
				failure = fmt.Errorf("request %s: %w", s.Name, err)
			}
			logger.Debug().Err(err).Str("request", s.Name).Msg("Request failed")
		}
	}
	if failure != nil {
		return field, nil, failure
	}

	series := make([][]Point, len(specs))
	for i, req := range requests {
		if !req.Success() {
			return field, nil, fmt.Errorf("request %s: unsuccessful", specs[i].Name)
		}
		points, err := DecodeSeries(req.Response())
		if err != nil {
			return field, nil, fmt.Errorf("request %s: %w", specs[i].Name, err)
		}
		series[i] = points
	}
	return field, series, nil
}

func (f *Fetcher) commit(field reference.Field, specs []RequestSpec, series [][]Point, tables []*table.Table, packets bool) error {
	for i, s := range specs {
		if packets {
			p := Packet{
				File:     PacketName(field.ID, field.Crop, s.Name),
				FieldID:  field.ID,
				Crop:     field.Crop,
				Variable: s.Name,
			}
			if err := writePacket(f.runDir, p, series[i]); err != nil {
				return fmt.Errorf("write packet %s: %w", p.File, err)
			}
			f.logger.Debug().Str("file", p.File).Msg("Packet written")
			continue
		}

		for _, pt := range series[i] {
			key := table.Key{FieldID: field.ID, Crop: field.Crop, Time: pt.Time}
			if err := tables[i].Append(key, pt.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *Fetcher) outcome(ctx context.Context, field reference.Field, outcome string, cause error) {
	etFieldsTotal.WithLabelValues(outcome).Inc()
	if f.config.Recorder == nil {
		return
	}
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	if err := f.config.Recorder.RecordField(ctx, field.ID, field.Crop, outcome, reason); err != nil {
		f.logger.Warn().Err(err).Str("field_id", field.ID).Msg("Failed to record field outcome")
	}
}
