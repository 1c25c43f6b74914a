// Command et-gather fetches ET time series for every field of a reference
// table and exports the merged result.
//
// Usage:
//
//	et-gather -run run.yaml [-env .env] [-retry-run <id>] [-climatology] [-averages-year 2024]
//
// Settings come from ET_* environment variables (see pkg/config); the run
// file names the reference table, the requests and the output.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/Sternrassler/et-gather/pkg/cache"
	"github.com/Sternrassler/et-gather/pkg/client"
	"github.com/Sternrassler/et-gather/pkg/config"
	"github.com/Sternrassler/et-gather/pkg/export"
	"github.com/Sternrassler/et-gather/pkg/fetch"
	"github.com/Sternrassler/et-gather/pkg/ledger"
	"github.com/Sternrassler/et-gather/pkg/logging"
	"github.com/Sternrassler/et-gather/pkg/metrics"
	"github.com/Sternrassler/et-gather/pkg/queue"
	"github.com/Sternrassler/et-gather/pkg/reference"
	"github.com/Sternrassler/et-gather/pkg/skill"
	"github.com/Sternrassler/et-gather/pkg/table"
)

type options struct {
	runFile      string
	envFile      string
	retryRun     string
	climatology  bool
	averagesYear int
}

func main() {
	var opts options
	flag.StringVar(&opts.runFile, "run", "run.yaml", "YAML run file")
	flag.StringVar(&opts.envFile, "env", ".env", "environment file, ignored when missing")
	flag.StringVar(&opts.retryRun, "retry-run", "", "only queue the fields discarded by this ledger run")
	flag.BoolVar(&opts.climatology, "climatology", false, "also write the day-of-year climatology of the merged table")
	flag.IntVar(&opts.averagesYear, "averages-year", 0, "also write per-field averages of the merged table for this year")
	flag.Parse()

	env, err := config.LoadEnv(opts.envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = run(ctx, opts, env, os.Stdin, os.Stderr)
	stop()
	switch {
	case errors.Is(err, client.ErrInterrupted):
		os.Exit(130)
	case errors.Is(err, client.ErrConfiguration):
		os.Exit(2)
	case err != nil:
		os.Exit(1)
	}
}

type app struct {
	env      *config.Environment
	run      *config.Run
	logger   zerolog.Logger
	client   *client.Client
	ref      *reference.Table
	ledger   *ledger.Ledger
	exporter *export.Exporter
}

// run wires the components from env and the run file and executes the run.
func run(ctx context.Context, opts options, env *config.Environment, stdin io.Reader, stderr io.Writer) (err error) {
	logCfg := env.LogConfig()
	logCfg.Output = stderr
	if env.LogDir != "" {
		f, err := logging.OpenFile(env.LogDir, "et-gather", time.Now())
		if err != nil {
			return err
		}
		defer f.Close()
		logCfg.File = f
	}
	logger := logging.Setup(logCfg)

	defer func() {
		if err != nil {
			logger.Error().Err(err).Msg("Run failed")
		}
	}()

	runCfg, err := config.LoadRun(opts.runFile)
	if err != nil {
		return &client.ConfigurationError{Field: "run file", Err: err}
	}

	if env.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, env.MetricsAddr, logger); err != nil {
				logger.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	a := &app{env: env, run: runCfg, logger: logger}

	cc := env.ClientConfig()
	cc.Logger = &logger
	if env.Interactive {
		cc.Decider = client.NewPromptDecider(stdin, stderr)
	}
	if env.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: env.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", env.RedisAddr).Msg("Redis unavailable, response cache disabled")
		} else {
			cc.Cache = cache.NewManager(rdb, env.CacheTTL)
			logger.Info().Str("addr", env.RedisAddr).Dur("ttl", env.CacheTTL).Msg("Response cache enabled")
		}
	}
	if a.client, err = client.New(cc); err != nil {
		return err
	}

	if a.ref, err = reference.LoadFile(runCfg.Reference.Path, runCfg.Reference.Options); err != nil {
		return &client.ConfigurationError{Field: "reference", Err: err}
	}

	if env.LedgerPath != "" {
		if a.ledger, err = ledger.Open(env.LedgerPath); err != nil {
			return err
		}
		defer a.ledger.Close()
	}

	sinks := []export.Sink{export.LocalSink{}}
	if env.GCSBucket != "" {
		var gopts []option.ClientOption
		if env.GCSCredentials != "" {
			gopts = append(gopts, option.WithCredentialsFile(env.GCSCredentials))
		}
		gcs, err := export.NewGCSSink(ctx, env.GCSBucket, env.GCSPrefix, gopts...)
		if err != nil {
			return err
		}
		defer gcs.Close()
		sinks = append(sinks, gcs)
	}
	a.exporter = export.New(&logger, sinks...)

	ids, err := a.fieldIDs(ctx, opts.retryRun)
	if err != nil {
		return err
	}

	if runCfg.Forecast != nil {
		return a.forecast(ctx, ids)
	}
	return a.single(ctx, ids, opts)
}

// fieldIDs returns the fields to queue: the discarded fields of an earlier
// run, the run file's list, or every field of the reference.
func (a *app) fieldIDs(ctx context.Context, retryRun string) ([]string, error) {
	switch {
	case retryRun != "":
		if a.ledger == nil {
			return nil, &client.ConfigurationError{Field: "retry-run", Err: errors.New("ET_LEDGER_PATH is not set")}
		}
		ids, err := a.ledger.FieldsWithOutcome(ctx, retryRun, fetch.OutcomeDiscarded)
		if err != nil {
			return nil, err
		}
		a.logger.Info().Str("run", retryRun).Int("fields", len(ids)).Msg("Requeueing failed fields")
		return ids, nil
	case len(a.run.Fields) > 0:
		return a.run.Fields, nil
	default:
		return a.ref.IDs(), nil
	}
}

func (a *app) single(ctx context.Context, ids []string, opts options) error {
	format, _ := a.run.OutputFormat()

	merged, err := a.fetch(ctx, ids, a.run.Requests, a.env.QueueName)
	if err != nil {
		return err
	}
	if err := a.exporter.Export(ctx, merged, export.FileName(a.run.Output.Path, format), format); err != nil {
		return err
	}

	if opts.climatology || a.run.Climatology != nil {
		sum := summaryOrDefault(a.run.Climatology)
		path := sum.Path
		if path == "" {
			path = a.run.Output.Path + "_climatology.csv"
		}
		clim, err := skill.NewClimatology(merged, sum.Columns...)
		if err != nil {
			return err
		}
		if err := a.putCSV(ctx, path, clim.WriteCSV); err != nil {
			return err
		}
	}

	year := opts.averagesYear
	if year == 0 && a.run.Averages != nil {
		year = a.run.Averages.Year
	}
	if year != 0 {
		sum := summaryOrDefault(a.run.Averages)
		path := sum.Path
		if path == "" {
			path = fmt.Sprintf("%s_%d_avgs.csv", a.run.Output.Path, year)
		}
		avgs, err := skill.YearAverages(merged, year, sum.Columns...)
		if err != nil {
			return err
		}
		if err := a.putCSV(ctx, path, avgs.WriteCSV); err != nil {
			return err
		}
	}
	return nil
}

// forecast runs once per forecasting date. Dates whose output already exists
// are skipped so an interrupted series can be resumed.
func (a *app) forecast(ctx context.Context, ids []string) error {
	format, _ := a.run.OutputFormat()
	dates, err := a.run.Forecast.Dates()
	if err != nil {
		return err
	}

	for _, date := range dates {
		name := export.FileName(filepath.Join(a.run.Forecast.Dir, date+"_forecast"), format)
		if _, err := os.Stat(name); err == nil {
			a.logger.Info().Str("date", date).Str("file", name).Msg("Forecast exists, skipping")
			continue
		}

		specs := make([]fetch.RequestSpec, len(a.run.Requests))
		for i, s := range a.run.Requests {
			specs[i] = s.WithEndDate(date)
		}

		a.logger.Info().Str("date", date).Msg("Forecasting")
		merged, err := a.fetch(ctx, ids, specs, a.env.QueueName+"_"+date)
		if err != nil {
			return err
		}
		if err := a.exporter.Export(ctx, merged, name, format); err != nil {
			return err
		}
	}
	return nil
}

// fetch runs one fetch over ids and records it in the ledger.
func (a *app) fetch(ctx context.Context, ids []string, specs []fetch.RequestSpec, queueName string) (*table.Table, error) {
	q, runDir, err := a.openQueue(queueName, ids)
	if err != nil {
		return nil, err
	}
	defer q.Close()

	// Rows held in memory do not survive a restart, so a persisted queue
	// always writes packets.
	packets := a.run.Packets
	if a.env.QueueDir != "" && !packets {
		a.logger.Info().Str("queue", queueName).Msg("Persisted queue, writing packets")
		packets = true
	}
	if packets && runDir == "" {
		runDir = a.newRunDir(queueName)
	}

	cfg := fetch.Config{
		MaxRetries: a.env.MaxRetries,
		PacketRoot: a.env.PacketDir,
		RunDir:     runDir,
		Logger:     &a.logger,
	}

	var lrun *ledger.Run
	if a.ledger != nil {
		lrun, err = a.ledger.BeginRun(ctx, runRecord{
			RunFile:   a.run,
			Fields:    len(ids),
			QueueName: queueName,
		})
		if err != nil {
			return nil, err
		}
		cfg.Recorder = lrun
		a.logger.Info().Str("run", lrun.ID).Msg("Ledger run started")
	}

	f := fetch.New(a.client, cfg)
	failed, err := f.Run(ctx, q, a.ref, specs, a.run.Frequency, packets)

	if lrun != nil {
		status := ledger.StatusCompleted
		switch {
		case errors.Is(err, client.ErrInterrupted):
			status = ledger.StatusInterrupted
		case err != nil:
			status = ledger.StatusFailed
		}
		// ctx may already be cancelled.
		if ferr := lrun.Finish(context.Background(), status, failed); ferr != nil {
			a.logger.Warn().Err(ferr).Msg("Failed to finish ledger run")
		}
	}
	if err != nil {
		return nil, err
	}

	if a.env.QueueDir != "" {
		if err := os.Remove(runDirFile(a.env.QueueDir, queueName)); err != nil && !errors.Is(err, os.ErrNotExist) {
			a.logger.Warn().Err(err).Msg("Failed to remove run directory record")
		}
	}
	if failed > 0 {
		a.logger.Warn().Int("failed", failed).Msg("Some fields failed")
	}
	return f.Table(), nil
}

// openQueue returns the field queue and, for a persisted queue, the packet
// directory its fields are written to. A persisted queue that still holds
// fields from an interrupted run is resumed together with that run's
// directory, so the fields it committed are compiled too.
func (a *app) openQueue(name string, ids []string) (queue.FieldQueue, string, error) {
	if a.env.QueueDir == "" {
		return queue.NewListQueue(ids...), "", nil
	}

	q, err := queue.OpenPersistedQueue(a.env.QueueDir, name)
	if err != nil {
		return nil, "", err
	}
	record := runDirFile(a.env.QueueDir, name)

	if q.Len() > 0 {
		data, err := os.ReadFile(record)
		switch {
		case err == nil:
			runDir := strings.TrimSpace(string(data))
			a.logger.Info().Str("queue", name).Int("remaining", q.Len()).Str("dir", runDir).Msg("Resuming persisted queue")
			return q, runDir, nil
		case errors.Is(err, os.ErrNotExist):
			a.logger.Warn().Str("queue", name).Int("remaining", q.Len()).Msg("Resuming persisted queue without a run directory record, earlier fields are not merged")
		default:
			q.Close()
			return nil, "", fmt.Errorf("read run directory record: %w", err)
		}
	} else if err := q.Enqueue(ids...); err != nil {
		q.Close()
		return nil, "", err
	}

	runDir := a.newRunDir(name)
	if err := os.WriteFile(record, []byte(runDir+"\n"), 0o644); err != nil {
		q.Close()
		return nil, "", fmt.Errorf("write run directory record: %w", err)
	}
	return q, runDir, nil
}

// newRunDir names a packet directory after the current time and the queue,
// so forecast dates started within the same second do not share one.
func (a *app) newRunDir(queueName string) string {
	root := a.env.PacketDir
	if root == "" {
		root = fetch.DefaultPacketRoot
	}
	return filepath.Join(root, time.Now().Format(fetch.RunDirLayout)+"_"+queueName)
}

// runDirFile records the packet directory of the run draining queue name.
func runDirFile(queueDir, name string) string {
	return filepath.Join(queueDir, name+".rundir")
}

func (a *app) putCSV(ctx context.Context, name string, write func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		return err
	}
	return a.exporter.Put(ctx, name, buf.Bytes(), export.CSV.ContentType())
}

func summaryOrDefault(s *config.Summary) config.Summary {
	if s == nil {
		return config.Summary{}
	}
	return *s
}

// runRecord is stored with each ledger run.
type runRecord struct {
	RunFile   *config.Run `json:"run"`
	Fields    int         `json:"fields"`
	QueueName string      `json:"queue"`
}
