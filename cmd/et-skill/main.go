// Command et-skill scores forecast columns of a merged table against a
// day-of-year climatology.
//
// Usage:
//
//	et-skill -merged forecast.csv -climatology kern_climatology.csv [-averages kern_2024_avgs.csv] [-out skill.csv]
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/et-gather/pkg/logging"
	"github.com/Sternrassler/et-gather/pkg/skill"
	"github.com/Sternrassler/et-gather/pkg/table"
)

type options struct {
	merged      string
	climatology string
	averages    string
	out         string
}

func main() {
	var opts options
	flag.StringVar(&opts.merged, "merged", "", "merged table CSV with actual_* and expected_* columns")
	flag.StringVar(&opts.climatology, "climatology", "", "climatology CSV")
	flag.StringVar(&opts.averages, "averages", "", "yearly averages CSV; enables normalized metrics")
	flag.StringVar(&opts.out, "out", "", "results CSV (default stdout)")
	flag.Parse()

	logger := newLogger(os.Stderr)
	if err := run(opts, os.Stdout, logger); err != nil {
		logger.Error().Err(err).Msg("Scoring failed")
		os.Exit(1)
	}
}

func newLogger(out io.Writer) zerolog.Logger {
	cfg := logging.DefaultConfig()
	cfg.Output = out
	logging.Setup(cfg)
	return logging.NewLogger("et-skill")
}

func run(opts options, stdout io.Writer, logger zerolog.Logger) error {
	if opts.merged == "" || opts.climatology == "" {
		return errors.New("-merged and -climatology are required")
	}

	merged, err := readFile(opts.merged, table.ReadCSV)
	if err != nil {
		return err
	}
	clim, err := readFile(opts.climatology, skill.ReadClimatologyCSV)
	if err != nil {
		return err
	}

	var avgs *skill.Averages
	if opts.averages != "" {
		if avgs, err = readFile(opts.averages, skill.ReadAveragesCSV); err != nil {
			return err
		}
	}

	results, err := skill.Evaluate(merged, clim, avgs, skill.DefaultPairs, skill.Options{Normalize: avgs != nil})
	var merr *multierror.Error
	if errors.As(err, &merr) {
		for _, e := range merr.Errors {
			logger.Warn().Err(e).Msg("Skipped")
		}
	} else if err != nil {
		return err
	}
	if len(results) == 0 {
		return errors.New("nothing could be scored")
	}
	logger.Info().Int("results", len(results)).Msg("Scored")

	if opts.out == "" {
		return skill.WriteResultsCSV(stdout, results)
	}
	f, err := os.Create(opts.out)
	if err != nil {
		return err
	}
	if err := skill.WriteResultsCSV(f, results); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readFile[T any](path string, read func(io.Reader) (T, error)) (T, error) {
	f, err := os.Open(path)
	if err != nil {
		var zero T
		return zero, err
	}
	defer f.Close()

	v, err := read(f)
	if err != nil {
		return v, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}
