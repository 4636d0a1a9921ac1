// Package processor coordinates the Load → Analyze → Present pipeline for a
// single incident file.
package processor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iyulab/incident-advisor/internal/analyzer"
	"github.com/iyulab/incident-advisor/internal/failure"
	"github.com/iyulab/incident-advisor/internal/incident"
	"github.com/iyulab/incident-advisor/internal/logging"
	"github.com/iyulab/incident-advisor/internal/reporter"
)

// Loader reads and validates an incident file. *incident.Loader implements it.
type Loader interface {
	Load(path string) (incident.Record, error)
}

// Analyzer turns a record into recommendations. *analyzer.Client implements it.
type Analyzer interface {
	Analyze(ctx context.Context, rec incident.Record) (analyzer.Result, error)
}

// Presenter consumes results. *reporter.Reporter implements it.
type Presenter interface {
	Present(res analyzer.Result) error
	PresentRecord(rec incident.Record) error
}

// Options holds CLI flags for the processor.
type Options struct {
	// OutputDir, when set, receives a JSON copy of every result.
	OutputDir string
}

// Processor runs the pipeline. It holds no per-run state.
type Processor struct {
	loader    Loader
	analyzer  Analyzer
	presenter Presenter
	log       *logging.Logger
	opts      Options
	newRunID  func() string
}

// New creates a Processor. A nil logger discards diagnostics.
func New(loader Loader, an Analyzer, presenter Presenter, log *logging.Logger, opts Options) *Processor {
	if log == nil {
		log = logging.Discard()
	}
	return &Processor{
		loader:    loader,
		analyzer:  an,
		presenter: presenter,
		log:       log,
		opts:      opts,
		newRunID:  uuid.NewString,
	}
}

// Process loads the incident at path, analyzes it and presents the result.
// The first failure stops the pipeline; nothing is presented for a failed run.
func (p *Processor) Process(ctx context.Context, path string) (analyzer.Result, error) {
	log := p.log.With("run_id", p.newRunID()).With("path", path)
	start := time.Now()

	rec, err := p.loader.Load(path)
	if err != nil {
		return analyzer.Result{}, p.fail(log, "load", err)
	}
	log = log.With("incident", rec.AlertID)
	log.Info("incident loaded: type=%s severity=%s", rec.AlertType, rec.Severity)

	res, err := p.analyzer.Analyze(ctx, rec)
	if err != nil {
		return analyzer.Result{}, p.fail(log, "analyze", err)
	}
	log.Info("analysis complete: %d recommendation(s) in %s", len(res.Recommendations), res.ProcessingTime.Round(time.Millisecond))

	if p.opts.OutputDir != "" {
		fh, err := reporter.Save(p.opts.OutputDir, res)
		if err != nil {
			return analyzer.Result{}, p.fail(log, "save", err)
		}
		log.Info("result saved: file=%s sha256=%s", fh.File, fh.SHA256)
	}

	if err := p.presenter.Present(res); err != nil {
		return analyzer.Result{}, p.fail(log, "present", err)
	}

	log.Debug("run finished in %s", time.Since(start).Round(time.Millisecond))
	return res, nil
}

// Validate runs only the loader and presents a summary of the record.
func (p *Processor) Validate(ctx context.Context, path string) (incident.Record, error) {
	log := p.log.With("run_id", p.newRunID()).With("path", path)

	rec, err := p.loader.Load(path)
	if err != nil {
		return incident.Record{}, p.fail(log, "load", err)
	}
	log = log.With("incident", rec.AlertID)

	if err := p.presenter.PresentRecord(rec); err != nil {
		return incident.Record{}, p.fail(log, "present", err)
	}
	log.Info("incident is valid")
	return rec, nil
}

// fail logs err once with its classification and returns it unchanged.
// Only violated field names are logged, never values.
func (p *Processor) fail(log *logging.Logger, stage string, err error) error {
	log = log.With("stage", stage).With("kind", failure.KindOf(err))
	if vs := failure.ViolationsOf(err); len(vs) > 0 {
		fields := make([]string, len(vs))
		for i, v := range vs {
			fields[i] = v.Field
		}
		log = log.With("fields", strings.Join(fields, ","))
	}
	log.Error("%s failed: %s", stage, summarize(err))
	return err
}

// summarize describes err without field values. Validation errors carry
// their violations in the error text, so only the count is logged.
func summarize(err error) string {
	if vs := failure.ViolationsOf(err); len(vs) > 0 {
		return fmt.Sprintf("%d field violation(s)", len(vs))
	}
	return err.Error()
}
