// Package reporter renders analysis results for the terminal or for machines.
package reporter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/iyulab/incident-advisor/internal/analyzer"
	"github.com/iyulab/incident-advisor/internal/incident"
)

// Format selects the output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts text, json or yaml in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unsupported format %q (text, json, yaml)", s)
	}
}

const (
	ansiBold  = "\033[1m"
	ansiReset = "\033[0m"
)

// Reporter writes results to an output stream. Each result is rendered
// completely before the first byte is written.
type Reporter struct {
	w      io.Writer
	format Format
	color  bool
}

// Option customizes a Reporter.
type Option func(*Reporter)

// WithColor forces ANSI highlighting on or off.
func WithColor(on bool) Option {
	return func(r *Reporter) { r.color = on }
}

// New creates a Reporter. Highlighting is enabled when w is a terminal and
// the format is text.
func New(w io.Writer, format Format, opts ...Option) *Reporter {
	r := &Reporter{w: w, format: format, color: isTerminal(w)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Present writes res in the configured format.
func (r *Reporter) Present(res analyzer.Result) error {
	data, err := r.Render(res)
	if err != nil {
		return err
	}
	if _, err := r.w.Write(data); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// Render encodes res without writing it.
func (r *Reporter) Render(res analyzer.Result) ([]byte, error) {
	switch r.format {
	case FormatJSON:
		return encodeJSON(res)
	case FormatYAML:
		return encodeYAML(res)
	default:
		return r.renderText(res), nil
	}
}

func (r *Reporter) renderText(res analyzer.Result) []byte {
	var b bytes.Buffer

	fmt.Fprintf(&b, "Incident %s\n\n", res.IncidentID)

	if res.CriticalAction != "" {
		action := res.CriticalAction
		if r.color {
			action = ansiBold + action + ansiReset
		}
		fmt.Fprintf(&b, "Critical action:\n  %s\n\n", action)
	}

	b.WriteString("Recommendations:\n")
	for i, rec := range res.Recommendations {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, rec)
	}

	if len(res.RuleMatches) > 0 {
		b.WriteString("\nRule hints:\n")
		for _, m := range res.RuleMatches {
			fmt.Fprintf(&b, "  - [%s] %s\n", m.Level, m.RuleTitle)
		}
	}

	model := res.Provider
	if res.Model != "" {
		model += "/" + res.Model
	}
	fmt.Fprintf(&b, "\nAnalyzed %s by %s in %s\n",
		res.AnalyzedAt.UTC().Format(time.RFC3339), model, res.ProcessingTime.Round(time.Millisecond))

	return b.Bytes()
}

// recordSummary is the validate-only view of an incident. It omits the
// description and metadata values.
type recordSummary struct {
	Valid         bool      `json:"valid" yaml:"valid"`
	AlertID       string    `json:"alert_id" yaml:"alert_id"`
	AlertType     string    `json:"alert_type" yaml:"alert_type"`
	Severity      string    `json:"severity" yaml:"severity"`
	Timestamp     time.Time `json:"timestamp" yaml:"timestamp"`
	Description   bool      `json:"has_description" yaml:"has_description"`
	MetadataCount int       `json:"metadata_count" yaml:"metadata_count"`
}

// PresentRecord writes a summary of a validated incident.
func (r *Reporter) PresentRecord(rec incident.Record) error {
	sum := recordSummary{
		Valid:         true,
		AlertID:       rec.AlertID,
		AlertType:     string(rec.AlertType),
		Severity:      rec.Severity.String(),
		Timestamp:     rec.Timestamp.UTC(),
		Description:   rec.HasDescription(),
		MetadataCount: len(rec.Metadata),
	}

	var data []byte
	var err error
	switch r.format {
	case FormatJSON:
		data, err = encodeJSON(sum)
	case FormatYAML:
		data, err = encodeYAML(sum)
	default:
		data = []byte(fmt.Sprintf("Incident %s is valid: %s, severity %s, at %s, %d metadata field(s)\n",
			sum.AlertID, sum.AlertType, sum.Severity, sum.Timestamp.Format(time.RFC3339), sum.MetadataCount))
	}
	if err != nil {
		return err
	}
	if _, err := r.w.Write(data); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

func encodeJSON(v interface{}) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal json: %w", err)
	}
	return append(data, '\n'), nil
}

func encodeYAML(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("marshal yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("marshal yaml: %w", err)
	}
	return buf.Bytes(), nil
}
