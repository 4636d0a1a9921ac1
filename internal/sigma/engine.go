// Package sigma evaluates Sigma detection rules against an incident record.
// Matches are hints for the model; they never change validation outcomes.
package sigma

import (
	"context"
	"embed"
	"io/fs"
	"path/filepath"

	sigmalib "github.com/bradleyjkemp/sigma-go"
	"github.com/bradleyjkemp/sigma-go/evaluator"

	"github.com/iyulab/incident-advisor/internal/incident"
)

// Category is the logsource.category incident rules are scoped to.
const Category = "incident"

//go:embed rules
var embeddedRules embed.FS

// Engine evaluates Sigma rules against incident records.
type Engine struct {
	rules []evaluator.RuleEvaluator
}

// NewDefault creates an Engine loaded with the built-in embedded Sigma rules.
func NewDefault() (*Engine, error) {
	sub, err := fs.Sub(embeddedRules, "rules")
	if err != nil {
		return nil, err
	}
	return New(sub)
}

// New creates an Engine by loading Sigma rules from the given FS.
// All .yml/.yaml files are parsed as Sigma rules.
func New(rulesFS fs.FS) (*Engine, error) {
	var rules []evaluator.RuleEvaluator

	err := fs.WalkDir(rulesFS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		ext := filepath.Ext(path)
		if ext != ".yml" && ext != ".yaml" {
			return nil
		}
		data, err := fs.ReadFile(rulesFS, path)
		if err != nil {
			return err
		}
		rule, err := sigmalib.ParseRule(data)
		if err != nil {
			return err
		}
		rules = append(rules, *evaluator.ForRule(rule))
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Engine{rules: rules}, nil
}

// Len returns the number of loaded rules.
func (e *Engine) Len() int {
	return len(e.rules)
}

// Match evaluates every incident-scoped rule against rec.
func (e *Engine) Match(ctx context.Context, rec incident.Record) []Match {
	event := eventFor(rec)

	var matches []Match
	for _, ev := range e.rules {
		cat := ev.Rule.Logsource.Category
		if cat != "" && cat != Category {
			continue
		}
		res, err := ev.Matches(ctx, event)
		if err != nil || !res.Match {
			continue
		}
		matches = append(matches, Match{
			RuleTitle: ev.Rule.Title,
			RuleID:    ev.Rule.ID,
			Level:     ev.Rule.Level,
		})
	}
	return matches
}

// eventFor flattens rec into a Sigma event. Metadata keys are promoted to
// top-level fields; the core fields win on collision.
func eventFor(rec incident.Record) map[string]interface{} {
	event := make(map[string]interface{}, len(rec.Metadata)+4)
	for k, v := range rec.Metadata {
		event[k] = v
	}
	event["alertId"] = rec.AlertID
	event["alertType"] = string(rec.AlertType)
	event["severity"] = rec.Severity.String()
	event["description"] = rec.Description
	return event
}
