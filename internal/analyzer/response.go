package analyzer

import (
	"strings"

	"github.com/iyulab/incident-advisor/internal/failure"
)

// criticalMarkers select the critical action, matched case-insensitively.
var criticalMarkers = []string{"critical", "immediate"}

// ParseRecommendations splits raw model text into trimmed non-empty lines.
// The first line containing a critical marker is returned as critical; every
// line, including that one, is a recommendation.
func ParseRecommendations(raw string) (critical string, recs []string, err error) {
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return "", nil, failure.New(failure.EmptyAnalysis, "parse", "model returned no text")
	}

	for _, line := range lines {
		// Models often wrap plain text in a fence despite instructions.
		if isFence(line) {
			continue
		}
		if critical == "" && hasCriticalMarker(line) {
			critical = line
		}
		recs = append(recs, line)
	}
	if len(recs) == 0 {
		return "", nil, failure.New(failure.NoRecommendations, "parse", "no recommendation lines in model output")
	}
	return critical, recs, nil
}

func hasCriticalMarker(line string) bool {
	lower := strings.ToLower(line)
	for _, m := range criticalMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// isFence reports whether line is only a markdown code fence such as ``` or ```text.
func isFence(line string) bool {
	if !strings.HasPrefix(line, "```") {
		return false
	}
	return !strings.ContainsAny(strings.TrimPrefix(line, "```"), " \t`")
}
