package analyzer

import (
	"fmt"
	"testing"

	"github.com/iyulab/incident-advisor/internal/failure"
)

func TestParseRecommendations(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		wantCritical string
		wantRecs     []string
	}{
		{
			name:         "critical first",
			raw:          "CRITICAL: patch CVE-X\nRotate keys\nEnable MFA",
			wantCritical: "CRITICAL: patch CVE-X",
			wantRecs:     []string{"CRITICAL: patch CVE-X", "Rotate keys", "Enable MFA"},
		},
		{
			name:         "blank lines and padding",
			raw:          "\n\n  Rotate keys  \r\n\n\tEnable MFA\n   \n",
			wantCritical: "",
			wantRecs:     []string{"Rotate keys", "Enable MFA"},
		},
		{
			name:         "immediate marker case-insensitive",
			raw:          "Review logs\nimmediately isolate the host\nCritical: also this",
			wantCritical: "immediately isolate the host",
			wantRecs:     []string{"Review logs", "immediately isolate the host", "Critical: also this"},
		},
		{
			name:         "code fence dropped",
			raw:          "```text\nCRITICAL: block 10.0.0.5\nReset password\n```",
			wantCritical: "CRITICAL: block 10.0.0.5",
			wantRecs:     []string{"CRITICAL: block 10.0.0.5", "Reset password"},
		},
		{
			name:         "single line",
			raw:          "Enable MFA",
			wantCritical: "",
			wantRecs:     []string{"Enable MFA"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			critical, recs, err := ParseRecommendations(tt.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if critical != tt.wantCritical {
				t.Errorf("critical = %q, want %q", critical, tt.wantCritical)
			}
			if fmt.Sprintf("%q", recs) != fmt.Sprintf("%q", tt.wantRecs) {
				t.Errorf("recs = %q, want %q", recs, tt.wantRecs)
			}
		})
	}
}

func TestParseRecommendations_Empty(t *testing.T) {
	for _, raw := range []string{"", "   ", "\n\n\t\n"} {
		_, _, err := ParseRecommendations(raw)
		if failure.KindOf(err) != failure.EmptyAnalysis {
			t.Errorf("ParseRecommendations(%q) kind = %v, want empty_analysis", raw, failure.KindOf(err))
		}
	}
}

func TestParseRecommendations_OnlyFences(t *testing.T) {
	_, _, err := ParseRecommendations("```\n```")
	if failure.KindOf(err) != failure.NoRecommendations {
		t.Errorf("kind = %v, want no_recommendations", failure.KindOf(err))
	}
	if failure.IsTransient(err) {
		t.Error("parse failures must not be retried")
	}
}

func TestIsFence(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"```", true},
		{"```json", true},
		{"```text", true},
		{"``` rotate keys", false},
		{"```code``` inline", false},
		{"Rotate keys", false},
	}
	for _, tt := range tests {
		if got := isFence(tt.line); got != tt.want {
			t.Errorf("isFence(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}
