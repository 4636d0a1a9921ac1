// Package incident loads and validates a single security incident file.
package incident

import (
	"fmt"
	"strings"
	"time"
)

// AlertType is the category of a security alert.
type AlertType string

const (
	UnauthorizedAccess       AlertType = "UnauthorizedAccess"
	DataExfiltration         AlertType = "DataExfiltration"
	MalwareDetection         AlertType = "MalwareDetection"
	PhishingAttempt          AlertType = "PhishingAttempt"
	PrivilegeEscalation      AlertType = "PrivilegeEscalation"
	AnomalousActivity        AlertType = "AnomalousActivity"
	BruteForceAttempt        AlertType = "BruteForceAttempt"
	SuspiciousNetworkTraffic AlertType = "SuspiciousNetworkTraffic"
)

// AlertTypes lists every accepted alert type in declaration order.
var AlertTypes = []AlertType{
	UnauthorizedAccess,
	DataExfiltration,
	MalwareDetection,
	PhishingAttempt,
	PrivilegeEscalation,
	AnomalousActivity,
	BruteForceAttempt,
	SuspiciousNetworkTraffic,
}

// ParseAlertType matches s against the known alert types, ignoring case.
// The error lists the accepted names and never repeats s.
func ParseAlertType(s string) (AlertType, error) {
	for _, t := range AlertTypes {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	names := make([]string, len(AlertTypes))
	for i, t := range AlertTypes {
		names[i] = string(t)
	}
	return "", fmt.Errorf("must be one of %s", strings.Join(names, ", "))
}

// Severity is the ordered urgency of an alert.
type Severity int

const (
	Low      Severity = 1
	Medium   Severity = 2
	High     Severity = 3
	Critical Severity = 4
)

func (s Severity) String() string {
	switch s {
	case Low:
		return "Low"
	case Medium:
		return "Medium"
	case High:
		return "High"
	case Critical:
		return "Critical"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// Severities lists every severity in ascending order.
var Severities = []Severity{Low, Medium, High, Critical}

// ParseSeverity matches s against the severity names, ignoring case.
// Like ParseAlertType, the error does not repeat s.
func ParseSeverity(s string) (Severity, error) {
	for _, sev := range Severities {
		if strings.EqualFold(s, sev.String()) {
			return sev, nil
		}
	}
	names := make([]string, len(Severities))
	for i, sev := range Severities {
		names[i] = sev.String()
	}
	return 0, fmt.Errorf("must be one of %s", strings.Join(names, ", "))
}

// MarshalText renders the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Field limits.
const (
	MaxAlertIDLength     = 50
	MaxDescriptionLength = 2000
	MaxClockSkew         = time.Hour
)

// Record is a validated incident. Records are only produced by Loader.Load
// and are not modified afterwards.
type Record struct {
	AlertID     string            `json:"alertId" yaml:"alertId"`
	AlertType   AlertType         `json:"alertType" yaml:"alertType"`
	Severity    Severity          `json:"severity" yaml:"severity"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Timestamp   time.Time         `json:"timestamp" yaml:"timestamp"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// HasDescription reports whether the incident carried a description.
func (r Record) HasDescription() bool {
	return r.Description != ""
}
