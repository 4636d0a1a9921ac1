package sigma

// Match records a Sigma rule hit against an incident.
type Match struct {
	RuleTitle string `json:"rule_title" yaml:"rule_title"`
	RuleID    string `json:"rule_id,omitempty" yaml:"rule_id,omitempty"`
	Level     string `json:"level" yaml:"level"` // informational | low | medium | high | critical
}
