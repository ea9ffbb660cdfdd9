package resource

import "time"

// ChangeType classifies a single drifted field.
type ChangeType string

const (
	ChangeAdded        ChangeType = "added"
	ChangeRemoved      ChangeType = "removed"
	ChangeModified     ChangeType = "modified"
	ChangeValueChanged ChangeType = "value_changed"
	ChangeListModified ChangeType = "list_modified"
)

// Severity grades a resource's drift.
type Severity string

const (
	SeverityNone   Severity = ""
	SeverityLow    Severity = "Low"
	SeverityMedium Severity = "Medium"
	SeverityHigh   Severity = "High"
)

// Rank orders severities, higher is worse.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// DriftChange is one field that differs from the baseline.
type DriftChange struct {
	Path       string     `json:"path"`
	From       string     `json:"from"`
	To         string     `json:"to"`
	ChangeType ChangeType `json:"change_type"`
}

// DriftItem summarizes the drift of one resource.
type DriftItem struct {
	ID          string            `json:"id"`
	DocumentKey string            `json:"document_key"`
	ResourceID  string            `json:"resource_id"`
	Name        string            `json:"name"`
	Kind        string            `json:"kind"`
	Service     string            `json:"service"`
	Region      string            `json:"region,omitempty"`
	Severity    Severity          `json:"severity"`
	Issue       string            `json:"issue"`
	Impact      string            `json:"impact"`
	Expected    map[string]string `json:"expected_config"`
	Current     map[string]string `json:"current_config"`
	Changes     []DriftChange     `json:"changes"`
	DetectedAt  time.Time         `json:"detected_at"`
}

// DriftSummary counts drift across a corpus.
type DriftSummary struct {
	TotalResources    int       `json:"total_resources"`
	DriftingResources int       `json:"drifting_resources"`
	High              int       `json:"critical_drift"`
	Medium            int       `json:"medium_drift"`
	Low               int       `json:"low_drift"`
	LastScan          time.Time `json:"last_scan"`
}

// TimelineEntry is the drift between one revision and the revision before it.
type TimelineEntry struct {
	Revision   int64         `json:"revision"`
	ObservedAt time.Time     `json:"observed_at"`
	Changes    []DriftChange `json:"changes"`
	Severity   Severity      `json:"severity"`
}
