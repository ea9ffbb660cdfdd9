package resource

import (
	"time"

	"github.com/yairfalse/warden/pkg/document"
)

// ResourceTypeAny matches every resource kind.
const ResourceTypeAny = "any"

// Operator is a compliance comparison.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpIsTrue      Operator = "is_true"
	OpIsFalse     Operator = "is_false"
	OpIsNull      Operator = "is_null"
	OpIsNotNull   Operator = "is_not_null"
	// OpRego evaluates the expected value as a Rego expression.
	OpRego Operator = "rego"
)

// Framework is a named rule set such as SOC 2 or DORA.
type Framework struct {
	Name        string `json:"name" yaml:"name" validate:"required"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description" yaml:"description"`
	Enabled     bool   `json:"enabled" yaml:"-"`
}

// Rule is one declarative compliance check.
type Rule struct {
	Framework    string         `json:"framework"`
	RuleID       string         `json:"rule_id"`
	Category     string         `json:"category"`
	Description  string         `json:"description"`
	ResourceType string         `json:"resource_type"`
	FieldPath    string         `json:"field_path"`
	Operator     Operator       `json:"operator"`
	Expected     document.Value `json:"expected_value"`
	Severity     string         `json:"severity"`
	Remediation  string         `json:"remediation"`
	Enabled      bool           `json:"enabled"`
}

// FailedResource describes a resource that failed a rule.
type FailedResource struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Type      string         `json:"type"`
	Actual    document.Value `json:"actual_value"`
	Expected  document.Value `json:"expected_value"`
	FieldPath string         `json:"field_path"`
}

// RuleResult is the outcome of one rule within an evaluation.
type RuleResult struct {
	RuleID             string           `json:"rule_id"`
	Category           string           `json:"category"`
	Severity           string           `json:"severity"`
	Description        string           `json:"description"`
	Passed             bool             `json:"passed"`
	ResourcesEvaluated int              `json:"resources_evaluated"`
	FailedResources    []FailedResource `json:"failed_resources"`
	ErrorMessage       string           `json:"error_message,omitempty"`
}

// PassedResources is the number of evaluated resources that passed.
func (r RuleResult) PassedResources() int {
	return r.ResourcesEvaluated - len(r.FailedResources)
}

// Evaluation is one compliance run of a framework against an account.
type Evaluation struct {
	ID          string       `json:"id"`
	AccountID   string       `json:"account_id"`
	Framework   string       `json:"framework"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt time.Time    `json:"completed_at"`
	TotalRules  int          `json:"total_rules"`
	PassedRules int          `json:"passed_rules"`
	FailedRules int          `json:"failed_rules"`
	Score       float64      `json:"score"`
	Results     []RuleResult `json:"results"`
}

// CategoryScore aggregates rule results of one category.
type CategoryScore struct {
	Score  float64 `json:"score"`
	Total  int     `json:"total"`
	Passed int     `json:"passed"`
	Failed int     `json:"failed"`
}
