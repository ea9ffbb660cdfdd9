package compliance

import "fmt"

// RuleConfigError reports a rule that cannot be evaluated as written: an
// unknown operator, an expected value of the wrong shape or a Rego
// expression that does not compile. The affected resource fails.
type RuleConfigError struct {
	RuleID   string
	Operator string
	Reason   string
}

func (e *RuleConfigError) Error() string {
	return fmt.Sprintf("rule %s: operator %q: %s", e.RuleID, e.Operator, e.Reason)
}
