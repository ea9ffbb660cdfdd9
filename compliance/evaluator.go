// Package compliance evaluates declarative rules against the document
// corpus and stores the outcome.
package compliance

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/warden/pkg/document"
	"github.com/yairfalse/warden/pkg/resource"
	"github.com/yairfalse/warden/policy"
	"github.com/yairfalse/warden/telemetry"
)

// Evaluator applies one rule to candidates.
type Evaluator struct {
	policies *policy.Engine
	logger   *telemetry.Logger
}

// NewEvaluator creates an evaluator. policies may be nil, in which case
// rego rules fail as misconfigured.
func NewEvaluator(policies *policy.Engine, logger *telemetry.Logger) *Evaluator {
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &Evaluator{policies: policies, logger: logger}
}

// EvaluateRule checks every candidate of the rule's type. The rule passes
// iff no candidate fails; a rule with no candidates passes.
func (e *Evaluator) EvaluateRule(ctx context.Context, rule resource.Rule, candidates []Candidate) resource.RuleResult {
	acc := newAccumulator(rule)
	for _, c := range candidates {
		e.feed(ctx, acc, c)
	}
	return acc.result()
}

func (e *Evaluator) feed(ctx context.Context, acc *accumulator, c Candidate) {
	if !matches(acc.rule, c) {
		return
	}
	acc.evaluated++

	actual, present := document.Get(c.Value, acc.rule.FieldPath)
	if !present {
		actual = document.Null()
	}

	passed, err := e.check(ctx, acc.rule, actual, present, c)
	if err != nil {
		var cfgErr *RuleConfigError
		if errors.As(err, &cfgErr) && acc.configErr == "" {
			acc.configErr = cfgErr.Error()
		}
		e.logger.LogRuleConfigError(ctx, acc.rule.RuleID, c.ID, err)
		telemetry.RecordRuleErrorEvent(trace.SpanFromContext(ctx), acc.rule.RuleID, c.ID, err.Error())
		passed = false
	}
	if !passed {
		acc.fail(c, actual)
	}
}

func (e *Evaluator) check(ctx context.Context, rule resource.Rule, actual document.Value, present bool, c Candidate) (bool, error) {
	expected := rule.Expected

	switch rule.Operator {
	case resource.OpEquals:
		return actual.Equal(expected), nil
	case resource.OpNotEquals:
		return !actual.Equal(expected), nil
	case resource.OpContains:
		return actual.Truthy() && strings.Contains(actual.String(), expected.String()), nil
	case resource.OpNotContains:
		return actual.Truthy() && !strings.Contains(actual.String(), expected.String()), nil
	case resource.OpGreaterThan, resource.OpLessThan:
		want, ok := expected.Float()
		if !ok {
			return false, configError(rule, "expected value "+expected.String()+" is not numeric")
		}
		if document.IsNullish(actual, present) {
			return false, nil
		}
		got, ok := actual.Float()
		if !ok {
			return false, nil
		}
		if rule.Operator == resource.OpGreaterThan {
			return got > want, nil
		}
		return got < want, nil
	case resource.OpIsTrue:
		return actual.Truthy(), nil
	case resource.OpIsFalse:
		return !actual.Truthy(), nil
	case resource.OpIsNull:
		return document.IsNullish(actual, present), nil
	case resource.OpIsNotNull:
		return !document.IsNullish(actual, present), nil
	case resource.OpRego:
		return e.checkRego(ctx, rule, actual, present, c)
	default:
		return false, configError(rule, "unknown operator")
	}
}

func (e *Evaluator) checkRego(ctx context.Context, rule resource.Rule, actual document.Value, present bool, c Candidate) (bool, error) {
	expr, ok := rule.Expected.AsString()
	if !ok || strings.TrimSpace(expr) == "" {
		return false, configError(rule, "expected value must be a rego expression")
	}
	if e.policies == nil {
		return false, configError(rule, "no policy engine configured")
	}

	input := policy.Input{Resource: c.Value.Interface()}
	if present {
		input.Value = actual.Interface()
	}
	allowed, err := e.policies.Check(ctx, expr, input)
	if err != nil {
		return false, configError(rule, err.Error())
	}
	return allowed, nil
}

func configError(rule resource.Rule, reason string) error {
	return &RuleConfigError{RuleID: rule.RuleID, Operator: string(rule.Operator), Reason: reason}
}

// accumulator collects one rule's outcome while the corpus streams past.
type accumulator struct {
	rule      resource.Rule
	evaluated int
	failed    []resource.FailedResource
	configErr string
}

func newAccumulator(rule resource.Rule) *accumulator {
	return &accumulator{rule: rule, failed: []resource.FailedResource{}}
}

func (a *accumulator) fail(c Candidate, actual document.Value) {
	a.failed = append(a.failed, resource.FailedResource{
		ID:        c.ID,
		Name:      c.Name,
		Type:      c.Kind,
		Actual:    actual,
		Expected:  a.rule.Expected,
		FieldPath: a.rule.FieldPath,
	})
}

func (a *accumulator) result() resource.RuleResult {
	return resource.RuleResult{
		RuleID:             a.rule.RuleID,
		Category:           a.rule.Category,
		Severity:           a.rule.Severity,
		Description:        a.rule.Description,
		Passed:             len(a.failed) == 0,
		ResourcesEvaluated: a.evaluated,
		FailedResources:    a.failed,
		ErrorMessage:       a.configErr,
	}
}
