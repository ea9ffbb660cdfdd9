// Package policy evaluates Rego expressions used by compliance rules.
package policy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/warden/telemetry"
)

// checkQuery is the rule every expression is compiled into.
const checkQuery = "data.warden.check.allow"

// ErrNonBoolean is returned when an expression does not yield a boolean.
var ErrNonBoolean = errors.New("expression did not evaluate to a boolean")

// Input is the document an expression sees as `input`.
type Input struct {
	// Value is the field selected by the rule, nil when absent.
	Value any
	// Resource is the full candidate.
	Resource any
}

func (in Input) toMap() map[string]any {
	return map[string]any{
		"value":    in.Value,
		"resource": in.Resource,
	}
}

// Engine compiles Rego boolean expressions and caches the prepared
// queries. Helper modules loaded with LoadModule are visible to every
// expression under their own package path.
//
// Engine is safe for concurrent use.
type Engine struct {
	mu      sync.RWMutex
	modules map[string]string
	queries map[string]rego.PreparedEvalQuery

	logger *telemetry.Logger
	tracer trace.Tracer
}

// NewEngine creates an engine with no helper modules.
func NewEngine(logger *telemetry.Logger) *Engine {
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &Engine{
		modules: make(map[string]string),
		queries: make(map[string]rego.PreparedEvalQuery),
		logger:  logger,
		tracer:  otel.Tracer("policy-engine"),
	}
}

// LoadModule compiles a helper module and makes it available to
// expressions. Loading drops every cached expression.
func (e *Engine) LoadModule(ctx context.Context, name, code string) error {
	ctx, span := e.tracer.Start(ctx, "policy_engine.load_module",
		trace.WithAttributes(attribute.String("policy.name", name)))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	modules := make(map[string]string, len(e.modules)+1)
	for k, v := range e.modules {
		modules[k] = v
	}
	modules[name] = code

	// Compile once to surface syntax errors at load time
	opts := append(moduleOptions(modules), rego.Query("data"))
	if _, err := rego.New(opts...).PrepareForEval(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		e.logger.LogStorageError(ctx, "compile_policy", err)
		return fmt.Errorf("failed to compile policy %s: %w", name, err)
	}

	e.modules = modules
	e.queries = make(map[string]rego.PreparedEvalQuery)

	e.logger.WithContext(ctx).Info().
		Str("policy_name", name).
		Msg("policy loaded")
	return nil
}

// Modules returns the names of the loaded helper modules.
func (e *Engine) Modules() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.modules))
	for name := range e.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check evaluates a Rego rule body against input. The body may span
// several lines; every statement must hold for the check to pass. An
// undefined result is false.
func (e *Engine) Check(ctx context.Context, expr string, input Input) (bool, error) {
	query, err := e.prepare(ctx, expr)
	if err != nil {
		return false, err
	}

	results, err := query.Eval(ctx, rego.EvalInput(input.toMap()))
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}

	allowed, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("%w: got %T", ErrNonBoolean, results[0].Expressions[0].Value)
	}
	return allowed, nil
}

func (e *Engine) prepare(ctx context.Context, expr string) (rego.PreparedEvalQuery, error) {
	e.mu.RLock()
	query, ok := e.queries[expr]
	e.mu.RUnlock()
	if ok {
		return query, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if query, ok := e.queries[expr]; ok {
		return query, nil
	}

	opts := append(moduleOptions(e.modules),
		rego.Query(checkQuery),
		rego.Module("check.rego", wrapExpression(expr)),
	)
	query, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("failed to compile expression: %w", err)
	}
	e.queries[expr] = query
	return query, nil
}

func wrapExpression(expr string) string {
	return "package warden.check\n\n" +
		"default allow := false\n\n" +
		"allow if {\n" + expr + "\n}\n"
}

func moduleOptions(modules map[string]string) []func(*rego.Rego) {
	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)

	opts := make([]func(*rego.Rego), 0, len(names)+2)
	for _, name := range names {
		opts = append(opts, rego.Module(name, modules[name]))
	}
	return opts
}
