package compliance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yairfalse/warden/classifier"
	"github.com/yairfalse/warden/internal/filter"
	"github.com/yairfalse/warden/pkg/document"
	"github.com/yairfalse/warden/pkg/resource"
	"github.com/yairfalse/warden/storage"
	"github.com/yairfalse/warden/telemetry"
	"github.com/yairfalse/warden/wal"
)

// RunnerOptions configures a Runner. Zero values select defaults.
type RunnerOptions struct {
	PageSize int
	// Filter selects the resources rules apply to. It should match the
	// materializer's so evaluations cover the inventory.
	Filter   *filter.Filter
	Journal  *wal.WAL
	Logger   *telemetry.Logger
	Now      func() time.Time
	NewID    func() string
}

// Runner evaluates a framework's rules against an account corpus and
// appends the outcome to the compliance store.
type Runner struct {
	corpus    storage.DocumentReader
	accounts  storage.AccountStore
	store     storage.ComplianceStore
	evaluator *Evaluator
	filter    *filter.Filter
	journal   *wal.WAL
	logger    *telemetry.Logger
	pageSize  int
	now       func() time.Time
	newID     func() string
}

// NewRunner creates a runner.
func NewRunner(corpus storage.DocumentReader, accounts storage.AccountStore, store storage.ComplianceStore, evaluator *Evaluator, opts RunnerOptions) *Runner {
	r := &Runner{
		corpus:    corpus,
		accounts:  accounts,
		store:     store,
		evaluator: evaluator,
		filter:    opts.Filter,
		journal:   opts.Journal,
		logger:    opts.Logger,
		pageSize:  opts.PageSize,
		now:       opts.Now,
		newID:     opts.NewID,
	}
	if r.evaluator == nil {
		r.evaluator = NewEvaluator(nil, opts.Logger)
	}
	if r.filter == nil {
		r.filter = filter.Default()
	}
	if r.logger == nil {
		r.logger = telemetry.Nop()
	}
	if r.pageSize <= 0 {
		r.pageSize = storage.DefaultPageSize
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}
	return r
}

// evaluationStats is journaled with every evaluation.
type evaluationStats struct {
	EvaluationID string  `json:"evaluation_id,omitempty"`
	AccountID    string  `json:"account_id"`
	Framework    string  `json:"framework"`
	Rules        int     `json:"rules"`
	Passed       int     `json:"passed"`
	Failed       int     `json:"failed"`
	Resources    int     `json:"resources"`
	Score        float64 `json:"score"`
}

// Evaluate streams the account corpus once, feeding every enabled rule of
// the framework with the resources the filter accepts, then persists the
// evaluation.
func (r *Runner) Evaluate(ctx context.Context, accountIdentifier, framework string) (resource.Evaluation, error) {
	account, err := r.accounts.GetAccount(ctx, accountIdentifier)
	if err != nil {
		return resource.Evaluation{}, fmt.Errorf("resolve account %s: %w", accountIdentifier, err)
	}
	if err := r.requireFramework(ctx, framework); err != nil {
		return resource.Evaluation{}, err
	}

	ctx, span := telemetry.StartEvaluation(ctx, account.Identifier, framework)
	defer span.End()
	r.logger.LogRunStart(ctx, "evaluate", account.Identifier)

	startedAt := r.now().UTC()
	stats := evaluationStats{AccountID: account.ID, Framework: framework}

	rules, err := r.enabledRules(ctx, framework)
	if err != nil {
		span.Fail(err)
		r.journalAppend(ctx, wal.EntryRunFailed, account, stats, err)
		return resource.Evaluation{}, err
	}

	accs := make([]*accumulator, len(rules))
	for i, rule := range rules {
		accs[i] = newAccumulator(rule)
	}

	err = r.corpus.ScanDocuments(ctx, r.pageSize, func(doc document.Document) error {
		if !doc.InAccount(account.Identifier) {
			return nil
		}
		classified, err := classifier.Classify(doc)
		if err != nil {
			r.logger.LogDocumentSkipped(ctx, doc.Key, "malformed", err)
			return nil
		}
		if r.filter.Check(classified) != filter.Accepted {
			return nil
		}
		stats.Resources++

		c := NewCandidate(classified, doc, account.Identifier)
		for _, acc := range accs {
			r.evaluator.feed(ctx, acc, c)
		}
		return nil
	})
	if err != nil {
		err = fmt.Errorf("scan corpus of %s: %w", account.Identifier, err)
		span.Fail(err)
		r.journalAppend(ctx, wal.EntryRunFailed, account, stats, err)
		return resource.Evaluation{}, err
	}

	evaluation := resource.Evaluation{
		ID:         r.newID(),
		AccountID:  account.ID,
		Framework:  framework,
		StartedAt:  startedAt,
		TotalRules: len(rules),
		Results:    make([]resource.RuleResult, 0, len(rules)),
	}
	for _, acc := range accs {
		result := acc.result()
		if result.Passed {
			evaluation.PassedRules++
		} else {
			evaluation.FailedRules++
		}
		evaluation.Results = append(evaluation.Results, result)
		telemetry.RecordEvaluation(ctx, account.Identifier, framework, result.Passed)
	}
	evaluation.Score = Score(evaluation.PassedRules, evaluation.TotalRules)
	evaluation.CompletedAt = r.now().UTC()

	stats.EvaluationID = evaluation.ID
	stats.Rules = evaluation.TotalRules
	stats.Passed = evaluation.PassedRules
	stats.Failed = evaluation.FailedRules
	stats.Score = evaluation.Score

	if err := r.store.SaveEvaluation(ctx, evaluation); err != nil {
		err = fmt.Errorf("save evaluation of %s: %w", account.Identifier, err)
		span.Fail(err)
		r.logger.LogStorageError(ctx, "save_evaluation", err)
		r.journalAppend(ctx, wal.EntryRunFailed, account, stats, err)
		return resource.Evaluation{}, err
	}

	span.SetRuleCounts(evaluation.TotalRules, evaluation.PassedRules, evaluation.FailedRules, evaluation.Score)
	r.journalAppend(ctx, wal.EntryEvaluated, account, stats, nil)
	r.logger.WithContext(ctx).Info().
		Str("account", account.Identifier).
		Str("framework", framework).
		Int("rules", evaluation.TotalRules).
		Int("passed", evaluation.PassedRules).
		Float64("score", evaluation.Score).
		Msg("compliance evaluation completed")

	return evaluation, nil
}

// Latest returns the most recent evaluation of framework for the account.
func (r *Runner) Latest(ctx context.Context, accountIdentifier, framework string) (resource.Evaluation, error) {
	account, err := r.accounts.GetAccount(ctx, accountIdentifier)
	if err != nil {
		return resource.Evaluation{}, fmt.Errorf("resolve account %s: %w", accountIdentifier, err)
	}
	evaluation, err := r.store.LatestEvaluation(ctx, account.ID, framework)
	if err != nil {
		return resource.Evaluation{}, fmt.Errorf("read latest %s evaluation of %s: %w", framework, account.Identifier, err)
	}
	return evaluation, nil
}

func (r *Runner) requireFramework(ctx context.Context, name string) error {
	frameworks, err := r.store.ListFrameworks(ctx)
	if err != nil {
		return fmt.Errorf("list frameworks: %w", err)
	}
	for _, f := range frameworks {
		if f.Name == name {
			return nil
		}
	}
	return fmt.Errorf("framework %s: %w", name, storage.ErrNotFound)
}

func (r *Runner) enabledRules(ctx context.Context, framework string) ([]resource.Rule, error) {
	all, err := r.store.ListRules(ctx, framework)
	if err != nil {
		return nil, fmt.Errorf("load rules of %s: %w", framework, err)
	}
	rules := make([]resource.Rule, 0, len(all))
	for _, rule := range all {
		if rule.Enabled {
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

func (r *Runner) journalAppend(ctx context.Context, entryType wal.EntryType, account resource.Account, stats evaluationStats, runErr error) {
	if r.journal == nil {
		return
	}
	var err error
	if runErr != nil {
		err = r.journal.AppendError(entryType, account.Identifier, stats, runErr)
	} else {
		err = r.journal.Append(entryType, account.Identifier, stats)
	}
	if err != nil {
		r.logger.WithContext(ctx).Warn().Err(err).Str("entry", string(entryType)).Msg("failed to journal evaluation")
	}
}

// Score is passed/total as a percentage, 0 when there is nothing to score.
func Score(passed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(passed) / float64(total) * 100
}

// CategoryBreakdown groups rule results by category.
func CategoryBreakdown(evaluation resource.Evaluation) map[string]resource.CategoryScore {
	breakdown := make(map[string]resource.CategoryScore)
	for _, r := range evaluation.Results {
		cs := breakdown[r.Category]
		cs.Total++
		if r.Passed {
			cs.Passed++
		} else {
			cs.Failed++
		}
		breakdown[r.Category] = cs
	}
	for category, cs := range breakdown {
		cs.Score = Score(cs.Passed, cs.Total)
		breakdown[category] = cs
	}
	return breakdown
}
