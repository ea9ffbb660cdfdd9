package compliance

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/warden/internal/filter"
	"github.com/yairfalse/warden/pkg/document"
	"github.com/yairfalse/warden/pkg/resource"
	"github.com/yairfalse/warden/storage"
	"github.com/yairfalse/warden/wal"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store   *storage.BoltStore
	account resource.Account
	runner  *Runner
	journal *wal.WAL
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	journal, err := wal.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })

	account, err := store.PutAccount(context.Background(), resource.Account{Provider: resource.ProviderAWS, Identifier: "123456789012"})
	require.NoError(t, err)

	ids := 0
	runner := NewRunner(store, store, store, nil, RunnerOptions{
		PageSize: 3,
		Journal:  journal,
		Now:      func() time.Time { return t0 },
		NewID: func() string {
			ids++
			return fmt.Sprintf("eval-%d", ids)
		},
	})
	return &fixture{store: store, account: account, runner: runner, journal: journal}
}

func (f *fixture) put(t *testing.T, key, account, kind, reported string) {
	t.Helper()
	doc, err := document.Parse([]byte(fmt.Sprintf(
		`{"_key":%q,"account":%q,"kinds":["aws_resource",%q],"reported":%s}`, key, account, kind, reported)))
	require.NoError(t, err)
	_, err = f.store.PutDocument(context.Background(), doc, t0)
	require.NoError(t, err)
}

func (f *fixture) seed(t *testing.T, rules ...resource.Rule) {
	t.Helper()
	require.NoError(t, Seed(context.Background(), f.store, []Pack{{
		Framework: resource.Framework{Name: "SOC2", Enabled: true},
		Rules:     rules,
	}}))
}

func TestRunner_Evaluate(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 10; i++ {
		f.put(t, fmt.Sprintf("bucket-%d", i), "123456789012", "aws_s3_bucket",
			fmt.Sprintf(`{"name":"b%d","public":%t,"versioning":true}`, i, i < 2))
	}
	f.put(t, "other", "999999999999", "aws_s3_bucket", `{"name":"other","public":true}`)
	f.put(t, "broken", "123456789012", "aws_s3_bucket", `"not a map"`)

	public := resource.Rule{RuleID: "CC6.1", Category: "Access", ResourceType: "aws_s3_bucket",
		FieldPath: "reported.public", Operator: resource.OpEquals, Expected: document.Bool(false), Severity: "high", Enabled: true}
	versioning := resource.Rule{RuleID: "A1.2", Category: "Availability", ResourceType: "aws_s3_bucket",
		FieldPath: "reported.versioning", Operator: resource.OpIsTrue, Severity: "medium", Enabled: true}
	disabled := resource.Rule{RuleID: "CC8.1", Category: "Change", ResourceType: "any",
		FieldPath: "tags.owner", Operator: resource.OpIsNotNull, Severity: "low", Enabled: false}
	f.seed(t, public, versioning, disabled)

	evaluation, err := f.runner.Evaluate(context.Background(), "123456789012", "SOC2")
	require.NoError(t, err)

	assert.Equal(t, "eval-1", evaluation.ID)
	assert.Equal(t, f.account.ID, evaluation.AccountID)
	assert.Equal(t, 2, evaluation.TotalRules)
	assert.Equal(t, 1, evaluation.PassedRules)
	assert.Equal(t, 1, evaluation.FailedRules)
	assert.Equal(t, 50.0, evaluation.Score)

	byID := map[string]resource.RuleResult{}
	for _, r := range evaluation.Results {
		byID[r.RuleID] = r
	}
	assert.Len(t, byID["CC6.1"].FailedResources, 2)
	assert.Equal(t, 8, byID["CC6.1"].PassedResources())
	assert.True(t, byID["A1.2"].Passed)
	assert.Equal(t, 10, byID["A1.2"].ResourcesEvaluated)

	latest, err := f.runner.Latest(context.Background(), "123456789012", "SOC2")
	require.NoError(t, err)
	assert.Equal(t, evaluation.ID, latest.ID)

	entries, err := wal.Recent(f.journal.Dir(), 0, wal.EntryEvaluated)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRunner_EvaluatesOnlyInventoryResources(t *testing.T) {
	f := newFixture(t)
	f.put(t, "bucket", "123456789012", "aws_s3_bucket", `{"name":"logs","tags":{"owner":"ops"}}`)
	f.put(t, "snapshot", "123456789012", "aws_ec2_snapshot", `{"id":"snap-1","volume_id":"vol-1"}`)
	f.put(t, "region", "123456789012", "aws_region", `{"id":"us-east-1"}`)

	f.seed(t, resource.Rule{RuleID: "CC8.1", Category: "Change", ResourceType: "any",
		FieldPath: "tags.owner", Operator: resource.OpIsNotNull, Severity: "low", Enabled: true})

	evaluation, err := f.runner.Evaluate(context.Background(), "123456789012", "SOC2")
	require.NoError(t, err)
	require.Len(t, evaluation.Results, 1)

	result := evaluation.Results[0]
	assert.True(t, result.Passed)
	assert.Equal(t, 1, result.ResourcesEvaluated)
	assert.Empty(t, result.FailedResources)
	assert.Equal(t, 100.0, evaluation.Score)
}

func TestRunner_FilterOption(t *testing.T) {
	f := newFixture(t)
	f.put(t, "snapshot", "123456789012", "aws_ec2_snapshot", `{"id":"snap-1"}`)
	f.put(t, "bucket", "123456789012", "aws_s3_bucket", `{"name":"logs"}`)

	runner := NewRunner(f.store, f.store, f.store, nil, RunnerOptions{
		Filter: filter.New([]string{"aws_ec2_snapshot"}, nil, nil, nil),
		Now:    func() time.Time { return t0 },
	})
	f.seed(t, resource.Rule{RuleID: "CC8.1", Category: "Change", ResourceType: "any",
		FieldPath: "tags.owner", Operator: resource.OpIsNotNull, Severity: "low", Enabled: true})

	evaluation, err := runner.Evaluate(context.Background(), "123456789012", "SOC2")
	require.NoError(t, err)
	require.Len(t, evaluation.Results, 1)
	assert.Equal(t, 1, evaluation.Results[0].ResourcesEvaluated)
	require.Len(t, evaluation.Results[0].FailedResources, 1)
	assert.Equal(t, "snap-1", evaluation.Results[0].FailedResources[0].ID)
}

func TestRunner_EmptyCorpusPasses(t *testing.T) {
	f := newFixture(t)
	f.seed(t, resource.Rule{RuleID: "R1", Category: "Access", ResourceType: "aws_s3_bucket",
		FieldPath: "reported.public", Operator: resource.OpIsFalse, Severity: "high", Enabled: true})

	evaluation, err := f.runner.Evaluate(context.Background(), "123456789012", "SOC2")
	require.NoError(t, err)
	assert.Equal(t, 1, evaluation.PassedRules)
	assert.Equal(t, 100.0, evaluation.Score)
}

func TestRunner_NoRulesScoresZero(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	evaluation, err := f.runner.Evaluate(context.Background(), "123456789012", "SOC2")
	require.NoError(t, err)
	assert.Zero(t, evaluation.TotalRules)
	assert.Zero(t, evaluation.Score)
	assert.Empty(t, evaluation.Results)
}

func TestRunner_NotFound(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	_, err := f.runner.Evaluate(context.Background(), "000000000000", "SOC2")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = f.runner.Evaluate(context.Background(), "123456789012", "ISO27001")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = f.runner.Latest(context.Background(), "123456789012", "SOC2")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRunner_CancelledScanSavesNothing(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.put(t, fmt.Sprintf("bucket-%d", i), "123456789012", "aws_s3_bucket", `{"public":false}`)
	}
	f.seed(t, resource.Rule{RuleID: "R1", Category: "Access", ResourceType: "aws_s3_bucket",
		FieldPath: "reported.public", Operator: resource.OpIsFalse, Severity: "high", Enabled: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.runner.Evaluate(ctx, "123456789012", "SOC2")
	assert.ErrorIs(t, err, context.Canceled)

	_, err = f.runner.Latest(context.Background(), "123456789012", "SOC2")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCategoryBreakdown(t *testing.T) {
	evaluation := resource.Evaluation{Results: []resource.RuleResult{
		{RuleID: "a", Category: "Access", Passed: true},
		{RuleID: "b", Category: "Access", Passed: false},
		{RuleID: "c", Category: "Access", Passed: true},
		{RuleID: "d", Category: "Availability", Passed: true},
	}}

	breakdown := CategoryBreakdown(evaluation)
	require.Len(t, breakdown, 2)
	access := breakdown["Access"]
	assert.Equal(t, 3, access.Total)
	assert.Equal(t, 2, access.Passed)
	assert.Equal(t, 1, access.Failed)
	assert.InDelta(t, 66.67, access.Score, 0.01)
	assert.Equal(t, resource.CategoryScore{Total: 1, Passed: 1, Score: 100}, breakdown["Availability"])
	assert.Empty(t, CategoryBreakdown(resource.Evaluation{}))
}
