package compliance

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/warden/pkg/document"
	"github.com/yairfalse/warden/pkg/resource"
	"github.com/yairfalse/warden/policy"
)

func candidate(t *testing.T, kind, id, reported string) Candidate {
	t.Helper()
	raw, err := document.Parse([]byte(fmt.Sprintf(`{"_key":%q,"kinds":[%q],"reported":%s}`, "k-"+id, kind, reported)))
	require.NoError(t, err)
	return NewCandidate(resource.ClassifiedResource{
		Provider:    resource.ProviderAWS,
		Service:     "s3",
		Kind:        kind,
		ResourceID:  id,
		Name:        id,
		Tags:        map[string]string{"owner": "platform"},
		DocumentKey: raw.Key,
	}, raw, "123456789012")
}

func rule(op resource.Operator, field string, expected document.Value) resource.Rule {
	return resource.Rule{
		RuleID:       "R1",
		Category:     "Security",
		ResourceType: "aws_s3_bucket",
		FieldPath:    field,
		Operator:     op,
		Expected:     expected,
		Severity:     "high",
		Enabled:      true,
	}
}

// Ten buckets, two public.
func TestEvaluateRule_PublicBuckets(t *testing.T) {
	e := NewEvaluator(nil, nil)

	var candidates []Candidate
	for i := 0; i < 10; i++ {
		public := i < 2
		candidates = append(candidates, candidate(t, "aws_s3_bucket", fmt.Sprintf("b%d", i), fmt.Sprintf(`{"public":%t}`, public)))
	}

	result := e.EvaluateRule(context.Background(), rule(resource.OpEquals, "reported.public", document.Bool(false)), candidates)

	assert.False(t, result.Passed)
	assert.Equal(t, 10, result.ResourcesEvaluated)
	require.Len(t, result.FailedResources, 2)
	assert.Equal(t, 8, result.PassedResources())
	assert.Equal(t, "b0", result.FailedResources[0].ID)
	assert.True(t, result.FailedResources[0].Actual.Equal(document.Bool(true)))
	assert.Equal(t, "reported.public", result.FailedResources[0].FieldPath)
	assert.Empty(t, result.ErrorMessage)
}

func TestEvaluateRule_NoCandidatesPass(t *testing.T) {
	e := NewEvaluator(nil, nil)

	result := e.EvaluateRule(context.Background(), rule(resource.OpIsTrue, "reported.versioning", document.Null()), nil)
	assert.True(t, result.Passed)
	assert.Zero(t, result.ResourcesEvaluated)
	assert.NotNil(t, result.FailedResources)

	// Candidates of other kinds are not evaluated
	volumes := []Candidate{candidate(t, "aws_ec2_volume", "vol-1", `{}`)}
	result = e.EvaluateRule(context.Background(), rule(resource.OpIsTrue, "reported.versioning", document.Null()), volumes)
	assert.True(t, result.Passed)
	assert.Zero(t, result.ResourcesEvaluated)
}

func TestEvaluateRule_AnyType(t *testing.T) {
	e := NewEvaluator(nil, nil)
	r := rule(resource.OpEquals, "tags.owner", document.Text("platform"))
	r.ResourceType = resource.ResourceTypeAny

	result := e.EvaluateRule(context.Background(), r, []Candidate{
		candidate(t, "aws_ec2_volume", "vol-1", `{}`),
		candidate(t, "aws_s3_bucket", "b1", `{}`),
	})
	assert.True(t, result.Passed)
	assert.Equal(t, 2, result.ResourcesEvaluated)
}

func TestEvaluateRule_Operators(t *testing.T) {
	e := NewEvaluator(nil, nil)

	tests := []struct {
		name     string
		op       resource.Operator
		field    string
		expected document.Value
		reported string
		pass     bool
	}{
		{"equals absent as null", resource.OpEquals, "reported.kms", document.Null(), `{}`, true},
		{"not equals", resource.OpNotEquals, "reported.acl", document.Text("public-read"), `{"acl":"private"}`, true},
		{"contains", resource.OpContains, "reported.policy", document.Text("aws:SecureTransport"), `{"policy":"Condition aws:SecureTransport"}`, true},
		{"contains on absent fails", resource.OpContains, "reported.policy", document.Text("x"), `{}`, false},
		{"not contains", resource.OpNotContains, "reported.acl", document.Text("public"), `{"acl":"private"}`, true},
		{"not contains on absent fails", resource.OpNotContains, "reported.acl", document.Text("public"), `{}`, false},
		{"greater than", resource.OpGreaterThan, "reported.retention", document.Number(6), `{"retention":7}`, true},
		{"greater than numeric string", resource.OpGreaterThan, "reported.retention", document.Text("6"), `{"retention":"14"}`, true},
		{"greater than on null fails", resource.OpGreaterThan, "reported.retention", document.Number(6), `{"retention":null}`, false},
		{"less than", resource.OpLessThan, "reported.age", document.Number(90), `{"age":30}`, true},
		{"less than on text fails", resource.OpLessThan, "reported.age", document.Number(90), `{"age":"old"}`, false},
		{"is true", resource.OpIsTrue, "reported.versioning", document.Null(), `{"versioning":true}`, true},
		{"is true on empty list", resource.OpIsTrue, "reported.rules", document.Null(), `{"rules":[]}`, false},
		{"is false on absent", resource.OpIsFalse, "reported.public", document.Null(), `{}`, true},
		{"is null on absent", resource.OpIsNull, "reported.kms_key_id", document.Null(), `{}`, true},
		{"is null on explicit null", resource.OpIsNull, "reported.kms_key_id", document.Null(), `{"kms_key_id":null}`, true},
		{"is not null", resource.OpIsNotNull, "reported.logging", document.Null(), `{"logging":{"target":"logs"}}`, true},
		{"is not null on null", resource.OpIsNotNull, "reported.logging", document.Null(), `{"logging":null}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := candidate(t, "aws_s3_bucket", "b1", tt.reported)
			result := e.EvaluateRule(context.Background(), rule(tt.op, tt.field, tt.expected), []Candidate{c})
			assert.Equal(t, tt.pass, result.Passed)
			assert.Empty(t, result.ErrorMessage)
		})
	}
}

func TestEvaluateRule_ConfigErrorsFailClosed(t *testing.T) {
	e := NewEvaluator(nil, nil)
	c := candidate(t, "aws_s3_bucket", "b1", `{"retention":30}`)

	tests := []struct {
		name string
		rule resource.Rule
	}{
		{"unknown operator", rule("matches", "reported.retention", document.Null())},
		{"non numeric threshold", rule(resource.OpGreaterThan, "reported.retention", document.Text("a week"))},
		{"rego without engine", rule(resource.OpRego, "reported.retention", document.Text("input.value > 7"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := e.EvaluateRule(context.Background(), tt.rule, []Candidate{c})
			assert.False(t, result.Passed)
			assert.Len(t, result.FailedResources, 1)
			assert.Contains(t, result.ErrorMessage, "rule R1")
		})
	}
}

func TestEvaluateRule_Rego(t *testing.T) {
	e := NewEvaluator(policy.NewEngine(nil), nil)
	candidates := []Candidate{
		candidate(t, "aws_s3_bucket", "b1", `{"retention":30}`),
		candidate(t, "aws_s3_bucket", "b2", `{"retention":3}`),
		candidate(t, "aws_s3_bucket", "b3", `{}`),
	}

	result := e.EvaluateRule(context.Background(),
		rule(resource.OpRego, "reported.retention", document.Text("input.value >= 7\ninput.resource.tags.owner == \"platform\"")),
		candidates)

	assert.False(t, result.Passed)
	assert.Equal(t, 3, result.ResourcesEvaluated)
	require.Len(t, result.FailedResources, 2)
	assert.Equal(t, "b2", result.FailedResources[0].ID)
	assert.Equal(t, "b3", result.FailedResources[1].ID)
	assert.Empty(t, result.ErrorMessage)

	broken := e.EvaluateRule(context.Background(), rule(resource.OpRego, "reported.retention", document.Text("input.value >=")), candidates[:1])
	assert.False(t, broken.Passed)
	assert.NotEmpty(t, broken.ErrorMessage)
}
