package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssetKey(t *testing.T) {
	a := NormalizedAsset{
		AccountID:  "acct-1",
		Service:    "ec2",
		Kind:       "aws_ec2_instance",
		ResourceID: "i-abc123",
	}

	assert.Equal(t, "acct-1|ec2|aws_ec2_instance|i-abc123", a.UniqueKey())
}

func TestAssetKey_DifferentKinds(t *testing.T) {
	volume := NormalizedAsset{AccountID: "acct-1", Service: "ec2", Kind: "aws_ec2_volume", ResourceID: "shared"}
	instance := NormalizedAsset{AccountID: "acct-1", Service: "ec2", Kind: "aws_ec2_instance", ResourceID: "shared"}

	// Same id under different kinds are different assets
	assert.NotEqual(t, volume.UniqueKey(), instance.UniqueKey())
}

func TestDiffType_Constants(t *testing.T) {
	assert.Equal(t, DiffType("added"), DiffAdded)
	assert.Equal(t, DiffType("deleted"), DiffDeleted)
	assert.Equal(t, DiffType("modified"), DiffModified)
}

func TestStatus_Valid(t *testing.T) {
	assert.True(t, StatusProtected.Valid())
	assert.True(t, StatusUnprotected.Valid())
	assert.True(t, StatusPartial.Valid())
	assert.False(t, Status("maybe").Valid())
}

func TestSeverity_Rank(t *testing.T) {
	assert.Greater(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Greater(t, SeverityMedium.Rank(), SeverityLow.Rank())
	assert.Greater(t, SeverityLow.Rank(), SeverityNone.Rank())
}

func TestRuleResult_PassedResources(t *testing.T) {
	r := RuleResult{ResourcesEvaluated: 10, FailedResources: make([]FailedResource, 2)}
	assert.Equal(t, 8, r.PassedResources())
}
