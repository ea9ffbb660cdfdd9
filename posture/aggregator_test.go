package posture

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/warden/pkg/resource"
	"github.com/yairfalse/warden/storage"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetAccount(ctx context.Context, identifier string) (resource.Account, error) {
	args := m.Called(ctx, identifier)
	return args.Get(0).(resource.Account), args.Error(1)
}

func (m *mockStore) PutAccount(ctx context.Context, account resource.Account) (resource.Account, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(resource.Account), args.Error(1)
}

func (m *mockStore) ListAccounts(ctx context.Context) ([]resource.Account, error) {
	args := m.Called(ctx)
	return args.Get(0).([]resource.Account), args.Error(1)
}

func (m *mockStore) ReplaceAccountAssets(ctx context.Context, accountID string, assets []resource.NormalizedAsset) error {
	return m.Called(ctx, accountID, assets).Error(0)
}

func (m *mockStore) ListAssets(ctx context.Context, accountID string) ([]resource.NormalizedAsset, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).([]resource.NormalizedAsset), args.Error(1)
}

func (m *mockStore) CountByService(ctx context.Context, accountID string) ([]resource.ServiceCount, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).([]resource.ServiceCount), args.Error(1)
}

var account = resource.Account{ID: "acc-1", Provider: resource.ProviderAWS, Identifier: "123456789012"}

func newAggregator(t *testing.T) (*Aggregator, *mockStore) {
	t.Helper()
	store := &mockStore{}
	t.Cleanup(func() { store.AssertExpectations(t) })
	return NewAggregator(store, store, nil), store
}

func TestServiceLabel(t *testing.T) {
	tests := []struct {
		service, kind, want string
	}{
		{"ec2", "aws_ec2_volume", "EBS"},
		{"ec2", "aws_ec2_instance", "EC2"},
		{"ebs", "aws_ebs_volume", "EBS"},
		{"rds", "aws_rds_instance", "RDS"},
		{"s3", "aws_s3_bucket", "S3"},
		{"lambda", "aws_lambda_function", "LAMBDA"},
		{"dynamodb", "aws_dynamodb_table", "DYNAMODB"},
		{"", "aws_resource", "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ServiceLabel(tt.service, tt.kind), tt.kind)
	}
}

func TestScorecard(t *testing.T) {
	agg, store := newAggregator(t)
	store.On("GetAccount", mock.Anything, "123456789012").Return(account, nil)
	store.On("CountByService", mock.Anything, "acc-1").Return([]resource.ServiceCount{
		{Service: "ec2", Kind: "aws_ec2_instance", Status: resource.StatusProtected, Count: 1},
		{Service: "ec2", Kind: "aws_ec2_instance", Status: resource.StatusUnprotected, Count: 2},
		{Service: "ec2", Kind: "aws_ec2_volume", Status: resource.StatusProtected, Count: 3},
		{Service: "s3", Kind: "aws_s3_bucket", Status: resource.StatusUnprotected, Count: 1},
		{Service: "s3", Kind: "aws_s3_bucket", Status: resource.StatusPartial, Count: 1},
		{Service: "lambda", Kind: "aws_lambda_function", Status: resource.StatusProtected, Count: 2},
	}, nil)

	card, err := agg.Scorecard(context.Background(), "123456789012")
	require.NoError(t, err)

	assert.Equal(t, Overall{Score: 60, Protected: 6, Unprotected: 4, Total: 10}, card.Overall)

	require.Len(t, card.Services, 4)
	assert.Equal(t, []string{"EBS", "EC2", "LAMBDA", "S3"},
		[]string{card.Services[0].Service, card.Services[1].Service, card.Services[2].Service, card.Services[3].Service})
	assert.Equal(t, 100, card.Services[0].Score)
	assert.Equal(t, 33, card.Services[1].Score)
	assert.Equal(t, 0, card.Services[3].Score)

	require.Len(t, card.Frameworks, 4)
	dr := card.Frameworks[0]
	assert.Equal(t, "Disaster Recovery", dr.Name)
	assert.Equal(t, 4, dr.PassedControls)
	assert.Equal(t, 8, dr.TotalControls)
	assert.InDelta(t, 50.0, dr.CoveragePercent, 0.001)
	dp := card.Frameworks[2]
	assert.Equal(t, "Data Protection", dp.Name)
	assert.Equal(t, 3, dp.PassedControls)
	assert.Equal(t, 5, dp.TotalControls)

	issues := map[string]int{}
	for _, issue := range card.Issues {
		issues[issue.Service] = issue.Count
	}
	assert.Equal(t, map[string]int{"EC2": 2, "S3": 2, "RDS": 0, "EBS": 0}, issues)
	assert.Equal(t, "Production instances without backup policies", card.Issues[0].Title)
}

func TestScorecard_NoAssets(t *testing.T) {
	agg, store := newAggregator(t)
	store.On("GetAccount", mock.Anything, "123456789012").Return(account, nil)
	store.On("CountByService", mock.Anything, "acc-1").Return([]resource.ServiceCount{}, nil)

	card, err := agg.Scorecard(context.Background(), "123456789012")
	require.NoError(t, err)
	assert.Zero(t, card.Overall.Score)
	assert.Empty(t, card.Services)
	for _, view := range card.Frameworks {
		assert.Zero(t, view.CoveragePercent)
	}
	assert.Len(t, card.Issues, 4)
}

func TestScorecard_Errors(t *testing.T) {
	agg, store := newAggregator(t)
	store.On("GetAccount", mock.Anything, "missing").Return(resource.Account{}, storage.ErrNotFound)
	store.On("GetAccount", mock.Anything, "123456789012").Return(account, nil)
	store.On("CountByService", mock.Anything, "acc-1").Return([]resource.ServiceCount(nil), storage.ErrSourceUnavailable)

	_, err := agg.Scorecard(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = agg.Scorecard(context.Background(), "123456789012")
	assert.ErrorIs(t, err, storage.ErrSourceUnavailable)
}

func TestInventory(t *testing.T) {
	agg, store := newAggregator(t)
	store.On("GetAccount", mock.Anything, "123456789012").Return(account, nil)
	store.On("ListAssets", mock.Anything, "acc-1").Return([]resource.NormalizedAsset{
		{AccountID: "acc-1", ResourceID: "vol-1", Status: resource.StatusProtected},
		{AccountID: "acc-1", ResourceID: "vol-2", Status: resource.StatusUnprotected},
		{AccountID: "acc-1", ResourceID: "i-1", Status: resource.StatusProtected},
		{AccountID: "acc-1", ResourceID: "logs", Status: resource.StatusUnprotected},
	}, nil)

	inv, err := agg.Inventory(context.Background(), "123456789012")
	require.NoError(t, err)
	assert.Equal(t, InventorySummary{Assets: 4, Protected: 2, Coverage: 0.5}, inv.Summary)
	assert.Len(t, inv.Items, 4)
}

func TestInventory_Empty(t *testing.T) {
	agg, store := newAggregator(t)
	store.On("GetAccount", mock.Anything, "123456789012").Return(account, nil)
	store.On("ListAssets", mock.Anything, "acc-1").Return([]resource.NormalizedAsset(nil), nil)

	inv, err := agg.Inventory(context.Background(), "123456789012")
	require.NoError(t, err)
	assert.NotNil(t, inv.Items)
	assert.Zero(t, inv.Summary.Coverage)
}
