package emitter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/warden/pkg/resource"
)

func makeAsset(id string, status resource.Status, tags map[string]string) resource.NormalizedAsset {
	return resource.NormalizedAsset{
		AccountID:  "acc-1",
		Provider:   resource.ProviderAWS,
		Service:    "ec2",
		Kind:       "aws_ec2_volume",
		ResourceID: id,
		Name:       "test-" + id,
		Status:     status,
		Region:     "us-east-1",
		Tags:       tags,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
}

func TestDiffTracker_FirstRun(t *testing.T) {
	tracker := NewDiffTracker()
	assets := []resource.NormalizedAsset{
		makeAsset("vol-1", resource.StatusProtected, nil),
		makeAsset("vol-2", resource.StatusUnprotected, nil),
	}

	assert.Nil(t, tracker.ComputeDiff("acc-1", assets), "first run should return nil")
	tracker.Update("acc-1", assets)

	// Baselines are per account
	assert.Nil(t, tracker.ComputeDiff("acc-2", assets))
}

func TestDiffTracker_NoChanges(t *testing.T) {
	tracker := NewDiffTracker()
	assets := []resource.NormalizedAsset{makeAsset("vol-1", resource.StatusProtected, nil)}
	tracker.Update("acc-1", assets)

	// Audit timestamps differ on every run and are ignored
	rerun := []resource.NormalizedAsset{makeAsset("vol-1", resource.StatusProtected, nil)}
	rerun[0].UpdatedAt = rerun[0].UpdatedAt.Add(time.Hour)

	diffs := tracker.ComputeDiff("acc-1", rerun)
	require.NotNil(t, diffs)
	assert.Empty(t, diffs)
}

func TestDiffTracker_AddedAndDeleted(t *testing.T) {
	tracker := NewDiffTracker()
	tracker.Update("acc-1", []resource.NormalizedAsset{makeAsset("vol-1", resource.StatusProtected, nil)})

	diffs := tracker.ComputeDiff("acc-1", []resource.NormalizedAsset{makeAsset("vol-2", resource.StatusProtected, nil)})
	require.Len(t, diffs, 2)

	byType := map[resource.DiffType]resource.AssetDiff{}
	for _, d := range diffs {
		byType[d.Type] = d
	}
	assert.Equal(t, "vol-1", byType[resource.DiffDeleted].Asset.ResourceID)
	require.NotNil(t, byType[resource.DiffDeleted].Previous)
	assert.Equal(t, "vol-2", byType[resource.DiffAdded].Asset.ResourceID)
	assert.Nil(t, byType[resource.DiffAdded].Previous)
}

func TestDiffTracker_StatusChanged(t *testing.T) {
	tracker := NewDiffTracker()
	tracker.Update("acc-1", []resource.NormalizedAsset{makeAsset("vol-1", resource.StatusUnprotected, nil)})

	diffs := tracker.ComputeDiff("acc-1", []resource.NormalizedAsset{makeAsset("vol-1", resource.StatusProtected, nil)})
	require.Len(t, diffs, 1)
	assert.Equal(t, resource.DiffModified, diffs[0].Type)
	assert.Equal(t, resource.Change{Previous: "unprotected", Current: "protected"}, diffs[0].Changes["status"])
}

func TestDiffTracker_BackupAndTagsChanged(t *testing.T) {
	tracker := NewDiffTracker()
	tracker.Update("acc-1", []resource.NormalizedAsset{makeAsset("vol-1", resource.StatusProtected, map[string]string{"env": "dev"})})

	backup := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	next := makeAsset("vol-1", resource.StatusProtected, map[string]string{"env": "prod"})
	next.LastBackup = &backup

	diffs := tracker.ComputeDiff("acc-1", []resource.NormalizedAsset{next})
	require.Len(t, diffs, 1)
	assert.Len(t, diffs[0].Changes, 2)
	assert.Equal(t, "2024-03-01T10:00:00Z", diffs[0].Changes["last_backup"].Current)
	assert.Equal(t, `{"env":"prod"}`, diffs[0].Changes["tags"].Current)
}

func TestMapToJSON(t *testing.T) {
	assert.Equal(t, "{}", mapToJSON(nil))
	assert.Equal(t, `{"a":"1","b":"2"}`, mapToJSON(map[string]string{"b": "2", "a": "1"}))
}
