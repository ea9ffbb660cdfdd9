package emitter

import (
	"encoding/json"
	"maps"
	"sync"

	"github.com/yairfalse/warden/pkg/resource"
)

// DiffTracker keeps the last materialized asset set of every account and
// reports what changed between runs.
type DiffTracker struct {
	mu       sync.RWMutex
	previous map[string]map[string]resource.NormalizedAsset
}

// NewDiffTracker creates a new diff tracker.
func NewDiffTracker() *DiffTracker {
	return &DiffTracker{
		previous: make(map[string]map[string]resource.NormalizedAsset),
	}
}

// ComputeDiff compares current assets against the account's previous run.
// Returns nil on the first run of an account (baseline establishment).
// Returns an empty slice if no changes are detected.
func (d *DiffTracker) ComputeDiff(accountID string, current []resource.NormalizedAsset) []resource.AssetDiff {
	d.mu.RLock()
	defer d.mu.RUnlock()

	previous, ok := d.previous[accountID]
	if !ok {
		return nil
	}

	currentMap := indexAssets(current)
	diffs := make([]resource.AssetDiff, 0)
	diffs = append(diffs, findDeletedAndModified(previous, currentMap)...)
	diffs = append(diffs, findAdded(previous, currentMap)...)

	return diffs
}

func indexAssets(assets []resource.NormalizedAsset) map[string]resource.NormalizedAsset {
	m := make(map[string]resource.NormalizedAsset, len(assets))
	for _, a := range assets {
		m[a.UniqueKey()] = a
	}
	return m
}

func findDeletedAndModified(previous, currentMap map[string]resource.NormalizedAsset) []resource.AssetDiff {
	var diffs []resource.AssetDiff
	for key, prev := range previous {
		prevCopy := prev
		curr, exists := currentMap[key]
		if !exists {
			diffs = append(diffs, resource.AssetDiff{
				Type:     resource.DiffDeleted,
				Asset:    prev,
				Previous: &prevCopy,
			})
			continue
		}
		if changes := detectChanges(prev, curr); len(changes) > 0 {
			diffs = append(diffs, resource.AssetDiff{
				Type:     resource.DiffModified,
				Asset:    curr,
				Previous: &prevCopy,
				Changes:  changes,
			})
		}
	}
	return diffs
}

func findAdded(previous, currentMap map[string]resource.NormalizedAsset) []resource.AssetDiff {
	var diffs []resource.AssetDiff
	for key, curr := range currentMap {
		if _, exists := previous[key]; !exists {
			diffs = append(diffs, resource.AssetDiff{
				Type:  resource.DiffAdded,
				Asset: curr,
			})
		}
	}
	return diffs
}

// Update stores the account's assets as the baseline for the next run.
func (d *DiffTracker) Update(accountID string, current []resource.NormalizedAsset) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.previous[accountID] = indexAssets(current)
}

// detectChanges compares the derived fields of two assets.
// CreatedAt and UpdatedAt are excluded since every run rewrites them.
func detectChanges(prev, curr resource.NormalizedAsset) map[string]resource.Change {
	changes := make(map[string]resource.Change)

	if prev.Name != curr.Name {
		changes["name"] = resource.Change{Previous: prev.Name, Current: curr.Name}
	}

	if prev.Status != curr.Status {
		changes["status"] = resource.Change{Previous: string(prev.Status), Current: string(curr.Status)}
	}

	if prev.Region != curr.Region {
		changes["region"] = resource.Change{Previous: prev.Region, Current: curr.Region}
	}

	if formatBackup(prev) != formatBackup(curr) {
		changes["last_backup"] = resource.Change{Previous: formatBackup(prev), Current: formatBackup(curr)}
	}

	if !maps.Equal(prev.Tags, curr.Tags) {
		changes["tags"] = resource.Change{Previous: mapToJSON(prev.Tags), Current: mapToJSON(curr.Tags)}
	}

	return changes
}

func formatBackup(a resource.NormalizedAsset) string {
	if a.LastBackup == nil {
		return ""
	}
	return a.LastBackup.UTC().Format("2006-01-02T15:04:05Z")
}

// mapToJSON converts a map to a deterministic JSON string for comparison.
func mapToJSON(m map[string]string) string {
	if m == nil {
		return "{}"
	}
	b, _ := json.Marshal(m)
	return string(b)
}
