package resource

// DiffType represents the type of change between two materialization runs.
type DiffType string

const (
	// DiffAdded indicates a new asset was materialized.
	DiffAdded DiffType = "added"
	// DiffDeleted indicates an asset disappeared from the corpus.
	DiffDeleted DiffType = "deleted"
	// DiffModified indicates an asset's derived fields changed.
	DiffModified DiffType = "modified"
)

// Change represents a single field change.
// The field name is the map key in AssetDiff.Changes.
type Change struct {
	Previous string
	Current  string
}

// AssetDiff represents a detected change in an asset between runs.
type AssetDiff struct {
	Type     DiffType
	Asset    NormalizedAsset
	Previous *NormalizedAsset  // nil for added assets
	Changes  map[string]Change // field name → change details
}
