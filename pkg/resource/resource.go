// Package resource defines the derived resource model for Warden.
package resource

import "time"

// Provider is the cloud a resource kind belongs to.
type Provider string

const (
	ProviderAWS     Provider = "aws"
	ProviderGCP     Provider = "gcp"
	ProviderUnknown Provider = "unknown"
)

// Status is the protection status of a resource.
type Status string

const (
	StatusProtected   Status = "protected"
	StatusUnprotected Status = "unprotected"
	// StatusPartial is accepted by the asset schema but never computed.
	StatusPartial Status = "partial"
)

// Valid reports whether s is a status the asset schema accepts.
func (s Status) Valid() bool {
	switch s {
	case StatusProtected, StatusUnprotected, StatusPartial:
		return true
	}
	return false
}

// ClassifiedResource is the typed view of one raw document.
// It is rebuilt on every pass and never stored directly.
type ClassifiedResource struct {
	Provider    Provider          `json:"provider"`
	Service     string            `json:"service"`
	Kind        string            `json:"kind"`
	ResourceID  string            `json:"resource_id"`
	Name        string            `json:"name"`
	Region      string            `json:"region,omitempty"`
	Tags        map[string]string `json:"tags"`
	DocumentKey string            `json:"document_key"`
}

// ProtectionSignal is the derived backup status of a resource.
type ProtectionSignal struct {
	Status     Status     `json:"status"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
}

// Account is a cloud account known to the relational store.
type Account struct {
	ID         string    `json:"id"`
	Provider   Provider  `json:"provider"`
	Identifier string    `json:"identifier"` // e.g. "123456789012"
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
}

// NormalizedAsset is one materialized row. (AccountID, Service, Kind,
// ResourceID) is unique.
type NormalizedAsset struct {
	AccountID   string            `json:"account_id"`
	Provider    Provider          `json:"provider"`
	Service     string            `json:"service"`
	Kind        string            `json:"kind"`
	ResourceID  string            `json:"resource_id"`
	Name        string            `json:"name"`
	TypeLabel   string            `json:"type"`
	Status      Status            `json:"status"`
	Region      string            `json:"region,omitempty"`
	LastBackup  *time.Time        `json:"last_backup,omitempty"`
	Tags        map[string]string `json:"tags"`
	DocumentKey string            `json:"document_key"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// UniqueKey returns the uniqueness tuple of the asset joined into one string.
func (a NormalizedAsset) UniqueKey() string {
	return AssetKey(a.AccountID, a.Service, a.Kind, a.ResourceID)
}

// AssetKey joins the asset uniqueness tuple.
func AssetKey(accountID, service, kind, resourceID string) string {
	return accountID + "|" + service + "|" + kind + "|" + resourceID
}

// ServiceCount is one row of the grouped asset count used for scoring.
type ServiceCount struct {
	Service string `json:"service"`
	Kind    string `json:"kind"`
	Status  Status `json:"status"`
	Count   int    `json:"count"`
}

// MaterializeResult holds the counts of one materialization run.
type MaterializeResult struct {
	Total       int `json:"total"`
	Protected   int `json:"protected"`
	Unprotected int `json:"unprotected"`
}

// RunReport is what a materialization run hands to emitters.
type RunReport struct {
	AccountID  string
	Identifier string
	Assets     []NormalizedAsset
	Result     MaterializeResult
	Duration   time.Duration
	Error      error
}
