package storage

import (
	"fmt"

	"github.com/yairfalse/warden/pkg/resource"
)

// validateAccount validates an Account before storage
func validateAccount(a resource.Account) error {
	if a.Identifier == "" {
		return fmt.Errorf("account identifier cannot be empty")
	}
	if a.Provider == "" {
		return fmt.Errorf("account provider cannot be empty")
	}
	return nil
}

// validateAsset validates a NormalizedAsset before storage
func validateAsset(accountID string, a resource.NormalizedAsset) error {
	if a.AccountID != accountID {
		return fmt.Errorf("asset %s belongs to account %q, not %q", a.ResourceID, a.AccountID, accountID)
	}
	if a.ResourceID == "" {
		return fmt.Errorf("asset resource_id cannot be empty")
	}
	if a.Kind == "" {
		return fmt.Errorf("asset %s kind cannot be empty", a.ResourceID)
	}
	if !a.Status.Valid() {
		return fmt.Errorf("asset %s has invalid status %q", a.ResourceID, a.Status)
	}
	return nil
}

// validateEvaluation validates an Evaluation before storage
func validateEvaluation(e resource.Evaluation) error {
	if e.ID == "" {
		return fmt.Errorf("evaluation id cannot be empty")
	}
	if e.AccountID == "" {
		return fmt.Errorf("evaluation account_id cannot be empty")
	}
	if e.Framework == "" {
		return fmt.Errorf("evaluation framework cannot be empty")
	}
	if e.Score < 0 || e.Score > 100 {
		return fmt.Errorf("evaluation score must be between 0 and 100, got %f", e.Score)
	}
	return nil
}
