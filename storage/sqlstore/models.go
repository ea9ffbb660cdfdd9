package sqlstore

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/yairfalse/warden/pkg/document"
	"github.com/yairfalse/warden/pkg/resource"
)

type Account struct {
	ID         string    `gorm:"primaryKey;type:uuid"`
	Provider   string    `gorm:"not null;uniqueIndex:idx_account_provider_identifier"`
	Identifier string    `gorm:"not null;uniqueIndex:idx_account_provider_identifier"`
	Name       string    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

func (a Account) toResource() resource.Account {
	return resource.Account{
		ID:         a.ID,
		Provider:   resource.Provider(a.Provider),
		Identifier: a.Identifier,
		Name:       a.Name,
		CreatedAt:  a.CreatedAt,
	}
}

type Asset struct {
	AccountID   string `gorm:"primaryKey;type:uuid;uniqueIndex:idx_asset_unique,priority:1"`
	Service     string `gorm:"primaryKey;uniqueIndex:idx_asset_unique,priority:2"`
	Kind        string `gorm:"primaryKey;uniqueIndex:idx_asset_unique,priority:3"`
	ResourceID  string `gorm:"primaryKey;uniqueIndex:idx_asset_unique,priority:4"`
	Provider    string `gorm:"not null"`
	Name        string
	TypeLabel   string
	Status      string `gorm:"not null;check:status IN ('protected','unprotected','partial')"`
	Region      string
	LastBackup  *time.Time
	Tags        datatypes.JSON `gorm:"type:jsonb"`
	DocumentKey string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (Asset) TableName() string { return "assets" }

func assetFromResource(a resource.NormalizedAsset) (Asset, error) {
	tags, err := json.Marshal(a.Tags)
	if err != nil {
		return Asset{}, fmt.Errorf("failed to encode tags of %s: %w", a.ResourceID, err)
	}
	return Asset{
		AccountID:   a.AccountID,
		Service:     a.Service,
		Kind:        a.Kind,
		ResourceID:  a.ResourceID,
		Provider:    string(a.Provider),
		Name:        a.Name,
		TypeLabel:   a.TypeLabel,
		Status:      string(a.Status),
		Region:      a.Region,
		LastBackup:  a.LastBackup,
		Tags:        tags,
		DocumentKey: a.DocumentKey,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}, nil
}

func (a Asset) toResource() resource.NormalizedAsset {
	tags := map[string]string{}
	if len(a.Tags) > 0 {
		_ = json.Unmarshal(a.Tags, &tags)
	}
	return resource.NormalizedAsset{
		AccountID:   a.AccountID,
		Provider:    resource.Provider(a.Provider),
		Service:     a.Service,
		Kind:        a.Kind,
		ResourceID:  a.ResourceID,
		Name:        a.Name,
		TypeLabel:   a.TypeLabel,
		Status:      resource.Status(a.Status),
		Region:      a.Region,
		LastBackup:  a.LastBackup,
		Tags:        tags,
		DocumentKey: a.DocumentKey,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

type Framework struct {
	Name        string `gorm:"primaryKey"`
	Version     string
	Description string
	Enabled     bool
}

func (Framework) TableName() string { return "compliance_frameworks" }

type Rule struct {
	Framework    string `gorm:"primaryKey"`
	RuleID       string `gorm:"primaryKey"`
	Category     string `gorm:"not null"`
	Description  string
	ResourceType string `gorm:"not null"`
	FieldPath    string `gorm:"not null"`
	Operator     string `gorm:"not null"`
	Expected     datatypes.JSON `gorm:"type:jsonb"`
	Severity     string         `gorm:"not null"`
	Remediation  string
	Enabled      bool
}

func (Rule) TableName() string { return "compliance_rules" }

func ruleFromResource(framework string, r resource.Rule) (Rule, error) {
	expected, err := r.Expected.MarshalJSON()
	if err != nil {
		return Rule{}, fmt.Errorf("failed to encode expected value of %s: %w", r.RuleID, err)
	}
	return Rule{
		Framework:    framework,
		RuleID:       r.RuleID,
		Category:     r.Category,
		Description:  r.Description,
		ResourceType: r.ResourceType,
		FieldPath:    r.FieldPath,
		Operator:     string(r.Operator),
		Expected:     expected,
		Severity:     r.Severity,
		Remediation:  r.Remediation,
		Enabled:      r.Enabled,
	}, nil
}

func (r Rule) toResource() resource.Rule {
	var expected document.Value
	if len(r.Expected) > 0 {
		_ = expected.UnmarshalJSON(r.Expected)
	}
	return resource.Rule{
		Framework:    r.Framework,
		RuleID:       r.RuleID,
		Category:     r.Category,
		Description:  r.Description,
		ResourceType: r.ResourceType,
		FieldPath:    r.FieldPath,
		Operator:     resource.Operator(r.Operator),
		Expected:     expected,
		Severity:     r.Severity,
		Remediation:  r.Remediation,
		Enabled:      r.Enabled,
	}
}

type Evaluation struct {
	ID          string `gorm:"primaryKey;type:uuid"`
	AccountID   string `gorm:"type:uuid;not null;index:idx_evaluation_latest,priority:1"`
	Framework   string `gorm:"not null;index:idx_evaluation_latest,priority:2"`
	StartedAt   time.Time
	CompletedAt time.Time `gorm:"index:idx_evaluation_latest,priority:3"`
	TotalRules  int
	PassedRules int
	FailedRules int
	Score       float64
}

func (Evaluation) TableName() string { return "compliance_evaluations" }

type RuleResult struct {
	EvaluationID       string `gorm:"primaryKey;type:uuid"`
	RuleID             string `gorm:"primaryKey"`
	Position           int
	Category           string
	Severity           string
	Description        string
	Passed             bool
	ResourcesEvaluated int
	FailedResources    datatypes.JSON `gorm:"type:jsonb"`
	ErrorMessage       string
}

func (RuleResult) TableName() string { return "compliance_rule_results" }

func resultFromResource(evaluationID string, position int, r resource.RuleResult) (RuleResult, error) {
	failed, err := json.Marshal(r.FailedResources)
	if err != nil {
		return RuleResult{}, fmt.Errorf("failed to encode failed resources of %s: %w", r.RuleID, err)
	}
	return RuleResult{
		EvaluationID:       evaluationID,
		RuleID:             r.RuleID,
		Position:           position,
		Category:           r.Category,
		Severity:           r.Severity,
		Description:        r.Description,
		Passed:             r.Passed,
		ResourcesEvaluated: r.ResourcesEvaluated,
		FailedResources:    failed,
		ErrorMessage:       r.ErrorMessage,
	}, nil
}

func (r RuleResult) toResource() resource.RuleResult {
	var failed []resource.FailedResource
	if len(r.FailedResources) > 0 {
		_ = json.Unmarshal(r.FailedResources, &failed)
	}
	return resource.RuleResult{
		RuleID:             r.RuleID,
		Category:           r.Category,
		Severity:           r.Severity,
		Description:        r.Description,
		Passed:             r.Passed,
		ResourcesEvaluated: r.ResourcesEvaluated,
		FailedResources:    failed,
		ErrorMessage:       r.ErrorMessage,
	}
}
