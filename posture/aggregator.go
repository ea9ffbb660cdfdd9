// Package posture summarizes materialized assets into protection scores.
package posture

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/yairfalse/warden/pkg/resource"
	"github.com/yairfalse/warden/storage"
	"github.com/yairfalse/warden/telemetry"
)

// Overall is the account-wide protection score.
type Overall struct {
	Score       int `json:"recovery_score"`
	Protected   int `json:"protected"`
	Unprotected int `json:"unprotected"`
	Total       int `json:"total"`
}

// ServicePosture is the protection score of one service label.
type ServicePosture struct {
	Service        string  `json:"service"`
	Score          int     `json:"score"`
	Protected      int     `json:"protected"`
	Total          int     `json:"total"`
	ProtectionRate float64 `json:"protection_rate"`
}

// FrameworkView is protection coverage over a fixed set of services.
type FrameworkView struct {
	Name            string  `json:"name"`
	PassedControls  int     `json:"passed_controls"`
	TotalControls   int     `json:"total_controls"`
	CoveragePercent float64 `json:"compliance_percent"`
}

// CriticalIssue counts unprotected assets of one service.
type CriticalIssue struct {
	Service     string `json:"service"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Count       int    `json:"count"`
}

// Scorecard is the posture of one account.
type Scorecard struct {
	AccountID  string           `json:"account_id"`
	Overall    Overall          `json:"overall"`
	Services   []ServicePosture `json:"services"`
	Frameworks []FrameworkView  `json:"frameworks"`
	Issues     []CriticalIssue  `json:"issues"`
}

// InventorySummary counts an account's assets.
type InventorySummary struct {
	Assets    int     `json:"assets"`
	Protected int     `json:"protected"`
	Coverage  float64 `json:"coverage"`
}

// Inventory lists an account's assets.
type Inventory struct {
	Summary InventorySummary           `json:"summary"`
	Items   []resource.NormalizedAsset `json:"items"`
}

var frameworkViews = []struct {
	name     string
	services []string
}{
	{"Disaster Recovery", []string{"EC2", "EBS", "RDS", "S3"}},
	{"Business Continuity", []string{"EC2", "RDS", "S3"}},
	{"Data Protection", []string{"EBS", "RDS", "S3"}},
	{"Operational Resilience", []string{"EC2", "EBS", "RDS", "S3"}},
}

var criticalIssues = []CriticalIssue{
	{Service: "EC2", Title: "Production instances without backup policies", Description: "Data loss risk during failures"},
	{Service: "S3", Title: "Cross-region replication not configured", Description: "Regional failure vulnerability"},
	{Service: "RDS", Title: "Automated backups disabled", Description: "Database recovery impossible"},
	{Service: "EBS", Title: "Snapshot lifecycle policies missing", Description: "Inconsistent backup retention"},
}

var serviceLabels = map[string]string{
	"ec2":    "EC2",
	"ebs":    "EBS",
	"rds":    "RDS",
	"s3":     "S3",
	"lambda": "LAMBDA",
}

// ServiceLabel maps a (service, kind) pair to its scorecard label. Block
// volumes report under EBS although their service is ec2.
func ServiceLabel(service, kind string) string {
	if kind == "aws_ec2_volume" {
		return "EBS"
	}
	s := strings.ToLower(service)
	if s == "" {
		s = "unknown"
	}
	if label, ok := serviceLabels[s]; ok {
		return label
	}
	return strings.ToUpper(s)
}

// Aggregator reads materialized assets.
type Aggregator struct {
	accounts storage.AccountStore
	assets   storage.AssetStore
	logger   *telemetry.Logger
}

// NewAggregator creates an aggregator.
func NewAggregator(accounts storage.AccountStore, assets storage.AssetStore, logger *telemetry.Logger) *Aggregator {
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &Aggregator{accounts: accounts, assets: assets, logger: logger}
}

type tally struct {
	protected int
	total     int
}

// Scorecard builds the posture of an account from its grouped asset
// counts.
func (a *Aggregator) Scorecard(ctx context.Context, accountIdentifier string) (Scorecard, error) {
	account, err := a.accounts.GetAccount(ctx, accountIdentifier)
	if err != nil {
		return Scorecard{}, fmt.Errorf("resolve account %s: %w", accountIdentifier, err)
	}
	counts, err := a.assets.CountByService(ctx, account.ID)
	if err != nil {
		return Scorecard{}, fmt.Errorf("count assets of %s: %w", account.Identifier, err)
	}

	byService := make(map[string]tally)
	for _, c := range counts {
		label := ServiceLabel(c.Service, c.Kind)
		t := byService[label]
		t.total += c.Count
		if c.Status == resource.StatusProtected {
			t.protected += c.Count
		}
		byService[label] = t
	}

	card := Scorecard{
		AccountID:  account.ID,
		Services:   make([]ServicePosture, 0, len(byService)),
		Frameworks: make([]FrameworkView, 0, len(frameworkViews)),
		Issues:     make([]CriticalIssue, 0, len(criticalIssues)),
	}

	labels := make([]string, 0, len(byService))
	for label := range byService {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		t := byService[label]
		card.Overall.Total += t.total
		card.Overall.Protected += t.protected
		card.Services = append(card.Services, ServicePosture{
			Service:        label,
			Score:          percent(t.protected, t.total),
			Protected:      t.protected,
			Total:          t.total,
			ProtectionRate: rate(t.protected, t.total),
		})
	}
	card.Overall.Unprotected = card.Overall.Total - card.Overall.Protected
	card.Overall.Score = percent(card.Overall.Protected, card.Overall.Total)

	for _, view := range frameworkViews {
		var t tally
		for _, svc := range view.services {
			t.total += byService[svc].total
			t.protected += byService[svc].protected
		}
		card.Frameworks = append(card.Frameworks, FrameworkView{
			Name:            view.name,
			PassedControls:  t.protected,
			TotalControls:   t.total,
			CoveragePercent: rate(t.protected, t.total),
		})
	}

	for _, issue := range criticalIssues {
		t := byService[issue.Service]
		issue.Count = max(t.total-t.protected, 0)
		card.Issues = append(card.Issues, issue)
	}

	a.logger.WithContext(ctx).Debug().
		Str("account", account.Identifier).
		Int("score", card.Overall.Score).
		Int("assets", card.Overall.Total).
		Msg("scorecard built")

	return card, nil
}

// Inventory lists the account's assets with a protection summary.
func (a *Aggregator) Inventory(ctx context.Context, accountIdentifier string) (Inventory, error) {
	account, err := a.accounts.GetAccount(ctx, accountIdentifier)
	if err != nil {
		return Inventory{}, fmt.Errorf("resolve account %s: %w", accountIdentifier, err)
	}
	assets, err := a.assets.ListAssets(ctx, account.ID)
	if err != nil {
		return Inventory{}, fmt.Errorf("list assets of %s: %w", account.Identifier, err)
	}
	if assets == nil {
		assets = []resource.NormalizedAsset{}
	}

	inv := Inventory{Items: assets}
	inv.Summary.Assets = len(assets)
	for _, asset := range assets {
		if asset.Status == resource.StatusProtected {
			inv.Summary.Protected++
		}
	}
	if inv.Summary.Assets > 0 {
		inv.Summary.Coverage = float64(inv.Summary.Protected) / float64(inv.Summary.Assets)
	}
	return inv, nil
}

func rate(protected, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(protected) / float64(total) * 100
}

func percent(protected, total int) int {
	return int(math.Round(rate(protected, total)))
}
