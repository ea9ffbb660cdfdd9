// Package sqlstore implements the relational store interfaces on
// PostgreSQL with gorm.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/yairfalse/warden/pkg/resource"
	"github.com/yairfalse/warden/storage"
)

// Database is a gorm backed storage.RelationalStore
type Database struct {
	orm *gorm.DB
}

func NewDatabase(orm *gorm.DB) Database {
	return Database{orm: orm}
}

// Open connects to PostgreSQL and migrates the schema
func Open(dsn string) (Database, error) {
	orm, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return Database{}, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := orm.DB()
	if err != nil {
		return Database{}, fmt.Errorf("failed to get sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	db := NewDatabase(orm)
	if err := db.Initialize(); err != nil {
		return Database{}, err
	}
	return db, nil
}

func (db Database) Initialize() error {
	err := db.orm.AutoMigrate(
		&Account{},
		&Asset{},
		&Framework{},
		&Rule{},
		&Evaluation{},
		&RuleResult{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	return nil
}

// Close closes the underlying connection pool
func (db Database) Close() error {
	sqlDB, err := db.orm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("failed to %s: %w: %w", op, storage.ErrSourceUnavailable, err)
}

func (db Database) GetAccount(ctx context.Context, identifier string) (resource.Account, error) {
	var rows []Account
	err := db.orm.WithContext(ctx).
		Where("identifier = ? OR id::text = ?", identifier, identifier).
		Order("provider").
		Find(&rows).Error
	if err != nil {
		return resource.Account{}, unavailable("read account", err)
	}
	candidates := make([]resource.Account, 0, len(rows))
	for _, row := range rows {
		candidates = append(candidates, row.toResource())
	}
	return storage.ResolveAccount(identifier, candidates)
}

func (db Database) PutAccount(ctx context.Context, account resource.Account) (resource.Account, error) {
	if account.Identifier == "" || account.Provider == "" {
		return resource.Account{}, fmt.Errorf("account provider and identifier cannot be empty")
	}
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	row := Account{
		ID:         account.ID,
		Provider:   string(account.Provider),
		Identifier: account.Identifier,
		Name:       account.Name,
		CreatedAt:  account.CreatedAt,
	}

	var stored Account
	err := db.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "identifier"}},
			DoUpdates: clause.AssignmentColumns([]string{"name"}),
		}).Create(&row).Error
		if err != nil {
			return err
		}
		return tx.Where("provider = ? AND identifier = ?", row.Provider, row.Identifier).First(&stored).Error
	})
	if err != nil {
		return resource.Account{}, unavailable("store account", err)
	}
	return stored.toResource(), nil
}

func (db Database) ListAccounts(ctx context.Context) ([]resource.Account, error) {
	var rows []Account
	if err := db.orm.WithContext(ctx).Order("provider, identifier").Find(&rows).Error; err != nil {
		return nil, unavailable("list accounts", err)
	}
	accounts := make([]resource.Account, 0, len(rows))
	for _, row := range rows {
		accounts = append(accounts, row.toResource())
	}
	return accounts, nil
}

// ReplaceAccountAssets deletes and re-inserts the account's assets in one
// transaction, serialized per account by an advisory lock.
func (db Database) ReplaceAccountAssets(ctx context.Context, accountID string, assets []resource.NormalizedAsset) error {
	rows := make([]Asset, 0, len(assets))
	seen := make(map[string]bool, len(assets))
	for _, a := range assets {
		if a.AccountID != accountID {
			return fmt.Errorf("asset %s belongs to account %q, not %q", a.ResourceID, a.AccountID, accountID)
		}
		if seen[a.UniqueKey()] {
			return fmt.Errorf("failed to replace assets of %s: %w: %s", accountID, storage.ErrDuplicateAsset, a.UniqueKey())
		}
		seen[a.UniqueKey()] = true

		row, err := assetFromResource(a)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	err := db.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", accountID).Error; err != nil {
			return err
		}
		if err := tx.Where("account_id = ?", accountID).Delete(&Asset{}).Error; err != nil {
			return err
		}
		if len(rows) > 0 {
			if err := tx.CreateInBatches(rows, 500).Error; err != nil {
				return err
			}
		}
		return ctx.Err()
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("failed to replace assets of %s: %w", accountID, err)
	default:
		return unavailable("replace assets of "+accountID, err)
	}
}

func (db Database) ListAssets(ctx context.Context, accountID string) ([]resource.NormalizedAsset, error) {
	var rows []Asset
	err := db.orm.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("service, kind, resource_id").
		Find(&rows).Error
	if err != nil {
		return nil, unavailable("list assets", err)
	}
	assets := make([]resource.NormalizedAsset, 0, len(rows))
	for _, row := range rows {
		assets = append(assets, row.toResource())
	}
	return assets, nil
}

func (db Database) CountByService(ctx context.Context, accountID string) ([]resource.ServiceCount, error) {
	var rows []resource.ServiceCount
	err := db.orm.WithContext(ctx).
		Model(&Asset{}).
		Select("service, kind, status, count(*) AS count").
		Where("account_id = ?", accountID).
		Group("service, kind, status").
		Order("service, kind, status").
		Scan(&rows).Error
	if err != nil {
		return nil, unavailable("count assets", err)
	}
	return rows, nil
}

func (db Database) PutFramework(ctx context.Context, framework resource.Framework) error {
	row := Framework{
		Name:        framework.Name,
		Version:     framework.Version,
		Description: framework.Description,
		Enabled:     framework.Enabled,
	}
	err := db.orm.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return unavailable("store framework", err)
	}
	return nil
}

func (db Database) ListFrameworks(ctx context.Context) ([]resource.Framework, error) {
	var rows []Framework
	if err := db.orm.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, unavailable("list frameworks", err)
	}
	frameworks := make([]resource.Framework, 0, len(rows))
	for _, row := range rows {
		frameworks = append(frameworks, resource.Framework{
			Name:        row.Name,
			Version:     row.Version,
			Description: row.Description,
			Enabled:     row.Enabled,
		})
	}
	return frameworks, nil
}

func (db Database) PutRules(ctx context.Context, framework string, rules []resource.Rule) error {
	rows := make([]Rule, 0, len(rules))
	for _, r := range rules {
		row, err := ruleFromResource(framework, r)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	err := db.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("framework = ?", framework).Delete(&Rule{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 200).Error
	})
	if err != nil {
		return unavailable("store rules", err)
	}
	return nil
}

func (db Database) ListRules(ctx context.Context, framework string) ([]resource.Rule, error) {
	var rows []Rule
	err := db.orm.WithContext(ctx).Where("framework = ?", framework).Order("rule_id").Find(&rows).Error
	if err != nil {
		return nil, unavailable("list rules", err)
	}
	rules := make([]resource.Rule, 0, len(rows))
	for _, row := range rows {
		rules = append(rules, row.toResource())
	}
	return rules, nil
}

func (db Database) SaveEvaluation(ctx context.Context, evaluation resource.Evaluation) error {
	results := make([]RuleResult, 0, len(evaluation.Results))
	for i, r := range evaluation.Results {
		row, err := resultFromResource(evaluation.ID, i, r)
		if err != nil {
			return err
		}
		results = append(results, row)
	}

	err := db.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := Evaluation{
			ID:          evaluation.ID,
			AccountID:   evaluation.AccountID,
			Framework:   evaluation.Framework,
			StartedAt:   evaluation.StartedAt,
			CompletedAt: evaluation.CompletedAt,
			TotalRules:  evaluation.TotalRules,
			PassedRules: evaluation.PassedRules,
			FailedRules: evaluation.FailedRules,
			Score:       evaluation.Score,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if len(results) == 0 {
			return nil
		}
		return tx.CreateInBatches(results, 200).Error
	})
	if err != nil {
		return unavailable("store evaluation", err)
	}
	return nil
}

func (db Database) LatestEvaluation(ctx context.Context, accountID, framework string) (resource.Evaluation, error) {
	var row Evaluation
	tx := db.orm.WithContext(ctx).
		Where("account_id = ? AND framework = ?", accountID, framework).
		Order("completed_at DESC").
		First(&row)
	if errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		return resource.Evaluation{}, fmt.Errorf("evaluation of %s for %s: %w", framework, accountID, storage.ErrNotFound)
	}
	if tx.Error != nil {
		return resource.Evaluation{}, unavailable("read evaluation", tx.Error)
	}

	var results []RuleResult
	if err := db.orm.WithContext(ctx).Where("evaluation_id = ?", row.ID).Find(&results).Error; err != nil {
		return resource.Evaluation{}, unavailable("read rule results", err)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Position < results[j].Position })

	evaluation := resource.Evaluation{
		ID:          row.ID,
		AccountID:   row.AccountID,
		Framework:   row.Framework,
		StartedAt:   row.StartedAt,
		CompletedAt: row.CompletedAt,
		TotalRules:  row.TotalRules,
		PassedRules: row.PassedRules,
		FailedRules: row.FailedRules,
		Score:       row.Score,
		Results:     make([]resource.RuleResult, 0, len(results)),
	}
	for _, r := range results {
		evaluation.Results = append(evaluation.Results, r.toResource())
	}
	return evaluation, nil
}

var _ storage.RelationalStore = Database{}
