package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/yairfalse/warden/pkg/resource"
)

// PutFramework creates or updates a framework
func (s *BoltStore) PutFramework(ctx context.Context, framework resource.Framework) error {
	if framework.Name == "" {
		return fmt.Errorf("framework name cannot be empty")
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		value, err := json.Marshal(framework)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketFrameworks).Put([]byte(framework.Name), value)
	})
	if err != nil {
		return unavailable("store framework "+framework.Name, err)
	}
	return nil
}

// ListFrameworks returns every framework ordered by name
func (s *BoltStore) ListFrameworks(ctx context.Context) ([]resource.Framework, error) {
	var frameworks []resource.Framework
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFrameworks).ForEach(func(k, v []byte) error {
			var f resource.Framework
			if err := json.Unmarshal(v, &f); err != nil {
				return fmt.Errorf("failed to decode framework %s: %w", k, err)
			}
			frameworks = append(frameworks, f)
			return nil
		})
	})
	if err != nil {
		return nil, unavailable("list frameworks", err)
	}
	return frameworks, nil
}

// PutRules replaces the rule set of a framework
func (s *BoltStore) PutRules(ctx context.Context, framework string, rules []resource.Rule) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketRules)
		if err := root.DeleteBucket([]byte(framework)); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		bucket, err := root.CreateBucket([]byte(framework))
		if err != nil {
			return err
		}
		for _, rule := range rules {
			rule.Framework = framework
			value, err := json.Marshal(rule)
			if err != nil {
				return err
			}
			if err := bucket.Put([]byte(rule.RuleID), value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return unavailable("store rules of "+framework, err)
	}
	return nil
}

// ListRules returns a framework's rules ordered by rule id
func (s *BoltStore) ListRules(ctx context.Context, framework string) ([]resource.Rule, error) {
	var rules []resource.Rule
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRules).Bucket([]byte(framework))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var r resource.Rule
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("failed to decode rule %s: %w", k, err)
			}
			rules = append(rules, r)
			return nil
		})
	})
	if err != nil {
		return nil, unavailable("list rules of "+framework, err)
	}
	return rules, nil
}

// SaveEvaluation appends an evaluation with its rule results
func (s *BoltStore) SaveEvaluation(ctx context.Context, evaluation resource.Evaluation) error {
	if err := validateEvaluation(evaluation); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		value, err := json.Marshal(evaluation)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketEvaluations).Put(makeEvaluationKey(evaluation), value)
	})
	if err != nil {
		return unavailable("store evaluation "+evaluation.ID, err)
	}
	return nil
}

// LatestEvaluation returns the most recently completed evaluation of a
// framework for an account
func (s *BoltStore) LatestEvaluation(ctx context.Context, accountID, framework string) (resource.Evaluation, error) {
	var (
		evaluation resource.Evaluation
		found      bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketEvaluations).Cursor()
		_, v := lastWithPrefix(c, evaluationPrefix(accountID, framework))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &evaluation)
	})
	if err != nil {
		return resource.Evaluation{}, unavailable("read evaluations", err)
	}
	if !found {
		return resource.Evaluation{}, fmt.Errorf("evaluation of %s for %s: %w", framework, accountID, ErrNotFound)
	}
	return evaluation, nil
}

func evaluationPrefix(accountID, framework string) []byte {
	return []byte(accountID + "\x00" + framework + "\x00")
}

func makeEvaluationKey(e resource.Evaluation) []byte {
	return append(evaluationPrefix(e.AccountID, e.Framework),
		[]byte(fmt.Sprintf("%020d\x00%s", e.CompletedAt.UnixNano(), e.ID))...)
}
