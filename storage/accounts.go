package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/yairfalse/warden/pkg/resource"
)

// GetAccount resolves an account by its id, or by an external identifier
// unique across providers
func (s *BoltStore) GetAccount(ctx context.Context, identifier string) (resource.Account, error) {
	var candidates []resource.Account

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAccounts).ForEach(func(k, v []byte) error {
			var a resource.Account
			if err := json.Unmarshal(v, &a); err != nil {
				return fmt.Errorf("failed to decode account %s: %w", k, err)
			}
			if a.Identifier == identifier || a.ID == identifier {
				candidates = append(candidates, a)
			}
			return nil
		})
	})
	if err != nil {
		return resource.Account{}, unavailable("read accounts", err)
	}
	return ResolveAccount(identifier, candidates)
}

// PutAccount creates an account, or renames the existing account with the
// same provider and identifier
func (s *BoltStore) PutAccount(ctx context.Context, account resource.Account) (resource.Account, error) {
	if err := validateAccount(account); err != nil {
		return resource.Account{}, err
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketAccounts)

		errExists := errors.New("exists")
		err := bucket.ForEach(func(k, v []byte) error {
			var a resource.Account
			if err := json.Unmarshal(v, &a); err != nil {
				return fmt.Errorf("failed to decode account %s: %w", k, err)
			}
			if a.Provider == account.Provider && a.Identifier == account.Identifier {
				a.Name = account.Name
				account = a
				return errExists
			}
			return nil
		})
		if err != nil && !errors.Is(err, errExists) {
			return err
		}
		if err == nil {
			if account.ID == "" {
				account.ID = uuid.NewString()
			}
			if account.CreatedAt.IsZero() {
				account.CreatedAt = time.Now().UTC()
			}
		}

		value, err := json.Marshal(account)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(account.ID), value)
	})
	if err != nil {
		return resource.Account{}, unavailable("store account", err)
	}
	return account, nil
}

// ListAccounts returns every account ordered by identifier
func (s *BoltStore) ListAccounts(ctx context.Context) ([]resource.Account, error) {
	var accounts []resource.Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAccounts).ForEach(func(k, v []byte) error {
			var a resource.Account
			if err := json.Unmarshal(v, &a); err != nil {
				return fmt.Errorf("failed to decode account %s: %w", k, err)
			}
			accounts = append(accounts, a)
			return nil
		})
	})
	if err != nil {
		return nil, unavailable("list accounts", err)
	}

	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].Provider != accounts[j].Provider {
			return accounts[i].Provider < accounts[j].Provider
		}
		return accounts[i].Identifier < accounts[j].Identifier
	})
	return accounts, nil
}
