package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/yairfalse/warden/pkg/resource"
)

// ReplaceAccountAssets deletes every asset of the account and inserts the
// new set in one transaction. A duplicate uniqueness tuple or a cancelled
// ctx rolls the whole replace back.
func (s *BoltStore) ReplaceAccountAssets(ctx context.Context, accountID string, assets []resource.NormalizedAsset) error {
	for _, a := range assets {
		if err := validateAsset(accountID, a); err != nil {
			return err
		}
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketAssets)
		if err := root.DeleteBucket([]byte(accountID)); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		bucket, err := root.CreateBucket([]byte(accountID))
		if err != nil {
			return err
		}

		for _, a := range assets {
			key := makeAssetKey(a)
			if bucket.Get(key) != nil {
				return fmt.Errorf("%w: %s", ErrDuplicateAsset, a.UniqueKey())
			}
			value, err := json.Marshal(a)
			if err != nil {
				return err
			}
			if err := bucket.Put(key, value); err != nil {
				return err
			}
		}

		// Last chance to abort before commit
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("replace cancelled: %w", err)
		}
		return nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrDuplicateAsset), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("failed to replace assets of %s: %w", accountID, err)
	default:
		return unavailable("replace assets of "+accountID, err)
	}
}

// ListAssets returns the account's assets ordered by service, kind and
// resource id
func (s *BoltStore) ListAssets(ctx context.Context, accountID string) ([]resource.NormalizedAsset, error) {
	var assets []resource.NormalizedAsset
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketAssets).Bucket([]byte(accountID))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var a resource.NormalizedAsset
			if err := json.Unmarshal(v, &a); err != nil {
				return fmt.Errorf("failed to decode asset %q: %w", k, err)
			}
			assets = append(assets, a)
			return nil
		})
	})
	if err != nil {
		return nil, unavailable("list assets of "+accountID, err)
	}
	return assets, nil
}

// CountByService groups the account's assets by service, kind and status
func (s *BoltStore) CountByService(ctx context.Context, accountID string) ([]resource.ServiceCount, error) {
	assets, err := s.ListAssets(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return CountAssets(assets), nil
}

// CountAssets groups assets by (service, kind, status), ordered by the
// grouping key.
func CountAssets(assets []resource.NormalizedAsset) []resource.ServiceCount {
	type group struct {
		service, kind string
		status        resource.Status
	}
	counts := make(map[group]int)
	for _, a := range assets {
		counts[group{a.Service, a.Kind, a.Status}]++
	}

	rows := make([]resource.ServiceCount, 0, len(counts))
	for g, n := range counts {
		rows = append(rows, resource.ServiceCount{Service: g.service, Kind: g.kind, Status: g.status, Count: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Service != b.Service {
			return a.Service < b.Service
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Status < b.Status
	})
	return rows
}

func makeAssetKey(a resource.NormalizedAsset) []byte {
	return []byte(a.Service + "\x00" + a.Kind + "\x00" + a.ResourceID)
}
