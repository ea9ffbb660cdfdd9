// Package storage holds the collaborator interfaces of the engine and an
// embedded bbolt implementation of all of them.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/yairfalse/warden/pkg/document"
)

// Bucket names in bbolt
var (
	bucketDocuments   = []byte("documents")
	bucketHistory     = []byte("history")
	bucketMeta        = []byte("meta")
	bucketAccounts    = []byte("accounts")
	bucketAssets      = []byte("assets")
	bucketFrameworks  = []byte("frameworks")
	bucketRules       = []byte("rules")
	bucketEvaluations = []byte("evaluations")

	keyCurrentRevision = []byte("current_revision")
)

// DefaultPageSize is the number of keys read per scan transaction.
const DefaultPageSize = 500

// BoltStore implements every store interface on one bbolt file
type BoltStore struct {
	mu sync.RWMutex

	// In-memory kind index for prefix queries
	kinds *btree.BTreeG[kindEntry]

	db *bbolt.DB

	currentRev int64

	dir string
}

// kindEntry is one (kind, document key) pair of the kind index.
type kindEntry struct {
	Kind string
	Key  string
}

func lessKindEntry(a, b kindEntry) bool {
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	return a.Key < b.Key
}

// NewBoltStore opens or creates warden.db in dir
func NewBoltStore(dir string) (*BoltStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bbolt.Open(filepath.Join(dir, "warden.db"), 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{
			bucketDocuments, bucketHistory, bucketMeta, bucketAccounts,
			bucketAssets, bucketFrameworks, bucketRules, bucketEvaluations,
		} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	s := &BoltStore{
		kinds: btree.NewG(32, lessKindEntry),
		db:    db,
		dir:   dir,
	}

	if err := s.loadRevision(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the storage
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// CurrentRevision returns the revision of the latest import
func (s *BoltStore) CurrentRevision() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentRev
}

// Stats returns the document count, current revision and file size
func (s *BoltStore) Stats() (documentCount int, currentRev int64, dbSizeBytes int64) {
	s.mu.RLock()
	currentRev = s.currentRev
	s.mu.RUnlock()

	_ = s.db.View(func(tx *bbolt.Tx) error {
		documentCount = tx.Bucket(bucketDocuments).Stats().KeyN
		dbSizeBytes = tx.Size()
		return nil
	})
	return documentCount, currentRev, dbSizeBytes
}

func (s *BoltStore) loadRevision() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(keyCurrentRevision)
		if data == nil {
			return nil
		}
		rev, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid current revision %q: %w", data, err)
		}
		s.currentRev = rev
		return nil
	})
}

// rebuildIndex loads the kind index from the documents bucket
func (s *BoltStore) rebuildIndex() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocuments).ForEach(func(k, v []byte) error {
			doc, err := decodeDocument(v)
			if err != nil {
				return fmt.Errorf("failed to rebuild kind index at %q: %w", k, err)
			}
			s.indexKinds(doc.Key, nil, doc.Kinds)
			return nil
		})
	})
}

// indexKinds replaces the kind entries of one document. Caller holds mu or
// has exclusive access.
func (s *BoltStore) indexKinds(key string, previous, current []string) {
	for _, kind := range previous {
		s.kinds.Delete(kindEntry{Kind: kind, Key: key})
	}
	for _, kind := range current {
		s.kinds.ReplaceOrInsert(kindEntry{Kind: kind, Key: key})
	}
}

func decodeDocument(data []byte) (document.Document, error) {
	var doc document.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document.Document{}, err
	}
	return doc, nil
}

// unavailable marks a backing store failure.
func unavailable(op string, err error) error {
	return fmt.Errorf("failed to %s: %w: %w", op, ErrSourceUnavailable, err)
}

func historyPrefix(key string) []byte {
	return append([]byte(key), 0)
}

func makeHistoryKey(key string, rev int64) []byte {
	return []byte(fmt.Sprintf("%s\x00%016d", key, rev))
}

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix []byte) []byte {
	bound := bytes.Clone(prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		if bound[i] < 0xff {
			bound[i]++
			return bound[:i+1]
		}
	}
	return nil
}

// lastWithPrefix positions c on the last key carrying prefix.
func lastWithPrefix(c *bbolt.Cursor, prefix []byte) ([]byte, []byte) {
	var k, v []byte
	if bound := upperBound(prefix); bound != nil {
		if k, _ = c.Seek(bound); k == nil {
			k, v = c.Last()
		} else {
			k, v = c.Prev()
		}
	} else {
		k, v = c.Last()
	}
	if k == nil || !bytes.HasPrefix(k, prefix) {
		return nil, nil
	}
	return k, v
}
