package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/yairfalse/warden/pkg/document"
)

// PutDocument imports a single document
func (s *BoltStore) PutDocument(ctx context.Context, doc document.Document, observedAt time.Time) (int64, error) {
	return s.PutDocuments(ctx, []document.Document{doc}, observedAt)
}

// PutDocuments imports documents atomically under one new revision. Each
// document replaces the current version and appends a history record.
func (s *BoltStore) PutDocuments(ctx context.Context, docs []document.Document, observedAt time.Time) (int64, error) {
	for _, doc := range docs {
		if doc.Key == "" {
			return 0, document.ErrMissingKey
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("import cancelled: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rev := s.currentRev + 1
	previousKinds := make(map[string][]string, len(docs))

	err := s.db.Update(func(tx *bbolt.Tx) error {
		current := tx.Bucket(bucketDocuments)
		history := tx.Bucket(bucketHistory)

		for _, doc := range docs {
			if old := current.Get([]byte(doc.Key)); old != nil {
				if prev, err := decodeDocument(old); err == nil {
					previousKinds[doc.Key] = prev.Kinds
				}
			}

			value, err := json.Marshal(doc)
			if err != nil {
				return fmt.Errorf("failed to encode document %s: %w", doc.Key, err)
			}
			if err := current.Put([]byte(doc.Key), value); err != nil {
				return err
			}

			record, err := json.Marshal(document.Revision{Revision: rev, ObservedAt: observedAt.UTC(), Document: doc})
			if err != nil {
				return fmt.Errorf("failed to encode revision of %s: %w", doc.Key, err)
			}
			if err := history.Put(makeHistoryKey(doc.Key, rev), record); err != nil {
				return err
			}
		}

		return tx.Bucket(bucketMeta).Put(keyCurrentRevision, []byte(strconv.FormatInt(rev, 10)))
	})
	if err != nil {
		return 0, unavailable("import documents", err)
	}

	s.currentRev = rev
	for _, doc := range docs {
		s.indexKinds(doc.Key, previousKinds[doc.Key], doc.Kinds)
	}

	return rev, nil
}

// GetDocument returns the current version of a document
func (s *BoltStore) GetDocument(ctx context.Context, key string) (document.Document, error) {
	var doc document.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDocuments).Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		var err error
		doc, err = decodeDocument(data)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return document.Document{}, fmt.Errorf("document %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return document.Document{}, unavailable("read document "+key, err)
	}
	return doc, nil
}

// ScanDocuments streams the corpus in key order. Each page is read in its
// own transaction and the cursor resumes after the last key of the
// previous page. ctx is checked between pages.
func (s *BoltStore) ScanDocuments(ctx context.Context, pageSize int, fn func(document.Document) error) error {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	var after []byte
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("scan cancelled: %w", err)
		}

		page, last, err := s.readPage(after, pageSize)
		if err != nil {
			return unavailable("scan documents", err)
		}

		for _, doc := range page {
			if err := fn(doc); err != nil {
				return err
			}
		}

		if len(page) < pageSize {
			return nil
		}
		after = last
	}
}

func (s *BoltStore) readPage(after []byte, pageSize int) ([]document.Document, []byte, error) {
	page := make([]document.Document, 0, pageSize)
	var last []byte

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketDocuments).Cursor()

		var k, v []byte
		if after == nil {
			k, v = c.First()
		} else {
			k, v = c.Seek(after)
			if k != nil && bytes.Equal(k, after) {
				k, v = c.Next()
			}
		}

		for ; k != nil && len(page) < pageSize; k, v = c.Next() {
			doc, err := decodeDocument(v)
			if err != nil {
				return fmt.Errorf("failed to decode document %q: %w", k, err)
			}
			page = append(page, doc)
			last = bytes.Clone(k)
		}
		return nil
	})

	return page, last, err
}

// QueryByKindPrefix streams documents carrying any kind that starts with
// prefix. Each document is visited once.
func (s *BoltStore) QueryByKindPrefix(ctx context.Context, prefix string, fn func(document.Document) error) error {
	s.mu.RLock()
	var keys []string
	seen := make(map[string]bool)
	s.kinds.AscendGreaterOrEqual(kindEntry{Kind: prefix}, func(e kindEntry) bool {
		if !strings.HasPrefix(e.Kind, prefix) {
			return false
		}
		if !seen[e.Key] {
			seen[e.Key] = true
			keys = append(keys, e.Key)
		}
		return true
	})
	s.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("query cancelled: %w", err)
	}

	docs := make([]document.Document, 0, len(keys))
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketDocuments)
		for _, key := range keys {
			data := bucket.Get([]byte(key))
			if data == nil {
				continue
			}
			doc, err := decodeDocument(data)
			if err != nil {
				return fmt.Errorf("failed to decode document %s: %w", key, err)
			}
			docs = append(docs, doc)
		}
		return nil
	})
	if err != nil {
		return unavailable("query kind "+prefix, err)
	}

	for _, doc := range docs {
		if err := fn(doc); err != nil {
			return err
		}
	}
	return nil
}

// EarliestHistory returns the oldest revision of a document. Revisions are
// ordered by their reported timestamp, falling back to the observed time;
// revisions without either sort last and ties go to the lower revision.
func (s *BoltStore) EarliestHistory(ctx context.Context, key string) (document.Revision, error) {
	var (
		earliest document.Revision
		found    bool
	)

	err := s.db.View(func(tx *bbolt.Tx) error {
		prefix := historyPrefix(key)
		c := tx.Bucket(bucketHistory).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			rev, err := decodeRevision(v)
			if err != nil {
				return err
			}
			if !found || Earlier(rev, earliest) {
				earliest = rev
				found = true
			}
		}
		return nil
	})
	if err != nil {
		return document.Revision{}, unavailable("read history of "+key, err)
	}
	if !found {
		return document.Revision{}, fmt.Errorf("history of %s: %w", key, ErrNotFound)
	}
	return earliest, nil
}

// RecentHistory returns up to limit revisions of a document, newest first.
// A limit of zero or less returns every revision.
func (s *BoltStore) RecentHistory(ctx context.Context, key string, limit int) ([]document.Revision, error) {
	var revisions []document.Revision

	err := s.db.View(func(tx *bbolt.Tx) error {
		prefix := historyPrefix(key)
		c := tx.Bucket(bucketHistory).Cursor()
		for k, v := lastWithPrefix(c, prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Prev() {
			if limit > 0 && len(revisions) >= limit {
				break
			}
			rev, err := decodeRevision(v)
			if err != nil {
				return err
			}
			revisions = append(revisions, rev)
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("read history of "+key, err)
	}
	if len(revisions) == 0 {
		return nil, fmt.Errorf("history of %s: %w", key, ErrNotFound)
	}
	return revisions, nil
}

// CompactHistory removes old revisions, keeping the newest keep revisions
// of each document plus its drift baseline. It returns the number of
// revisions removed.
func (s *BoltStore) CompactHistory(ctx context.Context, keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}

	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketHistory)

		type entry struct {
			key []byte
			rev document.Revision
		}
		groups := make(map[string][]entry)
		var order []string

		err := bucket.ForEach(func(k, v []byte) error {
			i := bytes.LastIndexByte(k, 0)
			if i < 0 {
				return nil
			}
			docKey := string(k[:i])
			rev, err := decodeRevision(v)
			if err != nil {
				return err
			}
			if _, ok := groups[docKey]; !ok {
				order = append(order, docKey)
			}
			groups[docKey] = append(groups[docKey], entry{key: bytes.Clone(k), rev: rev})
			return nil
		})
		if err != nil {
			return err
		}

		for _, docKey := range order {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("compaction cancelled: %w", err)
			}

			entries := groups[docKey]
			if len(entries) <= keep {
				continue
			}
			baseline := 0
			for i := range entries {
				if Earlier(entries[i].rev, entries[baseline].rev) {
					baseline = i
				}
			}
			for i := 0; i < len(entries)-keep; i++ {
				if i == baseline {
					continue
				}
				if err := bucket.Delete(entries[i].key); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, unavailable("compact history", err)
	}
	return removed, nil
}

// Earlier reports whether a sorts before b in baseline order.
func Earlier(a, b document.Revision) bool {
	ta, okA := a.Timestamp()
	tb, okB := b.Timestamp()
	switch {
	case okA && !okB:
		return true
	case !okA && okB:
		return false
	case okA && okB && !ta.Equal(tb):
		return ta.Before(tb)
	}
	return a.Revision < b.Revision
}

func decodeRevision(data []byte) (document.Revision, error) {
	var rev document.Revision
	if err := json.Unmarshal(data, &rev); err != nil {
		return document.Revision{}, fmt.Errorf("failed to decode revision: %w", err)
	}
	return rev, nil
}
