package wal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// outcomes are the entry types that record how a run ended. The newest
// outcome of each subject and type survives pruning.
var outcomes = map[EntryType]bool{
	EntryRunCompleted: true,
	EntryRunFailed:    true,
	EntryEvaluated:    true,
	EntryImported:     true,
}

// Retention decides which journal files Prune deletes.
type Retention struct {
	// MaxAge is how long a file lives after its last write.
	MaxAge time.Duration
	// KeepLastOutcome pins expired files holding the newest outcome of a
	// subject and entry type.
	KeepLastOutcome bool
	Now             func() time.Time
}

// RetentionDays keeps files for days and pins the last outcomes.
func RetentionDays(days int) Retention {
	return Retention{MaxAge: time.Duration(days) * 24 * time.Hour, KeepLastOutcome: true}
}

// PruneResult reports what Prune removed.
type PruneResult struct {
	FilesRemoved   int   `json:"files_removed"`
	FilesPinned    int   `json:"files_pinned"`
	EntriesRemoved int   `json:"entries_removed"`
	BytesFreed     int64 `json:"bytes_freed"`
}

type journalFile struct {
	path    string
	size    int64
	modTime time.Time
	entries int
}

type outcomeKey struct {
	subject string
	kind    EntryType
}

type outcomeRef struct {
	sequence int64
	path     string
}

// Prune deletes journal files older than the retention. A missing
// directory prunes nothing.
func Prune(dir string, policy Retention) (PruneResult, error) {
	var result PruneResult
	if policy.MaxAge <= 0 {
		return result, nil
	}
	now := time.Now
	if policy.Now != nil {
		now = policy.Now
	}
	cutoff := now().Add(-policy.MaxAge)

	paths, err := filepath.Glob(filepath.Join(dir, FilePrefix+"-*.wal"))
	if err != nil {
		return result, fmt.Errorf("failed to list WAL files: %w", err)
	}
	sort.Strings(paths)

	files := make([]journalFile, 0, len(paths))
	latest := make(map[outcomeKey]outcomeRef)
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return result, fmt.Errorf("failed to stat %s: %w", path, err)
		}
		file := journalFile{path: path, size: info.Size(), modTime: info.ModTime()}
		err = scanOutcomes(path, func(e *Entry) {
			file.entries++
			if !outcomes[e.Type] || e.Subject == "" {
				return
			}
			key := outcomeKey{subject: e.Subject, kind: e.Type}
			if ref, ok := latest[key]; !ok || e.Sequence > ref.sequence {
				latest[key] = outcomeRef{sequence: e.Sequence, path: path}
			}
		})
		if err != nil {
			return result, err
		}
		files = append(files, file)
	}

	pinned := make(map[string]bool)
	if policy.KeepLastOutcome {
		for _, ref := range latest {
			pinned[ref.path] = true
		}
	}

	for _, file := range files {
		if !file.modTime.Before(cutoff) {
			continue
		}
		if pinned[file.path] {
			result.FilesPinned++
			continue
		}
		if err := os.Remove(file.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return result, fmt.Errorf("failed to remove %s: %w", file.path, err)
		}
		result.FilesRemoved++
		result.EntriesRemoved += file.entries
		result.BytesFreed += file.size
	}
	return result, nil
}

func scanOutcomes(path string, visit func(*Entry)) error {
	reader, err := NewReader(path)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	for {
		entry, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		visit(entry)
	}
}
