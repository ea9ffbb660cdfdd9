// Package wal is an append-only JSONL journal of materialization,
// evaluation and import runs.
package wal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FilePrefix names journal files: warden-20240101-120000.wal
const FilePrefix = "warden"

// EntryType defines the type of journal entry
type EntryType string

const (
	EntryRunStarted   EntryType = "run_started"
	EntryRunCompleted EntryType = "run_completed"
	EntryRunFailed    EntryType = "run_failed"
	EntryEvaluated    EntryType = "evaluated"
	EntryImported     EntryType = "imported"
)

// Entry represents a single journal entry
type Entry struct {
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
	Type      EntryType       `json:"type"`
	Subject   string          `json:"subject,omitempty"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error,omitempty"`
}

// WAL appends entries to the current journal file
type WAL struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	sequence int64
	dir      string
}

// Open creates or opens a journal in the specified directory. The
// sequence continues from the entries already in dir.
func Open(dir string) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	filename := fmt.Sprintf("%s-%s.wal", FilePrefix, time.Now().Format("20060102-150405"))
	path := filepath.Join(dir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	w := &WAL{
		file:   file,
		writer: bufio.NewWriter(file),
		dir:    dir,
	}

	if err := w.loadSequence(); err != nil {
		_ = file.Close()
		return nil, err
	}

	return w, nil
}

// Close flushes and closes the WAL
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}

// Dir returns the journal directory
func (w *WAL) Dir() string {
	return w.dir
}

// Append adds an entry to the journal
func (w *WAL) Append(entryType EntryType, subject string, data any) error {
	return w.append(entryType, subject, data, nil)
}

// AppendError adds an entry carrying a failure
func (w *WAL) AppendError(entryType EntryType, subject string, data any, errToLog error) error {
	return w.append(entryType, subject, data, errToLog)
}

func (w *WAL) append(entryType EntryType, subject string, data any, errToLog error) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.sequence++
	entry := Entry{
		Timestamp: time.Now().UTC(),
		Sequence:  w.sequence,
		Type:      entryType,
		Subject:   subject,
		Data:      jsonData,
	}
	if errToLog != nil {
		entry.Error = errToLog.Error()
	}

	return w.writeEntry(entry)
}

// writeEntry writes a single entry to the WAL
func (w *WAL) writeEntry(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	if _, err := w.writer.Write(line); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}

	if _, err := w.writer.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	// Flush immediately for durability
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	return w.file.Sync()
}

// loadSequence resumes from the highest sequence found in dir
func (w *WAL) loadSequence() error {
	var last int64
	err := Replay(w.dir, time.Time{}, func(e *Entry) error {
		if e.Sequence > last {
			last = e.Sequence
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load sequence: %w", err)
	}
	w.sequence = last
	return nil
}

// Reader provides WAL replay functionality
type Reader struct {
	scanner *bufio.Scanner
	file    *os.File
}

// NewReader creates a WAL reader for the specified file
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	return &Reader{
		scanner: bufio.NewScanner(file),
		file:    file,
	}, nil
}

// Next reads the next entry from the WAL
func (r *Reader) Next() (*Entry, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	var entry Entry
	if err := json.Unmarshal(r.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}

	return &entry, nil
}

// Close closes the reader
func (r *Reader) Close() error {
	return r.file.Close()
}

// Replay streams entries newer than since, oldest file first
func Replay(dir string, since time.Time, handler func(*Entry) error) error {
	files, err := filepath.Glob(filepath.Join(dir, FilePrefix+"-*.wal"))
	if err != nil {
		return fmt.Errorf("failed to list WAL files: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		if err := replayFile(file, since, handler); err != nil {
			return err
		}
	}

	return nil
}

func replayFile(path string, since time.Time, handler func(*Entry) error) error {
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
			return err
		}

		if entry.Timestamp.After(since) {
			if err := handler(entry); err != nil {
				return err
			}
		}
	}
}

// Recent returns up to limit entries of the given types, newest first.
// No types means every type.
func Recent(dir string, limit int, types ...EntryType) ([]Entry, error) {
	wanted := make(map[EntryType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}

	var entries []Entry
	err := Replay(dir, time.Time{}, func(e *Entry) error {
		if len(wanted) == 0 || wanted[e.Type] {
			entries = append(entries, *e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Sequence > entries[j].Sequence })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
