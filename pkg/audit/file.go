package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileLog keeps the chain as JSON lines in one file opened for append.
type FileLog struct {
	mu      sync.Mutex
	path    string
	f       *os.File
	records []Record
	clock   func() time.Time
	logger  *slog.Logger
}

// OpenFile opens or creates the log at path and verifies the existing chain.
func OpenFile(path string) (*FileLog, error) {
	records, err := readLines(path)
	if err != nil {
		return nil, err
	}
	if err := VerifyChain(records); err != nil {
		return nil, fmt.Errorf("audit: %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: create dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	return &FileLog{
		path:    path,
		f:       f,
		records: records,
		clock:   time.Now,
		logger:  slog.Default().With("component", "audit", "backend", "file"),
	}, nil
}

// WithClock overrides the clock for testing.
func (l *FileLog) WithClock(clock func() time.Time) *FileLog {
	l.clock = clock
	return l
}

func readLines(path string) ([]Record, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var out []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("audit: %s line %d: %w", path, line, err)
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("audit: read %s: %w", path, err)
	}
	return out, nil
}

func (l *FileLog) head() string {
	if len(l.records) == 0 {
		return Genesis
	}
	return l.records[len(l.records)-1].RecordHash
}

func (l *FileLog) Append(_ context.Context, kind Kind, subject string, payload any) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, err := newRecord(uint64(len(l.records))+1, l.head(), l.clock(), kind, subject, payload)
	if err != nil {
		return Record{}, err
	}
	var line bytes.Buffer
	enc := json.NewEncoder(&line)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return Record{}, fmt.Errorf("audit: encode record: %w", err)
	}
	if _, err := l.f.Write(line.Bytes()); err != nil {
		return Record{}, fmt.Errorf("audit: write %s: %w", l.path, err)
	}
	if err := l.f.Sync(); err != nil {
		return Record{}, fmt.Errorf("audit: sync %s: %w", l.path, err)
	}
	l.records = append(l.records, r)
	l.logger.Debug("record appended", "record_id", r.RecordID, "kind", kind)
	return r, nil
}

func (l *FileLog) Read(_ context.Context, f Filter) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return filterRecords(l.records, f), nil
}

func (l *FileLog) Head(context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head(), nil
}

func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
