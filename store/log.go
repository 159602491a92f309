package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// ShardLog records which input shards have already been processed and how
// many rows each produced. It is an append-only text file, one
// "<name>\t<rows>" entry per line, loaded into memory on open.
//
// A truncated last line (crash mid-append) is ignored on the next open, so
// that shard is processed again.
type ShardLog struct {
	mu   sync.RWMutex
	path string
	file *os.File
	rows map[string]int
}

func OpenShardLog(path string) (*ShardLog, error) {
	if path == "" {
		return nil, fmt.Errorf("log path is required")
	}

	rows := make(map[string]int)
	partial := false
	if data, err := os.ReadFile(path); err == nil {
		lines := strings.Split(string(data), "\n")
		// The final element is empty unless the last append was cut short.
		partial = lines[len(lines)-1] != ""
		for _, line := range lines[:len(lines)-1] {
			name, n, ok := parseShardLine(line)
			if !ok {
				continue
			}
			rows[name] = n
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	if partial {
		if _, err := file.WriteString("\n"); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("terminate partial line: %w", err)
		}
	}

	return &ShardLog{path: path, file: file, rows: rows}, nil
}

func parseShardLine(line string) (string, int, bool) {
	name, count, ok := strings.Cut(strings.TrimSpace(line), "\t")
	if !ok || name == "" {
		return "", 0, false
	}
	n, err := strconv.Atoi(count)
	if err != nil || n < 0 {
		return "", 0, false
	}
	return name, n, true
}

func (l *ShardLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *ShardLog) Has(name string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.rows[name]
	return ok
}

// Rows is the row count recorded for name, 0 if it was never recorded.
func (l *ShardLog) Rows(name string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.rows[name]
}

// Count is the number of shards recorded.
func (l *ShardLog) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.rows)
}

// Add appends name and fsyncs. Re-adding a recorded shard is a no-op.
func (l *ShardLog) Add(name string, rows int) error {
	if name == "" || strings.ContainsAny(name, "\t\n") {
		return fmt.Errorf("invalid shard name %q", name)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.rows[name]; ok {
		return nil
	}
	if l.file == nil {
		return fmt.Errorf("log file is closed")
	}

	if _, err := fmt.Fprintf(l.file, "%s\t%d\n", name, rows); err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync log: %w", err)
	}

	l.rows[name] = rows
	return nil
}
