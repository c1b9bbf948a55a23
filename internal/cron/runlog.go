package cron

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// RunLog is the append-only per-job run history: one JSON line per scheduler
// action at <dir>/<jobID>.jsonl. Appends are sequential; reads tail the file
// and never touch the locked store.
type RunLog struct {
	dir string
	mu  sync.Mutex
}

func NewRunLog(dir string) *RunLog {
	return &RunLog{dir: dir}
}

func (l *RunLog) filePath(jobID string) string {
	// Job IDs are UUIDs, but legacy stores held caller-chosen IDs; keep the
	// filename safe either way.
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, jobID)
	return filepath.Join(l.dir, safe+".jsonl")
}

// Append writes one record to the job's log file.
func (l *RunLog) Append(rec RunRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("cron: create run log directory: %w", err)
	}
	f, err := os.OpenFile(l.filePath(rec.JobID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("cron: open run log: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(rec); err != nil {
		return fmt.Errorf("cron: append run record: %w", err)
	}
	return nil
}

// Runs returns the most recent limit records for a job, oldest first.
// A limit <= 0 returns the whole history. Unparseable lines are skipped.
func (l *RunLog) Runs(jobID string, limit int) ([]RunRecord, error) {
	f, err := os.Open(l.filePath(jobID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cron: open run log: %w", err)
	}
	defer f.Close()

	var records []RunRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec RunRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cron: read run log: %w", err)
	}
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}
