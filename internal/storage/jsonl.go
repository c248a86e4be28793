package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"exchangeCore/internal/model"
)

// JournalRecord is one processed-event outcome.
type JournalRecord struct {
	EventID      string          `json:"event_id"`
	Kind         model.EventKind `json:"kind"`
	Success      bool            `json:"success"`
	Duplicate    bool            `json:"duplicate,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ProcessedAt  time.Time       `json:"processed_at"`
}

func NewJournalRecord(r *model.Result) JournalRecord {
	return JournalRecord{
		EventID:      r.EventID,
		Kind:         r.Kind,
		Success:      r.Success,
		Duplicate:    r.Duplicate,
		ErrorMessage: r.ErrorMessage,
		ProcessedAt:  r.ProcessedAt,
	}
}

// JournalWriter appends event outcomes to a JSONL file.
type JournalWriter struct {
	path string
	mu   sync.Mutex
}

func NewJournalWriter(path string) *JournalWriter {
	return &JournalWriter{path: path}
}

// Append writes records as JSON lines.
func (j *JournalWriter) Append(records []JournalRecord) error {
	if len(records) == 0 {
		return nil
	}

	dir := filepath.Dir(j.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create journal dir: %w", err)
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal journal record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write journal record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}

	return nil
}
