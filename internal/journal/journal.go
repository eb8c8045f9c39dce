package journal

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"github.com/nathanyu/subscriber-transfer/internal/domain"
)

// Journal is the durable, append-only record of account provisioning
// and transfers, stored as line-delimited JSON. Every append is synced
// before it is acknowledged, so a committed transfer survives a crash.
type Journal struct {
	filePath string
	file     *os.File
	mu       sync.Mutex
}

// Open opens (or creates) the journal file at the given path.
func Open(filePath string) (*Journal, error) {
	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}

	return &Journal{
		filePath: filePath,
		file:     file,
	}, nil
}

// Append writes a single entry and syncs it to disk.
func (j *Journal) Append(entry domain.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.write(entry); err != nil {
		return err
	}

	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal: %w", err)
	}
	return nil
}

// AppendBatch writes multiple entries with a single sync at the end.
func (j *Journal) AppendBatch(entries []domain.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, entry := range entries {
		if err := j.write(entry); err != nil {
			return err
		}
	}

	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal: %w", err)
	}
	return nil
}

// write serializes and appends one entry; caller must hold the lock.
func (j *Journal) write(entry domain.Entry) error {
	data, err := domain.MarshalEntry(entry)
	if err != nil {
		return fmt.Errorf("failed to serialize journal entry: %w", err)
	}

	data = append(data, '\n')
	if _, err := j.file.Write(data); err != nil {
		return fmt.Errorf("failed to write journal entry: %w", err)
	}
	return nil
}

// LoadAll reads every entry from the journal in append order.
func (j *Journal) LoadAll() ([]domain.Entry, error) {
	file, err := os.Open(j.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.Entry{}, nil
		}
		return nil, fmt.Errorf("failed to open journal for reading: %w", err)
	}
	defer file.Close()

	var entries []domain.Entry
	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		entry, err := domain.UnmarshalEntry(line)
		if err != nil {
			return nil, fmt.Errorf("failed to decode journal entry at line %d: %w", lineNum, err)
		}

		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading journal: %w", err)
	}

	return entries, nil
}

// Close closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file != nil {
		return j.file.Close()
	}
	return nil
}
