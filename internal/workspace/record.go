package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/animus-labs/loadrunner/internal/domain"
)

// OpenLog opens run.log in dir for appending, creating it if needed.
func OpenLog(dir string) (*os.File, error) {
	f, err := os.OpenFile(filepath.Join(dir, LogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	return f, nil
}

// MarkDone creates the empty DONE marker in dir.
func MarkDone(dir string) error {
	f, err := os.OpenFile(filepath.Join(dir, DoneFile), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("write done marker: %w", err)
	}
	return f.Close()
}

// WriteRecord replaces status.json in dir atomically.
func WriteRecord(dir string, record domain.RunRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	data = append(data, '\n')
	path := filepath.Join(dir, StatusFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write run record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename run record: %w", err)
	}
	return nil
}

// ReadRecord loads status.json for runID. A missing record returns os.ErrNotExist.
func (l Layout) ReadRecord(runID string) (domain.RunRecord, error) {
	dir, err := l.Dir(runID)
	if err != nil {
		return domain.RunRecord{}, err
	}
	raw, err := os.ReadFile(filepath.Join(dir, StatusFile))
	if err != nil {
		return domain.RunRecord{}, err
	}
	var record domain.RunRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return domain.RunRecord{}, fmt.Errorf("decode run record: %w", err)
	}
	return record, nil
}
