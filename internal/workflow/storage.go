package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Record is the durable state of one deletion workflow. It is written to
// disk at every transition so a process restart loses nothing.
type Record struct {
	ID           string        `json:"id"`
	CredentialID string        `json:"credential_id"`
	State        State         `json:"state"`
	GracePeriod  time.Duration `json:"grace_period"`
	// ResumeAt is when the grace period elapses; meaningful in WAITING.
	ResumeAt  time.Time `json:"resume_at,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// LastError is the message that drove the workflow to FAILED.
	LastError string `json:"last_error,omitempty"`
}

// FileStorage persists workflow records as JSON files, one per workflow.
type FileStorage struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStorage creates file-backed workflow storage rooted at baseDir.
func NewFileStorage(baseDir string) *FileStorage {
	return &FileStorage{baseDir: baseDir}
}

// DefaultStorageDir returns where workflow records live by default.
func DefaultStorageDir() string {
	if testDir := os.Getenv("CREDROTATE_WORKFLOW_DIR"); testDir != "" {
		return testDir
	}
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "credrotate", "workflows")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "credrotate", "workflows")
	}
	return filepath.Join(os.TempDir(), "credrotate", "workflows")
}

// Save writes a record, stamping UpdatedAt.
func (fs *FileStorage) Save(record *Record) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.MkdirAll(fs.baseDir, 0700); err != nil {
		return fmt.Errorf("failed to create workflow directory: %w", err)
	}

	record.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workflow record: %w", err)
	}

	filename := filepath.Join(fs.baseDir, sanitizeFilename(record.ID)+".json")
	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write workflow record: %w", err)
	}
	return nil
}

// Load reads the record for a workflow id.
func (fs *FileStorage) Load(id string) (*Record, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	filename := filepath.Join(fs.baseDir, sanitizeFilename(id)+".json")
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no workflow found with id %q", id)
		}
		return nil, fmt.Errorf("failed to read workflow record: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow record: %w", err)
	}
	return &record, nil
}

// List returns all records, oldest first.
func (fs *FileStorage) List() ([]*Record, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	entries, err := os.ReadDir(fs.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read workflow directory: %w", err)
	}

	var records []*Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(fs.baseDir, entry.Name()))
		if err != nil {
			continue
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			continue
		}
		records = append(records, &record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "-",
		"?", "-",
		"\"", "-",
		"<", "-",
		">", "-",
		"|", "-",
		" ", "_",
	)
	return replacer.Replace(name)
}
