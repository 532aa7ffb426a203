// Package audit keeps an append-only trail of rotation and workflow
// outcomes. Entries carry identifiers only, never credential material.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one line of the trail.
type Entry struct {
	Timestamp    string `json:"timestamp"`
	Action       string `json:"action"`
	CredentialID string `json:"credential_id,omitempty"`
	Token        string `json:"token,omitempty"`
	WorkflowID   string `json:"workflow_id,omitempty"`
	Outcome      string `json:"outcome"`
	Detail       string `json:"detail,omitempty"`
}

// Trail appends JSON lines to a single log file.
type Trail struct {
	path string
	mu   sync.Mutex
}

// NewTrail creates a trail writing to the given file path.
func NewTrail(path string) *Trail {
	return &Trail{path: path}
}

// DefaultPath returns where the audit log lives by default.
func DefaultPath() string {
	if override := os.Getenv("CREDROTATE_AUDIT_LOG"); override != "" {
		return override
	}
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "credrotate", "audit.log")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "credrotate", "audit.log")
	}
	return filepath.Join(os.TempDir(), "credrotate", "audit.log")
}

// Record appends an entry, stamping the timestamp if unset.
func (t *Trail) Record(entry Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	if err := os.MkdirAll(filepath.Dir(t.path), 0700); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := fmt.Fprintf(f, "%s\n", data); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}
