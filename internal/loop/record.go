// Package loop drives the agent through retry, restart and watch cycles.
package loop

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const recordPrefix = "cycle-"

// CycleRecord is the audit record written for every finished restart cycle.
type CycleRecord struct {
	// ID is the unique identifier for this cycle.
	ID string `json:"id"`

	// Backend names the agent that ran the cycle.
	Backend string `json:"backend"`

	// Target is the issue or pull request the cycle worked on.
	Target string `json:"target,omitempty"`

	// WorkDir is the working copy the agent ran in.
	WorkDir string `json:"work_dir,omitempty"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	// Outcome is the final result of the cycle.
	Outcome Outcome `json:"outcome"`

	// Reason explains failures.
	Reason string `json:"reason,omitempty"`

	// Iterations is the number of executions the cycle used.
	Iterations int `json:"iterations"`

	// SessionIDs lists the agent sessions in order; the last one is resumable.
	SessionIDs []string `json:"session_ids,omitempty"`

	// Retries is the number of overload backoffs across the cycle.
	Retries int `json:"retries,omitempty"`

	UncommittedChangesDetected bool `json:"uncommitted_changes_detected,omitempty"`
	FeedbackDetected           bool `json:"feedback_detected,omitempty"`

	// CommitHash is set when the controller committed leftover changes itself.
	CommitHash string `json:"commit_hash,omitempty"`

	// TotalCostUSD sums the agent-reported cost of every session.
	TotalCostUSD float64 `json:"total_cost_usd,omitempty"`
}

// NewCycleRecord creates a record with a fresh ID.
func NewCycleRecord(backend string, start time.Time) *CycleRecord {
	return &CycleRecord{
		ID:        GenerateCycleID(),
		Backend:   backend,
		StartTime: start,
	}
}

// Duration returns the duration of the cycle.
func (r *CycleRecord) Duration() time.Duration {
	if r.StartTime.IsZero() || r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// LastSessionID returns the most recent session id, or "".
func (r *CycleRecord) LastSessionID() string {
	if len(r.SessionIDs) == 0 {
		return ""
	}
	return r.SessionIDs[len(r.SessionIDs)-1]
}

// GenerateCycleID generates a short unique cycle ID.
func GenerateCycleID() string {
	return uuid.New().String()[:8]
}

// SaveRecord writes a cycle record to dir and returns its path.
func SaveRecord(dir string, record *CycleRecord) (string, error) {
	if record == nil {
		return "", errors.New("record cannot be nil")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create records directory: %w", err)
	}

	path := filepath.Join(dir, recordPrefix+record.ID+".json")

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write record: %w", err)
	}

	return path, nil
}

// LoadRecord loads a cycle record from a file. A record with an unknown
// outcome is rejected.
func LoadRecord(path string) (*CycleRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}

	var record CycleRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	if !record.Outcome.IsValid() {
		return nil, fmt.Errorf("record %s has unknown outcome %q", filepath.Base(path), record.Outcome)
	}

	return &record, nil
}

// ListRecords loads every cycle record in dir, newest first.
// A missing directory yields no records.
func ListRecords(dir string) ([]*CycleRecord, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read records directory: %w", err)
	}

	var records []*CycleRecord
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, recordPrefix) || filepath.Ext(name) != ".json" {
			continue
		}
		record, err := LoadRecord(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].StartTime.After(records[j].StartTime)
	})

	return records, nil
}
