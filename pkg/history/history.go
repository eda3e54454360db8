// Package history persists per-run records as JSON bundles on disk.
// Records are bookkeeping only: nothing reads them back during a run.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RunRecord captures run-level metadata.
type RunRecord struct {
	ID         string            `json:"id"`
	Pipeline   string            `json:"pipeline"`
	Owner      string            `json:"owner,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Succeeded  bool              `json:"succeeded"`
	States     map[string]string `json:"states"`
	Order      []string          `json:"order,omitempty"`
}

// TaskRecord captures how one task ended.
type TaskRecord struct {
	ID             string `json:"id"`
	State          string `json:"state"`
	Status         string `json:"status,omitempty"`
	Branch         string `json:"branch,omitempty"`
	Attempts       int    `json:"attempts"`
	DurationMillis int64  `json:"duration_ms"`
	Error          string `json:"error,omitempty"`
}

// Writer writes one run's records to baseDir/<runID>/.
type Writer struct {
	baseDir string
	runDir  string
}

// NewWriter creates a writer rooted at baseDir/runID.
func NewWriter(baseDir, runID string) (*Writer, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if runID == "" {
		return nil, fmt.Errorf("run ID is required")
	}

	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(filepath.Join(runDir, "tasks"), 0755); err != nil {
		return nil, err
	}
	return &Writer{baseDir: baseDir, runDir: runDir}, nil
}

// RunDir returns the run directory path.
func (w *Writer) RunDir() string {
	return w.runDir
}

// WriteRun writes run metadata to run.json.
func (w *Writer) WriteRun(record RunRecord) error {
	return writeJSON(filepath.Join(w.runDir, "run.json"), record)
}

// WriteTask writes a task record to tasks/<id>.json.
func (w *Writer) WriteTask(record TaskRecord) error {
	if record.ID == "" {
		return fmt.Errorf("task ID is required")
	}
	return writeJSON(filepath.Join(w.runDir, "tasks", record.ID+".json"), record)
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
