package gate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Report is the machine-readable record of one gate run.
type Report struct {
	RunID         string         `json:"run_id"`
	PythonVersion string         `json:"python_version,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
	Succeeded     bool           `json:"succeeded"`
	Images        []*ImageReport `json:"images"`
}

// ImageReport is the per-image slice of a report. A target that never
// started (run cancelled by an earlier failure) has a nil slot.
type ImageReport struct {
	Ref           string        `json:"ref"`
	Digest        string        `json:"digest,omitempty"`
	Cached        bool          `json:"cached"`
	SizeBytes     int64         `json:"size_bytes,omitempty"`
	Size          string        `json:"size,omitempty"`
	WaitAttempts  int           `json:"wait_attempts,omitempty"`
	WaitElapsed   time.Duration `json:"wait_elapsed,omitempty"`
	PullElapsed   time.Duration `json:"pull_elapsed,omitempty"`
	Elapsed       time.Duration `json:"elapsed"`
	Verified      bool          `json:"verified"`
	SkippedVerify bool          `json:"skipped_verify,omitempty"`
	FailedStage   Stage         `json:"failed_stage,omitempty"`
	Error         string        `json:"error,omitempty"`
}

func (r *ImageReport) fail(stage Stage, err error) {
	r.FailedStage = stage
	r.Error = err.Error()
}

// WriteReport writes the report as JSON atomically (temp file + rename).
func WriteReport(path string, report *Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp report: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath) // cleanup
		return fmt.Errorf("rename report: %w", err)
	}

	return nil
}
