// pkg/pipeline/report.go
package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/David-Botos/engagement-pipeline/pkg/store"
)

// State is the run lifecycle: PENDING -> RUNNING -> SUCCEEDED | FAILED
type State string

const (
	StatePending   State = "PENDING"
	StateRunning   State = "RUNNING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
)

// StageResult records one executed stage
type StageResult struct {
	Name      string
	Success   bool
	StartTime time.Time
	Duration  time.Duration
	// Non-fatal problems recovered inside the stage, by category
	Warnings map[ErrorCategory]int
}

// RunReport is the structured outcome of one pipeline run
type RunReport struct {
	RunID       string
	Status      State
	Stage       string // stage currently executing while RUNNING
	StartedAt   time.Time
	EndedAt     time.Time
	Duration    time.Duration
	FailedStage string
	Category    ErrorCategory
	Cause       error
	Stages      []StageResult

	RowsLoaded         int64
	PredictionsWritten int
	LogLocation        string
}

// NewRunReport creates a PENDING report with a fresh run id
func NewRunReport() *RunReport {
	return &RunReport{
		RunID:  uuid.New().String(),
		Status: StatePending,
	}
}

func (r *RunReport) start(now time.Time) {
	r.Status = StateRunning
	r.StartedAt = now
}

func (r *RunReport) enterStage(name string) {
	r.Stage = name
}

func (r *RunReport) addStage(result StageResult) {
	r.Stages = append(r.Stages, result)
}

func (r *RunReport) succeed(now time.Time) {
	r.Status = StateSucceeded
	r.Stage = ""
	r.complete(now)
}

func (r *RunReport) fail(now time.Time, se *StageError) {
	r.Status = StateFailed
	r.Stage = ""
	r.FailedStage = se.Stage
	r.Category = se.Category
	r.Cause = se.Err
	r.complete(now)
}

func (r *RunReport) complete(now time.Time) {
	r.EndedAt = now
	if r.StartedAt.IsZero() {
		r.StartedAt = now
	}
	r.Duration = r.EndedAt.Sub(r.StartedAt)
}

// Succeeded reports whether the run reached SUCCEEDED
func (r *RunReport) Succeeded() bool {
	return r.Status == StateSucceeded
}

// ExitCode is the process exit status for the run
func (r *RunReport) ExitCode() int {
	if r.Succeeded() {
		return 0
	}
	return 1
}

// Subject is the notification subject line
func (r *RunReport) Subject() string {
	return fmt.Sprintf("ETL Pipeline %s", r.Status)
}

// Message renders the plain-text report body
func (r *RunReport) Message() string {
	lines := []string{
		"ETL Pipeline Report",
		"===================",
		fmt.Sprintf("Status: %s", r.Status),
		fmt.Sprintf("Start Time: %s", r.StartedAt.Format("2006-01-02 15:04:05")),
		fmt.Sprintf("Duration: %s", formatDuration(r.Duration)),
	}

	if r.Succeeded() {
		lines = append(lines, "All stages completed successfully.")
	} else {
		failure := r.FailedStage
		if failure == "" {
			failure = "N/A"
		}
		lines = append(lines, fmt.Sprintf("Failure Point: %s", failure))
		if r.Cause != nil {
			lines = append(lines, fmt.Sprintf("Cause [%s]: %v", r.Category, r.Cause))
		}
	}

	if len(r.Stages) > 0 {
		lines = append(lines, "", "Stages", "------")
		for _, s := range r.Stages {
			status := "ok"
			if !s.Success {
				status = "failed"
			}
			line := fmt.Sprintf("- %s: %s in %s", s.Name, status, formatDuration(s.Duration))
			for cat := ErrorCategoryInput; cat <= ErrorCategoryInternal; cat++ {
				if n := s.Warnings[cat]; n > 0 {
					line += fmt.Sprintf(", %d %s warnings", n, strings.ToLower(cat.String()))
				}
			}
			lines = append(lines, line)
		}
		lines = append(lines, fmt.Sprintf("Rows loaded: %d", r.RowsLoaded))
		lines = append(lines, fmt.Sprintf("Predictions written: %d", r.PredictionsWritten))
	}

	if r.LogLocation != "" {
		lines = append(lines, fmt.Sprintf("Log Location: %s", r.LogLocation))
	}
	return strings.Join(lines, "\n")
}

// Record converts the report to a run history row
func (r *RunReport) Record() store.RunRecord {
	rec := store.RunRecord{
		RunID:              r.RunID,
		Status:             string(r.Status),
		StartedAt:          r.StartedAt,
		Duration:           r.Duration,
		FailedStage:        r.FailedStage,
		RowsLoaded:         r.RowsLoaded,
		PredictionsWritten: int64(r.PredictionsWritten),
	}
	if r.Cause != nil {
		rec.Cause = r.Cause.Error()
	}
	return rec
}

// formatDuration formats a duration to a human-readable string
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}
