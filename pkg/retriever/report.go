package retriever

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dbt-markwan/dbt-log-retriever/pkg/dbtcloud"
)

// RunOutcome is the terminal state of one run's retrieval.
type RunOutcome string

const (
	OutcomeSucceeded RunOutcome = "succeeded"
	OutcomeFailed    RunOutcome = "failed"
	OutcomeSkipped   RunOutcome = "skipped"
)

// RunResult records the outcome of retrieving a single run.
type RunResult struct {
	RunID       int64      `json:"run_id"`
	Outcome     RunOutcome `json:"outcome"`
	Reason      string     `json:"reason,omitempty"`
	DetailsPath string     `json:"details_path,omitempty"`
	LogsPath    string     `json:"logs_path,omitempty"`
}

// EnvironmentReport aggregates run outcomes for one environment.
type EnvironmentReport struct {
	EnvironmentID   int64  `json:"environment_id"`
	EnvironmentName string `json:"environment_name"`
	DeploymentType  string `json:"deployment_type,omitempty"`

	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`

	// Truncated marks the run list as a possibly incomplete view: the
	// page cap was reached while the time window was still open.
	Truncated bool `json:"truncated"`

	Runs []RunResult `json:"runs,omitempty"`

	mu sync.Mutex
}

// RecordSuccess records a run whose artifacts were written.
func (e *EnvironmentReport) RecordSuccess(runID int64, detailsPath, logsPath string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Succeeded++
	e.Runs = append(e.Runs, RunResult{
		RunID:       runID,
		Outcome:     OutcomeSucceeded,
		DetailsPath: detailsPath,
		LogsPath:    logsPath,
	})
}

// RecordFailure records a run whose retrieval failed.
func (e *EnvironmentReport) RecordFailure(runID int64, err error) {
	reason := ""
	if err != nil {
		reason = err.Error()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.Failed++
	e.Runs = append(e.Runs, RunResult{
		RunID:   runID,
		Outcome: OutcomeFailed,
		Reason:  reason,
	})
}

// RecordSkip records a run that was not re-retrieved because its
// artifacts already exist.
func (e *EnvironmentReport) RecordSkip(runID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Skipped++
	e.Runs = append(e.Runs, RunResult{
		RunID:   runID,
		Outcome: OutcomeSkipped,
	})
}

// Report summarizes an entire retrieval invocation.
type Report struct {
	InvocationID string    `json:"invocation_id"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`

	Environments []*EnvironmentReport `json:"environments"`

	TotalAttempted int `json:"total_attempted"`
	TotalSucceeded int `json:"total_succeeded"`
	TotalFailed    int `json:"total_failed"`
	TotalSkipped   int `json:"total_skipped"`

	// Truncated is true when any environment's run list was truncated.
	Truncated bool `json:"truncated"`

	mu sync.Mutex
}

// NewReport creates a Report stamped with a fresh invocation ID.
func NewReport() *Report {
	return &Report{
		InvocationID: uuid.NewString(),
		StartedAt:    time.Now().UTC(),
	}
}

// AddEnvironment registers an environment with the report and returns
// its per-environment accumulator.
func (r *Report) AddEnvironment(env dbtcloud.Environment, attempted int, truncated bool) *EnvironmentReport {
	er := &EnvironmentReport{
		EnvironmentID:   env.ID,
		EnvironmentName: env.Name,
		DeploymentType:  env.DeploymentType,
		Attempted:       attempted,
		Truncated:       truncated,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.Environments = append(r.Environments, er)

	return er
}

// Finish stamps the end time and rolls up per-environment totals.
func (r *Report) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.FinishedAt = time.Now().UTC()

	r.TotalAttempted = 0
	r.TotalSucceeded = 0
	r.TotalFailed = 0
	r.TotalSkipped = 0
	r.Truncated = false

	for _, er := range r.Environments {
		er.mu.Lock()

		r.TotalAttempted += er.Attempted
		r.TotalSucceeded += er.Succeeded
		r.TotalFailed += er.Failed
		r.TotalSkipped += er.Skipped

		if er.Truncated {
			r.Truncated = true
		}

		er.mu.Unlock()
	}
}

// Failures returns every failed run result across environments.
func (r *Report) Failures() []RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var failures []RunResult

	for _, er := range r.Environments {
		er.mu.Lock()

		for _, rr := range er.Runs {
			if rr.Outcome == OutcomeFailed {
				failures = append(failures, rr)
			}
		}

		er.mu.Unlock()
	}

	return failures
}

// OutputPaths returns every artifact path recorded in the report.
func (r *Report) OutputPaths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var paths []string

	for _, er := range r.Environments {
		er.mu.Lock()

		for _, rr := range er.Runs {
			if rr.DetailsPath != "" {
				paths = append(paths, rr.DetailsPath)
			}

			if rr.LogsPath != "" {
				paths = append(paths, rr.LogsPath)
			}
		}

		er.mu.Unlock()
	}

	return paths
}
