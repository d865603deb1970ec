package runindex

import "time"

// Run is a single retrieved dbt Cloud run recorded in the index. The
// struct is served as-is by the artifact server's run endpoints.
type Run struct {
	ID        uint  `gorm:"primaryKey" json:"-"`
	AccountID int64 `gorm:"not null;uniqueIndex:idx_runs_account_run" json:"account_id"`
	RunID     int64 `gorm:"not null;uniqueIndex:idx_runs_account_run" json:"run_id"`

	EnvironmentID   int64  `gorm:"index" json:"environment_id"`
	EnvironmentName string `json:"environment_name"`
	ProjectID       int64  `json:"project_id"`
	JobID           int64  `json:"job_id"`

	Status          int    `gorm:"index" json:"status"`
	StatusHumanized string `json:"status_humanized"`

	// Run timestamps as unix seconds. Named to stay clear of gorm's
	// automatic CreatedAt handling.
	RunCreatedAt  int64 `json:"run_created_at"`
	RunFinishedAt int64 `json:"run_finished_at"`

	StepCount int `json:"step_count"`

	// Paths of the artifacts written for this run.
	DetailsPath string `json:"details_path"`
	LogsPath    string `json:"logs_path,omitempty"`

	RetrievedAt time.Time `json:"retrieved_at"`
}
