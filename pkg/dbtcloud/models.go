package dbtcloud

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Run status codes reported by the dbt Cloud v2 API.
const (
	RunStatusQueued    = 1
	RunStatusStarting  = 2
	RunStatusRunning   = 3
	RunStatusSuccess   = 10
	RunStatusError     = 20
	RunStatusCancelled = 30
)

// Environment is a deployment target within a dbt Cloud account.
type Environment struct {
	ID             int64      `json:"id"`
	AccountID      int64      `json:"account_id"`
	ProjectID      int64      `json:"project_id,omitempty"`
	Name           string     `json:"name"`
	DeploymentType string     `json:"deployment_type"`
	Type           string     `json:"type,omitempty"`
	DbtVersion     string     `json:"dbt_version,omitempty"`
	CreatedAt      *Timestamp `json:"created_at,omitempty"`
}

// Run is one execution instance within an environment.
type Run struct {
	ID              int64      `json:"id"`
	AccountID       int64      `json:"account_id"`
	EnvironmentID   int64      `json:"environment_id"`
	ProjectID       int64      `json:"project_id,omitempty"`
	JobID           int64      `json:"job_definition_id,omitempty"`
	Status          int        `json:"status"`
	StatusHumanized string     `json:"status_humanized,omitempty"`
	CreatedAt       *Timestamp `json:"created_at,omitempty"`
	FinishedAt      *Timestamp `json:"finished_at,omitempty"`
	RunSteps        []Step     `json:"run_steps,omitempty"`
}

// IsTerminal reports whether the run has reached a final state.
func (r *Run) IsTerminal() bool {
	return IsTerminalStatus(r.Status)
}

// IsTerminalStatus reports whether the given status code is a final state.
func IsTerminalStatus(status int) bool {
	switch status {
	case RunStatusSuccess, RunStatusError, RunStatusCancelled:
		return true
	}

	return false
}

// Step is one unit of work within a run.
type Step struct {
	Index              int    `json:"index"`
	Name               string `json:"name,omitempty"`
	Status             int    `json:"status,omitempty"`
	StatusHumanized    string `json:"status_humanized,omitempty"`
	Logs               string `json:"logs,omitempty"`
	DebugLogs          string `json:"debug_logs,omitempty"`
	TruncatedDebugLogs string `json:"truncated_debug_logs,omitempty"`
}

// LogText selects the step's log output. With debug set the debug
// stream is used, falling back to its truncated form; regular logs are
// never substituted for debug output. Without debug, empty regular
// logs fall back to the truncated debug stream, then the full one.
func (s *Step) LogText(debug bool) string {
	text := s.Logs

	if debug {
		text = s.DebugLogs
		if text == "" {
			text = s.TruncatedDebugLogs
		}
	}

	if text == "" {
		text = s.TruncatedDebugLogs
		if text == "" {
			text = s.DebugLogs
		}
	}

	return text
}

// timestampLayouts covers the datetime shapes the API emits: RFC 3339,
// the space-separated variant used on run records, and bare dates.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Timestamp parses the mixed datetime formats emitted by the API.
type Timestamp struct {
	time.Time
}

// ParseTime parses a timestamp string in any of the formats the API
// emits, also accepted for window bounds in configuration.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing timestamp: %w", err)
	}

	if strings.TrimSpace(raw) == "" {
		t.Time = time.Time{}

		return nil
	}

	parsed, err := ParseTime(raw)
	if err != nil {
		return err
	}

	t.Time = parsed

	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}

	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}
