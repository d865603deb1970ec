package dbtcloud

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestamp_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{
			name:  "rfc3339 with zulu",
			input: `"2024-01-05T10:30:00Z"`,
			want:  time.Date(2024, 1, 5, 10, 30, 0, 0, time.UTC),
		},
		{
			name:  "rfc3339 with fractional seconds and offset",
			input: `"2024-01-05T10:30:00.016978+00:00"`,
			want:  time.Date(2024, 1, 5, 10, 30, 0, 16978000, time.UTC),
		},
		{
			name:  "space separated with offset",
			input: `"2024-01-05 10:30:00.016978+00:00"`,
			want:  time.Date(2024, 1, 5, 10, 30, 0, 16978000, time.UTC),
		},
		{
			name:  "space separated without offset",
			input: `"2024-01-05 10:30:00"`,
			want:  time.Date(2024, 1, 5, 10, 30, 0, 0, time.UTC),
		},
		{
			name:  "date only",
			input: `"2024-01-05"`,
			want:  time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "empty string is zero",
			input: `""`,
			want:  time.Time{},
		},
		{
			name:    "garbage",
			input:   `"not a timestamp"`,
			wantErr: true,
		},
		{
			name:    "wrong json type",
			input:   `42`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp
			err := json.Unmarshal([]byte(tt.input), &ts)

			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.True(t, ts.Equal(tt.want), "got %v, want %v", ts.Time, tt.want)
		})
	}
}

func TestTimestamp_NullFinishedAt(t *testing.T) {
	var run Run
	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"created_at":"2024-01-05T10:30:00Z","finished_at":null}`), &run))

	require.NotNil(t, run.CreatedAt)
	assert.Nil(t, run.FinishedAt)
}

func TestTimestamp_MarshalJSON(t *testing.T) {
	ts := Timestamp{Time: time.Date(2024, 1, 5, 10, 30, 0, 0, time.UTC)}

	data, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2024-01-05T10:30:00Z"`, string(data))

	data, err = json.Marshal(Timestamp{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}

func TestStep_LogText(t *testing.T) {
	tests := []struct {
		name  string
		step  Step
		debug bool
		want  string
	}{
		{
			name: "regular logs preferred",
			step: Step{Logs: "run output", DebugLogs: "debug output"},
			want: "run output",
		},
		{
			name:  "debug logs preferred when debug set",
			step:  Step{Logs: "run output", DebugLogs: "debug output"},
			debug: true,
			want:  "debug output",
		},
		{
			name:  "debug falls back to truncated debug",
			step:  Step{Logs: "run output", TruncatedDebugLogs: "truncated"},
			debug: true,
			want:  "truncated",
		},
		{
			name: "empty logs fall back to truncated debug",
			step: Step{TruncatedDebugLogs: "truncated", DebugLogs: "debug output"},
			want: "truncated",
		},
		{
			name: "empty logs fall back to debug as last resort",
			step: Step{DebugLogs: "debug output"},
			want: "debug output",
		},
		{
			name:  "debug never falls back to regular logs",
			step:  Step{Logs: "run output"},
			debug: true,
			want:  "",
		},
		{
			name: "no output at all",
			step: Step{},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.step.LogText(tt.debug))
		})
	}
}

func TestRun_IsTerminal(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{name: "queued", status: RunStatusQueued, want: false},
		{name: "starting", status: RunStatusStarting, want: false},
		{name: "running", status: RunStatusRunning, want: false},
		{name: "success", status: RunStatusSuccess, want: true},
		{name: "error", status: RunStatusError, want: true},
		{name: "cancelled", status: RunStatusCancelled, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := &Run{Status: tt.status}
			assert.Equal(t, tt.want, run.IsTerminal())
		})
	}
}

func TestParseTime_WindowBounds(t *testing.T) {
	got, err := ParseTime("2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseTime("2024-12-31T23:59:59Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC), got)

	_, err = ParseTime("tomorrow")
	require.Error(t, err)
}
