package output_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbt-markwan/dbt-log-retriever/pkg/dbtcloud"
	"github.com/dbt-markwan/dbt-log-retriever/pkg/output"
	"github.com/dbt-markwan/dbt-log-retriever/pkg/retriever"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return log
}

func TestEnvironmentDirName(t *testing.T) {
	tests := []struct {
		name string
		env  dbtcloud.Environment
		want string
	}{
		{
			name: "plain name",
			env:  dbtcloud.Environment{ID: 12, Name: "Production"},
			want: "Production_12",
		},
		{
			name: "name with spaces",
			env:  dbtcloud.Environment{ID: 9, Name: "Nightly CI"},
			want: "Nightly CI_9",
		},
		{
			name: "name with path separator",
			env:  dbtcloud.Environment{ID: 3, Name: "ci/cd"},
			want: "ci_cd_3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, output.EnvironmentDirName(tt.env))
		})
	}
}

func TestWriter_WriteRunDetails(t *testing.T) {
	dir := t.TempDir()
	w := output.NewWriter(testLogger(), dir, nil)

	env := dbtcloud.Environment{ID: 12, Name: "Production"}
	run := &dbtcloud.Run{
		ID:              1001,
		EnvironmentID:   12,
		Status:          dbtcloud.RunStatusSuccess,
		StatusHumanized: "Success",
		RunSteps: []dbtcloud.Step{
			{Index: 1, Name: "Clone repository", Logs: "cloning\n"},
			{Index: 2, Name: "dbt run", Logs: "running\n"},
		},
	}

	path, err := w.WriteRunDetails(env, run)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Production_12", "run_1001_details.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// Indented JSON, not a single line.
	assert.True(t, strings.Contains(string(data), "\n  "), "details must be written with two-space indentation")

	var got dbtcloud.Run
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, int64(1001), got.ID)
	require.Len(t, got.RunSteps, 2)
	assert.Equal(t, "Clone repository", got.RunSteps[0].Name)
}

func TestWriter_WriteRunLogs(t *testing.T) {
	dir := t.TempDir()
	w := output.NewWriter(testLogger(), dir, nil)

	env := dbtcloud.Environment{ID: 7, Name: "Staging"}

	path, err := w.WriteRunLogs(env, 2002, "step one\nstep two\n")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Staging_7", "run_2002_logs.txt"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "step one\nstep two\n", string(data))

	// Rewriting the same run replaces the file in place.
	path2, err := w.WriteRunLogs(env, 2002, "fresh\n")
	require.NoError(t, err)
	assert.Equal(t, path, path2)

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "fresh\n", string(data))
}

func TestWriter_WriteReport(t *testing.T) {
	dir := t.TempDir()
	w := output.NewWriter(testLogger(), dir, nil)

	report := retriever.NewReport()
	er := report.AddEnvironment(dbtcloud.Environment{ID: 12, Name: "Production"}, 1, false)
	er.RecordSuccess(1001, "/out/Production_12/run_1001_details.json", "")
	report.Finish()

	path, err := w.WriteReport(report)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, output.ReportFileName), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got retriever.Report
	require.NoError(t, json.Unmarshal(data, &got))
	assert.NotEmpty(t, got.InvocationID)
	assert.Equal(t, 1, got.TotalSucceeded)
	require.Len(t, got.Environments, 1)
	assert.Equal(t, "Production", got.Environments[0].EnvironmentName)
}
