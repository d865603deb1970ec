// Package output writes retrieval artifacts to the local filesystem:
// per-run details documents, combined step logs and the invocation
// report, laid out under one directory per environment.
package output

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/dbt-markwan/dbt-log-retriever/pkg/dbtcloud"
	"github.com/dbt-markwan/dbt-log-retriever/pkg/fsutil"
	"github.com/dbt-markwan/dbt-log-retriever/pkg/retriever"
)

// ReportFileName is the invocation report written at the root of the
// output directory.
const ReportFileName = "retrieval_report.json"

// Writer persists retrieval artifacts under a base directory. Writes
// are idempotent: rewriting a run replaces its files in place.
type Writer struct {
	log     logrus.FieldLogger
	baseDir string
	owner   *fsutil.OwnerConfig
}

// NewWriter creates a Writer rooted at baseDir. The owner is applied
// to everything written and may be nil.
func NewWriter(log logrus.FieldLogger, baseDir string, owner *fsutil.OwnerConfig) *Writer {
	return &Writer{
		log:     log.WithField("component", "output"),
		baseDir: baseDir,
		owner:   owner,
	}
}

// BaseDir returns the root of the output tree.
func (w *Writer) BaseDir() string {
	return w.baseDir
}

// EnvironmentDirName returns the directory name used for an
// environment: its name and ID joined with an underscore, sanitized
// for use as a path segment.
func EnvironmentDirName(env dbtcloud.Environment) string {
	return fsutil.SanitizeName(fmt.Sprintf("%s_%d", env.Name, env.ID))
}

// environmentDir ensures the environment's directory exists and
// returns its path.
func (w *Writer) environmentDir(env dbtcloud.Environment) (string, error) {
	dir := filepath.Join(w.baseDir, EnvironmentDirName(env))
	if err := fsutil.MkdirAll(dir, 0755, w.owner); err != nil {
		return "", fmt.Errorf("creating environment directory: %w", err)
	}

	return dir, nil
}

// WriteRunDetails writes the run's full details document as indented
// JSON and returns the file path.
func (w *Writer) WriteRunDetails(env dbtcloud.Environment, run *dbtcloud.Run) (string, error) {
	dir, err := w.environmentDir(env)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling run details: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("run_%d_details.json", run.ID))
	if err := fsutil.WriteFile(path, data, 0644, w.owner); err != nil {
		return "", fmt.Errorf("writing run details: %w", err)
	}

	w.log.WithField("path", path).Debug("Wrote run details")

	return path, nil
}

// WriteRunLogs writes the run's combined step log text and returns the
// file path.
func (w *Writer) WriteRunLogs(env dbtcloud.Environment, runID int64, logText string) (string, error) {
	dir, err := w.environmentDir(env)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, fmt.Sprintf("run_%d_logs.txt", runID))
	if err := fsutil.WriteFile(path, []byte(logText), 0644, w.owner); err != nil {
		return "", fmt.Errorf("writing run logs: %w", err)
	}

	w.log.WithField("path", path).Debug("Wrote run logs")

	return path, nil
}

// WriteReport writes the invocation report at the root of the output
// tree and returns the file path.
func (w *Writer) WriteReport(report *retriever.Report) (string, error) {
	if err := fsutil.MkdirAll(w.baseDir, 0755, w.owner); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling report: %w", err)
	}

	path := filepath.Join(w.baseDir, ReportFileName)
	if err := fsutil.WriteFile(path, data, 0644, w.owner); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}

	return path, nil
}

// Compile-time interface check.
var _ retriever.Writer = (*Writer)(nil)
