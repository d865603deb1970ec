// Package retriever implements the log retrieval pipeline: it selects
// dbt Cloud environments, fetches their recent runs inside a time
// window, and retrieves run details and step logs with bounded
// concurrency, isolating per-run failures.
package retriever

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dbt-markwan/dbt-log-retriever/pkg/dbtcloud"
	"github.com/dbt-markwan/dbt-log-retriever/pkg/runindex"
)

const (
	// DefaultRunLimit is how many recent runs are requested per
	// environment when the config does not say otherwise.
	DefaultRunLimit = 10

	// DefaultConcurrency bounds parallel run retrievals per
	// environment.
	DefaultConcurrency = 4

	// stepLogConcurrency bounds parallel step log fetches within a
	// single run.
	stepLogConcurrency = 4
)

// APIClient is the dbt Cloud client surface the retriever consumes.
type APIClient interface {
	ListEnvironments(ctx context.Context) ([]dbtcloud.Environment, error)
	ListRuns(ctx context.Context, environmentID int64, limit int, orderBy string) ([]dbtcloud.Run, error)
	GetRun(ctx context.Context, runID int64, includeSteps bool) (*dbtcloud.Run, error)
	GetStepLog(ctx context.Context, runID int64, stepIndex int, debug bool) (string, error)
}

// Compile-time interface check.
var _ APIClient = (*dbtcloud.Client)(nil)

// Writer persists run artifacts to the output tree.
type Writer interface {
	WriteRunDetails(env dbtcloud.Environment, run *dbtcloud.Run) (string, error)
	WriteRunLogs(env dbtcloud.Environment, runID int64, logText string) (string, error)
}

// Config controls a retrieval invocation.
type Config struct {
	// Filter narrows the environment set. The zero value selects all
	// environments.
	Filter FilterCriteria

	// Window narrows runs by timestamp, applied client side. The zero
	// value selects all runs on the page.
	Window TimeWindow

	// RunLimit caps how many recent runs are requested per
	// environment.
	RunLimit int

	// Concurrency bounds how many runs are retrieved in parallel
	// within an environment.
	Concurrency int

	// WriteLogs assembles and persists the combined step log for each
	// run in addition to the run details document.
	WriteLogs bool

	// UseDebugLogs selects debug log text instead of regular logs.
	UseDebugLogs bool

	// SkipExisting skips runs that are already indexed with a
	// terminal status and whose details file is still on disk.
	// Requires an index store.
	SkipExisting bool
}

// Retriever drives the retrieval pipeline for one invocation.
type Retriever struct {
	log    logrus.FieldLogger
	client APIClient
	writer Writer
	index  runindex.Store
	cfg    *Config

	runLimit    int
	concurrency int
}

// NewRetriever creates a Retriever. The index store may be nil, which
// disables skip detection and run indexing.
func NewRetriever(log logrus.FieldLogger, client APIClient, writer Writer, index runindex.Store, cfg *Config) *Retriever {
	if cfg == nil {
		cfg = &Config{}
	}

	runLimit := cfg.RunLimit
	if runLimit == 0 {
		runLimit = DefaultRunLimit
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	return &Retriever{
		log:         log.WithField("component", "retriever"),
		client:      client,
		writer:      writer,
		index:       index,
		cfg:         cfg,
		runLimit:    runLimit,
		concurrency: concurrency,
	}
}

// Run executes the full pipeline and returns the invocation report.
// Failures listing environments or runs are fatal; failures retrieving
// an individual run are recorded in the report and do not stop the
// remaining runs. On a fatal error the partially filled report is
// returned alongside it.
func (r *Retriever) Run(ctx context.Context) (*Report, error) {
	report := NewReport()
	defer report.Finish()

	envs, err := r.client.ListEnvironments(ctx)
	if err != nil {
		return report, fmt.Errorf("listing environments: %w", err)
	}

	filtered := FilterEnvironments(envs, r.cfg.Filter)

	r.log.WithFields(logrus.Fields{
		"discovered": len(envs),
		"selected":   len(filtered),
	}).Info("Selected environments")

	if len(filtered) == 0 {
		r.log.Warn("No environments matched the filter criteria")

		return report, nil
	}

	for i := range filtered {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		if err := r.retrieveEnvironment(ctx, filtered[i], report); err != nil {
			return report, err
		}
	}

	return report, nil
}

// retrieveEnvironment fetches the environment's runs and retrieves
// them with bounded concurrency. A run whose retrieval fails is
// logged and recorded, then processing continues with the others. An
// authentication failure cancels the remaining work instead, since
// every further request would fail the same way.
func (r *Retriever) retrieveEnvironment(ctx context.Context, env dbtcloud.Environment, report *Report) error {
	log := r.log.WithFields(logrus.Fields{
		"environment":    env.Name,
		"environment_id": env.ID,
	})

	runs, truncated, err := FetchRuns(ctx, r.client, env.ID, r.runLimit, r.cfg.Window)
	if err != nil {
		return fmt.Errorf("fetching runs for environment %q: %w", env.Name, err)
	}

	envReport := report.AddEnvironment(env, len(runs), truncated)

	if truncated {
		log.WithField("limit", r.runLimit).Warn("Run list truncated at the page cap, older matching runs were not retrieved; raise the run limit or narrow the window")
	}

	if len(runs) == 0 {
		log.Info("No runs matched the time window")

		return nil
	}

	log.WithField("runs", len(runs)).Info("Retrieving runs")

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i := range runs {
		run := runs[i]

		g.Go(func() error {
			// Bail out early if another worker hit a fatal error.
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
			}

			if err := r.processRun(gCtx, env, &run, envReport); err != nil {
				envReport.RecordFailure(run.ID, err)

				if dbtcloud.IsAuthError(err) {
					// The token is rejected; every remaining request
					// would burn quota to fail the same way.
					return fmt.Errorf("retrieving run %d: %w", run.ID, err)
				}

				log.WithError(err).WithField("run_id", run.ID).Warn("Failed to retrieve run")

				return nil //nolint:nilerr // isolated per-run failure
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("environment %q: %w", env.Name, err)
	}

	return nil
}

// processRun retrieves one run's details and, when configured, its
// combined step log, writing both through the Writer.
func (r *Retriever) processRun(ctx context.Context, env dbtcloud.Environment, run *dbtcloud.Run, envReport *EnvironmentReport) error {
	log := r.log.WithFields(logrus.Fields{
		"environment": env.Name,
		"run_id":      run.ID,
		"status":      run.StatusHumanized,
	})

	if r.cfg.SkipExisting && r.index != nil {
		skip, err := r.shouldSkip(ctx, run)
		if err != nil {
			log.WithError(err).Debug("Index lookup failed, retrieving anyway")
		}

		if skip {
			log.Info("Skipping already retrieved run")
			envReport.RecordSkip(run.ID)

			return nil
		}
	}

	log.Info("Retrieving run")

	detail, err := r.client.GetRun(ctx, run.ID, true)
	if err != nil {
		return err
	}

	detailsPath, err := r.writer.WriteRunDetails(env, detail)
	if err != nil {
		return fmt.Errorf("writing run details: %w", err)
	}

	var logsPath string

	if r.cfg.WriteLogs {
		logText, err := r.assembleLogs(ctx, detail)
		if err != nil {
			return err
		}

		if logText == "" {
			log.Debug("Run has no step log text")
		} else {
			logsPath, err = r.writer.WriteRunLogs(env, detail.ID, logText)
			if err != nil {
				return fmt.Errorf("writing run logs: %w", err)
			}
		}
	}

	envReport.RecordSuccess(run.ID, detailsPath, logsPath)

	if r.index != nil {
		if err := r.indexRun(ctx, env, detail, detailsPath, logsPath); err != nil {
			log.WithError(err).Warn("Failed to index run")
		}
	}

	return nil
}

// assembleLogs builds the combined log document for a run: every
// step's text in ascending step index order, each chunk newline
// terminated. Steps whose payload carries no text are fetched
// individually and concurrently; completion order never affects
// assembly order. Steps with no text at all are left out.
func (r *Retriever) assembleLogs(ctx context.Context, run *dbtcloud.Run) (string, error) {
	steps := make([]dbtcloud.Step, len(run.RunSteps))
	copy(steps, run.RunSteps)

	sort.Slice(steps, func(i, j int) bool {
		return steps[i].Index < steps[j].Index
	})

	texts := make([]string, len(steps))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(stepLogConcurrency)

	for i := range steps {
		if text := steps[i].LogText(r.cfg.UseDebugLogs); text != "" {
			texts[i] = text

			continue
		}

		g.Go(func() error {
			text, err := r.client.GetStepLog(gCtx, run.ID, steps[i].Index, r.cfg.UseDebugLogs)
			if err != nil {
				return fmt.Errorf("fetching log for step %d: %w", steps[i].Index, err)
			}

			texts[i] = text

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return "", err
	}

	var sb strings.Builder

	for _, text := range texts {
		if text == "" {
			continue
		}

		sb.WriteString(text)

		if !strings.HasSuffix(text, "\n") {
			sb.WriteByte('\n')
		}
	}

	return sb.String(), nil
}

// shouldSkip reports whether the run was already retrieved: the index
// has it with a terminal status and its details file still exists.
// Non-terminal runs are always re-retrieved since their logs may still
// grow.
func (r *Retriever) shouldSkip(ctx context.Context, run *dbtcloud.Run) (bool, error) {
	rec, err := r.index.GetRun(ctx, run.AccountID, run.ID)
	if err != nil {
		return false, err
	}

	if rec == nil {
		return false, nil
	}

	if !dbtcloud.IsTerminalStatus(rec.Status) {
		return false, nil
	}

	if rec.DetailsPath == "" {
		return false, nil
	}

	if _, err := os.Stat(rec.DetailsPath); err != nil {
		return false, nil
	}

	return true, nil
}

// indexRun records a retrieved run in the index store.
func (r *Retriever) indexRun(ctx context.Context, env dbtcloud.Environment, run *dbtcloud.Run, detailsPath, logsPath string) error {
	rec := &runindex.Run{
		AccountID:       run.AccountID,
		RunID:           run.ID,
		EnvironmentID:   env.ID,
		EnvironmentName: env.Name,
		ProjectID:       run.ProjectID,
		JobID:           run.JobID,
		Status:          run.Status,
		StatusHumanized: run.StatusHumanized,
		StepCount:       len(run.RunSteps),
		DetailsPath:     detailsPath,
		LogsPath:        logsPath,
		RetrievedAt:     time.Now().UTC(),
	}

	if run.CreatedAt != nil && !run.CreatedAt.IsZero() {
		rec.RunCreatedAt = run.CreatedAt.Unix()
	}

	if run.FinishedAt != nil && !run.FinishedAt.IsZero() {
		rec.RunFinishedAt = run.FinishedAt.Unix()
	}

	return r.index.UpsertRun(ctx, rec)
}
