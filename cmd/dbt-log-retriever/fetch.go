package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dbt-markwan/dbt-log-retriever/pkg/dbtcloud"
	"github.com/dbt-markwan/dbt-log-retriever/pkg/fsutil"
	"github.com/dbt-markwan/dbt-log-retriever/pkg/output"
	"github.com/dbt-markwan/dbt-log-retriever/pkg/retriever"
	"github.com/dbt-markwan/dbt-log-retriever/pkg/runindex"
	"github.com/dbt-markwan/dbt-log-retriever/pkg/upload"
)

var (
	fetchRuns           int
	fetchConcurrency    int
	fetchDaysBack       int
	fetchCreatedAfter   string
	fetchCreatedBefore  string
	fetchFinishedAfter  string
	fetchFinishedBefore string
	fetchEnvTypes       []string
	fetchEnvNames       []string
	fetchEnvIDs         []int64
	fetchNoLogs         bool
	fetchDebugLogs      bool
	fetchSkipExisting   bool
	fetchOutputDir      string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch run details and logs for matching environments",
	Long: `Discover the account's environments, select those matching the configured
filters, and download run details plus step logs for the most recent runs
of each. Flags override the corresponding config file settings.`,
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().IntVar(&fetchRuns, "runs", 0,
		"Most recent runs to retrieve per environment")
	fetchCmd.Flags().IntVar(&fetchConcurrency, "concurrency", 0,
		"Concurrent run retrievals per environment")
	fetchCmd.Flags().IntVar(&fetchDaysBack, "days-back", 0,
		"Only retrieve runs created in the last N days")
	fetchCmd.Flags().StringVar(&fetchCreatedAfter, "created-after", "",
		"Only retrieve runs created at or after this time (RFC 3339 or YYYY-MM-DD)")
	fetchCmd.Flags().StringVar(&fetchCreatedBefore, "created-before", "",
		"Only retrieve runs created at or before this time")
	fetchCmd.Flags().StringVar(&fetchFinishedAfter, "finished-after", "",
		"Only retrieve runs finished at or after this time")
	fetchCmd.Flags().StringVar(&fetchFinishedBefore, "finished-before", "",
		"Only retrieve runs finished at or before this time")
	fetchCmd.Flags().StringSliceVar(&fetchEnvTypes, "deployment-type", nil,
		"Limit to environments with these deployment types (comma-separated or repeated flag)")
	fetchCmd.Flags().StringSliceVar(&fetchEnvNames, "env-name", nil,
		"Limit to environments with these names")
	fetchCmd.Flags().Int64SliceVar(&fetchEnvIDs, "env-id", nil,
		"Limit to environments with these IDs")
	fetchCmd.Flags().BoolVar(&fetchNoLogs, "no-logs", false,
		"Write run details only, skipping log assembly")
	fetchCmd.Flags().BoolVar(&fetchDebugLogs, "debug-logs", false,
		"Prefer debug level step logs")
	fetchCmd.Flags().BoolVar(&fetchSkipExisting, "skip-existing", false,
		"Skip runs already indexed with artifacts on disk")
	fetchCmd.Flags().StringVar(&fetchOutputDir, "output-dir", "",
		"Directory to write artifacts into")
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Flags win over config file settings.
	if cmd.Flags().Changed("runs") {
		cfg.Retrieval.Runs = fetchRuns
	}

	if cmd.Flags().Changed("concurrency") {
		cfg.Retrieval.Concurrency = fetchConcurrency
	}

	if cmd.Flags().Changed("days-back") {
		cfg.Retrieval.DaysBack = fetchDaysBack
	}

	if cmd.Flags().Changed("created-after") {
		cfg.Retrieval.CreatedAfter = fetchCreatedAfter
	}

	if cmd.Flags().Changed("created-before") {
		cfg.Retrieval.CreatedBefore = fetchCreatedBefore
	}

	if cmd.Flags().Changed("finished-after") {
		cfg.Retrieval.FinishedAfter = fetchFinishedAfter
	}

	if cmd.Flags().Changed("finished-before") {
		cfg.Retrieval.FinishedBefore = fetchFinishedBefore
	}

	if cmd.Flags().Changed("deployment-type") {
		cfg.Retrieval.Environments.DeploymentTypes = fetchEnvTypes
	}

	if cmd.Flags().Changed("env-name") {
		cfg.Retrieval.Environments.Names = fetchEnvNames
	}

	if cmd.Flags().Changed("env-id") {
		cfg.Retrieval.Environments.IDs = fetchEnvIDs
	}

	if cmd.Flags().Changed("no-logs") {
		cfg.Retrieval.WriteLogs = !fetchNoLogs
	}

	if cmd.Flags().Changed("debug-logs") {
		cfg.Retrieval.DebugLogs = fetchDebugLogs
	}

	if cmd.Flags().Changed("skip-existing") {
		cfg.Retrieval.SkipExisting = fetchSkipExisting
	}

	if cmd.Flags().Changed("output-dir") {
		cfg.Output.Dir = fetchOutputDir
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	window, err := retriever.WindowSpec{
		CreatedAfter:   cfg.Retrieval.CreatedAfter,
		CreatedBefore:  cfg.Retrieval.CreatedBefore,
		FinishedAfter:  cfg.Retrieval.FinishedAfter,
		FinishedBefore: cfg.Retrieval.FinishedBefore,
		DaysBack:       cfg.Retrieval.DaysBack,
	}.Window()
	if err != nil {
		return fmt.Errorf("building time window: %w", err)
	}

	owner, err := fsutil.ParseOwner(cfg.Output.Owner)
	if err != nil {
		return fmt.Errorf("parsing output owner: %w", err)
	}

	// Setup context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	// Verify remote storage before spending API quota.
	var uploader upload.Uploader

	if cfg.Upload.Enabled {
		uploader, err = upload.NewS3Uploader(log, &cfg.Upload)
		if err != nil {
			return fmt.Errorf("creating S3 uploader: %w", err)
		}

		if err := uploader.Preflight(ctx); err != nil {
			return fmt.Errorf("upload preflight: %w", err)
		}
	}

	client, err := dbtcloud.NewClient(log, cfg.DbtCloud.ClientConfig())
	if err != nil {
		return fmt.Errorf("creating dbt Cloud client: %w", err)
	}

	writer := output.NewWriter(log, cfg.Output.Dir, owner)

	var index runindex.Store

	if cfg.Index.Enabled {
		index = runindex.NewStore(log, &cfg.Index.Database)
		if err := index.Start(ctx); err != nil {
			return fmt.Errorf("starting run index: %w", err)
		}

		defer func() {
			if err := index.Stop(); err != nil {
				log.WithError(err).Warn("Failed to stop run index")
			}
		}()
	}

	ret := retriever.NewRetriever(log, client, writer, index, &retriever.Config{
		Filter: retriever.FilterCriteria{
			DeploymentTypes: cfg.Retrieval.Environments.DeploymentTypes,
			Names:           cfg.Retrieval.Environments.Names,
			IDs:             cfg.Retrieval.Environments.IDs,
		},
		Window:       window,
		RunLimit:     cfg.Retrieval.Runs,
		Concurrency:  cfg.Retrieval.Concurrency,
		WriteLogs:    cfg.Retrieval.WriteLogs,
		UseDebugLogs: cfg.Retrieval.DebugLogs,
		SkipExisting: cfg.Retrieval.SkipExisting,
	})

	report, runErr := ret.Run(ctx)

	if report != nil {
		if _, err := writer.WriteReport(report); err != nil {
			log.WithError(err).Warn("Failed to write retrieval report")
		}

		summarizeReport(report)
	}

	if runErr != nil {
		return fmt.Errorf("retrieving runs: %w", runErr)
	}

	if report.TotalFailed > 0 && report.TotalSucceeded == 0 && report.TotalSkipped == 0 {
		return fmt.Errorf("all %d attempted runs failed", report.TotalFailed)
	}

	if index != nil {
		if total, err := index.CountRuns(ctx); err == nil {
			log.WithField("indexed_runs", total).Info("Run index updated")
		}
	}

	if uploader != nil {
		log.WithField("dir", writer.BaseDir()).Info("Uploading artifacts")

		if err := uploader.Upload(ctx, writer.BaseDir()); err != nil {
			return fmt.Errorf("uploading artifacts: %w", err)
		}
	}

	return nil
}

// summarizeReport logs the retrieval outcome, per-run failures
// included, so CI logs show what is missing without opening the report
// file.
func summarizeReport(report *retriever.Report) {
	log.WithFields(logrus.Fields{
		"environments": len(report.Environments),
		"attempted":    report.TotalAttempted,
		"succeeded":    report.TotalSucceeded,
		"failed":       report.TotalFailed,
		"skipped":      report.TotalSkipped,
	}).Info("Retrieval finished")

	for _, failure := range report.Failures() {
		log.WithField("run_id", failure.RunID).
			Warn("Run retrieval failed: " + failure.Reason)
	}

	if report.Truncated {
		log.Warn("At least one environment hit the run list cap; older matching runs were not retrieved")
	}
}
