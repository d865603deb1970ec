package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dbt-markwan/dbt-log-retriever/pkg/upload"
)

var (
	uploadMethod string
	uploadDir    string
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload retrieved artifacts to remote storage",
	Long:  `Upload the output directory to S3-compatible storage using the config file settings.`,
	RunE:  runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)

	uploadCmd.Flags().StringVar(&uploadMethod, "method", "s3",
		"Upload method (currently only \"s3\")")
	uploadCmd.Flags().StringVar(&uploadDir, "dir", "",
		"Directory to upload (defaults to the configured output directory)")
}

func runUpload(cmd *cobra.Command, args []string) error {
	if uploadMethod != "s3" {
		return fmt.Errorf("unsupported method %q (only \"s3\" is supported)", uploadMethod)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if !cfg.Upload.Enabled || cfg.Upload.Bucket == "" {
		return fmt.Errorf("S3 upload is not configured or not enabled in config")
	}

	dir := uploadDir
	if dir == "" {
		dir = cfg.Output.Dir
	}

	uploader, err := upload.NewS3Uploader(log, &cfg.Upload)
	if err != nil {
		return fmt.Errorf("creating S3 uploader: %w", err)
	}

	ctx := cmd.Context()

	if err := uploader.Preflight(ctx); err != nil {
		return fmt.Errorf("upload preflight: %w", err)
	}

	log.WithField("dir", dir).Info("Uploading artifacts")

	if err := uploader.Upload(ctx, dir); err != nil {
		return fmt.Errorf("uploading artifacts: %w", err)
	}

	log.Info("Upload completed successfully")

	return nil
}
