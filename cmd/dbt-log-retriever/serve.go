package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dbt-markwan/dbt-log-retriever/pkg/api"
	"github.com/dbt-markwan/dbt-log-retriever/pkg/runindex"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve retrieved artifacts and the run index over HTTP",
	Long: `Start an HTTP server exposing the output directory's artifact files and,
when the run index is enabled, endpoints to browse the retrieved runs.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveListen, "listen", "",
		"Listen address, e.g. :8080")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("listen") {
		cfg.Server.Listen = serveListen
	}

	// Serving needs no dbt Cloud credentials, so only the server side of
	// the configuration is validated.
	if err := cfg.ValidateServer(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	// Set up context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

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

	srv := api.NewServer(log, &cfg.Server, cfg.Output.Dir, index)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting artifact server: %w", err)
	}

	// Wait for shutdown signal.
	sig := <-sigCh
	log.WithField("signal", sig).Info("Shutting down artifact server")
	cancel()

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping artifact server: %w", err)
	}

	return nil
}
