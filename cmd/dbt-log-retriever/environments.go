package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dbt-markwan/dbt-log-retriever/pkg/dbtcloud"
	"github.com/dbt-markwan/dbt-log-retriever/pkg/retriever"
)

var (
	envTypes  []string
	envNames  []string
	envIDs    []int64
	envAsJSON bool
)

var environmentsCmd = &cobra.Command{
	Use:   "environments",
	Short: "List environments visible to the configured account",
	Long: `List the account's environments. Without flags all environments are
shown; the filter flags narrow the listing the same way the fetch
command selects its targets.`,
	RunE: runEnvironments,
}

func init() {
	rootCmd.AddCommand(environmentsCmd)

	environmentsCmd.Flags().StringSliceVar(&envTypes, "deployment-type", nil,
		"Limit to environments with these deployment types (comma-separated or repeated flag)")
	environmentsCmd.Flags().StringSliceVar(&envNames, "env-name", nil,
		"Limit to environments with these names")
	environmentsCmd.Flags().Int64SliceVar(&envIDs, "env-id", nil,
		"Limit to environments with these IDs")
	environmentsCmd.Flags().BoolVar(&envAsJSON, "json", false,
		"Emit JSON instead of a table")
}

func runEnvironments(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	client, err := dbtcloud.NewClient(log, cfg.DbtCloud.ClientConfig())
	if err != nil {
		return fmt.Errorf("creating dbt Cloud client: %w", err)
	}

	envs, err := client.ListEnvironments(ctx)
	if err != nil {
		return fmt.Errorf("listing environments: %w", err)
	}

	selected := retriever.FilterEnvironments(envs, retriever.FilterCriteria{
		DeploymentTypes: envTypes,
		Names:           envNames,
		IDs:             envIDs,
	})

	if envAsJSON {
		data, err := json.MarshalIndent(selected, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding environments: %w", err)
		}

		fmt.Println(string(data))

		return nil
	}

	if len(selected) == 0 {
		log.Warn("No environments matched the filter criteria")

		return nil
	}

	fmt.Printf("%-12s %-32s %-14s %s\n", "ID", "NAME", "TYPE", "DBT VERSION")

	for _, env := range selected {
		fmt.Printf("%-12d %-32s %-14s %s\n",
			env.ID, env.Name, env.DeploymentType, env.DbtVersion)
	}

	return nil
}
