// Copyright 2025 Takhin Data, Inc.

// data.go holds the ingest-trigger commands: loading a new base version,
// layering delta versions on top, and forcing a fresh full-state
// replication — the client-facing half of the design/§4.6's batch-driven
// ingest (normally fired by the out-of-scope HDFS poller, here fired by
// hand for operators and tests).
package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Trigger base/delta ingest and full-state replication",
}

var loadBaseCmd = &cobra.Command{
	Use:   "load-base <database> <table> <version>",
	Short: "Trigger a base-version load for every partition of a table",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, table, version := args[0], args[1], args[2]
		env, err := controlPlanePost("/update/base", url.Values{
			"database_name": {db},
			"table_name":    {table},
			"version":       {version},
		}, nil)
		if err != nil {
			return err
		}
		printData(env)
		return nil
	},
}

var deltaVersionsFlag string

var loadDeltaCmd = &cobra.Command{
	Use:   "load-delta <database> <table> <base-version>",
	Short: "Trigger a delta-version load for every partition of a table",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if deltaVersionsFlag == "" {
			return fmt.Errorf("--delta-versions is required (comma-separated)")
		}
		db, table, base := args[0], args[1], args[2]
		env, err := controlPlanePost("/update/delta", url.Values{
			"database_name":  {db},
			"table_name":     {table},
			"version":        {base},
			"delta_versions": {strings.Join(strings.Split(deltaVersionsFlag, ","), ",")},
		}, nil)
		if err != nil {
			return err
		}
		printData(env)
		return nil
	},
}

var forceReplicationCmd = &cobra.Command{
	Use:   "replicate <database> <table>",
	Short: "Force every partition of a table to re-run catch-up replication",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, table := args[0], args[1]
		env, err := controlPlanePost("/update/base_replication", url.Values{
			"database_name": {db},
			"table_name":    {table},
		}, nil)
		if err != nil {
			return err
		}
		printData(env)
		return nil
	},
}

func init() {
	loadDeltaCmd.Flags().StringVar(&deltaVersionsFlag, "delta-versions", "", "comma-separated delta version ids")
	dataCmd.AddCommand(loadBaseCmd, loadDeltaCmd, forceReplicationCmd)
	rootCmd.AddCommand(dataCmd)
}
