// Copyright 2025 Takhin Data, Inc.

// topic.go holds table/partition-level commands: aggregate table info and
// cleaning partitions no longer named by the current schema (the design
// get_table_meta_info and clean_unused_partitions, §4.10).
package main

import (
	"net/url"

	"github.com/spf13/cobra"
)

var tableCmd = &cobra.Command{
	Use:   "table",
	Short: "Inspect tables and clean stale partitions",
}

var tableMetaCmd = &cobra.Command{
	Use:   "meta <database> <table>",
	Short: "Show a table's aggregate size and read/write QPS",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, table := args[0], args[1]
		env, err := controlPlaneGet("/db/meta", url.Values{
			"database_name": {db},
			"table_name":    {table},
		})
		if err != nil {
			return err
		}
		printData(env)
		return nil
	},
}

var cleanPartitionsCmd = &cobra.Command{
	Use:   "clean-partitions",
	Short: "Remove partitions no longer named by the current schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := controlPlanePost("/clean/partitions", nil, nil)
		if err != nil {
			return err
		}
		printData(env)
		return nil
	},
}

func init() {
	tableCmd.AddCommand(tableMetaCmd, cleanPartitionsCmd)
	rootCmd.AddCommand(tableCmd)
}
