// Copyright 2025 Takhin Data, Inc.

// config_cmd.go holds configuration-plane commands: toggling the monitor
// switch and pushing a manual configuration override (the design
// apply_manual / set_manual_override, §4.10).
package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage monitor switch and manual configuration overrides",
}

var monitorSwitchCmd = &cobra.Command{
	Use:   "monitor-switch <enable|disable>",
	Short: "Enable or disable the partition-table monitor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flag := args[0]
		if flag != "enable" && flag != "disable" {
			return fmt.Errorf("argument must be \"enable\" or \"disable\", got %q", flag)
		}
		env, err := controlPlanePost("/monitor/switch", url.Values{"switch_flag": {flag}}, nil)
		if err != nil {
			return err
		}
		printData(env)
		return nil
	},
}

var configDataFile string

var updateConfigCmd = &cobra.Command{
	Use:   "update <config-name>",
	Short: "Apply a manual configuration override (manual_override, schema, cluster, traffic_restriction, rocksdb_profiles, table_profiles)",
	Long: `Apply a manual configuration override via POST /update/configs.
config-name selects which ConfigStore payload to replace; --data-file
supplies its JSON body (or "true"/"false" for manual_override).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configName := args[0]
		var configData string
		if configDataFile != "" {
			raw, err := os.ReadFile(configDataFile)
			if err != nil {
				return fmt.Errorf("read --data-file: %w", err)
			}
			configData = string(raw)
		} else if len(args) > 1 {
			configData = args[1]
		} else {
			return fmt.Errorf("--data-file is required")
		}

		// handleUpdateConfigs reads both fields with r.FormValue, which
		// also checks the URL query string, so no request body is needed.
		query := url.Values{"config_name": {configName}, "config_data": {configData}}
		env, err := controlPlanePost("/update/configs", query, nil)
		if err != nil {
			return err
		}
		printData(env)
		return nil
	},
}

func init() {
	updateConfigCmd.Flags().StringVar(&configDataFile, "data-file", "", "path to a file holding config_data")
	configCmd.AddCommand(monitorSwitchCmd, updateConfigCmd)
	rootCmd.AddCommand(configCmd)
}
