// Copyright 2025 Takhin Data, Inc.

// group.go holds shard-level commands: listing per-shard aggregate
// throughput/size info and marking shards unavailable so this node stops
// advertising them (the design set_unavailable_shards, §4.10).
package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var shardCmd = &cobra.Command{
	Use:   "shard",
	Short: "Inspect and manage shard availability",
}

var shardListCmd = &cobra.Command{
	Use:   "list",
	Short: "List per-shard aggregate size and read/write QPS",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := controlPlaneGet("/shard/list", nil)
		if err != nil {
			return err
		}
		printData(env)
		return nil
	},
}

var shardUnavailableCmd = &cobra.Command{
	Use:   "unavailable <shard-id> [shard-id...]",
	Short: "Mark shard ids unavailable so this node stops advertising them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]uint32, 0, len(args))
		for _, a := range args {
			n, err := strconv.ParseUint(strings.TrimSpace(a), 10, 32)
			if err != nil {
				return fmt.Errorf("invalid shard id %q: %w", a, err)
			}
			ids = append(ids, uint32(n))
		}
		body, err := json.Marshal(ids)
		if err != nil {
			return err
		}
		env, err := controlPlaneCall("POST", "/shard/unavailable", nil, json.RawMessage(body))
		if err != nil {
			return err
		}
		printData(env)
		return nil
	},
}

func init() {
	shardCmd.AddCommand(shardListCmd, shardUnavailableCmd)
	rootCmd.AddCommand(shardCmd)
}
