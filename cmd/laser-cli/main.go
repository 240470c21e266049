// Copyright 2025 Takhin Data, Inc.

// laser-cli is an operator tool that drives one node's control-plane HTTP
// surface (the design, C11): trigger base/delta loads, force replication,
// inspect shard/table aggregates, mark shards unavailable, clean stale
// partitions, flip the monitor switch, and push a manual configuration
// override. It is the same multi-command cobra shape the own
// CLI uses (root command + persistent flags + one file per command
// group), repointed at Laser's handful of control-plane endpoints instead
// of topic/group/data administration.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	controlPlaneAddr string
	httpTimeout      time.Duration
	httpClient       *http.Client
)

var rootCmd = &cobra.Command{
	Use:   "laser-cli",
	Short: "laser-cli - Command line tool for operating a Laser node",
	Long: `laser-cli is a command line operations tool for the Laser distributed
key-value store. It drives one node's control-plane HTTP surface: base and
delta ingest triggers, shard and table inspection, and manual configuration
overrides.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}
		if controlPlaneAddr == "" {
			return fmt.Errorf("--addr is required (control-plane base URL, e.g. http://localhost:9194)")
		}
		httpClient = &http.Client{Timeout: httpTimeout}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&controlPlaneAddr, "addr", "a", "http://localhost:9194", "control-plane base URL")
	rootCmd.PersistentFlags().DurationVar(&httpTimeout, "timeout", 10*time.Second, "request timeout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// envelope mirrors the control plane's {Code, Error, Data} response shape
//.
type envelope struct {
	Code  uint32          `json:"Code"`
	Error string          `json:"Error"`
	Data  json.RawMessage `json:"Data"`
}

func controlPlanePost(path string, query url.Values, body any) (*envelope, error) {
	return controlPlaneCall(http.MethodPost, path, query, body)
}

func controlPlaneGet(path string, query url.Values) (*envelope, error) {
	return controlPlaneCall(http.MethodGet, path, query, nil)
}

func controlPlaneCall(method, path string, query url.Values, body any) (*envelope, error) {
	u := controlPlaneAddr + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode response from %s %s: %w", method, path, err)
	}
	if env.Error != "" {
		return &env, fmt.Errorf("%s %s: %s (code %d)", method, path, env.Error, env.Code)
	}
	return &env, nil
}

func printData(env *envelope) {
	if len(env.Data) == 0 {
		fmt.Println("OK")
		return
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, env.Data, "", "  "); err != nil {
		fmt.Println(string(env.Data))
		return
	}
	fmt.Println(pretty.String())
}
