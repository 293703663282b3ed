// Command heliumd runs one node of the database and doubles as the
// reference client against a running node's administration surface.
// Grounded on the rootCmd/cobra.OnInitialize shape of cuemby-warren's
// cmd/warren/main.go, generalized from container-orchestration nouns
// (cluster, worker, service) to node-administration verbs (bind,
// status, failover, primary, standby).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/heliumdb/helium/internal/engine"
	"github.com/heliumdb/helium/internal/telemetry"
)

var (
	nodeID   string
	dataDir  string
	rpcAddr  string
	httpAddr string
	adminURL string
	logLevel string
	logJSON  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "heliumd",
	Short: "heliumd runs and administers a single database node",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(bindCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(failoverCmd)
	rootCmd.AddCommand(primaryCmd)
	rootCmd.AddCommand(standbyCmd)
}

func initLogging() {
	telemetry.Init(telemetry.Config{Level: telemetry.Level(logLevel), JSONOutput: logJSON})
}

var bindCmd = &cobra.Command{
	Use:   "bind",
	Short: "start this node, serving RPC and administration traffic until signaled",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := engine.DefaultConfig(nodeID, dataDir)
		if rpcAddr != "" {
			cfg.RPCAddr = rpcAddr
		}
		if httpAddr != "" {
			cfg.HTTPAddr = httpAddr
		}

		e, err := engine.New(cfg)
		if err != nil {
			return fmt.Errorf("open engine: %w", err)
		}
		if err := e.Start(); err != nil {
			return fmt.Errorf("start engine: %w", err)
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		telemetry.For("cmd").Info().Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return e.Shutdown(ctx)
	},
}

func init() {
	bindCmd.Flags().StringVar(&nodeID, "node-id", "", "this node's identifier within its LocalWriteCluster")
	bindCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "data directory for log, snapshot and topology state")
	bindCmd.Flags().StringVar(&rpcAddr, "rpc-addr", "", "execution RPC listen address (overrides the default port)")
	bindCmd.Flags().StringVar(&httpAddr, "http-addr", "", "administration HTTP listen address (overrides the default port)")
	bindCmd.MarkFlagRequired("node-id")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "print a node's current administration state",
	RunE: func(cmd *cobra.Command, args []string) error {
		var state map[string]interface{}
		if err := adminGet("/_node", &state); err != nil {
			return err
		}
		return printJSON(state)
	},
}

var failoverCmd = &cobra.Command{
	Use:   "failover",
	Short: "promote this node's LocalWriteCluster to PrimarySite",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		var result map[string]interface{}
		if err := adminPost("/_primary-site", map[string]interface{}{"force": force}, &result); err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	failoverCmd.Flags().Bool("force", false, "override split-brain-risk protection when the peer site still appears primary")
}

var primaryCmd = &cobra.Command{
	Use:   "primary",
	Short: "attempt to claim local-write Primary via witness arbitration",
	RunE: func(cmd *cobra.Command, args []string) error {
		peerReachable, _ := cmd.Flags().GetBool("peer-reachable")
		peerConfirms, _ := cmd.Flags().GetBool("peer-confirms")
		var result map[string]interface{}
		body := map[string]interface{}{
			"peerReachable":             peerReachable,
			"peerConfirmsSelfAsPrimary": peerConfirms,
		}
		if err := adminPost("/_primary", body, &result); err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	primaryCmd.Flags().Bool("peer-reachable", false, "whether the HA peer is currently reachable")
	primaryCmd.Flags().Bool("peer-confirms", false, "whether the HA peer already confirms this node as primary")
}

var standbyCmd = &cobra.Command{
	Use:   "standby",
	Short: "demote this node to local-write Standby",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result map[string]interface{}
		if err := adminPost("/_standby", nil, &result); err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, failoverCmd, primaryCmd, standbyCmd} {
		c.Flags().StringVar(&adminURL, "addr", "http://localhost:27500", "administration HTTP base URL of the target node")
	}
}
