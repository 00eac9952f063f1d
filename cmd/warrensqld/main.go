package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/warrensql/internal/cluster"
	"github.com/cuemby/warrensql/internal/node"
	"github.com/cuemby/warrensql/internal/peers"
	"github.com/cuemby/warrensql/internal/transport"
	"github.com/cuemby/warrensql/pkg/log"
	"github.com/cuemby/warrensql/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "warrensqld",
	Short:   "warrensqld runs one node of a sharded, replicated SQL cluster",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("warrensqld version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	startCmd.Flags().String("node-id", "", "unique node identifier (required)")
	startCmd.Flags().String("raft-addr", "127.0.0.1:7300", "address raft binds/advertises for this node")
	startCmd.Flags().String("transport-addr", "127.0.0.1:7301", "address the internal RPC server listens on")
	startCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "address the metrics/health HTTP server listens on")
	startCmd.Flags().String("data-dir", "./data", "directory for raft logs, snapshots, and the cluster-state store")
	startCmd.Flags().Bool("bootstrap", false, "bootstrap a brand-new single-node cluster instead of joining one")
	startCmd.Flags().StringSlice("peer", nil, "seed peer transport address to probe for cluster discovery (repeatable)")
	_ = startCmd.MarkFlagRequired("node-id")

	rootCmd.AddCommand(startCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start this node, bootstrapping or joining a cluster",
	RunE:  runStart,
}

// staticHosts answers a fixed address list for peers.HostsProvider,
// the simplest seed-discovery source (§4.I permits any static/DNS/file
// source; a daemon flag is sufficient for a single binary).
type staticHosts []peers.TransportAddress

func (h staticHosts) Addresses(ctx context.Context) ([]peers.TransportAddress, error) {
	return h, nil
}

func runStart(cmd *cobra.Command, args []string) error {
	nodeID, _ := cmd.Flags().GetString("node-id")
	raftAddr, _ := cmd.Flags().GetString("raft-addr")
	transportAddr, _ := cmd.Flags().GetString("transport-addr")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	bootstrap, _ := cmd.Flags().GetBool("bootstrap")
	peerFlags, _ := cmd.Flags().GetStringSlice("peer")

	cfg := node.Config{
		ID:            nodeID,
		RaftBindAddr:  raftAddr,
		TransportAddr: transportAddr,
		DataDir:       dataDir,
	}

	fmt.Printf("Starting warrensqld node %q\n", nodeID)
	fmt.Printf("  Raft address:      %s\n", raftAddr)
	fmt.Printf("  Transport address: %s\n", transportAddr)
	fmt.Printf("  Data directory:    %s\n", dataDir)

	var ctx *node.Context
	var err error
	if bootstrap {
		ctx, err = node.Bootstrap(cfg)
	} else {
		ctx, err = node.Join(cfg)
	}
	if err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	fmt.Println("✓ raft and cluster-state store initialized")

	selfVersion := cluster.NodeVersion{Major: 1, Minor: 0, Patch: 0}

	if len(peerFlags) > 0 {
		addrs := make(staticHosts, len(peerFlags))
		for i, p := range peerFlags {
			addrs[i] = peers.TransportAddress(p)
		}
		connector := &transport.PeerConnector{SelfID: nodeID, SelfVersion: selfVersion}
		finder := peers.New(nodeID, addrs, connector, nil)
		finder.EnableTCPHealthCheck(5 * time.Second)
		finder.Activate(context.Background())
		ctx.ActivatePeerFinder(finder)
		fmt.Printf("✓ peer finder activated, probing %d seed(s)\n", len(peerFlags))
	}

	metrics.SetVersion(Version)
	metrics.RegisterComponent("raft", true, "started")
	metrics.RegisterComponent("transport", true, "started")
	metrics.RegisterComponent("storage", true, "started")

	collector := metrics.NewCollector(ctx)
	collector.Start()
	fmt.Println("✓ metrics collector started")

	server := node.NewServer(ctx)
	errCh := make(chan error, 1)
	go func() {
		if err := http.ListenAndServe(transportAddr, server.Handler()); err != nil {
			errCh <- fmt.Errorf("internal RPC server error: %w", err)
		}
	}()
	fmt.Printf("✓ internal RPC server listening on %s\n", transportAddr)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsMux.Handle("/health", metrics.HealthHandler())
	metricsMux.Handle("/ready", metrics.ReadyHandler())
	metricsMux.Handle("/live", metrics.LivenessHandler())
	go func() {
		if err := http.ListenAndServe(metricsAddr, metricsMux); err != nil {
			errCh <- fmt.Errorf("metrics server error: %w", err)
		}
	}()
	fmt.Printf("✓ metrics endpoint:  http://%s/metrics\n", metricsAddr)
	fmt.Printf("✓ health endpoint:   http://%s/health\n", metricsAddr)

	time.Sleep(200 * time.Millisecond)
	fmt.Println()
	fmt.Println("node is running, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nshutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\n%v\n", err)
	}

	collector.Stop()
	if err := ctx.Shutdown(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	fmt.Println("✓ shutdown complete")
	return nil
}
