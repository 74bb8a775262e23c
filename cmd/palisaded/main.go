package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/palisade-io/palisade/internal/config"
	"github.com/palisade-io/palisade/internal/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	// Handle version flag before subcommand parsing
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-version") {
		fmt.Printf("palisaded version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	subcommand := os.Args[1]
	switch subcommand {
	case "serve":
		runServe(os.Args[2:])
	case "check":
		runCheck(os.Args[2:])
	case "version":
		fmt.Printf("palisaded version %s (built %s, commit %s)\n", version, buildTime, gitCommit)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: palisaded <command> [options]

Commands:
  serve       Start the isolation policy node (registration, admin API, watcher)
  check       Validate isolation policy definitions offline
  version     Print version information

Run 'palisaded <command> --help' for more information on a command.`)
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	adminAddr := fs.String("admin-addr", "", "Override admin/health endpoint address (e.g., :8080)")
	metricsAddr := fs.String("metrics-addr", "", "Override metrics endpoint address (e.g., :9090)")
	brokerAddr := fs.String("broker-addr", "", "Override advertised broker address (e.g., broker-1.example.com:6650)")
	brokerID := fs.String("broker-id", "", "Override broker ID (default: auto-generated UUID)")
	clusterID := fs.String("cluster-id", "", "Override cluster ID (default: from config)")

	fs.Usage = func() {
		fmt.Println(`Usage: palisaded serve [options]

Start the Palisade node: registers this broker, loads namespace isolation
policies, and serves the admin API.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	// Load configuration
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromPath(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Apply CLI overrides
	if *adminAddr != "" {
		cfg.Observability.AdminAddr = *adminAddr
	}
	if *metricsAddr != "" {
		cfg.Observability.MetricsAddr = *metricsAddr
	}
	if *brokerAddr != "" {
		cfg.Broker.Address = *brokerAddr
	}
	if *clusterID != "" {
		cfg.ClusterID = *clusterID
	}
	if *brokerID != "" {
		cfg.Broker.BrokerID = *brokerID
	}
	if cfg.Broker.BrokerID == "" {
		cfg.Broker.BrokerID = uuid.New().String()
	}

	// Set up logger
	logger := logging.Configure(cfg.Observability.LogLevel, cfg.Observability.LogFormat)

	node, err := NewNode(NodeOptions{
		Config:    cfg,
		Logger:    logger,
		BrokerID:  cfg.Broker.BrokerID,
		Version:   version,
		GitCommit: gitCommit,
		BuildTime: buildTime,
	})
	if err != nil {
		logger.Errorf("failed to create node", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	// Set up signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- node.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		logger.Infof("received shutdown signal", map[string]any{"signal": sig.String()})
	case err := <-errCh:
		if err != nil {
			logger.Errorf("node error", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := node.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown error", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}
