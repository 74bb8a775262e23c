package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/palisade-io/palisade/internal/broker"
	"github.com/palisade-io/palisade/internal/config"
	"github.com/palisade-io/palisade/internal/isolation"
	"github.com/palisade-io/palisade/internal/logging"
	"github.com/palisade-io/palisade/internal/metadata"
	"github.com/palisade-io/palisade/internal/metadata/oxia"
	"github.com/palisade-io/palisade/internal/metrics"
	"github.com/palisade-io/palisade/internal/policies"
	"github.com/palisade-io/palisade/internal/server"
)

// NodeOptions contains the configuration for creating a node.
type NodeOptions struct {
	Config    *config.Config
	Logger    *logging.Logger
	BrokerID  string
	Version   string
	GitCommit string
	BuildTime string
}

// Node is a running Palisade instance: broker registration, the policy
// manager with its watcher, and the admin/metrics HTTP servers.
type Node struct {
	opts          NodeOptions
	logger        *logging.Logger
	metaStore     metadata.MetadataStore
	registry      *broker.Registry
	manager       *policies.Manager
	policyMetrics *metrics.PolicyMetrics
	healthServer  *server.HealthServer
	adminAPI      *server.AdminAPI
	metricsServer *metrics.Server

	mu      sync.Mutex
	started bool
}

// NewNode creates a new Node instance but does not start it.
func NewNode(opts NodeOptions) (*Node, error) {
	if opts.Logger == nil {
		opts.Logger = logging.DefaultLogger()
	}
	return &Node{
		opts:   opts,
		logger: opts.Logger,
	}, nil
}

// Start initializes and starts all node components. It blocks until the
// context is cancelled.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.started {
		n.mu.Unlock()
		return fmt.Errorf("node already started")
	}
	n.started = true
	n.mu.Unlock()

	cfg := n.opts.Config

	n.logger.Infof("starting node", map[string]any{
		"brokerId":  n.opts.BrokerID,
		"clusterId": cfg.ClusterID,
		"address":   cfg.Broker.Address,
		"version":   n.opts.Version,
	})

	// Connect to the metadata store.
	store, err := oxia.New(ctx, oxia.Config{
		ServiceAddress: cfg.Metadata.OxiaEndpoint,
		Namespace:      cfg.Metadata.Namespace,
		RequestTimeout: time.Duration(cfg.Metadata.RequestTimeoutMs) * time.Millisecond,
		SessionTimeout: time.Duration(cfg.Metadata.SessionTimeoutMs) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to metadata store: %w", err)
	}
	n.metaStore = store

	n.policyMetrics = metrics.NewPolicyMetrics()

	// Register this broker with an ephemeral key.
	n.registry = broker.NewRegistry(n.metaStore, broker.RegistryConfig{
		ClusterID: cfg.ClusterID,
		BrokerID:  n.opts.BrokerID,
		Address:   cfg.Broker.Address,
		Logger:    n.logger,
	})
	if err := n.registry.Register(ctx); err != nil {
		return fmt.Errorf("failed to register broker: %w", err)
	}

	// Load isolation policies and keep them current.
	n.manager = policies.NewManager(n.metaStore, policies.Config{
		ClusterID: cfg.ClusterID,
		Logger:    n.logger,
		Metrics:   n.policyMetrics,
	})
	if err := n.manager.Load(ctx); err != nil {
		return fmt.Errorf("failed to load isolation policies: %w", err)
	}
	if cfg.Isolation.BootstrapPath != "" {
		if err := n.bootstrapPolicies(ctx, cfg.Isolation.BootstrapPath); err != nil {
			return fmt.Errorf("failed to bootstrap policies: %w", err)
		}
	}

	// Start the admin server with health endpoints and the /v1 API.
	n.healthServer = server.NewHealthServer(cfg.Observability.AdminAddr, n.logger)
	n.healthServer.RegisterReadinessCheck(server.NewMetadataStoreChecker(n.metaStore))
	n.healthServer.RegisterReadinessCheck(n.registry)
	n.healthServer.RegisterReadinessCheck(n.manager)

	n.adminAPI = server.NewAdminAPI(server.AdminConfig{
		Manager:  n.manager,
		Registry: n.registry,
		Logger:   n.logger,
		Metrics:  n.policyMetrics,
	})
	n.healthServer.RegisterHandler("/v1/", n.adminAPI.Handler())

	if err := n.healthServer.Start(); err != nil {
		return fmt.Errorf("failed to start admin server: %w", err)
	}

	// Metrics server on a separate address for Prometheus scraping.
	n.metricsServer = metrics.NewServer(cfg.Observability.MetricsAddr)
	if err := n.metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	n.logger.Infof("metrics server listening", map[string]any{
		"addr": n.metricsServer.Addr(),
	})

	go n.runWatcher(ctx)
	go n.runHeartbeat(ctx)

	<-ctx.Done()
	return nil
}

// runWatcher keeps the policy cache current, reconnecting on stream errors.
func (n *Node) runWatcher(ctx context.Context) {
	n.healthServer.RegisterGoroutine("policy-watcher")
	defer n.healthServer.UnregisterGoroutine("policy-watcher")

	// The watch blocks inside the notification stream, so a companion ticker
	// refreshes the liveness timestamp while the watcher is running.
	keepaliveDone := make(chan struct{})
	defer close(keepaliveDone)
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n.healthServer.UpdateGoroutine("policy-watcher")
			case <-keepaliveDone:
				return
			}
		}
	}()

	for ctx.Err() == nil {
		err := n.manager.Watch(ctx)
		if ctx.Err() != nil {
			return
		}
		n.logger.Warnf("policy watch failed, resubscribing", map[string]any{
			"error": err.Error(),
		})
		// Re-list before resubscribing so changes made during the gap are
		// not lost.
		if err := n.manager.Load(ctx); err != nil {
			n.logger.Warnf("policy reload failed", map[string]any{
				"error": err.Error(),
			})
		}

		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return
		}
	}
}

// runHeartbeat periodically refreshes this broker's registration record,
// reporting a load factor derived from the admin request rate over the
// last interval.
func (n *Node) runHeartbeat(ctx context.Context) {
	n.healthServer.RegisterGoroutine("broker-heartbeat")
	defer n.healthServer.UnregisterGoroutine("broker-heartbeat")

	interval := time.Duration(n.opts.Config.Broker.HeartbeatIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastServed := n.adminAPI.RequestCount()
	for {
		select {
		case <-ticker.C:
			served := n.adminAPI.RequestCount()
			load := requestLoadFactor(served-lastServed, interval, n.opts.Config.Broker.MaxRequestRate)
			lastServed = served

			if err := n.registry.Heartbeat(ctx, load); err != nil {
				n.logger.Warnf("heartbeat failed", map[string]any{
					"error": err.Error(),
				})
			}
			n.healthServer.UpdateGoroutine("broker-heartbeat")
		case <-ctx.Done():
			return
		}
	}
}

// requestLoadFactor converts a served-request delta over one heartbeat
// interval into a load factor in [0, 1], scaled so that maxPerSecond
// requests per second reports 1.0.
func requestLoadFactor(delta uint64, interval time.Duration, maxPerSecond int64) float64 {
	if maxPerSecond <= 0 || interval <= 0 {
		return 0
	}
	load := float64(delta) / interval.Seconds() / float64(maxPerSecond)
	if load > 1 {
		return 1
	}
	return load
}

// bootstrapPolicies applies isolation policy definitions from a YAML file
// (group name mapped to definition). Definitions already in the store win
// only if structurally different; equal definitions are no-ops.
func (n *Node) bootstrapPolicies(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var defs map[string]isolation.Data
	if err := yaml.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("invalid bootstrap file %s: %w", path, err)
	}

	groups := make([]string, 0, len(defs))
	for g := range defs {
		groups = append(groups, g)
	}
	sort.Strings(groups)

	for _, group := range groups {
		if err := n.manager.Set(ctx, group, defs[group]); err != nil {
			return fmt.Errorf("bootstrap policy %q: %w", group, err)
		}
	}

	n.logger.Infof("bootstrap policies applied", map[string]any{
		"path": path, "count": len(defs),
	})
	return nil
}

// Shutdown gracefully stops the node.
func (n *Node) Shutdown(ctx context.Context) error {
	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return nil
	}
	n.mu.Unlock()

	n.logger.Info("shutting down node")

	if n.healthServer != nil {
		n.healthServer.SetShuttingDown()
	}

	if n.registry != nil {
		if err := n.registry.Deregister(ctx); err != nil {
			n.logger.Warnf("failed to deregister broker", map[string]any{
				"error": err.Error(),
			})
		}
	}

	if n.healthServer != nil {
		if err := n.healthServer.Close(); err != nil {
			n.logger.Warnf("error closing admin server", map[string]any{
				"error": err.Error(),
			})
		}
	}

	if n.metricsServer != nil {
		if err := n.metricsServer.Close(); err != nil {
			n.logger.Warnf("error closing metrics server", map[string]any{
				"error": err.Error(),
			})
		}
	}

	if n.metaStore != nil {
		if err := n.metaStore.Close(); err != nil {
			n.logger.Warnf("error closing metadata store", map[string]any{
				"error": err.Error(),
			})
		}
	}

	n.logger.Info("node shutdown complete")
	return nil
}
