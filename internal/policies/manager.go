// Package policies loads namespace isolation policy definitions from the
// metadata store, compiles them, and keeps the compiled cache current by
// watching for changes.
//
// Definitions are stored as JSON, one key per isolation group. Compiled
// policies are immutable; an update replaces the cache entry wholesale.
// Reloads that produce a structurally equal policy are detected with
// Policy.Equal and skipped, so config refreshes that change nothing are
// no-ops.
package policies

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/palisade-io/palisade/internal/isolation"
	"github.com/palisade-io/palisade/internal/logging"
	"github.com/palisade-io/palisade/internal/metadata"
	"github.com/palisade-io/palisade/internal/metadata/keys"
	"github.com/palisade-io/palisade/internal/metrics"
)

// ErrGroupNotFound is returned when no policy exists for an isolation group.
var ErrGroupNotFound = errors.New("policies: isolation group not found")

// Manager owns the compiled policy cache for one cluster.
type Manager struct {
	store     metadata.MetadataStore
	clusterID string
	logger    *logging.Logger
	metrics   *metrics.PolicyMetrics

	mu       sync.RWMutex
	policies map[string]*isolation.Policy
}

// Config configures a Manager.
type Config struct {
	// ClusterID scopes the metadata keyspace.
	ClusterID string

	// Logger for reload events.
	Logger *logging.Logger

	// Metrics is optional; when nil, no metrics are recorded.
	Metrics *metrics.PolicyMetrics
}

// NewManager creates a policy manager backed by the given metadata store.
func NewManager(store metadata.MetadataStore, cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Manager{
		store:     store,
		clusterID: cfg.ClusterID,
		logger:    logger,
		metrics:   cfg.Metrics,
		policies:  make(map[string]*isolation.Policy),
	}
}

// Load reads all policy definitions from the store and replaces the cache.
// Definitions that fail to compile are skipped with a warning so one bad
// policy cannot take down the rest.
func (m *Manager) Load(ctx context.Context) error {
	prefix := keys.IsolationPoliciesPrefix(m.clusterID)

	kvs, err := m.store.List(ctx, prefix, "", 0)
	if err != nil {
		return fmt.Errorf("policies: failed to list definitions: %w", err)
	}

	loaded := make(map[string]*isolation.Policy, len(kvs))
	for _, kv := range kvs {
		_, group, err := keys.ParseIsolationPolicyKey(kv.Key)
		if err != nil {
			m.logger.Warnf("skipping unparseable policy key", map[string]any{
				"key": kv.Key, "error": err.Error(),
			})
			continue
		}
		policy, err := m.compile(kv.Value)
		if err != nil {
			m.reloadCount(metrics.ReloadFailed)
			m.logger.Warnf("skipping invalid policy definition", map[string]any{
				"group": group, "error": err.Error(),
			})
			continue
		}
		loaded[group] = policy
	}

	m.mu.Lock()
	m.policies = loaded
	m.mu.Unlock()

	m.setLoadedGauge(len(loaded))
	m.logger.Infof("isolation policies loaded", map[string]any{
		"cluster": m.clusterID, "count": len(loaded),
	})
	return nil
}

// Set validates, persists, and caches a policy definition for a group.
func (m *Manager) Set(ctx context.Context, group string, data isolation.Data) error {
	if group == "" {
		return errors.New("policies: group name is required")
	}

	policy, err := isolation.NewPolicy(data)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("policies: failed to marshal definition: %w", err)
	}

	key := keys.IsolationPolicyKeyPath(m.clusterID, group)
	if _, err := m.store.Put(ctx, key, raw); err != nil {
		return fmt.Errorf("policies: failed to store definition: %w", err)
	}

	m.apply(group, policy)
	return nil
}

// Delete removes a group's policy definition from the store and the cache.
func (m *Manager) Delete(ctx context.Context, group string) error {
	key := keys.IsolationPolicyKeyPath(m.clusterID, group)
	if err := m.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("policies: failed to delete definition: %w", err)
	}
	m.remove(group)
	return nil
}

// Get returns the compiled policy for an isolation group.
func (m *Manager) Get(group string) (*isolation.Policy, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[group]
	return p, ok
}

// Groups returns the cached group names in lexicographic order.
func (m *Manager) Groups() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	groups := make([]string, 0, len(m.policies))
	for g := range m.policies {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// Resolve finds the policy governing a namespace. Groups are scanned in
// lexicographic order so resolution is deterministic when pattern lists
// overlap.
func (m *Manager) Resolve(namespace string) (string, *isolation.Policy, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	groups := make([]string, 0, len(m.policies))
	for g := range m.policies {
		groups = append(groups, g)
	}
	sort.Strings(groups)

	for _, g := range groups {
		if m.policies[g].MatchesNamespace(namespace) {
			m.resolutionCount(metrics.ResultGoverned)
			return g, m.policies[g], true
		}
	}
	m.resolutionCount(metrics.ResultUnmatched)
	return "", nil, false
}

// Watch subscribes to metadata store notifications and keeps the cache
// current until the context is cancelled. It blocks; run it in its own
// goroutine.
func (m *Manager) Watch(ctx context.Context) error {
	stream, err := m.store.Notifications(ctx)
	if err != nil {
		return fmt.Errorf("policies: failed to subscribe: %w", err)
	}
	defer stream.Close()

	for {
		n, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("policies: watch stream failed: %w", err)
		}

		_, group, err := keys.ParseIsolationPolicyKey(n.Key)
		if err != nil {
			// Not an isolation policy key (e.g. broker registration); ignore.
			continue
		}

		if n.Deleted {
			m.remove(group)
			continue
		}

		value := n.Value
		if value == nil {
			// Some stores deliver key-only notifications; fetch the value.
			result, err := m.store.Get(ctx, n.Key)
			if err != nil || !result.Exists {
				continue
			}
			value = result.Value
		}

		policy, err := m.compile(value)
		if err != nil {
			m.reloadCount(metrics.ReloadFailed)
			m.logger.Warnf("ignoring invalid policy update", map[string]any{
				"group": group, "error": err.Error(),
			})
			continue
		}
		m.apply(group, policy)
	}
}

// Name implements the readiness checker interface.
func (m *Manager) Name() string {
	return "policy-manager"
}

// CheckReady verifies the definitions prefix is listable.
func (m *Manager) CheckReady(ctx context.Context) error {
	_, err := m.store.List(ctx, keys.IsolationPoliciesPrefix(m.clusterID), "", 1)
	return err
}

func (m *Manager) compile(raw []byte) (*isolation.Policy, error) {
	var data isolation.Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("policies: failed to decode definition: %w", err)
	}
	return isolation.NewPolicy(data)
}

// apply installs a compiled policy, skipping structurally equal reloads.
func (m *Manager) apply(group string, policy *isolation.Policy) {
	m.mu.Lock()
	existing, ok := m.policies[group]
	if ok && existing.Equal(policy) {
		m.mu.Unlock()
		m.reloadCount(metrics.ReloadNoop)
		m.logger.Debugf("policy unchanged, skipping reload", map[string]any{"group": group})
		return
	}
	m.policies[group] = policy
	count := len(m.policies)
	m.mu.Unlock()

	m.setLoadedGauge(count)
	m.reloadCount(metrics.ReloadApplied)
	m.logger.Infof("isolation policy applied", map[string]any{
		"group": group, "policy": policy.String(),
	})
}

func (m *Manager) remove(group string) {
	m.mu.Lock()
	_, ok := m.policies[group]
	delete(m.policies, group)
	count := len(m.policies)
	m.mu.Unlock()

	if !ok {
		return
	}
	m.setLoadedGauge(count)
	m.reloadCount(metrics.ReloadRemoved)
	m.logger.Infof("isolation policy removed", map[string]any{"group": group})
}

func (m *Manager) setLoadedGauge(count int) {
	if m.metrics != nil {
		m.metrics.PoliciesLoaded.Set(float64(count))
	}
}

func (m *Manager) reloadCount(kind string) {
	if m.metrics != nil {
		m.metrics.ReloadsTotal.WithLabelValues(kind).Inc()
	}
}

func (m *Manager) resolutionCount(result string) {
	if m.metrics != nil {
		m.metrics.ResolutionsTotal.WithLabelValues(result).Inc()
	}
}
