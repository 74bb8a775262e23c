package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/palisade-io/palisade/internal/logging"
	"github.com/palisade-io/palisade/internal/metadata"
	"github.com/palisade-io/palisade/internal/metadata/keys"
)

// ErrAlreadyRegistered is returned when a broker ID is already registered
// by another live session.
var ErrAlreadyRegistered = errors.New("broker: already registered")

// HeartbeatStaleAfter is how long a registration may go without a heartbeat
// before its broker is reported inactive. Ephemeral keys vanish when the
// store session ends, but a wedged broker can keep its session alive while
// the heartbeat loop is stuck; staleness catches that case.
const HeartbeatStaleAfter = 30 * time.Second

// Info holds the registration record for one broker.
type Info struct {
	// BrokerID is the unique identifier for this broker.
	BrokerID string `json:"brokerId"`

	// Address is the host:port address matched against isolation policy
	// primary/secondary patterns and used by clients to connect.
	Address string `json:"address"`

	// LoadFactor is the broker's most recently reported load in [0.0, 1.0].
	LoadFactor float64 `json:"loadFactor"`

	// LastHeartbeat is the Unix timestamp (milliseconds) of the most recent
	// heartbeat.
	LastHeartbeat int64 `json:"lastHeartbeat"`

	// StartedAt is the Unix timestamp (milliseconds) when the broker started.
	StartedAt int64 `json:"startedAt"`
}

// Status converts a registration record into a health snapshot at time now.
// A broker whose heartbeat has gone stale is reported inactive.
func (i Info) Status(now time.Time) Status {
	msSince := now.UnixMilli() - i.LastHeartbeat
	return Status{
		Address:              i.Address,
		Active:               msSince <= HeartbeatStaleAfter.Milliseconds(),
		LoadFactor:           i.LoadFactor,
		MsSinceLastHeartbeat: msSince,
	}
}

// RegistryConfig configures the broker registry.
type RegistryConfig struct {
	// ClusterID is the identifier for this Palisade cluster.
	ClusterID string

	// BrokerID is the unique identifier for this broker.
	BrokerID string

	// Address is the host:port address advertised to clients and matched
	// against isolation policy patterns.
	Address string

	// Logger for registration events.
	Logger *logging.Logger
}

// Registry manages broker registration and discovery using ephemeral keys
// in the metadata store. Brokers register themselves on startup, and the
// registration is automatically cleaned up when the broker's session
// expires (e.g., due to crash or shutdown).
type Registry struct {
	store  metadata.MetadataStore
	config RegistryConfig
	logger *logging.Logger

	mu         sync.RWMutex
	registered bool
	loadFactor float64
	startedAt  int64
}

// NewRegistry creates a new broker registry.
func NewRegistry(store metadata.MetadataStore, config RegistryConfig) *Registry {
	logger := config.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}

	return &Registry{
		store:     store,
		config:    config,
		logger:    logger,
		startedAt: time.Now().UnixMilli(),
	}
}

// Register registers this broker with an ephemeral key.
// The key will be automatically deleted when the session ends.
// Returns ErrAlreadyRegistered if another session holds the broker ID.
func (r *Registry) Register(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := keys.BrokerKeyPath(r.config.ClusterID, r.config.BrokerID)
	data, err := json.Marshal(r.infoLocked(time.Now()))
	if err != nil {
		return fmt.Errorf("broker: failed to marshal registration: %w", err)
	}

	_, err = r.store.PutEphemeral(ctx, key, data, metadata.WithEphemeralExpectNotExists())
	if err != nil {
		if errors.Is(err, metadata.ErrVersionMismatch) {
			return fmt.Errorf("%w: broker id %q", ErrAlreadyRegistered, r.config.BrokerID)
		}
		return fmt.Errorf("broker: failed to register: %w", err)
	}

	r.registered = true
	r.logger.Infof("broker registered", map[string]any{
		"brokerId": r.config.BrokerID,
		"address":  r.config.Address,
		"key":      key,
	})

	return nil
}

// Heartbeat refreshes this broker's registration with its current load factor.
// Call periodically while the broker is serving.
func (r *Registry) Heartbeat(ctx context.Context, loadFactor float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.registered {
		return errors.New("broker: heartbeat before registration")
	}
	r.loadFactor = loadFactor

	key := keys.BrokerKeyPath(r.config.ClusterID, r.config.BrokerID)
	data, err := json.Marshal(r.infoLocked(time.Now()))
	if err != nil {
		return fmt.Errorf("broker: failed to marshal registration: %w", err)
	}

	if _, err := r.store.PutEphemeral(ctx, key, data); err != nil {
		return fmt.Errorf("broker: heartbeat failed: %w", err)
	}
	return nil
}

// Deregister explicitly removes the broker registration.
// This is optional since ephemeral keys are automatically cleaned up on session end.
func (r *Registry) Deregister(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.registered {
		return nil
	}

	key := keys.BrokerKeyPath(r.config.ClusterID, r.config.BrokerID)

	if err := r.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("broker: failed to deregister: %w", err)
	}

	r.registered = false
	r.logger.Infof("broker deregistered", map[string]any{
		"brokerId": r.config.BrokerID,
		"key":      key,
	})

	return nil
}

// ListBrokers returns all registered brokers in the cluster.
func (r *Registry) ListBrokers(ctx context.Context) ([]Info, error) {
	prefix := keys.BrokersPrefix(r.config.ClusterID)

	kvs, err := r.store.List(ctx, prefix, "", 0)
	if err != nil {
		return nil, fmt.Errorf("broker: failed to list brokers: %w", err)
	}

	var brokers []Info
	for _, kv := range kvs {
		var info Info
		if err := json.Unmarshal(kv.Value, &info); err != nil {
			r.logger.Warnf("failed to unmarshal broker registration", map[string]any{
				"key":   kv.Key,
				"error": err.Error(),
			})
			continue
		}
		brokers = append(brokers, info)
	}

	return brokers, nil
}

// Addresses returns the addresses of all registered brokers, in registry
// (lexicographic key) order. This is the candidate list handed to isolation
// policy placement queries.
func (r *Registry) Addresses(ctx context.Context) ([]string, error) {
	brokers, err := r.ListBrokers(ctx)
	if err != nil {
		return nil, err
	}
	addrs := make([]string, len(brokers))
	for i, b := range brokers {
		addrs[i] = b.Address
	}
	return addrs, nil
}

// Statuses returns a health snapshot set for all registered brokers.
func (r *Registry) Statuses(ctx context.Context) (*StatusSet, error) {
	brokers, err := r.ListBrokers(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	set := NewStatusSet()
	for _, b := range brokers {
		set.Add(b.Status(now))
	}
	return set, nil
}

// GetBroker retrieves the registration for a specific broker.
func (r *Registry) GetBroker(ctx context.Context, brokerID string) (Info, bool, error) {
	key := keys.BrokerKeyPath(r.config.ClusterID, brokerID)

	result, err := r.store.Get(ctx, key)
	if err != nil {
		return Info{}, false, fmt.Errorf("broker: failed to get broker: %w", err)
	}

	if !result.Exists {
		return Info{}, false, nil
	}

	var info Info
	if err := json.Unmarshal(result.Value, &info); err != nil {
		return Info{}, false, fmt.Errorf("broker: failed to unmarshal registration: %w", err)
	}

	return info, true, nil
}

// IsRegistered returns whether this broker is currently registered.
func (r *Registry) IsRegistered() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.registered
}

// LocalBrokerID returns this broker's ID.
func (r *Registry) LocalBrokerID() string {
	return r.config.BrokerID
}

// ClusterID returns the cluster ID this registry is associated with.
func (r *Registry) ClusterID() string {
	return r.config.ClusterID
}

// Name implements the readiness checker interface.
func (r *Registry) Name() string {
	return "broker-registry"
}

// CheckReady reports readiness: the local broker must hold its registration.
func (r *Registry) CheckReady(ctx context.Context) error {
	if !r.IsRegistered() {
		return errors.New("broker: not registered")
	}
	_, exists, err := r.GetBroker(ctx, r.config.BrokerID)
	if err != nil {
		return err
	}
	if !exists {
		return errors.New("broker: registration key missing")
	}
	return nil
}

func (r *Registry) infoLocked(now time.Time) Info {
	return Info{
		BrokerID:      r.config.BrokerID,
		Address:       r.config.Address,
		LoadFactor:    r.loadFactor,
		LastHeartbeat: now.UnixMilli(),
		StartedAt:     r.startedAt,
	}
}
