// Package keys provides key encoding/decoding for the Palisade keyspace.
//
// Broker registrations are ephemeral keys:
//
//	/palisade/v1/cluster/<clusterId>/brokers/<brokerId>
//
// Isolation policy definitions are durable keys, one per isolation group:
//
//	/palisade/v1/cluster/<clusterId>/isolation/<group>
package keys

import (
	"errors"
	"fmt"
	"strings"
)

// Key prefixes.
const (
	// Prefix is the root prefix for all Palisade keys.
	Prefix = "/palisade/v1"

	// ClusterPrefix is the prefix for cluster-scoped metadata.
	ClusterPrefix = Prefix + "/cluster"
)

// Common errors.
var (
	// ErrInvalidKey is returned when a key cannot be parsed.
	ErrInvalidKey = errors.New("keys: invalid key format")
)

// ClusterKeyPath returns the key for cluster-level metadata.
func ClusterKeyPath(clusterID string) string {
	return fmt.Sprintf("%s/%s", ClusterPrefix, clusterID)
}

// BrokerKeyPath returns the ephemeral registration key for a broker.
func BrokerKeyPath(clusterID, brokerID string) string {
	return fmt.Sprintf("%s/%s/brokers/%s", ClusterPrefix, clusterID, brokerID)
}

// BrokersPrefix returns the prefix for listing all brokers in a cluster.
func BrokersPrefix(clusterID string) string {
	return fmt.Sprintf("%s/%s/brokers/", ClusterPrefix, clusterID)
}

// ParseBrokerKey extracts the cluster ID and broker ID from a broker key.
func ParseBrokerKey(key string) (clusterID, brokerID string, err error) {
	rest, ok := strings.CutPrefix(key, ClusterPrefix+"/")
	if !ok {
		return "", "", fmt.Errorf("%w: %q is not a broker key", ErrInvalidKey, key)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "brokers" || parts[0] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("%w: %q is not a broker key", ErrInvalidKey, key)
	}
	return parts[0], parts[2], nil
}

// IsolationPolicyKeyPath returns the key for an isolation policy definition.
func IsolationPolicyKeyPath(clusterID, group string) string {
	return fmt.Sprintf("%s/%s/isolation/%s", ClusterPrefix, clusterID, group)
}

// IsolationPoliciesPrefix returns the prefix for listing all isolation policies.
func IsolationPoliciesPrefix(clusterID string) string {
	return fmt.Sprintf("%s/%s/isolation/", ClusterPrefix, clusterID)
}

// ParseIsolationPolicyKey extracts the cluster ID and group name from a policy key.
func ParseIsolationPolicyKey(key string) (clusterID, group string, err error) {
	rest, ok := strings.CutPrefix(key, ClusterPrefix+"/")
	if !ok {
		return "", "", fmt.Errorf("%w: %q is not an isolation policy key", ErrInvalidKey, key)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "isolation" || parts[0] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("%w: %q is not an isolation policy key", ErrInvalidKey, key)
	}
	return parts[0], parts[2], nil
}
