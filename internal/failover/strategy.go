// Package failover provides pluggable broker availability and failover
// decision strategies for namespace isolation policies.
//
// A strategy answers two questions: is a given broker currently available,
// and should traffic move from primary to secondary brokers given the
// health of the primary set. The concrete threshold algorithm is selected
// and parameterized from configuration at policy-load time; the isolation
// core delegates to it without holding any threshold logic itself.
package failover

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/palisade-io/palisade/internal/broker"
)

// Strategy decides broker availability and primary-to-secondary failover.
// Implementations must be immutable after construction so a policy holding
// one is safe for unsynchronized concurrent use.
type Strategy interface {
	// IsBrokerAvailable reports whether the broker described by the
	// snapshot is currently available to host namespaces.
	IsBrokerAvailable(st broker.Status) bool

	// ShouldFailover reports whether traffic should move to secondary
	// brokers given the current primary-set health.
	ShouldFailover(primaries *broker.StatusSet) bool

	// ShouldFailoverCount is the count-based variant for callers that
	// already computed the number of available primary brokers.
	ShouldFailoverCount(availablePrimaries int) bool

	// String renders the strategy and its parameters for diagnostics.
	String() string
}

// Strategy names accepted in configuration.
const (
	// PolicyMinAvailable fails over when fewer than min_limit primary
	// brokers are available.
	PolicyMinAvailable = "min_available"
)

// Parameter names for the min_available strategy.
const (
	ParamMinLimit       = "min_limit"
	ParamUsageThreshold = "usage_threshold"
)

// Construction errors.
var (
	// ErrUnknownPolicy is returned when the configured strategy name is
	// not recognized.
	ErrUnknownPolicy = errors.New("failover: unknown strategy")

	// ErrInvalidParameter is returned when a strategy parameter is missing
	// or cannot be parsed.
	ErrInvalidParameter = errors.New("failover: invalid strategy parameter")
)

// Config is the serializable strategy selection fragment carried inside an
// isolation policy definition.
type Config struct {
	// Policy selects the strategy implementation, e.g. "min_available".
	Policy string `json:"policy" yaml:"policy"`

	// Parameters holds strategy-specific settings as strings.
	Parameters map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Equal reports structural equality of two strategy configurations.
func (c Config) Equal(other Config) bool {
	if c.Policy != other.Policy || len(c.Parameters) != len(other.Parameters) {
		return false
	}
	for k, v := range c.Parameters {
		if ov, ok := other.Parameters[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// New builds a Strategy from configuration. Unknown strategy names and
// malformed parameters are construction-time errors.
func New(cfg Config) (Strategy, error) {
	switch cfg.Policy {
	case PolicyMinAvailable:
		return newMinAvailable(cfg.Parameters)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, cfg.Policy)
	}
}

func intParam(params map[string]string, name string) (int, error) {
	raw, ok := params[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidParameter, name)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q: %v", ErrInvalidParameter, name, raw, err)
	}
	return v, nil
}

func floatParam(params map[string]string, name string) (float64, error) {
	raw, ok := params[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidParameter, name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q: %v", ErrInvalidParameter, name, raw, err)
	}
	return v, nil
}
