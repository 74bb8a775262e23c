package failover

import (
	"fmt"

	"github.com/palisade-io/palisade/internal/broker"
)

// minAvailable fails over when fewer than minLimit primary brokers are
// available. A broker counts as available when it is active and its load
// factor is below the usage threshold.
type minAvailable struct {
	minLimit       int
	usageThreshold float64
}

func newMinAvailable(params map[string]string) (*minAvailable, error) {
	minLimit, err := intParam(params, ParamMinLimit)
	if err != nil {
		return nil, err
	}
	if minLimit < 0 {
		return nil, fmt.Errorf("%w: %s must be non-negative, got %d", ErrInvalidParameter, ParamMinLimit, minLimit)
	}

	threshold, err := floatParam(params, ParamUsageThreshold)
	if err != nil {
		return nil, err
	}
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: %s must be in (0, 1], got %g", ErrInvalidParameter, ParamUsageThreshold, threshold)
	}

	return &minAvailable{
		minLimit:       minLimit,
		usageThreshold: threshold,
	}, nil
}

// IsBrokerAvailable reports whether the broker is active and under the
// usage threshold.
func (m *minAvailable) IsBrokerAvailable(st broker.Status) bool {
	return st.Active && st.LoadFactor < m.usageThreshold
}

// ShouldFailover counts available brokers in the primary set and triggers
// when the count drops below the minimum.
func (m *minAvailable) ShouldFailover(primaries *broker.StatusSet) bool {
	available := 0
	for _, st := range primaries.All() {
		if m.IsBrokerAvailable(st) {
			available++
		}
	}
	return m.ShouldFailoverCount(available)
}

// ShouldFailoverCount triggers when availablePrimaries < min_limit.
func (m *minAvailable) ShouldFailoverCount(availablePrimaries int) bool {
	return availablePrimaries < m.minLimit
}

func (m *minAvailable) String() string {
	return fmt.Sprintf("min_available(min_limit=%d usage_threshold=%g)", m.minLimit, m.usageThreshold)
}
