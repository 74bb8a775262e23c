// Package broker provides broker identity, health snapshots, and the
// metadata-store backed broker registry.
package broker

import (
	"fmt"
	"net"
	"sort"
	"strings"
)

// Status is a point-in-time health snapshot for one broker. It is produced
// by the health-collection side and consumed, never mutated, by policy
// evaluation.
type Status struct {
	// Address is the broker's host identifier (hostname or host:port).
	Address string `json:"brokerAddress"`

	// Active reports whether the broker is currently serving.
	Active bool `json:"active"`

	// LoadFactor is the broker's load signal in [0.0, 1.0].
	LoadFactor float64 `json:"loadFactor"`

	// MsSinceLastHeartbeat is the age of this snapshot's heartbeat.
	MsSinceLastHeartbeat int64 `json:"msSinceLastHeartbeat"`
}

// Host returns the hostname portion of the address, stripping any port.
func (s Status) Host() string {
	host, _, err := net.SplitHostPort(s.Address)
	if err != nil {
		return s.Address
	}
	return host
}

func (s Status) String() string {
	return fmt.Sprintf("%s active=%t load=%.2f", s.Address, s.Active, s.LoadFactor)
}

// StatusSet is a set of broker statuses ordered by address. The total order
// over addresses gives every iteration a deterministic, reproducible result.
//
// A StatusSet is not safe for concurrent mutation; callers pass a frozen
// snapshot into each evaluation call.
type StatusSet struct {
	items []Status
}

// NewStatusSet creates a StatusSet containing the given statuses.
// Duplicate addresses keep the last value added.
func NewStatusSet(statuses ...Status) *StatusSet {
	set := &StatusSet{}
	for _, st := range statuses {
		set.Add(st)
	}
	return set
}

// Add inserts a status, keeping the set ordered by address.
// An existing entry with the same address is replaced.
func (s *StatusSet) Add(st Status) {
	i := sort.Search(len(s.items), func(i int) bool {
		return s.items[i].Address >= st.Address
	})
	if i < len(s.items) && s.items[i].Address == st.Address {
		s.items[i] = st
		return
	}
	s.items = append(s.items, Status{})
	copy(s.items[i+1:], s.items[i:])
	s.items[i] = st
}

// Contains reports whether a broker with the given address is in the set.
func (s *StatusSet) Contains(address string) bool {
	_, ok := s.Get(address)
	return ok
}

// Get returns the status for the given address.
func (s *StatusSet) Get(address string) (Status, bool) {
	i := sort.Search(len(s.items), func(i int) bool {
		return s.items[i].Address >= address
	})
	if i < len(s.items) && s.items[i].Address == address {
		return s.items[i], true
	}
	return Status{}, false
}

// Len returns the number of statuses in the set.
func (s *StatusSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// All returns the statuses in address order. The returned slice is a copy.
func (s *StatusSet) All() []Status {
	if s == nil {
		return nil
	}
	out := make([]Status, len(s.items))
	copy(out, s.items)
	return out
}

// Addresses returns the broker addresses in order.
func (s *StatusSet) Addresses() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.items))
	for i, st := range s.items {
		out[i] = st.Address
	}
	return out
}

func (s *StatusSet) String() string {
	if s == nil || len(s.items) == 0 {
		return "[]"
	}
	parts := make([]string, len(s.items))
	for i, st := range s.items {
		parts[i] = st.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
