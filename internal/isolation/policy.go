// Package isolation implements namespace isolation policy evaluation:
// deciding whether a policy governs a namespace, which brokers are eligible
// to host it as primary or secondary, and whether traffic should fail over
// from primary to secondary brokers based on live availability signals.
//
// A Policy is immutable after construction and safe for unsynchronized
// concurrent reads. Every operation is a pure computation over the policy
// and caller-supplied snapshots; no broker health is cached here. On a
// policy update the loader builds a new Policy and replaces the old one
// wholesale.
package isolation

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"sort"
	"strings"

	"github.com/palisade-io/palisade/internal/broker"
	"github.com/palisade-io/palisade/internal/failover"
)

// Policy is a compiled namespace isolation policy: namespace-match patterns,
// primary/secondary broker-match patterns, and the failover strategy built
// once from configuration.
type Policy struct {
	data       Data
	namespaces []*regexp.Regexp
	primary    []*regexp.Regexp
	secondary  []*regexp.Regexp
	strategy   failover.Strategy
}

// NewPolicy compiles a policy definition. It fails fast with a *PatternError
// if any pattern does not compile, and with a failover construction error if
// the strategy configuration is invalid; the policy is never partially usable.
func NewPolicy(data Data) (*Policy, error) {
	namespaces, err := compilePatterns(FieldNamespaces, data.Namespaces)
	if err != nil {
		return nil, err
	}
	primary, err := compilePatterns(FieldPrimary, data.Primary)
	if err != nil {
		return nil, err
	}
	secondary, err := compilePatterns(FieldSecondary, data.Secondary)
	if err != nil {
		return nil, err
	}
	strategy, err := failover.New(data.AutoFailover)
	if err != nil {
		return nil, err
	}

	return &Policy{
		data:       data.clone(),
		namespaces: namespaces,
		primary:    primary,
		secondary:  secondary,
		strategy:   strategy,
	}, nil
}

// matchAny reports whether s full-string-matches any pattern in the list.
// Evaluation stops at the first match; an empty list matches nothing.
func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// filterMatching returns the subsequence of candidates matching any pattern,
// preserving input order.
func filterMatching(patterns []*regexp.Regexp, candidates []string) []string {
	matched := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if matchAny(patterns, c) {
			matched = append(matched, c)
		}
	}
	return matched
}

// MatchesNamespace reports whether this policy governs the namespace with
// the given fully-qualified name.
func (p *Policy) MatchesNamespace(fqnn string) bool {
	return matchAny(p.namespaces, fqnn)
}

// FindPrimaryBrokers returns the brokers from available eligible as primary
// hosts for the namespace, preserving input order. It fails with
// ErrPolicyMismatch if the policy does not govern the namespace, so an
// empty result always means "no broker matches", never "wrong policy".
func (p *Policy) FindPrimaryBrokers(available []string, namespace string) ([]string, error) {
	if !p.MatchesNamespace(namespace) {
		return nil, fmt.Errorf("%w: %q", ErrPolicyMismatch, namespace)
	}
	return filterMatching(p.primary, available), nil
}

// FindSecondaryBrokers returns the brokers from available eligible as
// secondary (failover) hosts for the namespace. Same contract as
// FindPrimaryBrokers, over the secondary pattern list.
func (p *Policy) FindSecondaryBrokers(available []string, namespace string) ([]string, error) {
	if !p.MatchesNamespace(namespace) {
		return nil, fmt.Errorf("%w: %q", ErrPolicyMismatch, namespace)
	}
	return filterMatching(p.secondary, available), nil
}

// IsPrimaryBroker reports whether the broker address matches the primary
// pattern list.
func (p *Policy) IsPrimaryBroker(address string) bool {
	return matchAny(p.primary, address)
}

// IsSecondaryBroker reports whether the broker address matches the
// secondary pattern list.
func (p *Policy) IsSecondaryBroker(address string) bool {
	return matchAny(p.secondary, address)
}

// AvailablePrimaryBrokers returns the subset of candidates the failover
// strategy considers available, preserving the candidates' address order.
// The input set is not mutated.
func (p *Policy) AvailablePrimaryBrokers(candidates *broker.StatusSet) *broker.StatusSet {
	available := broker.NewStatusSet()
	for _, st := range candidates.All() {
		if p.strategy.IsBrokerAvailable(st) {
			available.Add(st)
		}
	}
	return available
}

// IsPrimaryBrokerAvailable reports whether the broker is both
// primary-eligible for this policy and currently available per the
// failover strategy. Both conditions are required.
func (p *Policy) IsPrimaryBrokerAvailable(st broker.Status) bool {
	return p.IsPrimaryBroker(st.Address) && p.strategy.IsBrokerAvailable(st)
}

// ShouldFailover reports whether traffic should move to secondary brokers
// given the primary set's health. The decision is delegated entirely to
// the failover strategy.
func (p *Policy) ShouldFailover(primaries *broker.StatusSet) bool {
	return p.strategy.ShouldFailover(primaries)
}

// ShouldFailoverCount is the count-based variant of ShouldFailover, for
// callers that already computed the number of available primary brokers.
func (p *Policy) ShouldFailoverCount(availablePrimaries int) bool {
	return p.strategy.ShouldFailoverCount(availablePrimaries)
}

// Data returns a copy of the policy's definition.
func (p *Policy) Data() Data {
	return p.data.clone()
}

// PrimaryPatterns returns the primary broker pattern sources.
func (p *Policy) PrimaryPatterns() []string {
	return append([]string(nil), p.data.Primary...)
}

// SecondaryPatterns returns the secondary broker pattern sources.
func (p *Policy) SecondaryPatterns() []string {
	return append([]string(nil), p.data.Secondary...)
}

// Equal reports structural equality: two policies built from identical
// definitions compare equal. The loader uses this to detect no-op reloads.
func (p *Policy) Equal(other *Policy) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.data.Equal(other.data)
}

// Hash returns a structural hash consistent with Equal.
func (p *Policy) Hash() uint64 {
	h := fnv.New64a()
	writeList := func(field string, values []string) {
		h.Write([]byte(field))
		h.Write([]byte{0})
		for _, v := range values {
			h.Write([]byte(v))
			h.Write([]byte{0})
		}
	}
	writeList(FieldNamespaces, p.data.Namespaces)
	writeList(FieldPrimary, p.data.Primary)
	writeList(FieldSecondary, p.data.Secondary)

	h.Write([]byte(p.data.AutoFailover.Policy))
	h.Write([]byte{0})
	// Hash strategy parameters in a fixed order so equal configs hash equal.
	for _, k := range sortedKeys(p.data.AutoFailover.Parameters) {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(p.data.AutoFailover.Parameters[k]))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// String renders all four fields for diagnostics.
func (p *Policy) String() string {
	return fmt.Sprintf("namespaces=[%s] primary=[%s] secondary=[%s] auto_failover_policy=%s",
		strings.Join(p.data.Namespaces, " "),
		strings.Join(p.data.Primary, " "),
		strings.Join(p.data.Secondary, " "),
		p.strategy)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
