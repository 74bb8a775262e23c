package isolation

import (
	"errors"
	"regexp"

	"github.com/palisade-io/palisade/internal/failover"
)

// Data is the serializable definition of a namespace isolation policy.
// It is what the policy loader persists and what NewPolicy compiles.
//
// All three pattern lists hold regular expressions matched against the
// full string (not substring search): Namespaces against a namespace's
// fully-qualified name, Primary and Secondary against broker addresses.
type Data struct {
	// Namespaces are patterns selecting the namespaces this policy governs.
	Namespaces []string `json:"namespaces" yaml:"namespaces"`

	// Primary are patterns selecting brokers eligible as primary hosts.
	Primary []string `json:"primary" yaml:"primary"`

	// Secondary are patterns selecting failover target brokers.
	Secondary []string `json:"secondary,omitempty" yaml:"secondary,omitempty"`

	// AutoFailover selects and parameterizes the failover strategy.
	AutoFailover failover.Config `json:"autoFailoverPolicy" yaml:"autoFailoverPolicy"`
}

// Validate checks that the definition is complete and every pattern
// compiles, without building a Policy.
func (d Data) Validate() error {
	if len(d.Namespaces) == 0 {
		return errors.New("isolation: at least one namespace pattern is required")
	}
	if len(d.Primary) == 0 {
		return errors.New("isolation: at least one primary pattern is required")
	}
	for _, check := range []struct {
		field    string
		patterns []string
	}{
		{FieldNamespaces, d.Namespaces},
		{FieldPrimary, d.Primary},
		{FieldSecondary, d.Secondary},
	} {
		if _, err := compilePatterns(check.field, check.patterns); err != nil {
			return err
		}
	}
	if _, err := failover.New(d.AutoFailover); err != nil {
		return err
	}
	return nil
}

// Equal reports structural equality of two policy definitions.
func (d Data) Equal(other Data) bool {
	return stringSlicesEqual(d.Namespaces, other.Namespaces) &&
		stringSlicesEqual(d.Primary, other.Primary) &&
		stringSlicesEqual(d.Secondary, other.Secondary) &&
		d.AutoFailover.Equal(other.AutoFailover)
}

// clone returns a deep copy so a Policy's definition cannot be mutated
// through the caller's slices or maps.
func (d Data) clone() Data {
	out := Data{
		Namespaces: append([]string(nil), d.Namespaces...),
		Primary:    append([]string(nil), d.Primary...),
		Secondary:  append([]string(nil), d.Secondary...),
		AutoFailover: failover.Config{
			Policy: d.AutoFailover.Policy,
		},
	}
	if d.AutoFailover.Parameters != nil {
		out.AutoFailover.Parameters = make(map[string]string, len(d.AutoFailover.Parameters))
		for k, v := range d.AutoFailover.Parameters {
			out.AutoFailover.Parameters[k] = v
		}
	}
	return out
}

// compilePatterns compiles a pattern list for full-string matching.
// Patterns are anchored so "broker-a" does not match "broker-a.example.com".
func compilePatterns(field string, patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile(`\A(?:` + p + `)\z`)
		if err != nil {
			return nil, &PatternError{Field: field, Pattern: p, Err: err}
		}
		compiled[i] = re
	}
	return compiled, nil
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
