package keys

import (
	"errors"
	"testing"
)

func TestBrokerKeyPath(t *testing.T) {
	key := BrokerKeyPath("cluster-1", "broker-a")
	want := "/palisade/v1/cluster/cluster-1/brokers/broker-a"
	if key != want {
		t.Errorf("BrokerKeyPath: got %q, want %q", key, want)
	}

	clusterID, brokerID, err := ParseBrokerKey(key)
	if err != nil {
		t.Fatalf("ParseBrokerKey failed: %v", err)
	}
	if clusterID != "cluster-1" || brokerID != "broker-a" {
		t.Errorf("ParseBrokerKey: got (%q, %q)", clusterID, brokerID)
	}
}

func TestParseBrokerKeyInvalid(t *testing.T) {
	cases := []string{
		"",
		"/palisade/v1/cluster/c1",
		"/palisade/v1/cluster/c1/isolation/g1",
		"/other/v1/cluster/c1/brokers/b1",
		"/palisade/v1/cluster/c1/brokers/",
	}
	for _, key := range cases {
		if _, _, err := ParseBrokerKey(key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("ParseBrokerKey(%q): expected ErrInvalidKey, got %v", key, err)
		}
	}
}

func TestIsolationPolicyKeyPath(t *testing.T) {
	key := IsolationPolicyKeyPath("cluster-1", "tenant-gold")
	want := "/palisade/v1/cluster/cluster-1/isolation/tenant-gold"
	if key != want {
		t.Errorf("IsolationPolicyKeyPath: got %q, want %q", key, want)
	}

	clusterID, group, err := ParseIsolationPolicyKey(key)
	if err != nil {
		t.Fatalf("ParseIsolationPolicyKey failed: %v", err)
	}
	if clusterID != "cluster-1" || group != "tenant-gold" {
		t.Errorf("ParseIsolationPolicyKey: got (%q, %q)", clusterID, group)
	}
}

func TestIsolationPoliciesPrefix(t *testing.T) {
	prefix := IsolationPoliciesPrefix("c1")
	if prefix != "/palisade/v1/cluster/c1/isolation/" {
		t.Errorf("unexpected prefix %q", prefix)
	}
}
