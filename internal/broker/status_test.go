package broker

import (
	"reflect"
	"testing"
)

func TestStatusSet_OrderedByAddress(t *testing.T) {
	set := NewStatusSet(
		Status{Address: "broker-c.example.com", Active: true},
		Status{Address: "broker-a.example.com", Active: true},
		Status{Address: "broker-b.example.com", Active: false},
	)

	got := set.Addresses()
	want := []string{"broker-a.example.com", "broker-b.example.com", "broker-c.example.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Addresses: got %v, want %v", got, want)
	}
}

func TestStatusSet_AddReplacesSameAddress(t *testing.T) {
	set := NewStatusSet(Status{Address: "broker-a.example.com", LoadFactor: 0.2})
	set.Add(Status{Address: "broker-a.example.com", LoadFactor: 0.9})

	if set.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", set.Len())
	}
	st, ok := set.Get("broker-a.example.com")
	if !ok {
		t.Fatal("expected broker-a to be present")
	}
	if st.LoadFactor != 0.9 {
		t.Errorf("expected replaced load factor 0.9, got %f", st.LoadFactor)
	}
}

func TestStatusSet_Contains(t *testing.T) {
	set := NewStatusSet(
		Status{Address: "broker-a.example.com"},
		Status{Address: "broker-b.example.com"},
	)

	if !set.Contains("broker-a.example.com") {
		t.Error("expected broker-a to be present")
	}
	if set.Contains("broker-z.example.com") {
		t.Error("did not expect broker-z to be present")
	}
}

func TestStatusSet_AllReturnsCopy(t *testing.T) {
	set := NewStatusSet(Status{Address: "broker-a.example.com", Active: true})

	all := set.All()
	all[0].Active = false

	st, _ := set.Get("broker-a.example.com")
	if !st.Active {
		t.Error("mutating the All() result must not affect the set")
	}
}

func TestStatusSet_NilSafe(t *testing.T) {
	var set *StatusSet
	if set.Len() != 0 {
		t.Error("nil set should have length 0")
	}
	if set.All() != nil {
		t.Error("nil set should return nil statuses")
	}
	if set.String() != "[]" {
		t.Errorf("nil set String: got %q", set.String())
	}
}

func TestStatus_Host(t *testing.T) {
	cases := []struct {
		address string
		want    string
	}{
		{"broker-a.example.com:6650", "broker-a.example.com"},
		{"broker-a.example.com", "broker-a.example.com"},
		{"10.0.0.1:6650", "10.0.0.1"},
	}
	for _, tc := range cases {
		got := Status{Address: tc.address}.Host()
		if got != tc.want {
			t.Errorf("Host(%q): got %q, want %q", tc.address, got, tc.want)
		}
	}
}
