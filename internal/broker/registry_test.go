package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/palisade-io/palisade/internal/metadata"
	"github.com/palisade-io/palisade/internal/metadata/keys"
)

func newTestRegistry(store metadata.MetadataStore, brokerID, address string) *Registry {
	return NewRegistry(store, RegistryConfig{
		ClusterID: "cluster-1",
		BrokerID:  brokerID,
		Address:   address,
	})
}

func TestRegistry_Register(t *testing.T) {
	store := metadata.NewMockStore()
	defer store.Close()

	registry := newTestRegistry(store, "broker-1", "broker-1.example.com:6650")

	ctx := context.Background()
	if err := registry.Register(ctx); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if !registry.IsRegistered() {
		t.Error("registry should be registered")
	}

	key := keys.BrokerKeyPath("cluster-1", "broker-1")
	result, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !result.Exists {
		t.Fatal("broker key should exist after registration")
	}

	var info Info
	if err := json.Unmarshal(result.Value, &info); err != nil {
		t.Fatalf("failed to unmarshal registration: %v", err)
	}

	if info.BrokerID != "broker-1" {
		t.Errorf("BrokerID mismatch: got %q, want %q", info.BrokerID, "broker-1")
	}
	if info.Address != "broker-1.example.com:6650" {
		t.Errorf("Address mismatch: got %q", info.Address)
	}
	if info.StartedAt <= 0 {
		t.Error("StartedAt should be set")
	}
}

func TestRegistry_RegisterDuplicateBrokerID(t *testing.T) {
	store := metadata.NewMockStore()
	defer store.Close()

	reg1 := newTestRegistry(store, "broker-1", "broker-1.example.com:6650")
	reg2 := newTestRegistry(store, "broker-1", "broker-1-new.example.com:6650")

	ctx := context.Background()
	if err := reg1.Register(ctx); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	err := reg2.Register(ctx)
	if err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestRegistry_HeartbeatUpdatesLoadFactor(t *testing.T) {
	store := metadata.NewMockStore()
	defer store.Close()

	registry := newTestRegistry(store, "broker-1", "broker-1.example.com:6650")

	ctx := context.Background()
	if err := registry.Register(ctx); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := registry.Heartbeat(ctx, 0.75); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}

	info, exists, err := registry.GetBroker(ctx, "broker-1")
	if err != nil {
		t.Fatalf("GetBroker failed: %v", err)
	}
	if !exists {
		t.Fatal("broker should exist")
	}
	if info.LoadFactor != 0.75 {
		t.Errorf("LoadFactor mismatch: got %f, want 0.75", info.LoadFactor)
	}
	if info.LastHeartbeat <= 0 {
		t.Error("LastHeartbeat should be set")
	}
}

func TestRegistry_HeartbeatBeforeRegister(t *testing.T) {
	store := metadata.NewMockStore()
	defer store.Close()

	registry := newTestRegistry(store, "broker-1", "broker-1.example.com:6650")
	if err := registry.Heartbeat(context.Background(), 0.5); err == nil {
		t.Fatal("expected heartbeat before registration to fail")
	}
}

func TestRegistry_ListAndStatuses(t *testing.T) {
	store := metadata.NewMockStore()
	defer store.Close()

	ctx := context.Background()
	addresses := map[string]string{
		"broker-1": "broker-b.example.com:6650",
		"broker-2": "broker-a.example.com:6650",
	}
	for id, addr := range addresses {
		reg := newTestRegistry(store, id, addr)
		if err := reg.Register(ctx); err != nil {
			t.Fatalf("Register %s failed: %v", id, err)
		}
	}

	reg := newTestRegistry(store, "broker-3", "broker-c.example.com:6650")

	brokers, err := reg.ListBrokers(ctx)
	if err != nil {
		t.Fatalf("ListBrokers failed: %v", err)
	}
	if len(brokers) != 2 {
		t.Fatalf("expected 2 brokers, got %d", len(brokers))
	}

	statuses, err := reg.Statuses(ctx)
	if err != nil {
		t.Fatalf("Statuses failed: %v", err)
	}
	got := statuses.Addresses()
	// Address order, not registration order.
	want := []string{"broker-a.example.com:6650", "broker-b.example.com:6650"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Statuses addresses: got %v, want %v", got, want)
	}
	for _, st := range statuses.All() {
		if !st.Active {
			t.Errorf("registered broker %s should be active", st.Address)
		}
	}
}

func TestRegistry_Deregister(t *testing.T) {
	store := metadata.NewMockStore()
	defer store.Close()

	registry := newTestRegistry(store, "broker-1", "broker-1.example.com:6650")

	ctx := context.Background()
	if err := registry.Register(ctx); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := registry.Deregister(ctx); err != nil {
		t.Fatalf("Deregister failed: %v", err)
	}
	if registry.IsRegistered() {
		t.Error("registry should not be registered after deregister")
	}

	_, exists, err := registry.GetBroker(ctx, "broker-1")
	if err != nil {
		t.Fatalf("GetBroker failed: %v", err)
	}
	if exists {
		t.Error("broker key should be removed after deregister")
	}
}

func TestRegistry_CheckReady(t *testing.T) {
	store := metadata.NewMockStore()
	defer store.Close()

	registry := newTestRegistry(store, "broker-1", "broker-1.example.com:6650")
	ctx := context.Background()

	if err := registry.CheckReady(ctx); err == nil {
		t.Error("expected not ready before registration")
	}

	if err := registry.Register(ctx); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := registry.CheckReady(ctx); err != nil {
		t.Errorf("expected ready after registration, got %v", err)
	}
}

func TestInfo_StatusStaleHeartbeat(t *testing.T) {
	now := time.Now()
	info := Info{
		Address:       "broker-1.example.com:6650",
		LoadFactor:    0.4,
		LastHeartbeat: now.UnixMilli(),
	}

	st := info.Status(now)
	if !st.Active {
		t.Error("fresh heartbeat should report active")
	}

	stale := now.Add(HeartbeatStaleAfter + time.Second)
	st = info.Status(stale)
	if st.Active {
		t.Error("stale heartbeat should report inactive")
	}
	if st.LoadFactor != 0.4 {
		t.Errorf("load factor: got %f", st.LoadFactor)
	}
}
