package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/palisade-io/palisade/internal/broker"
	"github.com/palisade-io/palisade/internal/failover"
	"github.com/palisade-io/palisade/internal/isolation"
	"github.com/palisade-io/palisade/internal/metadata"
	"github.com/palisade-io/palisade/internal/policies"
)

const testCluster = "cluster-1"

func testDefinition(minLimit string) isolation.Data {
	return isolation.Data{
		Namespaces: []string{`tenant/ns-.*`},
		Primary:    []string{`broker-a\.example\.com:\d+`},
		Secondary:  []string{`broker-b\.example\.com:\d+`},
		AutoFailover: failover.Config{
			Policy: failover.PolicyMinAvailable,
			Parameters: map[string]string{
				failover.ParamMinLimit:       minLimit,
				failover.ParamUsageThreshold: "0.8",
			},
		},
	}
}

// newTestAPI builds an admin API over a mock store with two registered
// brokers: broker-a (primary candidate) and broker-b (secondary candidate).
func newTestAPI(t *testing.T) (*AdminAPI, *policies.Manager, metadata.MetadataStore) {
	t.Helper()

	store := metadata.NewMockStore()
	t.Cleanup(func() { store.Close() })

	mgr := policies.NewManager(store, policies.Config{ClusterID: testCluster})
	registry := broker.NewRegistry(store, broker.RegistryConfig{
		ClusterID: testCluster,
		BrokerID:  "broker-a",
		Address:   "broker-a.example.com:6650",
	})
	if err := registry.Register(context.Background()); err != nil {
		t.Fatalf("register broker-a: %v", err)
	}
	peer := broker.NewRegistry(store, broker.RegistryConfig{
		ClusterID: testCluster,
		BrokerID:  "broker-b",
		Address:   "broker-b.example.com:6650",
	})
	if err := peer.Register(context.Background()); err != nil {
		t.Fatalf("register broker-b: %v", err)
	}

	api := NewAdminAPI(AdminConfig{Manager: mgr, Registry: registry})
	return api, mgr, store
}

func doRequest(t *testing.T, api *AdminAPI, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestAdminAPI_PolicyCRUD(t *testing.T) {
	api, _, _ := newTestAPI(t)

	raw, _ := json.Marshal(testDefinition("1"))
	rec := doRequest(t, api, http.MethodPut, "/v1/policies/tenant-gold", raw)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT: got %d, body %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("expected X-Request-Id header")
	}

	rec = doRequest(t, api, http.MethodGet, "/v1/policies/tenant-gold", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET: got %d", rec.Code)
	}
	var doc PolicyDocument
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("GET body: %v", err)
	}
	if doc.Group != "tenant-gold" || !doc.Definition.Equal(testDefinition("1")) {
		t.Errorf("GET returned wrong document: %+v", doc)
	}

	rec = doRequest(t, api, http.MethodGet, "/v1/policies", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("LIST: got %d", rec.Code)
	}
	var docs []PolicyDocument
	if err := json.Unmarshal(rec.Body.Bytes(), &docs); err != nil {
		t.Fatalf("LIST body: %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("LIST: got %d documents, want 1", len(docs))
	}

	rec = doRequest(t, api, http.MethodDelete, "/v1/policies/tenant-gold", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE: got %d", rec.Code)
	}
	rec = doRequest(t, api, http.MethodGet, "/v1/policies/tenant-gold", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET after delete: got %d, want 404", rec.Code)
	}
}

func TestAdminAPI_PutRejectsInvalidDefinition(t *testing.T) {
	api, mgr, _ := newTestAPI(t)

	bad := testDefinition("1")
	bad.Primary = []string{`broker-(`}
	raw, _ := json.Marshal(bad)

	rec := doRequest(t, api, http.MethodPut, "/v1/policies/tenant-gold", raw)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400; body %s", rec.Code, rec.Body.String())
	}
	if _, ok := mgr.Get("tenant-gold"); ok {
		t.Error("invalid definition must not be stored")
	}

	rec = doRequest(t, api, http.MethodPut, "/v1/policies/tenant-gold", []byte(`{not json`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: got %d, want 400", rec.Code)
	}
}

func TestAdminAPI_DeleteUnknownGroup(t *testing.T) {
	api, _, _ := newTestAPI(t)

	rec := doRequest(t, api, http.MethodDelete, "/v1/policies/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("got %d, want 404", rec.Code)
	}
}

func TestAdminAPI_ListBrokers(t *testing.T) {
	api, _, _ := newTestAPI(t)

	rec := doRequest(t, api, http.MethodGet, "/v1/brokers", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
	var statuses []broker.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &statuses); err != nil {
		t.Fatalf("body: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("got %d brokers, want 2", len(statuses))
	}
	// StatusSet keeps address order.
	if statuses[0].Address != "broker-a.example.com:6650" {
		t.Errorf("first broker: got %s", statuses[0].Address)
	}
}

func TestAdminAPI_Placement(t *testing.T) {
	api, mgr, _ := newTestAPI(t)

	if err := mgr.Set(context.Background(), "tenant-gold", testDefinition("1")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	rec := doRequest(t, api, http.MethodGet, "/v1/placement?namespace=tenant/ns-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, body %s", rec.Code, rec.Body.String())
	}

	var resp PlacementResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body: %v", err)
	}
	if resp.Group != "tenant-gold" {
		t.Errorf("group: got %s", resp.Group)
	}
	if len(resp.PrimaryBrokers) != 1 || resp.PrimaryBrokers[0] != "broker-a.example.com:6650" {
		t.Errorf("primary: got %v", resp.PrimaryBrokers)
	}
	if len(resp.SecondaryBrokers) != 1 || resp.SecondaryBrokers[0] != "broker-b.example.com:6650" {
		t.Errorf("secondary: got %v", resp.SecondaryBrokers)
	}
	// One healthy primary satisfies min_limit=1.
	if resp.ShouldFailover {
		t.Error("should not fail over with one available primary")
	}
	if len(resp.AvailablePrimary) != 1 || resp.AvailablePrimary[0] != "broker-a.example.com:6650" {
		t.Errorf("available primary: got %v", resp.AvailablePrimary)
	}
	if len(resp.TargetBrokers) != 1 || resp.TargetBrokers[0] != "broker-a.example.com:6650" {
		t.Errorf("target: got %v", resp.TargetBrokers)
	}
}

func TestAdminAPI_PlacementFailsOver(t *testing.T) {
	api, mgr, _ := newTestAPI(t)

	// min_limit=2 with a single primary candidate forces failover.
	if err := mgr.Set(context.Background(), "tenant-gold", testDefinition("2")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	rec := doRequest(t, api, http.MethodGet, "/v1/placement?namespace=tenant/ns-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}

	var resp PlacementResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body: %v", err)
	}
	if !resp.ShouldFailover {
		t.Error("expected failover with min_limit=2 and one primary")
	}
	// The healthy secondary must not count toward the primary threshold.
	if len(resp.AvailablePrimary) != 1 || resp.AvailablePrimary[0] != "broker-a.example.com:6650" {
		t.Errorf("available primary: got %v", resp.AvailablePrimary)
	}
	if len(resp.TargetBrokers) != 1 || resp.TargetBrokers[0] != "broker-b.example.com:6650" {
		t.Errorf("target: got %v", resp.TargetBrokers)
	}
}

func TestAdminAPI_RequestCount(t *testing.T) {
	api, _, _ := newTestAPI(t)

	if got := api.RequestCount(); got != 0 {
		t.Fatalf("initial count: got %d", got)
	}
	doRequest(t, api, http.MethodGet, "/v1/brokers", nil)
	doRequest(t, api, http.MethodGet, "/v1/policies", nil)
	if got := api.RequestCount(); got != 2 {
		t.Errorf("after two requests: got %d", got)
	}
}

func TestAdminAPI_PlacementUngoverned(t *testing.T) {
	api, _, _ := newTestAPI(t)

	rec := doRequest(t, api, http.MethodGet, "/v1/placement?namespace=orphan/ns", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("got %d, want 404", rec.Code)
	}

	rec = doRequest(t, api, http.MethodGet, "/v1/placement", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing namespace: got %d, want 400", rec.Code)
	}
}
