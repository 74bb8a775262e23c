package server

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/palisade-io/palisade/internal/broker"
	"github.com/palisade-io/palisade/internal/isolation"
	"github.com/palisade-io/palisade/internal/logging"
	"github.com/palisade-io/palisade/internal/metrics"
	"github.com/palisade-io/palisade/internal/policies"
)

// AdminAPI serves the /v1 admin endpoints: isolation policy CRUD, broker
// listing, and placement queries.
type AdminAPI struct {
	manager  *policies.Manager
	registry *broker.Registry
	logger   *logging.Logger
	metrics  *metrics.PolicyMetrics
	requests atomic.Uint64
}

// AdminConfig configures an AdminAPI.
type AdminConfig struct {
	Manager  *policies.Manager
	Registry *broker.Registry
	Logger   *logging.Logger

	// Metrics is optional; when nil, no metrics are recorded.
	Metrics *metrics.PolicyMetrics
}

// NewAdminAPI creates the admin API handler set.
func NewAdminAPI(cfg AdminConfig) *AdminAPI {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &AdminAPI{
		manager:  cfg.Manager,
		registry: cfg.Registry,
		logger:   logger,
		metrics:  cfg.Metrics,
	}
}

// Handler returns the admin API routes, ready to mount under /v1/.
func (a *AdminAPI) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/policies", a.handleListPolicies)
	mux.HandleFunc("GET /v1/policies/{group}", a.handleGetPolicy)
	mux.HandleFunc("PUT /v1/policies/{group}", a.handlePutPolicy)
	mux.HandleFunc("DELETE /v1/policies/{group}", a.handleDeletePolicy)
	mux.HandleFunc("GET /v1/brokers", a.handleListBrokers)
	mux.HandleFunc("GET /v1/placement", a.handlePlacement)
	return a.withRequestID(mux)
}

// RequestCount returns the number of admin requests served since startup.
// The heartbeat loop samples it to derive the broker's load factor.
func (a *AdminAPI) RequestCount() uint64 {
	return a.requests.Load()
}

// withRequestID tags each request with a request ID for log correlation and
// counts it toward the request-rate load signal.
func (a *AdminAPI) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.requests.Add(1)

		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)

		logger := a.logger.WithRequestID(requestID)
		r = r.WithContext(logging.WithLoggerCtx(r.Context(), logger))
		next.ServeHTTP(w, r)
	})
}

// PolicyDocument pairs a group name with its definition in list responses.
type PolicyDocument struct {
	Group      string         `json:"group"`
	Definition isolation.Data `json:"definition"`
}

// PlacementResponse is the answer to a placement query for one namespace.
type PlacementResponse struct {
	Namespace        string   `json:"namespace"`
	Group            string   `json:"group"`
	PrimaryBrokers   []string `json:"primaryBrokers"`
	SecondaryBrokers []string `json:"secondaryBrokers"`
	AvailablePrimary []string `json:"availablePrimary"`
	ShouldFailover   bool     `json:"shouldFailover"`
	TargetBrokers    []string `json:"targetBrokers"`
}

func (a *AdminAPI) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	groups := a.manager.Groups()
	docs := make([]PolicyDocument, 0, len(groups))
	for _, g := range groups {
		policy, ok := a.manager.Get(g)
		if !ok {
			continue
		}
		docs = append(docs, PolicyDocument{Group: g, Definition: policy.Data()})
	}
	writeJSON(w, http.StatusOK, docs)
}

func (a *AdminAPI) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	group := r.PathValue("group")
	policy, ok := a.manager.Get(group)
	if !ok {
		writeError(w, http.StatusNotFound, "isolation group not found: "+group)
		return
	}
	writeJSON(w, http.StatusOK, PolicyDocument{Group: group, Definition: policy.Data()})
}

func (a *AdminAPI) handlePutPolicy(w http.ResponseWriter, r *http.Request) {
	group := r.PathValue("group")
	logger := logging.FromCtx(r.Context())

	var data isolation.Data
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeError(w, http.StatusBadRequest, "invalid policy definition: "+err.Error())
		return
	}
	if err := data.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.manager.Set(r.Context(), group, data); err != nil {
		logger.Errorf("failed to store policy", map[string]any{
			"group": group, "error": err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "failed to store policy")
		return
	}

	logger.Infof("policy updated via admin api", map[string]any{"group": group})
	writeJSON(w, http.StatusOK, PolicyDocument{Group: group, Definition: data})
}

func (a *AdminAPI) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	group := r.PathValue("group")
	logger := logging.FromCtx(r.Context())

	if _, ok := a.manager.Get(group); !ok {
		writeError(w, http.StatusNotFound, "isolation group not found: "+group)
		return
	}
	if err := a.manager.Delete(r.Context(), group); err != nil {
		logger.Errorf("failed to delete policy", map[string]any{
			"group": group, "error": err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "failed to delete policy")
		return
	}

	logger.Infof("policy deleted via admin api", map[string]any{"group": group})
	w.WriteHeader(http.StatusNoContent)
}

func (a *AdminAPI) handleListBrokers(w http.ResponseWriter, r *http.Request) {
	statuses, err := a.registry.Statuses(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list brokers: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statuses.All())
}

// handlePlacement answers which brokers may serve a namespace: the primary
// and secondary candidates among the registered brokers, which primaries are
// currently available, and whether the failover policy says to move to the
// secondaries.
func (a *AdminAPI) handlePlacement(w http.ResponseWriter, r *http.Request) {
	namespace := r.URL.Query().Get("namespace")
	if namespace == "" {
		writeError(w, http.StatusBadRequest, "namespace query parameter is required")
		return
	}

	group, policy, ok := a.manager.Resolve(namespace)
	if !ok {
		writeError(w, http.StatusNotFound, "no isolation policy governs namespace: "+namespace)
		return
	}

	statuses, err := a.registry.Statuses(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list brokers: "+err.Error())
		return
	}
	addresses := statuses.Addresses()

	primary, err := policy.FindPrimaryBrokers(addresses, namespace)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	secondary, err := policy.FindSecondaryBrokers(addresses, namespace)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Only primary-eligible brokers count toward the failover threshold;
	// a healthy secondary must not mask missing primaries.
	primaryCandidates := broker.NewStatusSet()
	for _, st := range statuses.All() {
		if policy.IsPrimaryBroker(st.Address) {
			primaryCandidates.Add(st)
		}
	}
	availablePrimary := policy.AvailablePrimaryBrokers(primaryCandidates)
	failover := policy.ShouldFailover(primaryCandidates)
	a.recordDecision(failover)

	target := primary
	if failover {
		target = secondary
	}

	writeJSON(w, http.StatusOK, PlacementResponse{
		Namespace:        namespace,
		Group:            group,
		PrimaryBrokers:   primary,
		SecondaryBrokers: secondary,
		AvailablePrimary: availablePrimary.Addresses(),
		ShouldFailover:   failover,
		TargetBrokers:    target,
	})
}

func (a *AdminAPI) recordDecision(failover bool) {
	if a.metrics == nil {
		return
	}
	decision := metrics.DecisionStay
	if failover {
		decision = metrics.DecisionFailover
	}
	a.metrics.FailoverDecisionsTotal.WithLabelValues(decision).Inc()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
