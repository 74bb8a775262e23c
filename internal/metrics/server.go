package metrics

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/palisade-io/palisade/internal/logging"
)

// Server exposes /metrics for Prometheus scraping. palisaded binds it to
// observability.metricsAddr, separate from the admin listener so scrapes
// never contend with placement queries.
type Server struct {
	mu        sync.RWMutex
	addr      string
	boundAddr string
	server    *http.Server
	gatherer  prometheus.Gatherer
}

// NewServer serves the default Prometheus registry on addr.
func NewServer(addr string) *Server {
	return &Server{addr: addr}
}

// NewServerWithRegistry serves a custom registry. Tests use this to avoid
// colliding with promauto's default-registry registrations.
func NewServerWithRegistry(addr string, gatherer prometheus.Gatherer) *Server {
	return &Server{
		addr:     addr,
		gatherer: gatherer,
	}
}

// Start binds the listener and serves in the background. An "addr:0"
// address is resolved to the bound port, readable via Addr.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.handler())

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.boundAddr = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			// Metrics are best-effort; the node keeps serving without them.
			logging.Global().Warnf("metrics server stopped", map[string]any{
				"addr": s.Addr(), "error": err.Error(),
			})
		}
	}()

	return nil
}

func (s *Server) handler() http.Handler {
	if s.gatherer != nil {
		return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

// Addr returns the bound address, or the configured address before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.boundAddr != "" {
		return s.boundAddr
	}
	return s.addr
}

// Close shuts the metrics server down, allowing in-flight scrapes 5s to finish.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
