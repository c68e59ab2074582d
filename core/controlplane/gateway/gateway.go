// Package gateway serves the registry HTTP API: submission intake, listings,
// privileged review operations and the admin event stream.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/identity"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/artifacts"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/bus"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/config"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/logging"
	infraMetrics "github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/metrics"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/redisutil"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/registry"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/review"
)

const (
	wsTokenProtocol = "registry-token"
	shutdownTimeout = 10 * time.Second
	clientBuffer    = 100
)

type server struct {
	store   registry.Store
	review  *review.Service
	bus     bus.Bus
	metrics infraMetrics.GatewayMetrics
	limiter *rateLimiter
	origins originPolicy

	// snapshots is nil when manifest snapshots are not served.
	snapshots      artifacts.Store
	metricsHandler http.Handler

	clients   map[*websocket.Conn]chan *bus.Event
	clientsMu sync.RWMutex
	eventsCh  chan *bus.Event
}

func newServer(store registry.Store, svc *review.Service, b bus.Bus, m infraMetrics.GatewayMetrics, limiter *rateLimiter) *server {
	if m == nil {
		m = infraMetrics.Noop{}
	}
	return &server{
		store:    store,
		review:   svc,
		bus:      b,
		metrics:  m,
		limiter:  limiter,
		origins:  originPolicyFromEnv(),
		clients:  make(map[*websocket.Conn]chan *bus.Event),
		eventsCh: make(chan *bus.Event, 512),
	}
}

// Run wires the gateway dependencies and serves until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		cfg = config.Load()
	}
	pub, err := identity.LoadPublicKey(cfg.IdentityPublicKey)
	if err != nil {
		return fmt.Errorf("load identity public key: %w", err)
	}

	client, err := redisutil.Connect(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer client.Close()

	natsBus, err := bus.NewNatsBus(cfg.NatsURL)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer natsBus.Close()

	store := registry.NewRedisStore(client)
	provider := identity.NewProvider(identity.NewVerifier(pub), identity.NewDirectory(client))
	reg := infraMetrics.NewRegistry()
	svc := review.NewService(store, provider, natsBus, infraMetrics.NewProm("registry_gateway", reg))

	s := newServer(store, svc, natsBus, infraMetrics.NewGatewayProm("registry_gateway", reg), newRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst))
	s.metricsHandler = infraMetrics.Handler(reg)
	s.snapshots = artifacts.NewRedisStore(client)
	if err := s.startBusTaps(); err != nil {
		return err
	}
	return s.serve(ctx, cfg.GatewayHTTPAddr, cfg.GatewayMetricsAddr)
}

// startBusTaps forwards status events to websocket listeners.
func (s *server) startBusTaps() error {
	if err := s.bus.Subscribe(bus.SubjectSubmissionUpdated, "", func(ev *bus.Event) error {
		select {
		case s.eventsCh <- ev:
		default:
		}
		return nil
	}); err != nil {
		return fmt.Errorf("subscribe %s: %w", bus.SubjectSubmissionUpdated, err)
	}
	go s.broadcast()
	return nil
}

func (s *server) broadcast() {
	for ev := range s.eventsCh {
		var slowClients []*websocket.Conn
		s.clientsMu.RLock()
		for conn, ch := range s.clients {
			select {
			case ch <- ev:
			default:
				slowClients = append(slowClients, conn)
			}
		}
		s.clientsMu.RUnlock()
		for _, conn := range slowClients {
			logging.Info("gateway", "dropping slow ws client", "remote", conn.RemoteAddr().String())
			_ = conn.Close()
		}
	}
}

func (s *server) serve(ctx context.Context, httpAddr, metricsAddr string) error {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", s.metricsHandler)
	metricsSrv := &http.Server{
		Addr:         metricsAddr,
		Handler:      metricsMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	apiSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           s.handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Info("gateway", "metrics listening", "addr", metricsAddr+"/metrics")
		return listen(metricsSrv)
	})
	g.Go(func() error {
		logging.Info("gateway", "http listening", "addr", httpAddr)
		return listen(apiSrv)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
		return apiSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Error("gateway", "http server error", "addr", srv.Addr, "error", err)
		return err
	}
	return nil
}

func (s *server) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /ready", s.handleReady)

	// Submissions
	mux.HandleFunc("POST /api/v1/submissions", s.instrumented("/api/v1/submissions", s.handleCreateSubmission))
	mux.HandleFunc("GET /api/v1/submissions", s.instrumented("/api/v1/submissions", s.handleListSubmissions))
	mux.HandleFunc("GET /api/v1/submissions/{id}", s.instrumented("/api/v1/submissions/{id}", s.handleGetSubmission))
	mux.HandleFunc("GET /api/v1/submissions/{id}/manifest", s.instrumented("/api/v1/submissions/{id}/manifest", s.handleGetManifest))
	mux.HandleFunc("POST /api/v1/submissions/{id}/approve", s.instrumented("/api/v1/submissions/{id}/approve", s.handleApprove))
	mux.HandleFunc("POST /api/v1/submissions/{id}/reject", s.instrumented("/api/v1/submissions/{id}/reject", s.handleReject))
	mux.HandleFunc("POST /api/v1/submissions/{id}/resubmit", s.instrumented("/api/v1/submissions/{id}/resubmit", s.handleResubmit))

	// Admin
	mux.HandleFunc("POST /api/v1/admin/grant", s.instrumented("/api/v1/admin/grant", s.handleGrantAdmin))

	// Public catalog
	mux.HandleFunc("GET /api/v1/registry", s.instrumented("/api/v1/registry", s.handleListEntries))
	mux.HandleFunc("GET /api/v1/registry/{id}", s.instrumented("/api/v1/registry/{id}", s.handleGetEntry))

	mux.HandleFunc("/api/v1/stream", s.instrumented("/api/v1/stream", s.handleStream))

	return s.cors(s.authMiddleware(s.rateLimitMiddleware(mux)))
}

// handleReady fails while the event bus is disconnected, since intake could
// not trigger validation.
func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	if c, ok := s.bus.(interface{ IsConnected() bool }); ok && !c.IsConnected() {
		writeErrorJSON(w, http.StatusServiceUnavailable, "unavailable", "event bus disconnected")
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
