package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PoolVault/internal/observability"
	"PoolVault/internal/persistence"
	"PoolVault/internal/projection"
	"PoolVault/internal/query"
)

// HTTPServer serves the read-only query API and the admin surface over
// HTTP/JSON. All writes go through NATS; this server never mutates vault
// state beyond admin projection rebuilds.
type HTTPServer struct {
	httpServer *http.Server
	addr       string
	logger     zerolog.Logger
}

// ServerDeps holds all dependencies needed by the HTTP handlers.
type ServerDeps struct {
	DB             *sql.DB
	QueryService   *query.QueryService
	SnapshotMgr    *persistence.SnapshotManager
	PremiumHistory *projection.PremiumHistory
	HealthChecker  *observability.HealthChecker
	StartTime      time.Time
}

func NewHTTPServer(addr string, deps *ServerDeps) *HTTPServer {
	s := &HTTPServer{
		addr:   addr,
		logger: observability.NewLogger("http"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	if deps.HealthChecker != nil {
		r.Get("/healthz", deps.HealthChecker.LivenessHandler)
		r.Get("/readyz", deps.HealthChecker.ReadinessHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/providers/{providerID}", func(r chi.Router) {
			r.Get("/balances", s.handleProviderBalances(deps))
			r.Get("/allocations", s.handleProviderAllocations(deps))
			r.Get("/entries", s.handleProviderEntries(deps))
			r.Get("/premium-history", s.handlePremiumHistory(deps))
		})

		r.Route("/policies/{policyID}", func(r chi.Router) {
			r.Get("/allocations", s.handlePolicyAllocations(deps))
			r.Get("/premium", s.handlePolicyPremium(deps))
			r.Get("/settlement", s.handlePolicySettlement(deps))
		})

		r.Get("/expirations/{height}", s.handleExpirationAggregates(deps))
		r.Get("/pool/{token}", s.handlePoolTotals(deps))
		r.Get("/tiers", s.handleListTiers(deps))

		r.Route("/admin", func(r chi.Router) {
			r.Get("/integrity", s.handleVerifyIntegrity(deps))
			r.Get("/eventlog", s.handleEventLogInfo(deps))
			r.Post("/projections/rebuild", s.handleRebuildProjections(deps))
		})
	})

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: r,
	}

	return s
}

// Start runs the HTTP server until ctx is cancelled (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// --- provider handlers ---

func (s *HTTPServer) handleProviderBalances(deps *ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := s.pathUUID(w, r, "providerID")
		if !ok {
			return
		}

		balances, err := deps.QueryService.GetProviderBalances(r.Context(), providerID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"balances": balances})
	}
}

func (s *HTTPServer) handleProviderAllocations(deps *ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := s.pathUUID(w, r, "providerID")
		if !ok {
			return
		}

		allocations, err := deps.QueryService.GetProviderAllocations(r.Context(), providerID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"allocations": allocations})
	}
}

func (s *HTTPServer) handleProviderEntries(deps *ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := s.pathUUID(w, r, "providerID")
		if !ok {
			return
		}

		limit := queryInt(r, "limit", 100)
		if limit <= 0 || limit > 500 {
			limit = 100
		}

		var afterSeq *int64
		if after := queryInt64(r, "after", 0); after > 0 {
			afterSeq = &after
		}

		entries, err := deps.QueryService.GetEntryHistory(r.Context(), providerID, limit, afterSeq)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
	}
}

func (s *HTTPServer) handlePremiumHistory(deps *ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := s.pathUUID(w, r, "providerID")
		if !ok {
			return
		}

		limit := queryInt(r, "limit", 50)
		if limit <= 0 || limit > 200 {
			limit = 50
		}

		flows := deps.PremiumHistory.QueryByProvider(providerID, limit)
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"flows": flows})
	}
}

// --- policy handlers ---

func (s *HTTPServer) handlePolicyAllocations(deps *ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		policyID, ok := s.pathUUID(w, r, "policyID")
		if !ok {
			return
		}

		allocations, err := deps.QueryService.GetPolicyAllocations(r.Context(), policyID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"allocations": allocations})
	}
}

func (s *HTTPServer) handlePolicyPremium(deps *ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		policyID, ok := s.pathUUID(w, r, "policyID")
		if !ok {
			return
		}

		premium, err := deps.QueryService.GetPolicyPremium(r.Context(), policyID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		if premium == nil {
			s.writeError(w, http.StatusNotFound, errNotFound("no premium recorded for policy"))
			return
		}
		s.writeJSON(w, http.StatusOK, premium)
	}
}

func (s *HTTPServer) handlePolicySettlement(deps *ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		policyID, ok := s.pathUUID(w, r, "policyID")
		if !ok {
			return
		}

		settlement, err := deps.QueryService.GetPolicySettlement(r.Context(), policyID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		if settlement == nil {
			s.writeError(w, http.StatusNotFound, errNotFound("policy has not settled"))
			return
		}
		s.writeJSON(w, http.StatusOK, settlement)
	}
}

// --- pool handlers ---

func (s *HTTPServer) handleExpirationAggregates(deps *ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		height, err := strconv.ParseInt(chi.URLParam(r, "height"), 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}

		aggregates, err := deps.QueryService.GetExpirationAggregates(r.Context(), height)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"aggregates": aggregates})
	}
}

func (s *HTTPServer) handlePoolTotals(deps *ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")
		totals, err := deps.QueryService.GetPoolTotals(r.Context(), token)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, totals)
	}
}

func (s *HTTPServer) handleListTiers(deps *ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tiers, err := deps.QueryService.ListTiers(r.Context())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"tiers": tiers})
	}
}

// --- admin handlers ---

func (s *HTTPServer) handleVerifyIntegrity(deps *ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := deps.QueryService.VerifyIntegrity(r.Context())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, report)
	}
}

func (s *HTTPServer) handleEventLogInfo(deps *ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		latestSeq, err := deps.SnapshotMgr.GetLatestSequence(r.Context())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"last_sequence":  latestSeq,
			"uptime_seconds": int64(time.Since(deps.StartTime).Seconds()),
		})
	}
}

func (s *HTTPServer) handleRebuildProjections(deps *ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := projection.RebuildProjections(r.Context(), deps.DB); err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"rebuilt": true})
	}
}

// --- helpers ---

func (s *HTTPServer) pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return uuid.Nil, false
	}
	return id, true
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("response encode failed")
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

type errNotFound string

func (e errNotFound) Error() string { return string(e) }

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func queryInt64(r *http.Request, key string, def int64) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
