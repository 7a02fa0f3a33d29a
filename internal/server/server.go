package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ssd-technologies/arbiter/internal/escrow"
	"github.com/ssd-technologies/arbiter/internal/notify"
	"github.com/ssd-technologies/arbiter/internal/storage"
)

// Options tunes a Server.
type Options struct {
	AdminSecret string
	// RateLimit requests per RateWindow are allowed from each client IP.
	RateLimit  int
	RateWindow time.Duration
}

// Server is the main HTTP server for the arbiter API.
type Server struct {
	engine *escrow.Engine
	db     *storage.DB
	hub    *notify.Hub
	secret string
	mux    *http.ServeMux
	ips    *ipLimiter
	tiers  *tierLimiter
	log    zerolog.Logger
	now    func() time.Time
}

// New creates a new Server with all routes registered.
func New(engine *escrow.Engine, db *storage.DB, hub *notify.Hub, opts Options, log zerolog.Logger) *Server {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 120
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}
	s := &Server{
		engine: engine,
		db:     db,
		hub:    hub,
		secret: opts.AdminSecret,
		mux:    http.NewServeMux(),
		log:    log.With().Str("component", "server").Logger(),
		now:    time.Now,
	}
	s.ips = newIPLimiter(opts.RateLimit, opts.RateWindow, s.clock)
	s.tiers = newTierLimiter(s.clock)
	s.routes()
	return s
}

func (s *Server) clock() time.Time { return s.now() }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.ips.allow(getIP(r)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	s.mux.ServeHTTP(w, r)
}

// routes registers all HTTP routes on the server mux.
func (s *Server) routes() {
	// Health
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	// Agreements
	s.mux.HandleFunc("POST /api/agreements", s.handleOpenAgreement)
	s.mux.HandleFunc("GET /api/agreements", s.handleListAgreements)
	s.mux.HandleFunc("GET /api/agreements/{id}", s.handleGetAgreement)
	s.mux.HandleFunc("POST /api/agreements/{id}/release", s.handleRelease)
	s.mux.HandleFunc("POST /api/agreements/{id}/dispute", s.handleDispute)
	s.mux.HandleFunc("POST /api/agreements/{id}/resolve", s.handleResolve)
	s.mux.HandleFunc("POST /api/agreements/{id}/submissions", s.handleSubmitScore)

	// Agents
	s.mux.HandleFunc("POST /api/agents", s.handleCreateAgent)
	s.mux.HandleFunc("POST /api/agents/deactivate", s.handleDeactivateAgent)
	s.mux.HandleFunc("GET /api/agents/{owner}", s.handleGetAgent)
	s.mux.HandleFunc("POST /api/agents/{owner}/reputation", s.handleUpdateAgentReputation)

	// Oracles
	s.mux.HandleFunc("POST /api/oracles/registry", s.handleInitRegistry)
	s.mux.HandleFunc("GET /api/oracles/registry", s.handleGetRegistry)
	s.mux.HandleFunc("POST /api/oracles", s.handleAddOracle)
	s.mux.HandleFunc("DELETE /api/oracles/{id}", s.handleRemoveOracle)

	// Reputation
	s.mux.HandleFunc("POST /api/reputation", s.handleInitReputation)
	s.mux.HandleFunc("GET /api/reputation/{entity}", s.handleGetReputation)

	// Ledger
	s.mux.HandleFunc("GET /api/balances/{address}", s.handleGetBalance)

	// Admin (X-Admin-Secret)
	s.mux.HandleFunc("POST /api/admin/deposit", s.handleAdminDeposit)
	s.mux.HandleFunc("POST /api/admin/reputation/{entity}/verification", s.handleAdminSetVerification)

	// Event stream
	if s.hub != nil {
		s.mux.Handle("GET /api/events", s.hub)
	}
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "arbiter",
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
