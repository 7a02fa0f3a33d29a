package server

import (
	"net/http"
	"strings"

	"github.com/ssd-technologies/arbiter/internal/reputation"
)

// validAsset accepts "native" or "token:<mint>".
func validAsset(asset string) bool {
	if asset == "native" {
		return true
	}
	mint, ok := strings.CutPrefix(asset, "token:")
	return ok && mint != ""
}

// handleAdminDeposit credits the local ledger.
func (s *Server) handleAdminDeposit(w http.ResponseWriter, r *http.Request) {
	if !s.adminAuth(w, r) {
		return
	}
	body, ok := s.body(w, r)
	if !ok {
		return
	}
	var req struct {
		Address string `json:"address"`
		Asset   string `json:"asset"`
		Amount  uint64 `json:"amount"`
	}
	if !decode(w, body, &req) {
		return
	}
	if req.Asset == "" {
		req.Asset = "native"
	}
	// Identities and holder addresses are lowercase hex.
	req.Address = strings.ToLower(req.Address)
	if req.Address == "" || !validAsset(req.Asset) || req.Amount == 0 {
		writeError(w, http.StatusBadRequest, "address, asset and a positive amount are required")
		return
	}

	bal, err := s.db.Deposit(r.Context(), req.Address, req.Asset, req.Amount)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	s.log.Info().Str("address", req.Address).Str("asset", req.Asset).Uint64("amount", req.Amount).Msg("deposit")
	writeJSON(w, http.StatusOK, map[string]any{
		"address": req.Address,
		"asset":   req.Asset,
		"balance": bal,
	})
}

// handleAdminSetVerification sets an entity's verification tier.
func (s *Server) handleAdminSetVerification(w http.ResponseWriter, r *http.Request) {
	if !s.adminAuth(w, r) {
		return
	}
	entity, ok := parseID(w, "entity", r.PathValue("entity"))
	if !ok {
		return
	}
	body, ok := s.body(w, r)
	if !ok {
		return
	}
	var req struct {
		Level string `json:"level"`
	}
	if !decode(w, body, &req) {
		return
	}
	level, err := reputation.ParseVerificationLevel(req.Level)
	if err != nil {
		s.writeOpError(w, err)
		return
	}

	rep, err := s.engine.SetVerification(r.Context(), entity, level, s.now())
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newReputationView(rep, reputation.DisputeCost(rep)))
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		asset = "native"
	}
	if !validAsset(asset) {
		writeError(w, http.StatusBadRequest, "invalid asset")
		return
	}
	address := strings.ToLower(r.PathValue("address"))
	bal, err := s.db.Balance(r.Context(), address, asset)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": address,
		"asset":   asset,
		"balance": bal,
	})
}
