package server

import (
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/ssd-technologies/arbiter/internal/agent"
	"github.com/ssd-technologies/arbiter/internal/escrow"
	"github.com/ssd-technologies/arbiter/internal/reputation"
	"github.com/ssd-technologies/arbiter/internal/settlement"
)

// tierOf returns the caller's verification tier, Basic when no reputation
// record exists.
func (s *Server) tierOf(r *http.Request, id agent.ID) (reputation.VerificationLevel, error) {
	rep, _, err := s.engine.Reputation(r.Context(), id)
	if errors.Is(err, reputation.ErrNotInitialized) {
		return reputation.VerificationBasic, nil
	}
	if err != nil {
		return 0, err
	}
	return rep.Verification, nil
}

func (s *Server) handleOpenAgreement(w http.ResponseWriter, r *http.Request) {
	caller, body, ok := s.callerAuth(w, r)
	if !ok {
		return
	}

	var req struct {
		TransactionID   string       `json:"transaction_id"`
		Payee           string       `json:"payee"`
		Amount          uint64       `json:"amount"`
		TimeLockSeconds int64        `json:"time_lock_seconds"`
		Asset           escrow.Asset `json:"asset"`
	}
	if !decode(w, body, &req) {
		return
	}
	payee, ok := parseID(w, "payee", req.Payee)
	if !ok {
		return
	}
	// Range-check before converting so the Duration cannot wrap.
	if req.TimeLockSeconds < int64(escrow.MinTimeLock/time.Second) || req.TimeLockSeconds > int64(escrow.MaxTimeLock/time.Second) {
		s.writeOpError(w, escrow.ErrInvalidTimeLock)
		return
	}

	tier, err := s.tierOf(r, caller)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	if !s.tiers.allowAgreement(caller, tier) {
		writeError(w, http.StatusTooManyRequests, "agreement limit reached for "+tier.String()+" tier")
		return
	}

	a, err := s.engine.OpenAgreement(r.Context(), escrow.OpenRequest{
		TransactionID: req.TransactionID,
		Payer:         caller,
		Payee:         payee,
		Amount:        req.Amount,
		TimeLock:      time.Duration(req.TimeLockSeconds) * time.Second,
		Asset:         req.Asset,
	}, s.now())
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleGetAgreement(w http.ResponseWriter, r *http.Request) {
	a, err := s.engine.Agreement(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleListAgreements lists the agreements a party pays or is paid by.
func (s *Server) handleListAgreements(w http.ResponseWriter, r *http.Request) {
	party, ok := parseID(w, "party", r.URL.Query().Get("party"))
	if !ok {
		return
	}
	list, err := s.db.ListAgreements(r.Context(), party)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agreements": list})
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	caller, _, ok := s.callerAuth(w, r)
	if !ok {
		return
	}
	a, err := s.engine.Release(r.Context(), caller, r.PathValue("id"), s.now())
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	caller, _, ok := s.callerAuth(w, r)
	if !ok {
		return
	}
	tier, err := s.tierOf(r, caller)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	if !s.tiers.allowDispute(caller, tier) {
		writeError(w, http.StatusTooManyRequests, "dispute limit reached for "+tier.String()+" tier")
		return
	}
	a, err := s.engine.MarkDisputed(r.Context(), caller, r.PathValue("id"), s.now())
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleResolve relays a verifier's signed quality assertion. The request
// itself needs no caller signature.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	body, ok := s.body(w, r)
	if !ok {
		return
	}
	var req struct {
		Verifier         string `json:"verifier"`
		QualityScore     uint8  `json:"quality_score"`
		RefundPercentage *uint8 `json:"refund_percentage"`
		Signature        string `json:"signature"`
	}
	if !decode(w, body, &req) {
		return
	}
	verifier, ok := parseID(w, "verifier", req.Verifier)
	if !ok {
		return
	}
	sig, err := hex.DecodeString(req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid signature hex")
		return
	}

	var refund uint8
	if req.RefundPercentage != nil {
		refund = *req.RefundPercentage
	} else if refund, err = settlement.RefundPercentage(req.QualityScore); err != nil {
		s.writeOpError(w, err)
		return
	}

	a, err := s.engine.Resolve(r.Context(), escrow.ResolveRequest{
		TransactionID:    r.PathValue("id"),
		Verifier:         verifier,
		QualityScore:     req.QualityScore,
		RefundPercentage: refund,
		Signature:        sig,
	}, s.now())
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleSubmitScore relays one oracle's signed score.
func (s *Server) handleSubmitScore(w http.ResponseWriter, r *http.Request) {
	body, ok := s.body(w, r)
	if !ok {
		return
	}
	var req struct {
		Oracle    string `json:"oracle"`
		Score     uint8  `json:"score"`
		Signature string `json:"signature"`
	}
	if !decode(w, body, &req) {
		return
	}
	oracleID, ok := parseID(w, "oracle", req.Oracle)
	if !ok {
		return
	}
	sig, err := hex.DecodeString(req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid signature hex")
		return
	}

	a, err := s.engine.SubmitOracleScore(r.Context(), escrow.SubmitRequest{
		TransactionID: r.PathValue("id"),
		Oracle:        oracleID,
		Score:         req.Score,
		Signature:     sig,
	}, s.now())
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
