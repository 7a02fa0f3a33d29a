package server

import (
	"net/http"

	"github.com/ssd-technologies/arbiter/internal/oracle"
)

// handleInitRegistry creates the oracle registry with the caller as admin.
func (s *Server) handleInitRegistry(w http.ResponseWriter, r *http.Request) {
	caller, body, ok := s.callerAuth(w, r)
	if !ok {
		return
	}
	var req struct {
		MinConsensus      uint8 `json:"min_consensus"`
		MaxScoreDeviation uint8 `json:"max_score_deviation"`
	}
	if !decode(w, body, &req) {
		return
	}

	reg, err := s.engine.InitializeOracleRegistry(r.Context(), caller, req.MinConsensus, req.MaxScoreDeviation, s.now())
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

func (s *Server) handleGetRegistry(w http.ResponseWriter, r *http.Request) {
	reg, err := s.engine.Registry(r.Context())
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

func (s *Server) handleAddOracle(w http.ResponseWriter, r *http.Request) {
	caller, body, ok := s.callerAuth(w, r)
	if !ok {
		return
	}
	var req struct {
		Oracle     string `json:"oracle"`
		OracleType string `json:"oracle_type"`
		Weight     uint16 `json:"weight"`
	}
	if !decode(w, body, &req) {
		return
	}
	id, ok := parseID(w, "oracle", req.Oracle)
	if !ok {
		return
	}
	typ, err := oracle.ParseType(req.OracleType)
	if err != nil {
		s.writeOpError(w, err)
		return
	}

	reg, err := s.engine.AddOracle(r.Context(), caller, id, typ, req.Weight, s.now())
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

func (s *Server) handleRemoveOracle(w http.ResponseWriter, r *http.Request) {
	caller, _, ok := s.callerAuth(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, "oracle", r.PathValue("id"))
	if !ok {
		return
	}
	reg, err := s.engine.RemoveOracle(r.Context(), caller, id, s.now())
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}
