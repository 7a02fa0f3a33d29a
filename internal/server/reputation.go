package server

import (
	"net/http"

	"github.com/ssd-technologies/arbiter/internal/reputation"
)

// reputationView is an EntityReputation with its current dispute cost.
type reputationView struct {
	*reputation.EntityReputation
	DisputeCost uint64 `json:"dispute_cost"`
}

func newReputationView(rep *reputation.EntityReputation, cost uint64) reputationView {
	return reputationView{EntityReputation: rep, DisputeCost: cost}
}

// handleInitReputation creates the caller's reputation ledger.
func (s *Server) handleInitReputation(w http.ResponseWriter, r *http.Request) {
	caller, body, ok := s.callerAuth(w, r)
	if !ok {
		return
	}
	var req struct {
		Role string `json:"role"`
	}
	if !decode(w, body, &req) {
		return
	}
	role, err := reputation.ParseRole(req.Role)
	if err != nil {
		s.writeOpError(w, err)
		return
	}

	rep, err := s.engine.InitReputation(r.Context(), caller, role, s.now())
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newReputationView(rep, reputation.DisputeCost(rep)))
}

func (s *Server) handleGetReputation(w http.ResponseWriter, r *http.Request) {
	entity, ok := parseID(w, "entity", r.PathValue("entity"))
	if !ok {
		return
	}
	rep, cost, err := s.engine.Reputation(r.Context(), entity)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newReputationView(rep, cost))
}
