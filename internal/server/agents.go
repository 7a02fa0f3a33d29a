package server

import (
	"net/http"

	"github.com/ssd-technologies/arbiter/internal/agent"
)

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	caller, body, ok := s.callerAuth(w, r)
	if !ok {
		return
	}
	var req struct {
		Name        string `json:"name"`
		AgentType   string `json:"agent_type"`
		StakeAmount uint64 `json:"stake_amount"`
	}
	if !decode(w, body, &req) {
		return
	}
	typ, err := agent.ParseType(req.AgentType)
	if err != nil {
		s.writeOpError(w, err)
		return
	}

	id, err := s.engine.CreateAgent(r.Context(), caller, req.Name, typ, req.StakeAmount, s.now())
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, id)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	owner, ok := parseID(w, "owner", r.PathValue("owner"))
	if !ok {
		return
	}
	id, err := s.engine.Agent(r.Context(), owner)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, id)
}

func (s *Server) handleDeactivateAgent(w http.ResponseWriter, r *http.Request) {
	caller, _, ok := s.callerAuth(w, r)
	if !ok {
		return
	}
	id, err := s.engine.DeactivateAgent(r.Context(), caller, s.now())
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, id)
}

// handleUpdateAgentReputation applies a signed delta from a reputation authority.
func (s *Server) handleUpdateAgentReputation(w http.ResponseWriter, r *http.Request) {
	caller, body, ok := s.callerAuth(w, r)
	if !ok {
		return
	}
	owner, ok := parseID(w, "owner", r.PathValue("owner"))
	if !ok {
		return
	}
	var req struct {
		Delta int64 `json:"delta"`
	}
	if !decode(w, body, &req) {
		return
	}

	id, err := s.engine.UpdateAgentReputation(r.Context(), caller, owner, req.Delta, s.now())
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, id)
}
