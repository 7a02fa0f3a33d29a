package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ssd-technologies/arbiter/internal/agent"
	"github.com/ssd-technologies/arbiter/internal/errs"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// adminAuth checks the X-Admin-Secret header against the server secret.
// Returns false (writing a 401) if the header is missing or incorrect.
func (s *Server) adminAuth(w http.ResponseWriter, r *http.Request) bool {
	if s.secret == "" || r.Header.Get("X-Admin-Secret") != s.secret {
		writeError(w, http.StatusUnauthorized, "invalid admin secret")
		return false
	}
	return true
}

// callerAuth verifies the Ed25519 signature on an incoming request and
// returns the caller identity together with the body it covered.
// On failure it writes the appropriate HTTP error and returns false.
func (s *Server) callerAuth(w http.ResponseWriter, r *http.Request) (agent.ID, []byte, bool) {
	body, ok := s.body(w, r)
	if !ok {
		return "", nil, false
	}
	id, err := agent.VerifyRequest(r, body, s.now())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "signature verification failed: "+err.Error())
		return "", nil, false
	}
	return id, body, true
}

// body reads the full request body. The body bytes are needed for
// signature verification before JSON decoding.
func (s *Server) body(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Body == nil {
		return []byte{}, true
	}
	defer r.Body.Close()
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "read body: "+err.Error())
		return nil, false
	}
	return b, true
}

// decode unmarshals a JSON body, writing a 400 on failure.
func decode(w http.ResponseWriter, body []byte, v any) bool {
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// parseID validates a hex identity taken from the request, writing a 400 on
// failure.
func parseID(w http.ResponseWriter, field, s string) (agent.ID, bool) {
	id, err := agent.ParseID(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+field+": "+err.Error())
		return "", false
	}
	return id, true
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.Validation):
		return http.StatusBadRequest
	case errors.Is(err, errs.Signature):
		return http.StatusUnauthorized
	case errors.Is(err, errs.Authorization):
		return http.StatusForbidden
	case errors.Is(err, errs.NotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.StateConflict), errors.Is(err, errs.Timing):
		return http.StatusConflict
	case errors.Is(err, errs.Funds):
		return http.StatusPaymentRequired
	case errors.Is(err, errs.Consensus), errors.Is(err, errs.Registry):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeOpError reports a failed operation as {"error", "code", "kind"}.
func (s *Server) writeOpError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("operation failed")
		writeJSON(w, status, map[string]string{"error": "internal error", "code": "Internal"})
		return
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  errs.Code(err),
		"kind":  errs.KindName(err),
	})
}
