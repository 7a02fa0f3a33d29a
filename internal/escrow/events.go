package escrow

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	EventAgreementOpened           = "agreement.opened"
	EventAgreementReleased         = "agreement.released"
	EventAgreementDisputed         = "agreement.disputed"
	EventAgreementResolved         = "agreement.resolved"
	EventOracleScoreSubmitted      = "agreement.score_submitted"
	EventAgreementConsensusSettled = "agreement.consensus_resolved"
	EventAgentCreated              = "agent.created"
	EventAgentDeactivated          = "agent.deactivated"
	EventAgentReputationUpdated    = "agent.reputation_updated"
	EventRegistryInitialized       = "oracle.registry_initialized"
	EventOracleAdded               = "oracle.added"
	EventOracleRemoved             = "oracle.removed"
	EventReputationInitialized     = "reputation.initialized"
	EventReputationChanged         = "reputation.changed"
	EventVerificationChanged       = "reputation.verification_changed"
)

// Event is one published state transition.
type Event struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data"`
	At      int64           `json:"at"`
}

// NewEvent builds an event with a fresh id. data must be JSON-encodable.
func NewEvent(typ, subject string, data any, at time.Time) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:      uuid.NewString(),
		Type:    typ,
		Subject: subject,
		Data:    raw,
		At:      at.Unix(),
	}, nil
}
