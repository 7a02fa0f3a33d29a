// Package reputation maintains per-entity trust metrics and the dispute cost
// policy derived from them.
package reputation

import (
	"fmt"
	"math"
	"time"

	"github.com/ssd-technologies/arbiter/internal/agent"
	"github.com/ssd-technologies/arbiter/internal/errs"
)

// InitialScore is the reputation score of an entity with no transactions.
const InitialScore = 500

// MaxScore caps the composite reputation score.
const MaxScore = 1000

var (
	ErrInvalidRole         = errs.New("InvalidEntityRole", "unknown entity role", errs.Validation)
	ErrInvalidVerification = errs.New("InvalidVerificationLevel", "unknown verification level", errs.Validation)
	ErrNotInitialized      = errs.New("ReputationNotInitialized", "reputation record not initialized", errs.NotFound)
	ErrAlreadyInitialized  = errs.New("ReputationExists", "reputation record already initialized", errs.StateConflict)
)

// Role is the side an entity takes in agreements.
type Role uint8

const (
	RoleRequester Role = iota
	RoleProvider
)

func (r Role) String() string {
	switch r {
	case RoleRequester:
		return "requester"
	case RoleProvider:
		return "provider"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// ParseRole parses the String form of a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "requester":
		return RoleRequester, nil
	case "provider":
		return RoleProvider, nil
	default:
		return 0, ErrInvalidRole
	}
}

func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Role) UnmarshalText(b []byte) error {
	v, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// EntityReputation is the trust ledger of one requester or provider.
type EntityReputation struct {
	Entity                 agent.ID          `json:"entity"`
	Role                   Role              `json:"role"`
	Verification           VerificationLevel `json:"verification"`
	TotalTransactions      uint64            `json:"total_transactions"`
	DisputesFiled          uint64            `json:"disputes_filed"`
	DisputesWon            uint64            `json:"disputes_won"`
	DisputesPartial        uint64            `json:"disputes_partial"`
	DisputesLost           uint64            `json:"disputes_lost"`
	AverageQualityReceived uint8             `json:"average_quality_received"`
	ReputationScore        uint16            `json:"reputation_score"`
	CreatedAt              int64             `json:"created_at"`
	LastUpdated            int64             `json:"last_updated"`
}

// New returns a fresh ledger for entity.
func New(entity agent.ID, role Role, now time.Time) (*EntityReputation, error) {
	if role != RoleRequester && role != RoleProvider {
		return nil, ErrInvalidRole
	}
	return &EntityReputation{
		Entity:          entity,
		Role:            role,
		Verification:    VerificationBasic,
		ReputationScore: InitialScore,
		CreatedAt:       now.Unix(),
		LastUpdated:     now.Unix(),
	}, nil
}

// RecordDisputeFiled counts one dispute opened by the entity.
func (r *EntityReputation) RecordDisputeFiled(now time.Time) {
	r.DisputesFiled = satAdd(r.DisputesFiled, 1)
	r.LastUpdated = now.Unix()
}

// ApplyRequesterOutcome folds one resolution into a requester's ledger. A
// high refund is a win for the requester.
func (r *EntityReputation) ApplyRequesterOutcome(qualityScore, refundPct uint8, now time.Time) {
	r.foldQuality(qualityScore)
	switch {
	case refundPct >= 75:
		r.DisputesWon = satAdd(r.DisputesWon, 1)
	case refundPct >= 25:
		r.DisputesPartial = satAdd(r.DisputesPartial, 1)
	default:
		r.DisputesLost = satAdd(r.DisputesLost, 1)
	}
	r.ReputationScore = Score(r)
	r.LastUpdated = now.Unix()
}

// ApplyProviderOutcome folds one resolution into a provider's ledger. The
// quality delivered is 100 minus the refund, and a low refund is a win.
func (r *EntityReputation) ApplyProviderOutcome(refundPct uint8, now time.Time) {
	delivered := uint8(0)
	if refundPct < 100 {
		delivered = 100 - refundPct
	}
	r.foldQuality(delivered)
	switch {
	case refundPct <= 25:
		r.DisputesWon = satAdd(r.DisputesWon, 1)
	case refundPct <= 75:
		r.DisputesPartial = satAdd(r.DisputesPartial, 1)
	default:
		r.DisputesLost = satAdd(r.DisputesLost, 1)
	}
	r.ReputationScore = Score(r)
	r.LastUpdated = now.Unix()
}

// foldQuality counts one transaction and updates the running mean quality.
func (r *EntityReputation) foldQuality(q uint8) {
	r.TotalTransactions = satAdd(r.TotalTransactions, 1)
	total := satAdd(satMul(uint64(r.AverageQualityReceived), r.TotalTransactions-1), uint64(q))
	avg := total / r.TotalTransactions
	if avg > 100 {
		avg = 100
	}
	r.AverageQualityReceived = uint8(avg)
}

// Score computes the composite 0-1000 reputation score:
// transactions (cap 500) + dispute win rate (cap 300, flat 150 without
// disputes) + average quality (cap 200).
func Score(r *EntityReputation) uint16 {
	if r.TotalTransactions == 0 {
		return InitialScore
	}
	txScore := min(r.TotalTransactions, 100) * 5

	disputeScore := uint64(150)
	if r.DisputesFiled > 0 {
		winRate := satMul(r.DisputesWon, 100) / r.DisputesFiled
		disputeScore = min(satMul(winRate, 3), 300)
	}

	qualityScore := min(uint64(r.AverageQualityReceived)*2, 200)

	return uint16(min(txScore+disputeScore+qualityScore, MaxScore))
}

func satAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

func satMul(a, b uint64) uint64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > math.MaxUint64/b {
		return math.MaxUint64
	}
	return a * b
}
