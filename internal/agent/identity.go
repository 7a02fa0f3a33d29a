package agent

import (
	"fmt"
	"time"

	"github.com/ssd-technologies/arbiter/internal/errs"
)

const (
	// MinStake is the smallest stake, in native base units, an identity may lock.
	MinStake uint64 = 100_000_000
	// MaxNameLen bounds the display name.
	MaxNameLen = 32
	// InitialReputation is the reputation of a new identity.
	InitialReputation uint16 = 500
	// MaxReputation caps identity reputation.
	MaxReputation uint16 = 1000
)

var (
	ErrInvalidName       = errs.New("InvalidAgentName", "agent name must be 1 to 32 characters", errs.Validation)
	ErrInvalidType       = errs.New("InvalidAgentType", "unknown agent type", errs.Validation)
	ErrInsufficientStake = errs.New("InsufficientStake", "stake below minimum", errs.Funds)
	ErrNotActive         = errs.New("AgentNotActive", "agent is not active", errs.StateConflict)
	ErrUnauthorized      = errs.New("Unauthorized", "caller may not modify this agent", errs.Authorization)
	ErrNotFound          = errs.New("AgentNotFound", "agent identity not found", errs.NotFound)
	ErrExists            = errs.New("AgentExists", "agent identity already registered", errs.StateConflict)
)

// Type is the category an agent registers under.
type Type uint8

const (
	TypeTrading Type = iota
	TypeService
	TypeOracle
	TypeCustom
)

func (t Type) String() string {
	switch t {
	case TypeTrading:
		return "trading"
	case TypeService:
		return "service"
	case TypeOracle:
		return "oracle"
	case TypeCustom:
		return "custom"
	default:
		return fmt.Sprintf("agent_type(%d)", uint8(t))
	}
}

// ParseType parses the String form of a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "trading":
		return TypeTrading, nil
	case "service":
		return TypeService, nil
	case "oracle":
		return TypeOracle, nil
	case "custom":
		return TypeCustom, nil
	default:
		return 0, ErrInvalidType
	}
}

func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Type) UnmarshalText(b []byte) error {
	v, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Identity is a staked, named participant.
type Identity struct {
	Owner             ID     `json:"owner"`
	Name              string `json:"name"`
	Type              Type   `json:"type"`
	Reputation        uint16 `json:"reputation"`
	StakeAmount       uint64 `json:"stake_amount"`
	IsActive          bool   `json:"is_active"`
	CreatedAt         int64  `json:"created_at"`
	LastActive        int64  `json:"last_active"`
	TotalEscrows      uint64 `json:"total_escrows"`
	SuccessfulEscrows uint64 `json:"successful_escrows"`
	DisputedEscrows   uint64 `json:"disputed_escrows"`
}

// NewIdentity validates the registration and returns an active identity.
// The caller is responsible for locking stake.
func NewIdentity(owner ID, name string, typ Type, stake uint64, now time.Time) (*Identity, error) {
	if n := len([]rune(name)); n == 0 || n > MaxNameLen {
		return nil, ErrInvalidName
	}
	switch typ {
	case TypeTrading, TypeService, TypeOracle, TypeCustom:
	default:
		return nil, ErrInvalidType
	}
	if stake < MinStake {
		return nil, ErrInsufficientStake
	}
	return &Identity{
		Owner:       owner,
		Name:        name,
		Type:        typ,
		Reputation:  InitialReputation,
		StakeAmount: stake,
		IsActive:    true,
		CreatedAt:   now.Unix(),
		LastActive:  now.Unix(),
	}, nil
}

// Deactivate marks the identity inactive and returns the stake to unlock.
func (a *Identity) Deactivate(caller ID, now time.Time) (uint64, error) {
	if caller != a.Owner {
		return 0, ErrUnauthorized
	}
	if !a.IsActive {
		return 0, ErrNotActive
	}
	stake := a.StakeAmount
	a.IsActive = false
	a.StakeAmount = 0
	a.LastActive = now.Unix()
	return stake, nil
}

// ApplyDelta adjusts reputation, clamped to [0, MaxReputation].
func (a *Identity) ApplyDelta(delta int64, now time.Time) {
	switch {
	case delta <= -int64(a.Reputation):
		a.Reputation = 0
	case delta >= int64(MaxReputation-a.Reputation):
		a.Reputation = MaxReputation
	default:
		a.Reputation = uint16(int64(a.Reputation) + delta)
	}
	a.LastActive = now.Unix()
}

// Touch bumps the activity timestamp.
func (a *Identity) Touch(now time.Time) {
	a.LastActive = now.Unix()
}
