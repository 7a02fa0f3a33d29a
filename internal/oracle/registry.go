// Package oracle holds the admin-curated registry of trusted quality scorers.
package oracle

import (
	"fmt"
	"time"

	"github.com/ssd-technologies/arbiter/internal/agent"
	"github.com/ssd-technologies/arbiter/internal/errs"
)

const (
	// MaxOracles bounds the registry size.
	MaxOracles = 5
	// MinConsensusOracles is the lowest allowed min_consensus.
	MinConsensusOracles = 2
	// MaxScoreDeviationLimit is the highest allowed max_score_deviation.
	MaxScoreDeviationLimit = 50
)

var (
	ErrInvalidMinConsensus = errs.New("InsufficientOracleConsensus", "min_consensus must be between 2 and 5", errs.Validation)
	ErrInvalidDeviation    = errs.New("InvalidScoreDeviation", "max_score_deviation must be at most 50", errs.Validation)
	ErrInvalidType         = errs.New("InvalidOracleType", "unknown oracle type", errs.Validation)
	ErrUnauthorized        = errs.New("Unauthorized", "caller is not the registry admin", errs.Authorization)
	ErrRegistryFull        = errs.New("MaxOraclesReached", "maximum oracles reached", errs.Registry)
	ErrDuplicateOracle     = errs.New("DuplicateOracle", "oracle already registered", errs.Registry)
	ErrOracleNotFound      = errs.New("OracleNotFound", "oracle not found", errs.Registry)
	ErrInvalidWeight       = errs.New("InvalidOracleWeight", "oracle weight must be greater than 0", errs.Registry)
	ErrNotInitialized      = errs.New("RegistryNotInitialized", "oracle registry not initialized", errs.NotFound)
	ErrAlreadyInitialized  = errs.New("RegistryExists", "oracle registry already initialized", errs.StateConflict)
)

// Type is the kind of source an oracle asserts scores from.
type Type uint8

const (
	TypeDirectSignature Type = iota
	TypeExternalFeed
	TypeCustom
)

func (t Type) String() string {
	switch t {
	case TypeDirectSignature:
		return "direct_signature"
	case TypeExternalFeed:
		return "external_feed"
	case TypeCustom:
		return "custom"
	default:
		return fmt.Sprintf("oracle_type(%d)", uint8(t))
	}
}

// ParseType parses the String form of a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "direct_signature":
		return TypeDirectSignature, nil
	case "external_feed":
		return TypeExternalFeed, nil
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

// Config is one registered oracle.
type Config struct {
	Identity agent.ID `json:"identity"`
	Type     Type     `json:"type"`
	Weight   uint16   `json:"weight"`
}

// Registry is the set of trusted oracles and the consensus parameters.
type Registry struct {
	Admin             agent.ID `json:"admin"`
	Oracles           []Config `json:"oracles"`
	MinConsensus      uint8    `json:"min_consensus"`
	MaxScoreDeviation uint8    `json:"max_score_deviation"`
	CreatedAt         int64    `json:"created_at"`
	UpdatedAt         int64    `json:"updated_at"`
}

// NewRegistry validates the consensus parameters and returns an empty registry.
func NewRegistry(admin agent.ID, minConsensus, maxScoreDeviation uint8, now time.Time) (*Registry, error) {
	if minConsensus < MinConsensusOracles || minConsensus > MaxOracles {
		return nil, ErrInvalidMinConsensus
	}
	if maxScoreDeviation > MaxScoreDeviationLimit {
		return nil, ErrInvalidDeviation
	}
	return &Registry{
		Admin:             admin,
		Oracles:           []Config{},
		MinConsensus:      minConsensus,
		MaxScoreDeviation: maxScoreDeviation,
		CreatedAt:         now.Unix(),
		UpdatedAt:         now.Unix(),
	}, nil
}

// Add registers an oracle. Only the admin may add.
func (r *Registry) Add(caller, id agent.ID, typ Type, weight uint16, now time.Time) error {
	if caller != r.Admin {
		return ErrUnauthorized
	}
	if len(r.Oracles) >= MaxOracles {
		return ErrRegistryFull
	}
	if weight == 0 {
		return ErrInvalidWeight
	}
	switch typ {
	case TypeDirectSignature, TypeExternalFeed, TypeCustom:
	default:
		return ErrInvalidType
	}
	if _, ok := r.Lookup(id); ok {
		return ErrDuplicateOracle
	}
	r.Oracles = append(r.Oracles, Config{Identity: id, Type: typ, Weight: weight})
	r.UpdatedAt = now.Unix()
	return nil
}

// Remove unregisters an oracle. Only the admin may remove.
func (r *Registry) Remove(caller, id agent.ID, now time.Time) error {
	if caller != r.Admin {
		return ErrUnauthorized
	}
	for i, o := range r.Oracles {
		if o.Identity == id {
			r.Oracles = append(r.Oracles[:i], r.Oracles[i+1:]...)
			r.UpdatedAt = now.Unix()
			return nil
		}
	}
	return ErrOracleNotFound
}

// Lookup returns the config of a registered oracle.
func (r *Registry) Lookup(id agent.ID) (Config, bool) {
	for _, o := range r.Oracles {
		if o.Identity == id {
			return o, true
		}
	}
	return Config{}, false
}
