package reputation

import "fmt"

// VerificationLevel is the coarse identity-verification tier of an entity.
type VerificationLevel uint8

const (
	VerificationBasic VerificationLevel = iota
	VerificationStaked
	VerificationSocial
	VerificationKYC
)

func (v VerificationLevel) String() string {
	switch v {
	case VerificationBasic:
		return "basic"
	case VerificationStaked:
		return "staked"
	case VerificationSocial:
		return "social"
	case VerificationKYC:
		return "kyc"
	default:
		return fmt.Sprintf("verification(%d)", uint8(v))
	}
}

// ParseVerificationLevel parses the String form of a VerificationLevel.
func ParseVerificationLevel(s string) (VerificationLevel, error) {
	switch s {
	case "basic":
		return VerificationBasic, nil
	case "staked":
		return VerificationStaked, nil
	case "social":
		return VerificationSocial, nil
	case "kyc":
		return VerificationKYC, nil
	default:
		return 0, ErrInvalidVerification
	}
}

func (v VerificationLevel) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

func (v *VerificationLevel) UnmarshalText(b []byte) error {
	lvl, err := ParseVerificationLevel(string(b))
	if err != nil {
		return err
	}
	*v = lvl
	return nil
}

// Limits bounds how often an entity of a given tier may act.
type Limits struct {
	AgreementsPerMinute int
	AgreementsPerHour   int
	DisputesPerDay      int
}

// LimitsFor returns the activity limits of a verification tier.
func LimitsFor(v VerificationLevel) (Limits, error) {
	switch v {
	case VerificationBasic:
		return Limits{1, 10, 3}, nil
	case VerificationStaked:
		return Limits{10, 100, 10}, nil
	case VerificationSocial:
		return Limits{50, 500, 50}, nil
	case VerificationKYC:
		return Limits{1000, 10000, 1000}, nil
	default:
		return Limits{}, ErrInvalidVerification
	}
}
