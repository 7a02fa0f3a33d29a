// Package escrow implements the agreement state machine: opening escrowed
// payments, releasing them, disputing them and settling them through a
// verified quality score.
package escrow

import (
	"fmt"
	"time"

	"github.com/ssd-technologies/arbiter/internal/agent"
)

const (
	MinTimeLock = time.Hour
	MaxTimeLock = 30 * 24 * time.Hour
	// MaxTransactionIDLen bounds agreement identifiers.
	MaxTransactionIDLen = 64
	// MaxSubmissions bounds oracle submissions per agreement.
	MaxSubmissions = 5
	// NativeDecimals is the precision of the native asset.
	NativeDecimals = 9
)

// Status is the lifecycle stage of an agreement.
type Status uint8

const (
	StatusActive Status = iota
	StatusReleased
	StatusDisputed
	StatusResolved
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusReleased:
		return "released"
	case StatusDisputed:
		return "disputed"
	case StatusResolved:
		return "resolved"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// ParseStatus parses the String form of a Status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "active":
		return StatusActive, nil
	case "released":
		return StatusReleased, nil
	case "disputed":
		return StatusDisputed, nil
	case "resolved":
		return StatusResolved, nil
	default:
		return 0, fmt.Errorf("unknown status %q", s)
	}
}

// Terminal reports whether no transition out of s exists.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusResolved
}

// Option is an explicitly present or absent value.
type Option[T any] struct {
	value T
	ok    bool
}

// Some returns a present Option.
func Some[T any](v T) Option[T] { return Option[T]{value: v, ok: true} }

// None returns an absent Option.
func None[T any]() Option[T] { return Option[T]{} }

// Get returns the value and whether it is present.
func (o Option[T]) Get() (T, bool) { return o.value, o.ok }

// IsSome reports whether the value is present.
func (o Option[T]) IsSome() bool { return o.ok }

// Token describes a fungible token denomination.
type Token struct {
	Mint     string `json:"mint"`
	Decimals uint8  `json:"decimals"`
}

// Asset is the denomination of an agreement: native, or a token.
type Asset struct {
	Token Option[Token]
}

// NativeAsset is the chain's native denomination.
func NativeAsset() Asset { return Asset{} }

// TokenAsset is a token denomination.
func TokenAsset(mint string, decimals uint8) Asset {
	return Asset{Token: Some(Token{Mint: mint, Decimals: decimals})}
}

// Key is the ledger key of the asset: "native" or "token:<mint>".
func (a Asset) Key() string {
	if t, ok := a.Token.Get(); ok {
		return "token:" + t.Mint
	}
	return "native"
}

// Decimals is the precision of the asset.
func (a Asset) Decimals() uint8 {
	if t, ok := a.Token.Get(); ok {
		return t.Decimals
	}
	return NativeDecimals
}

// Submission is one oracle's quality score for an agreement.
type Submission struct {
	Oracle      agent.ID `json:"oracle"`
	Score       uint8    `json:"score"`
	SubmittedAt int64    `json:"submitted_at"`
}

// Agreement is an escrowed payment between a payer and a payee.
type Agreement struct {
	TransactionID    string        `json:"transaction_id"`
	Payer            agent.ID      `json:"payer"`
	Payee            agent.ID      `json:"payee"`
	Amount           uint64        `json:"amount"`
	Asset            Asset         `json:"asset"`
	Status           Status        `json:"status"`
	CreatedAt        int64         `json:"created_at"`
	ExpiresAt        int64         `json:"expires_at"`
	QualityScore     Option[uint8] `json:"quality_score"`
	RefundPercentage Option[uint8] `json:"refund_percentage"`
	Submissions      []Submission  `json:"submissions"`
	// Version increments on every committed mutation.
	Version int64 `json:"version"`
}

// Expired reports whether the time lock has elapsed at now.
func (a *Agreement) Expired(now time.Time) bool {
	return now.Unix() >= a.ExpiresAt
}

// HasSubmission reports whether oracle already submitted a score.
func (a *Agreement) HasSubmission(oracle agent.ID) bool {
	for _, s := range a.Submissions {
		if s.Oracle == oracle {
			return true
		}
	}
	return false
}

// Scores returns the submitted scores in submission order.
func (a *Agreement) Scores() []uint8 {
	out := make([]uint8, len(a.Submissions))
	for i, s := range a.Submissions {
		out[i] = s.Score
	}
	return out
}
