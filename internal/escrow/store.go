package escrow

import (
	"context"

	"github.com/ssd-technologies/arbiter/internal/agent"
	"github.com/ssd-technologies/arbiter/internal/oracle"
	"github.com/ssd-technologies/arbiter/internal/reputation"
)

// Ledger moves value between addresses. Addresses are participant
// identities or derived holder addresses (see EscrowAddress).
type Ledger interface {
	Balance(ctx context.Context, address, asset string) (uint64, error)
	// Transfer fails with ErrInsufficientFunds when from cannot cover amount.
	Transfer(ctx context.Context, from, to, asset string, amount uint64) error
}

// Tx is the view of the record store inside one atomic unit. Lookups of
// missing records return the owning package's not-found error.
type Tx interface {
	Ledger

	Agreement(ctx context.Context, txID string) (*Agreement, error)
	InsertAgreement(ctx context.Context, a *Agreement) error
	// UpdateAgreement persists a when the stored version still equals
	// a.Version, then increments a.Version. Otherwise ErrStaleWrite.
	UpdateAgreement(ctx context.Context, a *Agreement) error

	Reputation(ctx context.Context, entity agent.ID) (*reputation.EntityReputation, error)
	InsertReputation(ctx context.Context, r *reputation.EntityReputation) error
	UpdateReputation(ctx context.Context, r *reputation.EntityReputation) error

	Agent(ctx context.Context, owner agent.ID) (*agent.Identity, error)
	InsertAgent(ctx context.Context, a *agent.Identity) error
	UpdateAgent(ctx context.Context, a *agent.Identity) error

	Registry(ctx context.Context) (*oracle.Registry, error)
	InsertRegistry(ctx context.Context, r *oracle.Registry) error
	UpdateRegistry(ctx context.Context, r *oracle.Registry) error

	// Enqueue appends ev to the outbound event queue.
	Enqueue(ctx context.Context, ev Event) error
}

// Store runs fn atomically: every write made through the Tx, including
// transfers and enqueued events, commits together or not at all.
type Store interface {
	Atomic(ctx context.Context, fn func(Tx) error) error
}

// Verifier authenticates a signer's signature over msg.
type Verifier interface {
	Verify(sig []byte, signer agent.ID, msg []byte) error
}
