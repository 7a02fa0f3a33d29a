package escrow

import (
	"context"

	"github.com/ssd-technologies/arbiter/internal/agent"
	"github.com/ssd-technologies/arbiter/internal/oracle"
	"github.com/ssd-technologies/arbiter/internal/reputation"
)

// Agreement returns the agreement stored under txID.
func (e *Engine) Agreement(ctx context.Context, txID string) (*Agreement, error) {
	var out *Agreement
	err := e.store.Atomic(ctx, func(tx Tx) error {
		a, err := tx.Agreement(ctx, txID)
		out = a
		return err
	})
	return out, err
}

// Agent returns owner's agent identity.
func (e *Engine) Agent(ctx context.Context, owner agent.ID) (*agent.Identity, error) {
	var out *agent.Identity
	err := e.store.Atomic(ctx, func(tx Tx) error {
		a, err := tx.Agent(ctx, owner)
		out = a
		return err
	})
	return out, err
}

// Registry returns the oracle registry.
func (e *Engine) Registry(ctx context.Context) (*oracle.Registry, error) {
	var out *oracle.Registry
	err := e.store.Atomic(ctx, func(tx Tx) error {
		r, err := tx.Registry(ctx)
		out = r
		return err
	})
	return out, err
}

// Reputation returns entity's reputation ledger and its current dispute cost.
func (e *Engine) Reputation(ctx context.Context, entity agent.ID) (*reputation.EntityReputation, uint64, error) {
	var out *reputation.EntityReputation
	err := e.store.Atomic(ctx, func(tx Tx) error {
		r, err := tx.Reputation(ctx, entity)
		out = r
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return out, reputation.DisputeCost(out), nil
}
