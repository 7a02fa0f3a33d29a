package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/ssd-technologies/arbiter/internal/agent"
	"github.com/ssd-technologies/arbiter/internal/oracle"
	"github.com/ssd-technologies/arbiter/internal/reputation"
)

const registryLock = "registry"

// CreateAgent registers an identity for owner and locks its stake.
func (e *Engine) CreateAgent(ctx context.Context, owner agent.ID, name string, typ agent.Type, stake uint64, now time.Time) (*agent.Identity, error) {
	id, err := agent.NewIdentity(owner, name, typ, stake, now)
	if err != nil {
		return nil, e.reject("create agent", string(owner), err)
	}

	unlock := e.locks.Lock("agent:" + string(owner))
	defer unlock()

	err = e.store.Atomic(ctx, func(tx Tx) error {
		_, err := tx.Agent(ctx, owner)
		if err == nil {
			return agent.ErrExists
		}
		if !errors.Is(err, agent.ErrNotFound) {
			return err
		}
		if err := tx.Transfer(ctx, string(owner), AgentAddress(owner), nativeKey, stake); err != nil {
			return err
		}
		if err := tx.InsertAgent(ctx, id); err != nil {
			return err
		}
		return enqueue(ctx, tx, EventAgentCreated, string(owner), map[string]any{
			"name":         id.Name,
			"type":         id.Type.String(),
			"stake_amount": id.StakeAmount,
		}, now)
	})
	if err != nil {
		return nil, e.reject("create agent", string(owner), err)
	}

	e.log.Debug().Str("owner", string(owner)).Str("name", name).Msg("agent created")
	return id, nil
}

// DeactivateAgent deactivates the caller's identity and returns its stake.
func (e *Engine) DeactivateAgent(ctx context.Context, caller agent.ID, now time.Time) (*agent.Identity, error) {
	unlock := e.locks.Lock("agent:" + string(caller))
	defer unlock()

	var out *agent.Identity
	err := e.store.Atomic(ctx, func(tx Tx) error {
		id, err := tx.Agent(ctx, caller)
		if err != nil {
			return err
		}
		stake, err := id.Deactivate(caller, now)
		if err != nil {
			return err
		}
		if stake > 0 {
			if err := tx.Transfer(ctx, AgentAddress(caller), string(caller), nativeKey, stake); err != nil {
				return err
			}
		}
		if err := tx.UpdateAgent(ctx, id); err != nil {
			return err
		}
		out = id
		return enqueue(ctx, tx, EventAgentDeactivated, string(caller), map[string]any{
			"refunded_stake": stake,
		}, now)
	})
	if err != nil {
		return nil, e.reject("deactivate agent", string(caller), err)
	}

	e.log.Debug().Str("owner", string(caller)).Msg("agent deactivated")
	return out, nil
}

// UpdateAgentReputation adjusts owner's agent reputation by delta. Only a
// configured reputation authority may call it.
func (e *Engine) UpdateAgentReputation(ctx context.Context, caller, owner agent.ID, delta int64, now time.Time) (*agent.Identity, error) {
	if !e.authorities[caller] {
		return nil, e.reject("update agent reputation", string(owner), ErrNotAuthority)
	}

	unlock := e.locks.Lock("agent:" + string(owner))
	defer unlock()

	var out *agent.Identity
	err := e.store.Atomic(ctx, func(tx Tx) error {
		id, err := tx.Agent(ctx, owner)
		if err != nil {
			return err
		}
		old := id.Reputation
		id.ApplyDelta(delta, now)
		if err := tx.UpdateAgent(ctx, id); err != nil {
			return err
		}
		out = id
		return enqueue(ctx, tx, EventAgentReputationUpdated, string(owner), map[string]any{
			"old_reputation": old,
			"new_reputation": id.Reputation,
			"delta":          delta,
		}, now)
	})
	if err != nil {
		return nil, e.reject("update agent reputation", string(owner), err)
	}
	return out, nil
}

// InitializeOracleRegistry creates the registry with admin as its owner.
func (e *Engine) InitializeOracleRegistry(ctx context.Context, admin agent.ID, minConsensus, maxScoreDeviation uint8, now time.Time) (*oracle.Registry, error) {
	reg, err := oracle.NewRegistry(admin, minConsensus, maxScoreDeviation, now)
	if err != nil {
		return nil, e.reject("initialize oracle registry", string(admin), err)
	}

	unlock := e.locks.Lock(registryLock)
	defer unlock()

	err = e.store.Atomic(ctx, func(tx Tx) error {
		_, err := tx.Registry(ctx)
		if err == nil {
			return oracle.ErrAlreadyInitialized
		}
		if !errors.Is(err, oracle.ErrNotInitialized) {
			return err
		}
		if err := tx.InsertRegistry(ctx, reg); err != nil {
			return err
		}
		return enqueue(ctx, tx, EventRegistryInitialized, string(admin), map[string]any{
			"min_consensus":       reg.MinConsensus,
			"max_score_deviation": reg.MaxScoreDeviation,
		}, now)
	})
	if err != nil {
		return nil, e.reject("initialize oracle registry", string(admin), err)
	}

	e.log.Debug().Str("admin", string(admin)).Msg("oracle registry initialized")
	return reg, nil
}

// AddOracle registers an oracle. Admin only.
func (e *Engine) AddOracle(ctx context.Context, caller, id agent.ID, typ oracle.Type, weight uint16, now time.Time) (*oracle.Registry, error) {
	return e.mutateRegistry(ctx, "add oracle", id, now, func(reg *oracle.Registry) (string, map[string]any, error) {
		if err := reg.Add(caller, id, typ, weight, now); err != nil {
			return "", nil, err
		}
		return EventOracleAdded, map[string]any{
			"oracle":      id,
			"oracle_type": typ.String(),
			"weight":      weight,
		}, nil
	})
}

// RemoveOracle unregisters an oracle. Admin only.
func (e *Engine) RemoveOracle(ctx context.Context, caller, id agent.ID, now time.Time) (*oracle.Registry, error) {
	return e.mutateRegistry(ctx, "remove oracle", id, now, func(reg *oracle.Registry) (string, map[string]any, error) {
		if err := reg.Remove(caller, id, now); err != nil {
			return "", nil, err
		}
		return EventOracleRemoved, map[string]any{"oracle": id}, nil
	})
}

func (e *Engine) mutateRegistry(ctx context.Context, op string, id agent.ID, now time.Time, fn func(*oracle.Registry) (string, map[string]any, error)) (*oracle.Registry, error) {
	unlock := e.locks.Lock(registryLock)
	defer unlock()

	var out *oracle.Registry
	err := e.store.Atomic(ctx, func(tx Tx) error {
		reg, err := tx.Registry(ctx)
		if err != nil {
			return err
		}
		typ, data, err := fn(reg)
		if err != nil {
			return err
		}
		if err := tx.UpdateRegistry(ctx, reg); err != nil {
			return err
		}
		out = reg
		return enqueue(ctx, tx, typ, string(id), data, now)
	})
	if err != nil {
		return nil, e.reject(op, string(id), err)
	}

	e.log.Debug().Str("op", op).Str("oracle", string(id)).Int("oracles", len(out.Oracles)).Msg("registry updated")
	return out, nil
}

// InitReputation creates entity's reputation ledger.
func (e *Engine) InitReputation(ctx context.Context, entity agent.ID, role reputation.Role, now time.Time) (*reputation.EntityReputation, error) {
	rep, err := reputation.New(entity, role, now)
	if err != nil {
		return nil, e.reject("init reputation", string(entity), err)
	}

	unlock := e.locks.Lock("reputation:" + string(entity))
	defer unlock()

	err = e.store.Atomic(ctx, func(tx Tx) error {
		_, err := tx.Reputation(ctx, entity)
		if err == nil {
			return reputation.ErrAlreadyInitialized
		}
		if !errors.Is(err, reputation.ErrNotInitialized) {
			return err
		}
		if err := tx.InsertReputation(ctx, rep); err != nil {
			return err
		}
		return enqueue(ctx, tx, EventReputationInitialized, string(entity), rep, now)
	})
	if err != nil {
		return nil, e.reject("init reputation", string(entity), err)
	}
	return rep, nil
}

// SetVerification changes entity's verification tier.
func (e *Engine) SetVerification(ctx context.Context, entity agent.ID, level reputation.VerificationLevel, now time.Time) (*reputation.EntityReputation, error) {
	if _, err := reputation.LimitsFor(level); err != nil {
		return nil, e.reject("set verification", string(entity), err)
	}

	unlock := e.locks.Lock("reputation:" + string(entity))
	defer unlock()

	var out *reputation.EntityReputation
	err := e.store.Atomic(ctx, func(tx Tx) error {
		rep, err := tx.Reputation(ctx, entity)
		if err != nil {
			return err
		}
		rep.Verification = level
		rep.LastUpdated = now.Unix()
		if err := tx.UpdateReputation(ctx, rep); err != nil {
			return err
		}
		out = rep
		return enqueue(ctx, tx, EventVerificationChanged, string(entity), map[string]any{
			"verification": level.String(),
		}, now)
	})
	if err != nil {
		return nil, e.reject("set verification", string(entity), err)
	}
	return out, nil
}
