package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ssd-technologies/arbiter/internal/agent"
	"github.com/ssd-technologies/arbiter/internal/oracle"
	"github.com/ssd-technologies/arbiter/internal/reputation"
)

// --- Reputation CRUD ---

func (t *tx) Reputation(ctx context.Context, entity agent.ID) (*reputation.EntityReputation, error) {
	var (
		r                                reputation.EntityReputation
		id, role, verification           string
		total, filed, won, partial, lost int64
	)
	err := t.q.QueryRowContext(ctx,
		`SELECT entity, role, verification, total_transactions, disputes_filed, disputes_won,
		        disputes_partial, disputes_lost, average_quality_received, reputation_score,
		        created_at, last_updated
		 FROM entity_reputation WHERE entity = ?`, string(entity),
	).Scan(&id, &role, &verification, &total, &filed, &won, &partial, &lost,
		&r.AverageQualityReceived, &r.ReputationScore, &r.CreatedAt, &r.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, reputation.ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("get reputation: %w", err)
	}
	r.Entity = agent.ID(id)
	if r.Role, err = reputation.ParseRole(role); err != nil {
		return nil, fmt.Errorf("get reputation: %w", err)
	}
	if r.Verification, err = reputation.ParseVerificationLevel(verification); err != nil {
		return nil, fmt.Errorf("get reputation: %w", err)
	}
	r.TotalTransactions = u64(total)
	r.DisputesFiled = u64(filed)
	r.DisputesWon = u64(won)
	r.DisputesPartial = u64(partial)
	r.DisputesLost = u64(lost)
	return &r, nil
}

func (t *tx) InsertReputation(ctx context.Context, r *reputation.EntityReputation) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO entity_reputation (entity, role, verification, total_transactions, disputes_filed,
		                                disputes_won, disputes_partial, disputes_lost,
		                                average_quality_received, reputation_score, created_at, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(r.Entity), r.Role.String(), r.Verification.String(),
		i64(r.TotalTransactions), i64(r.DisputesFiled), i64(r.DisputesWon),
		i64(r.DisputesPartial), i64(r.DisputesLost),
		r.AverageQualityReceived, r.ReputationScore, r.CreatedAt, r.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("create reputation: %w", err)
	}
	return nil
}

func (t *tx) UpdateReputation(ctx context.Context, r *reputation.EntityReputation) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE entity_reputation SET verification = ?, total_transactions = ?, disputes_filed = ?,
		        disputes_won = ?, disputes_partial = ?, disputes_lost = ?,
		        average_quality_received = ?, reputation_score = ?, last_updated = ?
		 WHERE entity = ?`,
		r.Verification.String(), i64(r.TotalTransactions), i64(r.DisputesFiled),
		i64(r.DisputesWon), i64(r.DisputesPartial), i64(r.DisputesLost),
		r.AverageQualityReceived, r.ReputationScore, r.LastUpdated, string(r.Entity),
	)
	if err != nil {
		return fmt.Errorf("update reputation: %w", err)
	}
	return mustAffect(res, reputation.ErrNotInitialized)
}

// --- Agent CRUD ---

func (t *tx) Agent(ctx context.Context, owner agent.ID) (*agent.Identity, error) {
	var (
		a                                  agent.Identity
		id, typ                            string
		stake, total, successful, disputed int64
		active                             int
	)
	err := t.q.QueryRowContext(ctx,
		`SELECT owner, name, agent_type, reputation, stake_amount, is_active, created_at, last_active,
		        total_escrows, successful_escrows, disputed_escrows
		 FROM agents WHERE owner = ?`, string(owner),
	).Scan(&id, &a.Name, &typ, &a.Reputation, &stake, &active, &a.CreatedAt, &a.LastActive,
		&total, &successful, &disputed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, agent.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	a.Owner = agent.ID(id)
	if a.Type, err = agent.ParseType(typ); err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	a.StakeAmount = u64(stake)
	a.IsActive = active != 0
	a.TotalEscrows = u64(total)
	a.SuccessfulEscrows = u64(successful)
	a.DisputedEscrows = u64(disputed)
	return &a, nil
}

func (t *tx) InsertAgent(ctx context.Context, a *agent.Identity) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO agents (owner, name, agent_type, reputation, stake_amount, is_active, created_at,
		                     last_active, total_escrows, successful_escrows, disputed_escrows)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(a.Owner), a.Name, a.Type.String(), a.Reputation, i64(a.StakeAmount),
		boolToInt(a.IsActive), a.CreatedAt, a.LastActive,
		i64(a.TotalEscrows), i64(a.SuccessfulEscrows), i64(a.DisputedEscrows),
	)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

func (t *tx) UpdateAgent(ctx context.Context, a *agent.Identity) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE agents SET reputation = ?, stake_amount = ?, is_active = ?, last_active = ?,
		        total_escrows = ?, successful_escrows = ?, disputed_escrows = ?
		 WHERE owner = ?`,
		a.Reputation, i64(a.StakeAmount), boolToInt(a.IsActive), a.LastActive,
		i64(a.TotalEscrows), i64(a.SuccessfulEscrows), i64(a.DisputedEscrows), string(a.Owner),
	)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	return mustAffect(res, agent.ErrNotFound)
}

// --- Oracle registry ---

func (t *tx) Registry(ctx context.Context) (*oracle.Registry, error) {
	var (
		r     oracle.Registry
		admin string
	)
	err := t.q.QueryRowContext(ctx,
		`SELECT admin, min_consensus, max_score_deviation, created_at, updated_at
		 FROM oracle_registry WHERE id = 1`,
	).Scan(&admin, &r.MinConsensus, &r.MaxScoreDeviation, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oracle.ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("get registry: %w", err)
	}
	r.Admin = agent.ID(admin)

	rows, err := t.q.QueryContext(ctx,
		`SELECT identity, oracle_type, weight FROM oracles ORDER BY position`,
	)
	if err != nil {
		return nil, fmt.Errorf("list oracles: %w", err)
	}
	defer rows.Close()

	r.Oracles = []oracle.Config{}
	for rows.Next() {
		var (
			c       oracle.Config
			id, typ string
		)
		if err := rows.Scan(&id, &typ, &c.Weight); err != nil {
			return nil, fmt.Errorf("scan oracle: %w", err)
		}
		c.Identity = agent.ID(id)
		if c.Type, err = oracle.ParseType(typ); err != nil {
			return nil, fmt.Errorf("scan oracle: %w", err)
		}
		r.Oracles = append(r.Oracles, c)
	}
	return &r, rows.Err()
}

func (t *tx) InsertRegistry(ctx context.Context, r *oracle.Registry) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO oracle_registry (id, admin, min_consensus, max_score_deviation, created_at, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?)`,
		string(r.Admin), r.MinConsensus, r.MaxScoreDeviation, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create registry: %w", err)
	}
	return t.writeOracles(ctx, r)
}

func (t *tx) UpdateRegistry(ctx context.Context, r *oracle.Registry) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE oracle_registry SET min_consensus = ?, max_score_deviation = ?, updated_at = ? WHERE id = 1`,
		r.MinConsensus, r.MaxScoreDeviation, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update registry: %w", err)
	}
	if err := mustAffect(res, oracle.ErrNotInitialized); err != nil {
		return err
	}
	return t.writeOracles(ctx, r)
}

func (t *tx) writeOracles(ctx context.Context, r *oracle.Registry) error {
	if _, err := t.q.ExecContext(ctx, `DELETE FROM oracles`); err != nil {
		return fmt.Errorf("clear oracles: %w", err)
	}
	for i, o := range r.Oracles {
		if _, err := t.q.ExecContext(ctx,
			`INSERT INTO oracles (identity, oracle_type, weight, position) VALUES (?, ?, ?, ?)`,
			string(o.Identity), o.Type.String(), o.Weight, i,
		); err != nil {
			return fmt.Errorf("create oracle: %w", err)
		}
	}
	return nil
}
