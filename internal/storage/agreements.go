package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ssd-technologies/arbiter/internal/agent"
	"github.com/ssd-technologies/arbiter/internal/escrow"
)

// --- Agreement CRUD ---

func (t *tx) Agreement(ctx context.Context, txID string) (*escrow.Agreement, error) {
	var (
		a                    escrow.Agreement
		payer, payee, status string
		amount               int64
		mint                 sql.NullString
		decimals             sql.NullInt64
		quality, refundPct   sql.NullInt64
	)
	err := t.q.QueryRowContext(ctx,
		`SELECT transaction_id, payer, payee, amount, token_mint, token_decimals, status,
		        created_at, expires_at, quality_score, refund_percentage, version
		 FROM agreements WHERE transaction_id = ?`, txID,
	).Scan(&a.TransactionID, &payer, &payee, &amount, &mint, &decimals, &status,
		&a.CreatedAt, &a.ExpiresAt, &quality, &refundPct, &a.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, escrow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agreement: %w", err)
	}

	a.Payer = agent.ID(payer)
	a.Payee = agent.ID(payee)
	a.Amount = u64(amount)
	if a.Status, err = escrow.ParseStatus(status); err != nil {
		return nil, fmt.Errorf("get agreement: %w", err)
	}
	if mint.Valid {
		a.Asset = escrow.TokenAsset(mint.String, uint8(decimals.Int64))
	} else {
		a.Asset = escrow.NativeAsset()
	}
	a.QualityScore = optionalU8(quality)
	a.RefundPercentage = optionalU8(refundPct)

	if a.Submissions, err = t.submissions(ctx, txID); err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *tx) submissions(ctx context.Context, txID string) ([]escrow.Submission, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT oracle, score, submitted_at FROM oracle_submissions
		 WHERE transaction_id = ? ORDER BY position`, txID,
	)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	subs := []escrow.Submission{}
	for rows.Next() {
		var (
			s      escrow.Submission
			oracle string
		)
		if err := rows.Scan(&oracle, &s.Score, &s.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		s.Oracle = agent.ID(oracle)
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func (t *tx) InsertAgreement(ctx context.Context, a *escrow.Agreement) error {
	var exists int
	err := t.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM agreements WHERE transaction_id = ?`, a.TransactionID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check agreement: %w", err)
	}
	if exists > 0 {
		return escrow.ErrExists
	}

	var (
		mint     sql.NullString
		decimals sql.NullInt64
	)
	if tok, ok := a.Asset.Token.Get(); ok {
		mint = sql.NullString{String: tok.Mint, Valid: true}
		decimals = sql.NullInt64{Int64: int64(tok.Decimals), Valid: true}
	}
	_, err = t.q.ExecContext(ctx,
		`INSERT INTO agreements (transaction_id, payer, payee, amount, token_mint, token_decimals,
		                         status, created_at, expires_at, quality_score, refund_percentage, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.TransactionID, string(a.Payer), string(a.Payee), i64(a.Amount), mint, decimals,
		a.Status.String(), a.CreatedAt, a.ExpiresAt,
		nullableU8(a.QualityScore), nullableU8(a.RefundPercentage), a.Version,
	)
	if err != nil {
		return fmt.Errorf("create agreement: %w", err)
	}
	return t.writeSubmissions(ctx, a)
}

func (t *tx) UpdateAgreement(ctx context.Context, a *escrow.Agreement) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE agreements SET status = ?, quality_score = ?, refund_percentage = ?, version = version + 1
		 WHERE transaction_id = ? AND version = ?`,
		a.Status.String(), nullableU8(a.QualityScore), nullableU8(a.RefundPercentage),
		a.TransactionID, a.Version,
	)
	if err != nil {
		return fmt.Errorf("update agreement: %w", err)
	}
	if err := mustAffect(res, escrow.ErrStaleWrite); err != nil {
		return err
	}
	if err := t.writeSubmissions(ctx, a); err != nil {
		return err
	}
	a.Version++
	return nil
}

func (t *tx) writeSubmissions(ctx context.Context, a *escrow.Agreement) error {
	if _, err := t.q.ExecContext(ctx,
		`DELETE FROM oracle_submissions WHERE transaction_id = ?`, a.TransactionID,
	); err != nil {
		return fmt.Errorf("clear submissions: %w", err)
	}
	for i, s := range a.Submissions {
		if _, err := t.q.ExecContext(ctx,
			`INSERT INTO oracle_submissions (transaction_id, oracle, score, submitted_at, position)
			 VALUES (?, ?, ?, ?, ?)`,
			a.TransactionID, string(s.Oracle), s.Score, s.SubmittedAt, i,
		); err != nil {
			return fmt.Errorf("create submission: %w", err)
		}
	}
	return nil
}

func optionalU8(n sql.NullInt64) escrow.Option[uint8] {
	if !n.Valid {
		return escrow.None[uint8]()
	}
	return escrow.Some(uint8(n.Int64))
}

func nullableU8(o escrow.Option[uint8]) sql.NullInt64 {
	v, ok := o.Get()
	return sql.NullInt64{Int64: int64(v), Valid: ok}
}

// ListAgreements returns agreements involving party as payer or payee,
// newest first.
func (d *DB) ListAgreements(ctx context.Context, party agent.ID) ([]escrow.Agreement, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT transaction_id FROM agreements WHERE payer = ? OR payee = ?
		 ORDER BY created_at DESC, transaction_id`, string(party), string(party),
	)
	if err != nil {
		return nil, fmt.Errorf("list agreements: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan agreement id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list agreements: %w", err)
	}

	out := make([]escrow.Agreement, 0, len(ids))
	reader := &tx{q: d.db}
	for _, id := range ids {
		a, err := reader.Agreement(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, nil
}
