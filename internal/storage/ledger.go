package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ssd-technologies/arbiter/internal/escrow"
	"github.com/ssd-technologies/arbiter/internal/settlement"
)

// --- Value ledger ---

func (t *tx) Balance(ctx context.Context, address, asset string) (uint64, error) {
	return balance(ctx, t.q, address, asset)
}

func balance(ctx context.Context, q querier, address, asset string) (uint64, error) {
	var amount int64
	err := q.QueryRowContext(ctx,
		`SELECT amount FROM balances WHERE address = ? AND asset = ?`, address, asset,
	).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return u64(amount), nil
}

func setBalance(ctx context.Context, q querier, address, asset string, amount uint64) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO balances (address, asset, amount) VALUES (?, ?, ?)
		 ON CONFLICT(address, asset) DO UPDATE SET amount = excluded.amount`,
		address, asset, i64(amount),
	)
	if err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	return nil
}

func credit(ctx context.Context, q querier, address, asset string, amount uint64) error {
	bal, err := balance(ctx, q, address, asset)
	if err != nil {
		return err
	}
	if bal+amount < bal {
		return settlement.ErrArithmeticOverflow
	}
	return setBalance(ctx, q, address, asset, bal+amount)
}

func (t *tx) Transfer(ctx context.Context, from, to, asset string, amount uint64) error {
	bal, err := balance(ctx, t.q, from, asset)
	if err != nil {
		return err
	}
	if bal < amount {
		return escrow.ErrInsufficientFunds
	}
	if from == to || amount == 0 {
		return nil
	}
	if err := setBalance(ctx, t.q, from, asset, bal-amount); err != nil {
		return err
	}
	return credit(ctx, t.q, to, asset, amount)
}

// Deposit credits address with amount of asset outside any agreement.
func (d *DB) Deposit(ctx context.Context, address, asset string, amount uint64) (uint64, error) {
	var out uint64
	err := d.inTx(ctx, func(t *tx) error {
		if err := credit(ctx, t.q, address, asset, amount); err != nil {
			return err
		}
		var err error
		out, err = balance(ctx, t.q, address, asset)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("deposit: %w", err)
	}
	return out, nil
}

// Balance returns the committed balance of address in asset.
func (d *DB) Balance(ctx context.Context, address, asset string) (uint64, error) {
	return balance(ctx, d.db, address, asset)
}
