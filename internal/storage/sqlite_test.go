package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ssd-technologies/arbiter/internal/agent"
	"github.com/ssd-technologies/arbiter/internal/escrow"
	"github.com/ssd-technologies/arbiter/internal/oracle"
	"github.com/ssd-technologies/arbiter/internal/reputation"
)

// testDB creates a temporary SQLite database for testing.
func testDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var testNow = time.Unix(1_700_000_000, 0)

func TestNewDB_CreatesFile(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("database file was not created")
	}
}

func TestNewDB_AllTablesExist(t *testing.T) {
	db := testDB(t)

	expected := []string{
		"agreements", "oracle_submissions", "entity_reputation", "agents",
		"oracle_registry", "oracles", "balances", "events",
	}
	for _, table := range expected {
		var name string
		err := db.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestNewDB_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	if _, err := db.Deposit(context.Background(), "alice", "native", 10); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	db.Close()

	db, err = NewDB(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	bal, err := db.Balance(context.Background(), "alice", "native")
	if err != nil || bal != 10 {
		t.Fatalf("Balance after reopen = %d, %v", bal, err)
	}
}

func TestAgreementRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	a := &escrow.Agreement{
		TransactionID: "tx-1",
		Payer:         "payer",
		Payee:         "payee",
		Amount:        1 << 63, // above MaxInt64
		Asset:         escrow.TokenAsset("USDC", 6),
		Status:        escrow.StatusActive,
		CreatedAt:     testNow.Unix(),
		ExpiresAt:     testNow.Unix() + 3600,
		Submissions:   []escrow.Submission{{Oracle: "o1", Score: 80, SubmittedAt: 5}},
	}
	err := db.Atomic(ctx, func(tx escrow.Tx) error { return tx.InsertAgreement(ctx, a) })
	if err != nil {
		t.Fatalf("InsertAgreement: %v", err)
	}

	var got *escrow.Agreement
	err = db.Atomic(ctx, func(tx escrow.Tx) error {
		var err error
		got, err = tx.Agreement(ctx, "tx-1")
		return err
	})
	if err != nil {
		t.Fatalf("Agreement: %v", err)
	}
	if got.Amount != a.Amount {
		t.Errorf("Amount = %d, want %d", got.Amount, a.Amount)
	}
	if got.Asset.Key() != "token:USDC" || got.Asset.Decimals() != 6 {
		t.Errorf("Asset = %s/%d", got.Asset.Key(), got.Asset.Decimals())
	}
	if got.QualityScore.IsSome() || got.RefundPercentage.IsSome() {
		t.Error("optional fields should be absent")
	}
	if len(got.Submissions) != 1 || got.Submissions[0].Oracle != "o1" || got.Submissions[0].Score != 80 {
		t.Errorf("Submissions = %+v", got.Submissions)
	}

	err = db.Atomic(ctx, func(tx escrow.Tx) error { return tx.InsertAgreement(ctx, a) })
	if !errors.Is(err, escrow.ErrExists) {
		t.Errorf("duplicate insert: err = %v, want ErrExists", err)
	}
}

func TestUpdateAgreementRejectsStaleVersion(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	a := &escrow.Agreement{
		TransactionID: "tx-1", Payer: "p", Payee: "q", Amount: 10,
		Status: escrow.StatusActive, Submissions: []escrow.Submission{},
	}
	if err := db.Atomic(ctx, func(tx escrow.Tx) error { return tx.InsertAgreement(ctx, a) }); err != nil {
		t.Fatalf("insert: %v", err)
	}

	first := *a
	stale := *a
	first.Status = escrow.StatusResolved
	first.QualityScore = escrow.Some[uint8](90)
	first.RefundPercentage = escrow.Some[uint8](0)
	if err := db.Atomic(ctx, func(tx escrow.Tx) error { return tx.UpdateAgreement(ctx, &first) }); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if first.Version != 1 {
		t.Errorf("Version = %d, want 1", first.Version)
	}

	stale.Status = escrow.StatusReleased
	err := db.Atomic(ctx, func(tx escrow.Tx) error { return tx.UpdateAgreement(ctx, &stale) })
	if !errors.Is(err, escrow.ErrStaleWrite) {
		t.Fatalf("stale update: err = %v, want ErrStaleWrite", err)
	}

	var got *escrow.Agreement
	db.Atomic(ctx, func(tx escrow.Tx) error {
		var err error
		got, err = tx.Agreement(ctx, "tx-1")
		return err
	})
	if got.Status != escrow.StatusResolved {
		t.Errorf("Status = %s, want resolved", got.Status)
	}
	if q, ok := got.QualityScore.Get(); !ok || q != 90 {
		t.Errorf("QualityScore = %d, %v", q, ok)
	}
}

func TestAgreementNotFound(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	err := db.Atomic(ctx, func(tx escrow.Tx) error {
		_, err := tx.Agreement(ctx, "missing")
		return err
	})
	if !errors.Is(err, escrow.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestReputationRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	r, err := reputation.New("entity", reputation.RoleProvider, testNow)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.ApplyProviderOutcome(10, testNow)
	r.Verification = reputation.VerificationKYC

	err = db.Atomic(ctx, func(tx escrow.Tx) error {
		if err := tx.InsertReputation(ctx, r); err != nil {
			return err
		}
		got, err := tx.Reputation(ctx, "entity")
		if err != nil {
			return err
		}
		if *got != *r {
			t.Errorf("Reputation = %+v, want %+v", got, r)
		}
		_, err = tx.Reputation(ctx, "nobody")
		if !errors.Is(err, reputation.ErrNotInitialized) {
			t.Errorf("missing reputation: err = %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Atomic: %v", err)
	}
}

func TestAgentRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	a, err := agent.NewIdentity("owner", "bot", agent.TypeOracle, agent.MinStake, testNow)
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	err = db.Atomic(ctx, func(tx escrow.Tx) error {
		if err := tx.InsertAgent(ctx, a); err != nil {
			return err
		}
		a.TotalEscrows = 3
		a.IsActive = false
		if err := tx.UpdateAgent(ctx, a); err != nil {
			return err
		}
		got, err := tx.Agent(ctx, "owner")
		if err != nil {
			return err
		}
		if *got != *a {
			t.Errorf("Agent = %+v, want %+v", got, a)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Atomic: %v", err)
	}
}

func TestRegistryRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	reg, err := oracle.NewRegistry("admin", 2, 15, testNow)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	err = db.Atomic(ctx, func(tx escrow.Tx) error {
		if _, err := tx.Registry(ctx); !errors.Is(err, oracle.ErrNotInitialized) {
			t.Errorf("empty registry: err = %v", err)
		}
		if err := tx.InsertRegistry(ctx, reg); err != nil {
			return err
		}
		reg.Add("admin", "o2", oracle.TypeCustom, 3, testNow)
		reg.Add("admin", "o1", oracle.TypeExternalFeed, 1, testNow)
		if err := tx.UpdateRegistry(ctx, reg); err != nil {
			return err
		}
		got, err := tx.Registry(ctx)
		if err != nil {
			return err
		}
		if len(got.Oracles) != 2 || got.Oracles[0].Identity != "o2" || got.Oracles[1].Type != oracle.TypeExternalFeed {
			t.Errorf("Oracles = %+v", got.Oracles)
		}
		if got.MaxScoreDeviation != 15 || got.Admin != "admin" {
			t.Errorf("Registry = %+v", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Atomic: %v", err)
	}
}
