package escrow_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssd-technologies/arbiter/internal/agent"
	"github.com/ssd-technologies/arbiter/internal/errs"
	"github.com/ssd-technologies/arbiter/internal/escrow"
	"github.com/ssd-technologies/arbiter/internal/oracle"
	"github.com/ssd-technologies/arbiter/internal/reputation"
	"github.com/ssd-technologies/arbiter/internal/storage"
)

var t0 = time.Unix(1_700_000_000, 0)

type party struct {
	id   agent.ID
	priv ed25519.PrivateKey
}

func newParty(t *testing.T) party {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return party{id: agent.IDFromPublicKey(pub), priv: priv}
}

type harness struct {
	db     *storage.DB
	engine *escrow.Engine
	payer  party
	payee  party
	ctx    context.Context
}

func newHarness(t *testing.T, authorities ...agent.ID) *harness {
	t.Helper()
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "arbiter.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &harness{
		db:     db,
		engine: escrow.NewEngine(db, agent.Ed25519Verifier{}, zerolog.Nop(), authorities...),
		payer:  newParty(t),
		payee:  newParty(t),
		ctx:    context.Background(),
	}
	_, err = h.engine.InitReputation(h.ctx, h.payer.id, reputation.RoleRequester, t0)
	require.NoError(t, err)
	_, err = h.engine.InitReputation(h.ctx, h.payee.id, reputation.RoleProvider, t0)
	require.NoError(t, err)
	h.fund(t, h.payer.id, "native", 10_000_000_000)
	return h
}

func (h *harness) fund(t *testing.T, id agent.ID, asset string, amount uint64) {
	t.Helper()
	_, err := h.db.Deposit(h.ctx, string(id), asset, amount)
	require.NoError(t, err)
}

func (h *harness) balance(t *testing.T, address, asset string) uint64 {
	t.Helper()
	b, err := h.db.Balance(h.ctx, address, asset)
	require.NoError(t, err)
	return b
}

func (h *harness) open(t *testing.T, txID string, amount uint64) *escrow.Agreement {
	t.Helper()
	a, err := h.engine.OpenAgreement(h.ctx, escrow.OpenRequest{
		TransactionID: txID,
		Payer:         h.payer.id,
		Payee:         h.payee.id,
		Amount:        amount,
		TimeLock:      24 * time.Hour,
		Asset:         escrow.NativeAsset(),
	}, t0)
	require.NoError(t, err)
	return a
}

func TestOpenAgreementLocksFunds(t *testing.T) {
	h := newHarness(t)
	a := h.open(t, "tx-1", 1_000_000_000)

	assert.Equal(t, escrow.StatusActive, a.Status)
	assert.Equal(t, t0.Unix()+86400, a.ExpiresAt)
	assert.Equal(t, uint64(9_000_000_000), h.balance(t, string(h.payer.id), "native"))
	assert.Equal(t, uint64(1_000_000_000), h.balance(t, escrow.EscrowAddress("tx-1"), "native"))

	got, err := h.engine.Agreement(h.ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, a.Payer, got.Payer)
	assert.False(t, got.QualityScore.IsSome())
}

func TestOpenAgreementValidation(t *testing.T) {
	h := newHarness(t)
	base := escrow.OpenRequest{
		TransactionID: "tx-1",
		Payer:         h.payer.id,
		Payee:         h.payee.id,
		Amount:        10,
		TimeLock:      time.Hour,
	}

	cases := []struct {
		name   string
		mutate func(*escrow.OpenRequest)
		want   error
	}{
		{"zero amount", func(r *escrow.OpenRequest) { r.Amount = 0 }, escrow.ErrInvalidAmount},
		{"short lock", func(r *escrow.OpenRequest) { r.TimeLock = time.Hour - time.Second }, escrow.ErrInvalidTimeLock},
		{"long lock", func(r *escrow.OpenRequest) { r.TimeLock = escrow.MaxTimeLock + time.Second }, escrow.ErrInvalidTimeLock},
		{"empty id", func(r *escrow.OpenRequest) { r.TransactionID = "" }, escrow.ErrInvalidTransactionID},
		{"long id", func(r *escrow.OpenRequest) { r.TransactionID = strings.Repeat("x", 65) }, escrow.ErrInvalidTransactionID},
		{"missing mint", func(r *escrow.OpenRequest) { r.Asset = escrow.TokenAsset("", 6) }, escrow.ErrMissingTokenMint},
		{"no funds", func(r *escrow.OpenRequest) { r.Amount = 20_000_000_000 }, escrow.ErrInsufficientFunds},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base
			tc.mutate(&req)
			_, err := h.engine.OpenAgreement(h.ctx, req, t0)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	// bounds are inclusive
	req := base
	req.TimeLock = escrow.MaxTimeLock
	req.TransactionID = strings.Repeat("x", 64)
	_, err := h.engine.OpenAgreement(h.ctx, req, t0)
	assert.NoError(t, err)
}

func TestOpenAgreementDuplicateID(t *testing.T) {
	h := newHarness(t)
	h.open(t, "tx-1", 100)
	_, err := h.engine.OpenAgreement(h.ctx, escrow.OpenRequest{
		TransactionID: "tx-1", Payer: h.payer.id, Payee: h.payee.id, Amount: 100, TimeLock: time.Hour,
	}, t0)
	assert.ErrorIs(t, err, escrow.ErrExists)
	assert.ErrorIs(t, err, errs.StateConflict)
	// the failed open moved nothing
	assert.Equal(t, uint64(100), h.balance(t, escrow.EscrowAddress("tx-1"), "native"))
}

func TestOpenAgreementTokenAsset(t *testing.T) {
	h := newHarness(t)
	h.fund(t, h.payer.id, "token:USDC", 500)
	a, err := h.engine.OpenAgreement(h.ctx, escrow.OpenRequest{
		TransactionID: "tx-t", Payer: h.payer.id, Payee: h.payee.id, Amount: 500,
		TimeLock: time.Hour, Asset: escrow.TokenAsset("USDC", 6),
	}, t0)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), a.Asset.Decimals())
	assert.Equal(t, uint64(0), h.balance(t, string(h.payer.id), "token:USDC"))
	assert.Equal(t, uint64(10_000_000_000), h.balance(t, string(h.payer.id), "native"))
}

func TestReleaseByPayer(t *testing.T) {
	h := newHarness(t)
	h.open(t, "tx-1", 1_000)

	a, err := h.engine.Release(h.ctx, h.payer.id, "tx-1", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusReleased, a.Status)
	assert.Equal(t, uint64(1_000), h.balance(t, string(h.payee.id), "native"))
	assert.Equal(t, uint64(0), h.balance(t, escrow.EscrowAddress("tx-1"), "native"))

	_, err = h.engine.Release(h.ctx, h.payer.id, "tx-1", t0.Add(time.Minute))
	assert.ErrorIs(t, err, escrow.ErrInvalidStatus)
}

func TestReleaseByOtherBeforeExpiry(t *testing.T) {
	h := newHarness(t)
	h.open(t, "tx-1", 1_000)

	_, err := h.engine.Release(h.ctx, h.payee.id, "tx-1", t0.Add(time.Hour))
	require.ErrorIs(t, err, escrow.ErrTimeLockNotExpired)
	assert.ErrorIs(t, err, errs.Authorization)
	assert.ErrorIs(t, err, errs.Timing)
	assert.Equal(t, "TimeLockNotExpired", errs.Code(err))
}

func TestReleaseByAnyoneAfterExpiry(t *testing.T) {
	h := newHarness(t)
	h.open(t, "tx-1", 1_000)
	stranger := newParty(t)

	a, err := h.engine.Release(h.ctx, stranger.id, "tx-1", t0.Add(24*time.Hour+time.Second))
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusReleased, a.Status)
	assert.Equal(t, uint64(1_000), h.balance(t, string(h.payee.id), "native"))
}

func TestReleaseMissingAgreement(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Release(h.ctx, h.payer.id, "nope", t0)
	assert.ErrorIs(t, err, escrow.ErrNotFound)
	assert.ErrorIs(t, err, errs.NotFound)
}

func TestMarkDisputed(t *testing.T) {
	h := newHarness(t)
	h.open(t, "tx-1", 1_000)

	_, err := h.engine.MarkDisputed(h.ctx, h.payee.id, "tx-1", t0)
	assert.ErrorIs(t, err, escrow.ErrUnauthorized)

	_, err = h.engine.MarkDisputed(h.ctx, h.payer.id, "tx-1", t0.Add(25*time.Hour))
	assert.ErrorIs(t, err, escrow.ErrDisputeWindow)

	before := h.balance(t, string(h.payer.id), "native")
	a, err := h.engine.MarkDisputed(h.ctx, h.payer.id, "tx-1", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusDisputed, a.Status)
	// the dispute cost is checked, not charged
	assert.Equal(t, before, h.balance(t, string(h.payer.id), "native"))

	rep, cost, err := h.engine.Reputation(h.ctx, h.payer.id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rep.DisputesFiled)
	assert.Equal(t, reputation.BaseDisputeCost, cost)

	_, err = h.engine.MarkDisputed(h.ctx, h.payer.id, "tx-1", t0.Add(time.Hour))
	assert.ErrorIs(t, err, escrow.ErrInvalidStatus)
	_, err = h.engine.Release(h.ctx, h.payer.id, "tx-1", t0.Add(time.Hour))
	assert.ErrorIs(t, err, escrow.ErrInvalidStatus)
}

func TestMarkDisputedInsufficientFunds(t *testing.T) {
	h := newHarness(t)
	// leave the payer with less than the base dispute cost
	h.open(t, "tx-1", 10_000_000_000-reputation.BaseDisputeCost+1)

	_, err := h.engine.MarkDisputed(h.ctx, h.payer.id, "tx-1", t0)
	assert.ErrorIs(t, err, escrow.ErrInsufficientDisputeFunds)
	assert.ErrorIs(t, err, errs.Funds)

	a, err := h.engine.Agreement(h.ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusActive, a.Status)
}

func TestResolveSplitsEscrow(t *testing.T) {
	h := newHarness(t)
	h.open(t, "tx-1", 1_000_000_001)
	verifier := newParty(t)

	a, err := h.engine.Resolve(h.ctx, escrow.ResolveRequest{
		TransactionID:    "tx-1",
		Verifier:         verifier.id,
		QualityScore:     65,
		RefundPercentage: 35,
		Signature:        agent.SignAssertion(verifier.priv, "tx-1", 65),
	}, t0)
	require.NoError(t, err)

	assert.Equal(t, escrow.StatusResolved, a.Status)
	q, _ := a.QualityScore.Get()
	r, _ := a.RefundPercentage.Get()
	assert.Equal(t, uint8(65), q)
	assert.Equal(t, uint8(35), r)

	refund := uint64(1_000_000_001) * 35 / 100
	assert.Equal(t, refund, uint64(350_000_000))
	assert.Equal(t, uint64(10_000_000_000-1_000_000_001)+refund, h.balance(t, string(h.payer.id), "native"))
	assert.Equal(t, uint64(1_000_000_001)-refund, h.balance(t, string(h.payee.id), "native"))
	assert.Equal(t, uint64(0), h.balance(t, escrow.EscrowAddress("tx-1"), "native"))

	requester, _, err := h.engine.Reputation(h.ctx, h.payer.id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), requester.TotalTransactions)
	assert.Equal(t, uint64(1), requester.DisputesPartial)
	assert.Equal(t, uint8(65), requester.AverageQualityReceived)

	provider, _, err := h.engine.Reputation(h.ctx, h.payee.id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), provider.DisputesPartial)
	assert.Equal(t, uint8(65), provider.AverageQualityReceived)

	_, err = h.engine.Resolve(h.ctx, escrow.ResolveRequest{
		TransactionID: "tx-1", Verifier: verifier.id, QualityScore: 65,
		Signature: agent.SignAssertion(verifier.priv, "tx-1", 65),
	}, t0)
	assert.ErrorIs(t, err, errs.StateConflict)
}

func TestResolveRejectsBadSignature(t *testing.T) {
	h := newHarness(t)
	h.open(t, "tx-1", 1_000)
	verifier := newParty(t)

	_, err := h.engine.Resolve(h.ctx, escrow.ResolveRequest{
		TransactionID: "tx-1", Verifier: verifier.id, QualityScore: 90,
		Signature: agent.SignAssertion(verifier.priv, "tx-1", 80),
	}, t0)
	assert.ErrorIs(t, err, agent.ErrInvalidSignature)
	assert.ErrorIs(t, err, errs.Signature)

	_, err = h.engine.Resolve(h.ctx, escrow.ResolveRequest{
		TransactionID: "tx-1", Verifier: verifier.id, QualityScore: 101,
	}, t0)
	assert.ErrorIs(t, err, errs.Validation)

	a, err := h.engine.Agreement(h.ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusActive, a.Status)
	assert.Equal(t, uint64(1_000), h.balance(t, escrow.EscrowAddress("tx-1"), "native"))
}

func TestResolveWithoutReputationLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	stranger := newParty(t)
	_, err := h.engine.OpenAgreement(h.ctx, escrow.OpenRequest{
		TransactionID: "tx-1", Payer: h.payer.id, Payee: stranger.id, Amount: 1_000, TimeLock: time.Hour,
	}, t0)
	require.NoError(t, err)

	verifier := newParty(t)
	_, err = h.engine.Resolve(h.ctx, escrow.ResolveRequest{
		TransactionID: "tx-1", Verifier: verifier.id, QualityScore: 0, RefundPercentage: 100,
		Signature: agent.SignAssertion(verifier.priv, "tx-1", 0),
	}, t0)
	require.ErrorIs(t, err, reputation.ErrNotInitialized)

	a, err := h.engine.Agreement(h.ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusActive, a.Status)
	assert.Equal(t, uint64(1_000), h.balance(t, escrow.EscrowAddress("tx-1"), "native"))
	rep, _, err := h.engine.Reputation(h.ctx, h.payer.id)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), rep.TotalTransactions)
}

func TestConcurrentReleaseSettlesOnce(t *testing.T) {
	h := newHarness(t)
	h.open(t, "tx-1", 1_000)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.engine.Release(h.ctx, h.payer.id, "tx-1", t0); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, uint64(1_000), h.balance(t, string(h.payee.id), "native"))
}

func TestAgentCountersFollowAgreements(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.CreateAgent(h.ctx, h.payer.id, "buyer", agent.TypeTrading, agent.MinStake, t0)
	require.NoError(t, err)

	h.open(t, "tx-1", 1_000)
	h.open(t, "tx-2", 1_000)
	_, err = h.engine.Release(h.ctx, h.payer.id, "tx-1", t0)
	require.NoError(t, err)
	_, err = h.engine.MarkDisputed(h.ctx, h.payer.id, "tx-2", t0)
	require.NoError(t, err)

	id, err := h.engine.Agent(h.ctx, h.payer.id)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id.TotalEscrows)
	assert.Equal(t, uint64(1), id.SuccessfulEscrows)
	assert.Equal(t, uint64(1), id.DisputedEscrows)
}

func TestEventsAreEnqueued(t *testing.T) {
	h := newHarness(t)
	h.open(t, "tx-1", 1_000)
	_, err := h.engine.Release(h.ctx, h.payer.id, "tx-1", t0)
	require.NoError(t, err)

	events, err := h.db.PendingEvents(h.ctx, 100)
	require.NoError(t, err)
	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{
		escrow.EventReputationInitialized,
		escrow.EventReputationInitialized,
		escrow.EventAgreementOpened,
		escrow.EventAgreementReleased,
	}, types)
}

func TestRegistryAdmin(t *testing.T) {
	h := newHarness(t)
	admin := newParty(t)
	o := newParty(t)

	_, err := h.engine.AddOracle(h.ctx, admin.id, o.id, oracle.TypeDirectSignature, 1, t0)
	assert.ErrorIs(t, err, oracle.ErrNotInitialized)

	_, err = h.engine.InitializeOracleRegistry(h.ctx, admin.id, 1, 15, t0)
	assert.ErrorIs(t, err, oracle.ErrInvalidMinConsensus)

	_, err = h.engine.InitializeOracleRegistry(h.ctx, admin.id, 2, 15, t0)
	require.NoError(t, err)
	_, err = h.engine.InitializeOracleRegistry(h.ctx, admin.id, 2, 15, t0)
	assert.ErrorIs(t, err, oracle.ErrAlreadyInitialized)

	_, err = h.engine.AddOracle(h.ctx, o.id, o.id, oracle.TypeDirectSignature, 1, t0)
	assert.ErrorIs(t, err, oracle.ErrUnauthorized)

	reg, err := h.engine.AddOracle(h.ctx, admin.id, o.id, oracle.TypeDirectSignature, 1, t0)
	require.NoError(t, err)
	assert.Len(t, reg.Oracles, 1)

	reg, err = h.engine.RemoveOracle(h.ctx, admin.id, o.id, t0)
	require.NoError(t, err)
	assert.Empty(t, reg.Oracles)

	got, err := h.engine.Registry(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, got.Oracles)
}
