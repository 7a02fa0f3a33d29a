package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ssd-technologies/arbiter/internal/agent"
	"github.com/ssd-technologies/arbiter/internal/consensus"
	"github.com/ssd-technologies/arbiter/internal/errs"
	"github.com/ssd-technologies/arbiter/internal/oracle"
	"github.com/ssd-technologies/arbiter/internal/reputation"
	"github.com/ssd-technologies/arbiter/internal/settlement"
)

const nativeKey = "native"

// Engine executes every command against the record store. Each command runs
// as one Store.Atomic unit while holding the lock of the record it mutates.
type Engine struct {
	store       Store
	verifier    Verifier
	locks       *keyedMutex
	authorities map[agent.ID]bool
	log         zerolog.Logger
}

// NewEngine returns an engine over store. authorities may adjust agent
// reputation through UpdateAgentReputation.
func NewEngine(store Store, verifier Verifier, log zerolog.Logger, authorities ...agent.ID) *Engine {
	auth := make(map[agent.ID]bool, len(authorities))
	for _, a := range authorities {
		auth[a] = true
	}
	return &Engine{
		store:       store,
		verifier:    verifier,
		locks:       newKeyedMutex(),
		authorities: auth,
		log:         log.With().Str("component", "engine").Logger(),
	}
}

// OpenRequest describes a new agreement.
type OpenRequest struct {
	TransactionID string
	Payer         agent.ID
	Payee         agent.ID
	Amount        uint64
	TimeLock      time.Duration
	Asset         Asset
}

// ResolveRequest settles an agreement with a verifier-signed quality score.
type ResolveRequest struct {
	TransactionID    string
	Verifier         agent.ID
	QualityScore     uint8
	RefundPercentage uint8
	Signature        []byte
}

// SubmitRequest carries one oracle's signed quality score.
type SubmitRequest struct {
	TransactionID string
	Oracle        agent.ID
	Score         uint8
	Signature     []byte
}

func validateOpen(req OpenRequest) error {
	if req.Amount == 0 {
		return ErrInvalidAmount
	}
	if req.TimeLock < MinTimeLock || req.TimeLock > MaxTimeLock {
		return ErrInvalidTimeLock
	}
	if req.TransactionID == "" || len(req.TransactionID) > MaxTransactionIDLen {
		return ErrInvalidTransactionID
	}
	if t, ok := req.Asset.Token.Get(); ok && t.Mint == "" {
		return ErrMissingTokenMint
	}
	return nil
}

// OpenAgreement locks the payer's funds in escrow and records an Active agreement.
func (e *Engine) OpenAgreement(ctx context.Context, req OpenRequest, now time.Time) (*Agreement, error) {
	if err := validateOpen(req); err != nil {
		return nil, e.reject("open agreement", req.TransactionID, err)
	}

	unlock := e.locks.Lock("agreement:" + req.TransactionID)
	defer unlock()

	a := &Agreement{
		TransactionID: req.TransactionID,
		Payer:         req.Payer,
		Payee:         req.Payee,
		Amount:        req.Amount,
		Asset:         req.Asset,
		Status:        StatusActive,
		CreatedAt:     now.Unix(),
		ExpiresAt:     now.Unix() + int64(req.TimeLock/time.Second),
		Submissions:   []Submission{},
	}

	err := e.store.Atomic(ctx, func(tx Tx) error {
		if err := tx.Transfer(ctx, string(a.Payer), EscrowAddress(a.TransactionID), a.Asset.Key(), a.Amount); err != nil {
			return err
		}
		if err := tx.InsertAgreement(ctx, a); err != nil {
			return err
		}
		if err := bumpAgent(ctx, tx, a.Payer, now, func(id *agent.Identity) { id.TotalEscrows++ }); err != nil {
			return err
		}
		return enqueue(ctx, tx, EventAgreementOpened, a.TransactionID, map[string]any{
			"payer":      a.Payer,
			"payee":      a.Payee,
			"amount":     a.Amount,
			"asset":      a.Asset,
			"expires_at": a.ExpiresAt,
		}, now)
	})
	if err != nil {
		return nil, e.reject("open agreement", req.TransactionID, err)
	}

	e.log.Debug().Str("tx", a.TransactionID).Uint64("amount", a.Amount).Str("asset", a.Asset.Key()).Msg("agreement opened")
	return a, nil
}

// Release pays the full amount to the payee. The payer may release at any
// time; anyone else only once the time lock has elapsed.
func (e *Engine) Release(ctx context.Context, caller agent.ID, txID string, now time.Time) (*Agreement, error) {
	unlock := e.locks.Lock("agreement:" + txID)
	defer unlock()

	var out *Agreement
	err := e.store.Atomic(ctx, func(tx Tx) error {
		a, err := tx.Agreement(ctx, txID)
		if err != nil {
			return err
		}
		if a.Status != StatusActive {
			return ErrInvalidStatus
		}
		if caller != a.Payer && !a.Expired(now) {
			return ErrTimeLockNotExpired
		}
		if err := tx.Transfer(ctx, EscrowAddress(txID), string(a.Payee), a.Asset.Key(), a.Amount); err != nil {
			return err
		}
		a.Status = StatusReleased
		if err := tx.UpdateAgreement(ctx, a); err != nil {
			return err
		}
		if err := bumpAgent(ctx, tx, a.Payer, now, func(id *agent.Identity) { id.SuccessfulEscrows++ }); err != nil {
			return err
		}
		out = a
		return enqueue(ctx, tx, EventAgreementReleased, txID, map[string]any{
			"payee":       a.Payee,
			"amount":      a.Amount,
			"released_by": caller,
		}, now)
	})
	if err != nil {
		return nil, e.reject("release agreement", txID, err)
	}

	e.log.Debug().Str("tx", txID).Str("caller", string(caller)).Msg("agreement released")
	return out, nil
}

// MarkDisputed moves an Active agreement to Disputed. Only the payer may
// dispute, only before expiry, and only while holding the dispute cost.
func (e *Engine) MarkDisputed(ctx context.Context, caller agent.ID, txID string, now time.Time) (*Agreement, error) {
	unlock := e.locks.Lock("agreement:" + txID)
	defer unlock()

	var out *Agreement
	err := e.store.Atomic(ctx, func(tx Tx) error {
		a, err := tx.Agreement(ctx, txID)
		if err != nil {
			return err
		}
		if a.Status != StatusActive {
			return ErrInvalidStatus
		}
		if caller != a.Payer {
			return ErrUnauthorized
		}
		if a.Expired(now) {
			return ErrDisputeWindow
		}

		rep, err := tx.Reputation(ctx, a.Payer)
		if err != nil {
			return err
		}
		cost := reputation.DisputeCost(rep)
		bal, err := tx.Balance(ctx, string(a.Payer), nativeKey)
		if err != nil {
			return err
		}
		if bal < cost {
			return ErrInsufficientDisputeFunds
		}

		rep.RecordDisputeFiled(now)
		if err := tx.UpdateReputation(ctx, rep); err != nil {
			return err
		}
		a.Status = StatusDisputed
		if err := tx.UpdateAgreement(ctx, a); err != nil {
			return err
		}
		if err := bumpAgent(ctx, tx, a.Payer, now, func(id *agent.Identity) { id.DisputedEscrows++ }); err != nil {
			return err
		}
		out = a
		if err := enqueue(ctx, tx, EventAgreementDisputed, txID, map[string]any{
			"payer":        a.Payer,
			"dispute_cost": cost,
		}, now); err != nil {
			return err
		}
		return enqueueReputation(ctx, tx, rep, now)
	})
	if err != nil {
		return nil, e.reject("mark disputed", txID, err)
	}

	e.log.Debug().Str("tx", txID).Msg("agreement disputed")
	return out, nil
}

// Resolve settles an Active or Disputed agreement with a quality score
// signed by req.Verifier, splitting the escrow by req.RefundPercentage.
func (e *Engine) Resolve(ctx context.Context, req ResolveRequest, now time.Time) (*Agreement, error) {
	if req.QualityScore > settlement.MaxPercent {
		return nil, e.reject("resolve agreement", req.TransactionID, settlement.ErrInvalidQualityScore)
	}
	if req.RefundPercentage > settlement.MaxPercent {
		return nil, e.reject("resolve agreement", req.TransactionID, settlement.ErrInvalidRefundPercentage)
	}

	unlock := e.locks.Lock("agreement:" + req.TransactionID)
	defer unlock()

	var out *Agreement
	err := e.store.Atomic(ctx, func(tx Tx) error {
		a, err := tx.Agreement(ctx, req.TransactionID)
		if err != nil {
			return err
		}
		if a.Status != StatusActive && a.Status != StatusDisputed {
			return ErrInvalidStatus
		}
		msg := agent.AssertionMessage(a.TransactionID, req.QualityScore)
		if err := e.verifier.Verify(req.Signature, req.Verifier, msg); err != nil {
			return err
		}
		if err := settle(ctx, tx, a, req.QualityScore, req.RefundPercentage, now); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, e.reject("resolve agreement", req.TransactionID, err)
	}

	e.log.Debug().Str("tx", req.TransactionID).Uint8("quality", req.QualityScore).Uint8("refund_pct", req.RefundPercentage).Msg("agreement resolved")
	return out, nil
}

// SubmitOracleScore records one registered oracle's signed score. Once the
// registry's min_consensus submissions exist, the scores are reduced and the
// agreement settles at the tiered refund of the consensus score.
func (e *Engine) SubmitOracleScore(ctx context.Context, req SubmitRequest, now time.Time) (*Agreement, error) {
	if req.Score > consensus.MaxScore {
		return nil, e.reject("submit oracle score", req.TransactionID, settlement.ErrInvalidQualityScore)
	}

	unlock := e.locks.Lock("agreement:" + req.TransactionID)
	defer unlock()

	var (
		out     *Agreement
		settled bool
	)
	err := e.store.Atomic(ctx, func(tx Tx) error {
		a, err := tx.Agreement(ctx, req.TransactionID)
		if err != nil {
			return err
		}
		if a.Status != StatusActive && a.Status != StatusDisputed {
			return ErrInvalidStatus
		}
		reg, err := tx.Registry(ctx)
		if err != nil {
			return err
		}
		if _, ok := reg.Lookup(req.Oracle); !ok {
			return ErrOracleNotRegistered
		}
		msg := agent.AssertionMessage(a.TransactionID, req.Score)
		if err := e.verifier.Verify(req.Signature, req.Oracle, msg); err != nil {
			return err
		}
		if a.HasSubmission(req.Oracle) {
			return ErrDuplicateSubmission
		}
		if len(a.Submissions) >= MaxSubmissions {
			return ErrMaxSubmissions
		}
		a.Submissions = append(a.Submissions, Submission{
			Oracle:      req.Oracle,
			Score:       req.Score,
			SubmittedAt: now.Unix(),
		})
		out = a

		if len(a.Submissions) < int(reg.MinConsensus) {
			return recordSubmission(ctx, tx, a, req, now)
		}

		score, err := consensus.Reduce(a.Scores(), reg.MaxScoreDeviation)
		if errors.Is(err, consensus.ErrNoConsensus) && moreSubmissionsPossible(a, reg) {
			return recordSubmission(ctx, tx, a, req, now)
		}
		if err != nil {
			return err
		}
		refund, err := settlement.RefundPercentage(score)
		if err != nil {
			return err
		}
		if err := settle(ctx, tx, a, score, refund, now); err != nil {
			return err
		}
		settled = true
		oracles := make([]agent.ID, len(a.Submissions))
		for i, s := range a.Submissions {
			oracles[i] = s.Oracle
		}
		return enqueue(ctx, tx, EventAgreementConsensusSettled, a.TransactionID, map[string]any{
			"consensus_score":   score,
			"refund_percentage": refund,
			"scores":            a.Scores(),
			"oracles":           oracles,
		}, now)
	})
	if err != nil {
		return nil, e.reject("submit oracle score", req.TransactionID, err)
	}

	e.log.Debug().Str("tx", req.TransactionID).Str("oracle", string(req.Oracle)).Bool("settled", settled).Msg("oracle score submitted")
	return out, nil
}

func recordSubmission(ctx context.Context, tx Tx, a *Agreement, req SubmitRequest, now time.Time) error {
	if err := tx.UpdateAgreement(ctx, a); err != nil {
		return err
	}
	return enqueue(ctx, tx, EventOracleScoreSubmitted, a.TransactionID, map[string]any{
		"oracle":      req.Oracle,
		"score":       req.Score,
		"submissions": len(a.Submissions),
	}, now)
}

// moreSubmissionsPossible reports whether some registered oracle that has not
// yet submitted could still do so.
func moreSubmissionsPossible(a *Agreement, reg *oracle.Registry) bool {
	if len(a.Submissions) >= MaxSubmissions {
		return false
	}
	for _, o := range reg.Oracles {
		if !a.HasSubmission(o.Identity) {
			return true
		}
	}
	return false
}

// settle splits the escrow between payer and payee, marks a Resolved and
// applies the outcome to both parties' reputation.
func settle(ctx context.Context, tx Tx, a *Agreement, quality, refundPct uint8, now time.Time) error {
	refund, payment, err := settlement.Split(a.Amount, refundPct)
	if err != nil {
		return err
	}

	requester, err := tx.Reputation(ctx, a.Payer)
	if err != nil {
		return err
	}
	provider, err := tx.Reputation(ctx, a.Payee)
	if err != nil {
		return err
	}

	holder := EscrowAddress(a.TransactionID)
	if refund > 0 {
		if err := tx.Transfer(ctx, holder, string(a.Payer), a.Asset.Key(), refund); err != nil {
			return err
		}
	}
	if payment > 0 {
		if err := tx.Transfer(ctx, holder, string(a.Payee), a.Asset.Key(), payment); err != nil {
			return err
		}
	}

	a.Status = StatusResolved
	a.QualityScore = Some(quality)
	a.RefundPercentage = Some(refundPct)
	if err := tx.UpdateAgreement(ctx, a); err != nil {
		return err
	}

	requester.ApplyRequesterOutcome(quality, refundPct, now)
	if err := tx.UpdateReputation(ctx, requester); err != nil {
		return err
	}
	provider.ApplyProviderOutcome(refundPct, now)
	if err := tx.UpdateReputation(ctx, provider); err != nil {
		return err
	}

	if err := enqueue(ctx, tx, EventAgreementResolved, a.TransactionID, map[string]any{
		"quality_score":     quality,
		"refund_percentage": refundPct,
		"refund_amount":     refund,
		"payment_amount":    payment,
	}, now); err != nil {
		return err
	}
	if err := enqueueReputation(ctx, tx, requester, now); err != nil {
		return err
	}
	return enqueueReputation(ctx, tx, provider, now)
}

// bumpAgent applies fn to the payer's agent identity when one exists.
func bumpAgent(ctx context.Context, tx Tx, owner agent.ID, now time.Time, fn func(*agent.Identity)) error {
	id, err := tx.Agent(ctx, owner)
	if errors.Is(err, agent.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	fn(id)
	id.Touch(now)
	return tx.UpdateAgent(ctx, id)
}

func enqueue(ctx context.Context, tx Tx, typ, subject string, data any, now time.Time) error {
	ev, err := NewEvent(typ, subject, data, now)
	if err != nil {
		return fmt.Errorf("build %s event: %w", typ, err)
	}
	return tx.Enqueue(ctx, ev)
}

func enqueueReputation(ctx context.Context, tx Tx, r *reputation.EntityReputation, now time.Time) error {
	return enqueue(ctx, tx, EventReputationChanged, string(r.Entity), r, now)
}

// reject logs a failed command and wraps err with the command name.
func (e *Engine) reject(op, key string, err error) error {
	e.log.Debug().Str("op", op).Str("key", key).Str("code", errs.Code(err)).Err(err).Msg("rejected")
	return fmt.Errorf("%s: %w", op, err)
}
