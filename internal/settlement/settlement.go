// Package settlement maps consensus quality to a refund percentage and splits
// an agreement amount between refund and payment.
package settlement

import (
	"github.com/holiman/uint256"

	"github.com/ssd-technologies/arbiter/internal/errs"
)

// MaxPercent bounds quality scores and refund percentages.
const MaxPercent = 100

var (
	ErrInvalidRefundPercentage = errs.New("InvalidRefundPercentage", "invalid refund percentage (must be 0-100)", errs.Validation)
	ErrInvalidQualityScore     = errs.New("InvalidQualityScore", "invalid quality score (must be 0-100)", errs.Validation)
	ErrArithmeticOverflow      = errs.New("ArithmeticOverflow", "arithmetic overflow", errs.Funds)
)

// RefundPercentage returns the refund owed to the payer for a quality score.
//
//	0-49   -> 100
//	50-64  -> 75
//	65-79  -> 35
//	80-100 -> 0
func RefundPercentage(quality uint8) (uint8, error) {
	switch {
	case quality > MaxPercent:
		return 0, ErrInvalidQualityScore
	case quality <= 49:
		return 100, nil
	case quality <= 64:
		return 75, nil
	case quality <= 79:
		return 35, nil
	default:
		return 0, nil
	}
}

// Split divides amount into floor(amount*refundPct/100) for the payer and the
// remainder for the payee. refund+payment always equals amount.
func Split(amount uint64, refundPct uint8) (refund, payment uint64, err error) {
	if refundPct > MaxPercent {
		return 0, 0, ErrInvalidRefundPercentage
	}
	product, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(amount), uint256.NewInt(uint64(refundPct)))
	if overflow {
		return 0, 0, ErrArithmeticOverflow
	}
	quotient := new(uint256.Int).Div(product, uint256.NewInt(100))
	if !quotient.IsUint64() {
		return 0, 0, ErrArithmeticOverflow
	}
	refund = quotient.Uint64()
	if refund > amount {
		return 0, 0, ErrArithmeticOverflow
	}
	return refund, amount - refund, nil
}
