package reputation

// BaseDisputeCost is the cost, in native base units, of opening a dispute
// for an entity with a clean record. It does not scale with agreement size.
const BaseDisputeCost uint64 = 1_000_000

// DisputeRate returns disputes filed per hundred transactions, or 0 for an
// entity without transactions.
func DisputeRate(r *EntityReputation) uint64 {
	if r.TotalTransactions == 0 {
		return 0
	}
	return satMul(r.DisputesFiled, 100) / r.TotalTransactions
}

// CostMultiplier maps a dispute rate to the cost multiplier.
func CostMultiplier(rate uint64) uint64 {
	switch {
	case rate <= 20:
		return 1
	case rate <= 40:
		return 2
	case rate <= 60:
		return 5
	default:
		return 10
	}
}

// DisputeCost is the balance a requester must hold to open a dispute.
func DisputeCost(r *EntityReputation) uint64 {
	return satMul(BaseDisputeCost, CostMultiplier(DisputeRate(r)))
}
