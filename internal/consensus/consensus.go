// Package consensus reduces independently submitted quality scores into a
// single agreed score.
package consensus

import (
	"sort"

	"github.com/ssd-technologies/arbiter/internal/errs"
)

// MaxScore is the highest valid quality score.
const MaxScore = 100

var (
	ErrInsufficientScores = errs.New("InsufficientOracleConsensus", "at least two scores are required", errs.Consensus)
	ErrNoConsensus        = errs.New("NoConsensusReached", "fewer than two scores within the allowed deviation", errs.Consensus)
	ErrInvalidScore       = errs.New("InvalidQualityScore", "invalid quality score (must be 0-100)", errs.Validation)
)

// Reduce returns the consensus score of scores.
//
// Two scores are averaged (rounded down) without any deviation check. With
// three or more, scores farther than maxDeviation from the upper median are
// dropped and the lower median of the survivors is returned. Weights are not
// applied.
func Reduce(scores []uint8, maxDeviation uint8) (uint8, error) {
	if len(scores) < 2 {
		return 0, ErrInsufficientScores
	}
	sorted := make([]uint8, len(scores))
	copy(sorted, scores)
	for _, s := range sorted {
		if s > MaxScore {
			return 0, ErrInvalidScore
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	if len(sorted) == 2 {
		return uint8((uint16(sorted[0]) + uint16(sorted[1])) / 2), nil
	}

	median := sorted[len(sorted)/2]
	valid := make([]uint8, 0, len(sorted))
	for _, s := range sorted {
		if distance(s, median) <= maxDeviation {
			valid = append(valid, s)
		}
	}
	if len(valid) < 2 {
		return 0, ErrNoConsensus
	}
	return valid[(len(valid)-1)/2], nil
}

func distance(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}
