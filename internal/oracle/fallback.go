package oracle

import (
	"PerpRisk/internal/riskerr"
)

// MinFallbackSamples is how many positive samples the fallback needs.
const MinFallbackSamples = 3

// EmergencyFallback averages the positive samples among the last accepted
// prices. Fewer than MinFallbackSamples positive samples fail OracleFeedNotFound.
func EmergencyFallback(recent []int64) (int64, error) {
	var sum, count int64
	for _, p := range recent {
		if p <= 0 {
			continue
		}
		if sum > (1<<63-1)-p {
			return 0, riskerr.MathOverflow
		}
		sum += p
		count++
	}
	if count < MinFallbackSamples {
		return 0, riskerr.Wrap(riskerr.OracleFeedNotFound, "only %d valid samples for fallback", count)
	}
	return sum / count, nil
}
