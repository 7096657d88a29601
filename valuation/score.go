package valuation

// MaxDealScore caps the composite score.
const MaxDealScore = 99

type tier struct {
	threshold float64
	points    int
}

// Tiers are ordered best first; only the first qualifying tier counts.
var (
	discountTiers = []tier{{40, 50}, {30, 42}, {20, 32}, {15, 22}, {10, 12}}
	urgencyTiers  = []tier{{1, 20}, {3, 15}, {6, 10}, {12, 5}}
	bidCountTiers = []tier{{5, 10}, {15, 5}}
)

const noReserveBonus = 20

// DealScore combines discount, urgency, reserve status and competition into
// an integer in [0, MaxDealScore].
func DealScore(discountPct int, hoursLeft float64, bidCount int, noReserve bool) int {
	score := 0

	for _, t := range discountTiers {
		if float64(discountPct) >= t.threshold {
			score += t.points
			break
		}
	}
	for _, t := range urgencyTiers {
		if hoursLeft <= t.threshold {
			score += t.points
			break
		}
	}
	if noReserve {
		score += noReserveBonus
	}
	for _, t := range bidCountTiers {
		if float64(bidCount) < t.threshold {
			score += t.points
			break
		}
	}

	return min(score, MaxDealScore)
}
