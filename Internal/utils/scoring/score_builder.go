package scoring

import (
	"github.com/fazecat/breakoutscan/Internal/types"
	"github.com/fazecat/breakoutscan/Internal/utils/config"
)

// ScoreRules sums the weight of every passing rule.
func ScoreRules(rules types.Rules, weights config.Weights) int {
	w := weights.All()
	score := 0
	for i, passed := range rules.All() {
		if passed {
			score += w[i]
		}
	}
	return score
}

// ScoreCategory labels a percentage score for reports.
func ScoreCategory(score int) string {
	if score >= 90 {
		return "🟢 Excellent"
	}
	if score >= 75 {
		return "🟢 Good"
	}
	if score >= 60 {
		return "🟡 Fair"
	}
	if score >= 40 {
		return "🟠 Moderate"
	}
	return "🔴 Poor"
}
