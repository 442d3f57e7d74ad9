// Package wage draws a participant's piece rate before the task starts.
//
// Participants in the "more high wage" treatment receive the high rate
// with probability 75%, everyone else with probability 25%.
package wage

import "math/rand"

const (
	likely   = 75
	unlikely = 25
)

// Draw picks high or low with treatment-dependent weights.
func Draw(r *rand.Rand, high, low float64, moreHigh bool) float64 {
	wHigh := unlikely
	if moreHigh {
		wHigh = likely
	}
	if r.Intn(likely+unlikely) < wHigh {
		return high
	}
	return low
}

// Odds returns the displayed probabilities of the low and high rate.
func Odds(moreHigh bool) (pLow, pHigh string) {
	if moreHigh {
		return "25%", "75%"
	}
	return "75%", "25%"
}
