// Package scoring turns answer correctness and response latency into points.
package scoring

import (
	"math"
	"time"
)

// MaxScore is awarded for a correct answer submitted the instant the window opens.
const MaxScore = 1000

// Score returns 0 for a wrong answer, otherwise MaxScore scaled down linearly
// by the share of the budget already used. Answers at or past the budget
// score 0 even when correct.
func Score(isCorrect bool, elapsed, budget time.Duration) int {
	if !isCorrect || budget <= 0 {
		return 0
	}
	ratio := float64(elapsed) / float64(budget)
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	return MaxScore - int(math.Round(ratio*MaxScore))
}
