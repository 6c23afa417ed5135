package domain

import (
	"math"
	"strings"
)

var confidenceIndicators = []string{
	"clearly states",
	"explicitly mentions",
	"directly addresses",
	"specifically outlines",
	"demonstrates",
}

var uncertaintyIndicators = []string{
	"unclear",
	"may",
	"might",
	"possibly",
	"cannot determine",
	"insufficient information",
}

// ConfidenceScore estimates how assertive a response is from the phrases it
// uses. The result is clamped to [0.1, 0.9] and rounded to 2 decimals.
func ConfidenceScore(responseText string) float64 {
	text := strings.ToLower(responseText)

	positive := 0
	for _, phrase := range confidenceIndicators {
		if strings.Contains(text, phrase) {
			positive++
		}
	}
	uncertain := 0
	for _, phrase := range uncertaintyIndicators {
		if strings.Contains(text, phrase) {
			uncertain++
		}
	}

	total := float64(len(confidenceIndicators) + len(uncertaintyIndicators))
	base := float64(positive-uncertain) / total
	score := (base + 1) / 2
	score = math.Max(0.1, math.Min(0.9, score))
	return math.Round(score*100) / 100
}
