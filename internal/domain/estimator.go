package domain

import (
	"math"
	"unicode/utf8"
)

// DefaultCharsPerToken is the characters-per-token ratio used when none is configured.
const DefaultCharsPerToken = 4.0

// CharEstimator estimates tokens from the rune count using a fixed ratio.
type CharEstimator struct {
	charsPerToken float64
}

// NewCharEstimator creates an estimator. A non-positive ratio falls back to DefaultCharsPerToken.
func NewCharEstimator(charsPerToken float64) *CharEstimator {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return &CharEstimator{charsPerToken: charsPerToken}
}

// Estimate returns ceil(runes / charsPerToken). Empty text costs zero.
func (e *CharEstimator) Estimate(text string) int {
	runes := utf8.RuneCountInString(text)
	if runes == 0 {
		return 0
	}
	return int(math.Ceil(float64(runes) / e.charsPerToken))
}
