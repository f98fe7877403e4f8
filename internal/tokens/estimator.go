package tokens

import (
	"math"
	"regexp"
)

// Calibration constants for the heuristic token model. These mirror the
// billing calibration in production and must not be tuned casually: the
// pre-flight admission numbers clients see are derived from them.
const (
	DefaultCharsPerToken     = 4
	DefaultNonWordWeight     = 0.5
	DefaultMessageOverhead   = 10
	DefaultOutputBudgetRatio = 0.6
)

var nonWordPattern = regexp.MustCompile(`[^\w\s]`)

// Estimator approximates token counts for prompt text without a model
// tokenizer. The zero value is not usable; construct with NewEstimator.
type Estimator struct {
	charsPerToken     int
	nonWordWeight     float64
	messageOverhead   int
	outputBudgetRatio float64
}

func NewEstimator() *Estimator {
	return &Estimator{
		charsPerToken:     DefaultCharsPerToken,
		nonWordWeight:     DefaultNonWordWeight,
		messageOverhead:   DefaultMessageOverhead,
		outputBudgetRatio: DefaultOutputBudgetRatio,
	}
}

// Estimate approximates the token cost of a single text fragment.
func (e *Estimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	base := int(math.Ceil(float64(len(text)) / float64(e.charsPerToken)))
	nonWord := len(nonWordPattern.FindAllString(text, -1))
	overhead := int(math.Ceil(float64(nonWord) * e.nonWordWeight))
	return base + overhead
}

// CountTokens estimates the input cost of a system+user message pair,
// including the fixed per-message overhead.
func (e *Estimator) CountTokens(system, user string) int {
	return e.Estimate(system) + e.Estimate(user) + e.messageOverhead
}

// EstimateOutput returns the expected completion budget for a max-token cap.
func (e *Estimator) EstimateOutput(maxTokens int) int {
	if maxTokens <= 0 {
		return 0
	}
	return int(math.Floor(float64(maxTokens) * e.outputBudgetRatio))
}

// TotalEstimated is the pre-flight estimate used for admission control.
func (e *Estimator) TotalEstimated(system, user string, maxTokens int) int {
	return e.CountTokens(system, user) + e.EstimateOutput(maxTokens)
}
