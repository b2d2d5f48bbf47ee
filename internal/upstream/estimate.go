package upstream

import "unicode/utf8"

// TokenEstimator approximates a token count from text for providers that do not
// report usage.
type TokenEstimator interface {
	Estimate(text string) int
}

// CharEstimator assumes a fixed number of characters per token.
type CharEstimator struct {
	CharsPerToken int
}

// DefaultEstimator is the four-characters-per-token heuristic.
var DefaultEstimator TokenEstimator = CharEstimator{CharsPerToken: 4}

// Estimate returns ceil(chars / CharsPerToken).
func (e CharEstimator) Estimate(text string) int {
	per := e.CharsPerToken
	if per <= 0 {
		per = 4
	}
	chars := utf8.RuneCountInString(text)
	return (chars + per - 1) / per
}

// EstimateUsage builds an Estimated usage from prompt and completion text.
func EstimateUsage(est TokenEstimator, prompt, completion string) Usage {
	if est == nil {
		est = DefaultEstimator
	}
	p, c := est.Estimate(prompt), est.Estimate(completion)
	return Usage{PromptTokens: p, CompletionTokens: c, TotalTokens: p + c, Estimated: true}
}
