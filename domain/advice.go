package domain

import "time"

// Advice is the outcome of one schedule analysis. When OK is false Text holds
// a user-readable fallback and Reason the internal cause.
type Advice struct {
	OK          bool      `json:"ok"`
	Text        string    `json:"text"`
	Reason      string    `json:"reason,omitempty"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// AdviceSucceeded wraps a model response.
func AdviceSucceeded(text string, at time.Time) Advice {
	return Advice{OK: true, Text: text, GeneratedAt: at}
}

// AdviceFailed wraps a failure with the message shown in its place.
func AdviceFailed(fallback, reason string, at time.Time) Advice {
	return Advice{Text: fallback, Reason: reason, GeneratedAt: at}
}

// AdviceState is what the AI panel renders: whether a run is outstanding and
// the last result, if any.
type AdviceState struct {
	InFlight bool    `json:"inFlight"`
	Advice   *Advice `json:"advice,omitempty"`
}
