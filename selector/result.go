package selector

import "time"

// Status tracks one healing attempt (or, at session level, the aggregate).
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusPartial    Status = "partial" // batch-level only
	StatusSkipped    Status = "skipped" // batch-level only
)

// ConfidenceLevel buckets a confidence score for human consumption.
type ConfidenceLevel string

const (
	LevelHigh    ConfidenceLevel = "high"     // score >= 0.8
	LevelMedium  ConfidenceLevel = "medium"   // score >= 0.5
	LevelLow     ConfidenceLevel = "low"      // score >= 0.2
	LevelVeryLow ConfidenceLevel = "very-low" // below 0.2
)

// LevelForScore maps a score to its bucket. Boundary values map to the
// higher bucket.
func LevelForScore(score float64) ConfidenceLevel {
	switch {
	case score >= 0.8:
		return LevelHigh
	case score >= 0.5:
		return LevelMedium
	case score >= 0.2:
		return LevelLow
	default:
		return LevelVeryLow
	}
}

// HealingResult is the outcome of one heal call. It is built once by the
// healer and never mutated afterwards.
type HealingResult struct {
	ID                  string          `json:"id"`
	Original            Selector        `json:"original"`
	Healed              *Selector       `json:"healed,omitempty"`
	Status              Status          `json:"status"`
	Confidence          float64         `json:"confidence"`
	Level               ConfidenceLevel `json:"confidence_level"`
	Elapsed             time.Duration   `json:"elapsed_ns"`
	Attempts            int             `json:"attempts"`
	CandidatesEvaluated int             `json:"candidates_evaluated"`
	ErrorMessage        string          `json:"error_message,omitempty"`
}
