package selector

import "time"

// Session aggregates healing results for one batch, e.g. a test run.
// Build it incrementally with AddResult, then call Complete exactly once.
// Sessions are independent: no state is shared between them.
type Session struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`

	Results    []HealingResult `json:"results"`
	Successful int             `json:"successful"`
	Failed     int             `json:"failed"`

	confidenceSum float64
	completed     bool
}

// NewSession starts an empty session.
func NewSession(id, tenantID string) *Session {
	return &Session{
		ID:        id,
		TenantID:  tenantID,
		StartedAt: time.Now(),
	}
}

// AddResult appends a result and updates the running totals. Results added
// after Complete are ignored; completed is a terminal state.
func (s *Session) AddResult(r HealingResult) {
	if s.completed {
		return
	}
	s.Results = append(s.Results, r)
	s.confidenceSum += r.Confidence
	if r.Status == StatusSuccess {
		s.Successful++
	} else {
		s.Failed++
	}
}

// SuccessRate is successful heals over total results, 0 for an empty session.
func (s *Session) SuccessRate() float64 {
	total := len(s.Results)
	if total == 0 {
		return 0
	}
	return float64(s.Successful) / float64(total)
}

// AverageConfidence over all results, 0 for an empty session.
func (s *Session) AverageConfidence() float64 {
	total := len(s.Results)
	if total == 0 {
		return 0
	}
	return s.confidenceSum / float64(total)
}

// Complete marks the session terminal. Subsequent calls are no-ops.
func (s *Session) Complete() {
	if s.completed {
		return
	}
	s.completed = true
	s.CompletedAt = time.Now()
}

// Completed reports whether Complete has been called.
func (s *Session) Completed() bool { return s.completed }

// Status derives the aggregate status: success rate >= 0.8 is success, any
// success at all is partial, otherwise failed. Before completion the
// session is in progress; an empty completed session is skipped.
func (s *Session) Status() Status {
	if !s.completed {
		return StatusInProgress
	}
	if len(s.Results) == 0 {
		return StatusSkipped
	}
	switch rate := s.SuccessRate(); {
	case rate >= 0.8:
		return StatusSuccess
	case rate > 0:
		return StatusPartial
	default:
		return StatusFailed
	}
}
