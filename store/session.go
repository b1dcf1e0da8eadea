package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/selmend/selmend/selector"
)

// SessionRecord is the persisted projection of a healing session.
type SessionRecord struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id,omitempty"`
	Status        selector.Status `json:"status"`
	Successful    int             `json:"successful"`
	Failed        int             `json:"failed"`
	SuccessRate   float64         `json:"success_rate"`
	AvgConfidence float64         `json:"average_confidence"`
	StartedAt     int64           `json:"started_at"`
	CompletedAt   *int64          `json:"completed_at,omitempty"`
}

// InsertSession creates a new in-progress session row.
func (s *Store) InsertSession(ctx context.Context, id, tenantID string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO healing_sessions (id, tenant_id, status, started_at)
		VALUES (?, ?, 'in-progress', ?)`,
		id, tenantID, time.Now().UnixMilli())
	return err
}

// AppendSessionResult folds one result into the session's running totals
// with a single atomic UPDATE.
func (s *Store) AppendSessionResult(ctx context.Context, sessionID string, r selector.HealingResult) error {
	succ := 0
	fail := 0
	if r.Status == selector.StatusSuccess {
		succ = 1
	} else {
		fail = 1
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE healing_sessions SET
			successful     = successful + ?,
			failed         = failed + ?,
			confidence_sum = confidence_sum + ?
		WHERE id = ? AND status = 'in-progress'`,
		succ, fail, r.Confidence, sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionClosed
	}
	return nil
}

// CompleteSession marks the session terminal and derives its aggregate
// status from the success rate. Completing twice returns ErrSessionClosed.
func (s *Store) CompleteSession(ctx context.Context, sessionID string) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE healing_sessions SET
			status = CASE
				WHEN successful + failed = 0 THEN 'skipped'
				WHEN CAST(successful AS REAL) / (successful + failed) >= 0.8 THEN 'success'
				WHEN successful > 0 THEN 'partial'
				ELSE 'failed'
			END,
			completed_at = ?
		WHERE id = ? AND status = 'in-progress'`,
		time.Now().UnixMilli(), sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionClosed
	}
	return nil
}

// GetSession retrieves a session's aggregate, or nil when absent.
func (s *Store) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	var (
		rec           SessionRecord
		status        string
		confidenceSum float64
		completedAt   sql.NullInt64
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, tenant_id, status, successful, failed, confidence_sum,
		       started_at, completed_at
		FROM healing_sessions WHERE id = ?`, id).Scan(
		&rec.ID, &rec.TenantID, &status, &rec.Successful, &rec.Failed,
		&confidenceSum, &rec.StartedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec.Status = selector.Status(status)
	if total := rec.Successful + rec.Failed; total > 0 {
		rec.SuccessRate = float64(rec.Successful) / float64(total)
		rec.AvgConfidence = confidenceSum / float64(total)
	}
	if completedAt.Valid {
		rec.CompletedAt = &completedAt.Int64
	}
	return &rec, nil
}

// ErrSessionClosed is returned when appending to or completing a session
// that is no longer in progress.
var ErrSessionClosed = errors.New("store: session is not in progress")
