package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/selmend/selmend/idgen"
	"github.com/selmend/selmend/selector"
)

// EventLogger appends healing events. Non-blocking by contract: failures
// are logged via slog and never propagate, so a failing event store never
// blocks a heal.
type EventLogger struct {
	db    *sql.DB
	newID idgen.Generator
}

// NewEventLogger creates a logger over the selmend database.
func NewEventLogger(db *sql.DB) *EventLogger {
	return &EventLogger{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.UUIDv7()),
	}
}

// LogResult records one healing result, optionally tied to a session.
func (l *EventLogger) LogResult(ctx context.Context, sessionID string, r selector.HealingResult) {
	healedValue, healedType := "", ""
	if r.Healed != nil {
		healedValue = r.Healed.Value
		healedType = string(r.Healed.Type)
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO healing_events (
			id, session_id, tenant_id, original_value, original_type,
			healed_value, healed_type, status, confidence, attempts,
			candidates_evaluated, error_message, elapsed_ms, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		l.newID(), sessionID, r.Original.TenantID, r.Original.Value, string(r.Original.Type),
		healedValue, healedType, string(r.Status), r.Confidence, r.Attempts,
		r.CandidatesEvaluated, r.ErrorMessage, r.Elapsed.Milliseconds(), time.Now().UnixMilli())
	if err != nil {
		slog.Error("store: healing event log failed", "error", err, "selector", r.Original.Value)
	}
}

// RetentionConfig specifies event retention in days. Zero disables cleanup.
type RetentionConfig struct {
	EventsDays     int
	RunVacuumAfter bool
}

// Cleanup deletes healing events older than the retention threshold.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	if cfg.EventsDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -cfg.EventsDays).UnixMilli()
		if _, err := db.ExecContext(ctx,
			`DELETE FROM healing_events WHERE created_at < ?`, cutoff); err != nil {
			return fmt.Errorf("store: cleanup healing_events: %w", err)
		}
	}
	if cfg.RunVacuumAfter {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("store: vacuum: %w", err)
		}
	}
	return nil
}
