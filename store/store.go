// Package store persists selectors, their alternatives, usage outcomes,
// and healing sessions in SQLite. It implements the healer's Repository
// contract; all writes are atomic upserts or single-statement updates so
// concurrent heals never race on read-modify-write.
package store

import "database/sql"

// Store wraps the selmend database.
type Store struct {
	DB *sql.DB
}

// New creates a Store over an opened database. The schema must already be
// applied (dbopen.WithSchema(Schema)).
func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(unixMilli int64) sql.NullInt64 {
	if unixMilli == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: unixMilli, Valid: true}
}
