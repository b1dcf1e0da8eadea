package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/selmend/selmend/dbopen"
	"github.com/selmend/selmend/selector"
)

// Bayesian smoothing used when ranking selectors by confidence; matches
// the scorer's historical prior so repository ordering and scoring agree.
const (
	priorRate   = 0.7
	priorWeight = 5.0
)

const selectorColumns = `id, value, type, tenant_id, is_active, provenance,
       usage_count, success_rate, last_success, created_at, updated_at`

// execer abstracts *sql.DB and *sql.Tx for writes that may run either
// standalone or inside a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Save upserts a selector by id. Re-saving the same value is idempotent.
func (s *Store) Save(ctx context.Context, sel *selector.Selector) error {
	return save(ctx, s.DB, sel)
}

func save(ctx context.Context, db execer, sel *selector.Selector) error {
	now := time.Now()
	if sel.Metadata.CreatedAt.IsZero() {
		sel.Metadata.CreatedAt = now
	}
	sel.Metadata.UpdatedAt = now
	if sel.Metadata.Provenance == "" {
		sel.Metadata.Provenance = selector.ProvenanceManual
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO selectors
			(id, value, type, tenant_id, is_active, provenance,
			 usage_count, success_rate, last_success, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			value        = excluded.value,
			type         = excluded.type,
			tenant_id    = excluded.tenant_id,
			is_active    = excluded.is_active,
			provenance   = excluded.provenance,
			usage_count  = excluded.usage_count,
			success_rate = excluded.success_rate,
			last_success = excluded.last_success,
			updated_at   = excluded.updated_at`,
		sel.ID, sel.Value, string(sel.Type), sel.TenantID, boolInt(sel.IsActive),
		string(sel.Metadata.Provenance), sel.Metadata.UsageCount, sel.Metadata.SuccessRate,
		nullTime(unixMilliOrZero(sel.Metadata.LastSuccess)),
		sel.Metadata.CreatedAt.UnixMilli(), sel.Metadata.UpdatedAt.UnixMilli(),
	)
	return err
}

// Get retrieves a selector by id, or nil when absent. Alternatives are not
// loaded; use Alternatives for the ordered list.
func (s *Store) Get(ctx context.Context, id string) (*selector.Selector, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+selectorColumns+` FROM selectors WHERE id = ?`, id)
	return scanSelector(row)
}

// GetByValue retrieves a selector by its (value, type) identity.
func (s *Store) GetByValue(ctx context.Context, value string, typ selector.Type) (*selector.Selector, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+selectorColumns+` FROM selectors WHERE value = ? AND type = ?`,
		value, string(typ))
	return scanSelector(row)
}

// Alternatives returns the ordered list of accepted replacements for a
// parent selector.
func (s *Store) Alternatives(ctx context.Context, parentID string) ([]selector.Selector, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+prefixedColumns("s")+`
		FROM selector_alternatives a
		JOIN selectors s ON s.id = a.alt_id
		WHERE a.parent_id = ?
		ORDER BY a.position`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSelectors(rows)
}

// AppendAlternative appends an accepted replacement to the parent's ordered
// list, in one transaction with busy-retry. The healer mints a fresh id for
// every winner, so novelty is decided by the (value, type, tenant) identity:
// a row that already holds that identity is linked under its existing id and
// keeps its usage history. Re-appending is a no-op.
func (s *Store) AppendAlternative(ctx context.Context, parentID string, alt selector.Selector) error {
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		var existingID string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM selectors WHERE value = ? AND type = ? AND tenant_id = ?`,
			alt.Value, string(alt.Type), alt.TenantID).Scan(&existingID)
		switch {
		case err == nil:
			alt.ID = existingID
		case errors.Is(err, sql.ErrNoRows):
			if err := save(ctx, tx, &alt); err != nil {
				return err
			}
		default:
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO selector_alternatives (parent_id, alt_id, position, created_at)
			VALUES (?, ?,
				(SELECT COALESCE(MAX(position), -1) + 1 FROM selector_alternatives WHERE parent_id = ?),
				?)
			ON CONFLICT(parent_id, alt_id) DO NOTHING`,
			parentID, alt.ID, parentID, time.Now().UnixMilli())
		return err
	})
}

// RecordUsage applies one usage outcome as a single atomic UPDATE: the
// running weighted average is computed in SQL against the pre-update row,
// so concurrent calls for the same id serialize without a read-modify-write
// race.
func (s *Store) RecordUsage(ctx context.Context, id string, success bool) error {
	now := time.Now().UnixMilli()
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE selectors SET
			success_rate = (success_rate * usage_count + ?) / (usage_count + 1),
			usage_count  = usage_count + 1,
			last_success = CASE WHEN ? THEN ? ELSE last_success END,
			updated_at   = ?
		WHERE id = ?`,
		outcome, boolInt(success), now, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Deactivate retires a selector. The engine never deletes selectors.
func (s *Store) Deactivate(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE selectors SET is_active = 0, updated_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// LowConfidence returns active selectors for a tenant whose smoothed
// confidence is below threshold, ascending, bounded by limit. The same
// Bayesian smoothing as the scorer keeps the ordering consistent with
// what the healer would compute.
func (s *Store) LowConfidence(ctx context.Context, tenantID string, threshold float64, limit int) ([]selector.Selector, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+selectorColumns+`,
		       (success_rate * usage_count + ? * ?) / (usage_count + ?) AS confidence
		FROM selectors
		WHERE tenant_id = ? AND is_active = 1
		  AND (success_rate * usage_count + ? * ?) / (usage_count + ?) < ?
		ORDER BY confidence ASC
		LIMIT ?`,
		priorRate, priorWeight, priorWeight,
		tenantID,
		priorRate, priorWeight, priorWeight, threshold,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []selector.Selector
	for rows.Next() {
		sel, err := scanSelectorRow(rows, true)
		if err != nil {
			return nil, err
		}
		out = append(out, *sel)
	}
	return out, rows.Err()
}

// ErrNotFound is returned when an update targets a selector that does not
// exist.
var ErrNotFound = errors.New("store: selector not found")

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSelector(row rowScanner) (*selector.Selector, error) {
	sel, err := scanSelectorRow(row, false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sel, err
}

func scanSelectorRow(row rowScanner, extraConfidence bool) (*selector.Selector, error) {
	var (
		sel         selector.Selector
		typ, prov   string
		isActive    int
		lastSuccess sql.NullInt64
		createdAt   int64
		updatedAt   int64
		confidence  float64
	)
	dest := []any{
		&sel.ID, &sel.Value, &typ, &sel.TenantID, &isActive, &prov,
		&sel.Metadata.UsageCount, &sel.Metadata.SuccessRate,
		&lastSuccess, &createdAt, &updatedAt,
	}
	if extraConfidence {
		dest = append(dest, &confidence)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	sel.Type = selector.Type(typ)
	sel.Metadata.Provenance = selector.Provenance(prov)
	sel.IsActive = isActive != 0
	sel.Metadata.CreatedAt = time.UnixMilli(createdAt)
	sel.Metadata.UpdatedAt = time.UnixMilli(updatedAt)
	if lastSuccess.Valid {
		sel.Metadata.LastSuccess = time.UnixMilli(lastSuccess.Int64)
	}
	return &sel, nil
}

func scanSelectors(rows *sql.Rows) ([]selector.Selector, error) {
	var out []selector.Selector
	for rows.Next() {
		sel, err := scanSelectorRow(rows, false)
		if err != nil {
			return nil, err
		}
		out = append(out, *sel)
	}
	return out, rows.Err()
}

func prefixedColumns(alias string) string {
	return alias + `.id, ` + alias + `.value, ` + alias + `.type, ` + alias + `.tenant_id, ` +
		alias + `.is_active, ` + alias + `.provenance, ` + alias + `.usage_count, ` +
		alias + `.success_rate, ` + alias + `.last_success, ` + alias + `.created_at, ` +
		alias + `.updated_at`
}

func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
