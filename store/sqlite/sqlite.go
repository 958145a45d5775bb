/*
Package sqlite provides a SQLite-backed implementation of recargo.Store.

PURPOSE:
  Persists planillas, their work days and surcharge lines, the append-only
  change history, snapshots, the surcharge catalog and the holiday
  calendar. Every domain write goes through WithTx so one lifecycle
  operation commits or rolls back as a unit.

INTERFACES IMPLEMENTED:
  recargo.Store:           WithTx / ReadTx
  recargo.Repository:      Transaction-bound table access (txRepo)
  generic.HolidayCalendar: Holiday lookup (inside a transaction)

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on change_records
  - No UPDATE or DELETE statements on snapshots
  - UNIQUE(planilla_id, version_after) and UNIQUE(planilla_id, version)
    reject a second record or snapshot for the same version

KEY TABLES:
  planillas:        One row per driver/vehicle/company/month, soft-deleted
  work_days:        Days of a planilla (hard-deleted on replace)
  surcharge_lines:  Hours per surcharge code per day
  surcharge_types:  Descriptive catalog, seeded from factory.DefaultCatalog
  change_records:   Field-level history, JSON encoded
  snapshots:        Full-state captures, JSON encoded
  holidays:         Calendar used to classify days

INDEXES:
  - idx_planillas_period:       One live planilla per driver/vehicle/company/month
  - idx_planillas_sheet_number: Sheet numbers unique among live planillas
  - idx_work_days_live_day:     One live row per day of a planilla
  - idx_surcharge_lines_code:   One live line per code per day

DECIMALS:
  Hours are stored as TEXT and parsed with shopspring/decimal. The only
  arithmetic done in SQL is the SUM in AggregateTotals, which is rounded
  back to two decimals.

CONCURRENCY:
  Uses sync.RWMutex: WithTx holds the write lock for the whole
  transaction, ReadTx holds the read lock. ":memory:" databases are
  pinned to a single connection so every statement sees the same data.

USAGE:
  store, err := sqlite.New("./data/recargos.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := recargo.NewService(store)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - recargo/store.go: Interface definitions
  - factory/catalog.go: Default surcharge catalog
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/recargo-engine/factory"
	"github.com/warp/recargo-engine/generic"
	"github.com/warp/recargo-engine/recargo"
)

const timeLayout = time.RFC3339Nano

// Store implements recargo.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path, migrates
// the schema and seeds the default surcharge catalog.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := store.seedCatalog(context.Background(), factory.DefaultCatalog(), false); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to seed surcharge types: %w", err)
	}

	return store, nil
}

// NewFromDB wraps an already opened database whose schema exists.
// Nothing is migrated or seeded.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS planillas (
		id TEXT PRIMARY KEY,
		driver_id TEXT NOT NULL,
		vehicle_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		month INTEGER NOT NULL CHECK (month BETWEEN 1 AND 12),
		year INTEGER NOT NULL,
		sheet_number TEXT,
		notes TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL CHECK (state IN ('pending', 'settled', 'invoiced')),
		version INTEGER NOT NULL DEFAULT 1,
		total_days INTEGER NOT NULL DEFAULT 0,
		total_hours TEXT NOT NULL DEFAULT '0',
		total_hed TEXT NOT NULL DEFAULT '0',
		total_hen TEXT NOT NULL DEFAULT '0',
		total_hefd TEXT NOT NULL DEFAULT '0',
		total_hefn TEXT NOT NULL DEFAULT '0',
		total_rn TEXT NOT NULL DEFAULT '0',
		total_rd TEXT NOT NULL DEFAULT '0',
		attachment_key TEXT,
		created_by TEXT NOT NULL,
		updated_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		deleted_at TEXT,
		deleted_by TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_planillas_period
		ON planillas(driver_id, vehicle_id, company_id, year, month)
		WHERE deleted_at IS NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_planillas_sheet_number
		ON planillas(sheet_number)
		WHERE sheet_number IS NOT NULL AND deleted_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_planillas_state
		ON planillas(state) WHERE deleted_at IS NULL;

	CREATE TABLE IF NOT EXISTS surcharge_types (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		category TEXT NOT NULL,
		percentage TEXT NOT NULL,
		is_overtime INTEGER NOT NULL,
		sort_order INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS work_days (
		id TEXT PRIMARY KEY,
		planilla_id TEXT NOT NULL REFERENCES planillas(id),
		day INTEGER NOT NULL CHECK (day BETWEEN 1 AND 31),
		start_hour TEXT NOT NULL,
		end_hour TEXT NOT NULL,
		total_hours TEXT NOT NULL,
		is_sunday INTEGER NOT NULL,
		is_holiday INTEGER NOT NULL,
		notes TEXT,
		created_by TEXT NOT NULL,
		updated_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		deleted_at TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_work_days_live_day
		ON work_days(planilla_id, day)
		WHERE deleted_at IS NULL;

	CREATE TABLE IF NOT EXISTS surcharge_lines (
		id TEXT PRIMARY KEY,
		work_day_id TEXT NOT NULL REFERENCES work_days(id) ON DELETE CASCADE,
		code TEXT NOT NULL REFERENCES surcharge_types(code),
		hours TEXT NOT NULL,
		auto INTEGER NOT NULL,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		deleted_at TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_surcharge_lines_code
		ON surcharge_lines(work_day_id, code)
		WHERE deleted_at IS NULL;

	-- Append-only history
	CREATE TABLE IF NOT EXISTS change_records (
		id TEXT PRIMARY KEY,
		planilla_id TEXT NOT NULL,
		action TEXT NOT NULL,
		version_before INTEGER NOT NULL,
		version_after INTEGER NOT NULL,
		fields_json TEXT NOT NULL,
		before_json TEXT NOT NULL,
		after_json TEXT NOT NULL,
		reason TEXT,
		actor TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (planilla_id, version_after)
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		planilla_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		payload_json TEXT NOT NULL,
		major INTEGER NOT NULL,
		reason TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		actor TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (planilla_id, version)
	);

	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		name TEXT NOT NULL,
		recurring INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		UNIQUE (date, name)
	);

	CREATE INDEX IF NOT EXISTS idx_holidays_date ON holidays(date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS (recargo.Store interface)
// =============================================================================

// querier is the subset of *sql.DB and *sql.Tx the repository needs.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx executes fn within a database transaction. The transaction is
// committed only when fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(repo recargo.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txRepo{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// ReadTx executes fn within a transaction that is always rolled back.
func (s *Store) ReadTx(ctx context.Context, fn func(repo recargo.Repository) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	return fn(&txRepo{q: sqlTx})
}

// txRepo implements recargo.Repository over one transaction.
type txRepo struct {
	q querier
}

// =============================================================================
// PLANILLAS
// =============================================================================

const planillaColumns = `id, driver_id, vehicle_id, company_id, month, year, sheet_number, notes,
	state, version, total_days, total_hours, total_hed, total_hen, total_hefd, total_hefn,
	total_rn, total_rd, attachment_key, created_by, updated_by, created_at, updated_at, deleted_at`

func (r *txRepo) InsertPlanilla(ctx context.Context, p *recargo.Planilla) error {
	query := `
		INSERT INTO planillas (` + planillaColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.q.ExecContext(ctx, query,
		p.ID, p.DriverID, p.VehicleID, p.CompanyID, p.Month, p.Year,
		nullString(p.SheetNumber), p.Notes, string(p.State), p.Version,
		p.Totals.Days, p.Totals.Hours.String(),
		p.Totals.HED.String(), p.Totals.HEN.String(), p.Totals.HEFD.String(),
		p.Totals.HEFN.String(), p.Totals.RN.String(), p.Totals.RD.String(),
		nullString(p.AttachmentKey), string(p.CreatedBy), string(p.UpdatedBy),
		p.CreatedAt.Format(timeLayout), p.UpdatedAt.Format(timeLayout), nullTime(p.DeletedAt),
	)
	if isUniqueConstraintError(err) {
		return &generic.ConflictError{ID: p.ID, Reason: uniqueReason(err)}
	}
	if err != nil {
		return fmt.Errorf("insert planilla: %w", err)
	}
	return nil
}

func (r *txRepo) UpdatePlanilla(ctx context.Context, p *recargo.Planilla) error {
	query := `
		UPDATE planillas SET
			driver_id = ?, vehicle_id = ?, company_id = ?, month = ?, year = ?,
			sheet_number = ?, notes = ?, state = ?, version = ?,
			total_days = ?, total_hours = ?, total_hed = ?, total_hen = ?,
			total_hefd = ?, total_hefn = ?, total_rn = ?, total_rd = ?,
			attachment_key = ?, updated_by = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`
	res, err := r.q.ExecContext(ctx, query,
		p.DriverID, p.VehicleID, p.CompanyID, p.Month, p.Year,
		nullString(p.SheetNumber), p.Notes, string(p.State), p.Version,
		p.Totals.Days, p.Totals.Hours.String(), p.Totals.HED.String(), p.Totals.HEN.String(),
		p.Totals.HEFD.String(), p.Totals.HEFN.String(), p.Totals.RN.String(), p.Totals.RD.String(),
		nullString(p.AttachmentKey), string(p.UpdatedBy), p.UpdatedAt.Format(timeLayout),
		p.ID,
	)
	if isUniqueConstraintError(err) {
		return &generic.ConflictError{ID: p.ID, Reason: uniqueReason(err)}
	}
	if err != nil {
		return fmt.Errorf("update planilla: %w", err)
	}
	return requireRow(res, "planilla", p.ID)
}

func (r *txRepo) GetPlanilla(ctx context.Context, id string, includeDeleted bool) (*recargo.Planilla, error) {
	query := `SELECT ` + planillaColumns + ` FROM planillas WHERE id = ?`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}

	p, err := scanPlanilla(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Kind: "planilla", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get planilla: %w", err)
	}
	return p, nil
}

func (r *txRepo) SoftDeletePlanilla(ctx context.Context, id string, by generic.Actor, at time.Time) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE planillas SET deleted_at = ?, deleted_by = ?, updated_by = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`, at.Format(timeLayout), string(by), string(by), at.Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("soft delete planilla: %w", err)
	}
	return requireRow(res, "planilla", id)
}

func (r *txRepo) PeriodTaken(ctx context.Context, key recargo.PeriodKey, excludeID string) (bool, error) {
	var count int
	err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM planillas
		WHERE driver_id = ? AND vehicle_id = ? AND company_id = ?
		  AND month = ? AND year = ? AND deleted_at IS NULL AND id <> ?
	`, key.DriverID, key.VehicleID, key.CompanyID, key.Month, key.Year, excludeID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check period: %w", err)
	}
	return count > 0, nil
}

func (r *txRepo) SheetNumberTaken(ctx context.Context, number, excludeID string) (bool, error) {
	if number == "" {
		return false, nil
	}
	var count int
	err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM planillas
		WHERE sheet_number = ? AND deleted_at IS NULL AND id <> ?
	`, number, excludeID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check sheet number: %w", err)
	}
	return count > 0, nil
}

func (r *txRepo) ListPlanillas(ctx context.Context, f recargo.ListFilter) ([]recargo.Planilla, error) {
	var (
		where = []string{"deleted_at IS NULL"}
		args  []any
	)
	add := func(clause string, v any) {
		where = append(where, clause)
		args = append(args, v)
	}
	if f.DriverID != "" {
		add("driver_id = ?", f.DriverID)
	}
	if f.VehicleID != "" {
		add("vehicle_id = ?", f.VehicleID)
	}
	if f.CompanyID != "" {
		add("company_id = ?", f.CompanyID)
	}
	if f.Month != 0 {
		add("month = ?", f.Month)
	}
	if f.Year != 0 {
		add("year = ?", f.Year)
	}
	if f.State != "" {
		add("state = ?", string(f.State))
	}

	query := `SELECT ` + planillaColumns + ` FROM planillas WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY year DESC, month DESC, created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list planillas: %w", err)
	}
	defer rows.Close()

	var out []recargo.Planilla
	for rows.Next() {
		p, err := scanPlanilla(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *txRepo) TransitionState(ctx context.Context, ids []string, from []recargo.State, to recargo.State, by generic.Actor, at time.Time) (int, error) {
	if len(ids) == 0 || len(from) == 0 {
		return 0, nil
	}
	query := `
		UPDATE planillas SET state = ?, version = version + 1, updated_by = ?, updated_at = ?
		WHERE state IN (` + placeholders(len(from)) + `) AND deleted_at IS NULL
		AND id IN (` + placeholders(len(ids)) + `)
	`
	args := []any{string(to), string(by), at.Format(timeLayout)}
	for _, st := range from {
		args = append(args, string(st))
	}
	for _, id := range ids {
		args = append(args, id)
	}

	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("transition %v -> %s: %w", from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlanilla(row rowScanner) (*recargo.Planilla, error) {
	var (
		p                                   recargo.Planilla
		sheet, attachment, deletedAt        sql.NullString
		state, createdBy, updatedBy         string
		hours, hed, hen, hefd, hefn, rn, rd string
		createdAt, updatedAt                string
	)
	err := row.Scan(
		&p.ID, &p.DriverID, &p.VehicleID, &p.CompanyID, &p.Month, &p.Year, &sheet, &p.Notes,
		&state, &p.Version, &p.Totals.Days, &hours, &hed, &hen, &hefd, &hefn,
		&rn, &rd, &attachment, &createdBy, &updatedBy, &createdAt, &updatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	p.SheetNumber = sheet.String
	p.AttachmentKey = attachment.String
	p.State = recargo.State(state)
	p.CreatedBy = generic.Actor(createdBy)
	p.UpdatedBy = generic.Actor(updatedBy)

	decimals := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&p.Totals.Hours, hours}, {&p.Totals.HED, hed}, {&p.Totals.HEN, hen},
		{&p.Totals.HEFD, hefd}, {&p.Totals.HEFN, hefn}, {&p.Totals.RN, rn}, {&p.Totals.RD, rd},
	}
	for _, d := range decimals {
		if *d.dst, err = parseDecimal(d.src); err != nil {
			return nil, err
		}
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		t, err := parseTime(deletedAt.String)
		if err != nil {
			return nil, err
		}
		p.DeletedAt = &t
	}
	return &p, nil
}

// =============================================================================
// WORK DAYS AND SURCHARGE LINES
// =============================================================================

func (r *txRepo) ListDays(ctx context.Context, planillaID string) ([]recargo.WorkDay, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, planilla_id, day, start_hour, end_hour, total_hours, is_sunday, is_holiday,
		       notes, created_by, updated_by, created_at, updated_at
		FROM work_days
		WHERE planilla_id = ? AND deleted_at IS NULL
		ORDER BY day ASC
	`, planillaID)
	if err != nil {
		return nil, fmt.Errorf("list days: %w", err)
	}

	var days []recargo.WorkDay
	index := make(map[string]int)
	for rows.Next() {
		d, err := scanDay(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		index[d.ID] = len(days)
		days = append(days, d)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(days) == 0 {
		return days, nil
	}

	lines, err := r.listLines(ctx, planillaID)
	if err != nil {
		return nil, err
	}
	for _, l := range lines {
		if i, ok := index[l.WorkDayID]; ok {
			days[i].Lines = append(days[i].Lines, l)
		}
	}
	return days, nil
}

// listLines loads every live line of a planilla in catalog order.
func (r *txRepo) listLines(ctx context.Context, planillaID string) ([]recargo.SurchargeLine, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT l.id, l.work_day_id, l.code, l.hours, l.auto, l.created_by, l.created_at
		FROM surcharge_lines l
		JOIN work_days d ON d.id = l.work_day_id
		LEFT JOIN surcharge_types t ON t.code = l.code
		WHERE d.planilla_id = ? AND d.deleted_at IS NULL AND l.deleted_at IS NULL
		ORDER BY d.day ASC, t.sort_order ASC
	`, planillaID)
	if err != nil {
		return nil, fmt.Errorf("list lines: %w", err)
	}
	defer rows.Close()

	var lines []recargo.SurchargeLine
	for rows.Next() {
		var (
			l                          recargo.SurchargeLine
			code, hours, by, createdAt string
		)
		if err := rows.Scan(&l.ID, &l.WorkDayID, &code, &hours, &l.Auto, &by, &createdAt); err != nil {
			return nil, err
		}
		l.Code = recargo.Code(code)
		l.CreatedBy = generic.Actor(by)
		if l.Hours, err = parseDecimal(hours); err != nil {
			return nil, err
		}
		if l.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func scanDay(rows *sql.Rows) (recargo.WorkDay, error) {
	var (
		d                    recargo.WorkDay
		start, end, total    string
		notes                sql.NullString
		createdBy, updatedBy string
		createdAt, updatedAt string
	)
	err := rows.Scan(&d.ID, &d.PlanillaID, &d.Day, &start, &end, &total, &d.IsSunday, &d.IsHoliday,
		&notes, &createdBy, &updatedBy, &createdAt, &updatedAt)
	if err != nil {
		return d, err
	}
	d.Notes = notes.String
	d.CreatedBy = generic.Actor(createdBy)
	d.UpdatedBy = generic.Actor(updatedBy)
	if d.Start, err = parseDecimal(start); err != nil {
		return d, err
	}
	if d.End, err = parseDecimal(end); err != nil {
		return d, err
	}
	if d.TotalHours, err = parseDecimal(total); err != nil {
		return d, err
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return d, err
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return d, err
	}
	return d, nil
}

func (r *txRepo) DayExists(ctx context.Context, planillaID string, day int) (bool, error) {
	var count int
	err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM work_days
		WHERE planilla_id = ? AND day = ? AND deleted_at IS NULL
	`, planillaID, day).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *txRepo) InsertDay(ctx context.Context, d *recargo.WorkDay) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO work_days (id, planilla_id, day, start_hour, end_hour, total_hours,
			is_sunday, is_holiday, notes, created_by, updated_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		d.ID, d.PlanillaID, d.Day, d.Start.String(), d.End.String(), d.TotalHours.String(),
		d.IsSunday, d.IsHoliday, nullString(d.Notes), string(d.CreatedBy), string(d.UpdatedBy),
		d.CreatedAt.Format(timeLayout), d.UpdatedAt.Format(timeLayout),
	)
	if isUniqueConstraintError(err) {
		return generic.Invalid("day", "day %d already recorded", d.Day)
	}
	return err
}

func (r *txRepo) InsertLine(ctx context.Context, l *recargo.SurchargeLine) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO surcharge_lines (id, work_day_id, code, hours, auto, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		l.ID, l.WorkDayID, string(l.Code), l.Hours.String(), l.Auto,
		string(l.CreatedBy), l.CreatedAt.Format(timeLayout),
	)
	return err
}

// DeleteDays hard-deletes the live days of a planilla and their lines.
func (r *txRepo) DeleteDays(ctx context.Context, planillaID string) error {
	if _, err := r.q.ExecContext(ctx, `
		DELETE FROM surcharge_lines
		WHERE work_day_id IN (SELECT id FROM work_days WHERE planilla_id = ?)
	`, planillaID); err != nil {
		return err
	}
	_, err := r.q.ExecContext(ctx, `DELETE FROM work_days WHERE planilla_id = ?`, planillaID)
	return err
}

// =============================================================================
// AGGREGATES
// =============================================================================

// AggregateTotals sums the live days and lines of a planilla in one
// grouped query: one row per surcharge code, or a single row with a NULL
// code when the days carry no lines.
func (r *txRepo) AggregateTotals(ctx context.Context, planillaID string) (recargo.Totals, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM work_days
			 WHERE planilla_id = ? AND deleted_at IS NULL),
			(SELECT COALESCE(SUM(CAST(total_hours AS REAL)), 0) FROM work_days
			 WHERE planilla_id = ? AND deleted_at IS NULL),
			l.code,
			COALESCE(SUM(CAST(l.hours AS REAL)), 0)
		FROM work_days d
		LEFT JOIN surcharge_lines l ON l.work_day_id = d.id AND l.deleted_at IS NULL
		WHERE d.planilla_id = ? AND d.deleted_at IS NULL
		GROUP BY l.code
	`, planillaID, planillaID, planillaID)
	if err != nil {
		return recargo.Totals{}, err
	}
	defer rows.Close()

	t := recargo.Totals{
		Hours: decimal.Zero, HED: decimal.Zero, HEN: decimal.Zero, HEFD: decimal.Zero,
		HEFN: decimal.Zero, RN: decimal.Zero, RD: decimal.Zero,
	}
	for rows.Next() {
		var (
			days       int
			hours, sum float64
			code       sql.NullString
		)
		if err := rows.Scan(&days, &hours, &code, &sum); err != nil {
			return recargo.Totals{}, err
		}
		t.Days = days
		t.Hours = round2(hours)
		if !code.Valid {
			continue
		}
		v := round2(sum)
		switch recargo.Code(code.String) {
		case recargo.CodeHED:
			t.HED = v
		case recargo.CodeHEN:
			t.HEN = v
		case recargo.CodeHEFD:
			t.HEFD = v
		case recargo.CodeHEFN:
			t.HEFN = v
		case recargo.CodeRN:
			t.RN = v
		case recargo.CodeRD:
			t.RD = v
		default:
			return recargo.Totals{}, fmt.Errorf("unknown surcharge code %q in lines", code.String)
		}
	}
	return t, rows.Err()
}

func (r *txRepo) SaveTotals(ctx context.Context, planillaID string, t recargo.Totals) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE planillas SET
			total_days = ?, total_hours = ?, total_hed = ?, total_hen = ?,
			total_hefd = ?, total_hefn = ?, total_rn = ?, total_rd = ?
		WHERE id = ?
	`,
		t.Days, t.Hours.String(), t.HED.String(), t.HEN.String(),
		t.HEFD.String(), t.HEFN.String(), t.RN.String(), t.RD.String(),
		planillaID,
	)
	if err != nil {
		return err
	}
	return requireRow(res, "planilla", planillaID)
}

// =============================================================================
// CHANGE HISTORY (append-only)
// =============================================================================

func (r *txRepo) AppendChange(ctx context.Context, rec *recargo.ChangeRecord) error {
	fields := rec.Fields
	if fields == nil {
		fields = []string{}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	beforeJSON, err := marshalState(rec.Before)
	if err != nil {
		return err
	}
	afterJSON, err := marshalState(rec.After)
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO change_records (id, planilla_id, action, version_before, version_after,
			fields_json, before_json, after_json, reason, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.PlanillaID, string(rec.Action), rec.VersionBefore, rec.VersionAfter,
		string(fieldsJSON), beforeJSON, afterJSON, nullString(rec.Reason),
		string(rec.Actor), rec.At.Format(timeLayout),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("version %d of %s already recorded: %w", rec.VersionAfter, rec.PlanillaID, err)
	}
	return err
}

const changeColumns = `id, planilla_id, action, version_before, version_after,
	fields_json, before_json, after_json, reason, actor, created_at`

func (r *txRepo) ListChanges(ctx context.Context, planillaID string) ([]recargo.ChangeRecord, error) {
	return r.queryChanges(ctx, `
		SELECT `+changeColumns+` FROM change_records
		WHERE planilla_id = ?
		ORDER BY version_after ASC
	`, planillaID)
}

func (r *txRepo) ListChangesBetween(ctx context.Context, planillaID string, afterVersion, toVersion int) ([]recargo.ChangeRecord, error) {
	return r.queryChanges(ctx, `
		SELECT `+changeColumns+` FROM change_records
		WHERE planilla_id = ? AND version_after > ? AND version_after <= ?
		ORDER BY version_after ASC
	`, planillaID, afterVersion, toVersion)
}

func (r *txRepo) ChangeExists(ctx context.Context, planillaID string, versionAfter int) (bool, error) {
	var count int
	err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM change_records WHERE planilla_id = ? AND version_after = ?
	`, planillaID, versionAfter).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *txRepo) queryChanges(ctx context.Context, query string, args ...any) ([]recargo.ChangeRecord, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query change records: %w", err)
	}
	defer rows.Close()

	var out []recargo.ChangeRecord
	for rows.Next() {
		var (
			rec                           recargo.ChangeRecord
			action, fieldsJSON, actor, at string
			beforeJSON, afterJSON         string
			reason                        sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.PlanillaID, &action, &rec.VersionBefore, &rec.VersionAfter,
			&fieldsJSON, &beforeJSON, &afterJSON, &reason, &actor, &at); err != nil {
			return nil, err
		}
		rec.Action = recargo.Action(action)
		rec.Actor = generic.Actor(actor)
		rec.Reason = reason.String
		if err := json.Unmarshal([]byte(fieldsJSON), &rec.Fields); err != nil {
			return nil, fmt.Errorf("decode fields of %s: %w", rec.ID, err)
		}
		if err := json.Unmarshal([]byte(beforeJSON), &rec.Before); err != nil {
			return nil, fmt.Errorf("decode before of %s: %w", rec.ID, err)
		}
		if err := json.Unmarshal([]byte(afterJSON), &rec.After); err != nil {
			return nil, fmt.Errorf("decode after of %s: %w", rec.ID, err)
		}
		if rec.At, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// =============================================================================
// SNAPSHOTS (append-only)
// =============================================================================

func (r *txRepo) InsertSnapshot(ctx context.Context, snap *recargo.Snapshot) error {
	payload, err := json.Marshal(snap.Payload)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO snapshots (id, planilla_id, version, payload_json, major, reason,
			size_bytes, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		snap.ID, snap.PlanillaID, snap.Version, string(payload), snap.Major,
		string(snap.Reason), snap.SizeBytes, string(snap.Actor), snap.CreatedAt.Format(timeLayout),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("snapshot of %s at version %d exists: %w", snap.PlanillaID, snap.Version, err)
	}
	return err
}

const snapshotColumns = `id, planilla_id, version, payload_json, major, reason, size_bytes, actor, created_at`

func (r *txRepo) NearestSnapshot(ctx context.Context, planillaID string, atOrBefore int) (*recargo.Snapshot, error) {
	snap, err := scanSnapshot(r.q.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE planilla_id = ? AND version <= ?
		ORDER BY version DESC
		LIMIT 1
	`, planillaID, atOrBefore))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Kind: "snapshot", ID: fmt.Sprintf("%s@<=%d", planillaID, atOrBefore)}
	}
	return snap, err
}

func (r *txRepo) GetSnapshot(ctx context.Context, planillaID string, version int) (*recargo.Snapshot, error) {
	snap, err := scanSnapshot(r.q.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE planilla_id = ? AND version = ?
	`, planillaID, version))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Kind: "snapshot", ID: fmt.Sprintf("%s@%d", planillaID, version)}
	}
	return snap, err
}

func (r *txRepo) ListSnapshots(ctx context.Context, planillaID string) ([]recargo.Snapshot, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE planilla_id = ?
		ORDER BY version ASC
	`, planillaID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []recargo.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

func scanSnapshot(row rowScanner) (*recargo.Snapshot, error) {
	var (
		snap                   recargo.Snapshot
		payload, reason, actor string
		createdAt              string
	)
	if err := row.Scan(&snap.ID, &snap.PlanillaID, &snap.Version, &payload, &snap.Major,
		&reason, &snap.SizeBytes, &actor, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &snap.Payload); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", snap.ID, err)
	}
	snap.Reason = generic.SnapshotReason(reason)
	snap.Actor = generic.Actor(actor)
	t, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	snap.CreatedAt = t
	return &snap, nil
}

// =============================================================================
// SURCHARGE CATALOG
// =============================================================================

func (r *txRepo) SurchargeTypes(ctx context.Context) ([]recargo.SurchargeType, error) {
	return listSurchargeTypes(ctx, r.q)
}

// SeedSurchargeTypes replaces the descriptive fields of the catalog.
func (s *Store) SeedSurchargeTypes(ctx context.Context, types []recargo.SurchargeType) error {
	return s.seedCatalog(ctx, types, true)
}

func (s *Store) seedCatalog(ctx context.Context, types []recargo.SurchargeType, overwrite bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conflict := `ON CONFLICT(code) DO NOTHING`
	if overwrite {
		conflict = `ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			category = excluded.category,
			percentage = excluded.percentage,
			is_overtime = excluded.is_overtime,
			sort_order = excluded.sort_order`
	}
	query := `
		INSERT INTO surcharge_types (code, name, description, category, percentage, is_overtime, sort_order)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		` + conflict

	for _, t := range types {
		if _, err := s.db.ExecContext(ctx, query,
			string(t.Code), t.Name, nullString(t.Description), t.Category,
			t.Percentage.String(), t.IsOvertime, t.Order,
		); err != nil {
			return fmt.Errorf("seed %s: %w", t.Code, err)
		}
	}
	return nil
}

func listSurchargeTypes(ctx context.Context, q querier) ([]recargo.SurchargeType, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT code, name, description, category, percentage, is_overtime, sort_order
		FROM surcharge_types
		ORDER BY sort_order ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list surcharge types: %w", err)
	}
	defer rows.Close()

	var out []recargo.SurchargeType
	for rows.Next() {
		var (
			t                recargo.SurchargeType
			code, percentage string
			description      sql.NullString
		)
		if err := rows.Scan(&code, &t.Name, &description, &t.Category, &percentage, &t.IsOvertime, &t.Order); err != nil {
			return nil, err
		}
		t.Code = recargo.Code(code)
		t.Description = description.String
		if t.Percentage, err = parseDecimal(percentage); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// =============================================================================
// HOLIDAY CALENDAR IMPLEMENTATION
// =============================================================================

// IsHoliday checks the calendar inside the transaction.
func (r *txRepo) IsHoliday(ctx context.Context, date time.Time) (bool, error) {
	return isHoliday(ctx, r.q, date)
}

// IsHoliday checks the calendar outside any transaction.
func (s *Store) IsHoliday(ctx context.Context, date time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return isHoliday(ctx, s.db, date)
}

func isHoliday(ctx context.Context, q querier, date time.Time) (bool, error) {
	query := `
		SELECT COUNT(*) FROM holidays
		WHERE (recurring = 0 AND date = ?)
		   OR (recurring = 1 AND strftime('%m-%d', date) = ?)
	`
	var count int
	err := q.QueryRowContext(ctx, query, date.Format("2006-01-02"), date.Format("01-02")).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check holiday: %w", err)
	}
	return count > 0, nil
}

// SaveHoliday saves a holiday. Saving the same date and name again updates
// the recurring flag.
func (s *Store) SaveHoliday(ctx context.Context, h generic.Holiday) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO holidays (id, date, name, recurring, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(date, name) DO UPDATE SET
			recurring = excluded.recurring
	`
	_, err := s.db.ExecContext(ctx, query,
		h.ID,
		h.Date.Format("2006-01-02"),
		h.Name,
		h.Recurring,
		time.Now().UTC().Format(timeLayout),
	)
	return err
}

// DeleteHoliday deletes a holiday by ID.
func (s *Store) DeleteHoliday(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM holidays WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireRow(res, "holiday", id)
}

// ListHolidays returns the holidays that fall in year, recurring ones
// moved into it. Year 0 lists every stored row unchanged.
func (s *Store) ListHolidays(ctx context.Context, year int) ([]generic.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, date, name, recurring FROM holidays`
	var args []any
	if year != 0 {
		query += ` WHERE recurring = 1 OR strftime('%Y', date) = ?`
		args = append(args, fmt.Sprintf("%04d", year))
	}
	query += ` ORDER BY strftime('%m-%d', date) ASC, name ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holidays []generic.Holiday
	for rows.Next() {
		var (
			h       generic.Holiday
			dateStr string
		)
		if err := rows.Scan(&h.ID, &dateStr, &h.Name, &h.Recurring); err != nil {
			return nil, err
		}
		t, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			return nil, fmt.Errorf("holiday %s: %w", h.ID, err)
		}
		if h.Recurring && year != 0 {
			t = time.Date(year, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		}
		h.Date = t
		holidays = append(holidays, h)
	}
	return holidays, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all planilla data (for demo scenarios). The catalog and
// the holiday calendar are kept.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"snapshots", "change_records", "surcharge_lines", "work_days", "planillas"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(timeLayout), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

func round2(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(2)
}

func marshalState(s generic.State) (string, error) {
	if s == nil {
		return "{}", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &generic.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

// uniqueReason names the live-row constraint a write collided with.
func uniqueReason(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "sheet_number"):
		return "sheet number already used by a live planilla"
	case strings.Contains(msg, "driver_id"):
		return "a live planilla already exists for this driver, vehicle, company and month"
	}
	return "unique constraint violated"
}
