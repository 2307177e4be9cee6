/*
Package sqlite provides a SQLite-backed implementation of the engine's
collaborators.

PURPOSE:
  Implements Source, Sink, StateStore and RunRecorder on one SQLite file.
  The source tables mirror what the punch-clock and operation systems
  export; the output tables are what payroll renderers read.

INTERFACES IMPLEMENTED:
  engine.Source:      Drivers, shift events, operations, day-offs, markers
  engine.Sink:        Monthly summaries, one transaction per driver-month
  engine.StateStore:  Continuation states keyed by (driver, type, cutoff)
  engine.RunRecorder: Batch run log

SCHEMA:
  Versioned SQL files under migrations/, embedded and applied with
  golang-migrate when the store opens.

KEY TABLES:
  shift_events:           Raw clock events, with the local date they fall on
  operations:             One row per (operation_no, crew_role)
  monthly_totals:         One row per driver-month, with the summary JSON
  allowance_entitlements: One row per (driver, year, month, allowance_type)
  daily_restraint:        One row per driver-date
  continuation_states:    Carry-over between months
  aggregation_runs:       Batch reports

PERIOD ISOLATION:
  SaveSummary only touches rows of its own driver-month. Rewriting
  2025-12 never changes a 2025-11 row.

TIMESTAMPS:
  Stored as RFC3339 with their original offset, so the local date of an
  event survives the round trip. The *_date columns hold that local date
  and are what range queries filter on.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

USAGE:
  store, err := sqlite.New("./data/attendance.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - engine/source.go: Interface definitions
  - store/memory: In-memory implementation for tests
  - store/postgres: Read-only source over the legacy schema
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/attendance-engine/allowance"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/calendar"
	"github.com/warp/attendance-engine/engine"
	"github.com/warp/attendance-engine/summary"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements all engine collaborators using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// An in-memory database lives and dies with its connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate brings the schema up to the latest embedded migration. The
// migrate instance is not closed, since that would close s.db too.
func (s *Store) migrate() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// dbtx is satisfied by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx executes fn within a database transaction.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// SOURCE (engine.Source interface)
// =============================================================================

// Drivers lists every known driver; ym is accepted for interface parity.
func (s *Store) Drivers(ctx context.Context, _ calendar.YearMonth) ([]engine.Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM drivers ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query drivers: %w", err)
	}
	defer rows.Close()

	var drivers []engine.Driver
	for rows.Next() {
		var d engine.Driver
		if err := rows.Scan(&d.ID, &d.Name); err != nil {
			return nil, fmt.Errorf("failed to scan driver: %w", err)
		}
		drivers = append(drivers, d)
	}
	return drivers, rows.Err()
}

// Fetch loads the raw data of one driver-month.
func (s *Store) Fetch(ctx context.Context, req engine.Request) (*engine.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch := &engine.Batch{Window: req.Window()}
	var err error
	if batch.Events, err = s.loadEvents(ctx, req.DriverID, req.EventRange()); err != nil {
		return nil, err
	}
	if batch.Operations, err = s.loadOperations(ctx, req.DriverID, batch.Window); err != nil {
		return nil, err
	}
	if batch.DayOffs, err = s.loadDayOffs(ctx, req.DriverID, req.Month.Range()); err != nil {
		return nil, err
	}
	if batch.Markers, err = s.loadMarkers(ctx, req.DriverID, req.Month.Range()); err != nil {
		return nil, err
	}
	return batch, nil
}

func (s *Store) loadEvents(ctx context.Context, driverID int64, r calendar.DateRange) ([]attendance.ShiftEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT at, kind FROM shift_events
		WHERE driver_id = ? AND event_date >= ? AND event_date <= ?
		ORDER BY at, id
	`, driverID, r.Start.String(), r.End.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query shift events: %w", err)
	}
	defer rows.Close()

	var events []attendance.ShiftEvent
	for rows.Next() {
		var at, kind string
		if err := rows.Scan(&at, &kind); err != nil {
			return nil, fmt.Errorf("failed to scan shift event: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("shift event time %q: %w", at, err)
		}
		events = append(events, attendance.ShiftEvent{DriverID: driverID, At: t, Kind: attendance.EventKind(kind)})
	}
	return events, rows.Err()
}

func (s *Store) loadOperations(ctx context.Context, driverID int64, window calendar.DateRange) ([]allowance.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT operation_no, crew_role, start_at, end_at, livestock, trailer, is_excluded
		FROM operations
		WHERE driver_id = ? AND start_date <= ? AND (end_date IS NULL OR end_date >= ?)
		ORDER BY start_at, operation_no, crew_role
	`, driverID, window.End.String(), window.Start.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	var ops []allowance.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		op.DriverID = driverID
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func scanOperation(rows *sql.Rows) (allowance.Operation, error) {
	var (
		op      allowance.Operation
		startAt string
		endAt   sql.NullString
	)
	err := rows.Scan(&op.Key.No, &op.Key.CrewRole, &startAt, &endAt, &op.Livestock, &op.Trailer, &op.Excluded)
	if err != nil {
		return op, fmt.Errorf("failed to scan operation: %w", err)
	}
	if op.Start, err = time.Parse(time.RFC3339Nano, startAt); err != nil {
		return op, fmt.Errorf("operation %s start %q: %w", op.Key, startAt, err)
	}
	if endAt.Valid {
		end, err := time.Parse(time.RFC3339Nano, endAt.String)
		if err != nil {
			return op, fmt.Errorf("operation %s end %q: %w", op.Key, endAt.String, err)
		}
		op.End = &end
	}
	return op, nil
}

func (s *Store) loadDayOffs(ctx context.Context, driverID int64, r calendar.DateRange) ([]calendar.Date, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT off_date FROM day_offs
		WHERE driver_id = ? AND off_date >= ? AND off_date <= ?
		ORDER BY off_date
	`, driverID, r.Start.String(), r.End.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query day-offs: %w", err)
	}
	defer rows.Close()

	var dates []calendar.Date
	for rows.Next() {
		d, err := scanDate(rows)
		if err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

func (s *Store) loadMarkers(ctx context.Context, driverID int64, r calendar.DateRange) ([]allowance.Marker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT marker_date, allowance_type FROM allowance_markers
		WHERE driver_id = ? AND marker_date >= ? AND marker_date <= ?
		ORDER BY marker_date, allowance_type
	`, driverID, r.Start.String(), r.End.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query markers: %w", err)
	}
	defer rows.Close()

	var markers []allowance.Marker
	for rows.Next() {
		var date, typ string
		if err := rows.Scan(&date, &typ); err != nil {
			return nil, fmt.Errorf("failed to scan marker: %w", err)
		}
		d, err := calendar.ParseDate(date)
		if err != nil {
			return nil, err
		}
		t, err := allowance.ParseType(typ)
		if err != nil {
			return nil, err
		}
		markers = append(markers, allowance.Marker{Date: d, Type: t})
	}
	return markers, rows.Err()
}

func scanDate(rows *sql.Rows) (calendar.Date, error) {
	var s string
	if err := rows.Scan(&s); err != nil {
		return calendar.Date{}, fmt.Errorf("failed to scan date: %w", err)
	}
	return calendar.ParseDate(s)
}

// =============================================================================
// SEEDING
// =============================================================================

// SaveDriver creates or renames a driver.
func (s *Store) SaveDriver(ctx context.Context, d engine.Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drivers (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, d.ID, d.Name)
	if err != nil {
		return fmt.Errorf("failed to save driver: %w", err)
	}
	return nil
}

// AddEvents appends shift events.
func (s *Store) AddEvents(ctx context.Context, events ...attendance.ShiftEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, ev := range events {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO shift_events (driver_id, at, event_date, kind) VALUES (?, ?, ?, ?)
			`, ev.DriverID, ev.At.Format(time.RFC3339Nano), calendar.DateOf(ev.At).String(), string(ev.Kind))
			if err != nil {
				return fmt.Errorf("failed to insert shift event: %w", err)
			}
		}
		return nil
	})
}

// SaveOperations inserts operations or replaces them by key.
func (s *Store) SaveOperations(ctx context.Context, ops ...allowance.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, op := range ops {
			var endAt, endDate sql.NullString
			if op.End != nil {
				endAt = nullString(op.End.Format(time.RFC3339Nano))
				endDate = nullString(calendar.DateOf(*op.End).String())
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO operations (
					operation_no, crew_role, driver_id, start_at, start_date,
					end_at, end_date, livestock, trailer, is_excluded
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(operation_no, crew_role) DO UPDATE SET
					driver_id = excluded.driver_id,
					start_at = excluded.start_at,
					start_date = excluded.start_date,
					end_at = excluded.end_at,
					end_date = excluded.end_date,
					livestock = excluded.livestock,
					trailer = excluded.trailer,
					is_excluded = excluded.is_excluded
			`, op.Key.No, op.Key.CrewRole, op.DriverID,
				op.Start.Format(time.RFC3339Nano), calendar.DateOf(op.Start).String(),
				endAt, endDate, op.Livestock, op.Trailer, op.Excluded)
			if err != nil {
				return fmt.Errorf("failed to save operation %s: %w", op.Key, err)
			}
		}
		return nil
	})
}

// AddDayOffs records dates that are never credited by operation coverage.
func (s *Store) AddDayOffs(ctx context.Context, driverID int64, dates ...calendar.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, d := range dates {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO day_offs (driver_id, off_date) VALUES (?, ?)",
				driverID, d.String(),
			); err != nil {
				return fmt.Errorf("failed to insert day-off: %w", err)
			}
		}
		return nil
	})
}

// AddMarkers records manual allowance entries.
func (s *Store) AddMarkers(ctx context.Context, driverID int64, markers ...allowance.Marker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, m := range markers {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO allowance_markers (driver_id, marker_date, allowance_type) VALUES (?, ?, ?)",
				driverID, m.Date.String(), string(m.Type),
			); err != nil {
				return fmt.Errorf("failed to insert marker: %w", err)
			}
		}
		return nil
	})
}

// Reset clears all data (for testing/demo purposes).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"drivers", "shift_events", "operations", "day_offs", "allowance_markers",
		"monthly_totals", "allowance_entitlements", "daily_restraint",
		"continuation_states", "aggregation_runs",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// SINK (engine.Sink interface)
// =============================================================================

// SaveSummary writes one driver-month in a single transaction. An unchanged
// fingerprint leaves every row as it is.
func (s *Store) SaveSummary(ctx context.Context, sum *summary.Summary) (engine.SaveOutcome, error) {
	body, err := sum.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("failed to encode summary: %w", err)
	}
	fp, err := sum.Fingerprint()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ym := sum.Month()
	var outcome engine.SaveOutcome
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var prev string
		err := tx.QueryRowContext(ctx,
			"SELECT fingerprint FROM monthly_totals WHERE driver_id = ? AND year = ? AND month = ?",
			sum.DriverID(), ym.Year, int(ym.Month),
		).Scan(&prev)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			outcome = engine.SaveInserted
		case err != nil:
			return fmt.Errorf("failed to read fingerprint: %w", err)
		case prev == fp:
			outcome = engine.SaveUnchanged
			return nil
		default:
			outcome = engine.SaveUpdated
		}

		if err := writeTotals(ctx, tx, sum, fp, body); err != nil {
			return err
		}
		if err := writeEntitlements(ctx, tx, sum); err != nil {
			return err
		}
		return writeDays(ctx, tx, sum)
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

func writeTotals(ctx context.Context, tx dbtx, sum *summary.Summary, fp string, body []byte) error {
	ym := sum.Month()
	t := sum.Totals()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO monthly_totals (
			driver_id, year, month, restraint_minutes, driving_minutes, overtime_minutes,
			worked_days, long_restraint_days, incomplete_days, final, fingerprint,
			summary_json, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(driver_id, year, month) DO UPDATE SET
			restraint_minutes = excluded.restraint_minutes,
			driving_minutes = excluded.driving_minutes,
			overtime_minutes = excluded.overtime_minutes,
			worked_days = excluded.worked_days,
			long_restraint_days = excluded.long_restraint_days,
			incomplete_days = excluded.incomplete_days,
			final = excluded.final,
			fingerprint = excluded.fingerprint,
			summary_json = excluded.summary_json,
			updated_at = excluded.updated_at
	`, sum.DriverID(), ym.Year, int(ym.Month),
		t.RestraintMinutes(), t.DrivingMinutes(), t.OvertimeMinutes(),
		t.WorkedDays, t.LongRestraintDays, t.IncompleteDays,
		sum.IsFinal(), fp, string(body), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save monthly totals: %w", err)
	}
	return nil
}

func writeEntitlements(ctx context.Context, tx dbtx, sum *summary.Summary) error {
	ym := sum.Month()
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM allowance_entitlements WHERE driver_id = ? AND year = ? AND month = ?",
		sum.DriverID(), ym.Year, int(ym.Month),
	); err != nil {
		return fmt.Errorf("failed to clear entitlements: %w", err)
	}

	for _, f := range sum.Allowances() {
		dates, err := json.Marshal(f.Dates)
		if err != nil {
			return fmt.Errorf("failed to encode dates: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO allowance_entitlements (
				driver_id, year, month, allowance_type, days, rate, amount, final, dates_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, sum.DriverID(), ym.Year, int(ym.Month), string(f.Type), f.Days,
			f.Rate.String(), f.Amount.String(), f.Final, string(dates))
		if err != nil {
			return fmt.Errorf("failed to save %s entitlement: %w", f.Type, err)
		}
	}
	return nil
}

func writeDays(ctx context.Context, tx dbtx, sum *summary.Summary) error {
	r := sum.Month().Range()
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM daily_restraint WHERE driver_id = ? AND work_date >= ? AND work_date <= ?",
		sum.DriverID(), r.Start.String(), r.End.String(),
	); err != nil {
		return fmt.Errorf("failed to clear daily restraint: %w", err)
	}

	for _, d := range sum.Days() {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO daily_restraint (driver_id, work_date, restraint_minutes, driving_minutes, flags)
			VALUES (?, ?, ?, ?, ?)
		`, d.DriverID, d.Date.String(), d.RestraintMinutes(), d.DrivingMinutes(), int(d.Flags))
		if err != nil {
			return fmt.Errorf("failed to save daily restraint %s: %w", d.Date, err)
		}
	}
	return nil
}

// =============================================================================
// READ MODEL
// =============================================================================

// PeriodInfo is the header of a stored driver-month.
type PeriodInfo struct {
	DriverID    int64
	Month       calendar.YearMonth
	Final       bool
	Fingerprint string
	UpdatedAt   time.Time
}

// SummaryJSON returns the canonical JSON stored for a driver-month, or
// engine.ErrNoSummary.
func (s *Store) SummaryJSON(ctx context.Context, driverID int64, ym calendar.YearMonth) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var body string
	err := s.db.QueryRowContext(ctx,
		"SELECT summary_json FROM monthly_totals WHERE driver_id = ? AND year = ? AND month = ?",
		driverID, ym.Year, int(ym.Month),
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: driver %d %s", engine.ErrNoSummary, driverID, ym)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load summary: %w", err)
	}
	return []byte(body), nil
}

// Days returns the stored daily records of a driver-month, oldest first.
// Shifts are not persisted.
func (s *Store) Days(ctx context.Context, driverID int64, ym calendar.YearMonth) ([]attendance.DailyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := ym.Range()
	rows, err := s.db.QueryContext(ctx, `
		SELECT work_date, restraint_minutes, driving_minutes, flags FROM daily_restraint
		WHERE driver_id = ? AND work_date >= ? AND work_date <= ?
		ORDER BY work_date
	`, driverID, r.Start.String(), r.End.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query daily restraint: %w", err)
	}
	defer rows.Close()

	var days []attendance.DailyRecord
	for rows.Next() {
		var (
			date               string
			restraint, driving int
			flags              int
		)
		if err := rows.Scan(&date, &restraint, &driving, &flags); err != nil {
			return nil, fmt.Errorf("failed to scan daily restraint: %w", err)
		}
		d, err := calendar.ParseDate(date)
		if err != nil {
			return nil, err
		}
		days = append(days, attendance.DailyRecord{
			DriverID:  driverID,
			Date:      d,
			Restraint: time.Duration(restraint) * time.Minute,
			Driving:   time.Duration(driving) * time.Minute,
			Flags:     attendance.Flags(flags),
		})
	}
	return days, rows.Err()
}

// Entitlement is one allowance_entitlements row.
type Entitlement struct {
	Type   allowance.Type
	Days   int
	Rate   string
	Amount string
	Final  bool
}

// Entitlements returns the stored allowance rows of a driver-month.
func (s *Store) Entitlements(ctx context.Context, driverID int64, ym calendar.YearMonth) ([]Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT allowance_type, days, rate, amount, final FROM allowance_entitlements
		WHERE driver_id = ? AND year = ? AND month = ?
		ORDER BY allowance_type
	`, driverID, ym.Year, int(ym.Month))
	if err != nil {
		return nil, fmt.Errorf("failed to query entitlements: %w", err)
	}
	defer rows.Close()

	var out []Entitlement
	for rows.Next() {
		var e Entitlement
		if err := rows.Scan(&e.Type, &e.Days, &e.Rate, &e.Amount, &e.Final); err != nil {
			return nil, fmt.Errorf("failed to scan entitlement: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ProvisionalPeriods lists driver-months whose summary is not final.
func (s *Store) ProvisionalPeriods(ctx context.Context) ([]PeriodInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT driver_id, year, month, final, fingerprint, updated_at FROM monthly_totals
		WHERE final = 0
		ORDER BY year, month, driver_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query provisional periods: %w", err)
	}
	defer rows.Close()

	var out []PeriodInfo
	for rows.Next() {
		var (
			p         PeriodInfo
			month     int
			updatedAt string
		)
		if err := rows.Scan(&p.DriverID, &p.Month.Year, &month, &p.Final, &p.Fingerprint, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan period: %w", err)
		}
		p.Month.Month = time.Month(month)
		p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// STATE STORE (engine.StateStore interface)
// =============================================================================

func (s *Store) GetState(ctx context.Context, driverID int64, t allowance.Type, cutoff calendar.Date) (*allowance.ContinuationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		st    = allowance.ContinuationState{DriverID: driverID, Type: t, Cutoff: cutoff}
		since sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT active, since, provisional FROM continuation_states
		WHERE driver_id = ? AND allowance_type = ? AND cutoff = ?
	`, driverID, string(t), cutoff.String()).Scan(&st.Active, &since, &st.Provisional)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load continuation state: %w", err)
	}
	if since.Valid {
		if st.Since, err = calendar.ParseDate(since.String); err != nil {
			return nil, err
		}
	}
	return &st, nil
}

func (s *Store) PutState(ctx context.Context, st allowance.ContinuationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var since sql.NullString
	if st.Active {
		since = nullString(st.Since.String())
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO continuation_states (
			driver_id, allowance_type, cutoff, active, since, provisional, version, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(driver_id, allowance_type, cutoff) DO UPDATE SET
			active = excluded.active,
			since = excluded.since,
			provisional = excluded.provisional,
			version = excluded.version,
			updated_at = excluded.updated_at
	`, st.DriverID, string(st.Type), st.Cutoff.String(), st.Active, since, st.Provisional,
		st.Version(), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save continuation state: %w", err)
	}
	return nil
}

// =============================================================================
// RUN LOG (engine.RunRecorder interface)
// =============================================================================

// RunRecord is a stored batch report.
type RunRecord struct {
	ID          string
	Month       calendar.YearMonth
	StartedAt   time.Time
	FinishedAt  time.Time
	Drivers     int
	Succeeded   int
	Failed      int
	Provisional int
	// Failures maps driver IDs to error messages.
	Failures map[int64]string
}

func (s *Store) RecordRun(ctx context.Context, report *engine.BatchReport) error {
	failures := make(map[int64]string)
	for _, res := range report.Results {
		if res.Err != nil {
			failures[res.DriverID] = res.Err.Error()
		}
	}
	failuresJSON, err := json.Marshal(failures)
	if err != nil {
		return fmt.Errorf("failed to encode failures: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO aggregation_runs (
			id, year, month, started_at, finished_at, drivers, succeeded, failed,
			provisional, failures_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, report.ID, report.Month.Year, int(report.Month.Month),
		report.StartedAt.UTC().Format(time.RFC3339Nano), report.FinishedAt.UTC().Format(time.RFC3339Nano),
		len(report.Results), report.Succeeded(), report.Failed(), report.Provisional(),
		string(failuresJSON))
	if err != nil {
		return fmt.Errorf("failed to save aggregation run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent batch runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, year, month, started_at, finished_at, drivers, succeeded, failed,
			provisional, failures_json
		FROM aggregation_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query aggregation runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			r                   RunRecord
			month               int
			startedAt, finished string
			failuresJSON        sql.NullString
		)
		err := rows.Scan(&r.ID, &r.Month.Year, &month, &startedAt, &finished,
			&r.Drivers, &r.Succeeded, &r.Failed, &r.Provisional, &failuresJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan aggregation run: %w", err)
		}
		r.Month.Month = time.Month(month)
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		if failuresJSON.Valid && failuresJSON.String != "" {
			if err := json.Unmarshal([]byte(failuresJSON.String), &r.Failures); err != nil {
				return nil, fmt.Errorf("failed to decode failures: %w", err)
			}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
