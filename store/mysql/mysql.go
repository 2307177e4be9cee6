// Package mysql implements engine.Source over the legacy operations
// database, which is MySQL. It only reads.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/warp/attendance-engine/allowance"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/calendar"
	"github.com/warp/attendance-engine/engine"
	"github.com/warp/attendance-engine/store/legacy"
)

// Japanese column names of dtako_rows and ryohi_rows, backtick-quoted.
const (
	colOperationNo = "`運行NO`"
	colCrewRole    = "`対象乗務員区分`"
	colCrewCode    = "`対象乗務員CD`"
	colDeparture   = "`出庫日時`"
	colReturn      = "`帰庫日時`"
	colApply       = "`適用`"
)

const (
	maxOpenConns = 10
	maxIdleConns = 5
)

var (
	driversQuery = `
		SELECT DISTINCT d.id, d.name
		FROM drivers d
		INNER JOIN kyuyo_shain ks ON ks.driver_id = d.id
		WHERE (ks.retire_date IS NULL OR ks.retire_date > ?)
		  AND ks.hire_date < ?
		ORDER BY d.id`

	categoriesQuery = `
		SELECT dcn.name FROM driver_category dc
		JOIN driver_category_name dcn ON dc.category_c = dcn.id
		WHERE dc.driver_id = ?
		  AND (dc.end_date IS NULL OR dc.end_date > ?)`

	// Expense rows key operations by number and crew role concatenated.
	operationsQuery = fmt.Sprintf(`
		SELECT dr.%[1]s, dr.%[2]s, dr.%[4]s, dr.%[5]s, rr.id IS NOT NULL
		FROM dtako_rows dr
		LEFT JOIN ryohi_rows rr
		  ON rr.%[1]s = CONCAT(dr.%[1]s, dr.%[2]s) AND rr.%[6]s = ?
		WHERE dr.%[3]s = ?
		  AND dr.%[4]s < ?
		  AND (dr.%[5]s IS NULL OR dr.%[5]s >= ?)
		ORDER BY dr.%[4]s, dr.%[1]s`,
		colOperationNo, colCrewRole, colCrewCode, colDeparture, colReturn, colApply)

	punchesQuery = `
		SELECT datetime, state FROM time_card_dstate
		WHERE id = ? AND datetime >= ? AND datetime < ?
		  AND state IN (?, ?)
		ORDER BY datetime`

	manualPunchesQuery = `
		SELECT datetime FROM time_card_inject
		WHERE driver_id = ? AND datetime >= ? AND datetime < ?
		ORDER BY datetime`

	detailsQuery = `
		SELECT act_date, detail FROM daily_report_other_detail
		WHERE driver_id = ? AND act_date >= ? AND act_date < ?
		ORDER BY act_date`
)

// Source reads drivers, punches and operations from the legacy schema.
type Source struct {
	db *sql.DB
	// loc is the zone the legacy naive DATETIME values are written in.
	loc *time.Location
}

// New opens dsn and pings it. The DSN is the go-sql-driver form, e.g.
// user:pass@tcp(host:3306)/db.
func New(ctx context.Context, dsn string, loc *time.Location) (*Source, error) {
	cfg, err := connConfig(dsn)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connector: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if loc == nil {
		loc = time.Local
	}
	return &Source{db: db, loc: loc}, nil
}

// connConfig parses dsn and forces DATETIME columns to scan as time.Time
// in UTC, which legacy.WallClock then reinterprets in the source zone.
func connConfig(dsn string) (*mysql.Config, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg, nil
}

// Close closes the database handle.
func (s *Source) Close() {
	s.db.Close()
}

// Drivers lists employed drivers of ym.
func (s *Source) Drivers(ctx context.Context, ym calendar.YearMonth) ([]engine.Driver, error) {
	rows, err := s.db.QueryContext(ctx, driversQuery, ym.First().String(), ym.Next().First().String())
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

// Fetch loads one driver-month.
func (s *Source) Fetch(ctx context.Context, req engine.Request) (*engine.Batch, error) {
	batch := &engine.Batch{Window: req.Window()}

	livestock, trailer, err := s.categories(ctx, req.DriverID, req.Month)
	if err != nil {
		return nil, err
	}
	if batch.Operations, err = s.operations(ctx, req.DriverID, batch.Window, livestock, trailer); err != nil {
		return nil, err
	}
	if batch.Events, err = s.events(ctx, req.DriverID, req.EventRange()); err != nil {
		return nil, err
	}
	if batch.DayOffs, batch.Markers, err = s.details(ctx, req.DriverID, req.Month); err != nil {
		return nil, err
	}
	return batch, nil
}

func (s *Source) categories(ctx context.Context, driverID int64, ym calendar.YearMonth) (livestock, trailer bool, err error) {
	rows, err := s.db.QueryContext(ctx, categoriesQuery, driverID, ym.First().String())
	if err != nil {
		return false, false, fmt.Errorf("failed to query driver category: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, false, fmt.Errorf("failed to scan driver category: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return false, false, err
	}
	livestock, trailer = legacy.Eligibility(names)
	return livestock, trailer, nil
}

func (s *Source) operations(ctx context.Context, driverID int64, window calendar.DateRange, livestock, trailer bool) ([]allowance.Operation, error) {
	rows, err := s.db.QueryContext(ctx, operationsQuery,
		legacy.ApplyExcluded, driverID, window.End.AddDays(1).String(), window.Start.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	var ops []allowance.Operation
	for rows.Next() {
		var (
			op    = allowance.Operation{DriverID: driverID, Livestock: livestock, Trailer: trailer}
			start time.Time
			end   sql.NullTime
		)
		if err := rows.Scan(&op.Key.No, &op.Key.CrewRole, &start, &end, &op.Excluded); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		op.Start = legacy.WallClock(start, s.loc)
		if end.Valid {
			e := legacy.WallClock(end.Time, s.loc)
			op.End = &e
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (s *Source) events(ctx context.Context, driverID int64, r calendar.DateRange) ([]attendance.ShiftEvent, error) {
	from, to := r.Start.String(), r.End.AddDays(1).String()

	events, err := s.punches(ctx, driverID, from, to)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, manualPunchesQuery, driverID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query manual punches: %w", err)
	}
	defer rows.Close()

	var manual []time.Time
	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return nil, fmt.Errorf("failed to scan manual punch: %w", err)
		}
		manual = append(manual, legacy.WallClock(at, s.loc))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return append(events, legacy.Alternate(driverID, manual)...), nil
}

func (s *Source) punches(ctx context.Context, driverID int64, from, to string) ([]attendance.ShiftEvent, error) {
	rows, err := s.db.QueryContext(ctx, punchesQuery,
		driverID, from, to, legacy.StateClockIn, legacy.StateClockOut)
	if err != nil {
		return nil, fmt.Errorf("failed to query punches: %w", err)
	}
	defer rows.Close()

	var events []attendance.ShiftEvent
	for rows.Next() {
		var (
			at    time.Time
			state int
		)
		if err := rows.Scan(&at, &state); err != nil {
			return nil, fmt.Errorf("failed to scan punch: %w", err)
		}
		events = append(events, attendance.ShiftEvent{DriverID: driverID, At: legacy.WallClock(at, s.loc), Kind: legacy.Kind(state)})
	}
	return events, rows.Err()
}

// details reads the daily-report entries of ym: day-offs and manual
// allowance markers.
func (s *Source) details(ctx context.Context, driverID int64, ym calendar.YearMonth) ([]calendar.Date, []allowance.Marker, error) {
	rows, err := s.db.QueryContext(ctx, detailsQuery, driverID, ym.First().String(), ym.Next().First().String())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query daily report details: %w", err)
	}
	defer rows.Close()

	var details legacy.Details
	for rows.Next() {
		var (
			actDate time.Time
			detail  string
		)
		if err := rows.Scan(&actDate, &detail); err != nil {
			return nil, nil, fmt.Errorf("failed to scan daily report detail: %w", err)
		}
		details.Add(calendar.DateOf(actDate), detail)
	}
	return details.DayOffs, details.Markers, rows.Err()
}
