// Package postgres implements engine.Source over a PostgreSQL replica of
// the legacy operations schema. The production legacy database is MySQL
// and is read by store/mysql; this driver serves deployments that mirror
// the same tables into PostgreSQL with the Japanese column names quoted.
// It only reads.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/warp/attendance-engine/allowance"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/calendar"
	"github.com/warp/attendance-engine/engine"
	"github.com/warp/attendance-engine/store/legacy"
)

// Source reads drivers, punches and operations from the replica.
type Source struct {
	pool *pgxpool.Pool
	// loc is the zone the legacy naive timestamps are written in.
	loc *time.Location
}

// New creates a connection pool and pings it.
func New(ctx context.Context, databaseURL string, loc *time.Location) (*Source, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if loc == nil {
		loc = time.Local
	}
	return &Source{pool: pool, loc: loc}, nil
}

// Close closes the connection pool.
func (s *Source) Close() {
	s.pool.Close()
}

// Drivers lists employed drivers of ym.
func (s *Source) Drivers(ctx context.Context, ym calendar.YearMonth) ([]engine.Driver, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT d.id, d.name
		FROM drivers d
		INNER JOIN kyuyo_shain ks ON ks.driver_id = d.id
		WHERE (ks.retire_date IS NULL OR ks.retire_date > $1::date)
		  AND ks.hire_date < $2::date
		ORDER BY d.id
	`, ym.First().String(), ym.Next().First().String())
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

// categories reports which allowance types the driver's vehicle category
// makes operations eligible for.
func (s *Source) categories(ctx context.Context, driverID int64, ym calendar.YearMonth) (livestock, trailer bool, err error) {
	rows, err := s.pool.Query(ctx, `
		SELECT dcn.name FROM driver_category dc
		JOIN driver_category_name dcn ON dc.category_c = dcn.id
		WHERE dc.driver_id = $1
		  AND (dc.end_date IS NULL OR dc.end_date > $2::date)
	`, driverID, ym.First().String())
	if err != nil {
		return false, false, fmt.Errorf("failed to query driver category: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return false, false, fmt.Errorf("failed to scan driver category: %w", err)
	}
	livestock, trailer = legacy.Eligibility(names)
	return livestock, trailer, nil
}

func (s *Source) operations(ctx context.Context, driverID int64, window calendar.DateRange, livestock, trailer bool) ([]allowance.Operation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT dr."運行NO", dr."対象乗務員区分", dr."出庫日時", dr."帰庫日時", rr.id IS NOT NULL
		FROM dtako_rows dr
		LEFT JOIN ryohi_rows rr
		  ON rr."運行NO" = dr."運行NO" || dr."対象乗務員区分"::text AND rr."適用" = $4
		WHERE dr."対象乗務員CD" = $1
		  AND dr."出庫日時" < $2::date
		  AND (dr."帰庫日時" IS NULL OR dr."帰庫日時" >= $3::date)
		ORDER BY dr."出庫日時", dr."運行NO"
	`, driverID, window.End.AddDays(1).String(), window.Start.String(), legacy.ApplyExcluded)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	var ops []allowance.Operation
	for rows.Next() {
		var (
			op    = allowance.Operation{DriverID: driverID, Livestock: livestock, Trailer: trailer}
			start time.Time
			end   *time.Time
		)
		if err := rows.Scan(&op.Key.No, &op.Key.CrewRole, &start, &end, &op.Excluded); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		op.Start = legacy.WallClock(start, s.loc)
		if end != nil {
			e := legacy.WallClock(*end, s.loc)
			op.End = &e
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (s *Source) events(ctx context.Context, driverID int64, r calendar.DateRange) ([]attendance.ShiftEvent, error) {
	from, to := r.Start.String(), r.End.AddDays(1).String()

	rows, err := s.pool.Query(ctx, `
		SELECT datetime, state FROM time_card_dstate
		WHERE id = $1 AND datetime >= $2::date AND datetime < $3::date
		  AND state IN ($4, $5)
		ORDER BY datetime
	`, driverID, from, to, legacy.StateClockIn, legacy.StateClockOut)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}

	injected, err := s.pool.Query(ctx, `
		SELECT datetime FROM time_card_inject
		WHERE driver_id = $1 AND datetime >= $2::date AND datetime < $3::date
		ORDER BY datetime
	`, driverID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query manual punches: %w", err)
	}
	manual, err := pgx.CollectRows(injected, pgx.RowTo[time.Time])
	if err != nil {
		return nil, fmt.Errorf("failed to scan manual punch: %w", err)
	}
	for i := range manual {
		manual[i] = legacy.WallClock(manual[i], s.loc)
	}
	return append(events, legacy.Alternate(driverID, manual)...), nil
}

// details reads the daily-report entries of ym: day-offs and manual
// allowance markers.
func (s *Source) details(ctx context.Context, driverID int64, ym calendar.YearMonth) ([]calendar.Date, []allowance.Marker, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT act_date, detail FROM daily_report_other_detail
		WHERE driver_id = $1 AND act_date >= $2::date AND act_date < $3::date
		ORDER BY act_date
	`, driverID, ym.First().String(), ym.Next().First().String())
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
