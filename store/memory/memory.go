// Package memory provides an in-memory Source, Sink and StateStore (for
// testing/dev).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/attendance-engine/allowance"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/calendar"
	"github.com/warp/attendance-engine/engine"
	"github.com/warp/attendance-engine/summary"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	drivers    map[int64]engine.Driver
	events     map[int64][]attendance.ShiftEvent
	operations map[int64][]allowance.Operation
	dayOffs    map[int64][]calendar.Date
	markers    map[int64][]allowance.Marker

	summaries map[periodKey]stored
	states    map[stateKey]allowance.ContinuationState
	runs      []*engine.BatchReport
	saves     int
}

type periodKey struct {
	DriverID int64
	Month    calendar.YearMonth
}

type stateKey struct {
	DriverID int64
	Type     allowance.Type
	Cutoff   calendar.Date
}

type stored struct {
	summary     *summary.Summary
	fingerprint string
}

func New() *Memory {
	return &Memory{
		drivers:    make(map[int64]engine.Driver),
		events:     make(map[int64][]attendance.ShiftEvent),
		operations: make(map[int64][]allowance.Operation),
		dayOffs:    make(map[int64][]calendar.Date),
		markers:    make(map[int64][]allowance.Marker),
		summaries:  make(map[periodKey]stored),
		states:     make(map[stateKey]allowance.ContinuationState),
	}
}

// =============================================================================
// SEEDING
// =============================================================================

func (m *Memory) AddDriver(d engine.Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.ID] = d
}

func (m *Memory) AddEvents(events ...attendance.ShiftEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range events {
		m.events[ev.DriverID] = append(m.events[ev.DriverID], ev)
	}
}

func (m *Memory) AddOperations(ops ...allowance.Operation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range ops {
		m.operations[op.DriverID] = append(m.operations[op.DriverID], op)
	}
}

// CloseOperation sets the end of an open operation. It returns false if no
// open operation has that key.
func (m *Memory) CloseOperation(driverID int64, key allowance.OperationKey, end time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops := m.operations[driverID]
	for i := range ops {
		if ops[i].Key == key && ops[i].End == nil {
			ops[i].End = &end
			return true
		}
	}
	return false
}

func (m *Memory) AddDayOffs(driverID int64, dates ...calendar.Date) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dayOffs[driverID] = append(m.dayOffs[driverID], dates...)
}

func (m *Memory) AddMarkers(driverID int64, markers ...allowance.Marker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markers[driverID] = append(m.markers[driverID], markers...)
}

// =============================================================================
// SOURCE
// =============================================================================

func (m *Memory) Drivers(_ context.Context, _ calendar.YearMonth) ([]engine.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]engine.Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Fetch(_ context.Context, req engine.Request) (*engine.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	window := req.Window()
	events := req.EventRange()
	batch := &engine.Batch{Window: window}

	for _, ev := range m.events[req.DriverID] {
		if events.Contains(calendar.DateOf(ev.At)) {
			batch.Events = append(batch.Events, ev)
		}
	}
	for _, op := range m.operations[req.DriverID] {
		if calendar.DateOf(op.Start).After(window.End) {
			continue
		}
		if op.End != nil && calendar.DateOf(*op.End).Before(window.Start) {
			continue
		}
		batch.Operations = append(batch.Operations, op)
	}
	for _, d := range m.dayOffs[req.DriverID] {
		if req.Month.Contains(d) {
			batch.DayOffs = append(batch.DayOffs, d)
		}
	}
	for _, mk := range m.markers[req.DriverID] {
		if req.Month.Contains(mk.Date) {
			batch.Markers = append(batch.Markers, mk)
		}
	}
	return batch, nil
}

// =============================================================================
// SINK
// =============================================================================

func (m *Memory) SaveSummary(_ context.Context, s *summary.Summary) (engine.SaveOutcome, error) {
	fp, err := s.Fingerprint()
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++

	k := periodKey{DriverID: s.DriverID(), Month: s.Month()}
	prev, ok := m.summaries[k]
	switch {
	case !ok:
		m.summaries[k] = stored{summary: s, fingerprint: fp}
		return engine.SaveInserted, nil
	case prev.fingerprint == fp:
		return engine.SaveUnchanged, nil
	default:
		m.summaries[k] = stored{summary: s, fingerprint: fp}
		return engine.SaveUpdated, nil
	}
}

// Summary returns the stored summary of a driver-month.
func (m *Memory) Summary(driverID int64, ym calendar.YearMonth) (*summary.Summary, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.summaries[periodKey{DriverID: driverID, Month: ym}]
	return st.summary, ok
}

// Saves counts SaveSummary calls.
func (m *Memory) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// =============================================================================
// STATE STORE
// =============================================================================

func (m *Memory) GetState(_ context.Context, driverID int64, t allowance.Type, cutoff calendar.Date) (*allowance.ContinuationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[stateKey{DriverID: driverID, Type: t, Cutoff: cutoff}]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (m *Memory) PutState(_ context.Context, st allowance.ContinuationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[stateKey{DriverID: st.DriverID, Type: st.Type, Cutoff: st.Cutoff}] = st
	return nil
}

// =============================================================================
// RUN RECORDER
// =============================================================================

func (m *Memory) RecordRun(_ context.Context, report *engine.BatchReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, report)
	return nil
}

// Runs returns recorded batch runs, oldest first.
func (m *Memory) Runs() []*engine.BatchReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*engine.BatchReport(nil), m.runs...)
}
