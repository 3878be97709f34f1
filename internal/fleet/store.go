package fleet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HerbHall/upkeep/pkg/maintenance"
)

// Action classifies a history entry.
type Action string

const (
	ActionMachineCreated Action = "machine_created"
	ActionMachineUpdated Action = "machine_updated"
	ActionMachineDeleted Action = "machine_deleted"
	ActionCyclesRecorded Action = "cycles_recorded"
	ActionIntervalReset  Action = "interval_reset"
	ActionStatusChanged  Action = "status_changed"
)

// HistoryEntry is one row of the audit log.
type HistoryEntry struct {
	ID         string    `json:"id"`
	MachineID  string    `json:"machine_id"`
	Action     Action    `json:"action"`
	Interval   string    `json:"interval,omitempty"`
	Delta      int       `json:"delta,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// FleetStore maps machines and history onto SQLite. A FleetStore built
// with WithTx runs every call inside that transaction.
type FleetStore struct {
	q querier
}

// NewFleetStore creates a store on db.
func NewFleetStore(db *sql.DB) *FleetStore {
	return &FleetStore{q: db}
}

// WithTx returns a store bound to tx.
func (s *FleetStore) WithTx(tx *sql.Tx) *FleetStore {
	return &FleetStore{q: tx}
}

// ListMachines returns every machine ordered by ID.
func (s *FleetStore) ListMachines(ctx context.Context) ([]maintenance.Machine, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, name, location, model, avg_daily_cycles FROM machines ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list machines: %w", err)
	}
	var machines []maintenance.Machine
	index := make(map[string]int)
	for rows.Next() {
		var m maintenance.Machine
		if err := rows.Scan(&m.ID, &m.Name, &m.Location, &m.Model, &m.AvgDailyCycles); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan machine: %w", err)
		}
		index[m.ID] = len(machines)
		machines = append(machines, m)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("list machines: %w", err)
	}

	ivRows, err := s.q.QueryContext(ctx, intervalSelect+` ORDER BY machine_id, position`)
	if err != nil {
		return nil, fmt.Errorf("list intervals: %w", err)
	}
	defer ivRows.Close()
	for ivRows.Next() {
		machineID, iv, err := scanInterval(ivRows)
		if err != nil {
			return nil, err
		}
		if i, ok := index[machineID]; ok {
			machines[i].Intervals = append(machines[i].Intervals, iv)
		}
	}
	return machines, ivRows.Err()
}

// GetMachine returns one machine or a *maintenance.NotFoundError.
func (s *FleetStore) GetMachine(ctx context.Context, id string) (maintenance.Machine, error) {
	m := maintenance.Machine{ID: id}
	err := s.q.QueryRowContext(ctx,
		`SELECT name, location, model, avg_daily_cycles FROM machines WHERE id = ?`, id,
	).Scan(&m.Name, &m.Location, &m.Model, &m.AvgDailyCycles)
	if errors.Is(err, sql.ErrNoRows) {
		return maintenance.Machine{}, &maintenance.NotFoundError{Kind: "machine", Name: id}
	}
	if err != nil {
		return maintenance.Machine{}, fmt.Errorf("get machine %s: %w", id, err)
	}

	rows, err := s.q.QueryContext(ctx, intervalSelect+` WHERE machine_id = ? ORDER BY position`, id)
	if err != nil {
		return maintenance.Machine{}, fmt.Errorf("get intervals %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		_, iv, err := scanInterval(rows)
		if err != nil {
			return maintenance.Machine{}, err
		}
		m.Intervals = append(m.Intervals, iv)
	}
	return m, rows.Err()
}

// MachineExists reports whether a machine with id is stored.
func (s *FleetStore) MachineExists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM machines WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("check machine %s: %w", id, err)
	}
	return n > 0, nil
}

// SaveMachine replaces the stored snapshot of m: the row is upserted and
// its intervals rewritten in order. Run it inside a transaction.
func (s *FleetStore) SaveMachine(ctx context.Context, m maintenance.Machine, now time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO machines (id, name, location, model, avg_daily_cycles, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			location = excluded.location,
			model = excluded.model,
			avg_daily_cycles = excluded.avg_daily_cycles,
			updated_at = excluded.updated_at`,
		m.ID, m.Name, m.Location, m.Model, m.AvgDailyCycles, now.UTC(), now.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert machine %s: %w", m.ID, err)
	}

	if _, err := s.q.ExecContext(ctx, `DELETE FROM service_intervals WHERE machine_id = ?`, m.ID); err != nil {
		return fmt.Errorf("clear intervals %s: %w", m.ID, err)
	}
	for pos, iv := range m.Intervals {
		b := iv.Base()
		cycles := 0
		if c, ok := iv.(*maintenance.CyclicInterval); ok {
			cycles = c.Cycles
		}
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO service_intervals
				(machine_id, position, name, kind, threshold, current_value, last_service_date, enabled)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, pos, b.Name, string(iv.Kind()), b.Threshold, cycles, b.LastService.String(), b.Enabled,
		)
		if err != nil {
			return fmt.Errorf("insert interval %s/%s: %w", m.ID, b.Name, err)
		}
	}
	return nil
}

// DeleteMachine removes a machine and, by cascade, its intervals.
func (s *FleetStore) DeleteMachine(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM machines WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete machine %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &maintenance.NotFoundError{Kind: "machine", Name: id}
	}
	return nil
}

// LastStatuses returns the status recorded by the previous evaluation of
// each machine.
func (s *FleetStore) LastStatuses(ctx context.Context) (map[string]maintenance.Status, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, last_status FROM machines`)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	defer rows.Close()

	out := make(map[string]maintenance.Status)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		st, err := maintenance.ParseStatus(raw)
		if err != nil {
			st = maintenance.StatusOK
		}
		out[id] = st
	}
	return out, rows.Err()
}

// SetLastStatus records the latest evaluated status of a machine.
func (s *FleetStore) SetLastStatus(ctx context.Context, id string, st maintenance.Status) error {
	if _, err := s.q.ExecContext(ctx, `UPDATE machines SET last_status = ? WHERE id = ?`, st.String(), id); err != nil {
		return fmt.Errorf("set status %s: %w", id, err)
	}
	return nil
}

// InsertHistory appends an entry to the audit log.
func (s *FleetStore) InsertHistory(ctx context.Context, e HistoryEntry) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO history (id, machine_id, action, interval_name, delta, detail, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.MachineID, string(e.Action), e.Interval, e.Delta, e.Detail, e.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// ListHistory returns the newest entries first. An empty machineID lists
// the whole fleet.
func (s *FleetStore) ListHistory(ctx context.Context, machineID string, limit int) ([]HistoryEntry, error) {
	query := `SELECT id, machine_id, action, interval_name, delta, detail, occurred_at FROM history`
	var args []any
	if machineID != "" {
		query += ` WHERE machine_id = ?`
		args = append(args, machineID)
	}
	query += ` ORDER BY occurred_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var e HistoryEntry
		var action string
		if err := rows.Scan(&e.ID, &e.MachineID, &action, &e.Interval, &e.Delta, &e.Detail, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Action = Action(action)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteOldHistory removes entries that occurred before cutoff.
func (s *FleetStore) DeleteOldHistory(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM history WHERE occurred_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete old history: %w", err)
	}
	return res.RowsAffected()
}

// CountMachines returns the number of stored machines.
func (s *FleetStore) CountMachines(ctx context.Context) (int, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM machines`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count machines: %w", err)
	}
	return n, nil
}

const intervalSelect = `SELECT machine_id, name, kind, threshold, current_value, last_service_date, enabled FROM service_intervals`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanInterval rebuilds the interval variant from its row.
func scanInterval(row rowScanner) (string, maintenance.Interval, error) {
	var (
		machineID, name, kind, last string
		threshold, cycles           int
		enabled                     bool
	)
	if err := row.Scan(&machineID, &name, &kind, &threshold, &cycles, &last, &enabled); err != nil {
		return "", nil, fmt.Errorf("scan interval: %w", err)
	}
	date, err := maintenance.ParseDate(strings.TrimSpace(last))
	if err != nil {
		return "", nil, fmt.Errorf("interval %s/%s: %w", machineID, name, err)
	}

	var iv maintenance.Interval
	switch maintenance.Kind(kind) {
	case maintenance.KindCyclic:
		c := maintenance.NewCyclic(name, threshold, cycles, date)
		c.Enabled = enabled
		iv = c
	case maintenance.KindCalendar:
		c := maintenance.NewCalendar(name, threshold, date)
		c.Enabled = enabled
		iv = c
	default:
		return "", nil, fmt.Errorf("interval %s/%s: unknown kind %q", machineID, name, kind)
	}
	return machineID, iv, nil
}

func closeRows(rows *sql.Rows) error {
	err := rows.Err()
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	return err
}
