package fleet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HerbHall/upkeep/internal/schedule"
	"github.com/HerbHall/upkeep/pkg/maintenance"
	"github.com/HerbHall/upkeep/pkg/plugin"
)

// ErrMachineExists is returned when creating a machine whose ID is taken.
var ErrMachineExists = errors.New("machine already exists")

// ErrIntervalExists is returned when adding an interval whose name is taken.
var ErrIntervalExists = errors.New("interval already exists")

// MachineSummary is the list view of a machine.
type MachineSummary struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Location       string             `json:"location,omitempty"`
	Model          string             `json:"model,omitempty"`
	AvgDailyCycles float64            `json:"avg_daily_cycles"`
	Intervals      int                `json:"intervals"`
	Status         maintenance.Status `json:"status"`
	Critical       []string           `json:"critical"`
}

// Alert names an interval that needs attention, for the summary banner.
type Alert struct {
	MachineID string             `json:"machine_id"`
	Machine   string             `json:"machine"`
	Interval  string             `json:"interval"`
	Status    maintenance.Status `json:"status"`
}

// Summary is the fleet overview.
type Summary struct {
	maintenance.FleetSummary
	Total  int              `json:"total"`
	AsOf   maintenance.Date `json:"as_of"`
	Alerts []Alert          `json:"alerts"`
}

// Service runs the fleet operations: each mutation loads the snapshot, applies
// the schedule engine, writes it back with a history entry in one
// transaction, then publishes events.
type Service struct {
	db     plugin.Store
	store  *FleetStore
	eval   *schedule.Evaluator
	bus    plugin.EventBus
	now    func() time.Time
	logger *zap.Logger
}

// NewService wires a service. bus may be nil; now defaults to time.Now.
func NewService(db plugin.Store, eval *schedule.Evaluator, bus plugin.EventBus, now func() time.Time, logger *zap.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		db:     db,
		store:  NewFleetStore(db.DB()),
		eval:   eval,
		bus:    bus,
		now:    now,
		logger: logger,
	}
}

// Evaluator exposes the engine the service evaluates with.
func (s *Service) Evaluator() *schedule.Evaluator {
	return s.eval
}

// Today is the calendar date at which statuses are evaluated.
func (s *Service) Today() maintenance.Date {
	return maintenance.DateOf(s.now())
}

// ListMachines returns every machine with its current status.
func (s *Service) ListMachines(ctx context.Context) ([]MachineSummary, error) {
	machines, err := s.store.ListMachines(ctx)
	if err != nil {
		return nil, err
	}
	today := s.Today()
	out := make([]MachineSummary, 0, len(machines))
	for _, m := range machines {
		st, critical, err := s.eval.MachineStatus(m, today)
		if err != nil {
			return nil, err
		}
		if critical == nil {
			critical = []string{}
		}
		out = append(out, MachineSummary{
			ID:             m.ID,
			Name:           m.Name,
			Location:       m.Location,
			Model:          m.Model,
			AvgDailyCycles: m.AvgDailyCycles,
			Intervals:      len(m.Intervals),
			Status:         st,
			Critical:       critical,
		})
	}
	return out, nil
}

// GetMachine returns one machine.
func (s *Service) GetMachine(ctx context.Context, id string) (maintenance.Machine, error) {
	return s.store.GetMachine(ctx, id)
}

// CreateMachine stores a new machine. An empty ID is replaced by a UUID.
func (s *Service) CreateMachine(ctx context.Context, m maintenance.Machine) (maintenance.Machine, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	for _, iv := range m.Intervals {
		s.defaultLastService(iv)
	}
	if err := m.Validate(); err != nil {
		return maintenance.Machine{}, err
	}

	var pending []plugin.Event
	err := s.db.Tx(ctx, func(tx *sql.Tx) error {
		fs := s.store.WithTx(tx)
		exists, err := fs.MachineExists(ctx, m.ID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrMachineExists, m.ID)
		}
		now := s.now()
		if err := fs.SaveMachine(ctx, m, now); err != nil {
			return err
		}
		if err := fs.InsertHistory(ctx, s.entry(m.ID, ActionMachineCreated, "", 0, m.Name)); err != nil {
			return err
		}
		pending, err = s.reconcile(ctx, fs, m)
		return err
	})
	if err != nil {
		return maintenance.Machine{}, err
	}

	s.publish(ctx, TopicMachineSaved, &MachineEvent{MachineID: m.ID, Name: m.Name, Created: true})
	s.publishAll(ctx, pending)
	s.logger.Info("machine created", zap.String("machine_id", m.ID), zap.Int("intervals", len(m.Intervals)))
	return m, nil
}

// UpdateMachine replaces an existing machine's snapshot.
func (s *Service) UpdateMachine(ctx context.Context, m maintenance.Machine) (maintenance.Machine, error) {
	if err := m.Validate(); err != nil {
		return maintenance.Machine{}, err
	}
	err := s.mutate(ctx, m.ID, func(maintenance.Machine) (maintenance.Machine, HistoryEntry, error) {
		return m, s.entry(m.ID, ActionMachineUpdated, "", 0, m.Name), nil
	})
	if err != nil {
		return maintenance.Machine{}, err
	}
	s.publish(ctx, TopicMachineSaved, &MachineEvent{MachineID: m.ID, Name: m.Name})
	return m, nil
}

// DeleteMachine removes a machine. Its history is kept.
func (s *Service) DeleteMachine(ctx context.Context, id string) error {
	var name string
	err := s.db.Tx(ctx, func(tx *sql.Tx) error {
		fs := s.store.WithTx(tx)
		m, err := fs.GetMachine(ctx, id)
		if err != nil {
			return err
		}
		name = m.Name
		if err := fs.DeleteMachine(ctx, id); err != nil {
			return err
		}
		return fs.InsertHistory(ctx, s.entry(id, ActionMachineDeleted, "", 0, m.Name))
	})
	if err != nil {
		return err
	}
	s.publish(ctx, TopicMachineDeleted, &MachineEvent{MachineID: id, Name: name})
	s.logger.Info("machine deleted", zap.String("machine_id", id))
	return nil
}

// AddInterval appends a service interval to a machine.
func (s *Service) AddInterval(ctx context.Context, machineID string, iv maintenance.Interval) (maintenance.Machine, error) {
	s.defaultLastService(iv)
	if err := maintenance.ValidateInterval(iv); err != nil {
		return maintenance.Machine{}, err
	}
	var saved maintenance.Machine
	err := s.mutate(ctx, machineID, func(m maintenance.Machine) (maintenance.Machine, HistoryEntry, error) {
		name := iv.Base().Name
		if _, ok := m.Interval(name); ok {
			return m, HistoryEntry{}, fmt.Errorf("%w: %s/%s", ErrIntervalExists, machineID, name)
		}
		out := m.Clone()
		out.Intervals = append(out.Intervals, iv)
		saved = out
		return out, s.entry(machineID, ActionMachineUpdated, name, 0, "interval added"), nil
	})
	if err != nil {
		return maintenance.Machine{}, err
	}
	s.publish(ctx, TopicMachineSaved, &MachineEvent{MachineID: machineID, Name: saved.Name})
	return saved, nil
}

// defaultLastService treats an interval submitted without a service date as
// serviced today.
func (s *Service) defaultLastService(iv maintenance.Interval) {
	if iv == nil {
		return
	}
	if b := iv.Base(); b.LastService.IsZero() {
		b.LastService = s.Today()
	}
}

// UpdateInterval replaces the named interval, keeping its position. The
// replacement may carry a new name.
func (s *Service) UpdateInterval(ctx context.Context, machineID, name string, iv maintenance.Interval) (maintenance.Machine, error) {
	if err := maintenance.ValidateInterval(iv); err != nil {
		return maintenance.Machine{}, err
	}
	var saved maintenance.Machine
	err := s.mutate(ctx, machineID, func(m maintenance.Machine) (maintenance.Machine, HistoryEntry, error) {
		out := m.Clone()
		idx := -1
		for i, cur := range out.Intervals {
			if cur.Base().Name == name {
				idx = i
			}
		}
		if idx < 0 {
			return m, HistoryEntry{}, &maintenance.NotFoundError{Kind: "interval", Name: name}
		}
		if renamed := iv.Base().Name; renamed != name {
			if _, ok := out.Interval(renamed); ok {
				return m, HistoryEntry{}, fmt.Errorf("%w: %s/%s", ErrIntervalExists, machineID, renamed)
			}
		}
		out.Intervals[idx] = iv
		if err := out.Validate(); err != nil {
			return m, HistoryEntry{}, err
		}
		saved = out
		return out, s.entry(machineID, ActionMachineUpdated, name, 0, "interval updated"), nil
	})
	if err != nil {
		return maintenance.Machine{}, err
	}
	s.publish(ctx, TopicMachineSaved, &MachineEvent{MachineID: machineID, Name: saved.Name})
	return saved, nil
}

// RemoveInterval deletes the named interval from a machine.
func (s *Service) RemoveInterval(ctx context.Context, machineID, name string) (maintenance.Machine, error) {
	var saved maintenance.Machine
	err := s.mutate(ctx, machineID, func(m maintenance.Machine) (maintenance.Machine, HistoryEntry, error) {
		out := m.Clone()
		kept := out.Intervals[:0]
		for _, iv := range out.Intervals {
			if iv.Base().Name != name {
				kept = append(kept, iv)
			}
		}
		if len(kept) == len(m.Intervals) {
			return m, HistoryEntry{}, &maintenance.NotFoundError{Kind: "interval", Name: name}
		}
		out.Intervals = kept
		saved = out
		return out, s.entry(machineID, ActionMachineUpdated, name, 0, "interval removed"), nil
	})
	if err != nil {
		return maintenance.Machine{}, err
	}
	s.publish(ctx, TopicMachineSaved, &MachineEvent{MachineID: machineID, Name: saved.Name})
	return saved, nil
}

// Report evaluates a machine at today's date.
func (s *Service) Report(ctx context.Context, id string) (maintenance.MachineReport, error) {
	m, err := s.store.GetMachine(ctx, id)
	if err != nil {
		return maintenance.MachineReport{}, err
	}
	return s.eval.Report(m, s.Today())
}

// Forecast simulates a machine's next days from today.
func (s *Service) Forecast(ctx context.Context, id string, days int) ([]maintenance.DayPrediction, error) {
	m, err := s.store.GetMachine(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.eval.Forecast(m, s.Today(), days)
}

// RecordCycles adds cycles to every enabled cyclic interval of a machine.
func (s *Service) RecordCycles(ctx context.Context, id string, cycles int) (maintenance.CycleEvent, maintenance.MachineReport, error) {
	var ev maintenance.CycleEvent
	var updated maintenance.Machine
	err := s.mutate(ctx, id, func(m maintenance.Machine) (maintenance.Machine, HistoryEntry, error) {
		out, e, err := schedule.AccumulateCycles(m, cycles, s.now())
		if err != nil {
			return m, HistoryEntry{}, err
		}
		ev, updated = e, out
		entry := HistoryEntry{
			ID:         e.ID,
			MachineID:  id,
			Action:     ActionCyclesRecorded,
			Delta:      cycles,
			OccurredAt: e.At,
		}
		return out, entry, nil
	})
	if err != nil {
		return maintenance.CycleEvent{}, maintenance.MachineReport{}, err
	}

	report, err := s.eval.Report(updated, s.Today())
	if err != nil {
		return ev, maintenance.MachineReport{}, err
	}
	cyclesRecorded.Add(float64(cycles))
	s.publish(ctx, TopicCyclesRecorded, &CyclesRecordedEvent{CycleEvent: ev, Status: report.Status})
	s.logger.Debug("cycles recorded",
		zap.String("machine_id", id),
		zap.Int("cycles", cycles),
		zap.Stringer("status", report.Status),
	)
	return ev, report, nil
}

// ResetInterval confirms a service of the named interval today.
func (s *Service) ResetInterval(ctx context.Context, id, name string) (maintenance.MachineReport, error) {
	today := s.Today()
	var updated maintenance.Machine
	err := s.mutate(ctx, id, func(m maintenance.Machine) (maintenance.Machine, HistoryEntry, error) {
		out, err := schedule.ResetInterval(m, name, today)
		if err != nil {
			return m, HistoryEntry{}, err
		}
		updated = out
		return out, s.entry(id, ActionIntervalReset, name, 0, "serviced on "+today.String()), nil
	})
	if err != nil {
		return maintenance.MachineReport{}, err
	}

	report, err := s.eval.Report(updated, today)
	if err != nil {
		return maintenance.MachineReport{}, err
	}
	s.publish(ctx, TopicIntervalReset, &IntervalResetEvent{MachineID: id, Interval: name, Date: today})
	s.logger.Info("interval reset",
		zap.String("machine_id", id),
		zap.String("interval", name),
	)
	return report, nil
}

// Summary counts the fleet by status and lists intervals needing attention.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	machines, err := s.store.ListMachines(ctx)
	if err != nil {
		return Summary{}, err
	}
	today := s.Today()
	counts, err := s.eval.FleetSummary(machines, today)
	if err != nil {
		return Summary{}, err
	}

	alerts := []Alert{}
	for _, m := range machines {
		rep, err := s.eval.Report(m, today)
		if err != nil {
			return Summary{}, err
		}
		for _, a := range rep.Assessments {
			if a.Enabled && a.Status != maintenance.StatusOK {
				alerts = append(alerts, Alert{MachineID: m.ID, Machine: m.Name, Interval: a.Interval, Status: a.Status})
			}
		}
	}
	// Critical alerts first, then machine order.
	sortAlerts(alerts)
	return Summary{FleetSummary: counts, Total: counts.Total(), AsOf: today, Alerts: alerts}, nil
}

func sortAlerts(alerts []Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Status > alerts[j].Status
	})
}

// History lists audit entries, newest first.
func (s *Service) History(ctx context.Context, machineID string, limit int) ([]HistoryEntry, error) {
	if machineID != "" {
		exists, err := s.store.MachineExists(ctx, machineID)
		if err != nil {
			return nil, err
		}
		if !exists {
			// Deleted machines keep their history.
			entries, err := s.store.ListHistory(ctx, machineID, limit)
			if err != nil {
				return nil, err
			}
			if len(entries) == 0 {
				return nil, &maintenance.NotFoundError{Kind: "machine", Name: machineID}
			}
			return entries, nil
		}
	}
	return s.store.ListHistory(ctx, machineID, limit)
}

// mutateFunc transforms a loaded machine and describes the change.
type mutateFunc func(m maintenance.Machine) (maintenance.Machine, HistoryEntry, error)

// mutate runs fn on the stored machine inside a transaction, saves the
// result with its history entry, and publishes any status change after
// commit.
func (s *Service) mutate(ctx context.Context, id string, fn mutateFunc) error {
	var pending []plugin.Event
	err := s.db.Tx(ctx, func(tx *sql.Tx) error {
		fs := s.store.WithTx(tx)
		m, err := fs.GetMachine(ctx, id)
		if err != nil {
			return err
		}
		out, entry, err := fn(m)
		if err != nil {
			return err
		}
		if err := fs.SaveMachine(ctx, out, s.now()); err != nil {
			return err
		}
		if err := fs.InsertHistory(ctx, entry); err != nil {
			return err
		}
		pending, err = s.reconcile(ctx, fs, out)
		return err
	})
	if err != nil {
		return err
	}
	s.publishAll(ctx, pending)
	return nil
}

// reconcile compares m's status with the last recorded one and, on a
// change, records it and returns the event to publish after commit.
func (s *Service) reconcile(ctx context.Context, fs *FleetStore, m maintenance.Machine) ([]plugin.Event, error) {
	last, err := fs.LastStatuses(ctx)
	if err != nil {
		return nil, err
	}
	ev, err := s.statusChange(ctx, fs, m, last[m.ID])
	if err != nil || ev == nil {
		return nil, err
	}
	return []plugin.Event{*ev}, nil
}

// statusChange evaluates m and, when its worst status differs from prev,
// stores the new status with a history entry.
func (s *Service) statusChange(ctx context.Context, fs *FleetStore, m maintenance.Machine, prev maintenance.Status) (*plugin.Event, error) {
	cur, critical, err := s.eval.MachineStatus(m, s.Today())
	if err != nil {
		return nil, err
	}
	if cur == prev {
		return nil, nil
	}
	if err := fs.SetLastStatus(ctx, m.ID, cur); err != nil {
		return nil, err
	}
	detail := prev.String() + " -> " + cur.String()
	if err := fs.InsertHistory(ctx, s.entry(m.ID, ActionStatusChanged, "", 0, detail)); err != nil {
		return nil, err
	}
	statusChanges.WithLabelValues(cur.String()).Inc()
	if critical == nil {
		critical = []string{}
	}
	return &plugin.Event{
		Topic:  TopicStatusChanged,
		Source: moduleName,
		Payload: &StatusChangedEvent{
			MachineID: m.ID,
			Name:      m.Name,
			Previous:  prev,
			Current:   cur,
			Critical:  critical,
			At:        s.now(),
		},
	}, nil
}

func (s *Service) entry(machineID string, action Action, interval string, delta int, detail string) HistoryEntry {
	return HistoryEntry{
		ID:         uuid.NewString(),
		MachineID:  machineID,
		Action:     action,
		Interval:   interval,
		Delta:      delta,
		Detail:     detail,
		OccurredAt: s.now(),
	}
}

func (s *Service) publish(ctx context.Context, topic string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.PublishAsync(ctx, plugin.Event{Topic: topic, Source: moduleName, Timestamp: s.now(), Payload: payload})
}

func (s *Service) publishAll(ctx context.Context, events []plugin.Event) {
	if s.bus == nil {
		return
	}
	for _, e := range events {
		e.Timestamp = s.now()
		s.bus.PublishAsync(ctx, e)
	}
}
