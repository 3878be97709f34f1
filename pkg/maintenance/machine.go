// Package maintenance provides the public data model for preventive-maintenance
// tracking: machines, their service intervals, and the derived status and
// forecast types returned by the schedule engine.
package maintenance

import (
	"encoding/json"
	"fmt"
	"time"
)

// Machine is a tracked piece of equipment and its service intervals.
type Machine struct {
	ID             string
	Name           string
	Location       string
	Model          string
	AvgDailyCycles float64    // assumed usage rate, forecast only
	Intervals      []Interval // ordered; names unique within the machine
}

// Clone returns a deep copy of m. Engine mutations operate on clones so the
// caller's snapshot is never modified.
func (m Machine) Clone() Machine {
	cp := m
	if m.Intervals != nil {
		cp.Intervals = make([]Interval, len(m.Intervals))
		for i, iv := range m.Intervals {
			cp.Intervals[i] = iv.clone()
		}
	}
	return cp
}

// Interval returns the interval with the given name, enabled or not.
func (m Machine) Interval(name string) (Interval, bool) {
	for _, iv := range m.Intervals {
		if iv.Base().Name == name {
			return iv, true
		}
	}
	return nil, false
}

// Validate checks machine-level invariants and every interval.
func (m Machine) Validate() error {
	if m.ID == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if m.AvgDailyCycles < 0 {
		return &ValidationError{Field: "avg_daily_cycles", Reason: fmt.Sprintf("must not be negative, got %g", m.AvgDailyCycles)}
	}
	seen := make(map[string]struct{}, len(m.Intervals))
	for _, iv := range m.Intervals {
		if err := ValidateInterval(iv); err != nil {
			return err
		}
		name := iv.Base().Name
		if _, dup := seen[name]; dup {
			return &ValidationError{Field: "interval.name", Reason: fmt.Sprintf("duplicate interval %q", name)}
		}
		seen[name] = struct{}{}
	}
	return nil
}

type machineJSON struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Location       string            `json:"location,omitempty"`
	Model          string            `json:"model,omitempty"`
	AvgDailyCycles float64           `json:"avg_daily_cycles"`
	Intervals      []json.RawMessage `json:"service_intervals"`
}

// MarshalJSON implements json.Marshaler.
func (m Machine) MarshalJSON() ([]byte, error) {
	out := machineJSON{
		ID:             m.ID,
		Name:           m.Name,
		Location:       m.Location,
		Model:          m.Model,
		AvgDailyCycles: m.AvgDailyCycles,
		Intervals:      make([]json.RawMessage, 0, len(m.Intervals)),
	}
	for _, iv := range m.Intervals {
		b, err := MarshalInterval(iv)
		if err != nil {
			return nil, err
		}
		out.Intervals = append(out.Intervals, b)
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Machine) UnmarshalJSON(data []byte) error {
	var raw machineJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	intervals := make([]Interval, 0, len(raw.Intervals))
	for _, r := range raw.Intervals {
		iv, err := UnmarshalInterval(r)
		if err != nil {
			return err
		}
		intervals = append(intervals, iv)
	}
	*m = Machine{
		ID:             raw.ID,
		Name:           raw.Name,
		Location:       raw.Location,
		Model:          raw.Model,
		AvgDailyCycles: raw.AvgDailyCycles,
		Intervals:      intervals,
	}
	return nil
}

// Assessment is the evaluated state of one interval at an instant.
type Assessment struct {
	Interval      string  `json:"interval"`
	Kind          Kind    `json:"kind"`
	Enabled       bool    `json:"enabled"`
	Status        Status  `json:"status"`
	Progress      float64 `json:"progress"`                 // 0.0-1.0
	Remaining     int     `json:"remaining"`                // cycles (cyclic) or days (calendar)
	NextDue       *Date   `json:"next_due,omitempty"`       // calendar only
	DaysRemaining *int    `json:"days_remaining,omitempty"` // calendar only

	// Cyclic only, and only when the machine has a usage rate: whole days
	// until the threshold at AvgDailyCycles and the resulting date.
	DaysToService *int  `json:"days_to_service,omitempty"`
	EstimatedDue  *Date `json:"estimated_due,omitempty"`
}

// MachineReport is a machine's worst status plus per-interval detail.
type MachineReport struct {
	MachineID   string       `json:"machine_id"`
	Name        string       `json:"name"`
	Status      Status       `json:"status"`
	Critical    []string     `json:"critical"` // names of intervals at StatusCritical
	Assessments []Assessment `json:"assessments"`
}

// DayStatus is the aggregate state of one forecast day.
type DayStatus string

const (
	DayNormal          DayStatus = "normal"
	DayServiceRequired DayStatus = "service_required" // a cyclic threshold is crossed
	DayPeriodicDue     DayStatus = "periodic_due"     // a calendar interval falls due
)

// ForecastEvent names an interval that fires on a forecast day.
type ForecastEvent struct {
	Interval string `json:"interval"`
	Kind     Kind   `json:"kind"`
}

// DayPrediction is one simulated day.
type DayPrediction struct {
	Date            Date            `json:"date"`
	Status          DayStatus       `json:"status"`
	PredictedCycles float64         `json:"predicted_cycles"` // cycles added since now
	Events          []ForecastEvent `json:"events"`
}

// FleetSummary counts machines by worst status.
type FleetSummary struct {
	Critical int `json:"critical"`
	Warning  int `json:"warning"`
	OK       int `json:"ok"`
}

// Total returns the number of machines counted.
func (s FleetSummary) Total() int {
	return s.Critical + s.Warning + s.OK
}

// CycleEvent records an accumulate operation for the history log.
type CycleEvent struct {
	ID        string    `json:"id"`
	MachineID string    `json:"machine_id"`
	Delta     int       `json:"delta"`
	At        time.Time `json:"at"`
}
