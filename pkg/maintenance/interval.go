package maintenance

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the two interval variants.
type Kind string

const (
	KindCyclic   Kind = "cyclic"   // due after Threshold operating cycles
	KindCalendar Kind = "calendar" // due Threshold months after LastService
)

// Interval is a single service obligation on a machine. It is a closed sum
// type: the only implementations are *CyclicInterval and *CalendarInterval.
type Interval interface {
	Base() *IntervalBase
	Kind() Kind
	clone() Interval
}

// IntervalBase holds the fields shared by both interval variants.
type IntervalBase struct {
	Name        string
	Threshold   int  // cycles for cyclic, months for calendar
	Enabled     bool // disabled intervals are ignored by status and forecast
	LastService Date // most recent reset
}

// Base returns the shared fields.
func (b *IntervalBase) Base() *IntervalBase { return b }

// CyclicInterval becomes due when Cycles reaches Threshold.
type CyclicInterval struct {
	IntervalBase
	Cycles int // cumulative since last reset
}

// Kind implements Interval.
func (*CyclicInterval) Kind() Kind { return KindCyclic }

func (c *CyclicInterval) clone() Interval {
	cp := *c
	return &cp
}

// CalendarInterval becomes due Threshold months after LastService.
type CalendarInterval struct {
	IntervalBase
}

// Kind implements Interval.
func (*CalendarInterval) Kind() Kind { return KindCalendar }

// NextDue returns the date the interval falls due.
func (c *CalendarInterval) NextDue() Date {
	return c.LastService.AddMonths(c.Threshold)
}

func (c *CalendarInterval) clone() Interval {
	cp := *c
	return &cp
}

// NewCyclic returns an enabled cyclic interval.
func NewCyclic(name string, threshold, cycles int, lastService Date) *CyclicInterval {
	return &CyclicInterval{
		IntervalBase: IntervalBase{Name: name, Threshold: threshold, Enabled: true, LastService: lastService},
		Cycles:       cycles,
	}
}

// NewCalendar returns an enabled calendar interval.
func NewCalendar(name string, months int, lastService Date) *CalendarInterval {
	return &CalendarInterval{
		IntervalBase: IntervalBase{Name: name, Threshold: months, Enabled: true, LastService: lastService},
	}
}

// ValidateInterval checks the invariants every interval must satisfy.
func ValidateInterval(iv Interval) error {
	if iv == nil {
		return &ValidationError{Field: "interval", Reason: "nil interval"}
	}
	b := iv.Base()
	if b.Name == "" {
		return &ValidationError{Field: "interval.name", Reason: "must not be empty"}
	}
	if b.Threshold <= 0 {
		return &ValidationError{Field: "interval.threshold", Reason: fmt.Sprintf("%q: must be positive, got %d", b.Name, b.Threshold)}
	}
	if !b.LastService.Valid() {
		return &ValidationError{Field: "interval.last_service_date", Reason: fmt.Sprintf("%q: %s is not a calendar date", b.Name, b.LastService)}
	}
	if c, ok := iv.(*CyclicInterval); ok && c.Cycles < 0 {
		return &ValidationError{Field: "interval.current_value", Reason: fmt.Sprintf("%q: must not be negative, got %d", b.Name, c.Cycles)}
	}
	return nil
}

// intervalJSON is the flat wire shape shared by both variants.
type intervalJSON struct {
	Name            string `json:"name"`
	Kind            Kind   `json:"kind"`
	Threshold       int    `json:"threshold"`
	CurrentValue    *int   `json:"current_value,omitempty"`
	LastServiceDate Date   `json:"last_service_date"`
	Enabled         *bool  `json:"enabled,omitempty"`
}

// MarshalInterval encodes an interval in its flat JSON form.
func MarshalInterval(iv Interval) ([]byte, error) {
	return json.Marshal(toIntervalJSON(iv))
}

// UnmarshalInterval decodes the flat JSON form. A missing "enabled" field
// means enabled.
func UnmarshalInterval(data []byte) (Interval, error) {
	var raw intervalJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ValidationError{Field: "interval", Reason: err.Error()}
	}
	return raw.toInterval()
}

func toIntervalJSON(iv Interval) intervalJSON {
	b := iv.Base()
	enabled := b.Enabled
	out := intervalJSON{
		Name:            b.Name,
		Kind:            iv.Kind(),
		Threshold:       b.Threshold,
		LastServiceDate: b.LastService,
		Enabled:         &enabled,
	}
	if c, ok := iv.(*CyclicInterval); ok {
		cycles := c.Cycles
		out.CurrentValue = &cycles
	}
	return out
}

func (raw intervalJSON) toInterval() (Interval, error) {
	base := IntervalBase{
		Name:        raw.Name,
		Threshold:   raw.Threshold,
		Enabled:     raw.Enabled == nil || *raw.Enabled,
		LastService: raw.LastServiceDate,
	}

	switch raw.Kind {
	case KindCyclic:
		iv := &CyclicInterval{IntervalBase: base}
		if raw.CurrentValue != nil {
			iv.Cycles = *raw.CurrentValue
		}
		return iv, nil
	case KindCalendar:
		if raw.CurrentValue != nil && *raw.CurrentValue != 0 {
			return nil, &ValidationError{Field: "interval.current_value", Reason: fmt.Sprintf("%q: calendar intervals carry no counter", raw.Name)}
		}
		return &CalendarInterval{IntervalBase: base}, nil
	default:
		return nil, &ValidationError{Field: "interval.kind", Reason: fmt.Sprintf("unknown kind %q", raw.Kind)}
	}
}
