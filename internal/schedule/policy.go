package schedule

import (
	"fmt"

	"github.com/HerbHall/upkeep/pkg/maintenance"
)

// Policy holds the warning bands and simulation limits. The bands are
// calibration, not engine invariants, so every value is configurable.
type Policy struct {
	// WarningFraction: a cyclic interval is at Warning once the cycles left
	// are at or below this fraction of its threshold.
	WarningFraction float64 `mapstructure:"warning_fraction"`
	// WarningDays: a calendar interval is at Warning once it is due within
	// this many days. Values of 28 or more put a freshly serviced 1-month
	// interval at Warning on short months; such values are accepted for
	// fleets without monthly intervals.
	WarningDays int `mapstructure:"warning_days"`
	// CriticalDays: a calendar interval is at Critical once it is due within
	// this many days. Zero means only on or after the due date.
	CriticalDays int `mapstructure:"critical_days"`

	MaxHorizonDays     int `mapstructure:"max_horizon_days"`
	DefaultHorizonDays int `mapstructure:"default_horizon_days"`
}

// DefaultPolicy returns the defaults used when no configuration is given.
func DefaultPolicy() Policy {
	return Policy{
		WarningFraction:    0.20,
		WarningDays:        7,
		CriticalDays:       0,
		MaxHorizonDays:     366,
		DefaultHorizonDays: 7,
	}
}

// Validate rejects inconsistent policies.
func (p Policy) Validate() error {
	switch {
	case p.WarningFraction < 0 || p.WarningFraction >= 1:
		return &maintenance.ValidationError{Field: "warning_fraction", Reason: fmt.Sprintf("must be in [0, 1), got %g", p.WarningFraction)}
	case p.WarningDays < 0:
		return &maintenance.ValidationError{Field: "warning_days", Reason: fmt.Sprintf("must not be negative, got %d", p.WarningDays)}
	case p.CriticalDays < 0 || p.CriticalDays > p.WarningDays:
		return &maintenance.ValidationError{Field: "critical_days", Reason: fmt.Sprintf("must be in [0, warning_days], got %d", p.CriticalDays)}
	case p.MaxHorizonDays <= 0:
		return &maintenance.ValidationError{Field: "max_horizon_days", Reason: fmt.Sprintf("must be positive, got %d", p.MaxHorizonDays)}
	case p.DefaultHorizonDays <= 0 || p.DefaultHorizonDays > p.MaxHorizonDays:
		return &maintenance.ValidationError{Field: "default_horizon_days", Reason: fmt.Sprintf("must be in [1, max_horizon_days], got %d", p.DefaultHorizonDays)}
	}
	return nil
}
