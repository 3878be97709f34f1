// Package schedule is the interval status and forecast engine. Every function
// is a pure computation over a machine snapshot and an explicit evaluation
// date; nothing here performs I/O or keeps state between calls.
package schedule

import (
	"fmt"

	"github.com/HerbHall/upkeep/pkg/maintenance"
)

// Evaluator classifies intervals under a fixed Policy. It is safe for
// concurrent use.
type Evaluator struct {
	policy Policy
}

// New returns an Evaluator for p.
func New(p Policy) (*Evaluator, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("schedule policy: %w", err)
	}
	return &Evaluator{policy: p}, nil
}

// Policy returns the evaluator's policy.
func (e *Evaluator) Policy() Policy {
	return e.policy
}

// Evaluate returns the status and progress of iv on date now. Disabled
// intervals are always (StatusOK, 0).
func (e *Evaluator) Evaluate(iv maintenance.Interval, now maintenance.Date) (maintenance.Status, float64, error) {
	a, err := e.Assess(iv, now)
	if err != nil {
		return maintenance.StatusOK, 0, err
	}
	return a.Status, a.Progress, nil
}

// Assess is Evaluate with the intermediate values (remaining cycles or days,
// next due date) kept for display.
func (e *Evaluator) Assess(iv maintenance.Interval, now maintenance.Date) (maintenance.Assessment, error) {
	if err := maintenance.ValidateInterval(iv); err != nil {
		return maintenance.Assessment{}, err
	}
	b := iv.Base()
	a := maintenance.Assessment{
		Interval: b.Name,
		Kind:     iv.Kind(),
		Enabled:  b.Enabled,
		Status:   maintenance.StatusOK,
	}
	if !b.Enabled {
		return a, nil
	}

	switch v := iv.(type) {
	case *maintenance.CyclicInterval:
		e.assessCyclic(v, &a)
	case *maintenance.CalendarInterval:
		e.assessCalendar(v, now, &a)
	}
	return a, nil
}

func (e *Evaluator) assessCyclic(iv *maintenance.CyclicInterval, a *maintenance.Assessment) {
	remaining := iv.Threshold - iv.Cycles
	a.Remaining = remaining

	switch {
	case remaining <= 0:
		a.Status = maintenance.StatusCritical
	case float64(remaining) <= float64(iv.Threshold)*e.policy.WarningFraction:
		a.Status = maintenance.StatusWarning
	}
	a.Progress = ratio(iv.Cycles, iv.Threshold)
}

func (e *Evaluator) assessCalendar(iv *maintenance.CalendarInterval, now maintenance.Date, a *maintenance.Assessment) {
	due := iv.NextDue()
	daysLeft := maintenance.DaysBetween(now, due)
	a.Remaining = daysLeft
	a.NextDue = &due
	a.DaysRemaining = &daysLeft

	switch {
	case daysLeft <= e.policy.CriticalDays:
		a.Status = maintenance.StatusCritical
	case daysLeft <= e.policy.WarningDays:
		a.Status = maintenance.StatusWarning
	}

	// total > 0: due is at least one month after LastService.
	total := maintenance.DaysBetween(iv.LastService, due)
	elapsed := maintenance.DaysBetween(iv.LastService, now)
	if elapsed < 0 {
		elapsed = 0
	}
	a.Progress = ratio(elapsed, total)
}

// ratio returns num/den capped at 1.0.
func ratio(num, den int) float64 {
	p := float64(num) / float64(den)
	if p > 1 {
		return 1
	}
	if p < 0 {
		return 0
	}
	return p
}
