package schedule

import (
	"fmt"

	"github.com/HerbHall/upkeep/pkg/maintenance"
)

// MachineStatus returns the worst status across m's enabled intervals and
// the names of the intervals individually at StatusCritical, in interval
// order. A machine with no enabled intervals is StatusOK.
func (e *Evaluator) MachineStatus(m maintenance.Machine, now maintenance.Date) (maintenance.Status, []string, error) {
	worst := maintenance.StatusOK
	var critical []string
	for _, iv := range m.Intervals {
		if !iv.Base().Enabled {
			continue
		}
		st, _, err := e.Evaluate(iv, now)
		if err != nil {
			return maintenance.StatusOK, nil, fmt.Errorf("machine %s: %w", m.ID, err)
		}
		worst = maintenance.Worst(worst, st)
		if st == maintenance.StatusCritical {
			critical = append(critical, iv.Base().Name)
		}
	}
	return worst, critical, nil
}

// Report returns MachineStatus plus an assessment of every interval,
// disabled ones included.
func (e *Evaluator) Report(m maintenance.Machine, now maintenance.Date) (maintenance.MachineReport, error) {
	report := maintenance.MachineReport{
		MachineID:   m.ID,
		Name:        m.Name,
		Status:      maintenance.StatusOK,
		Critical:    []string{},
		Assessments: make([]maintenance.Assessment, 0, len(m.Intervals)),
	}
	for _, iv := range m.Intervals {
		a, err := e.Assess(iv, now)
		if err != nil {
			return maintenance.MachineReport{}, fmt.Errorf("machine %s: %w", m.ID, err)
		}
		if a.Enabled && a.Kind == maintenance.KindCyclic {
			estimateService(&a, m.AvgDailyCycles, now)
		}
		report.Assessments = append(report.Assessments, a)
		if !a.Enabled {
			continue
		}
		report.Status = maintenance.Worst(report.Status, a.Status)
		if a.Status == maintenance.StatusCritical {
			report.Critical = append(report.Critical, a.Interval)
		}
	}
	return report, nil
}

// estimateService projects a cyclic assessment's remaining cycles onto the
// calendar at rate cycles per day. The day count truncates toward zero and
// goes negative once the threshold is passed. A zero rate leaves no estimate.
func estimateService(a *maintenance.Assessment, rate float64, now maintenance.Date) {
	if rate <= 0 {
		return
	}
	days := int(float64(a.Remaining) / rate)
	due := now.AddDays(days)
	a.DaysToService = &days
	a.EstimatedDue = &due
}

// FleetSummary counts machines by their worst status.
func (e *Evaluator) FleetSummary(machines []maintenance.Machine, now maintenance.Date) (maintenance.FleetSummary, error) {
	var s maintenance.FleetSummary
	for i := range machines {
		st, _, err := e.MachineStatus(machines[i], now)
		if err != nil {
			return maintenance.FleetSummary{}, err
		}
		switch st {
		case maintenance.StatusCritical:
			s.Critical++
		case maintenance.StatusWarning:
			s.Warning++
		default:
			s.OK++
		}
	}
	return s, nil
}
