package schedule

import (
	"fmt"

	"github.com/HerbHall/upkeep/pkg/maintenance"
)

// Forecast simulates m over the next horizonDays days, one DayPrediction per
// day offset in [1, horizonDays]. Usage is projected linearly at
// m.AvgDailyCycles; a zero rate never produces cyclic events. Calendar events
// fire only on the exact due date, which a one-day step cannot skip.
//
// A day where both kinds fire reports DayPeriodicDue; Events lists both.
func (e *Evaluator) Forecast(m maintenance.Machine, now maintenance.Date, horizonDays int) ([]maintenance.DayPrediction, error) {
	if horizonDays <= 0 {
		return []maintenance.DayPrediction{}, nil
	}
	if horizonDays > e.policy.MaxHorizonDays {
		return nil, &maintenance.ValidationError{
			Field:  "horizon_days",
			Reason: fmt.Sprintf("%d exceeds maximum of %d", horizonDays, e.policy.MaxHorizonDays),
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	// Calendar due dates do not move during the simulation.
	dues := make(map[int]maintenance.Date, len(m.Intervals))
	for i, iv := range m.Intervals {
		if c, ok := iv.(*maintenance.CalendarInterval); ok && c.Enabled {
			dues[i] = c.NextDue()
		}
	}

	days := make([]maintenance.DayPrediction, 0, horizonDays)
	for offset := 1; offset <= horizonDays; offset++ {
		day := maintenance.DayPrediction{
			Date:            now.AddDays(offset),
			Status:          maintenance.DayNormal,
			PredictedCycles: m.AvgDailyCycles * float64(offset),
			Events:          []maintenance.ForecastEvent{},
		}

		cyclicDue, calendarDue := false, false
		for i, iv := range m.Intervals {
			if !iv.Base().Enabled {
				continue
			}
			switch v := iv.(type) {
			case *maintenance.CyclicInterval:
				if m.AvgDailyCycles > 0 && float64(v.Cycles)+day.PredictedCycles >= float64(v.Threshold) {
					day.Events = append(day.Events, maintenance.ForecastEvent{Interval: v.Name, Kind: maintenance.KindCyclic})
					cyclicDue = true
				}
			case *maintenance.CalendarInterval:
				if day.Date == dues[i] {
					day.Events = append(day.Events, maintenance.ForecastEvent{Interval: v.Name, Kind: maintenance.KindCalendar})
					calendarDue = true
				}
			}
		}

		switch {
		case calendarDue:
			day.Status = maintenance.DayPeriodicDue
		case cyclicDue:
			day.Status = maintenance.DayServiceRequired
		}
		days = append(days, day)
	}
	return days, nil
}
