package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HerbHall/upkeep/pkg/maintenance"
)

func date(y int, m time.Month, d int) maintenance.Date {
	return maintenance.NewDate(y, m, d)
}

func newEvaluator(t *testing.T, mutate ...func(*Policy)) *Evaluator {
	t.Helper()
	p := DefaultPolicy()
	for _, fn := range mutate {
		fn(&p)
	}
	e, err := New(p)
	require.NoError(t, err)
	return e
}

func TestNew_RejectsInvalidPolicy(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"fraction negative", func(p *Policy) { p.WarningFraction = -0.1 }},
		{"fraction one", func(p *Policy) { p.WarningFraction = 1 }},
		{"warning days negative", func(p *Policy) { p.WarningDays = -1 }},
		{"critical above warning", func(p *Policy) { p.CriticalDays = p.WarningDays + 1 }},
		{"zero max horizon", func(p *Policy) { p.MaxHorizonDays = 0 }},
		{"default horizon above max", func(p *Policy) { p.DefaultHorizonDays = p.MaxHorizonDays + 1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := DefaultPolicy()
			tc.mutate(&p)
			_, err := New(p)
			require.Error(t, err)
			assert.ErrorIs(t, err, maintenance.ErrInvalid)
		})
	}
}

func TestEvaluate_Cyclic(t *testing.T) {
	e := newEvaluator(t)
	today := date(2025, time.March, 10)

	tests := []struct {
		name         string
		threshold    int
		cycles       int
		wantStatus   maintenance.Status
		wantProgress float64
	}{
		{"fresh", 20, 0, maintenance.StatusOK, 0},
		{"below band", 20, 15, maintenance.StatusOK, 0.75},
		{"band edge", 20, 16, maintenance.StatusWarning, 0.8},
		{"inside band", 20, 18, maintenance.StatusWarning, 0.9},
		{"at threshold", 20, 20, maintenance.StatusCritical, 1},
		{"overdue caps progress", 20, 35, maintenance.StatusCritical, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			iv := maintenance.NewCyclic("oil", tc.threshold, tc.cycles, today)
			st, progress, err := e.Evaluate(iv, today)
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, st)
			assert.InDelta(t, tc.wantProgress, progress, 1e-9)
		})
	}
}

func TestEvaluate_CyclicProgressMonotonic(t *testing.T) {
	e := newEvaluator(t)
	today := date(2025, time.January, 1)

	prev := -1.0
	for cycles := 0; cycles <= 60; cycles++ {
		_, progress, err := e.Evaluate(maintenance.NewCyclic("x", 40, cycles, today), today)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, progress, prev, "cycles=%d", cycles)
		assert.LessOrEqual(t, progress, 1.0)
		if cycles >= 40 {
			assert.Equal(t, 1.0, progress)
		}
		prev = progress
	}
}

func TestEvaluate_Calendar(t *testing.T) {
	last := date(2024, time.December, 1) // due 2025-03-01 for 3 months

	tests := []struct {
		name       string
		now        maintenance.Date
		mutate     func(*Policy)
		wantStatus maintenance.Status
		wantDays   int
	}{
		{"well ahead", date(2025, time.January, 15), nil, maintenance.StatusOK, 45},
		{"inside warning band", date(2025, time.February, 25), nil, maintenance.StatusWarning, 4},
		{"lead days count as critical", date(2025, time.February, 25), func(p *Policy) { p.CriticalDays = 7; p.WarningDays = 30 }, maintenance.StatusCritical, 4},
		{"narrow warning band", date(2025, time.February, 25), func(p *Policy) { p.WarningDays = 3 }, maintenance.StatusOK, 4},
		{"due today", date(2025, time.March, 1), nil, maintenance.StatusCritical, 0},
		{"overdue", date(2025, time.March, 20), nil, maintenance.StatusCritical, -19},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var mutators []func(*Policy)
			if tc.mutate != nil {
				mutators = append(mutators, tc.mutate)
			}
			e := newEvaluator(t, mutators...)

			a, err := e.Assess(maintenance.NewCalendar("inspection", 3, last), tc.now)
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, a.Status)
			require.NotNil(t, a.NextDue)
			assert.Equal(t, date(2025, time.March, 1), *a.NextDue)
			require.NotNil(t, a.DaysRemaining)
			assert.Equal(t, tc.wantDays, *a.DaysRemaining)
		})
	}
}

func TestEvaluate_FreshMonthlyInterval(t *testing.T) {
	// Serviced today, due 2025-03-01: 28 days out.
	today := date(2025, time.February, 1)
	iv := maintenance.NewCalendar("filter", 1, today)

	tests := []struct {
		name        string
		warningDays int
		want        maintenance.Status
	}{
		{"default band", DefaultPolicy().WarningDays, maintenance.StatusOK},
		{"band just short", 27, maintenance.StatusOK},
		{"band reaches due date", 28, maintenance.StatusWarning},
		{"thirty day band", 30, maintenance.StatusWarning},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newEvaluator(t, func(p *Policy) { p.WarningDays = tc.warningDays })
			a, err := e.Assess(iv, today)
			require.NoError(t, err)
			assert.Equal(t, tc.want, a.Status)
		})
	}
}

func TestEvaluate_CalendarProgress(t *testing.T) {
	e := newEvaluator(t)
	last := date(2025, time.January, 1) // due 2025-02-01, 31 days

	_, p, err := e.Evaluate(maintenance.NewCalendar("m", 1, last), last)
	require.NoError(t, err)
	assert.Zero(t, p)

	_, p, err = e.Evaluate(maintenance.NewCalendar("m", 1, last), date(2025, time.January, 16))
	require.NoError(t, err)
	assert.InDelta(t, 15.0/31.0, p, 1e-9)

	_, p, err = e.Evaluate(maintenance.NewCalendar("m", 1, last), date(2025, time.June, 1))
	require.NoError(t, err)
	assert.Equal(t, 1.0, p)

	// A service date after "now" never yields negative progress.
	_, p, err = e.Evaluate(maintenance.NewCalendar("m", 1, last), date(2024, time.December, 20))
	require.NoError(t, err)
	assert.Zero(t, p)
}

func TestEvaluate_DisabledIsAlwaysOK(t *testing.T) {
	e := newEvaluator(t)
	today := date(2025, time.May, 5)

	cyc := maintenance.NewCyclic("overdue", 10, 999, today)
	cyc.Enabled = false
	cal := maintenance.NewCalendar("ancient", 1, date(2000, time.January, 1))
	cal.Enabled = false

	for _, iv := range []maintenance.Interval{cyc, cal} {
		st, p, err := e.Evaluate(iv, today)
		require.NoError(t, err)
		assert.Equal(t, maintenance.StatusOK, st)
		assert.Zero(t, p)
	}
}

func TestEvaluate_ValidationErrors(t *testing.T) {
	e := newEvaluator(t)
	today := date(2025, time.May, 5)

	tests := []struct {
		name string
		iv   maintenance.Interval
	}{
		{"zero threshold", maintenance.NewCyclic("a", 0, 0, today)},
		{"negative threshold", maintenance.NewCalendar("b", -2, today)},
		{"negative cycles", maintenance.NewCyclic("c", 10, -1, today)},
		{"invalid date", maintenance.NewCalendar("d", 3, date(2025, time.February, 30))},
		{"empty name", maintenance.NewCyclic("", 10, 0, today)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := e.Evaluate(tc.iv, today)
			var verr *maintenance.ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}

// Demo seed machine M01 at 18/20 cycles.
func TestScenario_CyclicNearThreshold(t *testing.T) {
	e := newEvaluator(t)
	today := date(2025, time.March, 10)

	m := maintenance.Machine{
		ID:             "M01",
		AvgDailyCycles: 2,
		Intervals:      []maintenance.Interval{maintenance.NewCyclic("mould service", 20, 18, today)},
	}

	st, p, err := e.Evaluate(m.Intervals[0], today)
	require.NoError(t, err)
	assert.Equal(t, maintenance.StatusWarning, st)
	assert.InDelta(t, 0.9, p, 1e-9)

	days, err := e.Forecast(m, today, 2)
	require.NoError(t, err)
	require.Len(t, days, 2)
	for i, d := range days {
		assert.Equal(t, today.AddDays(i+1), d.Date)
		assert.Equal(t, maintenance.DayServiceRequired, d.Status)
		assert.Equal(t, []maintenance.ForecastEvent{{Interval: "mould service", Kind: maintenance.KindCyclic}}, d.Events)
	}
	assert.Equal(t, 2.0, days[0].PredictedCycles)
	assert.Equal(t, 4.0, days[1].PredictedCycles)
}
