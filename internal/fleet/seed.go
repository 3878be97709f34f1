package fleet

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/HerbHall/upkeep/pkg/maintenance"
)

// DemoMachines returns the demo fleet: one machine near its cycle limit, one
// with a calendar interval coming due and one overdue on both counts,
// depending on the current date.
func DemoMachines() []maintenance.Machine {
	d := func(s string) maintenance.Date {
		date, err := maintenance.ParseDate(s)
		if err != nil {
			panic(err)
		}
		return date
	}

	return []maintenance.Machine{
		{
			ID:             "M01",
			Name:           "Injection moulder A1",
			Location:       "Hall 1",
			Model:          "IM-250",
			AvgDailyCycles: 2,
			Intervals: []maintenance.Interval{
				maintenance.NewCyclic("Mould change", 20, 18, d("2023-10-01")),
				maintenance.NewCalendar("Hydraulic oil", 6, d("2023-06-01")),
			},
		},
		{
			ID:             "M02",
			Name:           "Hydraulic press",
			Location:       "Hall 2",
			Model:          "HP-80",
			AvgDailyCycles: 5,
			Intervals: []maintenance.Interval{
				maintenance.NewCyclic("Seal inspection", 50, 5, d("2023-10-15")),
				maintenance.NewCalendar("Safety check", 3, d("2023-11-01")),
			},
		},
		{
			ID:             "M03",
			Name:           "Packaging machine Z",
			Location:       "Shipping",
			Model:          "PZ-3",
			AvgDailyCycles: 10,
			Intervals: []maintenance.Interval{
				maintenance.NewCyclic("Blade replacement", 200, 195, d("2023-09-20")),
				maintenance.NewCalendar("Annual service", 12, d("2023-01-01")),
			},
		},
	}
}

// SeedDemo inserts the demo fleet when no machines exist. It returns the
// number of machines created.
func SeedDemo(ctx context.Context, db interface {
	Tx(ctx context.Context, fn func(tx *sql.Tx) error) error
}, store *FleetStore, now time.Time) (int, error) {
	var created int
	err := db.Tx(ctx, func(tx *sql.Tx) error {
		fs := store.WithTx(tx)
		n, err := fs.CountMachines(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		for _, m := range DemoMachines() {
			if err := fs.SaveMachine(ctx, m, now); err != nil {
				return fmt.Errorf("seed %s: %w", m.ID, err)
			}
			err := fs.InsertHistory(ctx, HistoryEntry{
				ID:         uuid.NewString(),
				MachineID:  m.ID,
				Action:     ActionMachineCreated,
				Detail:     "demo data",
				OccurredAt: now,
			})
			if err != nil {
				return err
			}
			created++
		}
		return nil
	})
	return created, err
}
