package schedule

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/HerbHall/upkeep/pkg/maintenance"
)

// AccumulateCycles adds cycles to every enabled cyclic interval of m and
// returns the updated copy plus an event describing the change. Adding zero
// is a no-op on the counters but still yields an event. last_service dates
// are never touched.
func AccumulateCycles(m maintenance.Machine, cycles int, at time.Time) (maintenance.Machine, maintenance.CycleEvent, error) {
	if cycles < 0 {
		return m, maintenance.CycleEvent{}, &maintenance.ValidationError{
			Field:  "cycles",
			Reason: fmt.Sprintf("must not be negative, got %d", cycles),
		}
	}

	out := m.Clone()
	for _, iv := range out.Intervals {
		if c, ok := iv.(*maintenance.CyclicInterval); ok && c.Enabled {
			c.Cycles += cycles
		}
	}

	ev := maintenance.CycleEvent{
		ID:        uuid.NewString(),
		MachineID: m.ID,
		Delta:     cycles,
		At:        at,
	}
	return out, ev, nil
}

// ResetInterval records a service of the named enabled interval on today:
// the cycle counter (if any) returns to zero and LastService becomes today,
// which also restarts a calendar interval's clock. Returns a
// *maintenance.NotFoundError when no enabled interval has that name.
func ResetInterval(m maintenance.Machine, name string, today maintenance.Date) (maintenance.Machine, error) {
	out := m.Clone()
	for _, iv := range out.Intervals {
		b := iv.Base()
		if b.Name != name || !b.Enabled {
			continue
		}
		if c, ok := iv.(*maintenance.CyclicInterval); ok {
			c.Cycles = 0
		}
		b.LastService = today
		return out, nil
	}
	return m, &maintenance.NotFoundError{Kind: "interval", Name: name}
}
