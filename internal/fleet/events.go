package fleet

import (
	"time"

	"github.com/HerbHall/upkeep/pkg/maintenance"
)

// Event topics published by the fleet module.
const (
	TopicMachineSaved   = "fleet.machine.saved"
	TopicMachineDeleted = "fleet.machine.deleted"
	TopicCyclesRecorded = "fleet.cycles.recorded"
	TopicIntervalReset  = "fleet.interval.reset"
	TopicStatusChanged  = "fleet.status.changed"
)

// MachineEvent is the payload for TopicMachineSaved and TopicMachineDeleted.
type MachineEvent struct {
	MachineID string `json:"machine_id"`
	Name      string `json:"name"`
	Created   bool   `json:"created,omitempty"`
}

// CyclesRecordedEvent is the payload for TopicCyclesRecorded.
type CyclesRecordedEvent struct {
	maintenance.CycleEvent
	Status maintenance.Status `json:"status"`
}

// IntervalResetEvent is the payload for TopicIntervalReset.
type IntervalResetEvent struct {
	MachineID string           `json:"machine_id"`
	Interval  string           `json:"interval"`
	Date      maintenance.Date `json:"date"`
}

// StatusChangedEvent is the payload for TopicStatusChanged.
type StatusChangedEvent struct {
	MachineID string             `json:"machine_id"`
	Name      string             `json:"name"`
	Previous  maintenance.Status `json:"previous"`
	Current   maintenance.Status `json:"current"`
	Critical  []string           `json:"critical"`
	At        time.Time          `json:"at"`
}

// MachineIDOf extracts the machine ID from any fleet event payload.
func MachineIDOf(payload any) (string, bool) {
	switch p := payload.(type) {
	case *MachineEvent:
		return p.MachineID, true
	case *CyclesRecordedEvent:
		return p.MachineID, true
	case *IntervalResetEvent:
		return p.MachineID, true
	case *StatusChangedEvent:
		return p.MachineID, true
	}
	return "", false
}
