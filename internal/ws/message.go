package ws

import (
	"strings"
	"time"

	"github.com/HerbHall/upkeep/internal/fleet"
	"github.com/HerbHall/upkeep/pkg/plugin"
)

// MessageType discriminates WebSocket messages. It is the bus topic without
// the "fleet." prefix.
type MessageType string

const (
	MessageMachineSaved   MessageType = "machine.saved"
	MessageMachineDeleted MessageType = "machine.deleted"
	MessageCyclesRecorded MessageType = "cycles.recorded"
	MessageIntervalReset  MessageType = "interval.reset"
	MessageStatusChanged  MessageType = "status.changed"
)

const fleetPrefix = "fleet."

// Message is the envelope for every WebSocket message.
type Message struct {
	Type      MessageType `json:"type"`
	MachineID string      `json:"machine_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`
}

// FromEvent converts a fleet bus event. ok is false for other topics.
func FromEvent(e plugin.Event) (msg Message, ok bool) {
	typ, ok := strings.CutPrefix(e.Topic, fleetPrefix)
	if !ok {
		return Message{}, false
	}
	machineID, _ := fleet.MachineIDOf(e.Payload)
	return Message{
		Type:      MessageType(typ),
		MachineID: machineID,
		Timestamp: e.Timestamp,
		Data:      e.Payload,
	}, true
}
