package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/HerbHall/upkeep/internal/event"
	"github.com/HerbHall/upkeep/internal/fleet"
	"github.com/HerbHall/upkeep/pkg/maintenance"
	"github.com/HerbHall/upkeep/pkg/plugin"
)

func TestFromEvent(t *testing.T) {
	at := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		event       plugin.Event
		wantOK      bool
		wantType    MessageType
		wantMachine string
	}{
		{
			name:        "cycles recorded",
			event:       plugin.Event{Topic: fleet.TopicCyclesRecorded, Timestamp: at, Payload: &fleet.CyclesRecordedEvent{CycleEvent: maintenance.CycleEvent{MachineID: "M01", Delta: 3}}},
			wantOK:      true,
			wantType:    MessageCyclesRecorded,
			wantMachine: "M01",
		},
		{
			name:        "status changed",
			event:       plugin.Event{Topic: fleet.TopicStatusChanged, Payload: &fleet.StatusChangedEvent{MachineID: "M02"}},
			wantOK:      true,
			wantType:    MessageStatusChanged,
			wantMachine: "M02",
		},
		{
			name:   "foreign topic",
			event:  plugin.Event{Topic: "notify.sent"},
			wantOK: false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg, ok := FromEvent(tc.event)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if msg.Type != tc.wantType || msg.MachineID != tc.wantMachine {
				t.Errorf("message = %+v", msg)
			}
		})
	}
}

func TestHandler_StreamsFleetEvents(t *testing.T) {
	bus := event.NewBus(zap.NewNop())
	h := NewHandler(bus, Options{MaxClients: 4}, zap.NewNop())
	defer h.Close()

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + Path
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	waitFor(t, func() bool { return h.Hub().ClientCount() == 1 })

	_ = bus.Publish(ctx, plugin.Event{Topic: "other.topic"})
	_ = bus.Publish(ctx, plugin.Event{
		Topic:   fleet.TopicIntervalReset,
		Payload: &fleet.IntervalResetEvent{MachineID: "M01", Interval: "Mould change", Date: maintenance.NewDate(2025, time.March, 10)},
	})

	var got struct {
		Type      MessageType     `json:"type"`
		MachineID string          `json:"machine_id"`
		Timestamp time.Time       `json:"timestamp"`
		Data      json.RawMessage `json:"data"`
	}
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Type != MessageIntervalReset || got.MachineID != "M01" || got.Timestamp.IsZero() {
		t.Errorf("message = %+v", got)
	}
	if !strings.Contains(string(got.Data), `"date":"2025-03-10"`) {
		t.Errorf("data = %s", got.Data)
	}

	conn.Close(websocket.StatusNormalClosure, "")
	waitFor(t, func() bool { return h.Hub().ClientCount() == 0 })
}

func TestHandler_RejectsWhenFull(t *testing.T) {
	h := NewHandler(nil, Options{MaxClients: 1}, zap.NewNop())
	if err := h.Hub().Register(newTestClient("occupant")); err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", Path, http.NoBody))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After missing")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
