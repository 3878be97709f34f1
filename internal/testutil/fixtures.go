// Package testutil holds fixtures shared by package tests: machine builders,
// an in-memory store and a recording event bus.
package testutil

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/HerbHall/upkeep/internal/store"
	"github.com/HerbHall/upkeep/pkg/maintenance"
	"github.com/HerbHall/upkeep/pkg/plugin"
)

// Date parses a YYYY-MM-DD literal and panics on bad input.
func Date(s string) maintenance.Date {
	d, err := maintenance.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// NewMachine returns a machine with one cyclic and one calendar interval,
// both comfortably OK on 2025-03-10. Override with options.
func NewMachine(opts ...func(*maintenance.Machine)) maintenance.Machine {
	m := maintenance.Machine{
		ID:             "M-TEST",
		Name:           "Test machine",
		Location:       "Lab",
		Model:          "T-1",
		AvgDailyCycles: 2,
		Intervals: []maintenance.Interval{
			maintenance.NewCyclic("Tool change", 100, 10, Date("2025-03-01")),
			maintenance.NewCalendar("Inspection", 6, Date("2025-03-01")),
		},
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// WithID sets the machine ID.
func WithID(id string) func(*maintenance.Machine) {
	return func(m *maintenance.Machine) { m.ID = id }
}

// WithName sets the machine name.
func WithName(name string) func(*maintenance.Machine) {
	return func(m *maintenance.Machine) { m.Name = name }
}

// WithRate sets the assumed daily cycle rate.
func WithRate(rate float64) func(*maintenance.Machine) {
	return func(m *maintenance.Machine) { m.AvgDailyCycles = rate }
}

// WithIntervals replaces the interval list.
func WithIntervals(ivs ...maintenance.Interval) func(*maintenance.Machine) {
	return func(m *maintenance.Machine) { m.Intervals = ivs }
}

// NewStore opens an in-memory SQLite store closed at test cleanup.
func NewStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// FixedClock returns a clock frozen at t.
func FixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var _ plugin.EventBus = (*MockBus)(nil)

// MockBus records published events and delivers them synchronously,
// including PublishAsync.
type MockBus struct {
	mu       sync.Mutex
	events   []plugin.Event
	handlers map[string][]plugin.EventHandler
	all      []plugin.EventHandler
}

// NewMockBus returns an empty recording bus.
func NewMockBus() *MockBus {
	return &MockBus{handlers: make(map[string][]plugin.EventHandler)}
}

func (b *MockBus) Publish(ctx context.Context, event plugin.Event) error {
	b.mu.Lock()
	b.events = append(b.events, event)
	handlers := append([]plugin.EventHandler{}, b.handlers[event.Topic]...)
	handlers = append(handlers, b.all...)
	b.mu.Unlock()

	for _, h := range handlers {
		h(ctx, event)
	}
	return nil
}

func (b *MockBus) PublishAsync(ctx context.Context, event plugin.Event) {
	_ = b.Publish(ctx, event)
}

func (b *MockBus) Subscribe(topic string, handler plugin.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
	return func() {}
}

func (b *MockBus) SubscribeAll(handler plugin.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, handler)
	return func() {}
}

// Events returns the published events whose topic starts with prefix.
func (b *MockBus) Events(prefix string) []plugin.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []plugin.Event
	for _, e := range b.events {
		if strings.HasPrefix(e.Topic, prefix) {
			out = append(out, e)
		}
	}
	return out
}

// Reset forgets recorded events.
func (b *MockBus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}
