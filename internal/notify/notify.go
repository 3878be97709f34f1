// Package notify sends a message through Shoutrrr when a machine escalates
// to a configured status.
package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/HerbHall/upkeep/internal/fleet"
	"github.com/HerbHall/upkeep/pkg/maintenance"
	"github.com/HerbHall/upkeep/pkg/plugin"
)

const queueSize = 256

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
)

var notificationsSent = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "upkeep_notifications_total",
		Help: "Notification deliveries by result (sent, failed, suppressed).",
	},
	[]string{"result"},
)

// Sender abstracts delivery so the module can be tested without hitting
// real services.
type Sender interface {
	Send(url, message string) error
}

// ShoutrrrSender delivers through the Shoutrrr library.
type ShoutrrrSender struct{}

func (ShoutrrrSender) Send(url, message string) error {
	return shoutrrr.Send(url, message)
}

// Config holds the "modules.notify" settings.
type Config struct {
	URLs      []string      `mapstructure:"urls"`
	Cooldown  time.Duration `mapstructure:"cooldown"`
	MinStatus string        `mapstructure:"min_status"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Cooldown:  24 * time.Hour,
		MinStatus: maintenance.StatusCritical.String(),
	}
}

// Module implements the notify plugin.
type Module struct {
	logger    *zap.Logger
	cfg       Config
	minStatus maintenance.Status
	sender    Sender
	now       func() time.Time

	// lastSent holds the last delivery time per machine and status.
	mu       sync.Mutex
	lastSent map[string]time.Time
	lastErr  error

	queue  chan *fleet.StatusChangedEvent
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a notify module. A nil sender uses Shoutrrr.
func New(sender Sender) *Module {
	if sender == nil {
		sender = ShoutrrrSender{}
	}
	return &Module{
		sender:   sender,
		lastSent: make(map[string]time.Time),
		queue:    make(chan *fleet.StatusChangedEvent, queueSize),
	}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "notify",
		Version:      "1.0.0",
		Description:  "Status-change notifications via Shoutrrr",
		Dependencies: []string{"fleet"},
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.now = deps.Now

	m.cfg = DefaultConfig()
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return fmt.Errorf("notify: config: %w", err)
		}
	}
	st, err := maintenance.ParseStatus(strings.ToLower(m.cfg.MinStatus))
	if err != nil {
		return fmt.Errorf("notify: min_status: %w", err)
	}
	m.minStatus = st

	m.logger.Info("notify module initialized",
		zap.Int("urls", len(m.cfg.URLs)),
		zap.Stringer("min_status", m.minStatus),
		zap.Duration("cooldown", m.cfg.Cooldown),
	)
	return nil
}

// Start launches the delivery worker.
func (m *Module) Start(_ context.Context) error {
	m.stopCh = make(chan struct{})
	m.wg.Add(1)
	go m.run()
	m.logger.Info("notify module started")
	return nil
}

// Stop drains queued events and waits for the worker.
func (m *Module) Stop(_ context.Context) error {
	if m.stopCh != nil {
		close(m.stopCh)
		m.wg.Wait()
		m.stopCh = nil
	}
	m.logger.Info("notify module stopped")
	return nil
}

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: fleet.TopicStatusChanged, Handler: m.enqueue},
	}
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	details := map[string]string{
		"urls":       strconv.Itoa(len(m.cfg.URLs)),
		"min_status": m.minStatus.String(),
	}
	if len(m.cfg.URLs) == 0 {
		return plugin.HealthStatus{Status: "healthy", Message: "no notification urls configured", Details: details}
	}
	m.mu.Lock()
	lastErr := m.lastErr
	m.mu.Unlock()
	if lastErr != nil {
		return plugin.HealthStatus{Status: "degraded", Message: "last delivery failed: " + lastErr.Error(), Details: details}
	}
	return plugin.HealthStatus{Status: "healthy", Details: details}
}

func (m *Module) enqueue(_ context.Context, e plugin.Event) {
	p, ok := e.Payload.(*fleet.StatusChangedEvent)
	if !ok {
		return
	}
	select {
	case m.queue <- p:
	default:
		m.logger.Warn("notify queue full, dropping status change", zap.String("machine_id", p.MachineID))
	}
}

func (m *Module) run() {
	defer m.wg.Done()
	for {
		select {
		case p := <-m.queue:
			m.handle(p)
		case <-m.stopCh:
			for {
				select {
				case p := <-m.queue:
					m.handle(p)
				default:
					return
				}
			}
		}
	}
}

// handle delivers one status change to every URL, subject to the minimum
// status and the per-machine cooldown. Recoveries are not announced.
func (m *Module) handle(p *fleet.StatusChangedEvent) {
	if len(m.cfg.URLs) == 0 || p.Current < m.minStatus || p.Current <= p.Previous {
		return
	}
	key := cooldownKey(p.MachineID, p.Current)
	if !m.allow(key) {
		notificationsSent.WithLabelValues("suppressed").Inc()
		m.logger.Debug("notification suppressed by cooldown", zap.String("machine_id", p.MachineID))
		return
	}

	msg := FormatMessage(p)
	var lastErr error
	delivered := false
	for _, url := range m.cfg.URLs {
		if err := m.sender.Send(url, msg); err != nil {
			lastErr = err
			notificationsSent.WithLabelValues("failed").Inc()
			m.logger.Warn("notification failed",
				zap.String("machine_id", p.MachineID),
				zap.String("service", serviceName(url)),
				zap.Error(err),
			)
			continue
		}
		delivered = true
		notificationsSent.WithLabelValues("sent").Inc()
	}

	if delivered {
		m.markSent(key)
	}
	m.mu.Lock()
	m.lastErr = lastErr
	m.mu.Unlock()
}

func cooldownKey(machineID string, st maintenance.Status) string {
	return machineID + ":" + st.String()
}

// allow reports whether key is outside its cooldown window.
func (m *Module) allow(key string) bool {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.lastSent[key]
	return !ok || m.cfg.Cooldown <= 0 || now.Sub(last) >= m.cfg.Cooldown
}

// markSent starts a cooldown window for key. Only delivered messages count.
func (m *Module) markSent(key string) {
	now := m.now()

	m.mu.Lock()
	m.lastSent[key] = now
	m.mu.Unlock()
}

// FormatMessage renders a status change as one line of text.
func FormatMessage(p *fleet.StatusChangedEvent) string {
	name := p.Name
	if name == "" {
		name = p.MachineID
	}
	msg := fmt.Sprintf("[%s] %s (%s): %s -> %s",
		strings.ToUpper(p.Current.String()), name, p.MachineID, p.Previous, p.Current)
	if len(p.Critical) > 0 {
		msg += "; service due: " + strings.Join(p.Critical, ", ")
	}
	return msg
}

// serviceName returns the URL scheme so logs never carry credentials.
func serviceName(url string) string {
	scheme, _, ok := strings.Cut(url, "://")
	if !ok {
		return "unknown"
	}
	return scheme
}
