// Package fleet is the Upkeep module that owns the machine registry: it
// persists machines and their service intervals, runs the schedule engine
// over them, and exposes the REST API for status, forecasts, cycle
// recording and service resets.
package fleet

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/upkeep/internal/schedule"
	"github.com/HerbHall/upkeep/pkg/plugin"
)

const moduleName = "fleet"

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HTTPProvider  = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
)

// Module implements the fleet plugin.
type Module struct {
	logger  *zap.Logger
	cfg     Config
	store   *FleetStore
	svc     *Service
	scanner *Scanner
}

// New creates a fleet module.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        moduleName,
		Version:     "1.0.0",
		Description: "Machine registry, maintenance status and forecasts",
		Required:    true,
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	if deps.Store == nil {
		return fmt.Errorf("fleet: store is required")
	}

	m.cfg = DefaultConfig()
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return fmt.Errorf("fleet: config: %w", err)
		}
	}
	eval, err := schedule.New(m.cfg.Schedule)
	if err != nil {
		return fmt.Errorf("fleet: %w", err)
	}

	if err := deps.Store.Migrate(ctx, moduleName, migrations()); err != nil {
		return err
	}

	m.svc = NewService(deps.Store, eval, deps.Bus, deps.Now, m.logger)
	m.store = m.svc.store

	if m.cfg.SeedDemo {
		n, err := SeedDemo(ctx, deps.Store, m.store, deps.Now())
		if err != nil {
			return fmt.Errorf("fleet: seed demo data: %w", err)
		}
		if n > 0 {
			m.logger.Info("demo fleet seeded", zap.Int("machines", n))
		}
	}

	m.scanner = NewScanner(m.svc, m.cfg.ScanInterval, m.cfg.HistoryRetention, m.logger.Named("scanner"))

	m.logger.Info("fleet module initialized",
		zap.Duration("scan_interval", m.cfg.ScanInterval),
		zap.Float64("warning_fraction", m.cfg.Schedule.WarningFraction),
		zap.Int("warning_days", m.cfg.Schedule.WarningDays),
	)
	return nil
}

func (m *Module) Start(_ context.Context) error {
	if m.cfg.ScanInterval > 0 {
		m.scanner.Start(context.Background())
	}
	m.logger.Info("fleet module started")
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	if m.scanner != nil {
		m.scanner.Stop()
	}
	m.logger.Info("fleet module stopped")
	return nil
}

// Service returns the fleet service for in-process callers.
func (m *Module) Service() *Service {
	return m.svc
}

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/summary", Handler: m.handleSummary},
		{Method: "GET", Path: "/history", Handler: m.handleFleetHistory},
		{Method: "POST", Path: "/scan", Handler: m.handleScan},
		{Method: "GET", Path: "/machines", Handler: m.handleListMachines},
		{Method: "POST", Path: "/machines", Handler: m.handleCreateMachine},
		{Method: "GET", Path: "/machines/{id}", Handler: m.handleGetMachine},
		{Method: "PUT", Path: "/machines/{id}", Handler: m.handleUpdateMachine},
		{Method: "DELETE", Path: "/machines/{id}", Handler: m.handleDeleteMachine},
		{Method: "GET", Path: "/machines/{id}/status", Handler: m.handleMachineStatus},
		{Method: "GET", Path: "/machines/{id}/forecast", Handler: m.handleForecast},
		{Method: "GET", Path: "/machines/{id}/history", Handler: m.handleMachineHistory},
		{Method: "POST", Path: "/machines/{id}/cycles", Handler: m.handleRecordCycles},
		{Method: "POST", Path: "/machines/{id}/intervals", Handler: m.handleAddInterval},
		{Method: "PUT", Path: "/machines/{id}/intervals/{name}", Handler: m.handleUpdateInterval},
		{Method: "DELETE", Path: "/machines/{id}/intervals/{name}", Handler: m.handleRemoveInterval},
		{Method: "POST", Path: "/machines/{id}/intervals/{name}/reset", Handler: m.handleResetInterval},
	}
}

// Health implements plugin.HealthChecker. A failed last scan degrades the
// module; the API keeps working.
func (m *Module) Health(ctx context.Context) plugin.HealthStatus {
	details := map[string]string{
		"warning_fraction": strconv.FormatFloat(m.cfg.Schedule.WarningFraction, 'f', -1, 64),
		"warning_days":     strconv.Itoa(m.cfg.Schedule.WarningDays),
	}
	if m.store != nil {
		n, err := m.store.CountMachines(ctx)
		if err != nil {
			return plugin.HealthStatus{Status: "unhealthy", Message: err.Error(), Details: details}
		}
		details["machines"] = strconv.Itoa(n)
	}
	if m.scanner != nil {
		last, err := m.scanner.Last()
		if !last.IsZero() {
			details["last_scan"] = last.UTC().Format(time.RFC3339)
		}
		if err != nil {
			return plugin.HealthStatus{Status: "degraded", Message: "last scan failed: " + err.Error(), Details: details}
		}
	}
	return plugin.HealthStatus{Status: "healthy", Details: details}
}
