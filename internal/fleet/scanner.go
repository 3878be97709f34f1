package fleet

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/HerbHall/upkeep/pkg/maintenance"
	"github.com/HerbHall/upkeep/pkg/plugin"
)

var (
	machinesByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "upkeep_machines",
			Help: "Number of machines by worst interval status at the last scan.",
		},
		[]string{"status"},
	)

	cyclesRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "upkeep_cycles_recorded_total",
			Help: "Total machine cycles recorded through the API.",
		},
	)

	statusChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upkeep_status_changes_total",
			Help: "Total machine status transitions, by new status.",
		},
		[]string{"status"},
	)
)

// ScanResult describes one pass over the fleet.
type ScanResult struct {
	Summary maintenance.FleetSummary `json:"summary"`
	Changed int                      `json:"changed"`
	Purged  int64                    `json:"purged"`
}

// Scan re-evaluates every machine at today's date. Calendar intervals move
// toward due with no API activity, so status changes are detected here and
// recorded like any other. History older than retention is purged when
// retention is positive.
func (s *Service) Scan(ctx context.Context, retention time.Duration) (ScanResult, error) {
	var (
		result  ScanResult
		pending []plugin.Event
	)
	err := s.db.Tx(ctx, func(tx *sql.Tx) error {
		fs := s.store.WithTx(tx)
		machines, err := fs.ListMachines(ctx)
		if err != nil {
			return err
		}
		last, err := fs.LastStatuses(ctx)
		if err != nil {
			return err
		}

		summary, err := s.eval.FleetSummary(machines, s.Today())
		if err != nil {
			return err
		}
		result.Summary = summary

		for _, m := range machines {
			ev, err := s.statusChange(ctx, fs, m, last[m.ID])
			if err != nil {
				return err
			}
			if ev != nil {
				pending = append(pending, *ev)
			}
		}
		result.Changed = len(pending)

		if retention > 0 {
			n, err := fs.DeleteOldHistory(ctx, s.now().Add(-retention))
			if err != nil {
				return err
			}
			result.Purged = n
		}
		return nil
	})
	if err != nil {
		return ScanResult{}, err
	}

	machinesByStatus.WithLabelValues(maintenance.StatusOK.String()).Set(float64(result.Summary.OK))
	machinesByStatus.WithLabelValues(maintenance.StatusWarning.String()).Set(float64(result.Summary.Warning))
	machinesByStatus.WithLabelValues(maintenance.StatusCritical.String()).Set(float64(result.Summary.Critical))
	s.publishAll(ctx, pending)
	return result, nil
}

// Scanner runs Service.Scan periodically.
type Scanner struct {
	svc       *Service
	interval  time.Duration
	retention time.Duration
	logger    *zap.Logger

	mu       sync.Mutex
	lastScan time.Time
	lastErr  error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScanner creates a scanner. It does nothing until Start.
func NewScanner(svc *Service, interval, retention time.Duration, logger *zap.Logger) *Scanner {
	return &Scanner{
		svc:       svc,
		interval:  interval,
		retention: retention,
		logger:    logger,
	}
}

// Start scans once immediately, then on every tick, until Stop.
func (s *Scanner) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.tick()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight scan.
func (s *Scanner) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Running reports whether the loop is active.
func (s *Scanner) Running() bool {
	return s.ctx != nil && s.ctx.Err() == nil
}

// Last returns the time and error of the most recent scan.
func (s *Scanner) Last() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastScan, s.lastErr
}

func (s *Scanner) tick() {
	ctx, cancel := context.WithTimeout(s.ctx, s.interval)
	defer cancel()

	res, err := s.svc.Scan(ctx, s.retention)

	s.mu.Lock()
	s.lastScan, s.lastErr = s.svc.now(), err
	s.mu.Unlock()

	if err != nil {
		if s.ctx.Err() == nil {
			s.logger.Warn("fleet scan failed", zap.Error(err))
		}
		return
	}
	s.logger.Debug("fleet scanned",
		zap.Int("critical", res.Summary.Critical),
		zap.Int("warning", res.Summary.Warning),
		zap.Int("ok", res.Summary.OK),
		zap.Int("changed", res.Changed),
		zap.Int64("purged", res.Purged),
	)
}
