// Package health runs the integrity engine on a schedule and publishes the
// resulting system state to metrics and the gRPC health service.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/aikewa/govledger/internal/integrity"
)

// LedgerService is the gRPC health service name reflecting ledger state.
const LedgerService = "govledger.ledger"

var systemState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "govledger_system_state",
	Help: "1 for the current system state, 0 otherwise.",
}, []string{"state"})

// Runner produces engine reports.
type Runner interface {
	Run(ctx context.Context, scope string, repair bool) (*integrity.EngineReport, error)
}

// Config holds monitor settings.
type Config struct {
	CheckInterval time.Duration
	AutoRepair    bool
}

// StateChangeFunc is called when the system state differs from the
// previous run.
type StateChangeFunc func(ctx context.Context, from, to integrity.SystemState)

type job struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
}

// Monitor caches the latest engine report.
type Monitor struct {
	engine   Runner
	cfg      Config
	grpc     *grpchealth.Server
	onChange StateChangeFunc
	jobs     []job

	mu      sync.RWMutex
	last    *integrity.EngineReport
	lastAt  time.Time
	lastErr error

	logger *zap.Logger
}

// New creates a Monitor.
func New(engine Runner, cfg Config, logger *zap.Logger) *Monitor {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 15 * time.Minute
	}
	return &Monitor{engine: engine, cfg: cfg, logger: logger}
}

// SetStateChange configures the state transition callback.
func (m *Monitor) SetStateChange(fn StateChangeFunc) { m.onChange = fn }

// AttachGRPC makes the monitor drive srv's LedgerService status.
func (m *Monitor) AttachGRPC(srv *grpchealth.Server) { m.grpc = srv }

// AddJob schedules fn every interval alongside the engine runs.
func (m *Monitor) AddJob(name string, interval time.Duration, fn func(ctx context.Context) error) {
	m.jobs = append(m.jobs, job{name: name, interval: interval, fn: fn})
}

// Start runs an initial check and then loops until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, j := range m.jobs {
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			m.loop(ctx, j.interval, func(ctx context.Context) {
				if err := j.fn(ctx); err != nil {
					m.logger.Error("health: job failed", zap.String("job", j.name), zap.Error(err))
				}
			})
		}(j)
	}

	m.runOnce(ctx)
	m.loop(ctx, m.cfg.CheckInterval, m.runOnce)
	wg.Wait()
}

func (m *Monitor) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, interval)
			fn(runCtx)
			cancel()
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) runOnce(ctx context.Context) {
	if _, err := m.Check(ctx); err != nil {
		m.logger.Error("health: engine run failed", zap.Error(err))
	}
}

// Check runs the engine now and caches the report.
func (m *Monitor) Check(ctx context.Context) (*integrity.EngineReport, error) {
	rep, err := m.engine.Run(ctx, "all", m.cfg.AutoRepair)

	m.mu.Lock()
	prev := m.last
	m.lastErr = err
	if err == nil {
		m.last = rep
		m.lastAt = rep.Timestamp
	}
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}

	m.publish(rep.SystemState)
	if prev != nil && prev.SystemState != rep.SystemState {
		m.logger.Warn("health: system state changed",
			zap.String("from", string(prev.SystemState)),
			zap.String("to", string(rep.SystemState)),
		)
		if m.onChange != nil {
			m.onChange(ctx, prev.SystemState, rep.SystemState)
		}
	}
	m.logger.Info("health: engine run complete",
		zap.String("state", string(rep.SystemState)),
		zap.Int("issues", rep.TotalIssues),
		zap.Int("auto_repaired", rep.AutoRepaired),
	)
	return rep, nil
}

// Last returns the cached report, or nil before the first successful run.
func (m *Monitor) Last() (*integrity.EngineReport, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last, m.lastAt
}

// LastError is the error from the most recent run, if it failed.
func (m *Monitor) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

func (m *Monitor) publish(state integrity.SystemState) {
	for _, s := range []integrity.SystemState{integrity.StateHealthy, integrity.StateDegraded, integrity.StateAttentionRequired} {
		v := 0.0
		if s == state {
			v = 1
		}
		systemState.WithLabelValues(string(s)).Set(v)
	}

	if m.grpc == nil {
		return
	}
	status := healthpb.HealthCheckResponse_SERVING
	if state == integrity.StateAttentionRequired {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	m.grpc.SetServingStatus(LedgerService, status)
}
