// Package manager implements spec component C9, PipelineManager: the
// single owner of at most one active Pipeline, serializing switch_mode and
// switch_detector requests under one mutex and re-registering consumers
// across a swap. Grounded on client/client.go's Setup() orchestration
// (acquire hardware, wire signaling, tear down cleanly on failure) and
// webrtc/sfu.go's room mutex discipline (one lock guards the whole
// membership + broadcast transition, never held across blocking I/O).
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/n0remac/netcam-core/detect"
	"github.com/n0remac/netcam-core/dispatch"
	"github.com/n0remac/netcam-core/errs"
	"github.com/n0remac/netcam-core/hwsession"
	"github.com/n0remac/netcam-core/pipeline"
)

// State is the manager's own lifecycle state, distinct from any single
// Pipeline's internals.
type State int

const (
	StateStopped State = iota
	StateRunning
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Status is a point-in-time snapshot for the HTTP/UDP control surfaces.
type Status struct {
	State           State
	Mode            pipeline.Mode
	DetectorKind    detect.Kind
	DegradedReason  error
	Consumers       []dispatch.ConsumerStatus
}

// Manager owns exactly zero or one Pipeline plus its Dispatcher, and
// serializes every cold-swap under mgrMu so switch_mode and switch_detector
// can never interleave.
type Manager struct {
	log *slog.Logger

	backend    hwsession.Backend
	baseConfig pipeline.Config

	mgrMu          sync.Mutex
	state          State
	degradedReason error

	pipe       pipeline.Pipeline
	dispatcher *dispatch.Dispatcher
	registry   *detect.Registry

	consumerRegs []dispatch.ConsumerRegistration

	depthGauge *prometheus.GaugeVec
	dropsTotal *prometheus.CounterVec
}

// SetMetrics wires Prometheus vectors into every Dispatcher this Manager
// builds from here on. Call before the first SwitchMode/SwitchDetector.
func (m *Manager) SetMetrics(depthGauge *prometheus.GaugeVec, dropsTotal *prometheus.CounterVec) {
	m.mgrMu.Lock()
	defer m.mgrMu.Unlock()
	m.depthGauge = depthGauge
	m.dropsTotal = dropsTotal
}

// New constructs a stopped Manager. baseConfig supplies the hardware
// geometry/codec fields shared by every Pipeline this Manager will build;
// Backend and Registry are filled in per-call.
func New(log *slog.Logger, backend hwsession.Backend, baseConfig pipeline.Config) *Manager {
	return &Manager{
		log:        log,
		backend:    backend,
		baseConfig: baseConfig,
		registry:   detect.NewRegistry(),
	}
}

// Status reports the manager's current state without taking any action.
func (m *Manager) Status() Status {
	m.mgrMu.Lock()
	defer m.mgrMu.Unlock()
	st := Status{State: m.state, DetectorKind: m.registry.Kind(), DegradedReason: m.degradedReason}
	if m.pipe != nil {
		st.Mode = m.pipe.Mode()
	}
	if m.dispatcher != nil {
		st.Consumers = m.dispatcher.Status()
	}
	return st
}

// RegisterConsumer adds a consumer that survives every future swap. If a
// Pipeline is already running, the consumer attaches immediately;
// otherwise it is buffered until the first successful SwitchMode.
func (m *Manager) RegisterConsumer(reg dispatch.ConsumerRegistration) error {
	m.mgrMu.Lock()
	defer m.mgrMu.Unlock()
	m.consumerRegs = append(m.consumerRegs, reg)
	if m.dispatcher != nil {
		return m.dispatcher.RegisterConsumer(reg)
	}
	return nil
}

// SwitchMode cold-swaps to a Pipeline running the given mode, tearing down
// any previous Pipeline first. If the requested mode is already active and
// no detector is loaded, this is a no-op: the current Pipeline and
// Dispatcher are left running untouched. On construction/start failure the
// Manager enters Degraded, owning no Pipeline, and the error is returned.
func (m *Manager) SwitchMode(ctx context.Context, mode pipeline.Mode) error {
	m.mgrMu.Lock()
	defer m.mgrMu.Unlock()
	if m.state == StateRunning && m.pipe != nil && m.pipe.Mode() == mode && m.registry.State() == detect.StateEmpty {
		return nil
	}
	return m.switchLocked(ctx, mode, nil)
}

// SwitchDetector is SwitchMode's sibling for detector changes: it rebuilds
// the active Pipeline in Serial mode with the given detector factory wired
// in via the Registry. Passing a nil factory switches to "no detector".
func (m *Manager) SwitchDetector(ctx context.Context, kind detect.Kind, modelPath string, factory detect.Factory) error {
	m.mgrMu.Lock()
	defer m.mgrMu.Unlock()

	if factory == nil {
		if err := m.registry.Unload(); err != nil {
			return fmt.Errorf("manager: unload detector: %w", err)
		}
		return m.switchLocked(ctx, pipeline.ModeSerial, nil)
	}

	loadOrSwap := m.registry.Swap
	if m.registry.State() == detect.StateEmpty {
		loadOrSwap = m.registry.Load
	}
	if err := loadOrSwap(kind, modelPath, factory); err != nil {
		return fmt.Errorf("manager: load detector: %w", err)
	}
	return m.switchLocked(ctx, pipeline.ModeSerial, m.registry)
}

// switchLocked performs the stop-old/build-new/start-new/reattach-consumers
// sequence. Must be called with mgrMu held.
func (m *Manager) switchLocked(ctx context.Context, mode pipeline.Mode, registry *detect.Registry) error {
	if m.pipe != nil {
		if err := m.pipe.Stop(ctx); err != nil && m.log != nil {
			m.log.Warn("manager: previous pipeline stop error", "error", err)
		}
		if m.dispatcher != nil {
			if err := m.dispatcher.Stop(ctx); err != nil && m.log != nil {
				m.log.Warn("manager: previous dispatcher stop error", "error", err)
			}
		}
		m.pipe = nil
		m.dispatcher = nil
	}

	cfg := m.baseConfig
	cfg.Backend = m.backend
	if registry != nil {
		cfg.Registry = registry
	} else {
		cfg.Registry = nil
	}

	var (
		pipe pipeline.Pipeline
		err  error
	)
	switch mode {
	case pipeline.ModeParallel:
		pipe, err = pipeline.NewParallelPipeline(cfg, m.log)
	case pipeline.ModeSerial:
		pipe, err = pipeline.NewSerialPipeline(cfg, m.log)
	default:
		err = fmt.Errorf("manager: unknown mode %v: %w", mode, errs.ErrStartFailed)
	}
	if err != nil {
		m.state = StateDegraded
		m.degradedReason = fmt.Errorf("manager: build pipeline: %w", err)
		return m.degradedReason
	}
	if err := pipe.Start(); err != nil {
		m.state = StateDegraded
		m.degradedReason = fmt.Errorf("manager: start pipeline: %w", err)
		return m.degradedReason
	}

	d := dispatch.NewDispatcher(m.log, m.depthGauge, m.dropsTotal)
	for _, reg := range m.consumerRegs {
		if err := d.RegisterConsumer(reg); err != nil && m.log != nil {
			m.log.Warn("manager: re-register consumer failed", "name", reg.Name, "error", err)
		}
	}
	d.Start(pipe)

	m.pipe = pipe
	m.dispatcher = d
	m.state = StateRunning
	m.degradedReason = nil
	return nil
}

// Stop tears down the active Pipeline and Dispatcher, leaving the Manager
// owning nothing.
func (m *Manager) Stop(ctx context.Context) error {
	m.mgrMu.Lock()
	defer m.mgrMu.Unlock()
	var firstErr error
	if m.dispatcher != nil {
		if err := m.dispatcher.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		m.dispatcher = nil
	}
	if m.pipe != nil {
		if err := m.pipe.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		m.pipe = nil
	}
	m.state = StateStopped
	return firstErr
}

// PullPacket is a convenience forward so a Manager can itself satisfy
// dispatch.PacketSource in tests or simple wiring; production code should
// rely on the internally owned Dispatcher instead.
func (m *Manager) PullPacket(timeout time.Duration, stop <-chan struct{}) (hwsession.EncodedChunk, error) {
	m.mgrMu.Lock()
	pipe := m.pipe
	m.mgrMu.Unlock()
	if pipe == nil {
		return hwsession.EncodedChunk{}, fmt.Errorf("manager: no active pipeline: %w", errs.ErrNoActivePipeline)
	}
	return pipe.PullPacket(timeout, stop)
}
