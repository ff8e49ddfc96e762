package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/n0remac/netcam-core/hwsession"
)

// ParallelPipeline binds VI→VPSS(Group 0)→VENC in hardware; zero CPU work
// per frame. Start is a no-op post-construction; Stop calls VENC stop_recv
// (modeled as disabling the VENC session) then drops sessions in reverse
// order.
type ParallelPipeline struct {
	log   *slog.Logger
	stack hwsession.Stack

	isp  *hwsession.ISPSession
	vi   *hwsession.VISession
	vpss *hwsession.VPSSSession
	venc *hwsession.VENCSession

	hwOSD       OSDController
	hwOSDPeriod time.Duration
}

// NewParallelPipeline constructs and binds the hardware chain. On any
// failure, sessions already opened are unwound in reverse order before the
// error is returned — a Pipeline must never leak a partially constructed
// hardware chain.
func NewParallelPipeline(cfg Config, log *slog.Logger) (*ParallelPipeline, error) {
	period := cfg.HardwareOSDPeriod
	if period <= 0 {
		period = defaultHardwareOSDPeriod
	}
	p := &ParallelPipeline{log: log, hwOSD: cfg.HardwareOSD, hwOSDPeriod: period}

	isp, err := hwsession.OpenISP(cfg.Backend, hwsession.ISPConfig{Width: cfg.Width, Height: cfg.Height})
	if err != nil {
		return nil, fmt.Errorf("pipeline: open ISP: %w", err)
	}
	p.isp = isp
	p.stack.Push(isp.Close)

	vi, err := hwsession.OpenVI(cfg.Backend, hwsession.VIConfig{
		Width: cfg.Width, Height: cfg.Height, BufferCount: 4, Depth: 0,
	})
	if err != nil {
		p.stack.Unwind()
		return nil, fmt.Errorf("pipeline: open VI: %w", err)
	}
	p.vi = vi
	p.stack.Push(vi.Close)

	vpss, err := hwsession.OpenVPSS(cfg.Backend, hwsession.VPSSConfig{
		Chn0: hwsession.VPSSChannelConfig{Width: cfg.Width, Height: cfg.Height, Depth: 0, Enabled: true},
		Chn1: hwsession.VPSSChannelConfig{Enabled: false},
	})
	if err != nil {
		p.stack.Unwind()
		return nil, fmt.Errorf("pipeline: open VPSS: %w", err)
	}
	p.vpss = vpss
	p.stack.Push(vpss.Close)

	venc, err := hwsession.OpenVENC(cfg.Backend, hwsession.VENCConfig{
		Width: cfg.Width, Height: cfg.Height, Codec: cfg.Codec,
		FrameRate: cfg.FrameRate, BitrateKbps: cfg.BitrateKbps, Bound: true,
	})
	if err != nil {
		p.stack.Unwind()
		return nil, fmt.Errorf("pipeline: open VENC: %w", err)
	}
	p.venc = venc
	p.stack.Push(venc.Close)

	return p, nil
}

func (p *ParallelPipeline) Mode() Mode { return ModeParallel }

// Start is a no-op for the hardware chain: it's already producing frames as
// soon as construction succeeds. If a hardware OSD is configured, its
// independent tick loop is started here.
func (p *ParallelPipeline) Start() error {
	if p.hwOSD != nil {
		p.hwOSD.Start(p.hwOSDPeriod)
	}
	if p.log != nil {
		p.log.Info("parallel pipeline started", "mode", "parallel")
	}
	return nil
}

func (p *ParallelPipeline) Stop(ctx context.Context) error {
	if p.log != nil {
		p.log.Info("parallel pipeline stopping")
	}
	if p.hwOSD != nil {
		p.hwOSD.Stop()
	}
	done := make(chan error, 1)
	go func() { done <- p.venc.Close() }()
	select {
	case err := <-done:
		if err != nil {
			p.log.Warn("venc stop_recv error", "error", err)
		}
	case <-ctx.Done():
	}
	return p.stack.Unwind()
}

func (p *ParallelPipeline) PullPacket(timeout time.Duration, stop <-chan struct{}) (hwsession.EncodedChunk, error) {
	return p.venc.PullPacket(timeout, stop)
}
