package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/n0remac/netcam-core/buffer"
	"github.com/n0remac/netcam-core/detect"
	"github.com/n0remac/netcam-core/hwsession"
)

const (
	yuvAcquireTimeout = 200 * time.Millisecond
	rgbAcquireTimeout = time.Second
)

// SerialPipeline runs the software-timed inference loop: VI→VPSS bound,
// VPSS→VENC unbound. A dedicated frame worker acquires an RGB block and a
// YUV frame, color-converts to RGB and releases the YUV frame, optionally
// runs detection + overlay, then submits the RGB block to VENC. Grounded on cvpipe/pipeline.go's
// single worker goroutine coordinated by a cancel func — generalized here
// to errgroup so Stop can also surface the worker's first error.
type SerialPipeline struct {
	log   *slog.Logger
	stack hwsession.Stack

	isp  *hwsession.ISPSession
	vi   *hwsession.VISession
	vpss *hwsession.VPSSSession
	venc *hwsession.VENCSession

	yuvPool *buffer.Pool
	rgbPool *buffer.Pool

	width, height int
	registry      *detect.Registry
	overlayRndr   FrameOverlay
	skipEveryN    int

	hwOSD       OSDController
	hwOSDPeriod time.Duration

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	frameCounter uint64
	lastDetMu    sync.Mutex
	lastDets     []detect.Detection
}

// NewSerialPipeline constructs and binds VI→VPSS; VENC is left software-fed.
func NewSerialPipeline(cfg Config, log *slog.Logger) (*SerialPipeline, error) {
	period := cfg.HardwareOSDPeriod
	if period <= 0 {
		period = defaultHardwareOSDPeriod
	}
	p := &SerialPipeline{
		log:         log,
		width:       cfg.Width,
		height:      cfg.Height,
		registry:    cfg.Registry,
		overlayRndr: cfg.Overlay,
		skipEveryN:  cfg.SkipEveryN,
		hwOSD:       cfg.HardwareOSD,
		hwOSDPeriod: period,
	}

	isp, err := hwsession.OpenISP(cfg.Backend, hwsession.ISPConfig{Width: cfg.Width, Height: cfg.Height})
	if err != nil {
		return nil, fmt.Errorf("pipeline: open ISP: %w", err)
	}
	p.isp = isp
	p.stack.Push(isp.Close)

	viBufCount := cfg.YUVPoolSize
	if viBufCount <= 0 {
		viBufCount = 4
	}
	vi, err := hwsession.OpenVI(cfg.Backend, hwsession.VIConfig{
		Width: cfg.Width, Height: cfg.Height, BufferCount: viBufCount, Depth: 0,
	})
	if err != nil {
		p.stack.Unwind()
		return nil, fmt.Errorf("pipeline: open VI: %w", err)
	}
	p.vi = vi
	p.stack.Push(vi.Close)

	chn1Enabled := cfg.Registry != nil
	chn1W, chn1H := cfg.ModelChnW, cfg.ModelChnH
	if (chn1W <= 0 || chn1H <= 0) && cfg.Registry != nil {
		chn1W, chn1H = cfg.Registry.InputSize()
	}
	vpss, err := hwsession.OpenVPSS(cfg.Backend, hwsession.VPSSConfig{
		Chn0: hwsession.VPSSChannelConfig{Width: cfg.Width, Height: cfg.Height, Depth: 0, Enabled: true},
		Chn1: hwsession.VPSSChannelConfig{Width: chn1W, Height: chn1H, Depth: 2, Enabled: chn1Enabled},
	})
	if err != nil {
		p.stack.Unwind()
		return nil, fmt.Errorf("pipeline: open VPSS: %w", err)
	}
	p.vpss = vpss
	p.stack.Push(vpss.Close)

	if p.registry != nil {
		p.registry.SetResizeCallback(func(w, h int) error {
			return p.vpss.ReconfigureChn1(w, h)
		})
	}

	venc, err := hwsession.OpenVENC(cfg.Backend, hwsession.VENCConfig{
		Width: cfg.Width, Height: cfg.Height, Codec: cfg.Codec,
		FrameRate: cfg.FrameRate, BitrateKbps: cfg.BitrateKbps, Bound: false,
	})
	if err != nil {
		p.stack.Unwind()
		return nil, fmt.Errorf("pipeline: open VENC: %w", err)
	}
	p.venc = venc
	p.stack.Push(venc.Close)

	yuvCount := cfg.YUVPoolSize
	if yuvCount <= 0 {
		yuvCount = 4
	}
	yuvPool, err := buffer.NewPool(cfg.Width*cfg.Height*3/2, yuvCount, buffer.AllocDMA)
	if err != nil {
		p.stack.Unwind()
		return nil, fmt.Errorf("pipeline: yuv pool: %w", err)
	}
	p.yuvPool = yuvPool

	rgbCount := cfg.RGBPoolSize
	if rgbCount < 4 {
		rgbCount = 4 // spec §4.7: capacity >= 4 guarantees non-blocking handoff
	}
	rgbPool, err := buffer.NewPool(cfg.Width*cfg.Height*3, rgbCount, buffer.AllocHeap)
	if err != nil {
		yuvPool.Close()
		p.stack.Unwind()
		return nil, fmt.Errorf("pipeline: rgb pool: %w", err)
	}
	p.rgbPool = rgbPool

	return p, nil
}

func (p *SerialPipeline) Mode() Mode { return ModeSerial }

// Start launches the frame worker task.
func (p *SerialPipeline) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	p.ctx, p.cancel, p.group = ctx, cancel, group
	if p.hwOSD != nil {
		p.hwOSD.Start(p.hwOSDPeriod)
	}
	group.Go(func() error { return p.frameWorkerLoop(gctx) })
	if p.log != nil {
		p.log.Info("serial pipeline started", "width", p.width, "height", p.height)
	}
	return nil
}

func (p *SerialPipeline) Stop(ctx context.Context) error {
	if p.log != nil {
		p.log.Info("serial pipeline stopping")
	}
	if p.hwOSD != nil {
		p.hwOSD.Stop()
	}
	if p.cancel != nil {
		p.cancel()
	}
	done := make(chan error, 1)
	go func() { done <- p.group.Wait() }()
	select {
	case err := <-done:
		if err != nil && p.log != nil {
			p.log.Warn("frame worker exited with error", "error", err)
		}
	case <-ctx.Done():
	}

	p.rgbPool.Close()
	p.yuvPool.Close()
	return p.stack.Unwind()
}

func (p *SerialPipeline) PullPacket(timeout time.Duration, stop <-chan struct{}) (hwsession.EncodedChunk, error) {
	return p.venc.PullPacket(timeout, stop)
}

// LastDetections returns the most recently decoded detections, for status
// reporting independent of whichever overlay backends are configured.
func (p *SerialPipeline) LastDetections() []detect.Detection {
	p.lastDetMu.Lock()
	defer p.lastDetMu.Unlock()
	return p.lastDets
}

func (p *SerialPipeline) frameWorkerLoop(ctx context.Context) error {
	stop := ctx.Done()
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		if err := p.frameWorkerStep(ctx, stop); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if p.log != nil {
				p.log.Warn("frame worker step error", "error", err)
			}
		}
	}
}

// frameWorkerStep runs one iteration of spec §4.7's six-step loop.
func (p *SerialPipeline) frameWorkerStep(ctx context.Context, stop <-chan struct{}) error {
	// Step 2: acquire an RGB block first (blocking) so we never hold a
	// YUV handle while waiting on the (software, usually instant) RGB
	// pool.
	rgb, err := p.rgbPool.Acquire(true, rgbAcquireTimeout)
	if err != nil {
		return fmt.Errorf("pipeline: acquire rgb block: %w", err)
	}

	// Step 1: acquire a YUV frame from VPSS-CHN0 with a bounded wait. On
	// timeout, continue (release the RGB block back first).
	yuv, err := p.yuvPool.Acquire(false, 0)
	if err != nil {
		rgb.Release()
		return fmt.Errorf("pipeline: acquire yuv block: %w", err)
	}
	tsUs, seq, err := p.vpss.FillYUVFrame(0, yuv.Bytes(), yuvAcquireTimeout)
	if err != nil {
		yuv.Release()
		rgb.Release()
		return nil // timeout: continue per spec, not a worker error
	}

	// Step 3: color-convert YUV4:2:0SP -> RGB888. RawFrame/RgbFrame carry
	// the handle alongside the geometry/timing metadata the rest of the
	// step needs, per spec §3's data model.
	rawFrame := RawFrame{Handle: yuv, Width: p.width, Height: p.height, Stride: p.width, TimestampUs: tsUs, Sequence: seq}
	rgbFrame := RgbFrame{Handle: rgb, Width: p.width, Height: p.height, TimestampUs: tsUs}
	convertYUV420SPToRGB(rawFrame, rgbFrame)
	yuv.Release()

	n := atomic.AddUint64(&p.frameCounter, 1)
	skip := p.skipEveryN > 1 && (n%uint64(p.skipEveryN)) != 1

	// Step 4: run the detector if active, unless this frame is skipped.
	if p.registry != nil && !skip {
		modelW, modelH := p.registry.InputSize()
		dets, err := p.registry.Infer(func(region []byte) {
			if modelW > 0 && modelH > 0 {
				letterboxResize(rgb.Bytes(), p.width, p.height, region, modelW, modelH)
			}
		})
		if err != nil {
			if p.log != nil {
				p.log.Warn("detector infer error", "error", err)
			}
		} else if dets != nil {
			w, h := p.registry.InputSize()
			lb := detect.Letterbox(p.width, p.height, w, h)
			mapped := make([]detect.Detection, len(dets))
			for i, d := range dets {
				mapped[i] = lb.MapToSource(d)
			}
			p.lastDetMu.Lock()
			p.lastDets = mapped
			p.lastDetMu.Unlock()
			if p.hwOSD != nil {
				p.hwOSD.Update(mapped, p.width, p.height)
			}
			if p.overlayRndr != nil {
				if err := p.overlayRndr.Draw(rgb.Bytes(), p.width, p.height, mapped); err != nil && p.log != nil {
					p.log.Warn("overlay draw error", "error", err)
				}
			}
		}
	}

	// Step 5: submit to VENC. SubmitFrame only sees rgb.Bytes() for the
	// duration of the call and keeps no reference to the handle, so the
	// loop's original acquire is the only reference and Release here is what
	// returns the block to the pool.
	if err := p.venc.SubmitFrame(rgb.Bytes(), tsUs); err != nil {
		if p.log != nil {
			p.log.Warn("submit frame error", "error", err, "sequence", seq)
		}
	}
	rgb.Release()

	return nil
}

