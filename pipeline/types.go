// Package pipeline implements spec component C7: the two Pipeline variants
// that bind or drive the hardware video path. ParallelPipeline is the
// zero-copy hardware-bound path (VI→VPSS→VENC, no per-frame CPU work);
// SerialPipeline is the software-timed inference loop (VI→VPSS bound,
// VPSS→VENC unbound, a frame worker in between). Both are grounded on
// cvpipe/pipeline.go's process lifecycle: a cancel func plus a WaitGroup
// (generalized here to golang.org/x/sync/errgroup so Stop can also observe
// the worker's first error), and gocv for color conversion and resize.
package pipeline

import (
	"context"
	"time"

	"github.com/n0remac/netcam-core/buffer"
	"github.com/n0remac/netcam-core/detect"
	"github.com/n0remac/netcam-core/hwsession"
)

// Mode is one of {Parallel, Serial}.
type Mode int

const (
	ModeParallel Mode = iota
	ModeSerial
)

func (m Mode) String() string {
	if m == ModeSerial {
		return "serial"
	}
	return "parallel"
}

// RawFrame is a YUV 4:2:0 semi-planar frame acquired from VPSS, plus the
// BufferHandle that owns its backing memory. The handle must outlive any
// derived view; callers release it exactly once when done.
type RawFrame struct {
	Handle    *buffer.Handle
	Width     int
	Height    int
	Stride    int
	TimestampUs int64
	Sequence  uint64
}

// RgbFrame is a contiguous 24-bit RGB frame drawn from the RGB pool. Must
// be either submitted to VENC or dropped — never both.
type RgbFrame struct {
	Handle      *buffer.Handle
	Width       int
	Height      int
	TimestampUs int64
}

// Config carries the parameters needed to construct either Pipeline
// variant: encoder geometry/codec, the hardware OSD backend (selectable in
// both modes), and, for Serial mode, the detector registry and CPU overlay
// renderer to drive.
type Config struct {
	Backend hwsession.Backend

	Width, Height int
	FrameRate     int
	Codec         hwsession.Codec
	BitrateKbps   int

	// HardwareOSD, when non-nil, is started alongside the Pipeline and
	// stopped with it, in both Parallel and Serial mode per spec §4.5.
	// SerialPipeline also feeds it each frame's remapped detections; in
	// Parallel mode nothing drives detection, so it ticks over whatever
	// was last set (empty until something calls Update).
	HardwareOSD       OSDController
	HardwareOSDPeriod time.Duration // 0 defaults to 200ms

	// Serial-mode only:
	Registry     *detect.Registry
	Overlay      FrameOverlay
	SkipEveryN   int // 0 or 1 disables skipping
	RGBPoolSize  int // spec: capacity >= 4
	YUVPoolSize  int // spec: VI buffer-count, default 4
	ModelChnW    int // CHN1 width when a detector is active (0 = detector decides)
	ModelChnH    int
}

// FrameOverlay is the subset of overlay.Renderer the frame worker needs,
// kept as a narrow local interface so this package doesn't import gocv
// transitively through the overlay package's CPU blit backend.
type FrameOverlay interface {
	Draw(frame []byte, width, height int, detections []detect.Detection) error
}

// OSDController is the subset of overlay.HardwareOSDRenderer a Pipeline
// drives directly: start/stop its independent tick loop and feed it the
// latest detections, without this package importing the overlay package.
type OSDController interface {
	Start(period time.Duration)
	Stop()
	Update(detections []detect.Detection, width, height int)
}

const defaultHardwareOSDPeriod = 200 * time.Millisecond

// Pipeline is the capability both variants implement. The manager talks to
// whichever is active only through this interface.
type Pipeline interface {
	Mode() Mode
	// Start arms the pipeline; a no-op for ParallelPipeline since the
	// bound hardware is already producing post-construction.
	Start() error
	// Stop performs a hard cancellation: closes queues, unblocks waiters,
	// and joins every worker within the context's deadline.
	Stop(ctx context.Context) error
	// PullPacket retrieves the next encoded chunk from this pipeline's
	// VENC session, applying the documented capped backoff on BUF_EMPTY.
	PullPacket(timeout time.Duration, stop <-chan struct{}) (hwsession.EncodedChunk, error)
}
