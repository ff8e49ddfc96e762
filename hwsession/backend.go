// Package hwsession wraps the four hardware domains the pipeline acquires —
// ISP, VI, VPSS, VENC — in scoped sessions whose construction performs the
// vendor-SDK enable dance and whose destruction performs the exact reverse.
//
// No real vendor MPI SDK is in scope (spec.md explicitly keeps it an
// external collaborator), so Backend is implemented only by a simulated
// device: the same shape the teacher repo uses for its own missing-hardware
// case, where cmd/servo/main.go falls back to a nopBus/NopMotor when
// /dev/i2c-1 isn't present rather than failing the whole program. Here the
// fallback is also the only backend, since a "real" implementation would
// just be more syscalls behind the same interface.
package hwsession

import (
	"fmt"
	"sync"
	"time"

	"github.com/n0remac/netcam-core/errs"
)

// ISPConfig configures the on-chip image signal processor.
type ISPConfig struct {
	Width, Height int
}

// VIConfig configures the video-input domain: one device bound to one pipe,
// channel zero delivering YUV 4:2:0 semi-planar frames.
type VIConfig struct {
	Width, Height int
	BufferCount   int // spec: 4
	Depth         int // spec: 0, mandatory when VPSS is bound downstream
	Compressed    bool
}

// VPSSChannelConfig configures one VPSS output channel tap.
type VPSSChannelConfig struct {
	Width, Height int
	Depth         int
	Enabled       bool
}

// VPSSConfig configures Group-0 with its two output channel taps.
type VPSSConfig struct {
	Chn0 VPSSChannelConfig // full resolution, depth 0, bound to VENC in parallel mode
	Chn1 VPSSChannelConfig // model-input resolution, depth >= 2, user-readable
}

// Codec selects the VENC compression standard.
type Codec int

const (
	CodecH264 Codec = iota
	CodecH265
	CodecMJPEG
)

// VENCConfig configures the hardware encoder.
type VENCConfig struct {
	Width, Height int
	Codec         Codec
	FrameRate     int // GOP = FrameRate * 2
	BitrateKbps   int // CBR target, spec default ~10000
	Bound         bool // true: fed by hardware binding (parallel); false: fed by submit_frame (serial)
}

// VPSSToken identifies a live VPSS group acquisition so ReconfigureChn1 can
// target it without the backend needing a registry of its own.
type VPSSToken struct{ id int }

// VENCToken identifies a live VENC channel acquisition.
type VENCToken struct{ id int }

// Backend is the vendor-SDK enable/disable surface. One process-wide
// instance is shared by every HwSession; a real implementation would
// serialize these calls against the kernel driver, which is exactly what
// SimBackend's mutex models.
type Backend interface {
	EnableISP(cfg ISPConfig) error
	DisableISP() error

	EnableVI(cfg VIConfig) error
	DisableVI() error

	EnableVPSS(cfg VPSSConfig) (VPSSToken, error)
	DisableVPSS(tok VPSSToken) error
	// ReconfigureChn1 disables, reconfigures, and re-enables CHN1
	// atomically: if any step fails the channel is left disabled and the
	// original error is returned.
	ReconfigureChn1(tok VPSSToken, width, height int) error
	// FillYUVFrame writes one YUV 4:2:0 semi-planar frame from the given
	// channel (0 or 1) directly into dst, simulating the zero-copy DMA
	// write a real VPSS tap would perform into a caller-owned buffer.
	// Blocks up to timeout; returns errs.ErrWouldBlock if none arrives.
	FillYUVFrame(tok VPSSToken, chn int, dst []byte, timeout time.Duration) (timestampUs int64, sequence uint64, err error)

	EnableVENC(cfg VENCConfig) (VENCToken, error)
	DisableVENC(tok VENCToken) error
	// PullPacket retrieves the next encoded packet, blocking up to
	// timeout. Returns errs.ErrWouldBlock on BUF_EMPTY so the caller can
	// apply the documented capped exponential backoff.
	PullPacket(tok VENCToken, timeout time.Duration) (EncodedChunk, error)
	// SubmitFrame feeds one RGB frame into a software-fed (serial mode)
	// VENC channel.
	SubmitFrame(tok VENCToken, rgb []byte, timestampUs int64) error
}

// EncodedChunk is the raw bytes handed up from the simulated encoder before
// the dispatcher wraps it in an owned EncodedPacket.
type EncodedChunk struct {
	Bytes       []byte
	PTS         int64
	Sequence    uint64
	IsKeyframe  bool
}

// SimBackend simulates the vendor SDK well enough to exercise every
// orchestration path without real silicon: enabling/disabling subsystems,
// tearing down/restoring CHN1, and producing one fake encoded chunk per
// PullPacket call, without pacing, once VENC is enabled.
type SimBackend struct {
	mu sync.Mutex

	ispOn bool
	viOn  bool

	nextVPSS int
	vpss     map[int]*simVPSS

	nextVENC int
	venc     map[int]*simVENC
}

type simVPSS struct {
	cfg      VPSSConfig
	chn1Off  bool
	frameSeq uint64
}

type simVENC struct {
	cfg VENCConfig
	seq uint64
}

// NewSimBackend constructs a ready-to-use simulated backend.
func NewSimBackend() *SimBackend {
	return &SimBackend{
		vpss: make(map[int]*simVPSS),
		venc: make(map[int]*simVENC),
	}
}

func (b *SimBackend) EnableISP(cfg ISPConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("hwsession: invalid ISP config %+v: %w", cfg, errs.ErrHardwareUnavailable)
	}
	b.ispOn = true
	return nil
}

func (b *SimBackend) DisableISP() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ispOn = false
	return nil
}

func (b *SimBackend) EnableVI(cfg VIConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ispOn {
		return fmt.Errorf("hwsession: VI requires ISP enabled: %w", errs.ErrHardwareUnavailable)
	}
	if cfg.BufferCount <= 0 {
		return fmt.Errorf("hwsession: invalid VI buffer count %d: %w", cfg.BufferCount, errs.ErrHardwareUnavailable)
	}
	b.viOn = true
	return nil
}

func (b *SimBackend) DisableVI() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.viOn = false
	return nil
}

func (b *SimBackend) EnableVPSS(cfg VPSSConfig) (VPSSToken, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.viOn {
		return VPSSToken{}, fmt.Errorf("hwsession: VPSS requires VI enabled: %w", errs.ErrHardwareUnavailable)
	}
	id := b.nextVPSS
	b.nextVPSS++
	b.vpss[id] = &simVPSS{cfg: cfg, chn1Off: !cfg.Chn1.Enabled}
	return VPSSToken{id: id}, nil
}

func (b *SimBackend) DisableVPSS(tok VPSSToken) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.vpss, tok.id)
	return nil
}

func (b *SimBackend) ReconfigureChn1(tok VPSSToken, width, height int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.vpss[tok.id]
	if !ok {
		return fmt.Errorf("hwsession: unknown VPSS group: %w", errs.ErrHardwareUnavailable)
	}
	g.chn1Off = true
	if width <= 0 || height <= 0 {
		return fmt.Errorf("hwsession: invalid CHN1 size %dx%d: %w", width, height, errs.ErrResizeFailed)
	}
	g.cfg.Chn1.Width, g.cfg.Chn1.Height = width, height
	g.cfg.Chn1.Enabled = true
	g.chn1Off = false
	return nil
}

func (b *SimBackend) FillYUVFrame(tok VPSSToken, chn int, dst []byte, timeout time.Duration) (int64, uint64, error) {
	b.mu.Lock()
	g, ok := b.vpss[tok.id]
	b.mu.Unlock()
	if !ok {
		return 0, 0, fmt.Errorf("hwsession: unknown VPSS group: %w", errs.ErrHardwareUnavailable)
	}
	if chn == 1 && g.chn1Off {
		return 0, 0, fmt.Errorf("hwsession: CHN1 disabled: %w", errs.ErrWouldBlock)
	}

	b.mu.Lock()
	g.frameSeq++
	seq := g.frameSeq
	b.mu.Unlock()

	for i := range dst {
		dst[i] = byte(seq + uint64(i))
	}
	return time.Now().UnixMicro(), seq, nil
}

func (b *SimBackend) EnableVENC(cfg VENCConfig) (VENCToken, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.FrameRate <= 0 {
		return VENCToken{}, fmt.Errorf("hwsession: invalid VENC config %+v: %w", cfg, errs.ErrHardwareUnavailable)
	}
	id := b.nextVENC
	b.nextVENC++
	b.venc[id] = &simVENC{cfg: cfg}
	return VENCToken{id: id}, nil
}

func (b *SimBackend) DisableVENC(tok VENCToken) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.venc, tok.id)
	return nil
}

func (b *SimBackend) PullPacket(tok VENCToken, timeout time.Duration) (EncodedChunk, error) {
	b.mu.Lock()
	v, ok := b.venc[tok.id]
	b.mu.Unlock()
	if !ok {
		return EncodedChunk{}, fmt.Errorf("hwsession: unknown VENC channel: %w", errs.ErrHardwareUnavailable)
	}

	b.mu.Lock()
	v.seq++
	seq := v.seq
	b.mu.Unlock()

	chunk := EncodedChunk{
		Bytes:      simNAL(seq),
		PTS:        time.Now().UnixMicro(),
		Sequence:   seq,
		IsKeyframe: seq%uint64(2*v.cfg.FrameRate) == 1,
	}
	return chunk, nil
}

func (b *SimBackend) SubmitFrame(tok VENCToken, rgb []byte, timestampUs int64) error {
	b.mu.Lock()
	v, ok := b.venc[tok.id]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("hwsession: unknown VENC channel: %w", errs.ErrHardwareUnavailable)
	}
	if v.cfg.Bound {
		return fmt.Errorf("hwsession: VENC channel is hardware-bound, not software-fed: %w", errs.ErrHardwareUnavailable)
	}
	return nil
}

// simNAL fabricates a plausible Annex-B-shaped payload: a start code
// followed by a few bytes derived from the sequence number, just enough to
// be non-empty and distinguishable in tests.
func simNAL(seq uint64) []byte {
	out := make([]byte, 8)
	copy(out, []byte{0, 0, 0, 1})
	out[4] = byte(seq)
	out[5] = byte(seq >> 8)
	out[6] = byte(seq >> 16)
	out[7] = byte(seq >> 24)
	return out
}
