package hwsession

import (
	"errors"
	"fmt"
	"time"

	"github.com/n0remac/netcam-core/errs"
)

// ISPSession scopes the image signal processor's lifetime: enabled on
// construction, disabled on Close. Non-copyable by convention (pass
// *ISPSession, never ISPSession).
type ISPSession struct {
	backend Backend
	closed  bool
}

// OpenISP performs the ISP enable dance.
func OpenISP(b Backend, cfg ISPConfig) (*ISPSession, error) {
	if err := b.EnableISP(cfg); err != nil {
		return nil, err
	}
	return &ISPSession{backend: b}, nil
}

// Close performs the exact reverse of construction. Safe to call more than
// once; only the first call reaches the backend.
func (s *ISPSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.backend.DisableISP()
}

// VISession scopes the video-input domain's lifetime.
type VISession struct {
	backend Backend
	closed  bool
}

// OpenVI performs the VI enable dance. depth=0 is mandatory whenever a
// VPSS session will be bound downstream of this one; callers own that
// invariant by construction order.
func OpenVI(b Backend, cfg VIConfig) (*VISession, error) {
	if err := b.EnableVI(cfg); err != nil {
		return nil, err
	}
	return &VISession{backend: b}, nil
}

func (s *VISession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.backend.DisableVI()
}

// VPSSSession scopes Group-0's lifetime and exposes the CHN1 reconfigure
// operation used when a detector is swapped in or out.
type VPSSSession struct {
	backend Backend
	tok     VPSSToken
	closed  bool
}

// OpenVPSS performs the VPSS enable dance.
func OpenVPSS(b Backend, cfg VPSSConfig) (*VPSSSession, error) {
	tok, err := b.EnableVPSS(cfg)
	if err != nil {
		return nil, err
	}
	return &VPSSSession{backend: b, tok: tok}, nil
}

func (s *VPSSSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.backend.DisableVPSS(s.tok)
}

// ReconfigureChn1 disables, reconfigures, and re-enables CHN1 atomically;
// on any failure the channel is left disabled and the error is returned
// unwrapped-by-us (the backend already attaches errs.ErrResizeFailed).
func (s *VPSSSession) ReconfigureChn1(width, height int) error {
	return s.backend.ReconfigureChn1(s.tok, width, height)
}

// FillYUVFrame writes one frame from channel chn (0 or 1) directly into
// dst, blocking up to timeout.
func (s *VPSSSession) FillYUVFrame(chn int, dst []byte, timeout time.Duration) (timestampUs int64, sequence uint64, err error) {
	return s.backend.FillYUVFrame(s.tok, chn, dst, timeout)
}

// VENCSession scopes the hardware encoder's lifetime and exposes output
// pull (with capped exponential backoff on BUF_EMPTY) and frame submission
// for serial mode.
type VENCSession struct {
	backend Backend
	tok     VENCToken
	closed  bool
}

// OpenVENC performs the VENC enable dance.
func OpenVENC(b Backend, cfg VENCConfig) (*VENCSession, error) {
	tok, err := b.EnableVENC(cfg)
	if err != nil {
		return nil, err
	}
	return &VENCSession{backend: b, tok: tok}, nil
}

func (s *VENCSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.backend.DisableVENC(s.tok)
}

// SubmitFrame feeds one RGB frame to a software-fed VENC channel.
func (s *VENCSession) SubmitFrame(rgb []byte, timestampUs int64) error {
	return s.backend.SubmitFrame(s.tok, rgb, timestampUs)
}

const pullBackoffCap = time.Second

// PullPacket retrieves the next encoded chunk, retrying with an exponential
// backoff capped at one second whenever the backend reports
// errs.ErrWouldBlock (BUF_EMPTY), until ctx-style cancellation is signalled
// via the stop channel.
func (s *VENCSession) PullPacket(timeout time.Duration, stop <-chan struct{}) (EncodedChunk, error) {
	backoff := time.Millisecond
	for {
		chunk, err := s.backend.PullPacket(s.tok, timeout)
		if err == nil {
			return chunk, nil
		}
		if !errors.Is(err, errs.ErrWouldBlock) {
			return EncodedChunk{}, err
		}
		select {
		case <-stop:
			return EncodedChunk{}, fmt.Errorf("hwsession: pull cancelled: %w", errs.ErrCancelled)
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > pullBackoffCap {
			backoff = pullBackoffCap
		}
	}
}
