// Package webrtctrack adapts a dispatch.EncodedPacket stream onto a pion
// WebRTC track, with PLI-driven keyframe requests. Grounded on
// client/client.go's PumpRTP (retry-until-ready WriteRTP loop) and
// webrtc/sfu.go's requestKeyframePLI/burstKeyframes helpers, generalized
// from "forward someone else's RTP" to "packetize our own encoded frames".
package webrtctrack

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/n0remac/netcam-core/dispatch"
)

// Consumer pushes encoded packets onto a TrackLocalStaticSample, which
// performs its own RTP packetization (H264/H265/MJPEG depending on the
// track's codec capability). Frames are dropped until the first keyframe
// arrives, and again after RequestKeyframe (the PLI path) until the next
// one, since mid-GOP delivery without the keyframe is undecodable. The
// consumer does not itself ask the encoder for a keyframe.
type Consumer struct {
	log   *slog.Logger
	track *webrtc.TrackLocalStaticSample

	mu             sync.Mutex
	sawKeyframe    bool
	frameDur       time.Duration
	pliRequested   bool
}

// NewConsumer wraps track. frameDuration is used as the media.Sample
// Duration hint (pion uses it only for RTP timestamp pacing when the
// caller doesn't supply PTS-derived durations directly).
func NewConsumer(log *slog.Logger, track *webrtc.TrackLocalStaticSample, frameDuration time.Duration) *Consumer {
	return &Consumer{log: log, track: track, frameDur: frameDuration}
}

// RequestKeyframe marks that the next packet must be a keyframe before
// anything is forwarded — call this from a received PLI/FIR handler.
func (c *Consumer) RequestKeyframe() {
	c.mu.Lock()
	c.pliRequested = true
	c.sawKeyframe = false
	c.mu.Unlock()
}

// Callback is registered with dispatch.Dispatcher as this consumer's
// ConsumerRegistration.Callback.
func (c *Consumer) Callback(pkt dispatch.EncodedPacket) {
	c.mu.Lock()
	if pkt.IsKeyframe {
		c.sawKeyframe = true
		c.pliRequested = false
	}
	ready := c.sawKeyframe
	c.mu.Unlock()

	if !ready {
		return
	}

	if err := c.track.WriteSample(media.Sample{Data: pkt.Bytes, Duration: c.frameDur}); err != nil {
		if c.log != nil {
			c.log.Warn("webrtctrack: write sample failed", "error", err, "sequence", pkt.Sequence)
		}
	}
}
