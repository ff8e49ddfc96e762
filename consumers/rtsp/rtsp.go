// Package rtsp packetizes an EncodedPacket stream into RTP and hands each
// packet to an externally supplied sink (the RTSP server library itself is
// an out-of-scope external collaborator per spec §1; only its narrow
// "accept one RTP packet" surface is modeled here). Grounded on the
// H264Payloader fragmentation loop used for WebRTC track writes elsewhere
// in the corpus, generalized to an arbitrary Sink instead of a pion track.
package rtsp

import (
	"log/slog"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/n0remac/netcam-core/dispatch"
)

const (
	mtu             = 1200
	h264PayloadType = 96
	rtpClockHz      = 90000
)

// Sink receives one packetized RTP frame. A real RTSP server session
// implements this by writing into its own RTP-over-TCP/UDP transport.
type Sink interface {
	WriteRTP(pkt *rtp.Packet) error
}

// Consumer packetizes incoming Annex-B H264 access units into MTU-sized
// RTP packets and writes them to Sink.
type Consumer struct {
	log  *slog.Logger
	sink Sink

	mu       sync.Mutex
	seq      uint16
	lastPTS  int64
	havePTS  bool
	payload  codecs.H264Payloader
}

// NewConsumer wraps sink.
func NewConsumer(log *slog.Logger, sink Sink) *Consumer {
	return &Consumer{log: log, sink: sink}
}

// Callback is registered with dispatch.Dispatcher as this consumer's
// ConsumerRegistration.Callback.
func (c *Consumer) Callback(pkt dispatch.EncodedPacket) {
	nalus := splitAnnexB(pkt.Bytes)
	if len(nalus) == 0 {
		return
	}

	c.mu.Lock()
	timestamp := c.rtpTimestampLocked(pkt.PTS)
	c.mu.Unlock()

	for naluIdx, nalu := range nalus {
		payloads := c.payload.Payload(mtu, nalu)
		for i, payload := range payloads {
			c.mu.Lock()
			seq := c.seq
			c.seq++
			c.mu.Unlock()

			rtpPkt := &rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					PayloadType:    h264PayloadType,
					SequenceNumber: seq,
					Timestamp:      timestamp,
					Marker:         naluIdx == len(nalus)-1 && i == len(payloads)-1,
				},
				Payload: payload,
			}
			if err := c.sink.WriteRTP(rtpPkt); err != nil {
				if c.log != nil {
					c.log.Warn("rtsp: write rtp failed", "error", err, "sequence", pkt.Sequence)
				}
				return
			}
		}
	}
}

// rtpTimestampLocked derives a monotonically increasing 90kHz RTP
// timestamp from the packet's microsecond PTS. Must be called with c.mu
// held.
func (c *Consumer) rtpTimestampLocked(ptsUs int64) uint32 {
	return uint32((ptsUs * rtpClockHz) / 1_000_000)
}

// splitAnnexB splits an Annex-B byte stream (0x000001 or 0x00000001 start
// codes) into individual NAL units, matching the shape simNAL/the hardware
// encoder produce.
func splitAnnexB(data []byte) [][]byte {
	var nalus [][]byte
	starts := findStartCodes(data)
	for i, start := range starts {
		end := len(data)
		if i+1 < len(starts) {
			end = starts[i+1].codeStart
		}
		if start.naluStart < end {
			nalus = append(nalus, data[start.naluStart:end])
		}
	}
	return nalus
}

type startCode struct {
	codeStart int
	naluStart int
}

func findStartCodes(data []byte) []startCode {
	var out []startCode
	for i := 0; i+2 < len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			out = append(out, startCode{codeStart: i, naluStart: i + 3})
			i += 2
			continue
		}
		if i+3 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 0 && data[i+3] == 1 {
			out = append(out, startCode{codeStart: i, naluStart: i + 4})
			i += 3
		}
	}
	return out
}
