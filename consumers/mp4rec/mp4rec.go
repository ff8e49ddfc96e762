// Package mp4rec muxes an EncodedPacket stream into fragmented MP4 files,
// writing to a ".tmp" path and renaming on finalize per spec §6's recorder
// contract. Grounded on helixml-helix's fmp4_stream_handler.go: extract
// SPS/PPS from the Annex-B NAL stream, write one init segment (ftyp+moov)
// on the first keyframe, then one moof+mdat fragment per frame via
// Eyevinn/mp4ff.
package mp4rec

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Eyevinn/mp4ff/avc"
	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/n0remac/netcam-core/dispatch"
)

const timescale = 90000

// Recorder muxes incoming H264 Annex-B packets into one fragmented MP4 file
// per recording session. Start/Stop bracket a session; Callback may stay
// registered with the Dispatcher throughout and ignores packets outside a
// session.
type Recorder struct {
	log *slog.Logger
	dir string

	mu          sync.Mutex
	file        *os.File
	tmpPath     string
	finalPath   string
	initialized bool
	sps, pps    []byte
	width       uint32
	height      uint32
	frameNum    uint32
	baseTime    uint64
	lastPTS     uint64
	active      bool
}

// NewRecorder constructs a Recorder writing into dir (created if absent).
func NewRecorder(log *slog.Logger, dir string) *Recorder {
	return &Recorder{log: log, dir: dir}
}

// Start begins a new recording session named by the current timestamp,
// per spec's "recordings/<start-timestamp>.mp4" convention. now is passed
// in rather than read from time.Now() so callers control naming in tests.
func (r *Recorder) Start(now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return fmt.Errorf("mp4rec: recording already active")
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("mp4rec: create recordings dir: %w", err)
	}
	name := fmt.Sprintf("%d.mp4", now.Unix())
	r.finalPath = filepath.Join(r.dir, name)
	r.tmpPath = r.finalPath + ".tmp"

	f, err := os.Create(r.tmpPath)
	if err != nil {
		return fmt.Errorf("mp4rec: create tmp file: %w", err)
	}
	r.file = f
	r.initialized = false
	r.sps, r.pps = nil, nil
	r.frameNum = 0
	r.baseTime = 0
	r.lastPTS = 0
	r.active = true
	return nil
}

// Stop closes the current file and renames it into place, if a session is
// active.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return fmt.Errorf("mp4rec: no active recording")
	}
	r.active = false
	if r.file != nil {
		if err := r.file.Close(); err != nil {
			return fmt.Errorf("mp4rec: close tmp file: %w", err)
		}
	}
	if err := os.Rename(r.tmpPath, r.finalPath); err != nil {
		return fmt.Errorf("mp4rec: rename tmp file: %w", err)
	}
	return nil
}

// Callback is registered with dispatch.Dispatcher as this consumer's
// ConsumerRegistration.Callback. Packets arriving while no session is
// active are silently dropped.
func (r *Recorder) Callback(pkt dispatch.EncodedPacket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	if err := r.processLocked(pkt); err != nil && r.log != nil {
		r.log.Warn("mp4rec: process packet failed", "error", err, "sequence", pkt.Sequence)
	}
}

func (r *Recorder) processLocked(pkt dispatch.EncodedPacket) error {
	nalus := avc.ExtractNalusFromByteStream(pkt.Bytes)
	if len(nalus) == 0 {
		return nil
	}

	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		switch nalu[0] & 0x1F {
		case 7: // SPS
			r.sps = append([]byte(nil), nalu...)
		case 8: // PPS
			r.pps = append([]byte(nil), nalu...)
		}
	}

	if !r.initialized && r.sps != nil && r.pps != nil {
		if err := r.writeInitSegment(); err != nil {
			return fmt.Errorf("write init segment: %w", err)
		}
		r.initialized = true
		r.baseTime = uint64(pkt.PTS)
	}
	if !r.initialized {
		return nil
	}

	var frameNALUs [][]byte
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		if t := nalu[0] & 0x1F; t != 7 && t != 8 {
			frameNALUs = append(frameNALUs, nalu)
		}
	}
	if len(frameNALUs) == 0 {
		return nil
	}
	return r.writeMediaSegment(frameNALUs, pkt.IsKeyframe, uint64(pkt.PTS))
}

func (r *Recorder) writeInitSegment() error {
	if spsInfo, err := avc.ParseSPSNALUnit(r.sps, true); err == nil {
		r.width = uint32(spsInfo.Width)
		r.height = uint32(spsInfo.Height)
	} else if r.log != nil {
		r.log.Warn("mp4rec: parse SPS failed, dimensions may be wrong", "error", err)
	}

	init := mp4.CreateEmptyInit()
	init.AddEmptyTrack(timescale, "video", "und")

	trak := init.Moov.Trak
	stsd := trak.Mdia.Minf.Stbl.Stsd

	avcC, err := mp4.CreateAvcC([][]byte{r.sps}, [][]byte{r.pps}, true)
	if err != nil {
		return fmt.Errorf("create avcC: %w", err)
	}
	avcx := mp4.CreateVisualSampleEntryBox("avc1", uint16(r.width), uint16(r.height), avcC)
	stsd.AddChild(avcx)

	var buf bytes.Buffer
	if err := init.Encode(&buf); err != nil {
		return fmt.Errorf("encode init segment: %w", err)
	}
	_, err = r.file.Write(buf.Bytes())
	return err
}

func (r *Recorder) writeMediaSegment(nalus [][]byte, isKeyframe bool, ptsUs uint64) error {
	r.frameNum++
	decodeTime := ptsUs - r.baseTime

	var sampleDur uint32 = timescale / 30
	if r.lastPTS > 0 && ptsUs > r.lastPTS {
		sampleDur = uint32((ptsUs - r.lastPTS) * timescale / 1_000_000)
		if sampleDur == 0 {
			sampleDur = timescale / 30
		}
	}
	r.lastPTS = ptsUs

	var sampleData []byte
	for _, nalu := range nalus {
		var lenBuf [4]byte
		lenBuf[0] = byte(len(nalu) >> 24)
		lenBuf[1] = byte(len(nalu) >> 16)
		lenBuf[2] = byte(len(nalu) >> 8)
		lenBuf[3] = byte(len(nalu))
		sampleData = append(sampleData, lenBuf[:]...)
		sampleData = append(sampleData, nalu...)
	}

	frag, err := mp4.CreateFragment(r.frameNum, 1)
	if err != nil {
		return fmt.Errorf("create fragment: %w", err)
	}

	flags := mp4.SyncSampleFlags
	if !isKeyframe {
		flags = mp4.NonSyncSampleFlags
	}
	frag.AddFullSample(mp4.FullSample{
		Sample: mp4.Sample{
			Flags: flags,
			Dur:   sampleDur,
			Size:  uint32(len(sampleData)),
		},
		DecodeTime: decodeTime,
		Data:       sampleData,
	})

	var buf bytes.Buffer
	if err := frag.Encode(&buf); err != nil {
		return fmt.Errorf("encode fragment: %w", err)
	}
	_, err = r.file.Write(buf.Bytes())
	return err
}
