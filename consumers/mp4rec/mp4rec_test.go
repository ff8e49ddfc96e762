package mp4rec_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/n0remac/netcam-core/consumers/mp4rec"
	"github.com/n0remac/netcam-core/dispatch"
)

// fakeSPS/fakePPS are not valid H264 bitstreams but are long enough and
// shaped (NAL type byte in the low 5 bits) for the recorder's own SPS/PPS
// extraction; ParseSPSNALUnit failing is handled gracefully, so this test
// only needs the recorder to reach a written, renamed file.
var fakeSPS = []byte{0x67, 0x42, 0x00, 0x1e, 0x00, 0x00, 0x00, 0x00}
var fakePPS = []byte{0x68, 0xce, 0x3c, 0x80}

func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, 0, 0, 0, 1)
		out = append(out, n...)
	}
	return out
}

func TestRecorderWritesTmpThenRenamesOnStop(t *testing.T) {
	dir := t.TempDir()
	r := mp4rec.NewRecorder(nil, dir)

	now := time.Unix(1_700_000_000, 0)
	require.NoError(t, r.Start(now))

	r.Callback(dispatch.EncodedPacket{
		Bytes:      annexB(fakeSPS, fakePPS, []byte{0x65, 1, 2, 3}),
		PTS:        0,
		Sequence:   1,
		IsKeyframe: true,
	})
	r.Callback(dispatch.EncodedPacket{
		Bytes:      annexB([]byte{0x41, 4, 5, 6}),
		PTS:        33_000,
		Sequence:   2,
	})

	require.NoError(t, r.Stop())

	final := filepath.Join(dir, "1700000000.mp4")
	info, err := os.Stat(final)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))

	_, err = os.Stat(final + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestRecorderRejectsDoubleStart(t *testing.T) {
	dir := t.TempDir()
	r := mp4rec.NewRecorder(nil, dir)
	require.NoError(t, r.Start(time.Unix(1, 0)))
	require.Error(t, r.Start(time.Unix(2, 0)))
	require.NoError(t, r.Stop())
}

func TestRecorderDropsPacketsWhenNotActive(t *testing.T) {
	dir := t.TempDir()
	r := mp4rec.NewRecorder(nil, dir)
	r.Callback(dispatch.EncodedPacket{Bytes: annexB(fakeSPS), Sequence: 1})
	require.Error(t, r.Stop())
}
