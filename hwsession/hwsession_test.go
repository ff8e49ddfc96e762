package hwsession_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/n0remac/netcam-core/hwsession"
)

func openChain(t *testing.T, backend hwsession.Backend) *hwsession.Stack {
	t.Helper()
	stack := &hwsession.Stack{}

	isp, err := hwsession.OpenISP(backend, hwsession.ISPConfig{Width: 1920, Height: 1080})
	require.NoError(t, err)
	stack.Push(isp.Close)

	vi, err := hwsession.OpenVI(backend, hwsession.VIConfig{Width: 1920, Height: 1080, BufferCount: 4, Depth: 0})
	require.NoError(t, err)
	stack.Push(vi.Close)

	vpss, err := hwsession.OpenVPSS(backend, hwsession.VPSSConfig{
		Chn0: hwsession.VPSSChannelConfig{Width: 1920, Height: 1080, Depth: 0},
		Chn1: hwsession.VPSSChannelConfig{Enabled: false},
	})
	require.NoError(t, err)
	stack.Push(vpss.Close)

	return stack
}

func TestVIRequiresISPEnabledFirst(t *testing.T) {
	backend := hwsession.NewSimBackend()
	_, err := hwsession.OpenVI(backend, hwsession.VIConfig{Width: 640, Height: 480, BufferCount: 4})
	require.Error(t, err)
}

func TestStackClosesInReverseOrder(t *testing.T) {
	backend := hwsession.NewSimBackend()
	stack := openChain(t, backend)
	require.NoError(t, stack.Unwind())

	// Re-initialization after a full unwind must succeed without any
	// sleep, exercising scenario 6's "no sessions leak" requirement.
	stack2 := openChain(t, backend)
	require.NoError(t, stack2.Unwind())
}

func TestReconfigureChn1AtomicOnFailure(t *testing.T) {
	backend := hwsession.NewSimBackend()
	stack := openChain(t, backend)
	defer stack.Unwind()

	vpss, err := hwsession.OpenVPSS(backend, hwsession.VPSSConfig{
		Chn1: hwsession.VPSSChannelConfig{Enabled: true, Width: 640, Height: 640, Depth: 2},
	})
	require.NoError(t, err)
	stack.Push(vpss.Close)

	require.NoError(t, vpss.ReconfigureChn1(320, 320))
	require.Error(t, vpss.ReconfigureChn1(0, 0))
}

func TestVENCPullPacketProducesKeyframeFirst(t *testing.T) {
	backend := hwsession.NewSimBackend()
	venc, err := hwsession.OpenVENC(backend, hwsession.VENCConfig{
		Width: 1920, Height: 1080, Codec: hwsession.CodecH264, FrameRate: 30, BitrateKbps: 10000, Bound: true,
	})
	require.NoError(t, err)
	defer venc.Close()

	stop := make(chan struct{})
	chunk, err := venc.PullPacket(100*time.Millisecond, stop)
	require.NoError(t, err)
	require.True(t, chunk.IsKeyframe)
	require.Equal(t, uint64(1), chunk.Sequence)
}

func TestVENCSubmitFrameRequiresSoftwareFedChannel(t *testing.T) {
	backend := hwsession.NewSimBackend()
	venc, err := hwsession.OpenVENC(backend, hwsession.VENCConfig{
		Width: 640, Height: 640, Codec: hwsession.CodecH264, FrameRate: 30, Bound: false,
	})
	require.NoError(t, err)
	defer venc.Close()

	require.NoError(t, venc.SubmitFrame(make([]byte, 640*640*3), time.Now().UnixMicro()))
}
