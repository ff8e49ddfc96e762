package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/n0remac/netcam-core/hwsession"
	"github.com/n0remac/netcam-core/pipeline"
)

func TestParallelPipelineStartIsNoOpAndPullWorks(t *testing.T) {
	backend := hwsession.NewSimBackend()
	cfg := pipeline.Config{
		Backend: backend, Width: 1920, Height: 1080, FrameRate: 30,
		Codec: hwsession.CodecH264, BitrateKbps: 10000,
	}
	p, err := pipeline.NewParallelPipeline(cfg, nil)
	require.NoError(t, err)
	require.Equal(t, pipeline.ModeParallel, p.Mode())

	require.NoError(t, p.Start())

	stop := make(chan struct{})
	chunk, err := p.PullPacket(100*time.Millisecond, stop)
	require.NoError(t, err)
	require.NotEmpty(t, chunk.Bytes)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))
}

func TestParallelPipelineStartsAndStopsHardwareOSD(t *testing.T) {
	backend := hwsession.NewSimBackend()
	osd := &fakeOSDController{}
	cfg := pipeline.Config{
		Backend: backend, Width: 1920, Height: 1080, FrameRate: 30,
		Codec: hwsession.CodecH264, BitrateKbps: 10000,
		HardwareOSD: osd, HardwareOSDPeriod: 5 * time.Millisecond,
	}
	p, err := pipeline.NewParallelPipeline(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, p.Start())

	started, _, _ := osd.snapshot()
	require.True(t, started)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))

	_, stopped, _ := osd.snapshot()
	require.True(t, stopped)
}

func TestParallelPipelineUnwindsOnConstructFailure(t *testing.T) {
	backend := hwsession.NewSimBackend()
	cfg := pipeline.Config{
		Backend: backend, Width: 0, Height: 0, FrameRate: 30,
		Codec: hwsession.CodecH264,
	}
	_, err := pipeline.NewParallelPipeline(cfg, nil)
	require.Error(t, err)

	// A subsequent, valid construction must succeed without sleeping,
	// confirming nothing from the failed attempt leaked.
	cfg.Width, cfg.Height = 640, 480
	p, err := pipeline.NewParallelPipeline(cfg, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))
}
