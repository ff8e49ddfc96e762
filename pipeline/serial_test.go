package pipeline_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/n0remac/netcam-core/detect"
	"github.com/n0remac/netcam-core/hwsession"
	"github.com/n0remac/netcam-core/pipeline"
)

// fakeOSDController records Start/Stop/Update calls so tests can confirm the
// hardware OSD path is actually driven by the frame worker, not just
// constructible.
type fakeOSDController struct {
	mu       sync.Mutex
	started  bool
	stopped  bool
	updates  int
	lastDets []detect.Detection
}

func (f *fakeOSDController) Start(time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
}

func (f *fakeOSDController) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeOSDController) Update(detections []detect.Detection, width, height int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	f.lastDets = detections
}

func (f *fakeOSDController) snapshot() (started, stopped bool, updates int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started, f.stopped, f.updates
}

func TestSerialPipelineRunsFrameWorkerAndStopsCleanly(t *testing.T) {
	backend := hwsession.NewSimBackend()
	registry := detect.NewRegistry()
	require.NoError(t, registry.Load(detect.KindYOLOv5, "sim://yolov5", func() detect.Detector {
		return detect.NewGridAnchorDetector(320, 320, 3, []string{"a", "b", "c"}, detect.NewSimNPU())
	}))

	cfg := pipeline.Config{
		Backend: backend, Width: 640, Height: 480, FrameRate: 30,
		Codec: hwsession.CodecH264, BitrateKbps: 4000,
		Registry: registry, RGBPoolSize: 4, YUVPoolSize: 4,
		ModelChnW: 320, ModelChnH: 320,
	}
	p, err := pipeline.NewSerialPipeline(cfg, nil)
	require.NoError(t, err)
	require.Equal(t, pipeline.ModeSerial, p.Mode())
	require.NoError(t, p.Start())

	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))
}

func TestSerialPipelineDrivesHardwareOSDFromDetections(t *testing.T) {
	backend := hwsession.NewSimBackend()
	registry := detect.NewRegistry()
	require.NoError(t, registry.Load(detect.KindYOLOv5, "sim://yolov5", func() detect.Detector {
		return detect.NewGridAnchorDetector(320, 320, 3, []string{"a", "b", "c"}, detect.NewSimNPU())
	}))

	osd := &fakeOSDController{}
	cfg := pipeline.Config{
		Backend: backend, Width: 640, Height: 480, FrameRate: 30,
		Codec: hwsession.CodecH264, BitrateKbps: 4000,
		Registry: registry, RGBPoolSize: 4, YUVPoolSize: 4,
		ModelChnW: 320, ModelChnH: 320,
		HardwareOSD: osd, HardwareOSDPeriod: 5 * time.Millisecond,
	}
	p, err := pipeline.NewSerialPipeline(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, p.Start())

	require.Eventually(t, func() bool {
		_, _, updates := osd.snapshot()
		return updates > 0
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))

	started, stopped, _ := osd.snapshot()
	require.True(t, started)
	require.True(t, stopped)
}

func TestSerialPipelineRejectsInvalidGeometry(t *testing.T) {
	backend := hwsession.NewSimBackend()
	cfg := pipeline.Config{Backend: backend, Width: 0, Height: 0, FrameRate: 30, Codec: hwsession.CodecH264}
	_, err := pipeline.NewSerialPipeline(cfg, nil)
	require.Error(t, err)
}
