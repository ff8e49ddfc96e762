package manager_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/n0remac/netcam-core/detect"
	"github.com/n0remac/netcam-core/dispatch"
	"github.com/n0remac/netcam-core/hwsession"
	"github.com/n0remac/netcam-core/manager"
	"github.com/n0remac/netcam-core/pipeline"
)

func baseConfig() pipeline.Config {
	return pipeline.Config{
		Width: 640, Height: 480, FrameRate: 30,
		Codec: hwsession.CodecH264, BitrateKbps: 4000,
		RGBPoolSize: 4, YUVPoolSize: 4,
	}
}

func TestManagerSwitchModeParallelThenSerial(t *testing.T) {
	backend := hwsession.NewSimBackend()
	m := manager.New(nil, backend, baseConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, m.SwitchMode(ctx, pipeline.ModeParallel))
	require.Equal(t, manager.StateRunning, m.Status().State)
	require.Equal(t, pipeline.ModeParallel, m.Status().Mode)

	require.NoError(t, m.SwitchMode(ctx, pipeline.ModeSerial))
	require.Equal(t, pipeline.ModeSerial, m.Status().Mode)

	require.NoError(t, m.Stop(ctx))
	require.Equal(t, manager.StateStopped, m.Status().State)
}

func TestManagerSwitchModeToCurrentModeIsNoOp(t *testing.T) {
	backend := hwsession.NewSimBackend()
	m := manager.New(nil, backend, baseConfig())

	var mu sync.Mutex
	delivered := 0
	require.NoError(t, m.RegisterConsumer(dispatch.ConsumerRegistration{
		Name: "counter", QueueCapacity: 8,
		Callback: func(p dispatch.EncodedPacket) { mu.Lock(); delivered++; mu.Unlock() },
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, m.SwitchMode(ctx, pipeline.ModeParallel))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered > 0
	}, time.Second, time.Millisecond)

	// Re-requesting the already-active mode must not tear down and rebuild
	// the Pipeline/Dispatcher: packet delivery keeps incrementing across
	// the call with no gap, rather than resetting to a fresh Dispatcher.
	require.NoError(t, m.SwitchMode(ctx, pipeline.ModeParallel))
	require.Equal(t, manager.StateRunning, m.Status().State)
	require.Equal(t, pipeline.ModeParallel, m.Status().Mode)

	mu.Lock()
	afterNoOp := delivered
	mu.Unlock()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered > afterNoOp
	}, time.Second, time.Millisecond)

	require.NoError(t, m.Stop(ctx))
}

func TestManagerConsumersSurviveModeSwitch(t *testing.T) {
	backend := hwsession.NewSimBackend()
	m := manager.New(nil, backend, baseConfig())

	var mu sync.Mutex
	count := 0
	require.NoError(t, m.RegisterConsumer(dispatch.ConsumerRegistration{
		Name: "rec", QueueCapacity: 8,
		Callback: func(p dispatch.EncodedPacket) { mu.Lock(); count++; mu.Unlock() },
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.SwitchMode(ctx, pipeline.ModeParallel))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count > 0
	}, time.Second, time.Millisecond)

	mu.Lock()
	before := count
	mu.Unlock()
	require.NoError(t, m.SwitchMode(ctx, pipeline.ModeSerial))
	_ = before

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count > before
	}, time.Second, time.Millisecond)

	require.NoError(t, m.Stop(ctx))
}

func TestManagerSwitchDetectorLoadsIntoSerialMode(t *testing.T) {
	backend := hwsession.NewSimBackend()
	cfg := baseConfig()
	cfg.ModelChnW, cfg.ModelChnH = 320, 320
	m := manager.New(nil, backend, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := m.SwitchDetector(ctx, detect.KindYOLOv5, "sim://yolov5", func() detect.Detector {
		return detect.NewGridAnchorDetector(320, 320, 3, []string{"a", "b", "c"}, detect.NewSimNPU())
	})
	require.NoError(t, err)
	require.Equal(t, pipeline.ModeSerial, m.Status().Mode)
	require.Equal(t, detect.KindYOLOv5, m.Status().DetectorKind)

	require.NoError(t, m.Stop(ctx))
}

func TestManagerDegradesOnStartFailure(t *testing.T) {
	backend := hwsession.NewSimBackend()
	cfg := baseConfig()
	cfg.Width, cfg.Height = 0, 0
	m := manager.New(nil, backend, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := m.SwitchMode(ctx, pipeline.ModeParallel)
	require.Error(t, err)
	require.Equal(t, manager.StateDegraded, m.Status().State)
}
