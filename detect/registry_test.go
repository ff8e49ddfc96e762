package detect_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/n0remac/netcam-core/detect"
	"github.com/n0remac/netcam-core/errs"
)

func gridFactory(w, h int) detect.Factory {
	return func() detect.Detector {
		return detect.NewGridAnchorDetector(w, h, 3, []string{"a", "b", "c"}, detect.NewSimNPU())
	}
}

func TestRegistryLoadSwapUnloadLifecycle(t *testing.T) {
	r := detect.NewRegistry()
	require.Equal(t, detect.StateEmpty, r.State())

	require.NoError(t, r.Load(detect.KindYOLOv5, "sim://yolov5", gridFactory(640, 640)))
	require.Equal(t, detect.StateActive, r.State())
	require.Equal(t, detect.KindYOLOv5, r.Kind())

	require.NoError(t, r.Swap(detect.KindYOLOv5, "sim://yolov5-2", gridFactory(640, 640)))
	require.Equal(t, detect.StateActive, r.State())

	require.NoError(t, r.Unload())
	require.Equal(t, detect.StateEmpty, r.State())
}

func TestRegistrySwapRequiresActiveState(t *testing.T) {
	r := detect.NewRegistry()
	err := r.Swap(detect.KindYOLOv5, "sim://yolov5", gridFactory(640, 640))
	require.ErrorIs(t, err, errs.ErrAlreadySwapping)
}

func TestRegistryResizeCallbackFiresOnDimensionChange(t *testing.T) {
	r := detect.NewRegistry()
	var seen []string
	r.SetResizeCallback(func(w, h int) error {
		seen = append(seen, fmt.Sprintf("%dx%d", w, h))
		return nil
	})

	require.NoError(t, r.Load(detect.KindYOLOv5, "sim://yolov5", gridFactory(640, 640)))
	require.Equal(t, []string{"640x640"}, seen)

	require.NoError(t, r.Swap(detect.KindYOLOv5, "sim://yolov5", gridFactory(320, 320)))
	require.Equal(t, []string{"640x640", "320x320"}, seen)

	w, h := r.InputSize()
	require.Equal(t, 320, w)
	require.Equal(t, 320, h)
}

func TestRegistryResizeFailureUnloadsDetector(t *testing.T) {
	r := detect.NewRegistry()
	r.SetResizeCallback(func(w, h int) error {
		return fmt.Errorf("reconfigure refused")
	})

	err := r.Load(detect.KindYOLOv5, "sim://yolov5", gridFactory(640, 640))
	require.ErrorIs(t, err, errs.ErrResizeFailed)
	require.Equal(t, detect.StateEmpty, r.State())
}

func TestRegistryFailedSwapCollapsesToEmpty(t *testing.T) {
	r := detect.NewRegistry()
	require.NoError(t, r.Load(detect.KindYOLOv5, "sim://yolov5", gridFactory(640, 640)))

	failingFactory := func() detect.Detector {
		return failingDetector{}
	}
	err := r.Swap(detect.KindYOLOv5, "sim://bad", failingFactory)
	require.Error(t, err)
	require.Equal(t, detect.StateEmpty, r.State(), "a failed swap must not resurrect the previous detector")
}

func TestRegistryInferSkipsWhenEmpty(t *testing.T) {
	r := detect.NewRegistry()
	dets, err := r.Infer(func(region []byte) {})
	require.NoError(t, err)
	require.Nil(t, dets)
}

type failingDetector struct{ detect.Detector }

func (failingDetector) Load(string) error { return fmt.Errorf("load refused") }
