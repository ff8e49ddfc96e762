package detect_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/n0remac/netcam-core/detect"
)

func TestFaceDetectorPriorCountMatchesOriginalEngine(t *testing.T) {
	npu := detect.NewSimNPU()
	d := detect.NewFaceDetector(640, 640, npu)
	require.NoError(t, d.Load("sim://retinaface"))
	defer d.Close()

	numPriors := 80*80*2 + 40*40*2 + 20*20*2
	require.Equal(t, 16800, numPriors)

	loc := make([]float64, numPriors*4)
	conf := make([]float64, numPriors*2)
	for i := 0; i < numPriors; i++ {
		conf[i*2] = 5    // background logit
		conf[i*2+1] = -5 // face logit
	}
	landm := make([]float64, numPriors*10)
	npu.SetFaceOutputs(loc, conf, landm)

	require.NoError(t, d.Infer())
	dets, err := d.Decode()
	require.NoError(t, err)
	require.Empty(t, dets, "background-favoring conf must yield zero faces")
}

func TestFaceDetectorDecodesHighConfidencePrior(t *testing.T) {
	npu := detect.NewSimNPU()
	d := detect.NewFaceDetector(640, 640, npu)
	require.NoError(t, d.Load("sim://retinaface"))
	defer d.Close()

	numPriors := 80*80*2 + 40*40*2 + 20*20*2
	loc := make([]float64, numPriors*4)
	conf := make([]float64, numPriors*2)
	landm := make([]float64, numPriors*10)
	// Every other prior favors background, so only the hit can reach the
	// 0.5 face-score threshold (equal logits would score exactly 0.5).
	for i := 0; i < numPriors; i++ {
		conf[i*2] = 5
		conf[i*2+1] = -5
	}

	hitIdx := 100
	conf[hitIdx*2] = -5   // background logit
	conf[hitIdx*2+1] = 5  // face logit -> softmax near 1

	npu.SetFaceOutputs(loc, conf, landm)
	require.NoError(t, d.Infer())

	dets, err := d.Decode()
	require.NoError(t, err)
	require.Len(t, dets, 1)
	require.Equal(t, "face", dets[0].Label)
	require.Greater(t, dets[0].Confidence, 0.99)
	require.Len(t, dets[0].Landmarks, 5)
}

func TestFaceDetectorCapsAtMaxResults(t *testing.T) {
	npu := detect.NewSimNPU()
	d := detect.NewFaceDetector(320, 320, npu)
	require.NoError(t, d.Load("sim://retinaface"))
	defer d.Close()

	numPriors := 40*40*2 + 20*20*2 + 10*10*2
	loc := make([]float64, numPriors*4)
	conf := make([]float64, numPriors*2)
	landm := make([]float64, numPriors*10)
	// Every prior scores as a confident face; boxes sit at their priors, and
	// NMS at IoU 0.2 still leaves far more than 128 of them, exercising the
	// explicit 128-result cap.
	for i := 0; i < numPriors; i++ {
		conf[i*2] = -5
		conf[i*2+1] = 5
	}
	npu.SetFaceOutputs(loc, conf, landm)
	require.NoError(t, d.Infer())

	dets, err := d.Decode()
	require.NoError(t, err)
	require.LessOrEqual(t, len(dets), 128)
}
