package detect

import (
	"fmt"
	"math"

	"github.com/n0remac/netcam-core/errs"
)

const (
	faceV0          = 0.1
	faceV1          = 0.2
	faceScoreThresh = 0.5
	faceIoUThresh   = 0.2
	faceMaxResults  = 128
	numLandmarks    = 5
)

// facePrior is one precomputed reference box, in normalized [0,1] image
// coordinates, against which network outputs are decoded.
type facePrior struct {
	cx, cy float64
	sx, sy float64 // normalized width/height (min-size / input dimension)
}

type faceStage struct {
	stride   int
	minSizes [2]int
}

var defaultFaceStages = []faceStage{
	{stride: 8, minSizes: [2]int{16, 32}},
	{stride: 16, minSizes: [2]int{64, 128}},
	{stride: 32, minSizes: [2]int{256, 512}},
}

// generateFacePriors builds the fixed prior table for a given input size,
// one prior per (cell, min-size) pair across all three feature maps — the
// same construction the original RetinaFace engine uses, not given in the
// distilled spec beyond the v0/v1 decode constants.
func generateFacePriors(inputW, inputH int) []facePrior {
	var priors []facePrior
	for _, stage := range defaultFaceStages {
		gw := inputW / stage.stride
		gh := inputH / stage.stride
		for gy := 0; gy < gh; gy++ {
			for gx := 0; gx < gw; gx++ {
				for _, minSize := range stage.minSizes {
					priors = append(priors, facePrior{
						cx: (float64(gx) + 0.5) * float64(stage.stride) / float64(inputW),
						cy: (float64(gy) + 0.5) * float64(stage.stride) / float64(inputH),
						sx: float64(minSize) / float64(inputW),
						sy: float64(minSize) / float64(inputH),
					})
				}
			}
		}
	}
	return priors
}

// FaceDetector is the prior-based face-with-landmarks variant: location,
// per-class (background/face) score, and five-point landmark offsets,
// decoded against a fixed prior table.
type FaceDetector struct {
	inputW, inputH int
	priors         []facePrior
	npu            npuBackend
	loaded         bool
}

// NewFaceDetector constructs an unloaded face detector for the given input
// tile size.
func NewFaceDetector(inputW, inputH int, npu npuBackend) *FaceDetector {
	if npu == nil {
		npu = NewSimNPU()
	}
	return &FaceDetector{inputW: inputW, inputH: inputH, npu: npu}
}

func (d *FaceDetector) Kind() Kind { return KindRetinaFace }

func (d *FaceDetector) Load(modelPath string) error {
	if err := d.npu.LoadModel(modelPath, d.inputW, d.inputH, 3); err != nil {
		return fmt.Errorf("detect: face load %q: %w", modelPath, errs.ErrModelLoad)
	}
	d.priors = generateFacePriors(d.inputW, d.inputH)
	d.loaded = true
	return nil
}

func (d *FaceDetector) InputRegion() []byte {
	return make([]byte, d.inputW*d.inputH*3)
}

func (d *FaceDetector) Infer() error {
	if !d.loaded {
		return fmt.Errorf("detect: infer before load: %w", errs.ErrModelLoad)
	}
	return d.npu.Infer(nil)
}

func (d *FaceDetector) InputSize() (int, int) { return d.inputW, d.inputH }

func (d *FaceDetector) Close() error {
	d.loaded = false
	d.priors = nil
	return d.npu.Close()
}

type faceOutputSource interface {
	faceOutputs() (loc, conf, landm []float64)
}

func (d *FaceDetector) Decode() ([]Detection, error) {
	src, ok := d.npu.(faceOutputSource)
	if !ok {
		return nil, fmt.Errorf("detect: face backend does not expose raw outputs")
	}
	loc, conf, landm := src.faceOutputs()

	var dets []Detection
	for i, p := range d.priors {
		if (i+1)*2 > len(conf) {
			break
		}
		bg := conf[i*2]
		fg := conf[i*2+1]
		score := softmax2(bg, fg)
		if score < faceScoreThresh {
			continue
		}
		if (i+1)*4 > len(loc) {
			continue
		}
		lx, ly, lw, lh := loc[i*4], loc[i*4+1], loc[i*4+2], loc[i*4+3]

		cx := p.cx + lx*faceV0*p.sx
		cy := p.cy + ly*faceV0*p.sy
		w := p.sx * math.Exp(lw*faceV1)
		h := p.sy * math.Exp(lh*faceV1)

		box := Box{
			XMin: (cx - w/2) * float64(d.inputW),
			YMin: (cy - h/2) * float64(d.inputH),
			XMax: (cx + w/2) * float64(d.inputW),
			YMax: (cy + h/2) * float64(d.inputH),
		}

		var landmarks []Point
		if (i+1)*numLandmarks*2 <= len(landm) {
			landmarks = make([]Point, numLandmarks)
			for j := 0; j < numLandmarks; j++ {
				lmx := landm[i*numLandmarks*2+j*2]
				lmy := landm[i*numLandmarks*2+j*2+1]
				px := p.cx + lmx*faceV0*p.sx
				py := p.cy + lmy*faceV0*p.sy
				landmarks[j] = Point{X: px * float64(d.inputW), Y: py * float64(d.inputH)}
			}
		}

		dets = append(dets, Detection{
			Box:        box,
			Confidence: score,
			ClassID:    0,
			Label:      "face",
			Landmarks:  landmarks,
		})
	}

	dets = nms(dets, faceIoUThresh)
	if len(dets) > faceMaxResults {
		sortByConfidenceDesc(dets)
		dets = dets[:faceMaxResults]
	}
	return dets, nil
}

// softmax2 returns the softmax probability of the second logit, i.e. the
// face-class probability when bg is the background logit.
func softmax2(bg, fg float64) float64 {
	m := math.Max(bg, fg)
	eb := math.Exp(bg - m)
	ef := math.Exp(fg - m)
	return ef / (eb + ef)
}
