package detect

import (
	"fmt"

	"github.com/n0remac/netcam-core/errs"
)

// AnchorWH is one anchor box's reference width/height in model-input pixels.
type AnchorWH struct{ W, H float64 }

// gridStage is one of the three detection heads.
type gridStage struct {
	stride  int
	anchors [3]AnchorWH
}

var defaultGridStages = []gridStage{
	{stride: 8, anchors: [3]AnchorWH{{10, 13}, {16, 30}, {33, 23}}},
	{stride: 16, anchors: [3]AnchorWH{{30, 61}, {62, 45}, {59, 119}}},
	{stride: 32, anchors: [3]AnchorWH{{116, 90}, {156, 198}, {373, 326}}},
}

const (
	gridScoreThresh = 0.25
	gridIoUThresh   = 0.45
)

// GridAnchorDetector is the 80-class multi-class object detector variant:
// three output stages at strides {8,16,32}, three anchors per stage, values
// dequantized via (q - zero_point) * scale then passed through sigmoid.
type GridAnchorDetector struct {
	inputW, inputH, channels int
	numClasses               int
	classNames                []string
	zeroPoint                 []int32
	scale                     []float64
	stages                    []gridStage

	region []byte
	npu    npuBackend

	loaded bool
}

// NewGridAnchorDetector constructs an unloaded grid-anchor detector for the
// given input tile size and class count. A SimNPU backend is used when npu
// is nil, matching the teacher's nopBus fallback for missing hardware.
func NewGridAnchorDetector(inputW, inputH, numClasses int, classNames []string, npu npuBackend) *GridAnchorDetector {
	if npu == nil {
		npu = NewSimNPU()
	}
	return &GridAnchorDetector{
		inputW:     inputW,
		inputH:     inputH,
		channels:   3,
		numClasses: numClasses,
		classNames: classNames,
		stages:     defaultGridStages,
		npu:        npu,
	}
}

func (d *GridAnchorDetector) Kind() Kind { return KindYOLOv5 }

func (d *GridAnchorDetector) Load(modelPath string) error {
	if err := d.npu.LoadModel(modelPath, d.inputW, d.inputH, d.channels); err != nil {
		return fmt.Errorf("detect: grid-anchor load %q: %w", modelPath, errs.ErrModelLoad)
	}
	d.zeroPoint = make([]int32, len(d.stages))
	d.scale = make([]float64, len(d.stages))
	for i := range d.stages {
		d.zeroPoint[i] = 0
		d.scale[i] = 1.0 / 64.0
	}
	d.region = make([]byte, d.inputW*d.inputH*d.channels)
	d.loaded = true
	return nil
}

func (d *GridAnchorDetector) InputRegion() []byte { return d.region }

func (d *GridAnchorDetector) Infer() error {
	if !d.loaded {
		return fmt.Errorf("detect: infer before load: %w", errs.ErrModelLoad)
	}
	return d.npu.Infer(d.region)
}

func (d *GridAnchorDetector) InputSize() (int, int) { return d.inputW, d.inputH }

func (d *GridAnchorDetector) Close() error {
	d.loaded = false
	return d.npu.Close()
}

func (d *GridAnchorDetector) Decode() ([]Detection, error) {
	var dets []Detection
	for si, stage := range d.stages {
		raw, ok := d.npu.Output(stage.stride)
		if !ok {
			continue
		}
		gw := d.inputW / stage.stride
		gh := d.inputH / stage.stride
		perAnchor := 5 + d.numClasses

		for gy := 0; gy < gh; gy++ {
			for gx := 0; gx < gw; gx++ {
				for a, anchor := range stage.anchors {
					base := ((gy*gw+gx)*3 + a) * perAnchor
					if base+perAnchor > len(raw) {
						continue
					}
					tx := sigmoid(dequantize(raw[base+0], d.zeroPoint[si], d.scale[si]))
					ty := sigmoid(dequantize(raw[base+1], d.zeroPoint[si], d.scale[si]))
					tw := sigmoid(dequantize(raw[base+2], d.zeroPoint[si], d.scale[si]))
					th := sigmoid(dequantize(raw[base+3], d.zeroPoint[si], d.scale[si]))
					obj := sigmoid(dequantize(raw[base+4], d.zeroPoint[si], d.scale[si]))

					bestClass := 0
					bestProb := 0.0
					for c := 0; c < d.numClasses; c++ {
						p := sigmoid(dequantize(raw[base+5+c], d.zeroPoint[si], d.scale[si]))
						if p > bestProb {
							bestProb = p
							bestClass = c
						}
					}

					conf := obj * bestProb
					if conf <= gridScoreThresh {
						continue
					}

					cx := (tx*2 - 0.5 + float64(gx)) * float64(stage.stride)
					cy := (ty*2 - 0.5 + float64(gy)) * float64(stage.stride)
					bw := (tw * 2) * (tw * 2) * anchor.W
					bh := (th * 2) * (th * 2) * anchor.H

					label := ""
					if bestClass < len(d.classNames) {
						label = d.classNames[bestClass]
					}

					dets = append(dets, Detection{
						Box: Box{
							XMin: cx - bw/2,
							YMin: cy - bh/2,
							XMax: cx + bw/2,
							YMax: cy + bh/2,
						},
						Confidence: conf,
						ClassID:    bestClass,
						Label:      label,
					})
				}
			}
		}
	}
	return classWiseNMS(dets, gridIoUThresh), nil
}
