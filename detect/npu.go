package detect

import (
	"fmt"
	"sync"
)

// npuBackend is the minimal seam between a Detector's decode arithmetic and
// whatever actually runs the quantized network. No real NPU vendor SDK is
// in scope (spec.md keeps it an external collaborator), so SimNPU is the
// only implementation: it stands in for the teacher's nopBus fallback when
// real hardware is absent, letting the registry and pipelines exercise the
// full load/infer/decode/swap lifecycle without silicon.
type npuBackend interface {
	LoadModel(path string, w, h, channels int) error
	Infer(inputRegion []byte) error
	// Output returns the raw (quantized int8) tensor for one stage,
	// addressed by its stride, or ok=false if the backend has nothing to
	// offer for that stride (e.g. unloaded).
	Output(stride int) (raw []int8, ok bool)
	Close() error
}

// SimNPU fabricates deterministic tensor output so the full dequantize →
// sigmoid → decode → NMS pipeline is exercisable and testable without real
// hardware. By default it holds no output tensors, so both decoders report
// zero detections. A grid tensor left at the quantized zero point also
// decodes to nothing: sigmoid(0)=0.5 for objectness and class gives a
// product of 0.25, which the grid-anchor decoder's score threshold rejects.
// Tests can call InjectGridHit to place one known detection at a known grid
// cell, or SetFaceOutputs to supply per-prior face tensors, and assert the
// result through Decode.
type SimNPU struct {
	mu sync.Mutex

	loaded   bool
	w, h, ch int

	gridOutputs map[int][]int8 // stride -> tensor
	faceLoc     []float64
	faceConf    []float64
	faceLandm   []float64
}

// NewSimNPU constructs a simulated NPU backend with no injected detections.
func NewSimNPU() *SimNPU {
	return &SimNPU{gridOutputs: make(map[int][]int8)}
}

func (s *SimNPU) LoadModel(path string, w, h, channels int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w, s.h, s.ch = w, h, channels
	s.loaded = true
	return nil
}

func (s *SimNPU) Infer(inputRegion []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return fmt.Errorf("detect: sim NPU infer before load")
	}
	return nil
}

func (s *SimNPU) Output(stride int) ([]int8, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.gridOutputs[stride]
	return raw, ok
}

func (s *SimNPU) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
	s.gridOutputs = make(map[int][]int8)
	return nil
}

// SetGridOutput installs a raw tensor for one stride, for tests that need
// a specific grid output.
func (s *SimNPU) SetGridOutput(stride int, raw []int8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gridOutputs[stride] = raw
}

// InjectGridHit places one high-confidence detection at grid cell (gx,gy),
// anchor index a, class index class on the stage with the given stride.
// tx=ty=tw=th are left at the quantized zero (sigmoid(0)=0.5, giving a
// box centered in the cell at the anchor's reference size) so the test can
// assert the decoded center/size analytically.
func (s *SimNPU) InjectGridHit(stride, gw, numClasses, gx, gy, a, class int) {
	perAnchor := 5 + numClasses
	gh := gw // stages are generated square-tiled; caller passes matching gw
	raw := make([]int8, gw*gh*3*perAnchor)
	base := ((gy*gw+gx)*3 + a) * perAnchor
	raw[base+4] = 127 // objectness logit -> sigmoid close to 1
	raw[base+5+class] = 127
	s.mu.Lock()
	s.gridOutputs[stride] = raw
	s.mu.Unlock()
}

func (s *SimNPU) faceOutputs() (loc, conf, landm []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faceLoc, s.faceConf, s.faceLandm
}

// SetFaceOutputs installs raw loc/conf/landmark tensors for the face
// detector, one entry-group per prior.
func (s *SimNPU) SetFaceOutputs(loc, conf, landm []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faceLoc, s.faceConf, s.faceLandm = loc, conf, landm
}
