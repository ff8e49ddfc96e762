// Package detect implements the pluggable Detector contract (spec component
// C4) and its thread-safe cold-swap cell, DetectorRegistry (C5). Detector
// itself never branches on concrete type outside construction — callers see
// only the {Load, InputRegion, Infer, Decode, InputSize} capability
// interface, grounded on the shape of the Detector interface in
// other_examples' orbo pipeline/interfaces.go, generalized here to a
// hardware-inference contract instead of a CPU frame-processing one.
package detect

import "fmt"

// Kind identifies which concrete Detector variant is loaded.
type Kind int

const (
	KindNone Kind = iota
	KindYOLOv5
	KindRetinaFace
)

func (k Kind) String() string {
	switch k {
	case KindYOLOv5:
		return "yolov5"
	case KindRetinaFace:
		return "retinaface"
	default:
		return "none"
	}
}

// ParseKind accepts the lowercase wire names used by the control protocol.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "yolov5":
		return KindYOLOv5, nil
	case "retinaface":
		return KindRetinaFace, nil
	case "none":
		return KindNone, nil
	default:
		return KindNone, fmt.Errorf("detect: unknown detector kind %q", s)
	}
}

// Point is a single landmark coordinate in model-input pixel space.
type Point struct{ X, Y float64 }

// Box is an axis-aligned box in model-input pixel coordinates.
type Box struct {
	XMin, YMin, XMax, YMax float64
}

func (b Box) width() float64  { return b.XMax - b.XMin }
func (b Box) height() float64 { return b.YMax - b.YMin }
func (b Box) area() float64   { return b.width() * b.height() }

// iou returns the intersection-over-union of two boxes.
func (b Box) iou(o Box) float64 {
	ix1, iy1 := max(b.XMin, o.XMin), max(b.YMin, o.YMin)
	ix2, iy2 := min(b.XMax, o.XMax), min(b.YMax, o.YMax)
	iw, ih := max(0, ix2-ix1), max(0, iy2-iy1)
	inter := iw * ih
	union := b.area() + o.area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Detection is one decoded result, in model-input pixel space. Consumers
// remap to full-resolution coordinates via the LetterboxInfo used for that
// inference.
type Detection struct {
	Box        Box
	Confidence float64
	ClassID    int
	Label      string
	Landmarks  []Point
}

// LetterboxInfo describes the scale-and-center-pad transform applied to fit
// a source image into a fixed model input while preserving aspect ratio.
// Derived purely from input and model dimensions; immutable per inference.
type LetterboxInfo struct {
	Scale                  float64
	LeftPad, TopPad        float64
	SrcW, SrcH             int
	DstW, DstH             int
}

// MapToSource applies the inverse letterbox transform to a Detection's box
// and landmarks, producing full-resolution pixel coordinates.
func (l LetterboxInfo) MapToSource(d Detection) Detection {
	out := d
	out.Box = Box{
		XMin: (d.Box.XMin - l.LeftPad) / l.Scale,
		YMin: (d.Box.YMin - l.TopPad) / l.Scale,
		XMax: (d.Box.XMax - l.LeftPad) / l.Scale,
		YMax: (d.Box.YMax - l.TopPad) / l.Scale,
	}
	if len(d.Landmarks) > 0 {
		out.Landmarks = make([]Point, len(d.Landmarks))
		for i, p := range d.Landmarks {
			out.Landmarks[i] = Point{
				X: (p.X - l.LeftPad) / l.Scale,
				Y: (p.Y - l.TopPad) / l.Scale,
			}
		}
	}
	return out
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
