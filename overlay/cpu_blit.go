package overlay

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/n0remac/netcam-core/detect"
)

// CPUBlitRenderer draws directly into an RGB frame's bytes via gocv, the
// same drawing primitives cvpipe/pipeline.go uses for its Haar-cascade
// overlay (gocv.Rectangle onto a Mat wrapping the frame bytes), generalized
// to labels and landmark points and to class-dependent colors.
type CPUBlitRenderer struct {
	StrokeWidth int
	ClassColor  ClassColor
}

// NewCPUBlitRenderer constructs a renderer with a 2px stroke and the
// default class palette.
func NewCPUBlitRenderer() *CPUBlitRenderer {
	return &CPUBlitRenderer{StrokeWidth: 2, ClassColor: DefaultClassColor}
}

func (r *CPUBlitRenderer) Draw(frame []byte, width, height int, detections []detect.Detection) error {
	if len(detections) == 0 {
		return nil
	}
	if len(frame) != width*height*3 {
		return fmt.Errorf("overlay: frame size %d does not match %dx%d RGB", len(frame), width, height)
	}

	mat, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, frame)
	if err != nil {
		return fmt.Errorf("overlay: wrap frame: %w", err)
	}
	defer mat.Close()

	classColor := r.ClassColor
	if classColor == nil {
		classColor = DefaultClassColor
	}

	for _, d := range detections {
		rect := clampRect(d.Box, width, height)
		col := classColor(d.ClassID)
		gocv.Rectangle(&mat, rect, col, r.strokeWidth())

		if d.Label != "" {
			origin := image.Pt(rect.Min.X, rect.Min.Y-4)
			if origin.Y < 0 {
				origin.Y = rect.Min.Y + 12
			}
			gocv.PutText(&mat, d.Label, origin, gocv.FontHersheyPlain, 1.0, col, 1)
		}

		for _, p := range d.Landmarks {
			center := image.Pt(int(p.X), int(p.Y))
			gocv.Circle(&mat, center, 2, col, -1)
		}
	}

	copy(frame, mat.ToBytes())
	return nil
}

func (r *CPUBlitRenderer) strokeWidth() int {
	if r.StrokeWidth <= 0 {
		return 2
	}
	return r.StrokeWidth
}

func clampRect(b detect.Box, width, height int) image.Rectangle {
	x0, y0 := int(b.XMin), int(b.YMin)
	x1, y1 := int(b.XMax), int(b.YMax)
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > width {
		x1 = width
	}
	if y1 > height {
		y1 = height
	}
	if x1 < x0 {
		x1 = x0
	}
	if y1 < y0 {
		y1 = y0
	}
	return image.Rect(x0, y0, x1, y1)
}
