// Package overlay implements spec component C6, OverlayRenderer: rasterize
// detection boxes/labels/landmark points either by a CPU blit into an RGB
// frame (serial mode only) or by reprogramming a fixed set of hardware OSD
// regions (parallel and serial). Both backends are idempotent: calling
// Draw/Update twice with the same inputs produces the same output.
package overlay

import (
	"image/color"

	"github.com/n0remac/netcam-core/detect"
)

// Renderer is the capability every backend implements.
type Renderer interface {
	// Draw applies detections, already mapped into frame coordinates, to
	// one RGB frame. Zero detections must leave frame byte-identical.
	Draw(frame []byte, width, height int, detections []detect.Detection) error
}

// ClassColor maps a detector class ID to a draw color; used by the CPU
// blit backend when colors are class-dependent. Callers that don't need
// per-class colors can use a constant function.
type ClassColor func(classID int) color.RGBA

// DefaultClassColor cycles through a small fixed palette, matching the
// teacher's single-color gocv.Rectangle calls generalized to multiple
// classes.
func DefaultClassColor(classID int) color.RGBA {
	palette := []color.RGBA{
		{0, 255, 0, 255},
		{255, 0, 0, 255},
		{0, 128, 255, 255},
		{255, 255, 0, 255},
		{255, 0, 255, 255},
	}
	return palette[classID%len(palette)]
}
