package detect_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/n0remac/netcam-core/detect"
)

func TestLetterboxWidePaddingIsCenteredVertically(t *testing.T) {
	l := detect.Letterbox(1920, 1080, 640, 640)
	assert.InDelta(t, float64(640)/1920, l.Scale, 1e-9)
	assert.InDelta(t, 0, l.LeftPad, 1e-9)
	scaledH := 1080 * l.Scale
	assert.InDelta(t, (640-scaledH)/2, l.TopPad, 1e-9)
}

func TestLetterboxTallPaddingIsCenteredHorizontally(t *testing.T) {
	l := detect.Letterbox(1080, 1920, 640, 640)
	assert.InDelta(t, 0, l.TopPad, 1e-9)
	scaledW := 1080 * l.Scale
	assert.InDelta(t, (640-scaledW)/2, l.LeftPad, 1e-9)
}

func TestLetterboxRoundTripWithinOnePixel(t *testing.T) {
	l := detect.Letterbox(1280, 720, 640, 640)
	d := detect.Detection{Box: detect.Box{XMin: 100, YMin: 50, XMax: 300, YMax: 250}}

	mx, my := l.Forward(d.Box.XMin, d.Box.YMin)
	fx, fy := l.Forward(d.Box.XMax, d.Box.YMax)
	forward := detect.Detection{Box: detect.Box{XMin: mx, YMin: my, XMax: fx, YMax: fy}}

	back := l.MapToSource(forward)
	assert.LessOrEqual(t, math.Abs(back.Box.XMin-d.Box.XMin), 1.0)
	assert.LessOrEqual(t, math.Abs(back.Box.YMin-d.Box.YMin), 1.0)
	assert.LessOrEqual(t, math.Abs(back.Box.XMax-d.Box.XMax), 1.0)
	assert.LessOrEqual(t, math.Abs(back.Box.YMax-d.Box.YMax), 1.0)
}
