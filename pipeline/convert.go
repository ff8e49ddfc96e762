package pipeline

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/n0remac/netcam-core/detect"
)

// convertYUV420SPToRGB color-converts the RawFrame's YUV 4:2:0 semi-planar
// block into the RgbFrame's pre-allocated RGB888 block, via gocv — the same
// CvtColor path cvpipe/pipeline.go uses for its BGR conversion, generalized
// to the NV12-style semi-planar source this pipeline's VI/VPSS sessions
// produce. Both frames must share width/height; neither handle is
// released here, that remains the frame worker's responsibility.
func convertYUV420SPToRGB(raw RawFrame, rgb RgbFrame) {
	src, err := gocv.NewMatFromBytes(raw.Height*3/2, raw.Width, gocv.MatTypeCV8UC1, raw.Handle.Bytes())
	if err != nil {
		return
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.CvtColor(src, &dst, gocv.ColorYUVToRGBNV12)
	copy(rgb.Handle.Bytes(), dst.ToBytes())
}

// letterboxResize scales srcRGB (srcW x srcH, RGB888) to fit dstW x dstH
// while preserving aspect ratio, centers it with gray padding, and writes
// the result into dst. Mirrors the original engine's centered-pad
// letterbox (detect.Letterbox carries the same scale/offset math so
// Detection boxes can be mapped back).
func letterboxResize(srcRGB []byte, srcW, srcH int, dst []byte, dstW, dstH int) {
	src, err := gocv.NewMatFromBytes(srcH, srcW, gocv.MatTypeCV8UC3, srcRGB)
	if err != nil {
		return
	}
	defer src.Close()

	info := detect.Letterbox(srcW, srcH, dstW, dstH)
	scaledW := int(float64(srcW) * info.Scale)
	scaledH := int(float64(srcH) * info.Scale)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(src, &resized, image.Pt(scaledW, scaledH), 0, 0, gocv.InterpolationLinear)

	canvas := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(114, 114, 114, 0), dstH, dstW, gocv.MatTypeCV8UC3)
	defer canvas.Close()

	roi := canvas.Region(image.Rect(
		int(info.LeftPad), int(info.TopPad),
		int(info.LeftPad)+scaledW, int(info.TopPad)+scaledH,
	))
	resized.CopyTo(&roi)
	roi.Close()

	copy(dst, canvas.ToBytes())
}
