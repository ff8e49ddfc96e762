package detect

// Letterbox computes the scale-and-center-pad transform that fits a
// srcW x srcH image into a dstW x dstH model input while preserving aspect
// ratio. Padding is centered on both axes — confirmed against the original
// engine's Inference step, which computes scale = min(dst_w/src_w,
// dst_h/src_h) and centers the result with leftPad = (dst_w - scaled_w)/2,
// topPad = (dst_h - scaled_h)/2, not a top-left-anchored pad.
func Letterbox(srcW, srcH, dstW, dstH int) LetterboxInfo {
	sx := float64(dstW) / float64(srcW)
	sy := float64(dstH) / float64(srcH)
	scale := sx
	if sy < sx {
		scale = sy
	}
	scaledW := float64(srcW) * scale
	scaledH := float64(srcH) * scale
	return LetterboxInfo{
		Scale:   scale,
		LeftPad: (float64(dstW) - scaledW) / 2,
		TopPad:  (float64(dstH) - scaledH) / 2,
		SrcW:    srcW,
		SrcH:    srcH,
		DstW:    dstW,
		DstH:    dstH,
	}
}

// Forward maps a point from source pixel space into model-input pixel
// space, the inverse of MapToSource.
func (l LetterboxInfo) Forward(x, y float64) (float64, float64) {
	return x*l.Scale + l.LeftPad, y*l.Scale + l.TopPad
}
