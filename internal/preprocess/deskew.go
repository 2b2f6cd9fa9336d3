package preprocess

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/receipt-ocr/internal/mempool"
)

const (
	defaultMaxSkew   = 10.0
	defaultMinSkew   = 0.5
	defaultSkewStep  = 0.25
	skewAnalysisEdge = 800
)

// deskew estimates the text skew and rotates the image back when the
// estimate is at least min_angle degrees.
func deskew(img *image.Gray, step Step) (*image.Gray, error) {
	maxAngle := step.Param("max_angle", defaultMaxSkew)
	minAngle := step.Param("min_angle", defaultMinSkew)
	stepDeg := step.Param("step", defaultSkewStep)
	if stepDeg <= 0 {
		stepDeg = defaultSkewStep
	}

	skew := EstimateSkew(img, maxAngle, stepDeg)
	if math.Abs(skew) < minAngle {
		return img, nil
	}
	rotated := imaging.Rotate(img, -skew, color.White)
	return ToGray(rotated), nil
}

// EstimateSkew returns the counter-clockwise rotation, in degrees, of the
// text lines in img. It binarizes a downscaled copy with Otsu's threshold and
// picks the angle whose horizontal projection profile is sharpest.
func EstimateSkew(img *image.Gray, maxAngle, stepDeg float64) float64 {
	small := img
	if b := img.Bounds(); max(b.Dx(), b.Dy()) > skewAnalysisEdge {
		if b.Dx() >= b.Dy() {
			small = ToGray(imaging.Resize(img, skewAnalysisEdge, 0, imaging.Box))
		} else {
			small = ToGray(imaging.Resize(img, 0, skewAnalysisEdge, imaging.Box))
		}
	}

	w, h := small.Bounds().Dx(), small.Bounds().Dy()
	thr := otsuThreshold(small)

	xs := make([]float64, 0, w*h/8)
	ys := make([]float64, 0, w*h/8)
	for y := range h {
		row := small.Pix[y*small.Stride : y*small.Stride+w]
		for x, v := range row {
			if v < thr {
				xs = append(xs, float64(x))
				ys = append(ys, float64(y))
			}
		}
	}
	if len(xs) == 0 {
		return 0
	}

	diag := int(math.Ceil(math.Hypot(float64(w), float64(h))))
	bins := mempool.GetFloat64(2*diag + 1)
	defer mempool.PutFloat64(bins)

	best, bestScore := 0.0, -1.0
	for a := -maxAngle; a <= maxAngle+1e-9; a += stepDeg {
		rad := a * math.Pi / 180
		sin, cos := math.Sin(rad), math.Cos(rad)
		clear(bins)
		for i := range xs {
			idx := int(xs[i]*sin+ys[i]*cos) + diag
			if idx >= 0 && idx < len(bins) {
				bins[idx]++
			}
		}
		var score float64
		for i := 1; i < len(bins); i++ {
			d := bins[i] - bins[i-1]
			score += d * d
		}
		// Prefer the smaller correction when scores tie.
		if score > bestScore+1e-9 || (math.Abs(score-bestScore) <= 1e-9 && math.Abs(a) < math.Abs(best)) {
			best, bestScore = a, score
		}
	}
	return best
}

// otsuThreshold returns the global threshold maximizing between-class variance.
func otsuThreshold(img *image.Gray) uint8 {
	var hist [256]float64
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	for y := range h {
		for _, v := range img.Pix[y*img.Stride : y*img.Stride+w] {
			hist[v]++
		}
	}
	total := float64(w * h)

	var sumAll float64
	for i, c := range hist {
		sumAll += float64(i) * c
	}

	var sumB, wB, bestVar float64
	thr := uint8(128)
	for t := range 256 {
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * hist[t]
		mB := sumB / wB
		mF := (sumAll - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > bestVar {
			bestVar = between
			thr = uint8(t + 1)
		}
	}
	return thr
}
