package preprocess

import (
	"errors"
	"image"
	"math"
	"slices"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/receipt-ocr/internal/mempool"
)

const (
	defaultDenoiseRadius    = 1
	defaultContrastWindow   = 31
	defaultContrastStrength = 0.6
	defaultThresholdWindow  = 31
	defaultThresholdOffset  = 10
	defaultSharpenSigma     = 0.8
	maxContrastGain         = 3.0
)

// denoise applies a median filter of the given radius.
func denoise(img *image.Gray, step Step) (*image.Gray, error) {
	r := int(step.Param("radius", defaultDenoiseRadius))
	if r < 1 || r > 5 {
		return nil, errors.New("radius must be in [1, 5]")
	}

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	window := mempool.GetBytes((2*r + 1) * (2*r + 1))
	defer mempool.PutBytes(window)

	for y := range h {
		for x := range w {
			n := 0
			for dy := -r; dy <= r; dy++ {
				yy := clampInt(y+dy, 0, h-1)
				for dx := -r; dx <= r; dx++ {
					xx := clampInt(x+dx, 0, w-1)
					window[n] = img.Pix[yy*img.Stride+xx]
					n++
				}
			}
			vals := window[:n]
			slices.Sort(vals)
			out.Pix[y*out.Stride+x] = vals[n/2]
		}
	}
	return out, nil
}

// integralImages returns summed-area tables of pixel values and squared values
// with a one-pixel zero border. Both buffers come from mempool.
func integralImages(img *image.Gray, withSquares bool) (sum, sq []float64) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	stride := w + 1
	sum = mempool.GetFloat64(stride * (h + 1))
	if withSquares {
		sq = mempool.GetFloat64(stride * (h + 1))
	}
	for y := range h {
		var rowSum, rowSq float64
		for x := range w {
			v := float64(img.Pix[y*img.Stride+x])
			rowSum += v
			sum[(y+1)*stride+x+1] = sum[y*stride+x+1] + rowSum
			if withSquares {
				rowSq += v * v
				sq[(y+1)*stride+x+1] = sq[y*stride+x+1] + rowSq
			}
		}
	}
	return sum, sq
}

// boxStats returns the mean (and optionally variance) of the window around (x,y).
func boxStats(sum, sq []float64, w, h, x, y, r int) (mean, variance float64) {
	x0, y0 := max(x-r, 0), max(y-r, 0)
	x1, y1 := min(x+r+1, w), min(y+r+1, h)
	stride := w + 1
	area := float64((x1 - x0) * (y1 - y0))
	s := sum[y1*stride+x1] - sum[y0*stride+x1] - sum[y1*stride+x0] + sum[y0*stride+x0]
	mean = s / area
	if sq != nil {
		q := sq[y1*stride+x1] - sq[y0*stride+x1] - sq[y1*stride+x0] + sq[y0*stride+x0]
		variance = math.Max(q/area-mean*mean, 0)
	}
	return mean, variance
}

// localContrast boosts detail relative to the local mean, which evens out
// uneven lighting across a receipt.
func localContrast(img *image.Gray, step Step) (*image.Gray, error) {
	window := int(step.Param("window", defaultContrastWindow))
	strength := step.Param("strength", defaultContrastStrength)
	if window < 3 {
		return nil, errors.New("window must be at least 3")
	}
	r := window / 2

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	sum, sq := integralImages(img, true)
	defer mempool.PutFloat64(sum)
	defer mempool.PutFloat64(sq)

	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			mean, variance := boxStats(sum, sq, w, h, x, y, r)
			gain := math.Min(48/(math.Sqrt(variance)+1), maxContrastGain)
			p := float64(img.Pix[y*img.Stride+x])
			enhanced := 128 + (p-mean)*math.Max(gain, 1)
			v := (1-strength)*p + strength*enhanced
			out.Pix[y*out.Stride+x] = clampByte(v)
		}
	}
	return out, nil
}

// adaptiveThreshold binarizes with a mean-minus-offset local threshold.
func adaptiveThreshold(img *image.Gray, step Step) (*image.Gray, error) {
	window := int(step.Param("window", defaultThresholdWindow))
	offset := step.Param("offset", defaultThresholdOffset)
	if window < 3 {
		return nil, errors.New("window must be at least 3")
	}
	r := window / 2

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	sum, _ := integralImages(img, false)
	defer mempool.PutFloat64(sum)

	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			mean, _ := boxStats(sum, nil, w, h, x, y, r)
			if float64(img.Pix[y*img.Stride+x]) > mean-offset {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out, nil
}

func sharpen(img *image.Gray, step Step) (*image.Gray, error) {
	sigma := step.Param("sigma", defaultSharpenSigma)
	if sigma <= 0 {
		return nil, errors.New("sigma must be positive")
	}
	return ToGray(imaging.Sharpen(img, sigma)), nil
}

// resample scales the long edge into [min_long_edge, max_long_edge]; images
// already inside the band are returned untouched.
func resample(img *image.Gray, step Step) (*image.Gray, error) {
	lo := int(step.Param("min_long_edge", 0))
	hi := int(step.Param("max_long_edge", 0))

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	long := max(w, h)

	target := long
	switch {
	case lo > 0 && long < lo:
		target = lo
	case hi > 0 && long > hi:
		target = hi
	}
	if target == long {
		return img, nil
	}

	scale := float64(target) / float64(long)
	nw := max(int(math.Round(float64(w)*scale)), 1)
	nh := max(int(math.Round(float64(h)*scale)), 1)
	return ToGray(imaging.Resize(img, nw, nh, imaging.Lanczos)), nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}
