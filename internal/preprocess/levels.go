package preprocess

import (
	"errors"
	"image"
)

const defaultLevelClip = 0.01

// normalizeLevels stretches the luminance histogram so that the darkest and
// brightest clip share of pixels map to 0 and 255.
func normalizeLevels(img *image.Gray, step Step) (*image.Gray, error) {
	clip := step.Param("clip", defaultLevelClip)
	if clip < 0 || clip >= 0.5 {
		return nil, errors.New("clip must be in [0, 0.5)")
	}

	var hist [256]int
	for _, v := range img.Pix {
		hist[v]++
	}
	total := len(img.Pix)
	cut := int(float64(total) * clip)

	lo, acc := 0, 0
	for ; lo < 255; lo++ {
		acc += hist[lo]
		if acc > cut {
			break
		}
	}
	hi := 255
	acc = 0
	for ; hi > 0; hi-- {
		acc += hist[hi]
		if acc > cut {
			break
		}
	}
	if hi <= lo {
		// Flat image, nothing to stretch.
		return img, nil
	}

	var lut [256]uint8
	scale := 255.0 / float64(hi-lo)
	for i := range lut {
		switch {
		case i <= lo:
			lut[i] = 0
		case i >= hi:
			lut[i] = 255
		default:
			lut[i] = uint8(float64(i-lo)*scale + 0.5)
		}
	}

	out := image.NewGray(img.Rect)
	for i, v := range img.Pix {
		out.Pix[i] = lut[v]
	}
	return out, nil
}
