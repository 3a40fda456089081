package vision

import (
	"math"

	"github.com/pkg/errors"

	"github.com/menta2k/segprep/pkg/types"
)

// tan(22.5°), used to bucket gradient directions for non-maximum suppression.
const tg22 = 0.4142135623730950488016887242097

// Canny runs a two-threshold edge detector over a single-channel mask.
//
// Gradients come from Sobel derivatives of the given aperture (3, 5 or 7) with
// replicated borders, saturated to the int16 range, and the gradient
// magnitude is |gx|+|gy|. A pixel is an
// edge when it survives non-maximum suppression and either exceeds high or is
// 8-connected to such a pixel through pixels exceeding low. Edges are 255,
// everything else 0.
func Canny(src *types.Mask, low, high float64, aperture int) (*types.Mask, error) {
	smooth, deriv, err := sobelKernels(aperture)
	if err != nil {
		return nil, err
	}
	if low > high {
		low, high = high, low
	}

	h, w := src.Height, src.Width
	dst := types.NewMask(h, w)
	if h == 0 || w == 0 {
		return dst, nil
	}

	plane := make([]int32, len(src.Pix))
	for i, v := range src.Pix {
		plane[i] = int32(v)
	}
	gx := separable(plane, h, w, deriv, smooth)
	gy := separable(plane, h, w, smooth, deriv)
	saturate16(gx)
	saturate16(gy)

	mag := make([]int32, h*w)
	for i := range mag {
		mag[i] = abs32(gx[i]) + abs32(gy[i])
	}
	magAt := func(y, x int) int32 {
		if y < 0 || y >= h || x < 0 || x >= w {
			return 0
		}
		return mag[y*w+x]
	}

	const (
		notEdge = iota
		weak
		strong
	)
	state := make([]uint8, h*w)
	var stack []int

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			m := mag[i]
			if float64(m) <= low {
				continue
			}
			xs, ys := gx[i], gy[i]
			ax, ay := math.Abs(float64(xs)), math.Abs(float64(ys))
			tg22x := ax * tg22

			var isMax bool
			switch {
			case ay < tg22x:
				isMax = m > magAt(y, x-1) && m >= magAt(y, x+1)
			case ay > tg22x+2*ax:
				isMax = m > magAt(y-1, x) && m >= magAt(y+1, x)
			default:
				s := 1
				if (xs < 0) != (ys < 0) {
					s = -1
				}
				isMax = m > magAt(y-1, x-s) && m > magAt(y+1, x+s)
			}
			if !isMax {
				continue
			}
			if float64(m) > high {
				state[i] = strong
				stack = append(stack, i)
			} else {
				state[i] = weak
			}
		}
	}

	// Hysteresis: grow strong edges through weak neighbours.
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		dst.Pix[i] = 255
		y, x := i/w, i%w
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				ny, nx := y+dy, x+dx
				if ny < 0 || ny >= h || nx < 0 || nx >= w {
					continue
				}
				j := ny*w + nx
				if state[j] == weak {
					state[j] = strong
					stack = append(stack, j)
				}
			}
		}
	}
	return dst, nil
}

// sobelKernels returns the smoothing and derivative taps for a Sobel aperture.
// The smoothing taps are binomial coefficients of order aperture-1, the
// derivative taps are binomial coefficients of order aperture-3 convolved
// with [-1, 0, 1].
func sobelKernels(aperture int) (smooth, deriv []int32, err error) {
	if aperture != 3 && aperture != 5 && aperture != 7 {
		return nil, nil, errors.Errorf("sobel aperture must be 3, 5 or 7, got %d", aperture)
	}
	smooth = binomial(aperture - 1)
	base := binomial(aperture - 3)
	deriv = make([]int32, aperture)
	for i, b := range base {
		deriv[i] -= b
		deriv[i+2] += b
	}
	return smooth, deriv, nil
}

func binomial(order int) []int32 {
	row := []int32{1}
	for n := 0; n < order; n++ {
		next := make([]int32, len(row)+1)
		for i, v := range row {
			next[i] += v
			next[i+1] += v
		}
		row = next
	}
	return row
}

// separable correlates plane with kx along rows and ky along columns,
// replicating edge pixels past the border.
func separable(plane []int32, h, w int, kx, ky []int32) []int32 {
	rx, ry := len(kx)/2, len(ky)/2
	tmp := make([]int32, h*w)
	for y := 0; y < h; y++ {
		row := plane[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			var acc int32
			for k, c := range kx {
				acc += c * row[clampInt(x+k-rx, 0, w-1)]
			}
			tmp[y*w+x] = acc
		}
	}
	out := make([]int32, h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc int32
			for k, c := range ky {
				acc += c * tmp[clampInt(y+k-ry, 0, h-1)*w+x]
			}
			out[y*w+x] = acc
		}
	}
	return out
}

// saturate16 clamps derivatives to the int16 range in place. Large class
// differences then plateau, which moves the suppressed maximum one pixel
// towards the lower side of a step.
func saturate16(d []int32) {
	for i, v := range d {
		d[i] = int32(clampInt(int(v), math.MinInt16, math.MaxInt16))
	}
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
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
