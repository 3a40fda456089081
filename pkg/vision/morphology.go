package vision

import (
	"math"

	"github.com/menta2k/segprep/pkg/types"
)

// MorphShape selects the footprint of a structuring element.
type MorphShape int

const (
	MorphRect MorphShape = iota
	MorphCross
	MorphEllipse
)

// Kernel is a binary structuring element anchored at its centre.
type Kernel struct {
	Width  int
	Height int
	Data   []bool
}

// StructuringElement builds a width x height kernel of the given shape.
func StructuringElement(shape MorphShape, width, height int) Kernel {
	k := Kernel{Width: width, Height: height, Data: make([]bool, width*height)}
	cx, cy := width/2, height/2
	for y := 0; y < height; y++ {
		x0, x1 := 0, width
		switch shape {
		case MorphCross:
			if y != cy {
				x0, x1 = cx, cx+1
			}
		case MorphEllipse:
			if cy == 0 {
				break
			}
			dy := float64(y - cy)
			dx := int(math.Round(float64(cx) * math.Sqrt(math.Max(0, 1-dy*dy/float64(cy*cy)))))
			x0, x1 = max(cx-dx, 0), min(cx+dx+1, width)
		}
		for x := x0; x < x1; x++ {
			k.Data[y*width+x] = true
		}
	}
	return k
}

// Dilate replaces every pixel with the maximum over the kernel footprint
// centred on it. Pixels outside the mask do not contribute.
func Dilate(src *types.Mask, kernel Kernel) *types.Mask {
	h, w := src.Height, src.Width
	dst := types.NewMask(h, w)
	ax, ay := kernel.Width/2, kernel.Height/2

	type offset struct{ dy, dx int }
	var offsets []offset
	for ky := 0; ky < kernel.Height; ky++ {
		for kx := 0; kx < kernel.Width; kx++ {
			if kernel.Data[ky*kernel.Width+kx] {
				offsets = append(offsets, offset{ky - ay, kx - ax})
			}
		}
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var best uint8
			for _, o := range offsets {
				sy, sx := y+o.dy, x+o.dx
				if sy < 0 || sy >= h || sx < 0 || sx >= w {
					continue
				}
				if v := src.Pix[sy*w+sx]; v > best {
					best = v
					if best == 255 {
						break
					}
				}
			}
			dst.Pix[y*w+x] = best
		}
	}
	return dst
}
