// Package augment holds the geometric and photometric helpers applied to a
// training pair before it is cropped.
//
// Every random decision is taken from an explicit Rand so a fixed seed
// reproduces the same augmentation.
package augment

import (
	"image"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	"github.com/menta2k/segprep/pkg/types"
)

// Rand is the random source used by the augmentations. *rand.Rand satisfies it.
type Rand interface {
	Float64() float64
	Intn(n int) int
}

// Mirror flips img and gt horizontally together with probability 0.5.
// It reports whether the flip happened.
func Mirror(rng Rand, img image.Image, gt *types.Mask) (image.Image, *types.Mask, bool) {
	if rng.Float64() < 0.5 {
		return img, gt, false
	}
	flippedImg := imaging.FlipH(img)
	flippedGt := MaskFromImage(imaging.FlipH(MaskToGray(gt)))
	return flippedImg, flippedGt, true
}

// Scale resizes img and gt by a factor picked uniformly from scales. The image
// uses bilinear filtering and the mask nearest-neighbour, so no new class
// values appear. With no scales it returns the inputs and a factor of 1.
func Scale(rng Rand, img image.Image, gt *types.Mask, scales []float64) (image.Image, *types.Mask, float64) {
	if len(scales) == 0 {
		return img, gt, 1
	}
	s := scales[rng.Intn(len(scales))]
	b := img.Bounds()
	sh := max(int(float64(b.Dy())*s), 1)
	sw := max(int(float64(b.Dx())*s), 1)

	scaledImg := imaging.Resize(img, sw, sh, imaging.Linear)

	src := MaskToGray(gt)
	dst := image.NewGray(image.Rect(0, 0, sw, sh))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return scaledImg, MaskFromImage(dst), s
}

// MaskToGray wraps m as an *image.Gray sharing its pixels.
func MaskToGray(m *types.Mask) *image.Gray {
	return &image.Gray{
		Pix:    m.Pix,
		Stride: m.Width,
		Rect:   image.Rect(0, 0, m.Width, m.Height),
	}
}

// MaskFromImage copies label values out of a decoded image. Grey images give
// their grey value, paletted images their palette index, NRGBA images (as
// returned by imaging for grey sources) their red channel. Anything else is
// converted to 8-bit grey.
func MaskFromImage(img image.Image) *types.Mask {
	b := img.Bounds()
	m := types.NewMask(b.Dy(), b.Dx())
	switch src := img.(type) {
	case *image.Gray:
		for y := 0; y < m.Height; y++ {
			off := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(m.Pix[y*m.Width:(y+1)*m.Width], src.Pix[off:off+m.Width])
		}
	case *image.Paletted:
		for y := 0; y < m.Height; y++ {
			off := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(m.Pix[y*m.Width:(y+1)*m.Width], src.Pix[off:off+m.Width])
		}
	case *image.NRGBA:
		for y := 0; y < m.Height; y++ {
			off := src.PixOffset(b.Min.X, b.Min.Y+y)
			for x := 0; x < m.Width; x++ {
				m.Pix[y*m.Width+x] = src.Pix[off+4*x]
			}
		}
	default:
		gray := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
		draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
		copy(m.Pix, gray.Pix)
	}
	return m
}
