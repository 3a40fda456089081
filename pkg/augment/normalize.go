package augment

import (
	"image"

	"github.com/pkg/errors"

	"github.com/menta2k/segprep/pkg/types"
)

// Channels is the number of colour channels produced by Normalize.
const Channels = 3

// Normalize converts img to a float32 (height, width, channel) array, scales
// pixels to [0, 1] and applies (v - mean[c]) / std[c] per RGB channel.
func Normalize(img image.Image, mean, std []float64) (*types.Image, error) {
	if len(mean) != Channels || len(std) != Channels {
		return nil, errors.Errorf("normalize: need %d mean and std values, got %d and %d", Channels, len(mean), len(std))
	}
	var scale, shift [Channels]float32
	for c := 0; c < Channels; c++ {
		if std[c] == 0 {
			return nil, errors.Errorf("normalize: std of channel %d is zero", c)
		}
		scale[c] = float32(1 / (255 * std[c]))
		shift[c] = float32(mean[c] / std[c])
	}

	b := img.Bounds()
	out := types.NewImage(b.Dy(), b.Dx(), Channels)
	put := func(y, x int, r, g, bl uint8) {
		i := (y*out.Width + x) * Channels
		out.Pix[i] = float32(r)*scale[0] - shift[0]
		out.Pix[i+1] = float32(g)*scale[1] - shift[1]
		out.Pix[i+2] = float32(bl)*scale[2] - shift[2]
	}

	switch src := img.(type) {
	case *image.NRGBA:
		for y := 0; y < out.Height; y++ {
			off := src.PixOffset(b.Min.X, b.Min.Y+y)
			for x := 0; x < out.Width; x++ {
				p := src.Pix[off+4*x : off+4*x+3]
				put(y, x, p[0], p[1], p[2])
			}
		}
	case *image.RGBA:
		for y := 0; y < out.Height; y++ {
			off := src.PixOffset(b.Min.X, b.Min.Y+y)
			for x := 0; x < out.Width; x++ {
				p := src.Pix[off+4*x : off+4*x+3]
				put(y, x, p[0], p[1], p[2])
			}
		}
	default:
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				put(y, x, uint8(r>>8), uint8(g>>8), uint8(bl>>8))
			}
		}
	}
	return out, nil
}

// ToCHW transposes a (height, width, channel) image into a (channel, height, width) tensor.
func ToCHW(img *types.Image) *types.Tensor {
	t := &types.Tensor{
		Channels: img.Channels,
		Height:   img.Height,
		Width:    img.Width,
		Data:     make([]float32, len(img.Pix)),
	}
	plane := img.Height * img.Width
	for i := 0; i < plane; i++ {
		for c := 0; c < img.Channels; c++ {
			t.Data[c*plane+i] = img.Pix[i*img.Channels+c]
		}
	}
	return t
}
