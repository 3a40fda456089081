package cropper

import (
	"github.com/pkg/errors"

	"github.com/menta2k/segprep/pkg/augment"
	"github.com/menta2k/segprep/pkg/types"
)

// CropConfig holds the target window size and the fill value used for each
// array when the source is smaller than the window.
type CropConfig struct {
	Height    int
	Width     int
	ImageFill float32
	LabelFill uint8
	EdgeFill  uint8
}

// RandomCropper cuts one random window out of an aligned image, label and
// edge mask and pads the result to a fixed size.
type RandomCropper struct {
	config CropConfig
}

// New creates a RandomCropper for a height x width window. Padded image pixels
// are 0 and padded label and edge pixels are the ignore index.
func New(height, width int) *RandomCropper {
	return NewWithConfig(CropConfig{
		Height:    height,
		Width:     width,
		ImageFill: 0,
		LabelFill: types.IgnoreIndex,
		EdgeFill:  types.IgnoreIndex,
	})
}

// NewWithConfig creates a RandomCropper with custom fill values
func NewWithConfig(config CropConfig) *RandomCropper {
	return &RandomCropper{config: config}
}

// Size returns the output window size.
func (c *RandomCropper) Size() types.Size {
	return types.Size{Height: c.config.Height, Width: c.config.Width}
}

// CropResult contains the cropped arrays and where the window was placed
type CropResult struct {
	Image  *types.Image
	Label  *types.Mask
	Edge   *types.Mask
	Pos    types.CropPos
	Margin types.Margin
}

// Crop picks a single position from the image size and applies it to all three
// arrays, so pixel (i, j) stays aligned across them. edge may be nil.
func (c *RandomCropper) Crop(rng augment.Rand, img *types.Image, label, edge *types.Mask) (CropResult, error) {
	size := img.Size()
	if label.Size() != size {
		return CropResult{}, errors.Errorf("crop: label is %s but image is %s", label.Size(), size)
	}
	if edge != nil && edge.Size() != size {
		return CropResult{}, errors.Errorf("crop: edge mask is %s but image is %s", edge.Size(), size)
	}

	crop := c.Size()
	pos := RandomPosition(rng, size, crop)

	var result CropResult
	result.Pos = pos
	result.Image, result.Margin = CropPadImage(img, pos, crop, c.config.ImageFill)
	result.Label, _ = CropPadMask(label, pos, crop, c.config.LabelFill)
	if edge != nil {
		result.Edge, _ = CropPadMask(edge, pos, crop, c.config.EdgeFill)
	}
	return result, nil
}

// RandomPosition returns a top-left offset for a crop window. On each axis
// where the source is larger than the window the offset is uniform in
// [0, src-crop]; otherwise it is 0.
func RandomPosition(rng augment.Rand, src, crop types.Size) types.CropPos {
	var pos types.CropPos
	if src.Height > crop.Height {
		pos.Y = rng.Intn(src.Height - crop.Height + 1)
	}
	if src.Width > crop.Width {
		pos.X = rng.Intn(src.Width - crop.Width + 1)
	}
	return pos
}

// window returns the part of [pos, pos+crop) that lies inside src and the
// padding needed to grow it back to crop. Padding is split with the smaller
// half first.
func window(src types.Size, pos types.CropPos, crop types.Size) (y0, x0, h, w int, m types.Margin) {
	y0, x0 = min(max(pos.Y, 0), src.Height), min(max(pos.X, 0), src.Width)
	h = min(y0+crop.Height, src.Height) - y0
	w = min(x0+crop.Width, src.Width) - x0

	padH, padW := crop.Height-h, crop.Width-w
	m = types.Margin{
		Top:    padH / 2,
		Bottom: padH - padH/2,
		Left:   padW / 2,
		Right:  padW - padW/2,
	}
	return
}

// CropPadImage cuts the window at pos out of img and pads it to crop with fill.
func CropPadImage(img *types.Image, pos types.CropPos, crop types.Size, fill float32) (*types.Image, types.Margin) {
	y0, x0, h, w, m := window(img.Size(), pos, crop)
	out := types.NewImage(crop.Height, crop.Width, img.Channels)
	if fill != 0 {
		for i := range out.Pix {
			out.Pix[i] = fill
		}
	}
	ch := img.Channels
	for y := 0; y < h; y++ {
		src := img.Pix[((y0+y)*img.Width+x0)*ch : ((y0+y)*img.Width+x0+w)*ch]
		dst := out.Pix[((m.Top+y)*out.Width+m.Left)*ch:]
		copy(dst, src)
	}
	return out, m
}

// CropPadMask cuts the window at pos out of mask and pads it to crop with fill.
func CropPadMask(mask *types.Mask, pos types.CropPos, crop types.Size, fill uint8) (*types.Mask, types.Margin) {
	y0, x0, h, w, m := window(mask.Size(), pos, crop)
	out := types.NewMask(crop.Height, crop.Width)
	if fill != 0 {
		for i := range out.Pix {
			out.Pix[i] = fill
		}
	}
	for y := 0; y < h; y++ {
		src := mask.Pix[(y0+y)*mask.Width+x0 : (y0+y)*mask.Width+x0+w]
		copy(out.Pix[(m.Top+y)*out.Width+m.Left:], src)
	}
	return out, m
}
