package processing

import (
	"bytes"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"math"
	"os"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/segprep/pkg/augment"
	"github.com/menta2k/segprep/pkg/types"
)

// Processor reads and writes samples and renders previews
type Processor struct{}

// NewProcessor creates a new sample processor
func NewProcessor() *Processor {
	return &Processor{}
}

// LoadImage loads an RGB image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	// Try imaging.Open (registered decoders)
	if img, err := imaging.Open(path); err == nil {
		return imaging.Clone(img), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read image %s", path)
	}
	img, err := decodeImageFromBytes(data)
	if err != nil {
		return nil, errors.Wrapf(err, "decode image %s", path)
	}
	return imaging.Clone(img), nil
}

// LoadMask loads a label mask. The decoded image keeps its native type so
// paletted files give palette indices and grey files give grey values.
func (p *Processor) LoadMask(path string) (*types.Mask, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read mask %s", path)
	}
	img, err := decodeImageFromBytes(data)
	if err != nil {
		return nil, errors.Wrapf(err, "decode mask %s", path)
	}
	return augment.MaskFromImage(img), nil
}

// LoadPair loads an image and its mask and checks they have the same size.
func (p *Processor) LoadPair(imagePath, maskPath string) (image.Image, *types.Mask, error) {
	img, err := p.LoadImage(imagePath)
	if err != nil {
		return nil, nil, err
	}
	gt, err := p.LoadMask(maskPath)
	if err != nil {
		return nil, nil, err
	}
	if size := img.Bounds().Size(); size.X != gt.Width || size.Y != gt.Height {
		return nil, nil, errors.Errorf("%s is %dx%d but %s is %s", imagePath, size.Y, size.X, maskPath, gt.Size())
	}
	return img, gt, nil
}

// decodeImageFromBytes decodes an image from byte data with WebP support
func decodeImageFromBytes(data []byte) (image.Image, error) {
	// Try standard image.Decode first
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	// Try WebP decode
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	return nil, errors.New("image: unknown or unsupported format")
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		return webp.Encode(f, img, opts)
	case "png":
		return imaging.Save(img, path, imaging.PNGCompressionLevel(png.BestCompression))
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

// SaveMask writes m as an 8-bit grey PNG. Class values are multiplied by
// scale so small indices are visible; the ignore index is written as is.
func (p *Processor) SaveMask(m *types.Mask, path string, scale int) error {
	gray := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for i, v := range m.Pix {
		if v == types.IgnoreIndex || scale <= 1 {
			gray.Pix[i] = v
			continue
		}
		gray.Pix[i] = uint8(min(int(v)*scale, 254))
	}
	if err := imaging.Save(gray, path, imaging.PNGCompressionLevel(png.BestCompression)); err != nil {
		return errors.Wrapf(err, "save mask %s", path)
	}
	return nil
}

// TensorToImage reverses normalisation on a (3, H, W) tensor and returns a
// displayable image.
func (p *Processor) TensorToImage(t *types.Tensor, mean, std []float64) (*image.NRGBA, error) {
	if t.Channels != augment.Channels {
		return nil, errors.Errorf("tensor has %d channels, want %d", t.Channels, augment.Channels)
	}
	if len(mean) != augment.Channels || len(std) != augment.Channels {
		return nil, errors.Errorf("need %d mean and std values, got %d and %d", augment.Channels, len(mean), len(std))
	}
	out := image.NewNRGBA(image.Rect(0, 0, t.Width, t.Height))
	for y := 0; y < t.Height; y++ {
		for x := 0; x < t.Width; x++ {
			i := y*out.Stride + x*4
			for c := 0; c < augment.Channels; c++ {
				v := (float64(t.At(c, y, x))*std[c] + mean[c]) * 255
				out.Pix[i+c] = uint8(clamp(math.Round(v), 0, 255))
			}
			out.Pix[i+3] = 255
		}
	}
	return out, nil
}

// CreateEdgeOverlay paints boundary pixels and ignored pixels over img and
// frames the region that holds source data, given the crop padding.
func (p *Processor) CreateEdgeOverlay(img image.Image, edge, gt *types.Mask, margin types.Margin) (image.Image, error) {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()
	if edge.Width != w || edge.Height != h || gt.Width != w || gt.Height != h {
		return nil, errors.Errorf("overlay: image is %dx%d, edge %s, ground truth %s", h, w, edge.Size(), gt.Size())
	}

	// Colors
	red := color.NRGBA{255, 0, 0, 255}    // boundary
	grey := color.NRGBA{96, 96, 96, 255}  // ignored or padded
	gold := color.NRGBA{255, 204, 0, 255} // source footprint
	stroke := int(math.Max(1, 0.004*float64(min(w, h))))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			switch {
			case gt.At(y, x) == types.IgnoreIndex:
				blend(nrgba, x, y, grey, 0.6)
			case edge.At(y, x) == 1:
				blend(nrgba, x, y, red, 0.7)
			}
		}
	}

	if margin != (types.Margin{}) {
		x0, y0 := margin.Left, margin.Top
		x1, y1 := w-margin.Right, h-margin.Bottom
		for s := 0; s < stroke; s++ {
			drawHLine(nrgba, y0+s, x0, x1, gold)
			drawHLine(nrgba, y1-1-s, x0, x1, gold)
			drawVLine(nrgba, x0+s, y0, y1, gold)
			drawVLine(nrgba, x1-1-s, y0, y1, gold)
		}
	}
	return nrgba, nil
}

// Helper functions
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func blend(img *image.NRGBA, x, y int, c color.NRGBA, alpha float64) {
	i := y*img.Stride + x*4
	img.Pix[i+0] = uint8(float64(img.Pix[i+0])*(1-alpha) + float64(c.R)*alpha)
	img.Pix[i+1] = uint8(float64(img.Pix[i+1])*(1-alpha) + float64(c.G)*alpha)
	img.Pix[i+2] = uint8(float64(img.Pix[i+2])*(1-alpha) + float64(c.B)*alpha)
	img.Pix[i+3] = 255
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	x0 = max(x0, 0)
	x1 = min(x1, img.Bounds().Dx())
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		copy(img.Pix[i:i+4], []uint8{c.R, c.G, c.B, c.A})
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	y0 = max(y0, 0)
	y1 = min(y1, img.Bounds().Dy())
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		copy(img.Pix[i:i+4], []uint8{c.R, c.G, c.B, c.A})
		i += img.Stride
	}
}
