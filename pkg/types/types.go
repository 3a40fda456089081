package types

import "fmt"

// IgnoreIndex is the label value excluded from loss and metrics.
const IgnoreIndex uint8 = 255

// Size is a (height, width) pair.
type Size struct {
	Height int `json:"height"`
	Width  int `json:"width"`
}

// CropPos is the top-left offset of a crop window
type CropPos struct {
	Y int `json:"y"`
	X int `json:"x"`
}

// Margin is the padding added on each side by a crop-pad operation
type Margin struct {
	Top    int `json:"top"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
	Right  int `json:"right"`
}

// Image is a float32 pixel array in (height, width, channel) layout.
type Image struct {
	Height   int
	Width    int
	Channels int
	Pix      []float32
}

// NewImage allocates a zeroed image.
func NewImage(height, width, channels int) *Image {
	return &Image{
		Height:   height,
		Width:    width,
		Channels: channels,
		Pix:      make([]float32, height*width*channels),
	}
}

// At returns the value at row y, column x, channel c.
func (im *Image) At(y, x, c int) float32 {
	return im.Pix[(y*im.Width+x)*im.Channels+c]
}

// Set stores v at row y, column x, channel c.
func (im *Image) Set(y, x, c int, v float32) {
	im.Pix[(y*im.Width+x)*im.Channels+c] = v
}

// Size returns the spatial size of the image
func (im *Image) Size() Size {
	return Size{Height: im.Height, Width: im.Width}
}

// Mask is a single-channel label array in (height, width) layout.
type Mask struct {
	Height int
	Width  int
	Pix    []uint8
}

// NewMask allocates a zeroed mask.
func NewMask(height, width int) *Mask {
	return &Mask{Height: height, Width: width, Pix: make([]uint8, height*width)}
}

// At returns the label at row y, column x.
func (m *Mask) At(y, x int) uint8 {
	return m.Pix[y*m.Width+x]
}

// Set stores v at row y, column x.
func (m *Mask) Set(y, x int, v uint8) {
	m.Pix[y*m.Width+x] = v
}

// Size returns the spatial size of the mask
func (m *Mask) Size() Size {
	return Size{Height: m.Height, Width: m.Width}
}

// Clone returns a deep copy.
func (m *Mask) Clone() *Mask {
	out := &Mask{Height: m.Height, Width: m.Width, Pix: make([]uint8, len(m.Pix))}
	copy(out.Pix, m.Pix)
	return out
}

// Tensor is a float32 array in (channel, height, width) layout, as consumed by a model.
type Tensor struct {
	Channels int
	Height   int
	Width    int
	Data     []float32
}

// At returns the value at channel c, row y, column x.
func (t *Tensor) At(c, y, x int) float32 {
	return t.Data[(c*t.Height+y)*t.Width+x]
}

// Shape returns [channels, height, width].
func (t *Tensor) Shape() []int {
	return []int{t.Channels, t.Height, t.Width}
}

// AuxLabels holds the auxiliary targets produced next to the main label.
type AuxLabels struct {
	EdgeLabel *Mask
}

// Sample is one transformed training example.
type Sample struct {
	Name   string
	Image  *Tensor
	Label  *Mask
	Aux    AuxLabels
	Scale  float64
	Margin Margin
}

// AuxBatch holds stacked auxiliary targets, [N, H, W].
type AuxBatch struct {
	EdgeLabels []uint8
}

// Batch is a stack of samples sharing the same shape.
type Batch struct {
	Size     int
	Channels int
	Height   int
	Width    int
	Images   []float32 // [N, C, H, W]
	Labels   []uint8   // [N, H, W]
	Aux      AuxBatch
	Names    []string
}

// ImageShape returns [N, C, H, W].
func (b *Batch) ImageShape() []int {
	return []int{b.Size, b.Channels, b.Height, b.Width}
}

// LabelShape returns [N, H, W].
func (b *Batch) LabelShape() []int {
	return []int{b.Size, b.Height, b.Width}
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Height, s.Width)
}
