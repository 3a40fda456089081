package vision

import (
	"github.com/pkg/errors"

	"github.com/menta2k/segprep/pkg/types"
)

// EdgeConfig holds the parameters used to derive a boundary label from a
// ground-truth mask.
type EdgeConfig struct {
	LowThreshold  float64 `json:"low_threshold" mapstructure:"low_threshold"`
	HighThreshold float64 `json:"high_threshold" mapstructure:"high_threshold"`
	ApertureSize  int     `json:"aperture_size" mapstructure:"aperture_size"`
	Radius        int     `json:"radius" mapstructure:"radius"`
	IgnoreIndex   uint8   `json:"ignore_index" mapstructure:"ignore_index"`
}

// DefaultEdgeConfig returns the thresholds and kernel used for training labels.
func DefaultEdgeConfig() EdgeConfig {
	return EdgeConfig{
		LowThreshold:  5,
		HighThreshold: 5,
		ApertureSize:  7,
		Radius:        7,
		IgnoreIndex:   types.IgnoreIndex,
	}
}

// EdgeLabeler turns a categorical mask into a binary class-boundary mask.
type EdgeLabeler struct {
	config EdgeConfig
	kernel Kernel
}

// NewEdgeLabeler creates an EdgeLabeler with the default configuration
func NewEdgeLabeler() *EdgeLabeler {
	return NewEdgeLabelerWithConfig(DefaultEdgeConfig())
}

// NewEdgeLabelerWithConfig creates an EdgeLabeler with a custom configuration
func NewEdgeLabelerWithConfig(config EdgeConfig) *EdgeLabeler {
	return &EdgeLabeler{
		config: config,
		kernel: StructuringElement(MorphRect, config.Radius, config.Radius),
	}
}

// Config returns the labeler configuration.
func (l *EdgeLabeler) Config() EdgeConfig {
	return l.config
}

// Label derives the edge mask for gt. Ignored pixels are treated as background
// before edge detection, so the boundary of an ignored region lying on
// background produces no edge. The result holds 1 near class boundaries and 0
// elsewhere; gt is not modified.
func (l *EdgeLabeler) Label(gt *types.Mask) (*types.Mask, error) {
	clean := IgnoreAsBackground(gt, l.config.IgnoreIndex)
	edges, err := Canny(clean, l.config.LowThreshold, l.config.HighThreshold, l.config.ApertureSize)
	if err != nil {
		return nil, errors.Wrap(err, "edge detection on ground truth")
	}
	if l.config.Radius > 0 {
		edges = Dilate(edges, l.kernel)
	}
	Binarize(edges)
	return edges, nil
}

// IgnoreAsBackground returns a copy of gt with every ignore pixel set to 0.
func IgnoreAsBackground(gt *types.Mask, ignore uint8) *types.Mask {
	out := gt.Clone()
	for i, v := range out.Pix {
		if v == ignore {
			out.Pix[i] = 0
		}
	}
	return out
}

// Binarize maps 255 to 1 in place.
func Binarize(m *types.Mask) {
	for i, v := range m.Pix {
		if v == 255 {
			m.Pix[i] = 1
		}
	}
}
