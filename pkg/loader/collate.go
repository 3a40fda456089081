package loader

import (
	"github.com/pkg/errors"

	"github.com/menta2k/segprep/pkg/types"
)

// Collate stacks samples into a batch. All samples must share the image and
// label shape, and either all or none carry an edge label.
func Collate(samples []*types.Sample) (*types.Batch, error) {
	if len(samples) == 0 {
		return nil, errors.New("collate: no samples")
	}
	first := samples[0]
	if first.Image == nil || first.Label == nil {
		return nil, errors.New("collate: sample without image or label")
	}
	c, h, w := first.Image.Channels, first.Image.Height, first.Image.Width
	withEdge := first.Aux.EdgeLabel != nil

	b := &types.Batch{
		Size:     len(samples),
		Channels: c,
		Height:   h,
		Width:    w,
		Images:   make([]float32, 0, len(samples)*c*h*w),
		Labels:   make([]uint8, 0, len(samples)*h*w),
		Names:    make([]string, 0, len(samples)),
	}
	if withEdge {
		b.Aux.EdgeLabels = make([]uint8, 0, len(samples)*h*w)
	}

	for i, s := range samples {
		if s.Image == nil || s.Label == nil {
			return nil, errors.Errorf("collate: sample %d without image or label", i)
		}
		if s.Image.Channels != c || s.Image.Height != h || s.Image.Width != w {
			return nil, errors.Errorf("collate: sample %d image is %v, want %v", i, s.Image.Shape(), first.Image.Shape())
		}
		if s.Label.Height != h || s.Label.Width != w {
			return nil, errors.Errorf("collate: sample %d label is %s, want %dx%d", i, s.Label.Size(), h, w)
		}
		if (s.Aux.EdgeLabel != nil) != withEdge {
			return nil, errors.Errorf("collate: sample %d edge label presence differs from sample 0", i)
		}
		b.Images = append(b.Images, s.Image.Data...)
		b.Labels = append(b.Labels, s.Label.Pix...)
		if withEdge {
			if s.Aux.EdgeLabel.Height != h || s.Aux.EdgeLabel.Width != w {
				return nil, errors.Errorf("collate: sample %d edge label is %s, want %dx%d", i, s.Aux.EdgeLabel.Size(), h, w)
			}
			b.Aux.EdgeLabels = append(b.Aux.EdgeLabels, s.Aux.EdgeLabel.Pix...)
		}
		b.Names = append(b.Names, s.Name)
	}
	return b, nil
}
