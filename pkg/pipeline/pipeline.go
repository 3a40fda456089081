// Package pipeline turns a raw image / ground-truth pair into a model-ready
// sample: augmented, normalised, cropped to a fixed window and carrying an
// auxiliary boundary label.
package pipeline

import (
	"image"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/menta2k/segprep/pkg/augment"
	"github.com/menta2k/segprep/pkg/cropper"
	"github.com/menta2k/segprep/pkg/types"
	"github.com/menta2k/segprep/pkg/vision"
)

// Transform converts one decoded pair into a Sample. Implementations hold no
// mutable state and may be called from several goroutines at once, each with
// its own rng.
type Transform interface {
	Apply(rng augment.Rand, img image.Image, gt *types.Mask) (*types.Sample, error)
}

// Config is everything a transform needs. There is no package level state.
type Config struct {
	Mean       []float64         `json:"mean" mapstructure:"mean"`
	Std        []float64         `json:"std" mapstructure:"std"`
	Scales     []float64         `json:"scales" mapstructure:"scales"`
	CropHeight int               `json:"crop_height" mapstructure:"crop_height"`
	CropWidth  int               `json:"crop_width" mapstructure:"crop_width"`
	Edge       vision.EdgeConfig `json:"edge" mapstructure:"edge"`
}

// DefaultConfig returns ImageNet normalisation, no scaling and a 512x512 crop.
func DefaultConfig() Config {
	return Config{
		Mean:       []float64{0.485, 0.456, 0.406},
		Std:        []float64{0.229, 0.224, 0.225},
		CropHeight: 512,
		CropWidth:  512,
		Edge:       vision.DefaultEdgeConfig(),
	}
}

// Validate checks the values that would otherwise fail on the first sample.
func (c Config) Validate() error {
	if len(c.Mean) != augment.Channels || len(c.Std) != augment.Channels {
		return errors.Errorf("mean and std need %d values, got %d and %d", augment.Channels, len(c.Mean), len(c.Std))
	}
	for i, s := range c.Std {
		if s == 0 {
			return errors.Errorf("std[%d] is zero", i)
		}
	}
	for i, s := range c.Scales {
		if s <= 0 {
			return errors.Errorf("scale[%d] must be positive, got %g", i, s)
		}
	}
	switch c.Edge.ApertureSize {
	case 3, 5, 7:
	default:
		return errors.Errorf("edge aperture must be 3, 5 or 7, got %d", c.Edge.ApertureSize)
	}
	return nil
}

// TrainPre is the training transform: mirror, optional scale, edge label,
// normalise, random crop/pad and HWC to CHW.
type TrainPre struct {
	config  Config
	edges   *vision.EdgeLabeler
	cropper *cropper.RandomCropper
	logger  *zap.Logger
}

// New creates a TrainPre. A nil logger disables logging.
func New(config Config, logger *zap.Logger) (*TrainPre, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid pipeline config")
	}
	if config.CropHeight <= 0 || config.CropWidth <= 0 {
		return nil, errors.Errorf("invalid pipeline config: crop size %dx%d", config.CropHeight, config.CropWidth)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TrainPre{
		config:  config,
		edges:   vision.NewEdgeLabelerWithConfig(config.Edge),
		cropper: cropper.New(config.CropHeight, config.CropWidth),
		logger:  logger,
	}, nil
}

// Config returns the configuration the transform was built with.
func (p *TrainPre) Config() Config {
	return p.config
}

// Apply runs the training transform. The caller's img and gt are not modified.
func (p *TrainPre) Apply(rng augment.Rand, img image.Image, gt *types.Mask) (*types.Sample, error) {
	if err := checkPair(img, gt); err != nil {
		return nil, err
	}

	img, gt, flipped := augment.Mirror(rng, img, gt)

	scale := 1.0
	if len(p.config.Scales) > 0 {
		img, gt, scale = augment.Scale(rng, img, gt, p.config.Scales)
	}

	edge, err := p.edges.Label(gt)
	if err != nil {
		return nil, err
	}

	normalized, err := augment.Normalize(img, p.config.Mean, p.config.Std)
	if err != nil {
		return nil, err
	}

	crop, err := p.cropper.Crop(rng, normalized, gt, edge)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("train sample",
		zap.Bool("flipped", flipped),
		zap.Float64("scale", scale),
		zap.Stringer("scaled", gt.Size()),
		zap.Int("crop_y", crop.Pos.Y),
		zap.Int("crop_x", crop.Pos.X))

	return &types.Sample{
		Image:  augment.ToCHW(crop.Image),
		Label:  crop.Label,
		Aux:    types.AuxLabels{EdgeLabel: crop.Edge},
		Scale:  scale,
		Margin: crop.Margin,
	}, nil
}

// EvalPre is the evaluation transform: normalise, edge label and HWC to CHW at
// the source resolution. It makes no random decisions.
type EvalPre struct {
	config Config
	edges  *vision.EdgeLabeler
}

// NewEval creates an EvalPre. Crop size and scales are ignored.
func NewEval(config Config) (*EvalPre, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid pipeline config")
	}
	return &EvalPre{config: config, edges: vision.NewEdgeLabelerWithConfig(config.Edge)}, nil
}

// Apply runs the evaluation transform. rng is unused and may be nil.
func (p *EvalPre) Apply(_ augment.Rand, img image.Image, gt *types.Mask) (*types.Sample, error) {
	if err := checkPair(img, gt); err != nil {
		return nil, err
	}
	edge, err := p.edges.Label(gt)
	if err != nil {
		return nil, err
	}
	normalized, err := augment.Normalize(img, p.config.Mean, p.config.Std)
	if err != nil {
		return nil, err
	}
	return &types.Sample{
		Image: augment.ToCHW(normalized),
		Label: gt.Clone(),
		Aux:   types.AuxLabels{EdgeLabel: edge},
		Scale: 1,
	}, nil
}

func checkPair(img image.Image, gt *types.Mask) error {
	if img == nil || gt == nil {
		return errors.New("image and ground truth are required")
	}
	size := img.Bounds().Size()
	if size.Y != gt.Height || size.X != gt.Width {
		return errors.Errorf("image is %dx%d but ground truth is %s", size.Y, size.X, gt.Size())
	}
	return nil
}
