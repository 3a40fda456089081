// Package segprep prepares image / ground-truth pairs for training semantic
// segmentation models.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"io"
//		"log"
//
//		"github.com/menta2k/segprep"
//		"github.com/menta2k/segprep/pkg/loader"
//	)
//
//	func main() {
//		cfg, err := segprep.LoadConfig("segprep.yaml")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		trainLoader, _, err := segprep.GetTrainLoader(cfg, loader.Engine{}, nil)
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer trainLoader.Close()
//
//		for {
//			batch, err := trainLoader.Next(context.Background())
//			if err == io.EOF {
//				break
//			}
//			if err != nil {
//				log.Fatal(err)
//			}
//			_ = batch.Images // [N, 3, H, W]
//		}
//	}
//
// The package consists of these components:
//
//  1. Augment (pkg/augment): mirror, scale, normalise and HWC to CHW
//  2. Vision (pkg/vision): Canny edges, dilation and the boundary label
//  3. Cropper (pkg/cropper): random crop position and crop/pad with fill values
//  4. Pipeline (pkg/pipeline): the TrainPre and EvalPre transforms
//  5. Dataset (pkg/dataset): file lists and virtual dataset length
//  6. Loader (pkg/loader): samplers, parallel batching and shard selection
//  7. Processing (pkg/processing): sample IO and preview rendering
//  8. Stats (pkg/stats): normalisation constants and class frequencies
//
// The boundary label is computed on the ground truth with ignored pixels
// treated as background, then dilated with a 7x7 rectangle, so it marks a band
// of a few pixels around every class boundary.
package segprep

import (
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"github.com/menta2k/segprep/internal/config"
	"github.com/menta2k/segprep/internal/utils"
	"github.com/menta2k/segprep/pkg/augment"
	"github.com/menta2k/segprep/pkg/dataset"
	"github.com/menta2k/segprep/pkg/loader"
	"github.com/menta2k/segprep/pkg/pipeline"
	"github.com/menta2k/segprep/pkg/processing"
	"github.com/menta2k/segprep/pkg/types"
)

// Version of the segprep library
const Version = "1.0.0"

// Config is the full application configuration.
type Config = config.Config

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfig reads a configuration file (empty path for defaults) with
// SEGPREP_* environment overrides and validates it.
func LoadConfig(path string) (*Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// GetTrainLoader builds the training transform, a train dataset of
// batch_size * niters_per_epoch samples and the loader for engine. The
// returned sampler is nil unless engine is distributed.
func GetTrainLoader(cfg *Config, engine loader.Engine, logger *zap.Logger) (*loader.Loader, loader.Sampler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	trainPre, err := pipeline.New(cfg.Pipeline(), logger.Named("pipeline"))
	if err != nil {
		return nil, nil, err
	}
	ds, err := dataset.New(cfg.DataSettings(), dataset.SplitTrain, trainPre, cfg.DatasetLength(),
		dataset.WithSeed(cfg.Seed), dataset.WithLogger(logger.Named("dataset")))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open train dataset: %w", err)
	}
	return loader.TrainLoader(cfg.Loader(logger.Named("loader")), engine, ds)
}

// Preprocessor runs the transforms on individual files and writes previews
type Preprocessor struct {
	config    *Config
	trainPre  *pipeline.TrainPre
	evalPre   *pipeline.EvalPre
	processor *processing.Processor
}

// New creates a Preprocessor with default configuration
func New() (*Preprocessor, error) {
	return NewWithConfig(DefaultConfig(), nil)
}

// NewWithConfig creates a Preprocessor with custom configuration
func NewWithConfig(cfg *Config, logger *zap.Logger) (*Preprocessor, error) {
	trainPre, err := pipeline.New(cfg.Pipeline(), logger)
	if err != nil {
		return nil, err
	}
	evalPre, err := pipeline.NewEval(cfg.Pipeline())
	if err != nil {
		return nil, err
	}
	return &Preprocessor{
		config:    cfg,
		trainPre:  trainPre,
		evalPre:   evalPre,
		processor: processing.NewProcessor(),
	}, nil
}

// TrainSample loads a pair and applies the training transform
func (p *Preprocessor) TrainSample(rng augment.Rand, imagePath, maskPath string) (*types.Sample, error) {
	img, gt, err := p.processor.LoadPair(imagePath, maskPath)
	if err != nil {
		return nil, err
	}
	return p.trainPre.Apply(rng, img, gt)
}

// EvalSample loads a pair and applies the evaluation transform
func (p *Preprocessor) EvalSample(imagePath, maskPath string) (*types.Sample, error) {
	img, gt, err := p.processor.LoadPair(imagePath, maskPath)
	if err != nil {
		return nil, err
	}
	return p.evalPre.Apply(nil, img, gt)
}

// PreviewFiles lists the files written by WritePreview
type PreviewFiles struct {
	Image   string `json:"image"`
	Label   string `json:"label"`
	Edge    string `json:"edge"`
	Overlay string `json:"overlay"`
}

// WritePreview writes the de-normalised image, the label, the edge label and
// an overlay of a sample into outputDir.
func (p *Preprocessor) WritePreview(sample *types.Sample, outputDir string) (PreviewFiles, error) {
	if err := utils.EnsureDir(outputDir); err != nil {
		return PreviewFiles{}, fmt.Errorf("failed to create output directory: %w", err)
	}
	out := p.config.Output
	name := sample.Name
	if name == "" {
		name = "sample"
	}
	files := PreviewFiles{
		Image:   utils.GenerateOutputFilename(name, outputDir, "_image", out.Format),
		Label:   utils.GenerateOutputFilename(name, outputDir, "_label", "png"),
		Edge:    utils.GenerateOutputFilename(name, outputDir, "_edge", "png"),
		Overlay: utils.GenerateOutputFilename(name, outputDir, "_overlay", out.Format),
	}

	img, err := p.processor.TensorToImage(sample.Image, p.config.ImageMean, p.config.ImageStd)
	if err != nil {
		return PreviewFiles{}, err
	}
	if err := p.processor.SaveImage(img, files.Image, out.Format, out.Quality, out.Lossless); err != nil {
		return PreviewFiles{}, fmt.Errorf("failed to save image: %w", err)
	}
	if err := p.processor.SaveMask(sample.Label, files.Label, 1); err != nil {
		return PreviewFiles{}, err
	}
	if err := p.processor.SaveMask(sample.Aux.EdgeLabel, files.Edge, 254); err != nil {
		return PreviewFiles{}, err
	}
	overlay, err := p.processor.CreateEdgeOverlay(img, sample.Aux.EdgeLabel, sample.Label, sample.Margin)
	if err != nil {
		return PreviewFiles{}, err
	}
	if err := p.processor.SaveImage(overlay, files.Overlay, out.Format, out.Quality, out.Lossless); err != nil {
		return PreviewFiles{}, fmt.Errorf("failed to save overlay: %w", err)
	}
	return files, nil
}

// PreviewDataset runs the training transform on the first n entries of the
// configured train list and writes previews for each.
func (p *Preprocessor) PreviewDataset(n int, seed int64, outputDir string) ([]PreviewFiles, error) {
	ds, err := dataset.New(p.config.DataSettings(), dataset.SplitTrain, p.trainPre, 0)
	if err != nil {
		return nil, err
	}
	n = min(n, ds.Len())
	var out []PreviewFiles
	for i := 0; i < n; i++ {
		rng := rand.New(rand.NewSource(loader.SampleSeed(seed, 0, i)))
		sample, err := ds.Get(rng, i)
		if err != nil {
			return out, err
		}
		files, err := p.WritePreview(sample, outputDir)
		if err != nil {
			return out, fmt.Errorf("failed to write preview for %s: %w", sample.Name, err)
		}
		out = append(out, files)
	}
	return out, nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
