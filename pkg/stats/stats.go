// Package stats computes normalisation constants and class frequencies over
// a dataset.
package stats

import (
	"context"
	"image"
	"math"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/menta2k/segprep/pkg/types"
)

// Source is a dataset that can be read without transforms.
type Source interface {
	Len() int
	Raw(i int) (image.Image, *types.Mask, error)
}

// Options configures Compute
type Options struct {
	Workers int
	// Limit caps the number of samples read; 0 reads all of them.
	Limit int
	// OnSample is called after each sample, from worker goroutines.
	OnSample func()
	Logger   *zap.Logger
}

// ClassCount is the number of pixels carrying one label value
type ClassCount struct {
	Class  uint8 `json:"class"`
	Pixels int64 `json:"pixels"`
}

// Result holds the dataset statistics.
type Result struct {
	Samples int          `json:"samples"`
	Pixels  int64        `json:"pixels"`
	Mean    [3]float64   `json:"mean"`
	Std     [3]float64   `json:"std"`
	Classes []ClassCount `json:"classes"`
	Ignored int64        `json:"ignored"`
}

// Fraction returns the share of labelled pixels in class c, ignoring the
// ignore index.
func (r *Result) Fraction(c uint8) float64 {
	labelled := r.Pixels - r.Ignored
	if labelled == 0 {
		return 0
	}
	for _, cc := range r.Classes {
		if cc.Class == c {
			return float64(cc.Pixels) / float64(labelled)
		}
	}
	return 0
}

type imageStats struct {
	pixels float64
	mean   [3]float64
	std    [3]float64
}

// Compute reads every sample and returns per-channel mean and standard
// deviation of pixels scaled to [0, 1] and the label histogram.
func Compute(ctx context.Context, src Source, opts Options) (*Result, error) {
	n := src.Len()
	if opts.Limit > 0 && opts.Limit < n {
		n = opts.Limit
	}
	if n == 0 {
		return nil, errors.New("stats: dataset is empty")
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	perImage := make([]imageStats, n)
	var (
		mu        sync.Mutex
		histogram [256]int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			img, gt, err := src.Raw(i)
			if err != nil {
				return errors.Wrapf(err, "sample %d", i)
			}
			perImage[i] = channelStats(img)

			var local [256]int64
			for _, v := range gt.Pix {
				local[v]++
			}
			mu.Lock()
			for c, cnt := range local {
				histogram[c] += cnt
			}
			mu.Unlock()

			if opts.OnSample != nil {
				opts.OnSample()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{Samples: n}
	res.Mean, res.Std = pool(perImage)
	for _, s := range perImage {
		res.Pixels += int64(s.pixels)
	}
	for c, cnt := range histogram {
		if cnt == 0 {
			continue
		}
		if uint8(c) == types.IgnoreIndex {
			res.Ignored = cnt
			continue
		}
		res.Classes = append(res.Classes, ClassCount{Class: uint8(c), Pixels: cnt})
	}
	sort.Slice(res.Classes, func(a, b int) bool { return res.Classes[a].Class < res.Classes[b].Class })

	logger.Info("dataset statistics",
		zap.Int("samples", res.Samples),
		zap.Int64("pixels", res.Pixels),
		zap.Float64s("mean", res.Mean[:]),
		zap.Float64s("std", res.Std[:]),
		zap.Int("classes", len(res.Classes)))
	return res, nil
}

// channelStats returns the per-channel mean and sample standard deviation of
// one image with values scaled to [0, 1].
func channelStats(img image.Image) imageStats {
	b := img.Bounds()
	n := b.Dx() * b.Dy()
	planes := [3][]float64{make([]float64, 0, n), make([]float64, 0, n), make([]float64, 0, n)}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			planes[0] = append(planes[0], float64(r>>8)/255)
			planes[1] = append(planes[1], float64(g>>8)/255)
			planes[2] = append(planes[2], float64(bl>>8)/255)
		}
	}
	s := imageStats{pixels: float64(n)}
	for c := range planes {
		mean, std := stat.MeanStdDev(planes[c], nil)
		if math.IsNaN(std) {
			std = 0
		}
		s.mean[c], s.std[c] = mean, std
	}
	return s
}

// pool combines per-image means and sample variances into dataset-wide values.
func pool(parts []imageStats) (mean, std [3]float64) {
	weights := make([]float64, len(parts))
	var total float64
	for i, p := range parts {
		weights[i] = p.pixels
		total += p.pixels
	}
	means := make([]float64, len(parts))
	for c := 0; c < 3; c++ {
		for i, p := range parts {
			means[i] = p.mean[c]
		}
		mean[c] = stat.Mean(means, weights)

		var ss float64
		for _, p := range parts {
			d := p.mean[c] - mean[c]
			ss += (p.pixels-1)*p.std[c]*p.std[c] + p.pixels*d*d
		}
		if total > 1 {
			std[c] = math.Sqrt(ss / (total - 1))
		}
	}
	return mean, std
}
