package segprep

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/segprep/internal/utils"
	"github.com/menta2k/segprep/pkg/dataset"
	"github.com/menta2k/segprep/pkg/loader"
)

// createTestImage creates a simple test image with a bright subject in the centre
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x > width/3 && x < 2*width/3 && y > height/3 && y < 2*height/3 {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			} else {
				img.Set(x, y, color.RGBA{64, 64, 64, 255})
			}
		}
	}
	return img
}

// createTestMask labels the centre square as class 1 and the top row as ignored
func createTestMask(width, height int) image.Image {
	m := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			switch {
			case y == 0:
				m.SetGray(x, y, color.Gray{Y: 255})
			case x > width/3 && x < 2*width/3 && y > height/3 && y < 2*height/3:
				m.SetGray(x, y, color.Gray{Y: 1})
			}
		}
	}
	return m
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

// testConfig writes n pairs to a temp dir and returns a config pointing at them
func testConfig(t *testing.T, n int) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.ImgRootFolder = filepath.Join(dir, "img")
	cfg.GtRootFolder = filepath.Join(dir, "gt")
	cfg.TrainSource = filepath.Join(dir, "train.txt")
	cfg.EvalSource = filepath.Join(dir, "val.txt")
	cfg.ImageHeight, cfg.ImageWidth = 32, 32
	cfg.TrainScaleArray = []float64{0.75, 1}
	cfg.BatchSize = 2
	cfg.NitersPerEpoch = 3
	cfg.NumWorkers = 2
	cfg.Output.Dir = filepath.Join(dir, "out")

	var entries []dataset.Entry
	for i := 0; i < n; i++ {
		e := dataset.Entry{Image: fmt.Sprintf("%d.png", i), Label: fmt.Sprintf("%d_gt.png", i)}
		writePNG(t, filepath.Join(cfg.ImgRootFolder, e.Image), createTestImage(40+i, 36))
		writePNG(t, filepath.Join(cfg.GtRootFolder, e.Label), createTestMask(40+i, 36))
		entries = append(entries, e)
	}
	require.NoError(t, dataset.WriteFileList(cfg.TrainSource, entries))
	require.NoError(t, dataset.WriteFileList(cfg.EvalSource, entries))
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestGetVersion(t *testing.T) {
	assert.Equal(t, Version, GetVersion())
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batch_size: 0\n"), 0o644))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestGetTrainLoader(t *testing.T) {
	cfg := testConfig(t, 4)
	l, sampler, err := GetTrainLoader(cfg, loader.Engine{}, nil)
	require.NoError(t, err)
	defer l.Close()
	assert.Nil(t, sampler)

	batches := 0
	for {
		b, err := l.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, []int{2, 3, 32, 32}, b.ImageShape())
		assert.Equal(t, []int{2, 32, 32}, b.LabelShape())
		assert.Len(t, b.Aux.EdgeLabels, 2*32*32)
		for _, v := range b.Aux.EdgeLabels {
			require.True(t, v == 0 || v == 1 || v == 255)
		}
		batches++
	}
	assert.Equal(t, cfg.NitersPerEpoch, batches)
}

func TestGetTrainLoaderDistributed(t *testing.T) {
	cfg := testConfig(t, 4)
	l, sampler, err := GetTrainLoader(cfg, loader.Engine{Distributed: true, WorldSize: 2, Rank: 1}, nil)
	require.NoError(t, err)
	defer l.Close()

	require.NotNil(t, sampler)
	assert.Equal(t, 3, sampler.Len())
	assert.Equal(t, 1, l.Options().BatchSize)
	assert.False(t, l.Options().Shuffle)
	assert.Equal(t, 3, l.Len())
}

func TestGetTrainLoaderMissingList(t *testing.T) {
	cfg := testConfig(t, 1)
	cfg.TrainSource = filepath.Join(t.TempDir(), "missing.txt")
	_, _, err := GetTrainLoader(cfg, loader.Engine{}, nil)
	assert.Error(t, err)
}

func TestPreprocessorSamples(t *testing.T) {
	cfg := testConfig(t, 1)
	p, err := NewWithConfig(cfg, nil)
	require.NoError(t, err)

	imgPath := filepath.Join(cfg.ImgRootFolder, "0.png")
	gtPath := filepath.Join(cfg.GtRootFolder, "0_gt.png")

	sample, err := p.TrainSample(rand.New(rand.NewSource(1)), imgPath, gtPath)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 32, 32}, sample.Image.Shape())

	eval, err := p.EvalSample(imgPath, gtPath)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 36, 40}, eval.Image.Shape())
}

func TestPreviewDataset(t *testing.T) {
	cfg := testConfig(t, 3)
	p, err := NewWithConfig(cfg, nil)
	require.NoError(t, err)

	files, err := p.PreviewDataset(2, 7, cfg.Output.Dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	for _, f := range files {
		for _, path := range []string{f.Image, f.Label, f.Edge, f.Overlay} {
			assert.True(t, utils.FileExists(path), path)
		}
	}
	assert.Equal(t, filepath.Join(cfg.Output.Dir, "0_gt_overlay.png"), files[0].Overlay)
}

func TestNew(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	assert.NotNil(t, p.trainPre)
	assert.NotNil(t, p.evalPre)
	assert.NotNil(t, p.processor)
}
