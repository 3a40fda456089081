package dataset

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/segprep/pkg/pipeline"
	"github.com/menta2k/segprep/pkg/types"
)

func savePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

// createTestDataset writes n 40x30 pairs and a train and an eval list.
func createTestDataset(t *testing.T, n int) Settings {
	t.Helper()
	dir := t.TempDir()
	s := Settings{
		ImgRoot:     filepath.Join(dir, "images"),
		GtRoot:      filepath.Join(dir, "labels"),
		TrainSource: filepath.Join(dir, "train.txt"),
		EvalSource:  filepath.Join(dir, "val.txt"),
	}
	var entries []Entry
	for i := 0; i < n; i++ {
		img := image.NewNRGBA(image.Rect(0, 0, 40, 30))
		gt := image.NewGray(image.Rect(0, 0, 40, 30))
		for y := 0; y < 30; y++ {
			for x := 0; x < 40; x++ {
				img.SetNRGBA(x, y, color.NRGBA{R: uint8(i * 20), G: uint8(x), B: uint8(y), A: 255})
				if x >= 20 {
					gt.SetGray(x, y, color.Gray{Y: uint8(i%3 + 1)})
				}
			}
		}
		e := Entry{
			Image: fmt.Sprintf("city/img_%02d.png", i),
			Label: fmt.Sprintf("city/gt_%02d.png", i),
		}
		savePNG(t, filepath.Join(s.ImgRoot, e.Image), img)
		savePNG(t, filepath.Join(s.GtRoot, e.Label), gt)
		entries = append(entries, e)
	}
	require.NoError(t, WriteFileList(s.TrainSource, entries))
	require.NoError(t, WriteFileList(s.EvalSource, entries[:1]))
	return s
}

func TestReadFileList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.txt")
	require.NoError(t, os.WriteFile(path, []byte("a.jpg\ta.png\n\n  \nb.jpg\tsub/b.png\n"), 0o644))

	entries, err := ReadFileList(path)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Image: "a.jpg", Label: "a.png"}, {Image: "b.jpg", Label: "sub/b.png"}}, entries)
	assert.Equal(t, "b", entries[1].Name())

	require.NoError(t, os.WriteFile(path, []byte("a.jpg\ta.png\nbroken line\n"), 0o644))
	_, err = ReadFileList(path)
	assert.ErrorContains(t, err, ":2:")

	_, err = ReadFileList(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestNewNaturalLength(t *testing.T) {
	s := createTestDataset(t, 3)

	train, err := New(s, SplitTrain, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, train.Len())
	assert.Equal(t, "gt_01", train.Name(1))
	assert.Equal(t, SplitTrain, train.Split())

	eval, err := New(s, "val", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, eval.Len())
}

func TestNewVirtualLength(t *testing.T) {
	s := createTestDataset(t, 3)

	ds, err := New(s, SplitTrain, nil, 7, WithSeed(5))
	require.NoError(t, err)
	require.Equal(t, 7, ds.Len())
	assert.Len(t, ds.Files(), 3)

	counts := map[string]int{}
	for i := 0; i < ds.Len(); i++ {
		counts[ds.Name(i)]++
	}
	require.Len(t, counts, 3)
	threes := 0
	for name, c := range counts {
		assert.True(t, c == 2 || c == 3, "%s appears %d times", name, c)
		if c == 3 {
			threes++
		}
	}
	assert.Equal(t, 1, threes)

	// The first full repetitions keep file order.
	for i := 0; i < 6; i++ {
		assert.Equal(t, ds.Files()[i%3], ds.Entry(i))
	}

	again, err := New(s, SplitTrain, nil, 7, WithSeed(5))
	require.NoError(t, err)
	assert.Equal(t, ds.Entry(6), again.Entry(6))

	short, err := New(s, SplitTrain, nil, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, short.Len())
	assert.NotEqual(t, short.Entry(0), short.Entry(1))
}

func TestNewEmptyList(t *testing.T) {
	s := createTestDataset(t, 1)
	require.NoError(t, os.WriteFile(s.TrainSource, []byte("\n\n"), 0o644))
	_, err := New(s, SplitTrain, nil, 0)
	assert.Error(t, err)
}

func TestRaw(t *testing.T) {
	s := createTestDataset(t, 2)
	ds, err := New(s, SplitTrain, nil, 0)
	require.NoError(t, err)

	img, gt, err := ds.Raw(1)
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())
	assert.Equal(t, 30, img.Bounds().Dy())
	assert.Equal(t, uint8(0), gt.At(0, 0))
	assert.Equal(t, uint8(2), gt.At(29, 39))

	_, _, err = ds.Raw(2)
	assert.Error(t, err)
}

func TestGet(t *testing.T) {
	s := createTestDataset(t, 2)
	cfg := pipeline.DefaultConfig()
	cfg.CropHeight, cfg.CropWidth = 32, 32
	pre, err := pipeline.New(cfg, nil)
	require.NoError(t, err)

	ds, err := New(s, SplitTrain, pre, 4)
	require.NoError(t, err)

	sample, err := ds.Get(rand.New(rand.NewSource(1)), 3)
	require.NoError(t, err)
	assert.Equal(t, ds.Name(3), sample.Name)
	assert.Equal(t, []int{3, 32, 32}, sample.Image.Shape())
	assert.Equal(t, types.Size{Height: 32, Width: 32}, sample.Label.Size())
	assert.Equal(t, types.Size{Height: 32, Width: 32}, sample.Aux.EdgeLabel.Size())
}

func TestGetWithoutTransform(t *testing.T) {
	s := createTestDataset(t, 1)
	ds, err := New(s, SplitTrain, nil, 0)
	require.NoError(t, err)
	_, err = ds.Get(rand.New(rand.NewSource(1)), 0)
	assert.Error(t, err)
}

func TestGetMissingFile(t *testing.T) {
	s := createTestDataset(t, 2)
	require.NoError(t, os.Remove(filepath.Join(s.GtRoot, "city/gt_01.png")))
	pre, err := pipeline.NewEval(pipeline.DefaultConfig())
	require.NoError(t, err)
	ds, err := New(s, SplitTrain, pre, 0)
	require.NoError(t, err)

	_, err = ds.Get(nil, 0)
	assert.NoError(t, err)
	_, err = ds.Get(nil, 1)
	assert.Error(t, err)
}
