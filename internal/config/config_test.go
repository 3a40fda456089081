package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/segprep/pkg/loader"
	"github.com/menta2k/segprep/pkg/types"
)

func engineOf(distributed bool, world, rank int) loader.Engine {
	return loader.Engine{Distributed: distributed, WorldSize: world, Rank: rank}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 16*186, cfg.DatasetLength())
	assert.Equal(t, types.IgnoreIndex, cfg.Edge.IgnoreIndex)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segprep.yaml")
	content := `
train_scale_array: [0.75, 1.0]
image_height: 256
image_width: 512
batch_size: 8
num_workers: 2
img_root_folder: /data/city
train_source: /data/city/train.txt
engine:
  distributed: true
  world_size: 4
  rank: 3
edge:
  radius: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.75, 1.0}, cfg.TrainScaleArray)
	assert.Equal(t, 256, cfg.ImageHeight)
	assert.Equal(t, 512, cfg.ImageWidth)
	assert.Equal(t, 8, cfg.BatchSize)
	assert.Equal(t, "/data/city", cfg.ImgRootFolder)
	assert.True(t, cfg.Engine.Distributed)
	assert.Equal(t, 4, cfg.Engine.WorldSize)
	assert.Equal(t, 3, cfg.Engine.Rank)
	assert.Equal(t, 5, cfg.Edge.Radius)
	// Untouched keys keep their defaults.
	assert.Equal(t, 7, cfg.Edge.ApertureSize)
	assert.Equal(t, Default().ImageMean, cfg.ImageMean)
	assert.Equal(t, 186, cfg.NitersPerEpoch)
	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SEGPREP_BATCH_SIZE", "32")
	t.Setenv("SEGPREP_ENGINE_WORLD_SIZE", "8")
	t.Setenv("SEGPREP_LOG_MODE", "release")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.BatchSize)
	assert.Equal(t, 8, cfg.Engine.WorldSize)
	assert.Equal(t, "release", cfg.Log.Mode)
}

func TestLoadScaleDisabled(t *testing.T) {
	cases := map[string]string{
		"null":   "train_scale_array: null\n",
		"tilde":  "train_scale_array: ~\n",
		"empty":  "train_scale_array:\n",
		"list":   "train_scale_array: []\n",
		"none":   "train_scale_array: none\n",
		"quoted": "train_scale_array: \"\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "segprep.yaml")
			require.NoError(t, os.WriteFile(path, []byte("image_height: 64\n"+body), 0644))

			cfg, err := Load(path)
			require.NoError(t, err)
			assert.Empty(t, cfg.TrainScaleArray)
			assert.Empty(t, cfg.Pipeline().Scales)
			assert.Equal(t, 64, cfg.ImageHeight)
			require.NoError(t, cfg.Validate())
		})
	}

	t.Run("json null", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "segprep.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"train_scale_array": null}`), 0644))
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Empty(t, cfg.TrainScaleArray)
	})

	t.Run("absent keeps default", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "segprep.yaml")
		require.NoError(t, os.WriteFile(path, []byte("image_height: 64\n"), 0644))
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, Default().TrainScaleArray, cfg.TrainScaleArray)
	})

	t.Run("env", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "segprep.yaml")
		require.NoError(t, os.WriteFile(path, []byte("train_scale_array: [0.5, 1.0]\n"), 0644))
		for _, val := range []string{"", "none", "NULL"} {
			t.Setenv("SEGPREP_TRAIN_SCALE_ARRAY", val)
			cfg, err := Load(path)
			require.NoError(t, err)
			assert.Empty(t, cfg.TrainScaleArray, "SEGPREP_TRAIN_SCALE_ARRAY=%q", val)

			cfg, err = Load("")
			require.NoError(t, err)
			assert.Empty(t, cfg.TrainScaleArray, "SEGPREP_TRAIN_SCALE_ARRAY=%q without a file", val)
		}
	})
}

func TestSaveDisabledScaleRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	cfg := Default()
	cfg.TrainScaleArray = nil
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Empty(t, loaded.TrainScaleArray)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
	_, err = LoadFromFile("")
	assert.Error(t, err)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	for _, name := range []string{"cfg.yaml", "cfg.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			cfg := Default()
			cfg.ImageHeight = 320
			cfg.TrainScaleArray = []float64{1.5}
			cfg.Engine.Rank = 0
			cfg.Output.Format = "webp"

			require.NoError(t, cfg.SaveToFile(path))
			loaded, err := LoadFromFile(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero height", func(c *Config) { c.ImageHeight = 0 }},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }},
		{"zero iterations", func(c *Config) { c.NitersPerEpoch = 0 }},
		{"negative workers", func(c *Config) { c.NumWorkers = -1 }},
		{"short mean", func(c *Config) { c.ImageMean = []float64{0.5} }},
		{"zero std", func(c *Config) { c.ImageStd = []float64{0.2, 0, 0.2} }},
		{"negative scale", func(c *Config) { c.TrainScaleArray = []float64{-1} }},
		{"bad aperture", func(c *Config) { c.Edge.ApertureSize = 9 }},
		{"bad rank", func(c *Config) { c.Engine = engineOf(true, 2, 2) }},
		{"zero world", func(c *Config) { c.Engine = engineOf(true, 0, 0) }},
		{"batch below world", func(c *Config) { c.BatchSize = 2; c.Engine = engineOf(true, 4, 0) }},
		{"bad format", func(c *Config) { c.Output.Format = "gif" }},
		{"bad quality", func(c *Config) { c.Output.Quality = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	cfg.TrainScaleArray = nil
	assert.NoError(t, cfg.Validate(), "scaling may be disabled")
}

func TestDerivedConfigs(t *testing.T) {
	cfg := Default()
	cfg.ImageHeight, cfg.ImageWidth = 100, 200

	p := cfg.Pipeline()
	assert.Equal(t, 100, p.CropHeight)
	assert.Equal(t, 200, p.CropWidth)
	assert.Equal(t, cfg.TrainScaleArray, p.Scales)
	assert.Equal(t, cfg.Edge, p.Edge)

	s := cfg.DataSettings()
	assert.Equal(t, cfg.TrainSource, s.TrainSource)
	assert.Equal(t, cfg.GtRootFolder, s.GtRoot)

	l := cfg.Loader(nil)
	assert.Equal(t, cfg.BatchSize, l.BatchSize)
	assert.Equal(t, cfg.NumWorkers, l.NumWorkers)
	assert.Equal(t, cfg.Seed, l.Seed)
}

func TestGetConfigPath(t *testing.T) {
	assert.Contains(t, GetConfigPath(), "segprep")
}
