package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/menta2k/segprep/pkg/dataset"
	"github.com/menta2k/segprep/pkg/loader"
	"github.com/menta2k/segprep/pkg/pipeline"
	"github.com/menta2k/segprep/pkg/vision"
)

// EnvPrefix is the prefix of environment variables that override the file,
// e.g. SEGPREP_BATCH_SIZE or SEGPREP_ENGINE_WORLD_SIZE.
const EnvPrefix = "SEGPREP"

// Config holds the application configuration
type Config struct {
	TrainScaleArray []float64 `mapstructure:"train_scale_array" json:"train_scale_array"`
	ImageHeight     int       `mapstructure:"image_height" json:"image_height"`
	ImageWidth      int       `mapstructure:"image_width" json:"image_width"`
	ImageMean       []float64 `mapstructure:"image_mean" json:"image_mean"`
	ImageStd        []float64 `mapstructure:"image_std" json:"image_std"`
	BatchSize       int       `mapstructure:"batch_size" json:"batch_size"`
	NitersPerEpoch  int       `mapstructure:"niters_per_epoch" json:"niters_per_epoch"`
	NumWorkers      int       `mapstructure:"num_workers" json:"num_workers"`
	ImgRootFolder   string    `mapstructure:"img_root_folder" json:"img_root_folder"`
	GtRootFolder    string    `mapstructure:"gt_root_folder" json:"gt_root_folder"`
	TrainSource     string    `mapstructure:"train_source" json:"train_source"`
	EvalSource      string    `mapstructure:"eval_source" json:"eval_source"`
	Seed            int64     `mapstructure:"seed" json:"seed"`

	Edge   vision.EdgeConfig `mapstructure:"edge" json:"edge"`
	Engine loader.Engine     `mapstructure:"engine" json:"engine"`
	Log    LogConfig         `mapstructure:"log" json:"log"`
	Output OutputConfig      `mapstructure:"output" json:"output"`
}

// LogConfig selects the logger flavour
type LogConfig struct {
	// Mode is "release" for JSON production logs, anything else for
	// coloured development logs.
	Mode string `mapstructure:"mode" json:"mode"`
}

// OutputConfig holds configuration for preview output
type OutputConfig struct {
	Dir      string `mapstructure:"dir" json:"dir"`
	Format   string `mapstructure:"format" json:"format"`
	Quality  int    `mapstructure:"quality" json:"quality"`
	Lossless bool   `mapstructure:"lossless" json:"lossless"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		TrainScaleArray: []float64{0.5, 0.75, 1, 1.25, 1.5, 1.75},
		ImageHeight:     768,
		ImageWidth:      768,
		ImageMean:       []float64{0.485, 0.456, 0.406},
		ImageStd:        []float64{0.229, 0.224, 0.225},
		BatchSize:       16,
		NitersPerEpoch:  186,
		NumWorkers:      4,
		ImgRootFolder:   "./data",
		GtRootFolder:    "./data",
		TrainSource:     "./data/train.txt",
		EvalSource:      "./data/val.txt",
		Seed:            12345,
		Edge:            vision.DefaultEdgeConfig(),
		Engine:          loader.Engine{Distributed: false, WorldSize: 1, Rank: 0},
		Log:             LogConfig{Mode: "debug"},
		Output: OutputConfig{
			Dir:     "./output",
			Format:  "png",
			Quality: 90,
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("train_scale_array", d.TrainScaleArray)
	v.SetDefault("image_height", d.ImageHeight)
	v.SetDefault("image_width", d.ImageWidth)
	v.SetDefault("image_mean", d.ImageMean)
	v.SetDefault("image_std", d.ImageStd)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("niters_per_epoch", d.NitersPerEpoch)
	v.SetDefault("num_workers", d.NumWorkers)
	v.SetDefault("img_root_folder", d.ImgRootFolder)
	v.SetDefault("gt_root_folder", d.GtRootFolder)
	v.SetDefault("train_source", d.TrainSource)
	v.SetDefault("eval_source", d.EvalSource)
	v.SetDefault("seed", d.Seed)

	v.SetDefault("edge.low_threshold", d.Edge.LowThreshold)
	v.SetDefault("edge.high_threshold", d.Edge.HighThreshold)
	v.SetDefault("edge.aperture_size", d.Edge.ApertureSize)
	v.SetDefault("edge.radius", d.Edge.Radius)
	v.SetDefault("edge.ignore_index", d.Edge.IgnoreIndex)

	v.SetDefault("engine.distributed", d.Engine.Distributed)
	v.SetDefault("engine.world_size", d.Engine.WorldSize)
	v.SetDefault("engine.rank", d.Engine.Rank)

	v.SetDefault("log.mode", d.Log.Mode)

	v.SetDefault("output.dir", d.Output.Dir)
	v.SetDefault("output.format", d.Output.Format)
	v.SetDefault("output.quality", d.Output.Quality)
	v.SetDefault("output.lossless", d.Output.Lossless)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads defaults, then the file at path when it is not empty, then
// SEGPREP_* environment variables. A null train_scale_array in the file, or
// SEGPREP_TRAIN_SCALE_ARRAY set to "", "none" or "null", disables scaling.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	disabled, err := scaleDisabled(path)
	if err != nil {
		return nil, err
	}
	if disabled {
		v.Set(scaleKey, []float64{})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

const scaleKey = "train_scale_array"

// scaleDisabled reports whether train_scale_array is switched off. The
// environment wins over the file. Viper treats a null value as unset, so the
// file is read again without defaults to tell null apart from absent.
func scaleDisabled(path string) (bool, error) {
	if env, ok := os.LookupEnv(EnvPrefix + "_" + strings.ToUpper(scaleKey)); ok {
		return isNone(env), nil
	}
	if path == "" {
		return false, nil
	}
	raw := viper.New()
	raw.SetConfigFile(path)
	if err := raw.ReadInConfig(); err != nil {
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	if !slices.Contains(raw.AllKeys(), scaleKey) {
		return false, nil
	}
	switch val := raw.Get(scaleKey).(type) {
	case nil:
		return true, nil
	case string:
		return isNone(val), nil
	}
	return false, nil
}

func isNone(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "null":
		return true
	}
	return false
}

// LoadFromFile loads configuration from a YAML, JSON or TOML file
func LoadFromFile(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("config file name is empty")
	}
	return Load(filename)
}

// SaveToFile saves configuration to a file; the extension selects the format
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	var values map[string]any
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	// Viper drops nil values on write; keep disabled scaling explicit.
	if values[scaleKey] == nil {
		values[scaleKey] = []any{}
	}

	v := viper.New()
	if err := v.MergeConfigMap(values); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := v.WriteConfigAs(filename); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.ImageHeight < 1 || c.ImageWidth < 1 {
		return fmt.Errorf("image_height and image_width must be positive")
	}

	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be positive")
	}

	if c.NitersPerEpoch < 1 {
		return fmt.Errorf("niters_per_epoch must be positive")
	}

	if c.NumWorkers < 0 {
		return fmt.Errorf("num_workers cannot be negative")
	}

	if err := c.Pipeline().Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	if c.Engine.Distributed {
		if c.Engine.WorldSize < 1 {
			return fmt.Errorf("engine.world_size must be positive")
		}
		if c.Engine.Rank < 0 || c.Engine.Rank >= c.Engine.WorldSize {
			return fmt.Errorf("engine.rank must be in [0, engine.world_size)")
		}
		if c.BatchSize < c.Engine.WorldSize {
			return fmt.Errorf("batch_size must be at least engine.world_size")
		}
	}

	switch strings.ToLower(c.Output.Format) {
	case "jpg", "jpeg", "png", "webp":
	default:
		return fmt.Errorf("output.format must be one of jpg, png, webp")
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}

	return nil
}

// Pipeline returns the transform configuration.
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		Mean:       c.ImageMean,
		Std:        c.ImageStd,
		Scales:     c.TrainScaleArray,
		CropHeight: c.ImageHeight,
		CropWidth:  c.ImageWidth,
		Edge:       c.Edge,
	}
}

// DataSettings returns where the dataset lives.
func (c *Config) DataSettings() dataset.Settings {
	return dataset.Settings{
		ImgRoot:     c.ImgRootFolder,
		GtRoot:      c.GtRootFolder,
		TrainSource: c.TrainSource,
		EvalSource:  c.EvalSource,
	}
}

// DatasetLength is the number of samples one training epoch visits.
func (c *Config) DatasetLength() int {
	return c.BatchSize * c.NitersPerEpoch
}

// Loader returns the training loader settings.
func (c *Config) Loader(logger *zap.Logger) loader.TrainConfig {
	return loader.TrainConfig{
		BatchSize:  c.BatchSize,
		NumWorkers: c.NumWorkers,
		Seed:       c.Seed,
		Logger:     logger,
	}
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./segprep.yaml"
	}
	return filepath.Join(home, ".config", "segprep", "config.yaml")
}
