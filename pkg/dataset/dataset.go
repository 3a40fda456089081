// Package dataset reads image / ground-truth file lists and produces
// transformed samples by index.
package dataset

import (
	"bufio"
	"image"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/menta2k/segprep/pkg/augment"
	"github.com/menta2k/segprep/pkg/pipeline"
	"github.com/menta2k/segprep/pkg/processing"
	"github.com/menta2k/segprep/pkg/types"
)

// SplitTrain selects Settings.TrainSource; any other split reads EvalSource.
const SplitTrain = "train"

// Settings locates a dataset on disk.
type Settings struct {
	ImgRoot     string `json:"img_root" mapstructure:"img_root"`
	GtRoot      string `json:"gt_root" mapstructure:"gt_root"`
	TrainSource string `json:"train_source" mapstructure:"train_source"`
	EvalSource  string `json:"eval_source" mapstructure:"eval_source"`
}

// Entry is one line of a file list.
type Entry struct {
	Image string
	Label string
}

// Name is the label file name without directory or extension.
func (e Entry) Name() string {
	base := filepath.Base(e.Label)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Dataset maps an index to a transformed sample.
type Dataset struct {
	settings  Settings
	split     string
	transform pipeline.Transform
	entries   []Entry
	files     []Entry
	processor *processing.Processor
	logger    *zap.Logger
	seed      int64
}

// Option configures a Dataset
type Option func(*Dataset)

// WithSeed sets the seed used to pick the extra entries of a virtual length.
func WithSeed(seed int64) Option {
	return func(d *Dataset) { d.seed = seed }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dataset) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New reads the file list for split. When length > 0 the list is repeated
// length/n times and length%n further entries are drawn without replacement,
// so Len() == length. transform may be nil, in which case Get fails and only
// Raw is usable.
func New(settings Settings, split string, transform pipeline.Transform, length int, opts ...Option) (*Dataset, error) {
	d := &Dataset{
		settings:  settings,
		split:     split,
		transform: transform,
		processor: processing.NewProcessor(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}

	source := settings.EvalSource
	if split == SplitTrain {
		source = settings.TrainSource
	}
	files, err := ReadFileList(source)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.Errorf("file list %s is empty", source)
	}
	d.files = files
	d.entries = files
	if length > 0 {
		d.entries = expand(files, length, rand.New(rand.NewSource(d.seed)))
	}

	d.logger.Info("dataset loaded",
		zap.String("split", split),
		zap.String("source", source),
		zap.Int("files", len(files)),
		zap.Int("length", len(d.entries)))
	return d, nil
}

// ReadFileList parses a list with one "<image>\t<label>" pair per line.
// Blank lines are skipped.
func ReadFileList(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open file list")
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		img, gt, ok := strings.Cut(text, "\t")
		if !ok {
			return nil, errors.Errorf("%s:%d: expected <image>\\t<label>", path, line)
		}
		entries = append(entries, Entry{Image: strings.TrimSpace(img), Label: strings.TrimSpace(gt)})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read file list %s", path)
	}
	return entries, nil
}

// WriteFileList writes entries in the format read by ReadFileList.
func WriteFileList(path string, entries []Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create file list")
	}
	w := bufio.NewWriter(f)
	for _, e := range entries {
		if _, err := w.WriteString(e.Image + "\t" + e.Label + "\n"); err != nil {
			f.Close()
			return errors.Wrap(err, "write file list")
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return errors.Wrap(err, "write file list")
	}
	return f.Close()
}

func expand(files []Entry, length int, rng *rand.Rand) []Entry {
	n := len(files)
	out := make([]Entry, 0, length)
	for i := 0; i < length/n; i++ {
		out = append(out, files...)
	}
	for _, i := range rng.Perm(n)[:length%n] {
		out = append(out, files[i])
	}
	return out
}

// Len returns the (virtual) number of samples.
func (d *Dataset) Len() int {
	return len(d.entries)
}

// Split returns the split name the dataset was built for.
func (d *Dataset) Split() string {
	return d.split
}

// Files returns the distinct entries of the file list.
func (d *Dataset) Files() []Entry {
	return d.files
}

// Entry returns the i-th entry.
func (d *Dataset) Entry(i int) Entry {
	return d.entries[i]
}

// Name returns the sample name of the i-th entry.
func (d *Dataset) Name(i int) string {
	return d.entries[i].Name()
}

// Raw loads the i-th pair without transforming it.
func (d *Dataset) Raw(i int) (image.Image, *types.Mask, error) {
	if i < 0 || i >= len(d.entries) {
		return nil, nil, errors.Errorf("index %d out of range [0, %d)", i, len(d.entries))
	}
	e := d.entries[i]
	return d.processor.LoadPair(
		filepath.Join(d.settings.ImgRoot, e.Image),
		filepath.Join(d.settings.GtRoot, e.Label))
}

// Get loads and transforms the i-th pair using rng for random decisions.
func (d *Dataset) Get(rng augment.Rand, i int) (*types.Sample, error) {
	if d.transform == nil {
		return nil, errors.New("dataset has no transform")
	}
	img, gt, err := d.Raw(i)
	if err != nil {
		return nil, err
	}
	sample, err := d.transform.Apply(rng, img, gt)
	if err != nil {
		return nil, errors.Wrapf(err, "transform %s", d.Name(i))
	}
	sample.Name = d.Name(i)
	d.logger.Debug("sample ready", zap.Int("index", i), zap.String("name", sample.Name))
	return sample, nil
}
