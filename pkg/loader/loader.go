// Package loader batches transformed samples with a pool of workers and picks
// the sampler and batch size for single-process or sharded training.
package loader

import (
	"context"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/segprep/pkg/augment"
	"github.com/menta2k/segprep/pkg/types"
)

// DefaultPrefetch is the number of batches buffered per worker.
const DefaultPrefetch = 2

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("loader is closed")

// Dataset is what the loader reads samples from.
type Dataset interface {
	Len() int
	Get(rng augment.Rand, i int) (*types.Sample, error)
}

// Options configures a Loader.
type Options struct {
	BatchSize  int
	NumWorkers int
	DropLast   bool
	// Shuffle uses a RandomSampler when Sampler is nil. Setting both is an error.
	Shuffle bool
	Sampler Sampler
	// PinMemory is recorded for parity with GPU loaders; batches live in
	// ordinary Go memory either way.
	PinMemory bool
	Prefetch  int
	Seed      int64
	Logger    *zap.Logger
}

// Loader produces the batches of one epoch at a time, in sampler order.
type Loader struct {
	ds      Dataset
	opts    Options
	sampler Sampler
	logger  *zap.Logger

	mu     sync.Mutex
	epoch  int
	run    *epochRun
	closed bool
}

type result struct {
	batch *types.Batch
	err   error
}

type epochRun struct {
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	futures []chan result
	slots   chan struct{}
	next    int
	err     error
	started time.Time
	samples int
}

// New creates a Loader over ds.
func New(ds Dataset, opts Options) (*Loader, error) {
	if ds == nil {
		return nil, errors.New("loader needs a dataset")
	}
	if opts.BatchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	if opts.NumWorkers < 0 {
		return nil, errors.Errorf("num workers must not be negative, got %d", opts.NumWorkers)
	}
	if opts.Sampler != nil && opts.Shuffle {
		return nil, errors.New("shuffle and an explicit sampler are mutually exclusive")
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = DefaultPrefetch
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	sampler := opts.Sampler
	switch {
	case sampler != nil:
	case opts.Shuffle:
		sampler = NewRandomSampler(ds.Len(), opts.Seed)
	default:
		sampler = NewSequentialSampler(ds.Len())
	}

	return &Loader{
		ds:      ds,
		opts:    opts,
		sampler: sampler,
		logger:  opts.Logger,
	}, nil
}

// Options returns the effective options.
func (l *Loader) Options() Options {
	return l.opts
}

// Sampler returns the sampler driving the epoch order.
func (l *Loader) Sampler() Sampler {
	return l.sampler
}

// Epoch returns the current epoch number, starting at 0.
func (l *Loader) Epoch() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.epoch
}

// Len returns the number of batches per epoch.
func (l *Loader) Len() int {
	n := l.sampler.Len()
	if l.opts.DropLast {
		return n / l.opts.BatchSize
	}
	return (n + l.opts.BatchSize - 1) / l.opts.BatchSize
}

func (l *Loader) workers() int {
	return max(l.opts.NumWorkers, 1)
}

// Next returns the next batch of the current epoch, or io.EOF when the epoch
// is exhausted. The first call of an epoch starts the workers. A failed
// sample ends the epoch and its error is returned from then on.
func (l *Loader) Next(ctx context.Context) (*types.Batch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}
	if l.run == nil {
		l.run = l.start()
	}
	run := l.run
	if run.err != nil {
		return nil, run.err
	}
	if run.next >= len(run.futures) {
		err := run.group.Wait()
		run.cancel()
		if err != nil {
			run.err = err
			return nil, err
		}
		l.logger.Info("epoch done",
			zap.Int("epoch", l.epoch),
			zap.Int("batches", len(run.futures)),
			zap.Int("samples", run.samples),
			zap.Duration("elapsed", time.Since(run.started)))
		return nil, io.EOF
	}

	select {
	case r := <-run.futures[run.next]:
		<-run.slots
		run.next++
		if r.err != nil {
			run.cancel()
			run.err = firstError(run.group.Wait(), r.err)
			return nil, run.err
		}
		run.samples += r.batch.Size
		return r.batch, nil
	case <-run.ctx.Done():
		run.err = firstError(run.group.Wait(), run.ctx.Err())
		return nil, run.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Reset stops the current epoch and moves the sampler to the next one.
func (l *Loader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stop()
	l.epoch++
	l.sampler.SetEpoch(l.epoch)
}

// SetEpoch stops the current epoch and jumps to epoch.
func (l *Loader) SetEpoch(epoch int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stop()
	l.epoch = epoch
	l.sampler.SetEpoch(epoch)
}

// Close stops the workers. Further calls to Next return ErrClosed.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stop()
	l.closed = true
	return nil
}

func (l *Loader) stop() {
	if l.run == nil {
		return
	}
	l.run.cancel()
	_ = l.run.group.Wait()
	l.run = nil
}

// batches cuts the sampler order for the current epoch.
func (l *Loader) batches() [][]int {
	order := l.sampler.Indices()
	bs := l.opts.BatchSize
	var out [][]int
	for start := 0; start < len(order); start += bs {
		end := min(start+bs, len(order))
		if end-start < bs && l.opts.DropLast {
			break
		}
		out = append(out, order[start:end])
	}
	return out
}

func (l *Loader) start() *epochRun {
	batches := l.batches()
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	run := &epochRun{
		ctx:     gctx,
		cancel:  cancel,
		group:   group,
		futures: make([]chan result, len(batches)),
		slots:   make(chan struct{}, l.workers()*l.opts.Prefetch),
		started: time.Now(),
	}
	for i := range run.futures {
		run.futures[i] = make(chan result, 1)
	}

	l.logger.Info("epoch start",
		zap.Int("epoch", l.epoch),
		zap.Int("batches", len(batches)),
		zap.Int("batch_size", l.opts.BatchSize),
		zap.Int("workers", l.workers()),
		zap.Bool("pin_memory", l.opts.PinMemory))

	jobs := make(chan int)
	group.Go(func() error {
		defer close(jobs)
		for i := range batches {
			select {
			case run.slots <- struct{}{}:
			case <-gctx.Done():
				return nil
			}
			select {
			case jobs <- i:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	epoch := l.epoch
	for w := 0; w < l.workers(); w++ {
		group.Go(func() error {
			for i := range jobs {
				batch, err := l.build(gctx, epoch, i, batches[i])
				run.futures[i] <- result{batch: batch, err: err}
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	return run
}

// build loads and collates one batch. Every sample gets its own rng derived
// from the seed, the epoch and its position in the epoch.
func (l *Loader) build(ctx context.Context, epoch, batch int, indices []int) (*types.Batch, error) {
	samples := make([]*types.Sample, len(indices))
	for k, idx := range indices {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pos := batch*l.opts.BatchSize + k
		rng := rand.New(rand.NewSource(SampleSeed(l.opts.Seed, epoch, pos)))
		sample, err := l.ds.Get(rng, idx)
		if err != nil {
			return nil, errors.Wrapf(err, "epoch %d sample %d", epoch, idx)
		}
		samples[k] = sample
	}
	return Collate(samples)
}

// SampleSeed mixes the loader seed, the epoch and a position into a seed
// (splitmix64 finaliser).
func SampleSeed(seed int64, epoch, pos int) int64 {
	z := uint64(seed) + 0x9e3779b97f4a7c15*uint64(epoch+1) + 0xbf58476d1ce4e5b9*uint64(pos+1)
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return int64(z ^ (z >> 31))
}
