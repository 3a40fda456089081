package loader

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Engine describes the process the loader runs in.
type Engine struct {
	Distributed bool `json:"distributed" mapstructure:"distributed"`
	WorldSize   int  `json:"world_size" mapstructure:"world_size"`
	Rank        int  `json:"rank" mapstructure:"rank"`
}

// TrainConfig holds the training loader settings.
type TrainConfig struct {
	BatchSize  int
	NumWorkers int
	Seed       int64
	Logger     *zap.Logger
}

// TrainLoader builds the training loader. In a distributed engine each
// process reads its own shard through a DistributedSampler, global shuffling
// is off and the batch size is cfg.BatchSize / WorldSize (rounded down).
// Otherwise the order is shuffled, the full batch size is used and the
// returned sampler is nil. The last incomplete batch is always dropped.
//
// The caller owns the epoch: call Reset (or SetEpoch) on the loader between
// epochs so the sampler reshuffles.
func TrainLoader(cfg TrainConfig, engine Engine, ds Dataset) (*Loader, Sampler, error) {
	opts := Options{
		BatchSize:  cfg.BatchSize,
		NumWorkers: cfg.NumWorkers,
		DropLast:   true,
		Shuffle:    true,
		PinMemory:  true,
		Seed:       cfg.Seed,
		Logger:     cfg.Logger,
	}

	var sampler Sampler
	if engine.Distributed {
		if engine.WorldSize <= 0 {
			return nil, nil, errors.Errorf("world size must be positive, got %d", engine.WorldSize)
		}
		shard, err := NewDistributedSampler(ds.Len(), engine.WorldSize, engine.Rank, true, cfg.Seed)
		if err != nil {
			return nil, nil, errors.Wrap(err, "distributed sampler")
		}
		sampler = shard
		opts.Sampler = sampler
		opts.Shuffle = false
		opts.BatchSize = cfg.BatchSize / engine.WorldSize
		if opts.BatchSize == 0 {
			return nil, nil, errors.Errorf("batch size %d is smaller than world size %d", cfg.BatchSize, engine.WorldSize)
		}
	}

	l, err := New(ds, opts)
	if err != nil {
		return nil, nil, err
	}
	return l, sampler, nil
}
