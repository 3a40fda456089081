package loader

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Sampler yields the dataset indices visited in one epoch.
type Sampler interface {
	// Indices returns the order for the current epoch.
	Indices() []int
	// SetEpoch selects the epoch used to seed the next Indices call.
	SetEpoch(epoch int)
	// Len is the number of indices returned per epoch.
	Len() int
}

// SequentialSampler visits 0..n-1 in order.
type SequentialSampler struct {
	n int
}

// NewSequentialSampler creates a sampler over n items
func NewSequentialSampler(n int) *SequentialSampler {
	return &SequentialSampler{n: n}
}

func (s *SequentialSampler) Indices() []int {
	out := make([]int, s.n)
	for i := range out {
		out[i] = i
	}
	return out
}

func (s *SequentialSampler) SetEpoch(int) {}

func (s *SequentialSampler) Len() int { return s.n }

// RandomSampler visits a fresh permutation of 0..n-1 every epoch.
type RandomSampler struct {
	n     int
	seed  int64
	epoch int
}

// NewRandomSampler creates a sampler whose order depends only on seed and epoch.
func NewRandomSampler(n int, seed int64) *RandomSampler {
	return &RandomSampler{n: n, seed: seed}
}

func (s *RandomSampler) Indices() []int {
	return rand.New(rand.NewSource(s.seed + int64(s.epoch))).Perm(s.n)
}

func (s *RandomSampler) SetEpoch(epoch int) { s.epoch = epoch }

func (s *RandomSampler) Len() int { return s.n }

// DistributedSampler restricts an epoch to one shard of the dataset. The
// index list is padded by wrapping around to a multiple of replicas,
// optionally shuffled with seed+epoch, and every replicas-th index starting at
// rank is kept. Shards of the same epoch are disjoint apart from the padding.
type DistributedSampler struct {
	n          int
	replicas   int
	rank       int
	shuffle    bool
	seed       int64
	epoch      int
	numSamples int
}

// NewDistributedSampler creates the sampler for one of replicas shards.
func NewDistributedSampler(n, replicas, rank int, shuffle bool, seed int64) (*DistributedSampler, error) {
	if replicas <= 0 {
		return nil, errors.Errorf("replicas must be positive, got %d", replicas)
	}
	if rank < 0 || rank >= replicas {
		return nil, errors.Errorf("rank %d out of range [0, %d)", rank, replicas)
	}
	return &DistributedSampler{
		n:          n,
		replicas:   replicas,
		rank:       rank,
		shuffle:    shuffle,
		seed:       seed,
		numSamples: (n + replicas - 1) / replicas,
	}, nil
}

func (s *DistributedSampler) Indices() []int {
	var indices []int
	if s.shuffle {
		indices = rand.New(rand.NewSource(s.seed + int64(s.epoch))).Perm(s.n)
	} else {
		indices = make([]int, s.n)
		for i := range indices {
			indices[i] = i
		}
	}

	total := s.numSamples * s.replicas
	for len(indices) < total && s.n > 0 {
		indices = append(indices, indices[:min(total-len(indices), s.n)]...)
	}

	out := make([]int, 0, s.numSamples)
	for i := s.rank; i < total; i += s.replicas {
		out = append(out, indices[i])
	}
	return out
}

func (s *DistributedSampler) SetEpoch(epoch int) { s.epoch = epoch }

func (s *DistributedSampler) Len() int { return s.numSamples }

// Replicas returns the number of shards.
func (s *DistributedSampler) Replicas() int { return s.replicas }

// Rank returns the shard this sampler serves.
func (s *DistributedSampler) Rank() int { return s.rank }
