// Package fsops provides the host primitives behind recipe instructions:
// filesystem operations, hashing, archive extraction and the shared random
// source.
//
// Every primitive reports failure as a false/absent result and logs the
// underlying error at debug level; none of them return errors.
package fsops

import (
	"math/rand/v2"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/chazu/taskd/vm"
)

var log = commonlog.GetLogger("taskd.fsops")

// DefaultSeed matches the sequence an unseeded process starts from.
const DefaultSeed uint32 = 1

// Provider implements vm.Capabilities against the local filesystem.
//
// The random source is shared by every recipe the provider serves, so a
// RAND_SEED in one recipe affects all later RANDOM_* instructions.
type Provider struct {
	mu  sync.Mutex
	rng *rand.Rand
}

var _ vm.Capabilities = (*Provider)(nil)

// New creates a provider whose random source starts from seed.
func New(seed uint32) *Provider {
	return &Provider{rng: newRand(seed)}
}

func newRand(seed uint32) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), 0))
}

// Seed resets the shared random source.
func (p *Provider) Seed(seed uint32) {
	p.mu.Lock()
	p.rng = newRand(seed)
	p.mu.Unlock()
}

// RandomRange returns a uniformly chosen integer in [min, max]. The bounds
// may be given in either order.
func (p *Provider) RandomRange(min, max int64) int64 {
	if max < min {
		min, max = max, min
	}
	span := uint64(max-min) + 1
	if span == 0 {
		// full int64 range
		p.mu.Lock()
		defer p.mu.Unlock()
		return int64(p.rng.Uint64())
	}
	p.mu.Lock()
	n := p.rng.Uint64N(span)
	p.mu.Unlock()
	return min + int64(n)
}

// intn picks an index in [0, n).
func (p *Provider) intn(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.IntN(n)
}
