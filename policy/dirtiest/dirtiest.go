// Package dirtiest implements a flush selection policy that favours the
// bin holding the most dirty entries.
package dirtiest

import (
	"sync/atomic"

	"github.com/IvanBrykalov/shardindex/policy"
)

// dirtiest scans the dirty counters of all bins and returns the largest.
//
// Fairness: every Every-th call, and every call where no bin is dirty,
// falls back to a rotating cursor so clean bins with aged entries are
// still visited.
//
// Concurrency: counters are read without a lock; a slightly stale view
// only affects which bin is chosen, never correctness.
type dirtiest struct {
	h      policy.Hooks
	every  uint64
	calls  atomic.Uint64
	cursor atomic.Uint64
}

// New constructs a dirtiest-first policy factory.
// every controls how often the rotating fallback is forced; values < 2
// default to 4 (one rotation pick in four).
func New(every int) policy.Policy {
	if every < 2 {
		every = 4
	}
	return dirtiestPolicy{every: uint64(every)}
}

type dirtiestPolicy struct {
	every uint64
}

func (p dirtiestPolicy) New(h policy.Hooks) policy.Selector {
	return &dirtiest{h: h, every: p.every}
}

// Next returns the dirtiest bin, or the next bin in rotation.
func (p *dirtiest) Next() int {
	bins := p.h.Bins()
	if bins <= 0 {
		return 0
	}
	if p.calls.Add(1)%p.every == 0 {
		return p.rotate(bins)
	}

	best, bestDirty := -1, 0
	for bin := 0; bin < bins; bin++ {
		if d := p.h.Dirty(bin); d > bestDirty {
			best, bestDirty = bin, d
		}
	}
	if best < 0 {
		return p.rotate(bins)
	}
	return best
}

func (p *dirtiest) rotate(bins int) int {
	return int((p.cursor.Add(1) - 1) % uint64(bins))
}
