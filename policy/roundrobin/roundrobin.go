// Package roundrobin implements the rotating-cursor flush selection policy.
package roundrobin

import (
	"sync/atomic"

	"github.com/IvanBrykalov/shardindex/policy"
)

// roundRobin hands out bins in order 0, 1, …, Bins()-1, 0, … shared by all
// workers, so consecutive calls from any worker advance the same cursor.
type roundRobin struct {
	h      policy.Hooks
	cursor atomic.Uint64
}

type roundRobinPolicy struct{}

// New returns a Policy factory that constructs round-robin selectors.
func New() policy.Policy { return roundRobinPolicy{} }

// New implements policy.Policy.
func (roundRobinPolicy) New(h policy.Hooks) policy.Selector {
	return &roundRobin{h: h}
}

// Next returns the bin under the cursor and advances it.
func (p *roundRobin) Next() int {
	bins := p.h.Bins()
	if bins <= 0 {
		return 0
	}
	return int((p.cursor.Add(1) - 1) % uint64(bins))
}
