package deploy

import (
	"sync"

	"github.com/crux-protocol/forkUniswapV3-EVM/state"
)

// Results accumulates per-step batches and tracks the last checkpointed
// recovery state, so the end-of-run report is available whether the run
// completed or failed. Purely additive, never fails.
type Results struct {
	mu      sync.RWMutex
	batches []Batch
	final   *state.Recovery
}

// NewResults creates an empty aggregator
func NewResults() *Results {
	return &Results{}
}

// Record appends a step's batch to the report
func (r *Results) Record(batch Batch) {
	r.mu.Lock()
	r.batches = append(r.batches, batch)
	r.mu.Unlock()
}

// Batches returns the recorded batches in execution order
func (r *Results) Batches() []Batch {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Batch, len(r.batches))
	copy(out, r.batches)
	return out
}

// FinalState returns the last checkpointed recovery state. Before the
// first checkpoint it is the state the run started from; it is never nil
// so reporting always has something to show.
func (r *Results) FinalState() *state.Recovery {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.final == nil {
		return state.New()
	}
	return r.final
}

// commit is called by the driver with a snapshot after every durable
// persist and once at startup with the loaded state
func (r *Results) commit(st *state.Recovery) {
	r.mu.Lock()
	r.final = st
	r.mu.Unlock()
}
