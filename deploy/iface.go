// Package deploy drives a deployment sequence step by step.
//
// The driver pulls steps from a lazy sequence, waits for every
// transaction a step issued to reach the configured confirmation depth,
// checkpoints the recovery state and only then advances. A crashed or
// failed run is resumed by starting over with the persisted state, which
// turns already-recorded steps into no-ops.
package deploy

import (
	"context"

	"github.com/crux-protocol/forkUniswapV3-EVM/confirm"
	"github.com/crux-protocol/forkUniswapV3-EVM/state"
)

// A Step is one unit of the deployment sequence. Given the current
// recovery state it either has nothing left to do, or submits one or
// more transactions and reports them as a batch.
//
// Steps MUST be idempotent against a state that already records them:
// a batch that fails to confirm is never recorded, so a resumed run
// re-executes the entire step, and siblings of the failed operation may
// already be applied on-chain. Check the state before submitting.
type Step interface {
	Name() string
	Execute(ctx context.Context, st *state.Recovery) (Batch, error)
}

// StepName represents a step name
type StepName string

// Name method to make it easier to build named steps
func (s StepName) Name() string {
	return string(s)
}

// Named builds a step from a function
func Named(name StepName, execute func(context.Context, *state.Recovery) (Batch, error)) Step {
	return &simpleStep{StepName: name, execute: execute}
}

type simpleStep struct {
	StepName
	execute func(context.Context, *state.Recovery) (Batch, error)
}

func (s *simpleStep) Execute(ctx context.Context, st *state.Recovery) (Batch, error) {
	if s.execute == nil {
		return Batch{Step: s.Name()}, nil
	}
	return s.execute(ctx, st)
}

// StepResult is the outcome of one logical sub-operation within a step
type StepResult struct {
	// Op labels the sub-operation, eg "deploy-factory-tx"
	Op string
	// Pending is the transaction to await, nil when the sub-operation
	// was a no-op or did not touch the network
	Pending *confirm.Pending
	// Delta is merged into the recovery state once the batch confirmed
	Delta state.Outcome
}

// Batch is everything one step produced
type Batch struct {
	Step    string
	Results []StepResult
}

// PendingOps collects the operations of the batch that need confirmation
func (b Batch) PendingOps() []confirm.Pending {
	var ops []confirm.Pending
	for _, res := range b.Results {
		if res.Pending != nil {
			ops = append(ops, *res.Pending)
		}
	}
	return ops
}

// A Sequence lazily yields deployment steps. Next is pulled exactly once
// per iteration with the current recovery state, so a sequence can skip
// or tailor steps based on what previous runs already recorded.
type Sequence interface {
	Next(st *state.Recovery) (Step, bool)
}

// SequenceFunc adapts a function to the Sequence interface
type SequenceFunc func(st *state.Recovery) (Step, bool)

// Next calls the wrapped function
func (f SequenceFunc) Next(st *state.Recovery) (Step, bool) {
	return f(st)
}

// Steps builds a fixed sequence out of the given steps
func Steps(steps ...Step) Sequence {
	idx := 0
	return SequenceFunc(func(_ *state.Recovery) (Step, bool) {
		if idx >= len(steps) {
			return nil, false
		}
		step := steps[idx]
		idx++
		return step, true
	})
}
