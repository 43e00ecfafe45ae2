package deploy

import (
	"context"
	"fmt"
	"sync"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/segmentio/ksuid"

	forkv3 "github.com/crux-protocol/forkUniswapV3-EVM"
	"github.com/crux-protocol/forkUniswapV3-EVM/confirm"
	"github.com/crux-protocol/forkUniswapV3-EVM/eventbus"
	"github.com/crux-protocol/forkUniswapV3-EVM/internal"
	"github.com/crux-protocol/forkUniswapV3-EVM/state"
)

// Store checkpoints the recovery state, implemented by state.Store
type Store interface {
	Load() (*state.Recovery, error)
	Persist(*state.Recovery) error
}

// Awaiter blocks until a batch of operations is durable, implemented by
// confirm.Waiter
type Awaiter interface {
	AwaitAll(ctx context.Context, ops []confirm.Pending) error
}

// DriverStatus of a deployment run
type DriverStatus uint8

const (
	// StatusIdle before Run is called
	StatusIdle DriverStatus = iota
	// StatusRunning while steps execute
	StatusRunning
	// StatusCompleted when the sequence was exhausted, terminal
	StatusCompleted
	// StatusFailed on the first unrecoverable error, terminal
	StatusFailed
)

func (s DriverStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// DriverOpt represents an option for a driver
type DriverOpt func(*Driver)

// PublishTo makes the driver report lifecycle events on the given bus
func PublishTo(bus eventbus.EventBus) DriverOpt {
	return func(d *Driver) { d.bus = bus }
}

// LogWith sets the logger used for progress and failure messages
func LogWith(log forkv3.Logger) DriverOpt {
	return func(d *Driver) { d.log = log }
}

// CollectInto makes the driver record batches into an existing aggregator
func CollectInto(results *Results) DriverOpt {
	return func(d *Driver) { d.results = results }
}

// NewDriver creates a driver for the given sequence. The store and the
// awaiter come from the state and confirm packages in production, tests
// substitute fakes.
func NewDriver(seq Sequence, store Store, waiter Awaiter, opts ...DriverOpt) *Driver {
	d := &Driver{
		id:      ksuid.New(),
		seq:     seq,
		store:   store,
		waiter:  waiter,
		bus:     eventbus.NopBus,
		log:     forkv3.NopLogger,
		results: NewResults(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Driver owns the run loop: pull a step, execute it, await its
// transactions, checkpoint, advance. It is the only writer of the
// recovery state and runs strictly sequentially.
type Driver struct {
	id      ksuid.KSUID
	seq     Sequence
	store   Store
	waiter  Awaiter
	bus     eventbus.EventBus
	log     forkv3.Logger
	results *Results

	mu     sync.Mutex
	status DriverStatus
}

// ID of this run
func (d *Driver) ID() string {
	return d.id.String()
}

// Status of the run, terminal once Completed or Failed
func (d *Driver) Status() DriverStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Results holds the report for this run
func (d *Driver) Results() *Results {
	return d.results
}

// State returns the last checkpointed recovery state
func (d *Driver) State() *state.Recovery {
	return d.results.FinalState()
}

// Run the deployment until the sequence is exhausted or a step fails.
// Step N+1 never begins before every operation of step N reached the
// configured confirmation depth, and the state is persisted before the
// next step is pulled. Run is one-shot: resumption happens by building a
// fresh driver on top of the persisted state.
//
// Known limitation: there is no cross-step cancellation. Canceling the
// context mid-step fails the run at the next suspension point; operations
// already submitted by the current step are neither awaited nor recorded.
func (d *Driver) Run(ctx context.Context) error {
	if !d.transition(StatusIdle, StatusRunning) {
		return fmt.Errorf("deployment run %s already started", d.id)
	}
	ctx = internal.SetPublisher(ctx, d.bus)
	ctx = internal.SetRunID(ctx, d.id.String())

	st, err := d.store.Load()
	if err != nil {
		return d.fail(ctx, err)
	}
	d.results.commit(st.Clone())
	d.log.Infof("run %s starting with %d recorded steps", d.id, st.Len())

	for {
		if err := ctx.Err(); err != nil {
			return d.fail(ctx, multierror.Append(nil, err))
		}
		step, ok := d.seq.Next(st)
		if !ok {
			break
		}
		name := step.Name()

		PublishStepEvent(ctx, name, StateWaiting, nil)
		PublishStepEvent(ctx, name, StateProcessing, nil)
		d.log.Debugf("executing step %s", name)
		batch, err := step.Execute(ctx, st)
		if err != nil {
			serr := StepErr(name, err)
			PublishStepEvent(ctx, name, stateFor(serr), serr)
			return d.fail(ctx, serr)
		}

		if ops := batch.PendingOps(); len(ops) > 0 {
			PublishStepEvent(ctx, name, StateConfirming, nil)
			if err := d.waiter.AwaitAll(ctx, ops); err != nil {
				PublishStepEvent(ctx, name, stateFor(err), err)
				return d.fail(ctx, err)
			}
		}

		// reporting is best-effort and precedes the checkpoint: a
		// failed persist leaves the batch visible in the report while
		// the durable state excludes it
		d.results.Record(batch)

		for _, res := range batch.Results {
			if err := st.Merge(name, res.Delta); err != nil {
				serr := StepErr(name, err)
				PublishStepEvent(ctx, name, StateFailed, serr)
				return d.fail(ctx, serr)
			}
		}
		if err := d.store.Persist(st); err != nil {
			PublishStepEvent(ctx, name, StateFailed, err)
			return d.fail(ctx, err)
		}
		d.results.commit(st.Clone())
		PublishStepEvent(ctx, name, StateCompleted, nil)
		d.log.Infof("step %s checkpointed, %d steps recorded", name, st.Len())
	}

	d.setStatus(StatusCompleted)
	PublishRunEvent(ctx, StatusCompleted, nil)
	d.log.Infof("run %s completed", d.id)
	return nil
}

func (d *Driver) fail(ctx context.Context, err error) error {
	d.setStatus(StatusFailed)
	PublishRunEvent(ctx, StatusFailed, err)
	d.log.Errorf("run %s failed: %v", d.id, err)
	return err
}

func (d *Driver) transition(from, to DriverStatus) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status != from {
		return false
	}
	d.status = to
	return true
}

func (d *Driver) setStatus(st DriverStatus) {
	d.mu.Lock()
	d.status = st
	d.mu.Unlock()
}

func stateFor(err error) State {
	if IsCanceled(err) {
		return StateCanceled
	}
	return StateFailed
}
