package confirm

import (
	"context"
	"errors"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	metrics "github.com/rcrowley/go-metrics"
	"golang.org/x/sync/errgroup"

	"github.com/crux-protocol/forkUniswapV3-EVM/internal"
)

var errDepthNotReached = errors.New("confirmation depth not reached")

// WaiterOpt configures a waiter
type WaiterOpt func(*Waiter)

// PollWith replaces the default polling policy. The factory is invoked
// once per watched operation, a backoff policy is not safe to share.
func PollWith(policy func() backoff.BackOff) WaiterOpt {
	return func(w *Waiter) { w.policy = policy }
}

// NewWaiter creates a waiter that considers an operation durable at the
// given confirmation depth and abandons it after the given timeout.
func NewWaiter(source Source, depth uint64, timeout time.Duration, opts ...WaiterOpt) *Waiter {
	w := &Waiter{
		source:  source,
		depth:   depth,
		timeout: timeout,
		policy:  defaultPolicy,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func defaultPolicy() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 15 * time.Second
	// the per-operation timeout bounds the wait, not the policy
	bo.MaxElapsedTime = 0
	return bo
}

// Waiter blocks until a batch of pending operations is durable
type Waiter struct {
	source  Source
	depth   uint64
	timeout time.Duration
	policy  func() backoff.BackOff
}

// AwaitAll watches every operation in the batch concurrently and returns
// once all of them confirmed, or with a ConfirmationError naming the
// first operation that was rejected or ran out of time. A failure
// abandons the remaining watches: the step is the unit of recovery, so
// there is no point confirming the rest of a batch that already failed.
//
// Operations within one batch carry no ordering dependency. Batches of
// different steps must never be awaited concurrently, the driver enforces
// that by calling this once per step.
func (w *Waiter) AwaitAll(ctx context.Context, ops []Pending) error {
	if len(ops) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, op := range ops {
		op := op
		g.Go(func() error {
			return w.await(gctx, op)
		})
	}
	return g.Wait()
}

func (w *Waiter) await(ctx context.Context, op Pending) error {
	timer := metrics.GetOrRegisterTimer("confirm.await", metrics.DefaultRegistry)
	defer timer.UpdateSince(time.Now())

	wait, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	internal.PublishEvent(ctx, TopicConfirmation, Event{
		Op: op.Op, Handle: op.Handle, Phase: PhaseWaiting,
	})

	var depth uint64
	check := func() error {
		st, err := w.source.Status(wait, op.Handle)
		if err != nil {
			// transient source hiccup, keep polling
			return err
		}
		if st.Rejected {
			return backoff.Permanent(ErrRejected)
		}
		depth = st.Depth
		if st.Depth < w.depth {
			return errDepthNotReached
		}
		return nil
	}

	if err := backoff.Retry(check, backoff.WithContext(w.policy(), wait)); err != nil {
		if wait.Err() != nil && ctx.Err() == nil {
			// this specific operation ran out of time
			err = wait.Err()
		}
		cerr := Err(op, err)
		internal.PublishEvent(ctx, TopicConfirmation, Event{
			Op: op.Op, Handle: op.Handle, Depth: depth, Phase: PhaseFailed, Reason: cerr,
		})
		return cerr
	}

	internal.PublishEvent(ctx, TopicConfirmation, Event{
		Op: op.Op, Handle: op.Handle, Depth: depth, Phase: PhaseConfirmed,
	})
	return nil
}
