package deploy_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crux-protocol/forkUniswapV3-EVM/confirm"
	"github.com/crux-protocol/forkUniswapV3-EVM/deploy"
	"github.com/crux-protocol/forkUniswapV3-EVM/eventbus"
	"github.com/crux-protocol/forkUniswapV3-EVM/state"
)

type fakeStore struct {
	mu         sync.Mutex
	rec        *state.Recovery
	loadErr    error
	persistErr error
	persisted  []*state.Recovery
}

func (f *fakeStore) Load() (*state.Recovery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	if f.rec == nil {
		return state.New(), nil
	}
	return f.rec.Clone(), nil
}

func (f *fakeStore) Persist(st *state.Recovery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.persistErr != nil {
		return f.persistErr
	}
	f.rec = st.Clone()
	f.persisted = append(f.persisted, f.rec)
	return nil
}

func (f *fakeStore) persists() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.persisted)
}

type countingStep struct {
	deploy.StepName
	execute func(context.Context, *state.Recovery) (deploy.Batch, error)
	runs    int64
}

func (c *countingStep) Execute(ctx context.Context, st *state.Recovery) (deploy.Batch, error) {
	atomic.AddInt64(&c.runs, 1)
	if c.execute != nil {
		return c.execute(ctx, st)
	}
	return deploy.Batch{Step: c.Name()}, nil
}

func (c *countingStep) Runs() int {
	return int(atomic.LoadInt64(&c.runs))
}

// deployStep submits once and is a no-op when its outcome is recorded
func deployStep(name deploy.StepName, address string, handles ...confirm.Handle) *countingStep {
	return &countingStep{
		StepName: name,
		execute: func(_ context.Context, st *state.Recovery) (deploy.Batch, error) {
			if st.Done(string(name)) {
				return deploy.Batch{Step: string(name)}, nil
			}
			batch := deploy.Batch{Step: string(name)}
			for i, h := range handles {
				res := deploy.StepResult{
					Op:      string(name) + "-tx",
					Pending: &confirm.Pending{Op: string(name) + "-tx", Handle: h},
				}
				if i == 0 {
					res.Delta = state.Outcome{"address": address}
				}
				batch.Results = append(batch.Results, res)
			}
			if len(handles) == 0 {
				batch.Results = append(batch.Results, deploy.StepResult{
					Op:    string(name) + "-local",
					Delta: state.Outcome{"address": address},
				})
			}
			return batch, nil
		},
	}
}

func confirmAll() confirm.Source {
	return confirm.SourceFunc(func(_ context.Context, _ confirm.Handle) (confirm.Status, error) {
		return confirm.Status{Depth: 10}, nil
	})
}

func fastWaiter(source confirm.Source, timeout time.Duration) *confirm.Waiter {
	return confirm.NewWaiter(source, 2, timeout, confirm.PollWith(func() backoff.BackOff {
		return backoff.NewConstantBackOff(5 * time.Millisecond)
	}))
}

func TestDriver_ThreeStepScenario(t *testing.T) {
	// step 2 issues two transactions; both only confirm once each has
	// been observed in flight, so the awaits must run concurrently
	var barrier sync.WaitGroup
	barrier.Add(2)
	var onceA, onceB sync.Once
	source := confirm.SourceFunc(func(ctx context.Context, h confirm.Handle) (confirm.Status, error) {
		switch h {
		case "0xaaa":
			onceA.Do(barrier.Done)
		case "0xbbb":
			onceB.Do(barrier.Done)
		default:
			// only step 2's transactions take part in the barrier
			return confirm.Status{Depth: 5}, nil
		}
		released := make(chan struct{})
		go func() {
			barrier.Wait()
			close(released)
		}()
		select {
		case <-released:
			return confirm.Status{Depth: 5}, nil
		case <-ctx.Done():
			return confirm.Status{}, ctx.Err()
		}
	})

	store := &fakeStore{}
	step1 := deployStep("deploy-factory", "0xf1", "0x111")
	step2 := deployStep("deploy-router", "0xf2", "0xaaa", "0xbbb")
	step3 := &countingStep{
		StepName: "create-pool",
		execute: func(_ context.Context, st *state.Recovery) (deploy.Batch, error) {
			// both earlier steps must be confirmed and checkpointed by now
			require.True(t, st.Done("deploy-factory"))
			require.True(t, st.Done("deploy-router"))
			require.Equal(t, 2, store.persists())
			return deploy.Batch{
				Step:    "create-pool",
				Results: []deploy.StepResult{{Op: "create-pool-local", Delta: state.Outcome{"pool": "0xp00l"}}},
			}, nil
		},
	}

	driver := deploy.NewDriver(
		deploy.Steps(step1, step2, step3),
		store,
		fastWaiter(source, 2*time.Second),
	)

	require.Equal(t, deploy.StatusIdle, driver.Status())
	require.NoError(t, driver.Run(context.Background()))
	assert.Equal(t, deploy.StatusCompleted, driver.Status())

	assert.Equal(t, 1, step1.Runs())
	assert.Equal(t, 1, step2.Runs())
	assert.Equal(t, 1, step3.Runs())
	assert.Equal(t, 3, store.persists())

	final := driver.State()
	assert.Equal(t, 3, final.Len())
	addr, _ := final.Get("deploy-router", "address")
	assert.Equal(t, "0xf2", addr)

	batches := driver.Results().Batches()
	require.Len(t, batches, 3)
	assert.Equal(t, "deploy-factory", batches[0].Step)
	assert.Equal(t, "deploy-router", batches[1].Step)
	assert.Equal(t, "create-pool", batches[2].Step)
}

func TestDriver_ConfirmationTimeoutFailsTheStep(t *testing.T) {
	source := confirm.SourceFunc(func(_ context.Context, h confirm.Handle) (confirm.Status, error) {
		if h == "0xstuck" {
			return confirm.Status{Depth: 0}, nil
		}
		return confirm.Status{Depth: 10}, nil
	})

	store := &fakeStore{}
	step1 := deployStep("deploy-factory", "0xf1", "0x111")
	step2 := deployStep("deploy-router", "0xf2", "0xstuck")
	step3 := deployStep("create-pool", "0xp1")

	driver := deploy.NewDriver(
		deploy.Steps(step1, step2, step3),
		store,
		fastWaiter(source, 100*time.Millisecond),
	)

	err := driver.Run(context.Background())
	require.Error(t, err)
	assert.True(t, confirm.IsConfirmation(err))
	assert.Equal(t, deploy.StatusFailed, driver.Status())

	// step 2's partial effects never made it into the report or the state
	assert.Equal(t, 0, step3.Runs())
	assert.Equal(t, 1, store.persists())
	final := driver.State()
	assert.Equal(t, 1, final.Len())
	assert.True(t, final.Done("deploy-factory"))
	assert.False(t, final.Done("deploy-router"))

	batches := driver.Results().Batches()
	require.Len(t, batches, 1)
	assert.Equal(t, "deploy-factory", batches[0].Step)
}

func TestDriver_IdempotentResume(t *testing.T) {
	store := &fakeStore{}
	mkSeq := func() (deploy.Sequence, []*countingStep) {
		steps := []*countingStep{
			deployStep("deploy-factory", "0xf1", "0x111"),
			deployStep("deploy-router", "0xf2", "0x222"),
			deployStep("create-pool", "0xp1"),
		}
		return deploy.Steps(steps[0], steps[1], steps[2]), steps
	}

	seq, _ := mkSeq()
	first := deploy.NewDriver(seq, store, fastWaiter(confirmAll(), time.Second))
	require.NoError(t, first.Run(context.Background()))
	require.Equal(t, 3, first.State().Len())
	persistsAfterFirst := store.persists()

	// a second run over the recorded state finds only no-ops
	seq, steps := mkSeq()
	second := deploy.NewDriver(seq, store, fastWaiter(confirmAll(), time.Second))
	require.NoError(t, second.Run(context.Background()))
	assert.Equal(t, deploy.StatusCompleted, second.Status())

	for _, step := range steps {
		assert.Equal(t, 1, step.Runs())
	}
	for _, batch := range second.Results().Batches() {
		assert.Empty(t, batch.PendingOps(), "resumed steps must not re-submit")
	}
	assert.Equal(t, 3, second.State().Len())
	// the resumed run still checkpoints after every step
	assert.Equal(t, persistsAfterFirst+3, store.persists())
}

func TestDriver_StepExecutionFailureIsFatal(t *testing.T) {
	store := &fakeStore{}
	boom := &countingStep{
		StepName: "deploy-router",
		execute: func(_ context.Context, _ *state.Recovery) (deploy.Batch, error) {
			return deploy.Batch{}, assert.AnError
		},
	}
	after := deployStep("create-pool", "0xp1")

	driver := deploy.NewDriver(
		deploy.Steps(deployStep("deploy-factory", "0xf1"), boom, after),
		store,
		fastWaiter(confirmAll(), time.Second),
	)

	err := driver.Run(context.Background())
	require.Error(t, err)
	assert.True(t, deploy.IsStepFailure(err))
	assert.Equal(t, deploy.StatusFailed, driver.Status())
	assert.Equal(t, 0, after.Runs())
	assert.Equal(t, 1, driver.State().Len())
}

func TestDriver_PersistFailureIsFatal(t *testing.T) {
	store := &fakeStore{persistErr: &state.PersistenceError{Path: "deployments.json", Err: assert.AnError}}

	driver := deploy.NewDriver(
		deploy.Steps(deployStep("deploy-factory", "0xf1")),
		store,
		fastWaiter(confirmAll(), time.Second),
	)

	err := driver.Run(context.Background())
	require.Error(t, err)
	assert.True(t, state.IsPersistence(err))
	assert.Equal(t, deploy.StatusFailed, driver.Status())

	// the batch stays in the best-effort report, the durable state excludes it
	assert.Len(t, driver.Results().Batches(), 1)
	assert.Equal(t, 0, driver.State().Len())
}

func TestDriver_CorruptStateAbortsBeforeAnyStep(t *testing.T) {
	store := &fakeStore{loadErr: &state.CorruptStateError{Path: "deployments.json", Err: assert.AnError}}
	step := deployStep("deploy-factory", "0xf1")

	driver := deploy.NewDriver(deploy.Steps(step), store, fastWaiter(confirmAll(), time.Second))

	err := driver.Run(context.Background())
	require.Error(t, err)
	assert.True(t, state.IsCorrupt(err))
	assert.Equal(t, deploy.StatusFailed, driver.Status())
	assert.Equal(t, 0, step.Runs())
}

func TestDriver_MergeConflictIsAStepFailure(t *testing.T) {
	store := &fakeStore{}
	prior := state.New()
	require.NoError(t, prior.Merge("deploy-factory", state.Outcome{"address": "0xold"}))
	store.rec = prior

	contradicting := &countingStep{
		StepName: "deploy-factory",
		execute: func(_ context.Context, _ *state.Recovery) (deploy.Batch, error) {
			return deploy.Batch{
				Step:    "deploy-factory",
				Results: []deploy.StepResult{{Op: "deploy-factory-tx", Delta: state.Outcome{"address": "0xnew"}}},
			}, nil
		},
	}

	driver := deploy.NewDriver(deploy.Steps(contradicting), store, fastWaiter(confirmAll(), time.Second))

	err := driver.Run(context.Background())
	require.Error(t, err)
	assert.True(t, deploy.IsStepFailure(err))
	assert.Equal(t, 0, store.persists())
}

func TestDriver_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	driver := deploy.NewDriver(
		deploy.Steps(deployStep("deploy-factory", "0xf1")),
		&fakeStore{},
		fastWaiter(confirmAll(), time.Second),
	)

	err := driver.Run(ctx)
	require.Error(t, err)
	assert.True(t, deploy.IsCanceled(err))
	assert.Equal(t, deploy.StatusFailed, driver.Status())
}

func TestDriver_PublishesStepLifecycle(t *testing.T) {
	bus := eventbus.New(nil)
	defer bus.Close()

	var mu sync.Mutex
	seen := map[deploy.State]int{}
	bus.Subscribe(eventbus.Handler(func(evt eventbus.Event) error {
		if evt.Name != deploy.TopicLifecycle {
			return nil
		}
		if se, ok := evt.Args.(deploy.StepEvent); ok && se.Step == "deploy-factory" {
			mu.Lock()
			seen[se.State]++
			mu.Unlock()
		}
		return nil
	}))

	driver := deploy.NewDriver(
		deploy.Steps(deployStep("deploy-factory", "0xf1", "0x111")),
		&fakeStore{},
		fastWaiter(confirmAll(), time.Second),
		deploy.PublishTo(bus),
	)
	require.NoError(t, driver.Run(context.Background()))

	// delivery is asynchronous, each state shows up exactly once
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[deploy.StateWaiting] == 1 &&
			seen[deploy.StateProcessing] == 1 &&
			seen[deploy.StateConfirming] == 1 &&
			seen[deploy.StateCompleted] == 1
	}, time.Second, 10*time.Millisecond)
}

func TestDriver_RunIsOneShot(t *testing.T) {
	driver := deploy.NewDriver(
		deploy.Steps(),
		&fakeStore{},
		fastWaiter(confirmAll(), time.Second),
	)

	require.NoError(t, driver.Run(context.Background()))
	err := driver.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")
}
