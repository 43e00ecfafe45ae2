// Package runner wires the deployment packages together and implements
// the process exit contract: exit code 0 only when the run completed,
// non-zero otherwise, and the last known recovery state always emitted
// so the operator can decide whether to resume, inspect or roll back.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/crux-protocol/forkUniswapV3-EVM/confirm"
	"github.com/crux-protocol/forkUniswapV3-EVM/deploy"
	"github.com/crux-protocol/forkUniswapV3-EVM/eventbus"
	"github.com/crux-protocol/forkUniswapV3-EVM/state"
)

// Exit codes for the embedding binary to hand to os.Exit
const (
	ExitOK      = 0
	ExitFailure = 1
)

// Opt configures the runner
type Opt func(*runtime)

// WithLogger replaces the default logrus standard logger
func WithLogger(log logrus.FieldLogger) Opt {
	return func(r *runtime) { r.log = log }
}

type runtime struct {
	log logrus.FieldLogger
}

// Run executes the deployment sequence and returns the process exit
// code. The sequence and the confirmation source are the two external
// collaborators: the concrete steps with their contract byte-code, and
// the JSON-RPC client observing transactions.
//
// Whatever happens, the last known recovery state is written to out as
// JSON before returning, so a retry can be configured to resume from it.
func Run(ctx context.Context, cfg Config, seq deploy.Sequence, source confirm.Source, out io.Writer, opts ...Opt) int {
	r := &runtime{log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(r)
	}

	if err := cfg.Validate(); err != nil {
		r.log.WithError(err).Error("invalid configuration")
		r.emitLastKnown(cfg, out)
		return ExitFailure
	}

	bus := eventbus.New(r.log.WithField("component", "eventbus"))
	bus.Subscribe(progressHandler(r.log))

	results := deploy.NewResults()
	driver := deploy.NewDriver(
		seq,
		state.NewStore(cfg.StatePath),
		confirm.NewWaiter(source, cfg.ConfirmDepth, cfg.ConfirmTimeout),
		deploy.PublishTo(bus),
		deploy.CollectInto(results),
	)

	err := driver.Run(ctx)
	r.emitState(results.FinalState(), out)
	if cerr := bus.Close(); cerr != nil {
		r.log.WithError(cerr).Warn("failed to close event bus")
	}

	if err != nil {
		r.log.WithError(err).WithField("run", driver.ID()).Error("deployment failed, resume from the emitted state")
		return ExitFailure
	}
	r.log.WithField("run", driver.ID()).Info("deployment completed")
	return ExitOK
}

// emitLastKnown makes a best effort at showing previously recorded
// progress even when the run could not start
func (r *runtime) emitLastKnown(cfg Config, out io.Writer) {
	if cfg.StatePath == "" {
		r.emitState(state.New(), out)
		return
	}
	rec, err := state.NewStore(cfg.StatePath).Load()
	if err != nil {
		r.emitState(state.New(), out)
		return
	}
	r.emitState(rec, out)
}

func (r *runtime) emitState(rec *state.Recovery, out io.Writer) {
	buf, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		r.log.WithError(err).Error("failed to render the recovery state")
		return
	}
	fmt.Fprintln(out, string(buf))
}

func progressHandler(log logrus.FieldLogger) eventbus.EventHandler {
	return eventbus.Handler(func(evt eventbus.Event) error {
		switch args := evt.Args.(type) {
		case deploy.StepEvent:
			l := log.WithFields(logrus.Fields{
				"run":   args.Run,
				"step":  args.Step,
				"state": args.State.String(),
			})
			switch args.State {
			case deploy.StateFailed, deploy.StateCanceled:
				l.WithError(args.Reason).Error("step did not complete")
			case deploy.StateCompleted:
				l.Info("step checkpointed")
			default:
				l.Debug("step transition")
			}
		case confirm.Event:
			l := log.WithFields(logrus.Fields{
				"op":    args.Op,
				"tx":    args.Handle.String(),
				"depth": args.Depth,
				"phase": string(args.Phase),
			})
			if args.Phase == confirm.PhaseFailed {
				l.WithError(args.Reason).Warn("operation did not confirm")
			} else {
				l.Debug("confirmation progress")
			}
		case deploy.RunEvent:
			l := log.WithFields(logrus.Fields{"run": args.Run, "status": args.Status.String()})
			if args.Reason != nil {
				l.WithError(args.Reason).Error("run finished")
			} else {
				l.Info("run finished")
			}
		}
		return nil
	})
}
