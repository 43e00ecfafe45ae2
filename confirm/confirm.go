// Package confirm waits for submitted transactions to become durable.
//
// A deployment step hands back pending operations, each identified by a
// transaction hash. The waiter polls the confirmation source for every
// operation in the batch concurrently until each one reaches the required
// confirmation depth, is rejected by the network, or runs out of time.
package confirm

import "context"

// Handle identifies a submitted operation on the network, ie a tx hash
type Handle string

func (h Handle) String() string { return string(h) }

// Pending is an operation awaiting durability confirmation
type Pending struct {
	// Op labels the logical sub-operation that issued the transaction
	Op string
	// Handle is the transaction hash to observe
	Handle Handle
}

// Status as reported by the confirmation source for one operation
type Status struct {
	// Depth is the number of checkpoints sealed on top of the operation
	Depth uint64
	// Rejected is terminal, the operation will never confirm
	Rejected bool
}

// Source reports the current confirmation status of an operation.
// The JSON-RPC client adapter of the embedding application implements
// this. Errors are treated as transient and polled through.
type Source interface {
	Status(ctx context.Context, h Handle) (Status, error)
}

// SourceFunc adapts a function to the Source interface
type SourceFunc func(ctx context.Context, h Handle) (Status, error)

// Status calls the wrapped function
func (f SourceFunc) Status(ctx context.Context, h Handle) (Status, error) {
	return f(ctx, h)
}

// TopicConfirmation is the event topic for confirmation progress
const TopicConfirmation = "confirmation"

// Phase of an operation's confirmation wait
type Phase string

const (
	// PhaseWaiting is published when the watch for an operation starts
	PhaseWaiting Phase = "waiting"
	// PhaseConfirmed is published when the operation reached the required depth
	PhaseConfirmed Phase = "confirmed"
	// PhaseFailed is published when the operation was rejected or timed out
	PhaseFailed Phase = "failed"
)

// Event is published on the run's event bus as operations progress
type Event struct {
	Op     string
	Handle Handle
	Depth  uint64
	Phase  Phase
	Reason error
}
