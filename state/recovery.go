package state

import (
	"fmt"
	"time"

	"github.com/go-openapi/strfmt"
)

// Outcome holds what a completed deployment step produced: contract
// addresses, pool identifiers, initialization flags and the like.
type Outcome map[string]string

// Clone returns an independent copy of the outcome
func (o Outcome) Clone() Outcome {
	if o == nil {
		return nil
	}
	c := make(Outcome, len(o))
	for k, v := range o {
		c[k] = v
	}
	return c
}

// Recovery is the durable record of which deployment steps completed and
// what they produced. It is append-only: a recorded step is never
// contradicted, only re-read so that a restarted run can skip it.
//
// The driver is the only writer. Sequences get read access to decide
// whether a step still has work to do.
type Recovery struct {
	Steps     map[string]Outcome `json:"steps"`
	CreatedAt strfmt.DateTime    `json:"createdAt"`
	UpdatedAt strfmt.DateTime    `json:"updatedAt"`
}

// New creates an empty recovery state
func New() *Recovery {
	now := strfmt.DateTime(time.Now().UTC())
	return &Recovery{
		Steps:     make(map[string]Outcome),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Done returns true when the step already has a recorded outcome
func (r *Recovery) Done(stepID string) bool {
	_, ok := r.Steps[stepID]
	return ok
}

// Outcome returns the recorded outcome for a step
func (r *Recovery) Outcome(stepID string) (Outcome, bool) {
	o, ok := r.Steps[stepID]
	return o, ok
}

// Get returns a single recorded value for a step, eg a contract address
func (r *Recovery) Get(stepID, key string) (string, bool) {
	o, ok := r.Steps[stepID]
	if !ok {
		return "", false
	}
	v, ok := o[key]
	return v, ok
}

// Merge records the outcome of a step. Re-recording an identical value is
// a no-op, which is what a resumed run produces for already-applied steps.
// Recording a different value for an existing key is refused: the state is
// append-only and a contradiction means the sequence is not idempotent.
func (r *Recovery) Merge(stepID string, delta Outcome) error {
	if len(delta) == 0 {
		return nil
	}
	if r.Steps == nil {
		r.Steps = make(map[string]Outcome)
	}
	existing, ok := r.Steps[stepID]
	if !ok {
		existing = make(Outcome, len(delta))
		r.Steps[stepID] = existing
	}
	for k, v := range delta {
		if prev, seen := existing[k]; seen && prev != v {
			return fmt.Errorf("step %q: refusing to overwrite %s=%q with %q", stepID, k, prev, v)
		}
	}
	for k, v := range delta {
		existing[k] = v
	}
	r.UpdatedAt = strfmt.DateTime(time.Now().UTC())
	return nil
}

// Clone returns a deep copy, so reports can hold a snapshot while the
// driver keeps mutating its working state.
func (r *Recovery) Clone() *Recovery {
	if r == nil {
		return nil
	}
	c := &Recovery{
		Steps:     make(map[string]Outcome, len(r.Steps)),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	for id, o := range r.Steps {
		c.Steps[id] = o.Clone()
	}
	return c
}

// Len returns the number of recorded steps
func (r *Recovery) Len() int {
	return len(r.Steps)
}
