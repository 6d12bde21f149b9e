// Package reconciler implements the per-resource reconcile state machine shared by the
// operators. A round walks a fixed pipeline of stages, issuing at most one request at a
// time and consuming exactly the matching response.
package reconciler

import (
	"github.com/pkg/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Threaded is data carried from one step of a round to later ones.
type Threaded struct {
	// LatestConfigMapRV is the resource version of the configuration object the pods
	// consume, observed on its last successful read or write in this round.
	LatestConfigMapRV *string
	// ReadyReplicas is the status payload picked up from the workload.
	ReadyReplicas *int32
}

// State is the whole state of one round.
type State struct {
	Step     Step
	Threaded Threaded
	Pending  *Request
	// Err is set once the round is in the Error phase.
	Err error
}

// Stage is one element of a pipeline.
type Stage[T client.Object] interface {
	// Begin returns the first step of the stage and the request it waits on.
	// It may write threaded data into st.
	Begin(cr T, st *State) (Step, *Request, error)
	// Resume consumes the response to the stage's pending request. It returns the next
	// step and request, or done when the stage is finished.
	Resume(cr T, st *State, resp *Response) (step Step, req *Request, done bool, err error)
}

// Machine runs one pipeline. It holds no per-round data and is safe for concurrent use.
type Machine[T client.Object] struct {
	Stages []Stage[T]
	IDs    *IDAllocator
}

func NewMachine[T client.Object](stages ...Stage[T]) *Machine[T] {
	return &Machine[T]{Stages: stages, IDs: ProcessIDs}
}

func (m *Machine[T]) Init(T) State {
	return State{Step: Step{Phase: PhaseInit}}
}

// Step consumes resp, which must answer st.Pending, and returns the next state and the
// request to issue. The request is nil exactly when the new state is Done or Error.
func (m *Machine[T]) Step(cr T, resp *Response, st State) (State, *Request) {
	switch st.Step.Phase {
	case PhaseDone, PhaseError:
		return st, nil
	case PhaseInit:
		if resp != nil {
			return fail(st, errors.Wrap(ErrResponseMismatch, "unexpected response before the first request"))
		}
		return m.begin(cr, st, 0)
	}

	if !st.Pending.answers(resp) {
		return fail(st, errors.Wrapf(ErrResponseMismatch, "waiting on %s at %s", st.Pending, st.Step))
	}
	index := st.Step.stage
	if index < 0 || index >= len(m.Stages) {
		return fail(st, errors.Errorf("step %s belongs to no stage", st.Step))
	}
	next, req, done, err := m.Stages[index].Resume(cr, &st, resp)
	if err != nil {
		return fail(st, errors.Wrapf(err, "at %s", st.Step))
	}
	if done {
		return m.begin(cr, st, index+1)
	}
	return m.issue(st, index, next, req)
}

func (m *Machine[T]) begin(cr T, st State, index int) (State, *Request) {
	if index >= len(m.Stages) {
		st.Step = Step{Phase: PhaseDone}
		st.Pending = nil
		return st, nil
	}
	next, req, err := m.Stages[index].Begin(cr, &st)
	if err != nil {
		return fail(st, errors.Wrapf(err, "starting stage %d", index))
	}
	return m.issue(st, index, next, req)
}

func (m *Machine[T]) issue(st State, index int, next Step, req *Request) (State, *Request) {
	if req == nil || (req.Kube == nil) == (req.ZK == nil) {
		return fail(st, errors.Errorf("stage %d produced no well-formed request for %s", index, next))
	}
	next.stage = index
	req.ID = m.IDs.Next()
	st.Step = next
	st.Pending = req
	return st, req
}

func fail(st State, err error) (State, *Request) {
	st.Step = Step{Phase: PhaseError}
	st.Pending = nil
	st.Err = err
	return st, nil
}

// Done reports whether the round finished successfully.
func Done(st State) bool {
	return st.Step.Phase == PhaseDone
}

// Error reports whether the round failed.
func Error(st State) bool {
	return st.Step.Phase == PhaseError
}
