package reconciler

import (
	"github.com/pkg/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// StatusStage writes the resource status as the last request of a round.
type StatusStage[T client.Object] struct {
	// Apply returns a copy of cr carrying the new status.
	Apply func(cr T, st *State) (T, error)
}

var _ Stage[client.Object] = &StatusStage[client.Object]{}

func (s *StatusStage[T]) Begin(cr T, st *State) (Step, *Request, error) {
	updated, err := s.Apply(cr, st)
	if err != nil {
		return Step{}, nil, err
	}
	return Step{Phase: PhaseAfterUpdateStatus}, &Request{Kube: &KubeRequest{
		Verb:   VerbUpdateStatus,
		Key:    client.ObjectKeyFromObject(cr),
		Object: updated,
	}}, nil
}

func (s *StatusStage[T]) Resume(_ T, _ *State, resp *Response) (Step, *Request, bool, error) {
	if resp.Kube.Err != nil {
		return Step{}, nil, false, errors.Wrap(resp.Kube.Err, "updating status")
	}
	return Step{}, nil, true, nil
}
